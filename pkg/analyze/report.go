package analyze

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	"github.com/sentinelsh/sentinel/pkg/eventlog"
)

// criticalEventIDs are the security events the report always surfaces.
var criticalEventIDs = []int{4625, 4624, 4648, 4720, 4732, 4672}

// Report is the data behind a security posture report, renderable as
// markdown, HTML, or JSON.
type Report struct {
	GeneratedAt time.Time      `json:"generated_at"`
	Period      string         `json:"period"`
	StartTime   time.Time      `json:"start_time"`
	Critical    []EventSummary `json:"critical_events"`
	FailedLogin []HostCount    `json:"failed_logins"`
	Errors      []ErrorSummary `json:"errors"`
	Hosts       []HostSummary  `json:"host_summary"`
}

type EventSummary struct {
	EventID  int    `json:"event_id"`
	Computer string `json:"computer"`
	Count    int    `json:"count"`
}

// HostCount is one host's failed-login tally, enriched with the
// account and source address extracted from the most recent event.
type HostCount struct {
	Computer string `json:"computer"`
	Count    int    `json:"count"`
	Account  string `json:"last_account,omitempty"`
	SourceIP string `json:"last_source_ip,omitempty"`
}

type ErrorSummary struct {
	Computer string `json:"computer"`
	LogName  string `json:"log_name"`
	Count    int    `json:"count"`
}

type HostSummary struct {
	Computer    string `json:"computer"`
	TotalEvents int    `json:"total_events"`
	Critical    int    `json:"critical"`
	Errors      int    `json:"errors"`
	Warnings    int    `json:"warnings"`
}

// GenerateReport gathers report data for the given period.
func (a *Analyzer) GenerateReport(ctx context.Context, period string) (*Report, error) {
	hours, err := ParseTimeRange(period)
	if err != nil {
		return nil, err
	}

	now := a.now().UTC()
	start := now.Add(-time.Duration(hours) * time.Hour)

	report := &Report{
		GeneratedAt: now,
		Period:      period,
		StartTime:   start,
	}

	idArgs := make([]any, 0, len(criticalEventIDs)+1)
	idArgs = append(idArgs, start)
	marks := make([]string, len(criticalEventIDs))
	for i, id := range criticalEventIDs {
		marks[i] = "?"
		idArgs = append(idArgs, id)
	}

	res, err := a.store.Query(ctx,
		`SELECT event_id, computer, count(*) FROM logs WHERE timestamp >= ? AND event_id IN (`+strings.Join(marks, ",")+`) GROUP BY event_id, computer ORDER BY count(*) DESC`,
		idArgs...,
	)
	if err != nil {
		return nil, fmt.Errorf("querying critical events: %w", err)
	}
	for _, row := range res.Rows {
		report.Critical = append(report.Critical, EventSummary{
			EventID:  atoi(row[0]),
			Computer: row[1],
			Count:    atoi(row[2]),
		})
	}

	res, err = a.store.Query(ctx,
		`SELECT computer, count(*), arg_max(message, timestamp) FROM logs WHERE timestamp >= ? AND event_id = 4625 GROUP BY computer ORDER BY count(*) DESC`,
		start,
	)
	if err != nil {
		return nil, fmt.Errorf("querying failed logins: %w", err)
	}
	for _, row := range res.Rows {
		fields := eventlog.ParseEventMessage(row[2])
		report.FailedLogin = append(report.FailedLogin, HostCount{
			Computer: row[0],
			Count:    atoi(row[1]),
			Account:  fields["account"],
			SourceIP: fields["source_ip"],
		})
	}

	res, err = a.store.Query(ctx,
		`SELECT computer, log_name, count(*) FROM logs WHERE timestamp >= ? AND level IN ('Critical', 'Error') GROUP BY computer, log_name ORDER BY count(*) DESC LIMIT 20`,
		start,
	)
	if err != nil {
		return nil, fmt.Errorf("querying error summary: %w", err)
	}
	for _, row := range res.Rows {
		report.Errors = append(report.Errors, ErrorSummary{Computer: row[0], LogName: row[1], Count: atoi(row[2])})
	}

	res, err = a.store.Query(ctx,
		`SELECT computer,
			count(*),
			sum(CASE WHEN level = 'Critical' THEN 1 ELSE 0 END),
			sum(CASE WHEN level = 'Error' THEN 1 ELSE 0 END),
			sum(CASE WHEN level = 'Warning' THEN 1 ELSE 0 END)
		FROM logs WHERE timestamp >= ?
		GROUP BY computer
		ORDER BY 3 DESC, 4 DESC`,
		start,
	)
	if err != nil {
		return nil, fmt.Errorf("querying host summary: %w", err)
	}
	for _, row := range res.Rows {
		report.Hosts = append(report.Hosts, HostSummary{
			Computer:    row[0],
			TotalEvents: atoi(row[1]),
			Critical:    atoi(row[2]),
			Errors:      atoi(row[3]),
			Warnings:    atoi(row[4]),
		})
	}

	return report, nil
}

// RenderMarkdown formats the report for terminal reading and ticketing
// systems.
func (r *Report) RenderMarkdown() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "# Headless Sentinel Security Report\n\n")
	fmt.Fprintf(&sb, "**Generated:** %s  \n", r.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(&sb, "**Period:** %s  \n", r.Period)
	fmt.Fprintf(&sb, "**Start Time:** %s\n\n", r.StartTime.Format(time.RFC3339))
	sb.WriteString("---\n\n")
	sb.WriteString("## Executive Summary\n\n")
	sb.WriteString("This report provides an overview of security events and system health across monitored Windows hosts.\n\n")

	sb.WriteString("## Critical Security Events\n\n")
	if len(r.Critical) > 0 {
		sb.WriteString("| Event ID | Computer | Count | Description |\n")
		sb.WriteString("|----------|----------|-------|-------------|\n")
		for _, e := range r.Critical {
			fmt.Fprintf(&sb, "| %d | %s | %d | %s |\n", e.EventID, e.Computer, e.Count, eventlog.EventDescription(e.EventID))
		}
	} else {
		sb.WriteString("*No critical security events detected.*\n")
	}

	sb.WriteString("\n## Failed Login Attempts\n\n")
	if len(r.FailedLogin) > 0 {
		sb.WriteString("| Computer | Failed Attempts | Last Account | Last Source |\n")
		sb.WriteString("|----------|----------------|--------------|-------------|\n")
		for _, f := range r.FailedLogin {
			fmt.Fprintf(&sb, "| %s | %d | %s | %s |\n", f.Computer, f.Count, orDash(f.Account), orDash(f.SourceIP))
		}
	} else {
		sb.WriteString("*No failed login attempts detected.*\n")
	}

	sb.WriteString("\n## Error Summary\n\n")
	if len(r.Errors) > 0 {
		sb.WriteString("| Computer | Log Name | Error Count |\n")
		sb.WriteString("|----------|----------|-------------|\n")
		errors := r.Errors
		if len(errors) > 10 {
			errors = errors[:10]
		}
		for _, e := range errors {
			fmt.Fprintf(&sb, "| %s | %s | %d |\n", e.Computer, e.LogName, e.Count)
		}
	} else {
		sb.WriteString("*No critical errors detected.*\n")
	}

	sb.WriteString("\n## Host Summary\n\n")
	if len(r.Hosts) > 0 {
		sb.WriteString("| Computer | Total Events | Critical | Errors | Warnings |\n")
		sb.WriteString("|----------|--------------|----------|--------|----------|\n")
		for _, h := range r.Hosts {
			fmt.Fprintf(&sb, "| %s | %d | %d | %d | %d |\n", h.Computer, h.TotalEvents, h.Critical, h.Errors, h.Warnings)
		}
	}

	sb.WriteString("\n---\n\n*Report generated by Headless Sentinel*\n")
	return sb.String()
}

// RenderHTML formats the report as a standalone page.
func (r *Report) RenderHTML() string {
	var sb strings.Builder

	sb.WriteString(`<!DOCTYPE html>
<html>
<head>
    <title>Headless Sentinel Security Report</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 40px; }
        h1 { color: #333; }
        table { border-collapse: collapse; width: 100%; margin: 20px 0; }
        th, td { border: 1px solid #ddd; padding: 12px; text-align: left; }
        th { background-color: #4CAF50; color: white; }
        tr:nth-child(even) { background-color: #f2f2f2; }
        .critical { color: red; font-weight: bold; }
        .warning { color: orange; }
    </style>
</head>
<body>
    <h1>Headless Sentinel Security Report</h1>
`)
	fmt.Fprintf(&sb, "    <p><strong>Generated:</strong> %s</p>\n", r.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(&sb, "    <p><strong>Period:</strong> %s</p>\n\n", html.EscapeString(r.Period))

	sb.WriteString("    <h2>Critical Security Events</h2>\n    <table>\n        <tr><th>Event ID</th><th>Computer</th><th>Count</th></tr>\n")
	for _, e := range r.Critical {
		fmt.Fprintf(&sb, "<tr><td>%d</td><td>%s</td><td>%d</td></tr>\n", e.EventID, html.EscapeString(e.Computer), e.Count)
	}
	sb.WriteString("    </table>\n\n")

	sb.WriteString("    <h2>Failed Login Attempts</h2>\n    <table>\n        <tr><th>Computer</th><th>Count</th><th>Last Account</th><th>Last Source</th></tr>\n")
	for _, f := range r.FailedLogin {
		fmt.Fprintf(&sb, "<tr><td>%s</td><td class='warning'>%d</td><td>%s</td><td>%s</td></tr>\n",
			html.EscapeString(f.Computer), f.Count, html.EscapeString(orDash(f.Account)), html.EscapeString(orDash(f.SourceIP)))
	}
	sb.WriteString("    </table>\n</body>\n</html>\n")

	return sb.String()
}

// RenderJSON formats the report for machine consumption.
func (r *Report) RenderJSON() (string, error) {
	out, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding report: %w", err)
	}
	return string(out), nil
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
