package eventlog

import (
	"context"
	"encoding/xml"
	"log/slog"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// Separator emitted between events by the collection script on the
// remote side.
const Separator = "---EVENT_SEPARATOR---"

const (
	// minFragmentLen is the shortest trimmed fragment worth decoding;
	// anything shorter cannot be a complete Event element.
	minFragmentLen = 50

	maxMessageRunes = 1000
	maxRawXMLBytes  = 5000
)

// winEvent mirrors the subset of the Windows event envelope
// (xmlns http://schemas.microsoft.com/win/2004/08/events/event) that we
// normalize. Required children are decoded as strings so that a missing
// element can be told apart from a zero value.
type winEvent struct {
	XMLName xml.Name `xml:"Event"`
	System  struct {
		Provider struct {
			Name string `xml:"Name,attr"`
		} `xml:"Provider"`
		EventID     string `xml:"EventID"`
		Level       string `xml:"Level"`
		TimeCreated struct {
			SystemTime string `xml:"SystemTime,attr"`
		} `xml:"TimeCreated"`
		Computer string `xml:"Computer"`
		Security struct {
			UserID string `xml:"UserID,attr"`
		} `xml:"Security"`
	} `xml:"System"`
	EventData struct {
		Data []struct {
			Name  string `xml:"Name,attr"`
			Value string `xml:",chardata"`
		} `xml:"Data"`
	} `xml:"EventData"`
}

// ParseStats reports what happened to the fragments of one payload.
type ParseStats struct {
	Events      int // entries emitted
	Skipped     int // fragments dropped before decoding (too short) or missing required fields
	ParseErrors int // fragments the XML decoder rejected
}

// Parse decodes a payload of zero or more sentinel-separated Windows
// event XML documents into normalized entries. Per-fragment failures are
// counted and logged, never returned: a payload that yields zero entries
// is legal. Entries carry no Computer or LogName; the collector tags
// them with the host and channel it pulled from.
func Parse(slogger *slog.Logger, payload []byte) ([]LogEntry, ParseStats) {
	var stats ParseStats

	entries := make([]LogEntry, 0)
	seen := make(map[string]struct{})

	for _, fragment := range strings.Split(string(payload), Separator) {
		fragment = strings.TrimSpace(Sanitize(fragment))
		if len(fragment) < minFragmentLen {
			stats.Skipped += 1
			continue
		}

		var ev winEvent
		if err := xml.Unmarshal([]byte(fragment), &ev); err != nil {
			stats.ParseErrors += 1
			slogger.Log(context.TODO(), slog.LevelDebug,
				"discarding fragment the xml decoder rejected",
				"err", err,
			)
			continue
		}

		entry, ok := normalize(ev, fragment)
		if !ok {
			stats.Skipped += 1
			slogger.Log(context.TODO(), slog.LevelDebug,
				"discarding fragment missing required system fields",
			)
			continue
		}

		// Get-WinEvent can emit the same record twice when a query
		// straddles a log rollover; one payload must not produce
		// duplicate entries.
		key := entry.Timestamp.Format(time.RFC3339Nano) + "|" + strconv.Itoa(entry.EventID) + "|" + entry.Source + "|" + entry.Message
		if _, dup := seen[key]; dup {
			stats.Skipped += 1
			continue
		}
		seen[key] = struct{}{}

		entries = append(entries, entry)
		stats.Events += 1
	}

	return entries, stats
}

// normalize turns a decoded envelope into a LogEntry. The envelope must
// carry EventID, Level, and TimeCreated/@SystemTime; anything else is
// optional.
func normalize(ev winEvent, fragment string) (LogEntry, bool) {
	idStr := strings.TrimSpace(ev.System.EventID)
	levelStr := strings.TrimSpace(ev.System.Level)
	timeStr := strings.TrimSpace(ev.System.TimeCreated.SystemTime)
	if idStr == "" || levelStr == "" || timeStr == "" {
		return LogEntry{}, false
	}

	eventID, err := strconv.Atoi(idStr)
	if err != nil || eventID < 0 {
		return LogEntry{}, false
	}

	ts, err := parseSystemTime(timeStr)
	if err != nil {
		return LogEntry{}, false
	}

	level := LevelUnknown
	if code, err := strconv.Atoi(levelStr); err == nil {
		level = LevelFromWinCode(code)
	}

	source := ev.System.Provider.Name
	if source == "" {
		source = "Unknown"
	}

	parts := make([]string, 0, len(ev.EventData.Data))
	for _, d := range ev.EventData.Data {
		if text := strings.TrimSpace(d.Value); text != "" {
			parts = append(parts, text)
		}
	}
	message := "No message"
	if len(parts) > 0 {
		message = strings.Join(parts, " | ")
	}

	return LogEntry{
		Timestamp: ts,
		EventID:   eventID,
		Level:     level,
		Source:    source,
		Message:   truncateRunes(message, maxMessageRunes),
		User:      ev.System.Security.UserID,
		RawXML:    truncateBytes(fragment, maxRawXMLBytes),
	}, true
}

// parseSystemTime parses TimeCreated/@SystemTime. A zone suffix (Z or a
// numeric offset) is required; the result is always UTC.
func parseSystemTime(s string) (time.Time, error) {
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return ts.UTC(), nil
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// truncateBytes caps s at n bytes without splitting a multi-byte rune.
func truncateBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[:n]
	for len(s) > 0 && !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}
