package eventlog

import (
	"fmt"
	"regexp"
	"strings"
)

// eventDescriptions covers the well-known Security, System, and
// Application event ids that show up in reports.
var eventDescriptions = map[int]string{
	4624: "An account was successfully logged on",
	4625: "An account failed to log on",
	4634: "An account was logged off",
	4648: "A logon was attempted using explicit credentials",
	4672: "Special privileges assigned to new logon",
	4673: "A privileged service was called",
	4688: "A new process has been created",
	4689: "A process has exited",
	4720: "A user account was created",
	4722: "A user account was enabled",
	4723: "An attempt was made to change an account's password",
	4724: "An attempt was made to reset an account's password",
	4725: "A user account was disabled",
	4726: "A user account was deleted",
	4732: "A member was added to a security-enabled local group",
	4733: "A member was removed from a security-enabled local group",
	4740: "A user account was locked out",
	4767: "A user account was unlocked",
	4768: "A Kerberos authentication ticket (TGT) was requested",
	4769: "A Kerberos service ticket was requested",
	4771: "Kerberos pre-authentication failed",
	4776: "The domain controller attempted to validate credentials",

	1074: "System has been shutdown by a process/user",
	6005: "The Event log service was started",
	6006: "The Event log service was stopped",
	6008: "The previous system shutdown was unexpected",

	1000: "Application Error",
	1001: "Application Hang",
	1002: "Application crashed",
}

// EventDescription returns a human-readable description for well-known
// Windows event ids, and a generic one otherwise.
func EventDescription(eventID int) string {
	if desc, ok := eventDescriptions[eventID]; ok {
		return desc
	}
	return fmt.Sprintf("Event ID %d", eventID)
}

var messagePatterns = map[string]*regexp.Regexp{
	"account":     regexp.MustCompile(`(?i)Account Name:\s*(.+)`),
	"domain":      regexp.MustCompile(`(?i)Account Domain:\s*(.+)`),
	"logon_type":  regexp.MustCompile(`(?i)Logon Type:\s*(\d+)`),
	"source_ip":   regexp.MustCompile(`(?i)Source Network Address:\s*(\S+)`),
	"process":     regexp.MustCompile(`(?i)Process Name:\s*(.+)`),
	"workstation": regexp.MustCompile(`(?i)Workstation Name:\s*(.+)`),
}

// ParseEventMessage pulls the common key/value fields out of a rendered
// Windows event message body.
func ParseEventMessage(message string) map[string]string {
	extracted := make(map[string]string)
	for key, pattern := range messagePatterns {
		if m := pattern.FindStringSubmatch(message); m != nil {
			extracted[key] = strings.TrimSpace(m[1])
		}
	}
	return extracted
}
