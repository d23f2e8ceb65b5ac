// Package eventlog holds the normalized Windows event record and the
// parser that produces it from the raw event XML envelope.
package eventlog

import (
	"strconv"
	"strings"
	"time"
)

// Level is the normalized event severity. Windows reports severity as a
// small integer in the System subtree; anything outside the documented
// range maps to LevelUnknown rather than being dropped.
type Level string

const (
	LevelCritical    Level = "Critical"
	LevelError       Level = "Error"
	LevelWarning     Level = "Warning"
	LevelInformation Level = "Information"
	LevelVerbose     Level = "Verbose"
	LevelUnknown     Level = "Unknown"
)

// Levels lists every valid severity, in decreasing order of urgency.
func Levels() []Level {
	return []Level{LevelCritical, LevelError, LevelWarning, LevelInformation, LevelVerbose, LevelUnknown}
}

// LevelFromWinCode maps the numeric severity in the event envelope to a
// Level: 1=Critical, 2=Error, 3=Warning, 4=Information, 5=Verbose.
func LevelFromWinCode(code int) Level {
	switch code {
	case 1:
		return LevelCritical
	case 2:
		return LevelError
	case 3:
		return LevelWarning
	case 4:
		return LevelInformation
	case 5:
		return LevelVerbose
	default:
		return LevelUnknown
	}
}

// ParseLevel normalizes a severity name (case-insensitive) into a Level.
// The second return is false when the name is not a known severity.
func ParseLevel(s string) (Level, bool) {
	for _, l := range Levels() {
		if strings.EqualFold(string(l), s) {
			return l, true
		}
	}
	return LevelUnknown, false
}

// LogEntry is one normalized Windows event. Timestamp is always UTC.
type LogEntry struct {
	Timestamp time.Time
	EventID   int
	Level     Level
	Source    string
	Message   string
	Computer  string
	LogName   string
	User      string
	RawXML    string
}

func (e LogEntry) String() string {
	return e.Timestamp.Format(time.RFC3339) + " " + e.Computer + " [" + string(e.Level) + "] event " + strconv.Itoa(e.EventID)
}
