// Package ical renders a session as an iCalendar document. Pure formatting,
// no shared state.
package ical

import (
	"fmt"
	"strings"
	"time"
)

// Event holds the fields exported to the calendar document.
type Event struct {
	ID          string
	Game        string
	Date        time.Time
	StartTime   string // "15:04", local to the session
	EndTime     string
	Description string
	Location    string
}

const dateLayout = "20060102T150405"

// Render produces an RFC 5545 VCALENDAR with a single VEVENT. Times without
// a parseable start/end fall back to an all-day event.
func Render(e Event) string {
	var b strings.Builder
	b.WriteString("BEGIN:VCALENDAR\r\n")
	b.WriteString("VERSION:2.0\r\n")
	b.WriteString("PRODID:-//QuestTable//Session Calendar//EN\r\n")
	b.WriteString("BEGIN:VEVENT\r\n")
	fmt.Fprintf(&b, "UID:%s@questtable.app\r\n", e.ID)
	fmt.Fprintf(&b, "DTSTAMP:%s\r\n", time.Now().UTC().Format(dateLayout)+"Z")

	start, startErr := combine(e.Date, e.StartTime)
	end, endErr := combine(e.Date, e.EndTime)
	if startErr == nil && endErr == nil {
		fmt.Fprintf(&b, "DTSTART:%s\r\n", start.Format(dateLayout))
		fmt.Fprintf(&b, "DTEND:%s\r\n", end.Format(dateLayout))
	} else {
		fmt.Fprintf(&b, "DTSTART;VALUE=DATE:%s\r\n", e.Date.Format("20060102"))
	}

	fmt.Fprintf(&b, "SUMMARY:%s\r\n", escape(e.Game))
	if e.Description != "" {
		fmt.Fprintf(&b, "DESCRIPTION:%s\r\n", escape(e.Description))
	}
	if e.Location != "" {
		fmt.Fprintf(&b, "LOCATION:%s\r\n", escape(e.Location))
	}
	b.WriteString("END:VEVENT\r\n")
	b.WriteString("END:VCALENDAR\r\n")
	return b.String()
}

func combine(date time.Time, clock string) (time.Time, error) {
	t, err := time.Parse("15:04", clock)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(date.Year(), date.Month(), date.Day(), t.Hour(), t.Minute(), 0, 0, date.Location()), nil
}

// escape applies RFC 5545 text escaping
func escape(s string) string {
	r := strings.NewReplacer(
		"\\", "\\\\",
		";", "\\;",
		",", "\\,",
		"\n", "\\n",
	)
	return r.Replace(s)
}
