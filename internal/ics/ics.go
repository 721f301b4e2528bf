// Package ics renders confirmed call schedules as iCalendar (RFC 5545)
// documents so leads can drop the slot straight into their calendar app.
package ics

import (
	"fmt"
	"strings"
	"time"

	"github.com/cenatlabs/go-sdr-whatsapp/internal/domain"
)

const (
	prodID = "-//CENAT//go-sdr-whatsapp//PT-BR"

	// dateTimeUTC is the RFC 5545 UTC date-time form.
	dateTimeUTC = "20060102T150405Z"
)

// Render produces a single-event VCALENDAR for the schedule. The schedule's
// ID doubles as the event UID, so re-downloading the same schedule updates
// rather than duplicates the event. Times are emitted in UTC form; calendar
// clients localize on display.
func Render(s *domain.Schedule) string {
	var b strings.Builder

	summary := "Ligação CENAT"
	if s.Contact.Course != "" {
		summary = fmt.Sprintf("Ligação CENAT: pós em %s", s.Contact.Course)
	}

	description := fmt.Sprintf(
		"Ligação do processo seletivo do CENAT (%d min) com a consultora. Contato: whatsapp:%s",
		s.DurationMin, s.ContactPhone,
	)

	writeLine(&b, "BEGIN:VCALENDAR")
	writeLine(&b, "VERSION:2.0")
	writeLine(&b, "PRODID:"+prodID)
	writeLine(&b, "CALSCALE:GREGORIAN")
	writeLine(&b, "METHOD:PUBLISH")
	writeLine(&b, "BEGIN:VEVENT")
	writeLine(&b, "UID:"+s.ID)
	writeLine(&b, "DTSTAMP:"+s.CreatedAt.UTC().Format(dateTimeUTC))
	writeLine(&b, "DTSTART:"+s.StartsAt.UTC().Format(dateTimeUTC))
	writeLine(&b, fmt.Sprintf("DURATION:PT%dM", s.DurationMin))
	writeLine(&b, "SUMMARY:"+escapeText(summary))
	writeLine(&b, "DESCRIPTION:"+escapeText(description))
	if s.Contact.Email != "" {
		attendee := "ATTENDEE;ROLE=REQ-PARTICIPANT"
		if s.Contact.Name != "" {
			attendee += ";CN=" + escapeText(s.Contact.Name)
		}
		attendee += ":mailto:" + s.Contact.Email
		writeLine(&b, attendee)
	}
	writeLine(&b, "STATUS:CONFIRMED")
	writeLine(&b, "END:VEVENT")
	writeLine(&b, "END:VCALENDAR")

	return b.String()
}

// Filename suggests a download name for the rendered calendar.
func Filename(s *domain.Schedule) string {
	return fmt.Sprintf("cenat-ligacao-%s.ics", s.StartsAt.UTC().Format("20060102-1504"))
}

// writeLine appends one content line with the CRLF terminator the format
// requires, folding lines longer than 75 octets.
func writeLine(b *strings.Builder, line string) {
	const limit = 75
	raw := []byte(line)
	first := true
	for len(raw) > 0 {
		n := limit
		if !first {
			b.WriteString(" ")
			n = limit - 1
		}
		if n > len(raw) {
			n = len(raw)
		}
		// never split inside a UTF-8 sequence
		for n < len(raw) && n > 1 && raw[n]&0xC0 == 0x80 {
			n--
		}
		b.Write(raw[:n])
		b.WriteString("\r\n")
		raw = raw[n:]
		first = false
	}
}

// escapeText escapes the characters RFC 5545 reserves in TEXT values.
func escapeText(s string) string {
	r := strings.NewReplacer(
		`\`, `\\`,
		";", `\;`,
		",", `\,`,
		"\n", `\n`,
	)
	return r.Replace(s)
}

// ParseLocal interprets a wall-clock date and time in the given IANA zone
// and returns the instant in UTC. Used when turning a confirmed slot into
// a stored schedule.
func ParseLocal(date, hour, tz string) (time.Time, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.Time{}, fmt.Errorf("ics: load timezone %q: %w", tz, err)
	}
	t, err := time.ParseInLocation("2006-01-02 15:04", date+" "+hour, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("ics: parse slot %q %q: %w", date, hour, err)
	}
	return t.UTC(), nil
}
