package services

import (
	"strconv"
	"strings"
)

const (
	markerSchedule = "#AGENDAR"
	markerHuman    = "#HUMANO"

	defaultDurationMin = 20
	defaultMinGapMin   = 5
)

// ScheduleMarker is the parsed form of a confirmation line the model emits
// when the lead commits to a call slot:
//
//	#AGENDAR|data=YYYY-MM-DD|hora=HH:MM|duracao=20|min_gap=5|lead=...|curso=...|contato=whatsapp:...|email=...
type ScheduleMarker struct {
	Date        string // YYYY-MM-DD
	Hour        string // HH:MM
	DurationMin int
	MinGapMin   int
	Lead        string
	Course      string
	Contact     string // bare phone, "whatsapp:" prefix stripped
	Email       string
}

// extractMarkers strips control markers out of a model reply. It returns the
// visible text with marker lines removed, the parsed schedule marker if one
// was present and well formed, and whether a human handoff was requested.
func extractMarkers(text string) (visible string, sched *ScheduleMarker, human bool) {
	var kept []string
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)

		if strings.Contains(trimmed, markerHuman) {
			human = true
			trimmed = strings.TrimSpace(strings.ReplaceAll(trimmed, markerHuman, ""))
			if trimmed != "" {
				kept = append(kept, trimmed)
			}
			continue
		}

		if idx := strings.Index(trimmed, markerSchedule+"|"); idx >= 0 {
			if m := parseScheduleMarker(trimmed[idx:]); m != nil {
				sched = m
			}
			if before := strings.TrimSpace(trimmed[:idx]); before != "" {
				kept = append(kept, before)
			}
			continue
		}

		if trimmed != "" {
			kept = append(kept, trimmed)
		}
	}
	return strings.Join(kept, "\n"), sched, human
}

// parseScheduleMarker decodes one marker line. Returns nil when the required
// date and hour fields are missing; unrecognized fields are ignored.
func parseScheduleMarker(line string) *ScheduleMarker {
	m := &ScheduleMarker{
		DurationMin: defaultDurationMin,
		MinGapMin:   defaultMinGapMin,
	}
	for _, field := range strings.Split(line, "|")[1:] {
		key, value, ok := strings.Cut(field, "=")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.TrimSpace(key) {
		case "data":
			m.Date = value
		case "hora":
			m.Hour = value
		case "duracao":
			if n, err := strconv.Atoi(value); err == nil && n > 0 {
				m.DurationMin = n
			}
		case "min_gap":
			if n, err := strconv.Atoi(value); err == nil && n >= 0 {
				m.MinGapMin = n
			}
		case "lead":
			m.Lead = value
		case "curso":
			m.Course = value
		case "contato":
			m.Contact = strings.TrimPrefix(value, "whatsapp:")
		case "email":
			m.Email = value
		}
	}
	if m.Date == "" || m.Hour == "" {
		return nil
	}
	return m
}
