package climbing

import (
	"strconv"
	"strings"
	"time"
	"unicode"

	"cragcoach/internal/shared/values"
)

// DateLayout is the canonical tick date format.
const DateLayout = "2006-01-02"

var dateLayouts = []string{
	DateLayout,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"01/02/2006",
	"2006/01/02",
}

// Tick is one logged attempt or send.
type Tick struct {
	Date      string `json:"date"`
	RouteName string `json:"route_name"`
	Grade     string `json:"grade"`
	Status    string `json:"send_status,omitempty"`
	Style     string `json:"style,omitempty"`
	Notes     string `json:"notes,omitempty"`
}

// ParseDate parses the date formats accepted in uploads and database rows.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// NormalizeDate rewrites a parseable date into DateLayout and leaves anything else unchanged.
func NormalizeDate(s string) string {
	if t, ok := ParseDate(s); ok {
		return t.Format(DateLayout)
	}
	return strings.TrimSpace(s)
}

// Time returns the tick date. Unparseable dates yield the zero time.
func (t Tick) Time() time.Time {
	parsed, _ := ParseDate(t.Date)
	return parsed
}

// IsSend reports whether the tick records a completed ascent.
func (t Tick) IsSend() bool {
	switch strings.ToLower(strings.TrimSpace(t.Status)) {
	case "", "send", "sent", "flash", "onsight", "redpoint", "pinkpoint", "completed":
		return true
	default:
		return false
	}
}

// Map returns the tick in its JSON value form.
func (t Tick) Map() map[string]any {
	out := map[string]any{
		"date":       t.Date,
		"route_name": t.RouteName,
		"grade":      t.Grade,
	}
	if t.Status != "" {
		out["send_status"] = t.Status
	}
	if t.Style != "" {
		out["style"] = t.Style
	}
	if t.Notes != "" {
		out["notes"] = t.Notes
	}
	return out
}

// TickFromMap reads a tick from a row or decoded JSON object.
func TickFromMap(m map[string]any) Tick {
	pick := func(keys ...string) string {
		for _, key := range keys {
			if s := values.String(m[key]); s != "" {
				return s
			}
		}
		return ""
	}
	date := pick("date", "tick_date", "climbed_at")
	if t, ok := m["date"].(time.Time); ok {
		date = t.Format(DateLayout)
	}
	return Tick{
		Date:      NormalizeDate(date),
		RouteName: pick("route_name", "route", "name"),
		Grade:     pick("grade"),
		Status:    pick("send_status", "status"),
		Style:     pick("style"),
		Notes:     pick("notes"),
	}
}

// TicksToSlice converts ticks to their JSON value form.
func TicksToSlice(ticks []Tick) []any {
	out := make([]any, len(ticks))
	for i, t := range ticks {
		out[i] = t.Map()
	}
	return out
}

// TicksFromSlice reads ticks from a JSON value list, skipping non-object items.
func TicksFromSlice(v any) []Tick {
	rows := values.Maps(v)
	out := make([]Tick, 0, len(rows))
	for _, row := range rows {
		out = append(out, TickFromMap(row))
	}
	return out
}

// GradeValue maps a grade label to a number by stripping any non-numeric
// prefix and parsing the leading number ("V5" → 5, "5.11a" → 5.11).
// Unparseable grades are 0.
func GradeValue(grade string) float64 {
	s := strings.TrimLeftFunc(strings.TrimSpace(grade), func(r rune) bool { return !unicode.IsDigit(r) })
	end := 0
	seenDot := false
	for end < len(s) {
		c := s[end]
		if c >= '0' && c <= '9' {
			end++
			continue
		}
		if c == '.' && !seenDot && end+1 < len(s) && s[end+1] >= '0' && s[end+1] <= '9' {
			seenDot = true
			end++
			continue
		}
		break
	}
	if end == 0 {
		return 0
	}
	value, err := strconv.ParseFloat(s[:end], 64)
	if err != nil {
		return 0
	}
	return value
}
