// Package enhancer annotates aggregated climbing data with trends, derived
// training metrics, and per-topic relevance scores for a query.
package enhancer

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"cragcoach/internal/climbing"
	"cragcoach/internal/shared/values"
)

// Enhancer turns raw or previously formatted context data into enriched data.
type Enhancer interface {
	Enhance(ctx context.Context, data map[string]any, query string) (map[string]any, error)
}

// Topics scored by relevance.
var Topics = []string{"profile", "performance", "training", "health", "goals", "recent_activity"}

const defaultWindowDays = 30

// Heuristic is the built-in rule based enhancer. It is deterministic and
// does no I/O.
type Heuristic struct{}

// NewHeuristic returns the rule based enhancer.
func NewHeuristic() *Heuristic {
	return &Heuristic{}
}

// Enhance accepts either a raw aggregate (climbing.Aggregate.AsMap) or a
// formatted document. Formatted documents keep their sections and only gain
// relevance; raw aggregates get every derived section.
func (h *Heuristic) Enhance(ctx context.Context, data map[string]any, query string) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out map[string]any
	if _, formatted := data["context_version"]; formatted {
		out = cloneMap(data)
		delete(out, "relevance")
	} else {
		out = enrichRaw(data)
	}
	if strings.TrimSpace(query) != "" {
		out["relevance"] = ScoreRelevance(query)
	}
	return out, nil
}

func enrichRaw(data map[string]any) map[string]any {
	profile := cloneMap(values.Map(data["profile"]))
	ticks := climbing.TicksFromSlice(data["recent_ticks"])
	windowDays := values.Int(data["window_days"], defaultWindowDays)
	if windowDays <= 0 {
		windowDays = defaultWindowDays
	}

	sends := sendsAscending(ticks)
	recent, overall := gradeProgression(sends)
	consistency := trainingConsistency(ticks, windowDays)
	sessions := distinctDays(ticks)
	perWeek := round(float64(sessions)/(float64(windowDays)/7), 1)

	if values.String(profile["current_grade"]) == "" {
		if hardest := hardestGrade(sends); hardest != "" {
			profile["current_grade"] = hardest
		}
	}

	performance := map[string]any{
		"grade_progression": map[string]any{
			"recent":  recent,
			"overall": overall,
		},
		"training_consistency": consistency,
		"activity_levels": map[string]any{
			"sessions":          sessions,
			"total_ticks":       len(ticks),
			"sends":             len(sends),
			"attempts":          len(ticks) - len(sends),
			"sessions_per_week": perWeek,
		},
	}
	if historical := values.Map(data["performance"]); len(historical) > 0 {
		performance["historical"] = cloneMap(historical)
	}

	training := map[string]any{
		"frequency":        fmt.Sprintf("%.1f sessions/week", perWeek),
		"preferred_styles": values.Strings(profile["preferred_styles"]),
		"strengths":        values.Strings(profile["strengths"]),
		"weaknesses":       values.Strings(profile["weaknesses"]),
		"recent_focus":     recentFocus(ticks),
	}

	health := map[string]any{
		"injury_status":     values.String(profile["injury_status"]),
		"recovery_protocol": values.String(profile["recovery_protocol"]),
		"energy_level":      values.String(profile["energy_level"]),
		"sleep_quality":     values.String(profile["sleep_quality"]),
	}

	goals := map[string]any{}
	if target := values.String(profile["goal_grade"]); target != "" {
		progress := goalProgress(values.String(profile["current_grade"]), target)
		status := "behind"
		if progress >= 0.75 || recent > 0 {
			status = "on_track"
		}
		goal := map[string]any{"progress": progress, "status": status}
		if remaining := values.String(profile["goal_timeframe"]); remaining != "" {
			goal["time_remaining"] = remaining
		}
		goals["target_grade"] = target
		goals["progress"] = goal
	}

	newest := append([]climbing.Tick(nil), ticks...)
	sort.SliceStable(newest, func(i, j int) bool { return newest[i].Time().After(newest[j].Time()) })

	out := map[string]any{
		"profile":     profile,
		"performance": performance,
		"training":    training,
		"health":      health,
		"goals":       goals,
		"recent_activity": map[string]any{
			"ticks":        climbing.TicksToSlice(newest),
			"chat_history": cloneValue(values.Slice(data["chat_history"])),
		},
	}
	for _, key := range []string{"user_id", "conversation_id"} {
		if v, ok := data[key]; ok {
			out[key] = v
		}
	}
	return out
}

func sendsAscending(ticks []climbing.Tick) []climbing.Tick {
	var sends []climbing.Tick
	for _, t := range ticks {
		if t.IsSend() {
			sends = append(sends, t)
		}
	}
	sort.SliceStable(sends, func(i, j int) bool { return sends[i].Time().Before(sends[j].Time()) })
	return sends
}

// gradeProgression returns the average grade of the later half of sends
// minus the earlier half, and the spread between the hardest and easiest send.
func gradeProgression(sends []climbing.Tick) (recent, overall float64) {
	if len(sends) < 2 {
		return 0, 0
	}
	grades := make([]float64, len(sends))
	lo, hi := math.Inf(1), math.Inf(-1)
	for i, t := range sends {
		grades[i] = climbing.GradeValue(t.Grade)
		lo = math.Min(lo, grades[i])
		hi = math.Max(hi, grades[i])
	}
	mid := len(grades) / 2
	recent = round(mean(grades[mid:])-mean(grades[:mid]), 2)
	overall = round(hi-lo, 2)
	return recent, overall
}

func trainingConsistency(ticks []climbing.Tick, windowDays int) float64 {
	weeks := map[string]bool{}
	for _, t := range ticks {
		when := t.Time()
		if when.IsZero() {
			continue
		}
		year, week := when.ISOWeek()
		weeks[fmt.Sprintf("%d-%02d", year, week)] = true
	}
	windowWeeks := math.Max(1, math.Ceil(float64(windowDays)/7))
	return round(math.Min(1, float64(len(weeks))/windowWeeks), 2)
}

func distinctDays(ticks []climbing.Tick) int {
	days := map[string]bool{}
	for _, t := range ticks {
		if when := t.Time(); !when.IsZero() {
			days[when.Format(time.DateOnly)] = true
		}
	}
	return len(days)
}

func hardestGrade(sends []climbing.Tick) string {
	best, bestValue := "", -1.0
	for _, t := range sends {
		if v := climbing.GradeValue(t.Grade); v > bestValue {
			best, bestValue = t.Grade, v
		}
	}
	return best
}

func recentFocus(ticks []climbing.Tick) string {
	counts := map[string]int{}
	for _, t := range ticks {
		if style := strings.ToLower(strings.TrimSpace(t.Style)); style != "" {
			counts[style]++
		}
	}
	focus, best := "", 0
	for style, n := range counts {
		if n > best || (n == best && style < focus) {
			focus, best = style, n
		}
	}
	return focus
}

func goalProgress(current, target string) float64 {
	targetValue := climbing.GradeValue(target)
	if targetValue <= 0 {
		return 0
	}
	return round(math.Max(0, math.Min(1, climbing.GradeValue(current)/targetValue)), 2)
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func cloneMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch typed := v.(type) {
	case map[string]any:
		return cloneMap(typed)
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}
