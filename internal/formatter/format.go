package formatter

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"cragcoach/internal/climbing"
	"cragcoach/internal/shared/values"
)

// DetermineExperienceLevel classifies a climber from years climbing and the
// highest boulder grade. data may be an enriched mapping or its profile section.
func DetermineExperienceLevel(data map[string]any) string {
	profile := profileOf(data)
	years := values.FloatOr(profile["years_climbing"], 0)
	highest := climbing.GradeValue(values.String(profile["highest_boulder_grade"]))
	if highest == 0 {
		highest = climbing.GradeValue(values.String(profile["highest_grade"]))
	}
	switch {
	case years >= 4 || highest >= 8:
		return LevelAdvanced
	case years >= 2 || highest >= 5:
		return LevelIntermediate
	default:
		return LevelBeginner
	}
}

// GenerateSummary renders the one paragraph synopsis of an enriched mapping.
func GenerateSummary(data map[string]any, level string) string {
	profile := profileOf(data)
	performance := values.Map(data["performance"])
	goals := values.Map(data["goals"])

	var parts []string

	descriptor := capitalize(level) + " climber"
	if years := values.FloatOr(profile["years_climbing"], 0); years > 0 {
		unit := "years"
		if years == 1 {
			unit = "year"
		}
		descriptor += fmt.Sprintf(" with %s %s of experience", trimFloat(years), unit)
	}
	parts = append(parts, descriptor)

	if grade := values.String(profile["current_grade"]); grade != "" {
		parts = append(parts, "Currently climbing "+grade)
	}

	progression := values.Map(performance["grade_progression"])
	if recent := values.FloatOr(progression["recent"], 0); recent > 0 {
		parts = append(parts, fmt.Sprintf("Progressing by %s grades recently", trimFloat(recent)))
	}

	switch consistency := values.FloatOr(performance["training_consistency"], 0); {
	case consistency > 0.8:
		parts = append(parts, "Training is very consistent")
	case consistency > 0.5:
		parts = append(parts, "Training is regular")
	}

	if target := values.String(goals["target_grade"]); target != "" {
		progress := values.Map(goals["progress"])
		clause := "Working toward " + target + " and currently behind pace"
		if values.String(progress["status"]) == StatusOnTrack {
			clause = "On track toward " + target
		}
		if remaining := values.String(progress["time_remaining"]); remaining != "" {
			clause += " with " + remaining + " remaining"
		}
		parts = append(parts, clause)
	}

	if injury := injuryStatus(data); injury != "" {
		parts = append(parts, "Injury status: "+injury)
	}

	return strings.Join(parts, ". ") + "."
}

// Format assembles a Document from enriched data. Missing sections become
// empty structures. Relevance is kept only when query is set and data
// already carries scores.
func Format(data map[string]any, query string) *Document {
	if data == nil {
		data = map[string]any{}
	}
	profileData := profileOf(data)
	level := DetermineExperienceLevel(data)

	doc := &Document{
		ContextVersion: Version,
		Summary:        GenerateSummary(data, level),
		Profile: Profile{
			ExperienceLevel:     level,
			YearsClimbing:       math.Max(0, values.FloatOr(profileData["years_climbing"], 0)),
			PreferredStyles:     nonNil(values.Strings(profileData["preferred_styles"])),
			HighestBoulderGrade: values.String(profileData["highest_boulder_grade"]),
			HighestSportGrade:   values.String(profileData["highest_sport_grade"]),
			CurrentGrade:        values.String(profileData["current_grade"]),
		},
		Performance:    formatPerformance(values.Map(data["performance"])),
		Training:       formatTraining(values.Map(data["training"]), profileData),
		Health:         formatHealth(values.Map(data["health"]), profileData),
		Goals:          formatGoals(values.Map(data["goals"])),
		RecentActivity: formatRecentActivity(data),
	}

	if strings.TrimSpace(query) != "" {
		if scores := formatRelevance(values.Map(data["relevance"])); len(scores) > 0 {
			doc.Relevance = scores
		}
	}
	return doc
}

func formatPerformance(perf map[string]any) Performance {
	out := Performance{
		GradeProgression:    map[string]float64{},
		TrainingConsistency: clamp01(values.FloatOr(perf["training_consistency"], 0)),
		ActivityLevels:      map[string]any{},
	}
	for key, raw := range values.Map(perf["grade_progression"]) {
		if v, ok := values.Float(raw); ok {
			out.GradeProgression[key] = v
		}
	}
	for key, raw := range values.Map(perf["activity_levels"]) {
		out.ActivityLevels[key] = raw
	}
	if historical := values.Map(perf["historical"]); len(historical) > 0 {
		out.Historical = historical
	}
	return out
}

func formatTraining(training, profile map[string]any) Training {
	styles := values.Strings(training["preferred_styles"])
	if len(styles) == 0 {
		styles = values.Strings(profile["preferred_styles"])
	}
	return Training{
		Frequency:       values.String(training["frequency"]),
		PreferredStyles: nonNil(styles),
		Strengths:       nonNil(values.Strings(training["strengths"])),
		Weaknesses:      nonNil(values.Strings(training["weaknesses"])),
		RecentFocus:     values.String(training["recent_focus"]),
	}
}

func formatHealth(health, profile map[string]any) Health {
	field := func(key string) string {
		if v := values.String(health[key]); v != "" {
			return v
		}
		return values.String(profile[key])
	}
	return Health{
		InjuryStatus:     field("injury_status"),
		RecoveryProtocol: field("recovery_protocol"),
		EnergyLevel:      field("energy_level"),
		SleepQuality:     field("sleep_quality"),
	}
}

func formatGoals(goals map[string]any) Goals {
	progress := values.Map(goals["progress"])
	out := Goals{
		TargetGrade: values.String(goals["target_grade"]),
		Progress: GoalProgress{
			Progress:      clamp01(values.FloatOr(progress["progress"], 0)),
			Status:        values.String(progress["status"]),
			TimeRemaining: values.String(progress["time_remaining"]),
		},
	}
	if out.Progress.Status != StatusOnTrack && out.Progress.Status != StatusBehind {
		out.Progress.Status = StatusBehind
		if out.TargetGrade == "" || out.Progress.Progress >= 0.75 {
			out.Progress.Status = StatusOnTrack
		}
	}
	return out
}

func formatRecentActivity(data map[string]any) RecentActivity {
	activity := values.Map(data["recent_activity"])
	tickSource, ok := activity["ticks"]
	if !ok {
		tickSource = data["recent_ticks"]
	}
	chatSource, ok := activity["chat_history"]
	if !ok {
		chatSource = data["chat_history"]
	}

	ticks := climbing.TicksFromSlice(tickSource)
	sort.SliceStable(ticks, func(i, j int) bool { return ticks[i].Time().After(ticks[j].Time()) })
	if len(ticks) > MaxRecentTicks {
		ticks = ticks[:MaxRecentTicks]
	}

	rows := values.Maps(chatSource)
	history := make([]climbing.ChatTurn, 0, len(rows))
	for _, row := range rows {
		turn := climbing.ChatTurn{
			ConversationID: values.String(row["conversation_id"]),
			Role:           values.String(row["role"]),
			Content:        values.String(row["content"]),
		}
		if created, ok := climbing.ParseDate(values.String(row["created_at"])); ok {
			turn.CreatedAt = created.UTC()
		}
		history = append(history, turn)
	}
	return RecentActivity{Ticks: ticks, ChatHistory: history}
}

func formatRelevance(raw map[string]any) map[string]float64 {
	out := make(map[string]float64, len(raw))
	for topic, v := range raw {
		if score, ok := values.Float(v); ok {
			out[topic] = clamp01(score)
		}
	}
	return out
}

func profileOf(data map[string]any) map[string]any {
	if profile := values.Map(data["profile"]); profile != nil {
		return profile
	}
	return data
}

func injuryStatus(data map[string]any) string {
	if v := values.String(values.Map(data["health"])["injury_status"]); v != "" {
		return v
	}
	return values.String(profileOf(data)["injury_status"])
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func trimFloat(v float64) string {
	return strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%.1f", v), "0"), ".")
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
