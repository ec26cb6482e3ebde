package formatter

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetermineExperienceLevel(t *testing.T) {
	cases := []struct {
		name    string
		profile map[string]any
		want    string
	}{
		{"V2 one year", map[string]any{"years_climbing": 1, "highest_boulder_grade": "V2"}, LevelBeginner},
		{"V5 one year", map[string]any{"years_climbing": 1, "highest_boulder_grade": "V5"}, LevelIntermediate},
		{"V8 no years", map[string]any{"highest_boulder_grade": "V8"}, LevelAdvanced},
		{"V8 ten years", map[string]any{"years_climbing": 10, "highest_boulder_grade": "V8"}, LevelAdvanced},
		{"years only intermediate", map[string]any{"years_climbing": 2}, LevelIntermediate},
		{"years only advanced", map[string]any{"years_climbing": "4"}, LevelAdvanced},
		{"unparseable grade", map[string]any{"highest_boulder_grade": "project"}, LevelBeginner},
		{"empty", map[string]any{}, LevelBeginner},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, DetermineExperienceLevel(tc.profile))
			assert.Equal(t, tc.want, DetermineExperienceLevel(map[string]any{"profile": tc.profile}))
		})
	}
}

func enriched() map[string]any {
	return map[string]any{
		"profile": map[string]any{
			"years_climbing":        3,
			"highest_boulder_grade": "V6",
			"current_grade":         "V6",
			"preferred_styles":      []any{"bouldering", "sport"},
		},
		"performance": map[string]any{
			"grade_progression":    map[string]any{"recent": 1.5, "overall": 3.0},
			"training_consistency": 0.9,
			"activity_levels":      map[string]any{"sessions": 8},
		},
		"training": map[string]any{
			"frequency":    "2.0 sessions/week",
			"strengths":    []string{"crimps"},
			"recent_focus": "overhang",
		},
		"health": map[string]any{"injury_status": "finger pulley strain"},
		"goals": map[string]any{
			"target_grade": "V8",
			"progress":     map[string]any{"progress": 0.75, "status": "on_track", "time_remaining": "6 months"},
		},
		"relevance": map[string]any{"health": 0.7, "goals": 0.4},
	}
}

func TestGenerateSummary(t *testing.T) {
	summary := GenerateSummary(enriched(), LevelIntermediate)

	assert.Equal(t, "Intermediate climber with 3 years of experience. Currently climbing V6. "+
		"Progressing by 1.5 grades recently. Training is very consistent. "+
		"On track toward V8 with 6 months remaining. Injury status: finger pulley strain.", summary)
}

func TestGenerateSummaryOmitsOptionalClauses(t *testing.T) {
	data := map[string]any{
		"profile": map[string]any{"years_climbing": 1},
		"performance": map[string]any{
			"grade_progression":    map[string]any{"recent": -0.5},
			"training_consistency": 0.3,
		},
	}
	assert.Equal(t, "Beginner climber with 1 year of experience.", GenerateSummary(data, LevelBeginner))
}

func TestGenerateSummaryGoalBehind(t *testing.T) {
	data := map[string]any{
		"performance": map[string]any{"training_consistency": 0.6},
		"goals": map[string]any{
			"target_grade": "V8",
			"progress":     map[string]any{"status": "behind"},
		},
	}
	assert.Equal(t, "Beginner climber. Training is regular. Working toward V8 and currently behind pace.",
		GenerateSummary(data, LevelBeginner))
}

func TestFormatAssemblesDocument(t *testing.T) {
	doc := Format(enriched(), "")

	assert.Equal(t, Version, doc.ContextVersion)
	assert.Equal(t, LevelIntermediate, doc.Profile.ExperienceLevel)
	assert.Equal(t, 3.0, doc.Profile.YearsClimbing)
	assert.Equal(t, []string{"bouldering", "sport"}, doc.Profile.PreferredStyles)
	assert.Equal(t, map[string]float64{"recent": 1.5, "overall": 3.0}, doc.Performance.GradeProgression)
	assert.Equal(t, 0.9, doc.Performance.TrainingConsistency)
	assert.Equal(t, []string{"bouldering", "sport"}, doc.Training.PreferredStyles)
	assert.Equal(t, []string{"crimps"}, doc.Training.Strengths)
	assert.Equal(t, []string{}, doc.Training.Weaknesses)
	assert.Equal(t, "finger pulley strain", doc.Health.InjuryStatus)
	assert.Equal(t, GoalProgress{Progress: 0.75, Status: StatusOnTrack, TimeRemaining: "6 months"}, doc.Goals.Progress)
	assert.Nil(t, doc.Relevance)
}

func TestFormatRelevanceRequiresQueryAndScores(t *testing.T) {
	withQuery := Format(enriched(), "my finger hurts")
	assert.Equal(t, map[string]float64{"health": 0.7, "goals": 0.4}, withQuery.Relevance)
	assert.True(t, withQuery.HasRelevance())

	data := enriched()
	delete(data, "relevance")
	assert.Nil(t, Format(data, "my finger hurts").Relevance)
}

func TestFormatKeepsTenNewestTicks(t *testing.T) {
	var ticks []any
	for day := 1; day <= 15; day++ {
		ticks = append(ticks, map[string]any{
			"date":       fmt.Sprintf("2024-01-%02d", day),
			"route_name": fmt.Sprintf("route %d", day),
			"grade":      "V3",
		})
	}
	doc := Format(map[string]any{"recent_activity": map[string]any{"ticks": ticks}}, "")

	require.Len(t, doc.RecentActivity.Ticks, MaxRecentTicks)
	assert.Equal(t, "2024-01-15", doc.RecentActivity.Ticks[0].Date)
	assert.Equal(t, "2024-01-06", doc.RecentActivity.Ticks[MaxRecentTicks-1].Date)
}

func TestFormatToleratesMalformedSections(t *testing.T) {
	doc := Format(map[string]any{
		"profile":     "not a map",
		"performance": 12,
		"goals":       map[string]any{"progress": map[string]any{"progress": 4.0, "status": "unknown"}},
	}, "query")

	assert.Equal(t, LevelBeginner, doc.Profile.ExperienceLevel)
	assert.Empty(t, doc.Performance.GradeProgression)
	assert.Equal(t, 1.0, doc.Goals.Progress.Progress)
	assert.Equal(t, StatusOnTrack, doc.Goals.Progress.Status)
	assert.NotNil(t, doc.RecentActivity.Ticks)
	assert.Nil(t, doc.Relevance)
}

func TestEmptyDocument(t *testing.T) {
	doc := Empty()
	assert.Equal(t, Version, doc.ContextVersion)
	assert.Equal(t, "Beginner climber.", doc.Summary)
	assert.False(t, doc.HasRelevance())
}

func TestSerializeRoundTrip(t *testing.T) {
	doc := Format(map[string]any{
		"profile": map[string]any{"years_climbing": 5},
		"recent_activity": map[string]any{
			"ticks":        []any{map[string]any{"date": "2024-01-02", "route_name": "A", "grade": "V4"}},
			"chat_history": []any{map[string]any{"role": "user", "content": "hi", "created_at": "2024-01-02T10:00:00Z"}},
		},
		"relevance": map[string]any{"profile": 0.4},
	}, "q")

	text, err := Serialize(doc)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(text, `{"context_version":"1.0"`))
	assert.Contains(t, text, `"created_at":"2024-01-02T10:00:00Z"`)

	m, err := doc.Map()
	require.NoError(t, err)
	decoded, err := DecodeDocument(m)
	require.NoError(t, err)
	assert.Equal(t, doc, decoded)

	again, err := Serialize(decoded)
	require.NoError(t, err)
	assert.Equal(t, text, again)
}

func TestDecodeDocumentRejectsUnversioned(t *testing.T) {
	_, err := DecodeDocument(map[string]any{"summary": "x"})
	assert.Error(t, err)
}
