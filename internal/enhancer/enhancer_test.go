package enhancer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rawAggregate() map[string]any {
	return map[string]any{
		"user_id":     "42",
		"window_days": 28,
		"profile": map[string]any{
			"years_climbing":        3,
			"highest_boulder_grade": "V6",
			"preferred_styles":      []any{"bouldering"},
			"goal_grade":            "V8",
			"goal_timeframe":        "6 months",
			"injury_status":         "healthy",
		},
		"recent_ticks": []any{
			map[string]any{"date": "2024-01-29", "route_name": "D", "grade": "V6", "send_status": "sent", "style": "overhang"},
			map[string]any{"date": "2024-01-22", "route_name": "C", "grade": "V5", "send_status": "flash", "style": "overhang"},
			map[string]any{"date": "2024-01-15", "route_name": "B", "grade": "V4", "send_status": "project", "style": "slab"},
			map[string]any{"date": "2024-01-08", "route_name": "A", "grade": "V3", "send_status": "sent", "style": "slab"},
		},
		"performance":  map[string]any{"total_sends": 40},
		"chat_history": []any{map[string]any{"role": "user", "content": "hi"}},
	}
}

func TestEnhanceDerivesTrends(t *testing.T) {
	out, err := NewHeuristic().Enhance(context.Background(), rawAggregate(), "")
	require.NoError(t, err)

	perf := out["performance"].(map[string]any)
	progression := perf["grade_progression"].(map[string]any)
	// sends ascending: V3, V5, V6 -> later half {5,6} minus earlier {3}
	assert.Equal(t, 2.5, progression["recent"])
	assert.Equal(t, 3.0, progression["overall"])
	assert.Equal(t, 1.0, perf["training_consistency"])
	assert.Equal(t, map[string]any{"total_sends": 40}, perf["historical"])

	levels := perf["activity_levels"].(map[string]any)
	assert.Equal(t, 4, levels["sessions"])
	assert.Equal(t, 3, levels["sends"])
	assert.Equal(t, 1, levels["attempts"])

	training := out["training"].(map[string]any)
	assert.Equal(t, "1.0 sessions/week", training["frequency"])
	assert.Equal(t, "overhang", training["recent_focus"])

	profile := out["profile"].(map[string]any)
	assert.Equal(t, "V6", profile["current_grade"])

	goals := out["goals"].(map[string]any)
	assert.Equal(t, "V8", goals["target_grade"])
	progress := goals["progress"].(map[string]any)
	assert.Equal(t, 0.75, progress["progress"])
	assert.Equal(t, "on_track", progress["status"])
	assert.Equal(t, "6 months", progress["time_remaining"])

	assert.Equal(t, "healthy", out["health"].(map[string]any)["injury_status"])
	assert.Equal(t, "42", out["user_id"])
	assert.NotContains(t, out, "relevance")
}

func TestEnhanceGoalBehind(t *testing.T) {
	data := map[string]any{
		"profile": map[string]any{"current_grade": "V3", "goal_grade": "V8"},
	}
	out, err := NewHeuristic().Enhance(context.Background(), data, "")
	require.NoError(t, err)

	progress := out["goals"].(map[string]any)["progress"].(map[string]any)
	assert.Equal(t, 0.38, progress["progress"])
	assert.Equal(t, "behind", progress["status"])
	assert.NotContains(t, progress, "time_remaining")
}

func TestEnhanceDoesNotMutateInput(t *testing.T) {
	data := rawAggregate()
	_, err := NewHeuristic().Enhance(context.Background(), data, "")
	require.NoError(t, err)
	assert.NotContains(t, data["profile"].(map[string]any), "current_grade")
}

func TestEnhanceEmptyData(t *testing.T) {
	out, err := NewHeuristic().Enhance(context.Background(), map[string]any{}, "")
	require.NoError(t, err)

	perf := out["performance"].(map[string]any)
	assert.Equal(t, map[string]any{"recent": 0.0, "overall": 0.0}, perf["grade_progression"])
	assert.Equal(t, 0.0, perf["training_consistency"])
	assert.Empty(t, out["goals"])
}

func TestEnhanceFormattedDocumentPassesThrough(t *testing.T) {
	doc := map[string]any{
		"context_version": "1.0",
		"summary":         "Intermediate climber.",
		"profile":         map[string]any{"experience_level": "intermediate"},
		"relevance":       map[string]any{"health": 1.0},
	}
	out, err := NewHeuristic().Enhance(context.Background(), doc, "how is my finger injury")
	require.NoError(t, err)

	assert.Equal(t, "Intermediate climber.", out["summary"])
	assert.Equal(t, doc["profile"], out["profile"])
	relevance := out["relevance"].(map[string]any)
	assert.Len(t, relevance, len(Topics))
	assert.Equal(t, 0.7, relevance["health"])
}

func TestEnhanceHonorsCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewHeuristic().Enhance(ctx, rawAggregate(), "")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestScoreRelevance(t *testing.T) {
	scores := ScoreRelevance("What training plan gets me to my V8 goal?")

	assert.Equal(t, 0.7, scores["training"])
	assert.Equal(t, 0.4, scores["goals"])
	assert.Equal(t, 0.1, scores["health"])
	for _, topic := range Topics {
		score := scores[topic].(float64)
		assert.GreaterOrEqual(t, score, 0.0)
		assert.LessOrEqual(t, score, 1.0)
	}
}
