// Package formatter turns enriched climbing data into the versioned context
// document handed to the language model.
package formatter

import (
	"fmt"

	"cragcoach/internal/climbing"
	jsonx "cragcoach/internal/shared/json"
)

// Version is the schema tag carried by every document.
const Version = "1.0"

// MaxRecentTicks bounds recent_activity.ticks.
const MaxRecentTicks = 10

// Experience levels.
const (
	LevelBeginner     = "beginner"
	LevelIntermediate = "intermediate"
	LevelAdvanced     = "advanced"
)

// Goal statuses.
const (
	StatusOnTrack = "on_track"
	StatusBehind  = "behind"
)

// Document is the context handed to the model and cached per user.
type Document struct {
	ContextVersion string             `json:"context_version"`
	Summary        string             `json:"summary"`
	Profile        Profile            `json:"profile"`
	Performance    Performance        `json:"performance"`
	Training       Training           `json:"training"`
	Health         Health             `json:"health"`
	Goals          Goals              `json:"goals"`
	RecentActivity RecentActivity     `json:"recent_activity"`
	Relevance      map[string]float64 `json:"relevance,omitempty"`
}

type Profile struct {
	ExperienceLevel     string   `json:"experience_level"`
	YearsClimbing       float64  `json:"years_climbing"`
	PreferredStyles     []string `json:"preferred_styles"`
	HighestBoulderGrade string   `json:"highest_boulder_grade,omitempty"`
	HighestSportGrade   string   `json:"highest_sport_grade,omitempty"`
	CurrentGrade        string   `json:"current_grade,omitempty"`
}

type Performance struct {
	GradeProgression    map[string]float64 `json:"grade_progression"`
	TrainingConsistency float64            `json:"training_consistency"`
	ActivityLevels      map[string]any     `json:"activity_levels"`
	Historical          map[string]any     `json:"historical,omitempty"`
}

type Training struct {
	Frequency       string   `json:"frequency"`
	PreferredStyles []string `json:"preferred_styles"`
	Strengths       []string `json:"strengths"`
	Weaknesses      []string `json:"weaknesses"`
	RecentFocus     string   `json:"recent_focus"`
}

type Health struct {
	InjuryStatus     string `json:"injury_status"`
	RecoveryProtocol string `json:"recovery_protocol"`
	EnergyLevel      string `json:"energy_level"`
	SleepQuality     string `json:"sleep_quality"`
}

type Goals struct {
	TargetGrade string       `json:"target_grade,omitempty"`
	Progress    GoalProgress `json:"progress"`
}

// GoalProgress is the progress towards Goals.TargetGrade. Progress is in [0, 1].
type GoalProgress struct {
	Progress      float64 `json:"progress"`
	Status        string  `json:"status"`
	TimeRemaining string  `json:"time_remaining,omitempty"`
}

type RecentActivity struct {
	Ticks       []climbing.Tick     `json:"ticks"`
	ChatHistory []climbing.ChatTurn `json:"chat_history"`
}

// Empty is the document used when no context could be produced.
func Empty() *Document {
	return Format(map[string]any{}, "")
}

// HasRelevance reports whether the document carries relevance scores.
func (d *Document) HasRelevance() bool {
	return d != nil && len(d.Relevance) > 0
}

// Map returns the document in its JSON value form.
func (d *Document) Map() (map[string]any, error) {
	data, err := jsonx.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("marshal document: %w", err)
	}
	var out map[string]any
	if err := jsonx.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("unmarshal document: %w", err)
	}
	return out, nil
}

// DecodeDocument reads a document from its JSON value form, as stored in the
// context cache.
func DecodeDocument(m map[string]any) (*Document, error) {
	data, err := jsonx.Marshal(jsonx.Sanitize(m))
	if err != nil {
		return nil, fmt.Errorf("marshal document map: %w", err)
	}
	var doc Document
	if err := jsonx.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	if doc.ContextVersion == "" {
		return nil, fmt.Errorf("decode document: missing context_version")
	}
	return &doc, nil
}

// Serialize encodes doc with the stable JSON encoding used for caching and prompts.
func Serialize(doc *Document) (string, error) {
	return jsonx.MarshalString(doc)
}
