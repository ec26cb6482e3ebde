package enhancer

import (
	"strings"
	"unicode"
)

// topicKeywords are matched as prefixes of query words.
var topicKeywords = map[string][]string{
	"profile":         {"experience", "year", "style", "level", "beginner", "intermediate", "advanced", "background"},
	"performance":     {"grade", "progress", "improv", "plateau", "stronger", "harder", "send", "project", "pyramid", "chart", "graph"},
	"training":        {"train", "workout", "session", "plan", "schedule", "hangboard", "endurance", "power", "technique", "drill", "campus", "warm"},
	"health":          {"injur", "pain", "finger", "pulley", "elbow", "shoulder", "rest", "recover", "sleep", "tired", "energy", "skin", "sore"},
	"goals":           {"goal", "target", "achiev", "aim", "want", "next", "milestone"},
	"recent_activity": {"recent", "last", "week", "yesterday", "today", "lately", "tick", "log", "climbed"},
}

// baseRelevance is the score of a topic the query does not mention.
const baseRelevance = 0.1

// ScoreRelevance scores every topic between 0 and 1 by keyword overlap with query.
func ScoreRelevance(query string) map[string]any {
	words := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	scores := make(map[string]any, len(Topics))
	for _, topic := range Topics {
		hits := 0
		for _, word := range words {
			for _, keyword := range topicKeywords[topic] {
				if strings.HasPrefix(word, keyword) {
					hits++
					break
				}
			}
		}
		score := baseRelevance
		if hits > 0 {
			score = min(1, 0.4+0.3*float64(hits-1))
		}
		scores[topic] = round(score, 2)
	}
	return scores
}
