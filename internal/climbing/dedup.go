package climbing

import (
	"sort"
	"strings"
)

// RouteKey is the identity used to match ticks of the same route.
func RouteKey(routeName string) string {
	return strings.ToLower(strings.Join(strings.Fields(routeName), " "))
}

// Deduplicate merges incoming ticks into existing ones. Ticks are matched by
// route name; on conflict the later date wins and incoming wins ties. The
// result is ordered ascending by date. When either side is empty the other
// is returned unchanged.
func Deduplicate(existing, incoming []Tick) []Tick {
	if len(existing) == 0 {
		return incoming
	}
	if len(incoming) == 0 {
		return existing
	}

	merged := make([]Tick, 0, len(existing)+len(incoming))
	index := make(map[string]int, len(existing)+len(incoming))
	add := func(t Tick, preferOnTie bool) {
		key := RouteKey(t.RouteName)
		if key == "" {
			merged = append(merged, t)
			return
		}
		i, seen := index[key]
		if !seen {
			index[key] = len(merged)
			merged = append(merged, t)
			return
		}
		current := merged[i].Time()
		candidate := t.Time()
		if candidate.After(current) || (preferOnTie && candidate.Equal(current)) {
			merged[i] = t
		}
	}
	for _, t := range existing {
		add(t, false)
	}
	for _, t := range incoming {
		add(t, true)
	}

	sort.SliceStable(merged, func(a, b int) bool {
		return merged[a].Time().Before(merged[b].Time())
	})
	return merged
}
