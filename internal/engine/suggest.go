package engine

import (
	"sort"

	"github.com/taskmesh/delegation/internal/worker"
)

// Suggestion pairs a worker with its advisory score.
type Suggestion struct {
	Worker       *worker.Capability `json:"worker"`
	SkillMatches int                `json:"skill_matches"`
	LoadRatio    float64            `json:"load_ratio"`
}

// rankWorkers scores candidates by skill overlap, breaking ties in
// favor of the less loaded worker, then by id for a stable order.
// Pure function, no side effects.
func rankWorkers(candidates []*worker.Capability, skills []string) []*Suggestion {
	suggestions := make([]*Suggestion, 0, len(candidates))
	for _, c := range candidates {
		matches := 0
		for _, skill := range skills {
			if c.HasSkill(skill) {
				matches++
			}
		}
		if len(skills) > 0 && matches == 0 {
			continue
		}
		suggestions = append(suggestions, &Suggestion{
			Worker:       c,
			SkillMatches: matches,
			LoadRatio:    float64(c.CurrentLoad) / float64(c.MaxConcurrentAssignments),
		})
	}

	sort.Slice(suggestions, func(i, j int) bool {
		if suggestions[i].SkillMatches != suggestions[j].SkillMatches {
			return suggestions[i].SkillMatches > suggestions[j].SkillMatches
		}
		if suggestions[i].LoadRatio != suggestions[j].LoadRatio {
			return suggestions[i].LoadRatio < suggestions[j].LoadRatio
		}
		return suggestions[i].Worker.ID < suggestions[j].Worker.ID
	})
	return suggestions
}
