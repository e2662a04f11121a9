package planner

import "sort"

// RoutingPreference selects which objective teacher selection optimizes for.
type RoutingPreference string

const (
	PreferMinCost    RoutingPreference = "min_cost"
	PreferMinLatency RoutingPreference = "min_latency"
	PreferMaxQuality RoutingPreference = "max_quality"
	PreferBalanced   RoutingPreference = "balanced"
)

// Teacher is a candidate model a TeacherSelector can route to. The name
// mirrors spec.md's own vocabulary ("teacher selection") for the planner's
// model-routing concept; it has no relation to this repository's own
// teacher/student exercise.
type Teacher struct {
	ID                  string
	Name                string
	ModelName           string
	Capabilities        map[TaskType]bool
	Cost                float64 // USD per 1K tokens, blended
	MemoryRequirementGB float64
	Priority            int
}

// TeacherSelector holds the candidate pool and available resource ceiling.
type TeacherSelector struct {
	teachers           []Teacher
	availableMemoryGB float64
}

// NewTeacherSelector constructs a selector with the given candidate pool and
// the memory ceiling available for local/self-hosted teachers.
func NewTeacherSelector(teachers []Teacher, availableMemoryGB float64) *TeacherSelector {
	return &TeacherSelector{teachers: teachers, availableMemoryGB: availableMemoryGB}
}

// Select returns at most one teacher for the given complexity, task type,
// and routing preference, or ok=false if none qualify (the pipeline then
// falls back to the configured default model).
func (s *TeacherSelector) Select(level ComplexityLevel, taskType TaskType, pref RoutingPreference) (Teacher, bool) {
	var candidates []Teacher
	for _, t := range s.teachers {
		if !t.Capabilities[taskType] {
			continue
		}
		if t.MemoryRequirementGB > s.availableMemoryGB {
			continue
		}
		candidates = append(candidates, t)
	}
	if len(candidates) == 0 {
		return Teacher{}, false
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		switch pref {
		case PreferMinCost:
			if a.Cost != b.Cost {
				return a.Cost < b.Cost
			}
		case PreferMinLatency, PreferMaxQuality:
			// Neither latency nor quality measurements are modeled
			// explicitly; priority stands in for both, as it does for
			// the final tie-break below.
			if a.Priority != b.Priority {
				return a.Priority > b.Priority
			}
		case PreferBalanced:
			aScore := a.Cost - float64(a.Priority)
			bScore := b.Cost - float64(b.Priority)
			if aScore != bScore {
				return aScore < bScore
			}
		}
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		return a.Cost < b.Cost
	})

	return candidates[0], true
}
