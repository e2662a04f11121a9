package planner

import (
	"time"

	"github.com/Agent-Zoey/Zoey-sub001/ratelimit"
)

// ResponseStrategy is the high-level shape of how the plan will be executed.
type ResponseStrategy string

const (
	StrategyDirect        ResponseStrategy = "direct"
	StrategyChainOfThought ResponseStrategy = "chain_of_thought"
)

// ExecutionPlan is the planner's sole output, per spec.md §4.5.
type ExecutionPlan struct {
	Complexity        ComplexityAssessment
	KnowledgeState    map[string]any
	TokenEstimate     TokenEstimate
	CostEstimate      float64
	BudgetCheck       ratelimit.BudgetDecision
	ResponseStrategy  ResponseStrategy
	OptimizationsApplied []Optimization
	Warnings          []string
	RequiresApproval  bool
	PlannedAt         time.Time
	PlanningDuration  time.Duration
	TaskType          TaskType
	SelectedTeacher   *Teacher
	ThoughtChain      *ThoughtChain
	UseChainOfThought bool
}

// Config governs planner-level thresholds that are not per-message inputs.
type Config struct {
	EnableChainOfThought    bool
	ChainOfThoughtThreshold ComplexityLevel
	RoutingPreference       RoutingPreference
	AvailableMemoryGB       float64
	RequiresApprovalAbove   ComplexityLevel
}

// DefaultConfig mirrors the defaults implied by spec.md §4.5: chain-of-thought
// available but gated at Complex, balanced routing, and human approval
// required only above VeryComplex (i.e. never by default, since VeryComplex
// is the top level) unless the caller tightens it.
func DefaultConfig() Config {
	return Config{
		EnableChainOfThought:    true,
		ChainOfThoughtThreshold: Complex,
		RoutingPreference:       PreferBalanced,
		AvailableMemoryGB:       0,
		RequiresApprovalAbove:   VeryComplex,
	}
}

// nowFunc is overridable in tests; production code always uses time.Now.
var nowFunc = time.Now

// PlanExecution produces an ExecutionPlan for (text, contextTurns), against
// a candidate teacher pool and a shared budget manager. PlanExecution takes
// its own start time on entry, stamps it as PlannedAt, and sets
// PlanningDuration to the time elapsed since then when the plan is built.
func PlanExecution(cfg Config, text string, contextTurns int, teachers []Teacher, budget *ratelimit.BudgetManager, defaultModelName string) ExecutionPlan {
	start := nowFunc()

	complexity := AssessComplexity(text, contextTurns)
	taskType := InferTaskType(text)

	selector := NewTeacherSelector(teachers, cfg.AvailableMemoryGB)
	teacher, found := selector.Select(complexity.Level, taskType, cfg.RoutingPreference)

	modelName := defaultModelName
	var selectedTeacher *Teacher
	if found {
		modelName = teacher.ModelName
		t := teacher
		selectedTeacher = &t
	}

	useChain := cfg.EnableChainOfThought && complexity.Level.AtLeast(cfg.ChainOfThoughtThreshold)

	var chain *ThoughtChain
	tokenEstimate := complexity.EstimatedTokens
	if useChain {
		c := BuildThoughtChain(complexity.Level)
		chain = &c
		tokenEstimate.Output = c.EstimatedTotalTokens
		tokenEstimate.Total = tokenEstimate.Input + tokenEstimate.Output
	}

	var warnings []string
	var applied []Optimization
	var decision ratelimit.BudgetDecision
	if budget != nil {
		decision, applied, tokenEstimate, useChain = ApplyBudgetGate(budget, modelName, tokenEstimate, useChain)
		if len(applied) > 0 {
			warnings = append(warnings, "budget gate applied optimizations to fit execution within cap")
		}
		if !decision.Approved {
			warnings = append(warnings, decision.Reason)
		}
		if useChain && chain == nil {
			c := BuildThoughtChain(complexity.Level)
			chain = &c
		}
		if !useChain {
			chain = nil
		}
	}

	strategy := StrategyDirect
	if useChain {
		strategy = StrategyChainOfThought
	}

	plan := ExecutionPlan{
		Complexity:           complexity,
		KnowledgeState:       map[string]any{"context_turns": contextTurns},
		TokenEstimate:        tokenEstimate,
		CostEstimate:         EstimateCost(modelName, tokenEstimate),
		BudgetCheck:          decision,
		ResponseStrategy:     strategy,
		OptimizationsApplied: applied,
		Warnings:             warnings,
		RequiresApproval:     levelOrder[complexity.Level] > levelOrder[cfg.RequiresApprovalAbove],
		PlannedAt:            start,
		TaskType:             taskType,
		SelectedTeacher:      selectedTeacher,
		ThoughtChain:         chain,
		UseChainOfThought:    useChain,
	}
	plan.PlanningDuration = nowFunc().Sub(start)
	return plan
}
