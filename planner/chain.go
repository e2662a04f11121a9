package planner

import (
	"fmt"
	"strings"
)

// ModelTier selects a provider.ModelTier-equivalent tier for a chain step.
// Kept as its own string type here (rather than importing provider) since
// the planner only needs ordering and a label, not dispatch.
type ModelTier string

const (
	TierFast    ModelTier = "fast"
	TierBalanced ModelTier = "balanced"
	TierQuality ModelTier = "quality"
	TierMaximum ModelTier = "maximum"
)

// ChainStep is one node of a chain-of-thought DAG.
type ChainStep struct {
	Name            string
	Temperature     float64
	MaxTokens       int
	Tier            ModelTier
	DependsOn       []string
	IncludeInOutput bool
	Output          string
	Err             error
}

// ThoughtChain is the standard Analyze → Draft → Refine chain.
type ThoughtChain struct {
	Steps               []ChainStep
	EstimatedTotalTokens int
}

var stepBudgets = map[ComplexityLevel][3]int{
	Trivial:     {128, 256, 256},
	Simple:      {256, 512, 512},
	Moderate:    {512, 768, 1024},
	Complex:     {768, 1024, 1536},
	VeryComplex: {1024, 2048, 2048},
}

var levelTier = map[ComplexityLevel]ModelTier{
	Trivial:     TierFast,
	Simple:      TierFast,
	Moderate:    TierBalanced,
	Complex:     TierQuality,
	VeryComplex: TierMaximum,
}

// BuildThoughtChain constructs the standard three-step chain
// (Analyze → Draft → Refine) with per-step token budgets and tiers scaled
// to level, per spec.md §4.5's table.
func BuildThoughtChain(level ComplexityLevel) ThoughtChain {
	budgets := stepBudgets[level]
	tier := levelTier[level]

	steps := []ChainStep{
		{Name: "analyze", Temperature: 0.4, MaxTokens: budgets[0], Tier: tier},
		{Name: "draft", Temperature: 0.7, MaxTokens: budgets[1], Tier: tier, DependsOn: []string{"analyze"}},
		{Name: "refine", Temperature: 0.5, MaxTokens: budgets[2], Tier: tier, DependsOn: []string{"draft"}, IncludeInOutput: true},
	}

	total := 0
	for _, s := range steps {
		total += s.MaxTokens
	}
	return ThoughtChain{Steps: steps, EstimatedTotalTokens: total}
}

// StepExecutor runs a single chain step and returns its generated text.
type StepExecutor func(step ChainStep, chain *ThoughtChain) (string, error)

// Execute runs the chain's steps in dependency-topological order (the fixed
// Analyze→Draft→Refine chain has no branching, so this reduces to declared
// order, but the walk is written generically in case future chains branch).
// Any step failure fails the whole chain; tokens consumed by completed
// steps are still reflected in EstimatedTotalTokens since that's a static
// budget, not an actual-usage counter.
func (c *ThoughtChain) Execute(run StepExecutor) (string, error) {
	done := map[string]bool{}
	for i := range c.Steps {
		step := &c.Steps[i]
		for _, dep := range step.DependsOn {
			if !done[dep] {
				return "", fmt.Errorf("planner: chain step %q depends on unexecuted step %q", step.Name, dep)
			}
		}
		out, err := run(*step, c)
		if err != nil {
			step.Err = err
			return "", fmt.Errorf("planner: chain step %q failed: %w", step.Name, err)
		}
		step.Output = out
		done[step.Name] = true
	}
	return c.assembleOutput(), nil
}

// assembleOutput concatenates the outputs of steps with IncludeInOutput in
// dependency-topological (here: declared) order, separated by blank lines.
func (c *ThoughtChain) assembleOutput() string {
	var parts []string
	for _, s := range c.Steps {
		if s.IncludeInOutput && s.Output != "" {
			parts = append(parts, s.Output)
		}
	}
	return strings.Join(parts, "\n\n")
}
