package planner

import "github.com/Agent-Zoey/Zoey-sub001/ratelimit"

// ModelPricing is USD per million tokens, input and output priced separately.
// Supplemented from original_source/ per SPEC_FULL.md §4.5: the distilled
// spec names a pricing table without seeding it, so this is a static map of
// representative rates for each teacher-named model family.
type ModelPricing struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// DefaultPricingTable seeds a representative rate per teacher-named model
// family. Local/self-hosted backends (Ollama, vLLM, BentoML) carry zero
// marginal cost since the operator already owns the compute.
var DefaultPricingTable = map[string]ModelPricing{
	"gpt-4o":           {InputPerMillion: 2.50, OutputPerMillion: 10.00},
	"gpt-4o-mini":      {InputPerMillion: 0.15, OutputPerMillion: 0.60},
	"azure-gpt-4o":     {InputPerMillion: 2.50, OutputPerMillion: 10.00},
	"openrouter-mixed": {InputPerMillion: 0.50, OutputPerMillion: 1.50},
	"ollama-local":     {InputPerMillion: 0, OutputPerMillion: 0},
	"vllm-local":       {InputPerMillion: 0, OutputPerMillion: 0},
	"bentoml-local":    {InputPerMillion: 0, OutputPerMillion: 0},
}

// EstimateCost computes USD cost from a pricing table entry and a token
// estimate. Unknown model names price at zero rather than erroring, since
// cost estimation must never block a plan from being produced.
func EstimateCost(modelName string, estimate TokenEstimate) float64 {
	pricing, ok := DefaultPricingTable[modelName]
	if !ok {
		return 0
	}
	return float64(estimate.Input)/1_000_000*pricing.InputPerMillion +
		float64(estimate.Output)/1_000_000*pricing.OutputPerMillion
}

// Optimization records one adjustment the optimizer applied to fit a plan
// within budget.
type Optimization string

const (
	OptReducedMaxTokens   Optimization = "reduced_max_tokens"
	OptDowngradedTier     Optimization = "downgraded_teacher_tier"
	OptDisabledChainOfThought Optimization = "disabled_chain_of_thought"
)

// ApplyBudgetGate consults budget, and on an over-cap PolicyOptimize
// decision applies up to three steps in order, re-checking the budget before
// each: cut the output estimate to 3/4, halve it again (recorded as
// OptDowngradedTier; no model or tier is changed), and finally disable
// chain-of-thought. It stops as soon as a check comes back under cap; the
// estimate is not re-checked after the third step, so the returned decision
// can still be over cap. Every optimization applied is recorded. It never
// mutates level/taskType.
func ApplyBudgetGate(budget *ratelimit.BudgetManager, modelName string, estimate TokenEstimate, useChainOfThought bool) (decision ratelimit.BudgetDecision, applied []Optimization, finalEstimate TokenEstimate, finalUseChain bool) {
	finalEstimate = estimate
	finalUseChain = useChainOfThought

	cost := EstimateCost(modelName, finalEstimate)
	decision = budget.CheckBudget(cost)
	if decision.Approved && decision.Reason == "" {
		// Under cap, no optimization needed.
		return decision, applied, finalEstimate, finalUseChain
	}

	// PolicyBlock path: decision.Approved is already false and there is
	// nothing further to try — only PolicyOptimize's Approved=true-with-Reason
	// signature reaches the adjustment loop below.
	if !decision.Approved {
		return decision, applied, finalEstimate, finalUseChain
	}

	for i := 0; i < 3; i++ {
		cost = EstimateCost(modelName, finalEstimate)
		next := budget.CheckBudget(cost)
		if next.Reason == "" {
			decision = next
			return decision, applied, finalEstimate, finalUseChain
		}

		switch i {
		case 0:
			finalEstimate.Output = finalEstimate.Output * 3 / 4
			finalEstimate.Total = finalEstimate.Input + finalEstimate.Output
			applied = append(applied, OptReducedMaxTokens)
		case 1:
			finalEstimate.Output = finalEstimate.Output / 2
			finalEstimate.Total = finalEstimate.Input + finalEstimate.Output
			applied = append(applied, OptDowngradedTier)
		case 2:
			if finalUseChain {
				finalUseChain = false
				applied = append(applied, OptDisabledChainOfThought)
			}
		}
		decision = next
	}
	return decision, applied, finalEstimate, finalUseChain
}
