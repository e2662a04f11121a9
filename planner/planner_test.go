package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Agent-Zoey/Zoey-sub001/ratelimit"
)

func TestAssessComplexityTrivialForShortText(t *testing.T) {
	a := AssessComplexity("hi", 0)
	assert.Equal(t, Trivial, a.Level)
}

func TestAssessComplexityHigherForLongDomainReasoningText(t *testing.T) {
	text := `Please analyze the trade-offs between a distributed, concurrency-heavy
	architecture and a monolithic database design, and explain why one might be
	preferred for a high-throughput protocol implementation, comparing pros and
	cons step by step.`
	a := AssessComplexity(text, 8)
	assert.True(t, a.Level.AtLeast(Complex), "expected high complexity, got %s", a.Level)
}

func TestInferTaskTypePriorityOrder(t *testing.T) {
	assert.Equal(t, TaskCodeGeneration, InferTaskType("please implement a function to sort a list"))
	assert.Equal(t, TaskSummarization, InferTaskType("can you summarize this article"))
	assert.Equal(t, TaskTranslation, InferTaskType("translate this to French"))
	assert.Equal(t, TaskReasoning, InferTaskType("compare these two approaches"))
	assert.Equal(t, TaskQuestionAnswering, InferTaskType("what is the capital of France?"))
	assert.Equal(t, TaskCompletion, InferTaskType("please continue the story"))
	assert.Equal(t, TaskChat, InferTaskType("good morning"))
}

func TestInferTaskTypeCodeTakesPriorityOverQuestion(t *testing.T) {
	assert.Equal(t, TaskCodeGeneration, InferTaskType("why does this function fail to compile?"))
}

func TestTeacherSelectorFiltersByCapabilityAndMemory(t *testing.T) {
	teachers := []Teacher{
		{ID: "a", ModelName: "big", Capabilities: map[TaskType]bool{TaskChat: true}, MemoryRequirementGB: 64, Priority: 1},
		{ID: "b", ModelName: "small", Capabilities: map[TaskType]bool{TaskChat: true}, MemoryRequirementGB: 4, Priority: 1, Cost: 0.1},
	}
	sel := NewTeacherSelector(teachers, 16)
	got, ok := sel.Select(Simple, TaskChat, PreferMinCost)
	require.True(t, ok)
	assert.Equal(t, "small", got.ModelName)
}

func TestTeacherSelectorReturnsNoneWhenNoneQualify(t *testing.T) {
	sel := NewTeacherSelector(nil, 16)
	_, ok := sel.Select(Simple, TaskChat, PreferBalanced)
	assert.False(t, ok)
}

func TestTeacherSelectorMinCostPrefersCheaper(t *testing.T) {
	teachers := []Teacher{
		{ID: "a", ModelName: "expensive", Capabilities: map[TaskType]bool{TaskChat: true}, Cost: 5, Priority: 10},
		{ID: "b", ModelName: "cheap", Capabilities: map[TaskType]bool{TaskChat: true}, Cost: 1, Priority: 1},
	}
	sel := NewTeacherSelector(teachers, 100)
	got, ok := sel.Select(Simple, TaskChat, PreferMinCost)
	require.True(t, ok)
	assert.Equal(t, "cheap", got.ModelName)
}

func TestBuildThoughtChainBudgetsScaleWithLevel(t *testing.T) {
	c := BuildThoughtChain(Moderate)
	require.Len(t, c.Steps, 3)
	assert.Equal(t, "analyze", c.Steps[0].Name)
	assert.Equal(t, 512, c.Steps[0].MaxTokens)
	assert.Equal(t, 768, c.Steps[1].MaxTokens)
	assert.Equal(t, 1024, c.Steps[2].MaxTokens)
	assert.Equal(t, 512+768+1024, c.EstimatedTotalTokens)
	assert.True(t, c.Steps[2].IncludeInOutput)
	assert.False(t, c.Steps[0].IncludeInOutput)
}

func TestThoughtChainExecuteAssemblesOnlyIncludedSteps(t *testing.T) {
	c := BuildThoughtChain(Simple)
	out, err := c.Execute(func(step ChainStep, chain *ThoughtChain) (string, error) {
		return step.Name + "-output", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "refine-output", out)
}

func TestThoughtChainExecuteFailsOnStepError(t *testing.T) {
	c := BuildThoughtChain(Simple)
	_, err := c.Execute(func(step ChainStep, chain *ThoughtChain) (string, error) {
		if step.Name == "draft" {
			return "", assertError{}
		}
		return step.Name, nil
	})
	assert.Error(t, err)
}

type assertError struct{}

func (assertError) Error() string { return "boom" }

func TestEstimateCostUnknownModelIsZero(t *testing.T) {
	assert.Equal(t, 0.0, EstimateCost("unknown-model", TokenEstimate{Input: 1000, Output: 1000}))
}

func TestEstimateCostKnownModel(t *testing.T) {
	cost := EstimateCost("gpt-4o-mini", TokenEstimate{Input: 1_000_000, Output: 1_000_000})
	assert.InDelta(t, 0.75, cost, 0.001)
}

func TestApplyBudgetGateAppliesOptimizationsWhenOverCap(t *testing.T) {
	budget := ratelimit.NewBudgetManager(0.00001, ratelimit.PolicyOptimize)
	estimate := TokenEstimate{Input: 10000, Output: 10000000}
	_, applied, finalEstimate, useChain := ApplyBudgetGate(budget, "gpt-4o", estimate, true)
	assert.NotEmpty(t, applied)
	assert.Less(t, finalEstimate.Output, estimate.Output)
	_ = useChain
}

func TestApplyBudgetGateNoOpWhenWithinBudget(t *testing.T) {
	budget := ratelimit.NewBudgetManager(1000, ratelimit.PolicyOptimize)
	estimate := TokenEstimate{Input: 100, Output: 100}
	decision, applied, finalEstimate, useChain := ApplyBudgetGate(budget, "gpt-4o-mini", estimate, true)
	assert.True(t, decision.Approved)
	assert.Empty(t, applied)
	assert.Equal(t, estimate, finalEstimate)
	assert.True(t, useChain)
}

func TestPlanExecutionProducesChainForComplexMessage(t *testing.T) {
	cfg := DefaultConfig()
	budget := ratelimit.NewBudgetManager(1000, ratelimit.PolicyWarn)
	text := `Analyze the architectural trade-offs between a distributed database and a
	monolith, explain why step by step, and compare pros and cons for a high
	throughput concurrency-heavy protocol.`
	plan := PlanExecution(cfg, text, 5, nil, budget, "gpt-4o-mini")
	require.True(t, plan.Complexity.Level.AtLeast(Complex))
	assert.Equal(t, StrategyChainOfThought, plan.ResponseStrategy)
	require.NotNil(t, plan.ThoughtChain)
	assert.Nil(t, plan.SelectedTeacher)
}

func TestPlanExecutionDirectForSimpleMessage(t *testing.T) {
	cfg := DefaultConfig()
	budget := ratelimit.NewBudgetManager(1000, ratelimit.PolicyWarn)
	plan := PlanExecution(cfg, "hi there", 0, nil, budget, "gpt-4o-mini")
	assert.Equal(t, StrategyDirect, plan.ResponseStrategy)
	assert.Nil(t, plan.ThoughtChain)
}
