package pipeline

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Agent-Zoey/Zoey-sub001/kernel"
	"github.com/Agent-Zoey/Zoey-sub001/planner"
	"github.com/Agent-Zoey/Zoey-sub001/provider"
)

// streamingProvider streams a wrapped <text> response in two chunks, and
// records how many step-level Generate calls it received for the chain
// path.
type streamingProvider struct {
	generateCalls []provider.GenerateParams
}

func (p *streamingProvider) Name() string  { return "fake" }
func (p *streamingProvider) Priority() int { return 1 }
func (p *streamingProvider) Capabilities() map[provider.Capability]bool {
	return map[provider.Capability]bool{provider.CapChat: true, provider.CapStream: true}
}
func (p *streamingProvider) Generate(ctx context.Context, params provider.GenerateParams) (provider.Result, error) {
	p.generateCalls = append(p.generateCalls, params)
	return provider.Result{Text: "step:" + params.Prompt[:1]}, nil
}
func (p *streamingProvider) GenerateStream(ctx context.Context, params provider.GenerateParams) (<-chan provider.Chunk, error) {
	ch := make(chan provider.Chunk, 2)
	ch <- provider.Chunk{Text: "<text>hi"}
	ch <- provider.Chunk{Text: "!</text>", Final: true}
	close(ch)
	return ch, nil
}
func (p *streamingProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, nil
}

type recordingSendHandler struct {
	mu    sync.Mutex
	calls []string
}

func (r *recordingSendHandler) handle(ctx context.Context, target, content string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, content)
	return nil
}

func newTestRunner(t *testing.T, p provider.Provider) (*Runner, *recordingSendHandler) {
	t.Helper()
	k := kernel.New(uuid.New(), kernel.Character{}, nil)
	k.RegisterProvider(p)
	rec := &recordingSendHandler{}
	k.RegisterSendHandler("test", rec.handle)
	runner := NewRunner(k, RunnerConfig{
		PlannerConfig: planner.DefaultConfig(),
		WorkerPool:    DefaultWorkerPoolConfig(),
	})
	return runner, rec
}

func TestProcessStreamingEmitsExactlyOneFinalEditWithTagsStripped(t *testing.T) {
	p := &streamingProvider{}
	runner, rec := newTestRunner(t, p)

	msg := InboundMessage{
		Source: "test", ChatID: "c1", UserExternalID: "u1",
		MessageExternalID: "m1", Text: "hello there", IsPrivate: true,
	}
	outcome := runner.process(context.Background(), msg)
	require.NoError(t, outcome.Error)
	assert.Equal(t, StateDone, outcome.FinalState)
	assert.Equal(t, "hi!", outcome.FinalText)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	finalCount := 0
	for _, c := range rec.calls {
		if c == "hi!" {
			finalCount++
		}
		assert.NotContains(t, c, "<text>", "no delivered edit should leak the wrapper tag")
	}
	assert.Equal(t, 1, finalCount, "exactly one edit carrying the final stripped text")
}

func TestProcessUsesChainOfThoughtWhenPlanRequiresIt(t *testing.T) {
	p := &streamingProvider{}
	runner, _ := newTestRunner(t, p)
	runner.plannerCfg = planner.Config{
		EnableChainOfThought:    true,
		ChainOfThoughtThreshold: planner.Trivial,
		RoutingPreference:       planner.PreferBalanced,
		RequiresApprovalAbove:   planner.VeryComplex,
	}

	msg := InboundMessage{
		Source: "test", ChatID: "c1", UserExternalID: "u1",
		MessageExternalID: "m2", Text: "design a complex distributed system architecture with many tradeoffs", IsPrivate: true,
	}
	outcome := runner.process(context.Background(), msg)
	require.NoError(t, outcome.Error)

	require.Len(t, p.generateCalls, 3, "analyze, draft, and refine should each call Generate once")
	assert.True(t, strings.Contains(outcome.FinalText, "step:"), "final text should come from the chain's refine step output, not the flat stream path")
}
