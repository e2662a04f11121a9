package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Agent-Zoey/Zoey-sub001/internal/obslog"
	"github.com/Agent-Zoey/Zoey-sub001/internal/tracing"
	"github.com/Agent-Zoey/Zoey-sub001/kernel"
	"github.com/Agent-Zoey/Zoey-sub001/planner"
	"github.com/Agent-Zoey/Zoey-sub001/provider"
	"github.com/Agent-Zoey/Zoey-sub001/ratelimit"
	"github.com/Agent-Zoey/Zoey-sub001/storage"
)

// CostSink receives a completed LLMCostRecord for aggregation/persistence,
// implemented by package observability. Declared here rather than imported
// to avoid a pipeline↔observability import cycle.
type CostSink interface {
	Record(ctx context.Context, rec storage.LLMCostRecord, prompt, completion string)
}

// Runner wires a Kernel, a Dedup set, an AdmissionLimiter, a planner
// Config/teacher pool, and a CostSink into the full per-message state
// machine. Grounded on the teacher's RunnerImpl (core/runner.go): a
// per-message isolated execution generalizes the teacher's per-event
// dispatch loop, with the kernel's read lock taken only for snapshotting.
type Runner struct {
	k            *kernel.Kernel
	dedup        *Dedup
	admission    *AdmissionLimiter
	workers      *WorkerPool
	plannerCfg   planner.Config
	teachers     []planner.Teacher
	budget       *ratelimit.BudgetManager
	namespace    uuid.UUID
	costSink     CostSink
	editInterval time.Duration
	inactivity   time.Duration
}

// RunnerConfig configures a Runner's non-kernel collaborators.
type RunnerConfig struct {
	ACL           ACL
	AlwaysOnChats []string
	PlannerConfig planner.Config
	Teachers      []planner.Teacher
	Budget        *ratelimit.BudgetManager
	Namespace     uuid.UUID
	CostSink      CostSink
	WorkerPool    WorkerPoolConfig
	EditInterval  time.Duration
	Inactivity    time.Duration
}

// NewRunner constructs a Runner bound to k.
func NewRunner(k *kernel.Kernel, cfg RunnerConfig) *Runner {
	return &Runner{
		k:            k,
		dedup:        NewDedup(),
		admission:    NewAdmissionLimiter(cfg.ACL, cfg.AlwaysOnChats),
		workers:      NewWorkerPool(cfg.WorkerPool),
		plannerCfg:   cfg.PlannerConfig,
		teachers:     cfg.Teachers,
		budget:       cfg.Budget,
		namespace:    cfg.Namespace,
		costSink:     cfg.CostSink,
		editInterval: cfg.EditInterval,
		inactivity:   cfg.Inactivity,
	}
}

// Submit admits msg into an isolated worker running the full state machine.
// It returns immediately once the worker has been queued; the worker pool's
// concurrency budget provides backpressure via ctx.
func (r *Runner) Submit(ctx context.Context, msg InboundMessage) error {
	return r.workers.Submit(ctx, msg.Source+":"+msg.MessageExternalID, func(ctx context.Context) {
		outcome := r.process(ctx, msg)
		log := obslog.With("pipeline")
		if outcome.Error != nil {
			log.Error().Err(outcome.Error).Str("state", string(outcome.FinalState)).Msg("message processing ended in error")
		} else if outcome.DropReason != "" {
			log.Debug().Str("reason", string(outcome.DropReason)).Msg("message dropped")
		}
	})
}

// process runs the Received→Done chain for a single message, per spec §4.6.
func (r *Runner) process(ctx context.Context, msg InboundMessage) Outcome {
	ctx, span := tracing.StartMessage(ctx, msg.Source, msg.ChatID, msg.MessageExternalID)
	defer span.End()
	tracing.MarkState(span, string(StateReceived))

	if msg.IsBotAuthor {
		return Outcome{FinalState: StateDropped, DropReason: DropInvalid}
	}

	// Received -> Validated
	if !Validate(msg) {
		return Outcome{FinalState: StateDropped, DropReason: DropInvalid}
	}
	tracing.MarkState(span, string(StateValidated))

	// Validated -> Admitted (dedup)
	key := Key(msg.ChatID, msg.UserExternalID, msg.MessageExternalID)
	if !r.dedup.TryInsert(key) {
		return Outcome{FinalState: StateDropped, DropReason: DropDuplicate}
	}
	defer r.dedup.Remove(key)

	// Admitted -> Accepted (rate-limit, ACL, addressed-to-me)
	if ok, reason := r.admission.Check(msg); !ok {
		return Outcome{FinalState: StateDropped, DropReason: reason}
	}
	tracing.MarkState(span, string(StateAccepted))

	store := r.k.Adapter()
	agentID := r.k.AgentID()

	var entity *storage.Entity
	var room *storage.Room
	var err error
	if store != nil {
		entity, room, err = ResolveRoomAndEntity(ctx, store, r.namespace, agentID, msg)
		if err != nil {
			return Outcome{FinalState: StateAccepted, Error: err}
		}
		inbound := &storage.Memory{
			EntityID: entity.ID,
			AgentID:  agentID,
			RoomID:   room.ID,
			Content:  storage.MemoryContent{Text: msg.Text, Source: msg.Source},
		}
		if _, err := store.CreateMemory(ctx, inbound, "memories"); err != nil {
			obslog.With("pipeline").Warn().Err(err).Msg("failed to persist inbound memory")
		}
	}

	sendHandler, hasSendHandler := r.k.SendHandlerFor(msg.Source)
	if hasSendHandler {
		_ = sendHandler(ctx, msg.ChatID, "...")
	}

	// Planning
	tracing.MarkState(span, string(StatePlanning))
	plan := planner.PlanExecution(r.plannerCfg, msg.Text, 0, r.teachers, r.budget, defaultModelName(r.k))

	// Generating
	tracing.MarkState(span, string(StateGenerating))
	providers := r.k.Providers()
	if len(providers) == 0 {
		tracing.RecordError(span, errNoProvider)
		return Outcome{FinalState: StateFinalizing, Error: errNoProvider}
	}
	chosen := providers[0].Provider

	started := time.Now()
	params := provider.GenerateParams{Prompt: msg.Text, MaxTokens: plan.TokenEstimate.Output, Temperature: 0.7}
	if plan.SelectedTeacher != nil {
		params.Model = plan.SelectedTeacher.ModelName
	}

	var assembled string
	var interrupted bool

	if plan.UseChainOfThought && plan.ThoughtChain != nil {
		chain := plan.ThoughtChain
		out, err := chain.Execute(func(step planner.ChainStep, c *planner.ThoughtChain) (string, error) {
			stepParams := provider.GenerateParams{
				Prompt:      chainStepPrompt(step, c, msg.Text),
				Model:       params.Model,
				MaxTokens:   step.MaxTokens,
				Temperature: float32(step.Temperature),
			}
			result, genErr := chosen.Generate(ctx, stepParams)
			if genErr != nil {
				return "", genErr
			}
			return result.Text, nil
		})
		if err != nil {
			obslog.With("pipeline").Warn().Err(err).Msg("chain of thought execution failed")
			assembled = "Error"
		} else {
			assembled = out
		}
	} else {
		streamChunks, streamErr := chosen.GenerateStream(ctx, params)
		if streamErr != nil {
			result, genErr := chosen.Generate(ctx, params)
			if genErr != nil {
				assembled = "Error"
			} else {
				assembled = result.Text
			}
		} else {
			pacer := NewPacer(r.editInterval, r.inactivity)
			// Consume only paces the intermediate edits during Generating; each
			// one passes through ExtractText so the <text> wrapper never reaches
			// the adapter. The single final edit is always the Finalizing block's
			// sendHandler call below, sent once with <text> wrapper extraction and
			// the interrupted marker applied, per spec §4.6's "exactly one edit
			// after the final chunk".
			emit := func(ctx context.Context, text string, final bool) error {
				if !hasSendHandler || final {
					return nil
				}
				return sendHandler(ctx, msg.ChatID, ExtractText(text))
			}
			var err error
			assembled, interrupted, err = Consume(ctx, streamChunks, pacer, emit)
			if err != nil && assembled == "" {
				assembled = "Error"
			}
		}
	}
	latency := time.Since(started)

	// Finalizing
	tracing.MarkState(span, string(StateFinalizing))
	finalText := ExtractText(assembled)
	if interrupted {
		finalText += " (interrupted)"
	}
	if hasSendHandler {
		_ = sendHandler(ctx, msg.ChatID, finalText)
	}

	if store != nil && entity != nil && room != nil {
		outbound := &storage.Memory{
			EntityID: entity.ID,
			AgentID:  agentID,
			RoomID:   room.ID,
			Content:  storage.MemoryContent{Text: finalText, Source: "agent"},
		}
		if _, err := store.CreateMemory(ctx, outbound, "memories"); err != nil {
			obslog.With("pipeline").Warn().Err(err).Msg("failed to persist outbound memory")
		}
	}

	if r.costSink != nil {
		rec := storage.LLMCostRecord{
			ID:               uuid.New(),
			Timestamp:        started,
			AgentID:          agentID,
			UserID:           msg.UserExternalID,
			ConversationID:   msg.ChatID,
			Provider:         chosen.Name(),
			Model:            params.Model,
			Temperature:      float32(params.Temperature),
			PromptTokens:     plan.TokenEstimate.Input,
			CompletionTokens: plan.TokenEstimate.Output,
			TotalTokens:      plan.TokenEstimate.Total,
			LatencyMS:        latency.Milliseconds(),
			Success:          true,
			TotalCostUSD:     plan.CostEstimate,
		}
		r.costSink.Record(ctx, rec, msg.Text, finalText)
	}

	tracing.MarkState(span, string(StateDone))
	return Outcome{FinalState: StateDone, FinalText: finalText, Interrupted: interrupted}
}

var errNoProvider = noProviderError{}

type noProviderError struct{}

func (noProviderError) Error() string { return "pipeline: no provider registered in kernel" }

func defaultModelName(k *kernel.Kernel) string {
	if v, ok := k.Setting("OPENAI_MODEL"); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return "gpt-4o-mini"
}

// chainStepPrompt builds the prompt for one Analyze→Draft→Refine chain
// step: the original message plus the output of every step it depends on,
// so "draft" sees the analysis and "refine" sees the draft.
func chainStepPrompt(step planner.ChainStep, chain *planner.ThoughtChain, originalText string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "User message:\n%s\n", originalText)
	for _, depName := range step.DependsOn {
		for _, s := range chain.Steps {
			if s.Name == depName && s.Output != "" {
				fmt.Fprintf(&b, "\n%s output:\n%s\n", depName, s.Output)
			}
		}
	}
	switch step.Name {
	case "analyze":
		b.WriteString("\nAnalyze this request and identify its key requirements.")
	case "draft":
		b.WriteString("\nDraft a response addressing the analysis above.")
	case "refine":
		b.WriteString("\nRefine the draft above into the final response.")
	}
	return b.String()
}
