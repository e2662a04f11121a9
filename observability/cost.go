// Package observability aggregates LLMCostRecords, persists them through
// the storage contract, exposes a local REST read API, and mirrors each
// record into Prometheus counters and a latency histogram labelled by
// provider and model. Grounded on the teacher's internal/mcp
// metrics collector (prometheus.Registry + Counter/GaugeVec idiom),
// generalized from MCP tool-call metrics to LLM cost/latency metrics.
package observability

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Agent-Zoey/Zoey-sub001/internal/obslog"
	"github.com/Agent-Zoey/Zoey-sub001/storage"
)

const previewLen = 80

// HashPrompt computes a privacy-preserving prompt hash, per spec.md §4.7.
func HashPrompt(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:])
}

// Preview truncates prompt to a short, non-identifying preview.
func Preview(prompt string) string {
	r := []rune(prompt)
	if len(r) <= previewLen {
		return string(r)
	}
	return string(r[:previewLen]) + "…"
}

// SecurityMonitor optionally inspects prompt/completion text for PII
// violations, per spec.md §4.7. Implementations attach findings to the
// record before it is enqueued.
type SecurityMonitor interface {
	Inspect(ctx context.Context, rec *storage.LLMCostRecord, prompt, completion string)
}

// aggregateKey scopes a rolling total to an agent/provider/conversation tuple.
type aggregateKey struct {
	AgentID        uuid.UUID
	Provider       string
	ConversationID string
}

// Totals is a rolling aggregate over a set of LLMCostRecords.
type Totals struct {
	Calls            int64
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
	CostUSD          float64
	LastSeen         time.Time
}

// Sink enqueues cost records for aggregation, persists them (best-effort),
// and serves the rolling totals to the REST/metrics surfaces. Safe for
// concurrent use: a single mutex guards the in-memory aggregate maps, and
// persistence failures are logged but never fail the call, per spec §4.7.
type Sink struct {
	mu        sync.Mutex
	store     storage.Store
	monitor   SecurityMonitor
	byKey     map[aggregateKey]*Totals
	recent    []storage.LLMCostRecord
	maxRecent int
	metrics   *Metrics
	stream    *StreamHub
}

// NewSink constructs a Sink. store may be nil (persistence is then skipped
// entirely); monitor may be nil (no PII inspection is performed).
func NewSink(store storage.Store, monitor SecurityMonitor, metrics *Metrics) *Sink {
	return &Sink{
		store:     store,
		monitor:   monitor,
		byKey:     make(map[aggregateKey]*Totals),
		maxRecent: 500,
		metrics:   metrics,
	}
}

// SetStream attaches a StreamHub so every recorded record is pushed to
// connected websocket clients in addition to the REST/metrics surfaces.
func (s *Sink) SetStream(h *StreamHub) { s.stream = h }

// Record implements pipeline.CostSink: run the security monitor (if any)
// over the raw prompt/completion text, enqueue for aggregation, persist
// (non-fatal on failure), and mirror to Prometheus if configured. completion
// is used only for PII inspection; of prompt, only its hash and a short
// Preview (the first 80 runes) are kept on the record, which is retained in
// the recent list and persisted.
func (s *Sink) Record(ctx context.Context, rec storage.LLMCostRecord, prompt, completion string) {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	if rec.PromptHash == "" && prompt != "" {
		rec.PromptHash = HashPrompt(prompt)
	}
	if rec.PromptPreview == "" && prompt != "" {
		rec.PromptPreview = Preview(prompt)
	}

	if s.monitor != nil {
		s.monitor.Inspect(ctx, &rec, prompt, completion)
	}

	s.mu.Lock()
	key := aggregateKey{AgentID: rec.AgentID, Provider: rec.Provider, ConversationID: rec.ConversationID}
	t, ok := s.byKey[key]
	if !ok {
		t = &Totals{}
		s.byKey[key] = t
	}
	t.Calls++
	t.PromptTokens += int64(rec.PromptTokens)
	t.CompletionTokens += int64(rec.CompletionTokens)
	t.TotalTokens += int64(rec.TotalTokens)
	t.CostUSD += rec.TotalCostUSD
	t.LastSeen = rec.Timestamp

	s.recent = append(s.recent, rec)
	if len(s.recent) > s.maxRecent {
		s.recent = s.recent[len(s.recent)-s.maxRecent:]
	}
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.Observe(rec)
	}

	if s.stream != nil {
		s.stream.Broadcast(rec)
	}

	if s.store != nil {
		if err := s.store.PersistLLMCost(ctx, &rec); err != nil {
			obslog.With("observability").Warn().Err(err).Msg("failed to persist llm cost record")
		}
	}
}

// Summary returns the rolling totals for a (agentID, provider, conversationID)
// tuple, or zero-value Totals if nothing has been recorded yet.
func (s *Sink) Summary(agentID uuid.UUID, provider, conversationID string) Totals {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := aggregateKey{AgentID: agentID, Provider: provider, ConversationID: conversationID}
	if t, ok := s.byKey[key]; ok {
		return *t
	}
	return Totals{}
}

// Recent returns up to limit most-recent records, most-recent first.
func (s *Sink) Recent(limit int) []storage.LLMCostRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 || limit > len(s.recent) {
		limit = len(s.recent)
	}
	out := make([]storage.LLMCostRecord, limit)
	for i := 0; i < limit; i++ {
		out[i] = s.recent[len(s.recent)-1-i]
	}
	return out
}
