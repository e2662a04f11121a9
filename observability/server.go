package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Agent-Zoey/Zoey-sub001/storage"
)

// Server exposes the local REST read API named in spec.md §4.7:
// /costs/summary, /costs/recent, /runs, plus an optional /stream websocket
// push of every recorded LLMCostRecord as it lands. stdlib net/http is used
// for the REST routes rather than a router library, matching DESIGN.md's
// rationale: the spec leaves this API's wire format unspecified beyond the
// three endpoint names, so no ecosystem router is warranted for three fixed
// routes; /stream needs the protocol upgrade gorilla/websocket provides.
type Server struct {
	sink    *Sink
	store   storage.Store
	metrics *Metrics
	stream  *StreamHub
	mux     *http.ServeMux
}

// NewServer constructs a Server and attaches a StreamHub mounted at
// /stream; the caller must run hub.Run() in its own goroutine. store may be
// nil, in which case /runs returns an empty list rather than erroring.
// metrics may be nil, in which case /metrics is not mounted.
func NewServer(sink *Sink, store storage.Store, metrics *Metrics) *Server {
	hub := NewStreamHub()
	sink.SetStream(hub)
	s := &Server{sink: sink, store: store, metrics: metrics, stream: hub}
	mux := http.NewServeMux()
	mux.HandleFunc("/costs/summary", s.handleSummary)
	mux.HandleFunc("/costs/recent", s.handleRecent)
	mux.HandleFunc("/runs", s.handleRuns)
	mux.HandleFunc("/stream", hub.HandleWS)
	if metrics != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}))
	}
	s.mux = mux
	return s
}

// StreamHub returns the server's websocket hub so the caller can start its
// Run loop.
func (s *Server) StreamHub() *StreamHub { return s.stream }

// Handler returns the server's http.Handler, for embedding in an
// http.Server the caller owns (so the caller controls host/port/TLS).
func (s *Server) Handler() http.Handler { return s.mux }

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	agentID, err := parseAgentID(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	totals := s.sink.Summary(agentID, r.URL.Query().Get("provider"), r.URL.Query().Get("conversation_id"))
	writeJSON(w, totals)
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	limit := boundedLimit(r, 50, 500)
	writeJSON(w, s.sink.Recent(limit))
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSON(w, []*storage.RunSummary{})
		return
	}
	q := storage.RunSummaryQuery{
		ConversationID: r.URL.Query().Get("conversation_id"),
		Limit:          boundedLimit(r, 50, 500),
	}
	if v := r.URL.Query().Get("agent_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		q.AgentID = &id
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	summaries, err := s.store.GetAgentRunSummaries(ctx, q)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, summaries)
}

func parseAgentID(r *http.Request) (uuid.UUID, error) {
	v := r.URL.Query().Get("agent_id")
	if v == "" {
		return uuid.Nil, nil
	}
	return uuid.Parse(v)
}

func boundedLimit(r *http.Request, def, max int) int {
	limit := def
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= max {
			limit = n
		}
	}
	return limit
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
