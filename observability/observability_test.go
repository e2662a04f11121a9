package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Agent-Zoey/Zoey-sub001/storage"
)

func TestHashPromptIsStableAndPreviewTruncates(t *testing.T) {
	h1 := HashPrompt("hello world")
	h2 := HashPrompt("hello world")
	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, HashPrompt("goodbye"))

	short := Preview("short text")
	assert.Equal(t, "short text", short)

	long := Preview(stringsRepeat("a", previewLen+10))
	assert.Len(t, []rune(long), previewLen+1) // +1 for the ellipsis rune
}

func stringsRepeat(s string, n int) string {
	out := make([]byte, 0, len(s)*n)
	for i := 0; i < n; i++ {
		out = append(out, s...)
	}
	return string(out)
}

type fakeMonitor struct {
	called      bool
	gotPrompt   string
	gotComplete string
}

func (f *fakeMonitor) Inspect(ctx context.Context, rec *storage.LLMCostRecord, prompt, completion string) {
	f.called = true
	f.gotPrompt = prompt
	f.gotComplete = completion
	rec.Error = "pii-flagged"
}

func TestSinkRecordInvokesSecurityMonitorAndAggregates(t *testing.T) {
	monitor := &fakeMonitor{}
	sink := NewSink(nil, monitor, nil)
	agentID := uuid.New()

	sink.Record(context.Background(), storage.LLMCostRecord{
		AgentID:          agentID,
		Provider:         "openai",
		ConversationID:   "c1",
		PromptTokens:     10,
		CompletionTokens: 20,
		TotalTokens:      30,
		TotalCostUSD:     0.05,
	}, "what is the weather", "it is sunny")

	assert.True(t, monitor.called)
	assert.Equal(t, "what is the weather", monitor.gotPrompt)
	assert.Equal(t, "it is sunny", monitor.gotComplete)

	totals := sink.Summary(agentID, "openai", "c1")
	assert.Equal(t, int64(1), totals.Calls)
	assert.Equal(t, int64(30), totals.TotalTokens)
	assert.InDelta(t, 0.05, totals.CostUSD, 1e-9)

	recent := sink.Recent(10)
	require.Len(t, recent, 1)
	assert.NotEmpty(t, recent[0].PromptHash)
	assert.Equal(t, "pii-flagged", recent[0].Error)
}

func TestSinkRecordAccumulatesAcrossMultipleCalls(t *testing.T) {
	sink := NewSink(nil, nil, nil)
	agentID := uuid.New()

	for i := 0; i < 3; i++ {
		sink.Record(context.Background(), storage.LLMCostRecord{
			AgentID:        agentID,
			Provider:       "openai",
			ConversationID: "c1",
			TotalTokens:    10,
			TotalCostUSD:   0.01,
		}, "prompt", "completion")
	}

	totals := sink.Summary(agentID, "openai", "c1")
	assert.Equal(t, int64(3), totals.Calls)
	assert.Equal(t, int64(30), totals.TotalTokens)
	assert.InDelta(t, 0.03, totals.CostUSD, 1e-9)
}

func TestSinkRecentIsMostRecentFirstAndBounded(t *testing.T) {
	sink := NewSink(nil, nil, nil)
	for _, id := range []string{"c0", "c1", "c2", "c3", "c4"} {
		sink.Record(context.Background(), storage.LLMCostRecord{ConversationID: id}, "p", "c")
	}
	recent := sink.Recent(2)
	require.Len(t, recent, 2)
	assert.Equal(t, "c4", recent[0].ConversationID)
	assert.Equal(t, "c3", recent[1].ConversationID)
}

func TestMetricsObserveDoesNotPanic(t *testing.T) {
	m := NewMetrics()
	m.Observe(storage.LLMCostRecord{
		Provider:         "openai",
		Model:            "gpt-4o",
		PromptTokens:     5,
		CompletionTokens: 5,
		TotalCostUSD:     0.01,
		LatencyMS:        250,
	})
	assert.NotNil(t, m.Registry())
}

type fakeRunStore struct {
	storage.Store
	summaries []*storage.RunSummary
}

func (f *fakeRunStore) GetAgentRunSummaries(ctx context.Context, q storage.RunSummaryQuery) ([]*storage.RunSummary, error) {
	return f.summaries, nil
}

func TestServerCostsSummaryAndRecentEndpoints(t *testing.T) {
	sink := NewSink(nil, nil, nil)
	agentID := uuid.New()
	sink.Record(context.Background(), storage.LLMCostRecord{
		AgentID:        agentID,
		Provider:       "openai",
		ConversationID: "c1",
		TotalCostUSD:   1.5,
	}, "p", "c")

	srv := NewServer(sink, nil, NewMetrics())

	req := httptest.NewRequest(http.MethodGet, "/costs/summary?agent_id="+agentID.String()+"&provider=openai&conversation_id=c1", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var totals Totals
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &totals))
	assert.Equal(t, int64(1), totals.Calls)
	assert.InDelta(t, 1.5, totals.CostUSD, 1e-9)

	req2 := httptest.NewRequest(http.MethodGet, "/costs/recent?limit=5", nil)
	rec2 := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec2, req2)
	require.Equal(t, http.StatusOK, rec2.Code)

	var records []storage.LLMCostRecord
	require.NoError(t, json.Unmarshal(rec2.Body.Bytes(), &records))
	require.Len(t, records, 1)
}

func TestServerRunsEndpointWithoutStoreReturnsEmpty(t *testing.T) {
	srv := NewServer(NewSink(nil, nil, nil), nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/runs", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var runs []storage.RunSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	assert.Empty(t, runs)
}

func TestServerRunsEndpointDelegatesToStore(t *testing.T) {
	store := &fakeRunStore{summaries: []*storage.RunSummary{{ConversationID: "c1", CallCount: 4}}}
	srv := NewServer(NewSink(nil, nil, nil), store, nil)

	req := httptest.NewRequest(http.MethodGet, "/runs?agent_id="+uuid.New().String(), nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var runs []storage.RunSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, 4, runs[0].CallCount)
}

func TestServerRunsEndpointRejectsInvalidAgentID(t *testing.T) {
	srv := NewServer(NewSink(nil, nil, nil), &fakeRunStore{}, nil)
	req := httptest.NewRequest(http.MethodGet, "/runs?agent_id=not-a-uuid", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStreamPushesRecordedCostsToConnectedClients(t *testing.T) {
	sink := NewSink(nil, nil, nil)
	srv := NewServer(sink, nil, nil)
	go srv.StreamHub().Run()

	httpSrv := httptest.NewServer(srv.Handler())
	defer httpSrv.Close()

	wsURL := "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Give the hub goroutine a moment to register the connection before a
	// record is broadcast; Record runs synchronously on this goroutine.
	time.Sleep(20 * time.Millisecond)

	sink.Record(context.Background(), storage.LLMCostRecord{
		Provider:     "openai",
		TotalCostUSD: 0.02,
	}, "p", "c")

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var rec storage.LLMCostRecord
	require.NoError(t, conn.ReadJSON(&rec))
	assert.Equal(t, "openai", rec.Provider)
	assert.InDelta(t, 0.02, rec.TotalCostUSD, 1e-9)
}
