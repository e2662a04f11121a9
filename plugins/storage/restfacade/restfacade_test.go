package restfacade

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/Agent-Zoey/Zoey-sub001/storage"
)

// newTestServer wires a minimal in-memory agent store behind an HTTP
// mux, standing in for the managed service restfacade talks to.
func newTestServer(t *testing.T) (*Store, func()) {
	t.Helper()
	agents := map[string]*storage.Agent{}

	mux := http.NewServeMux()
	mux.HandleFunc("/agents", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			var a storage.Agent
			require.NoError(t, json.NewDecoder(r.Body).Decode(&a))
			if a.ID == uuid.Nil {
				a.ID = uuid.New()
			}
			a.CreatedAt, a.UpdatedAt = time.Now(), time.Now()
			agents[a.ID.String()] = &a
			json.NewEncoder(w).Encode(a)
		case http.MethodGet:
			out := make([]*storage.Agent, 0, len(agents))
			for _, a := range agents {
				out = append(out, a)
			}
			json.NewEncoder(w).Encode(out)
		}
	})
	mux.HandleFunc("/agents/", func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Path[len("/agents/"):]
		switch r.Method {
		case http.MethodGet:
			a, ok := agents[id]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				json.NewEncoder(w).Encode(map[string]string{"error": "not found"})
				return
			}
			json.NewEncoder(w).Encode(a)
		case http.MethodPut:
			var a storage.Agent
			require.NoError(t, json.NewDecoder(r.Body).Decode(&a))
			agents[id] = &a
			json.NewEncoder(w).Encode(a)
		case http.MethodDelete:
			if _, ok := agents[id]; !ok {
				w.WriteHeader(http.StatusNotFound)
				json.NewEncoder(w).Encode(map[string]string{"error": "not found"})
				return
			}
			delete(agents, id)
			w.WriteHeader(http.StatusNoContent)
		}
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := httptest.NewServer(mux)
	s := New(srv.URL, "test-key")
	return s, srv.Close
}

func TestIsReady(t *testing.T) {
	s, closeFn := newTestServer(t)
	defer closeFn()
	require.True(t, s.IsReady(context.Background()))
}

func TestAgentCRUDOverHTTP(t *testing.T) {
	s, closeFn := newTestServer(t)
	defer closeFn()
	ctx := context.Background()

	a := &storage.Agent{Name: "zoey", Character: storage.Character{Name: "zoey", Persona: "helpful"}}
	require.NoError(t, s.CreateAgent(ctx, a))
	require.NotEqual(t, uuid.Nil, a.ID)

	got, err := s.GetAgent(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, "zoey", got.Name)

	got.Name = "zoey-renamed"
	require.NoError(t, s.UpdateAgent(ctx, got))

	again, err := s.GetAgent(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, "zoey-renamed", again.Name)

	require.NoError(t, s.DeleteAgent(ctx, a.ID))
	_, err = s.GetAgent(ctx, a.ID)
	require.Error(t, err)
	require.True(t, storage.IsNotFound(err))
}

func TestGetAgentNotFoundClassifiesAsNotFound(t *testing.T) {
	s, closeFn := newTestServer(t)
	defer closeFn()

	_, err := s.GetAgent(context.Background(), uuid.New())
	require.Error(t, err)
	require.True(t, storage.IsNotFound(err))

	var sErr *storage.Error
	require.ErrorAs(t, err, &sErr)
	require.Equal(t, storage.KindNotFound, sErr.Kind)
}

func TestTransportErrorClassifiesAsBackendUnavailable(t *testing.T) {
	s := New("http://127.0.0.1:1", "")
	_, err := s.GetAgent(context.Background(), uuid.New())
	require.Error(t, err)

	var sErr *storage.Error
	require.ErrorAs(t, err, &sErr)
	require.Equal(t, storage.KindBackendUnavailable, sErr.Kind)
}
