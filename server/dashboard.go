package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/karmalabs/karma/logger"
	"github.com/karmalabs/karma/registry"
	"github.com/karmalabs/karma/store"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.For("server.api").Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// handleStats serves aggregate stats for the dashboard.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.opts.Store.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "stats query failed")
		return
	}
	// The registry is authoritative for live sessions; the store may lag
	// behind by a recorder flush.
	stats.ActiveCalls = s.opts.Registry.Count()
	writeJSON(w, http.StatusOK, stats)
}

// handleListCalls serves paginated call history, newest first.
func (s *Server) handleListCalls(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	calls, err := s.opts.Store.ListCalls(r.Context(), store.ListOptions{
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "call listing failed")
		return
	}
	if calls == nil {
		calls = []*store.CallRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"calls":  calls,
		"limit":  limit,
		"offset": offset,
	})
}

// handleGetCall serves one call record with its transcript and intel.
func (s *Server) handleGetCall(w http.ResponseWriter, r *http.Request) {
	callID := chi.URLParam(r, "callID")

	record, err := s.opts.Store.LoadCall(r.Context(), callID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "call not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "call lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// handleTranscript serves just the conversation turns of a call.
func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	callID := chi.URLParam(r, "callID")

	record, err := s.opts.Store.LoadCall(r.Context(), callID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "call not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "call lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"call_id": callID,
		"turns":   record.Turns,
	})
}

// handleIntel serves just the extracted intelligence of a call.
func (s *Server) handleIntel(w http.ResponseWriter, r *http.Request) {
	callID := chi.URLParam(r, "callID")

	record, err := s.opts.Store.LoadCall(r.Context(), callID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "call not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "call lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"call_id": callID,
		"intel":   record.Intel,
	})
}

// handleActiveCalls serves a snapshot of live sessions.
func (s *Server) handleActiveCalls(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"calls": s.opts.Registry.ListActive(),
	})
}

// handleMute toggles silent observation for a live session.
func (s *Server) handleMute(w http.ResponseWriter, r *http.Request) {
	callID := chi.URLParam(r, "callID")

	var body struct {
		Muted bool `json:"muted"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.opts.Registry.SetMute(callID, body.Muted); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			writeError(w, http.StatusNotFound, "call not active")
			return
		}
		writeError(w, http.StatusInternalServerError, "mute failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"call_id": callID, "muted": body.Muted})
}

// handleDrop ends a live session from the dashboard.
func (s *Server) handleDrop(w http.ResponseWriter, r *http.Request) {
	callID := chi.URLParam(r, "callID")
	s.opts.Registry.Destroy(callID, "dropped from dashboard")
	writeJSON(w, http.StatusOK, map[string]any{"call_id": callID, "dropped": true})
}

// handleDashboardWS streams bus events to a dashboard client as JSON.
// Slow clients fall behind on their subscription buffer and lose events
// rather than stalling the pipelines.
func (s *Server) handleDashboardWS(w http.ResponseWriter, r *http.Request) {
	log := logger.For("server.dashboard")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error("dashboard upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sub := s.opts.Bus.Subscribe()
	defer s.opts.Bus.Unsubscribe(sub)

	// Reader goroutine: dashboard clients send nothing meaningful, but
	// reading surfaces the close frame.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case event, ok := <-sub.C:
			if !ok {
				return
			}
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}
