package dispatch

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	kokoroErrors "github.com/harunnryd/kokoro/internal/errors"
	"github.com/harunnryd/kokoro/internal/form"
	"github.com/harunnryd/kokoro/internal/graph"
	"github.com/harunnryd/kokoro/internal/logger"
	"github.com/harunnryd/kokoro/internal/store"
)

type taskRequest struct {
	Text      string   `json:"text"`
	SessionID string   `json:"session_id"`
	Images    []string `json:"images,omitempty"`
}

func (d *Dispatcher) handleTask(w http.ResponseWriter, r *http.Request) {
	var req taskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Text == "" && len(req.Images) == 0 {
		http.Error(w, "Missing required field: text", http.StatusBadRequest)
		return
	}

	session, err := d.store.GetOrCreateSession(req.SessionID)
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	// One turn per session at a time.
	d.locks.Lock(session.ID)
	defer d.locks.Unlock(session.ID)

	state := d.loadOrCreateState(session.ID, graph.SemanticInput{
		Text:   req.Text,
		Images: req.Images,
	})

	if req.Text != "" {
		if _, err := d.store.AppendMessage(session.ID, store.RoleUser, req.Text); err != nil {
			slog.Warn("Could not record user message", "session_id", session.ID, "error", err)
		}
	}

	sse, ok := newSSEWriter(w)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	ctx := logger.WithSessionID(r.Context(), session.ID)

	// Bounded channel between the graph (producer) and the client stream
	// (consumer); the runner blocks when the client reads slowly.
	events := make(chan graph.Event, d.eventBuffer)
	done := make(chan error, 1)
	go func() {
		defer close(events)
		done <- d.runner.Run(ctx, state, func(ev graph.Event) { events <- ev })
	}()

	for ev := range events {
		sse.event(ev)
	}

	if err := <-done; err != nil {
		slog.Error("Turn failed", "session_id", session.ID, "error", err)
	}

	if state.Response != "" {
		if _, err := d.store.AppendMessage(session.ID, store.RoleAssistant, state.Response); err != nil {
			slog.Warn("Could not record assistant message", "session_id", session.ID, "error", err)
		}
	}

	sse.event(graph.Event{Type: graph.EventDone, Data: map[string]string{
		"session_id": session.ID,
		"status":     string(state.Status),
	}})
	sse.terminate()
}

// loadOrCreateState restores the session's persisted state when one exists.
func (d *Dispatcher) loadOrCreateState(sessionID string, input graph.SemanticInput) *graph.GraphState {
	data, err := d.store.GetGraphState(sessionID)
	if err != nil {
		if !errors.Is(err, kokoroErrors.ErrNotFound) {
			slog.Warn("Could not load graph state", "session_id", sessionID, "error", err)
		}
		return graph.NewState(sessionID, input)
	}
	prev, err := graph.UnmarshalState(data)
	if err != nil {
		slog.Warn("Discarding unreadable graph state", "session_id", sessionID, "error", err)
		return graph.NewState(sessionID, input)
	}
	return graph.CarryForward(prev, input)
}

type answerRequest struct {
	ActionID  string `json:"actionID"`
	Text      string `json:"text"`
	SessionID string `json:"session_id"`
}

func (d *Dispatcher) handleAnswer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	d.locks.Lock(req.SessionID)
	defer d.locks.Unlock(req.SessionID)

	data, err := d.store.GetGraphState(req.SessionID)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":"Session not found"}`)
		return
	}
	state, err := graph.UnmarshalState(data)
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	sub := parseSubmission(req)
	outcome, err := d.formHandler.Handle(sub)

	w.Header().Set("Content-Type", "application/json")
	switch {
	case errors.Is(err, kokoroErrors.ErrExpired):
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "expired or not found"})
		return
	case errors.Is(err, kokoroErrors.ErrSessionMismatch):
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "session mismatch"})
		return
	case err != nil:
		slog.Warn("Form submission failed", "action_id", req.ActionID, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	// Merge the answer into the state; the next /task re-enters reasoning
	// with the continuation as its effective input.
	state.AbsorbAnswer(req.ActionID, outcome.Continuation)
	if _, err := d.store.AppendMessage(req.SessionID, store.RoleTool,
		fmt.Sprintf("[%s] %s", req.ActionID, outcome.Continuation)); err != nil {
		slog.Warn("Could not record answer message", "session_id", req.SessionID, "error", err)
	}
	if persisted, err := state.Marshal(); err == nil {
		if err := d.store.SaveGraphState(req.SessionID, persisted); err != nil {
			slog.Warn("Could not persist answered state", "session_id", req.SessionID, "error", err)
		}
	}

	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// parseSubmission decodes the answer payload: a JSON object is taken as the
// structured submission, anything else rides as raw text under approve.
func parseSubmission(req answerRequest) form.Submission {
	sub := form.Submission{
		RequestID: req.ActionID,
		SessionID: req.SessionID,
		Action:    "approve",
	}

	var body struct {
		Action string         `json:"action"`
		Data   map[string]any `json:"data"`
	}
	if err := json.Unmarshal([]byte(req.Text), &body); err == nil && (body.Action != "" || body.Data != nil) {
		if body.Action != "" {
			sub.Action = body.Action
		}
		sub.Data = body.Data
		return sub
	}

	var plain map[string]any
	if err := json.Unmarshal([]byte(req.Text), &plain); err == nil {
		sub.Data = plain
		return sub
	}

	sub.Data = map[string]any{"text": req.Text}
	return sub
}
