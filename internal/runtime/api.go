package runtime

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/loqalabs/loqa-dictate/internal/bus"
	"github.com/loqalabs/loqa-dictate/internal/protocol"
)

func (r *Runtime) registerAPI(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/pipeline", r.handleStatus)
	mux.HandleFunc("POST /v1/pipeline/{action}", r.handleAction)
	mux.HandleFunc("GET /v1/sessions", r.handleSessions)
	mux.HandleFunc("GET /v1/sessions/{id}", r.handleSessionEvents)
}

func (r *Runtime) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, r.ctrl.Status())
}

func (r *Runtime) handleAction(w http.ResponseWriter, req *http.Request) {
	action := req.PathValue("action")
	switch action {
	case protocol.ActionToggle, protocol.ActionStart, protocol.ActionStop:
	default:
		http.Error(w, "unknown action", http.StatusNotFound)
		return
	}
	err := bus.Apply(r.ctrl, action, 15*time.Second)
	status := r.ctrl.Status()
	code := http.StatusOK
	if err != nil {
		r.logger.Warn("pipeline action failed", slog.String("action", action), slog.String("error", err.Error()))
		status.Error = err.Error()
		code = http.StatusConflict
	}
	writeJSON(w, code, status)
}

type sessionView struct {
	ID        string    `json:"id"`
	Engine    string    `json:"engine"`
	Model     string    `json:"model,omitempty"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at,omitzero"`
	Segments  int       `json:"segments"`
}

type eventView struct {
	Seq       uint64          `json:"seq,omitempty"`
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

func (r *Runtime) handleSessions(w http.ResponseWriter, req *http.Request) {
	sessions, err := r.store.ListSessions(req.Context(), queryLimit(req, 20))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out := make([]sessionView, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, sessionView{ID: s.ID, Engine: s.Engine, Model: s.Model, StartedAt: s.StartedAt, EndedAt: s.EndedAt, Segments: s.Segments})
	}
	writeJSON(w, http.StatusOK, out)
}

func (r *Runtime) handleSessionEvents(w http.ResponseWriter, req *http.Request) {
	events, err := r.store.ListSessionEvents(req.Context(), req.PathValue("id"), queryLimit(req, 500))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out := make([]eventView, 0, len(events))
	for _, e := range events {
		v := eventView{Seq: e.Seq, Type: e.Type, Text: e.Text, CreatedAt: e.CreatedAt}
		if json.Valid(e.Payload) {
			v.Payload = e.Payload
		}
		out = append(out, v)
	}
	writeJSON(w, http.StatusOK, out)
}

func queryLimit(req *http.Request, def int) int {
	if v, err := strconv.Atoi(req.URL.Query().Get("limit")); err == nil && v > 0 {
		return v
	}
	return def
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
