package dispatch

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/harunnryd/kokoro/internal/store"
)

func (d *Dispatcher) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	sessions, err := d.store.ListSessions()
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, sessions)
}

// handleListSessionMessages returns a session's transcript in chronological
// order; ?limit= keeps only the most recent rows.
func (d *Dispatcher) handleListSessionMessages(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := d.store.GetSession(id); err != nil {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}

	msgs, err := d.store.ListMessages(id, limit)
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if msgs == nil {
		msgs = []store.Message{}
	}
	writeJSON(w, msgs)
}

// handleDeleteSession cascades: messages, working memory, and the persisted
// graph state go with the session row.
func (d *Dispatcher) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := d.store.DeleteSession(id); err != nil {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]string{"status": "deleted", "id": id})
}

func (d *Dispatcher) handleListToolHosts(w http.ResponseWriter, _ *http.Request) {
	statuses, err := d.hosts.List()
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, statuses)
}

func (d *Dispatcher) handleToolHostAction(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	cfg, err := d.registry.GetByName(name)
	if err != nil {
		http.Error(w, "Tool host not found", http.StatusNotFound)
		return
	}

	action := path.Base(r.URL.Path)
	switch action {
	case "start":
		err = d.hosts.Start(cfg.ID)
	case "stop":
		err = d.hosts.Stop(cfg.ID)
	case "restart":
		err = d.hosts.Restart(cfg.ID)
	default:
		http.Error(w, "Unknown action", http.StatusNotFound)
		return
	}
	if err != nil {
		writeJSON(w, map[string]string{"status": "error", "error": err.Error()})
		return
	}
	writeJSON(w, map[string]string{"status": "ok", "host": name, "action": action})
}

// handleLive2D serves model assets from the configured directory. Requests
// that escape the directory after cleaning are rejected.
func (d *Dispatcher) handleLive2D(w http.ResponseWriter, r *http.Request) {
	if d.live2dDir == "" {
		http.NotFound(w, r)
		return
	}

	rel := strings.TrimPrefix(r.URL.Path, "/live2d/")
	rel = path.Clean("/" + rel)[1:]
	if rel == "" || strings.HasPrefix(rel, "..") {
		http.NotFound(w, r)
		return
	}

	full := filepath.Join(d.live2dDir, filepath.FromSlash(rel))
	if !strings.HasPrefix(full, filepath.Clean(d.live2dDir)+string(filepath.Separator)) {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, full)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Could not encode response", "error", err)
	}
}
