package dispatch

import (
	"encoding/json"
	"errors"
	"net/http"

	kokoroErrors "github.com/harunnryd/kokoro/internal/errors"
	"github.com/harunnryd/kokoro/internal/vector"
)

func (d *Dispatcher) vectorService(w http.ResponseWriter) *vector.Service {
	if d.vectors == nil {
		http.Error(w, "Vector service unavailable", http.StatusServiceUnavailable)
		return nil
	}
	return d.vectors
}

func (d *Dispatcher) handleVectorGenerate(w http.ResponseWriter, r *http.Request) {
	svc := d.vectorService(w)
	if svc == nil {
		return
	}
	var req struct {
		Texts    []vector.WeightedText `json:"texts"`
		Original string                `json:"original"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	id, err := svc.Generate(r.Context(), req.Texts, req.Original)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, map[string]string{"id": id})
}

func (d *Dispatcher) handleVectorSearch(w http.ResponseWriter, r *http.Request) {
	svc := d.vectorService(w)
	if svc == nil {
		return
	}
	var req struct {
		Texts    []vector.WeightedText `json:"texts"`
		NResults int                   `json:"n_results"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	hits, err := svc.Search(r.Context(), req.Texts, req.NResults)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, hits)
}

func (d *Dispatcher) handleVectorCompare(w http.ResponseWriter, r *http.Request) {
	svc := d.vectorService(w)
	if svc == nil {
		return
	}
	var req struct {
		Texts []vector.WeightedText `json:"texts"`
		ID    string                `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	match, err := svc.Compare(r.Context(), req.Texts, req.ID)
	if err != nil {
		if errors.Is(err, kokoroErrors.ErrNotFound) {
			http.Error(w, "Document not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, map[string]bool{"result": match})
}

func (d *Dispatcher) handleVectorDocuments(w http.ResponseWriter, r *http.Request) {
	svc := d.vectorService(w)
	if svc == nil {
		return
	}
	var req struct {
		Limit  int `json:"limit"`
		Offset int `json:"offset"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	writeJSON(w, svc.Documents(req.Limit, req.Offset))
}

func (d *Dispatcher) handleVectorDelete(w http.ResponseWriter, r *http.Request) {
	svc := d.vectorService(w)
	if svc == nil {
		return
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "Missing required query parameter: id", http.StatusBadRequest)
		return
	}
	if err := svc.Delete(r.Context(), id); err != nil {
		if errors.Is(err, kokoroErrors.ErrNotFound) {
			http.Error(w, "Document not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]string{"id": id})
}

// handleExport snapshots the vector collection and, when a path is
// configured, the long-term memory rows beside it.
func (d *Dispatcher) handleExport(w http.ResponseWriter, _ *http.Request) {
	out := map[string]any{}

	if d.vectors != nil {
		msg, err := d.vectors.Export()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		out["message"] = msg
	}

	if d.longTerm != nil && d.memoryExportPath != "" {
		count, err := d.longTerm.Export(d.memoryExportPath)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		out["memories_exported"] = count
	}

	if len(out) == 0 {
		http.Error(w, "Nothing to export", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, out)
}
