package dispatch

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/harunnryd/kokoro/internal/cogobj"
	kokoroErrors "github.com/harunnryd/kokoro/internal/errors"
)

func (d *Dispatcher) cogObjectRegistry(w http.ResponseWriter) *cogobj.Registry {
	if d.cogObjects == nil {
		http.Error(w, "Cognitive object registry unavailable", http.StatusServiceUnavailable)
		return nil
	}
	return d.cogObjects
}

func (d *Dispatcher) handleCogObjectCreate(w http.ResponseWriter, r *http.Request) {
	reg := d.cogObjectRegistry(w)
	if reg == nil {
		return
	}
	var req struct {
		Title          string `json:"title"`
		Description    string `json:"description"`
		SemanticType   string `json:"semantic_type"`
		DomainTag      string `json:"domain_tag"`
		IntentCategory string `json:"intent_category"`
		CreatedBy      string `json:"created_by"`
		ConversationID string `json:"conversation_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.CreatedBy == "" {
		req.CreatedBy = "user"
	}
	obj, err := reg.Create(cogobj.CreateParams{
		Title:          req.Title,
		Description:    req.Description,
		SemanticType:   req.SemanticType,
		DomainTag:      req.DomainTag,
		IntentCategory: req.IntentCategory,
		CreatedBy:      req.CreatedBy,
		ConversationID: req.ConversationID,
	})
	if err != nil {
		if errors.Is(err, kokoroErrors.ErrInvalidInput) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, obj)
}

// handleCogObjectList answers ?status=<s>, ?q=<substring>, or the active set.
func (d *Dispatcher) handleCogObjectList(w http.ResponseWriter, r *http.Request) {
	reg := d.cogObjectRegistry(w)
	if reg == nil {
		return
	}
	var (
		objs []*cogobj.Object
		err  error
	)
	switch {
	case r.URL.Query().Get("q") != "":
		objs, err = reg.Search(r.URL.Query().Get("q"))
	case r.URL.Query().Get("status") != "":
		objs, err = reg.ListByStatus(cogobj.Status(r.URL.Query().Get("status")))
	default:
		objs, err = reg.ListActive()
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if objs == nil {
		objs = []*cogobj.Object{}
	}
	writeJSON(w, objs)
}

func (d *Dispatcher) handleCogObjectGet(w http.ResponseWriter, r *http.Request) {
	reg := d.cogObjectRegistry(w)
	if reg == nil {
		return
	}
	obj, err := reg.Get(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, kokoroErrors.ErrNotFound) {
			http.Error(w, "Cognitive object not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, obj)
}

func (d *Dispatcher) handleCogObjectUpdate(w http.ResponseWriter, r *http.Request) {
	reg := d.cogObjectRegistry(w)
	if reg == nil {
		return
	}
	var req struct {
		Description    *string  `json:"description"`
		SemanticType   *string  `json:"semantic_type"`
		DomainTag      *string  `json:"domain_tag"`
		IntentCategory *string  `json:"intent_category"`
		ExternalRefs   []string `json:"external_references"`
		RelatedCOIDs   []string `json:"related_co_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	obj, err := reg.UpdateMetadata(r.PathValue("id"), cogobj.MetadataUpdate{
		Description:    req.Description,
		SemanticType:   req.SemanticType,
		DomainTag:      req.DomainTag,
		IntentCategory: req.IntentCategory,
		ExternalRefs:   req.ExternalRefs,
		RelatedCOIDs:   req.RelatedCOIDs,
	})
	if err != nil {
		if errors.Is(err, kokoroErrors.ErrNotFound) {
			http.Error(w, "Cognitive object not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, obj)
}

func (d *Dispatcher) handleCogObjectTransition(w http.ResponseWriter, r *http.Request) {
	reg := d.cogObjectRegistry(w)
	if reg == nil {
		return
	}
	var req struct {
		Trigger string `json:"trigger"`
		Actor   string `json:"actor"`
		Reason  string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Actor == "" {
		req.Actor = "user"
	}
	obj, err := reg.Transition(r.PathValue("id"), cogobj.Trigger(req.Trigger), req.Actor, req.Reason)
	if err != nil {
		switch {
		case errors.Is(err, kokoroErrors.ErrNotFound):
			http.Error(w, "Cognitive object not found", http.StatusNotFound)
		case errors.Is(err, kokoroErrors.ErrInvalidTransition):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, obj)
}

// handleCogObjectLink attaches a memory or execution id to the object.
func (d *Dispatcher) handleCogObjectLink(w http.ResponseWriter, r *http.Request) {
	reg := d.cogObjectRegistry(w)
	if reg == nil {
		return
	}
	var req struct {
		MemoryID    string `json:"memory_id"`
		ExecutionID string `json:"execution_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.MemoryID == "" && req.ExecutionID == "" {
		http.Error(w, "memory_id or execution_id is required", http.StatusBadRequest)
		return
	}
	id := r.PathValue("id")
	if req.MemoryID != "" {
		if err := reg.LinkMemory(id, req.MemoryID); err != nil {
			writeLinkError(w, err)
			return
		}
	}
	if req.ExecutionID != "" {
		if err := reg.LinkExecution(id, req.ExecutionID); err != nil {
			writeLinkError(w, err)
			return
		}
	}
	obj, err := reg.Get(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, obj)
}

func writeLinkError(w http.ResponseWriter, err error) {
	if errors.Is(err, kokoroErrors.ErrNotFound) {
		http.Error(w, "Cognitive object not found", http.StatusNotFound)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}
