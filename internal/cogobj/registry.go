package cogobj

import (
	"encoding/json"
	"time"

	kokoroErrors "github.com/harunnryd/kokoro/internal/errors"
	"github.com/harunnryd/kokoro/internal/store"

	"github.com/oklog/ulid/v2"
)

// Registry persists cognitive objects in the store.
type Registry struct {
	store *store.Store
}

func NewRegistry(s *store.Store) *Registry {
	return &Registry{store: s}
}

type CreateParams struct {
	Title          string
	Description    string
	SemanticType   string
	DomainTag      string
	IntentCategory string
	CreatedBy      string
	ConversationID string
}

func (r *Registry) Create(params CreateParams) (*Object, error) {
	if params.Title == "" {
		return nil, kokoroErrors.InvalidInput("cognitive object title is required")
	}
	now := time.Now().UTC()
	obj := &Object{
		COID:           ulid.Make().String(),
		Title:          params.Title,
		Description:    params.Description,
		SemanticType:   params.SemanticType,
		DomainTag:      params.DomainTag,
		IntentCategory: params.IntentCategory,
		Status:         StatusEmerging,
		Transitions:    []Transition{},
		ExternalRefs:   []string{},
		RelatedCOIDs:   []string{},
		LinkedMemories: []string{},
		LinkedExecs:    []string{},
		CreatedBy:      params.CreatedBy,
		ConversationID: params.ConversationID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := r.save(obj); err != nil {
		return nil, err
	}
	return obj, nil
}

func (r *Registry) Get(coID string) (*Object, error) {
	row, err := r.store.GetCognitiveObject(coID)
	if err != nil {
		return nil, err
	}
	return fromRow(row)
}

// ListActive returns every object not archived.
func (r *Registry) ListActive() ([]*Object, error) {
	rows, err := r.store.ListCognitiveObjects("", true)
	if err != nil {
		return nil, err
	}
	return fromRows(rows)
}

func (r *Registry) ListByStatus(status Status) ([]*Object, error) {
	rows, err := r.store.ListCognitiveObjects(string(status), false)
	if err != nil {
		return nil, err
	}
	return fromRows(rows)
}

// Transition applies a trigger and persists the trace.
func (r *Registry) Transition(coID string, trigger Trigger, actor, reason string) (*Object, error) {
	obj, err := r.Get(coID)
	if err != nil {
		return nil, err
	}
	if err := obj.Transition(trigger, actor, reason); err != nil {
		return nil, err
	}
	if err := r.save(obj); err != nil {
		return nil, err
	}
	return obj, nil
}

// LinkExecution attaches a contract execution id to the object.
func (r *Registry) LinkExecution(coID, executionID string) error {
	obj, err := r.Get(coID)
	if err != nil {
		return err
	}
	if contains(obj.LinkedExecs, executionID) {
		return nil
	}
	obj.LinkedExecs = append(obj.LinkedExecs, executionID)
	obj.UpdatedAt = time.Now().UTC()
	if err := r.save(obj); err != nil {
		return err
	}
	return r.store.LinkCognitiveObjectContract(coID, executionID)
}

// LinkMemory attaches a long-term memory id to the object.
func (r *Registry) LinkMemory(coID, memoryID string) error {
	obj, err := r.Get(coID)
	if err != nil {
		return err
	}
	if contains(obj.LinkedMemories, memoryID) {
		return nil
	}
	obj.LinkedMemories = append(obj.LinkedMemories, memoryID)
	obj.UpdatedAt = time.Now().UTC()
	return r.save(obj)
}

type MetadataUpdate struct {
	Description    *string
	SemanticType   *string
	DomainTag      *string
	IntentCategory *string
	ExternalRefs   []string
	RelatedCOIDs   []string
}

func (r *Registry) UpdateMetadata(coID string, update MetadataUpdate) (*Object, error) {
	obj, err := r.Get(coID)
	if err != nil {
		return nil, err
	}
	if update.Description != nil {
		obj.Description = *update.Description
	}
	if update.SemanticType != nil {
		obj.SemanticType = *update.SemanticType
	}
	if update.DomainTag != nil {
		obj.DomainTag = *update.DomainTag
	}
	if update.IntentCategory != nil {
		obj.IntentCategory = *update.IntentCategory
	}
	for _, ref := range update.ExternalRefs {
		if !contains(obj.ExternalRefs, ref) {
			obj.ExternalRefs = append(obj.ExternalRefs, ref)
		}
	}
	for _, id := range update.RelatedCOIDs {
		if !contains(obj.RelatedCOIDs, id) {
			obj.RelatedCOIDs = append(obj.RelatedCOIDs, id)
		}
	}
	obj.UpdatedAt = time.Now().UTC()
	if err := r.save(obj); err != nil {
		return nil, err
	}
	return obj, nil
}

// Search matches a substring over title and description.
func (r *Registry) Search(substring string) ([]*Object, error) {
	rows, err := r.store.SearchCognitiveObjects(substring)
	if err != nil {
		return nil, err
	}
	return fromRows(rows)
}

func (r *Registry) save(obj *Object) error {
	row := &store.CognitiveObjectRow{
		COID:           obj.COID,
		Title:          obj.Title,
		Description:    obj.Description,
		SemanticType:   obj.SemanticType,
		DomainTag:      obj.DomainTag,
		IntentCategory: obj.IntentCategory,
		Status:         string(obj.Status),
		Transitions:    mustJSON(obj.Transitions),
		ExternalRefs:   mustJSON(obj.ExternalRefs),
		RelatedCOIDs:   mustJSON(obj.RelatedCOIDs),
		LinkedMemories: mustJSON(obj.LinkedMemories),
		LinkedExecs:    mustJSON(obj.LinkedExecs),
		CreatedBy:      obj.CreatedBy,
		ConversationID: obj.ConversationID,
		CreatedAt:      obj.CreatedAt,
		UpdatedAt:      obj.UpdatedAt,
	}
	return r.store.SaveCognitiveObject(row)
}

func fromRow(row *store.CognitiveObjectRow) (*Object, error) {
	obj := &Object{
		COID:           row.COID,
		Title:          row.Title,
		Description:    row.Description,
		SemanticType:   row.SemanticType,
		DomainTag:      row.DomainTag,
		IntentCategory: row.IntentCategory,
		Status:         Status(row.Status),
		CreatedBy:      row.CreatedBy,
		ConversationID: row.ConversationID,
		CreatedAt:      row.CreatedAt,
		UpdatedAt:      row.UpdatedAt,
	}
	if err := json.Unmarshal([]byte(row.Transitions), &obj.Transitions); err != nil {
		return nil, kokoroErrors.Wrap(err, "decode transitions")
	}
	lists := []struct {
		raw string
		dst *[]string
	}{
		{row.ExternalRefs, &obj.ExternalRefs},
		{row.RelatedCOIDs, &obj.RelatedCOIDs},
		{row.LinkedMemories, &obj.LinkedMemories},
		{row.LinkedExecs, &obj.LinkedExecs},
	}
	for _, l := range lists {
		if err := json.Unmarshal([]byte(l.raw), l.dst); err != nil {
			return nil, kokoroErrors.Wrap(err, "decode id list")
		}
	}
	return obj, nil
}

func fromRows(rows []*store.CognitiveObjectRow) ([]*Object, error) {
	out := make([]*Object, 0, len(rows))
	for _, row := range rows {
		obj, err := fromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, obj)
	}
	return out, nil
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func contains(list []string, item string) bool {
	for _, v := range list {
		if v == item {
			return true
		}
	}
	return false
}
