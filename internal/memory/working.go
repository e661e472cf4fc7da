package memory

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"time"

	kokoroErrors "github.com/harunnryd/kokoro/internal/errors"
	"github.com/harunnryd/kokoro/internal/store"
)

// MaxContextVariableBytes bounds the serialized context_variables object.
const MaxContextVariableBytes = 64 * 1024

// contextEntry is one context variable with its write timestamp, which drives
// LRU eviction when the object outgrows the byte bound.
type contextEntry struct {
	Value     json.RawMessage `json:"value"`
	Timestamp time.Time       `json:"timestamp"`
}

// WorkingManager is a read-through cache on session id over working_memory rows.
type WorkingManager struct {
	store *store.Store
}

func NewWorkingManager(s *store.Store) *WorkingManager {
	return &WorkingManager{store: s}
}

// GetOrCreate returns the session's working memory, creating an empty row on
// first use.
func (m *WorkingManager) GetOrCreate(sessionID string) (*store.WorkingMemory, error) {
	wm, err := m.store.GetWorkingMemory(sessionID)
	if err == nil {
		return wm, nil
	}
	if !errors.Is(err, kokoroErrors.ErrNotFound) {
		return nil, err
	}

	wm = &store.WorkingMemory{SessionID: sessionID, ContextVariables: "{}"}
	if err := m.store.PutWorkingMemory(wm); err != nil {
		return nil, err
	}
	return wm, nil
}

// UpdateParams carries the partial update for one working memory row.
type UpdateParams struct {
	CurrentTopic  *string
	LastEmotion   *string
	IncrementTurn bool
	// ContextVariables are merged in; each write is timestamped now.
	ContextVariables map[string]any
}

// Update applies a partial update, enforcing the context-variable byte bound.
func (m *WorkingManager) Update(sessionID string, params UpdateParams) (*store.WorkingMemory, error) {
	wm, err := m.GetOrCreate(sessionID)
	if err != nil {
		return nil, err
	}

	if params.CurrentTopic != nil {
		wm.CurrentTopic = *params.CurrentTopic
	}
	if params.LastEmotion != nil {
		wm.LastEmotion = *params.LastEmotion
	}
	if params.IncrementTurn {
		wm.TurnCount++
	}

	if len(params.ContextVariables) > 0 {
		for key, value := range params.ContextVariables {
			if err := m.setContextVariable(wm, key, value); err != nil {
				return nil, err
			}
		}
	}

	if err := m.store.PutWorkingMemory(wm); err != nil {
		return nil, err
	}
	return wm, nil
}

// SetContextVariable writes one variable and persists the row.
func (m *WorkingManager) SetContextVariable(sessionID, key string, value any) error {
	wm, err := m.GetOrCreate(sessionID)
	if err != nil {
		return err
	}
	if err := m.setContextVariable(wm, key, value); err != nil {
		return err
	}
	return m.store.PutWorkingMemory(wm)
}

// GetContextVariable reads one variable; ok is false when absent.
func (m *WorkingManager) GetContextVariable(sessionID, key string) (json.RawMessage, bool, error) {
	wm, err := m.store.GetWorkingMemory(sessionID)
	if err != nil {
		if errors.Is(err, kokoroErrors.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	vars, err := decodeContextVariables(wm.ContextVariables)
	if err != nil {
		return nil, false, err
	}
	entry, ok := vars[key]
	if !ok {
		return nil, false, nil
	}
	return entry.Value, true, nil
}

func (m *WorkingManager) Delete(sessionID string) error {
	return m.store.DeleteWorkingMemory(sessionID)
}

// CleanupExpired removes rows idle longer than the inactivity window.
func (m *WorkingManager) CleanupExpired(inactivity time.Duration) (int, error) {
	return m.store.CleanupExpiredWorkingMemory(inactivity)
}

// setContextVariable merges one write and evicts oldest-timestamp entries
// until the serialized object fits the byte bound. The entry just written is
// never evicted.
func (m *WorkingManager) setContextVariable(wm *store.WorkingMemory, key string, value any) error {
	vars, err := decodeContextVariables(wm.ContextVariables)
	if err != nil {
		slog.Warn("Context variables corrupted, resetting", "session", wm.SessionID, "error", err)
		vars = map[string]contextEntry{}
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return kokoroErrors.Wrap(err, "encode context variable")
	}
	vars[key] = contextEntry{Value: raw, Timestamp: time.Now().UTC()}

	serialized, err := json.Marshal(vars)
	if err != nil {
		return kokoroErrors.Wrap(err, "encode context variables")
	}

	if len(serialized) > MaxContextVariableBytes {
		// Oldest first, preserving the entry just written.
		type aged struct {
			key string
			ts  time.Time
		}
		var order []aged
		for k, v := range vars {
			if k == key {
				continue
			}
			order = append(order, aged{key: k, ts: v.Timestamp})
		}
		sort.Slice(order, func(i, j int) bool { return order[i].ts.Before(order[j].ts) })

		for _, victim := range order {
			delete(vars, victim.key)
			serialized, err = json.Marshal(vars)
			if err != nil {
				return kokoroErrors.Wrap(err, "encode context variables")
			}
			slog.Warn("Evicted working-memory variable over size bound",
				"session", wm.SessionID, "evicted", victim.key, "bytes", len(serialized))
			if len(serialized) <= MaxContextVariableBytes {
				break
			}
		}
		if len(serialized) > MaxContextVariableBytes {
			return kokoroErrors.InvalidInput("context variable exceeds the 64 KiB bound by itself")
		}
	}

	wm.ContextVariables = string(serialized)
	return nil
}

func decodeContextVariables(raw string) (map[string]contextEntry, error) {
	if raw == "" {
		return map[string]contextEntry{}, nil
	}
	var vars map[string]contextEntry
	if err := json.Unmarshal([]byte(raw), &vars); err != nil {
		return nil, err
	}
	if vars == nil {
		vars = map[string]contextEntry{}
	}
	return vars, nil
}
