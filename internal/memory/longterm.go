package memory

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/natefinch/atomic"
	"github.com/oklog/ulid/v2"

	kerrors "github.com/harunnryd/kokoro/internal/errors"
	"github.com/harunnryd/kokoro/internal/store"
)

// LongTermManager owns durable MemoryEntry rows and their eviction policy.
type LongTermManager struct {
	store          *store.Store
	maxEntries     int
	evictThreshold int
}

func NewLongTermManager(s *store.Store, maxEntries, evictThreshold int) *LongTermManager {
	if maxEntries <= 0 {
		maxEntries = 5000
	}
	if evictThreshold <= 0 || evictThreshold >= maxEntries {
		evictThreshold = maxEntries / 10
	}
	return &LongTermManager{store: s, maxEntries: maxEntries, evictThreshold: evictThreshold}
}

// CreateParams carries the caller-settable MemoryEntry fields.
type CreateParams struct {
	SessionID  string
	Category   store.MemoryCategory
	Key        string
	Value      string
	Confidence float64
	Source     store.MemorySource

	TargetTime       *time.Time
	ReminderOffsetMn int
	RepeatType       store.RepeatType
}

func (m *LongTermManager) Create(p CreateParams) (*store.MemoryEntry, error) {
	if p.Key == "" {
		return nil, kerrors.InvalidInput("memory key is required")
	}
	if p.Category == "" {
		p.Category = store.CategoryFact
	}
	if p.Source == "" {
		p.Source = store.SourceInferred
	}
	now := time.Now().UTC()
	entry := &store.MemoryEntry{
		ID:           ulid.Make().String(),
		SessionID:    p.SessionID,
		Category:     p.Category,
		Key:          p.Key,
		Value:        p.Value,
		Confidence:   clamp01(p.Confidence),
		Source:       p.Source,
		CreatedAt:    now,
		LastAccessed: now,
		AccessCount:  0,
	}
	if p.Category == store.CategoryPlan {
		entry.TargetTime = p.TargetTime
		entry.ReminderOffsetMn = p.ReminderOffsetMn
		entry.RepeatType = p.RepeatType
		if entry.RepeatType == "" {
			entry.RepeatType = store.RepeatNone
		}
		entry.PlanStatus = store.PlanPending
	}
	if err := m.store.InsertMemory(entry); err != nil {
		return nil, err
	}
	if err := m.EvictByThreshold(); err != nil {
		slog.Warn("Memory eviction failed", "error", err)
	}
	return entry, nil
}

func (m *LongTermManager) Get(id string) (*store.MemoryEntry, error) {
	return m.store.GetMemory(id)
}

func (m *LongTermManager) Update(entry *store.MemoryEntry) error {
	entry.Confidence = clamp01(entry.Confidence)
	return m.store.UpdateMemory(entry)
}

func (m *LongTermManager) Delete(id string) error {
	return m.store.DeleteMemory(id)
}

func (m *LongTermManager) ListByCategory(category store.MemoryCategory, limit int) ([]*store.MemoryEntry, error) {
	return m.store.ListMemoriesByCategory(category, limit)
}

func (m *LongTermManager) Count() (int, error) {
	return m.store.CountMemories()
}

func (m *LongTermManager) DeleteMany(ids []string) error {
	return m.store.DeleteMemories(ids)
}

// Export writes every long-term entry to path as a JSON snapshot. The write
// is atomic so a crash mid-export never leaves a truncated file.
func (m *LongTermManager) Export(path string) (int, error) {
	entries, err := m.store.AllMemories()
	if err != nil {
		return 0, err
	}
	if entries == nil {
		entries = []*store.MemoryEntry{}
	}
	data, err := json.MarshalIndent(map[string]any{
		"exported_at": time.Now().UTC(),
		"count":       len(entries),
		"memories":    entries,
	}, "", "  ")
	if err != nil {
		return 0, kerrors.Wrap(err, "encode memory export")
	}
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return 0, kerrors.Wrap(err, "write memory export")
	}
	return len(entries), nil
}

// EvictByThreshold trims low-value entries once the table grows past the
// configured maximum. Candidates are ordered lowest confidence first, then
// least recently accessed.
func (m *LongTermManager) EvictByThreshold() error {
	count, err := m.store.CountMemories()
	if err != nil {
		return err
	}
	if count <= m.maxEntries {
		return nil
	}
	toDelete := count - (m.maxEntries - m.evictThreshold)
	ids, err := m.store.EvictionCandidates(toDelete)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	if err := m.store.DeleteMemories(ids); err != nil {
		return err
	}
	slog.Info("Evicted long-term memories", "count", len(ids), "remaining", count-len(ids))
	return nil
}
