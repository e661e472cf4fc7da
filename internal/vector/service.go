// Package vector is the semantic document service: chromem-go holds the
// embeddings, a side index file holds document metadata, and the model
// router supplies embeddings.
package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/natefinch/atomic"
	"github.com/oklog/ulid/v2"
	"github.com/philippgille/chromem-go"

	kokoroErrors "github.com/harunnryd/kokoro/internal/errors"
	"github.com/harunnryd/kokoro/internal/model"
)

// WeightedText is one input fragment with its blend weight.
type WeightedText struct {
	Text   string  `json:"Text"`
	Weight float64 `json:"Weight"`
}

// Document is the indexed view of one stored entry.
type Document struct {
	ID        string            `json:"id"`
	Content   string            `json:"content"`
	Original  string            `json:"original,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// SearchHit is one scored search result.
type SearchHit struct {
	ID       string  `json:"id"`
	Content  string  `json:"content"`
	Original string  `json:"original,omitempty"`
	Score    float32 `json:"score"`
}

const defaultCompareThreshold = 0.8

// Service owns the vector collection and its metadata index.
type Service struct {
	db         *chromem.DB
	router     model.Router
	collection string
	indexPath  string
	exportPath string
	threshold  float32

	mu    sync.Mutex
	index map[string]Document
}

// Open loads (or creates) the persistent collection under dir.
func Open(dir, collection, exportPath string, router model.Router) (*Service, error) {
	if collection == "" {
		collection = "kokoro"
	}
	db, err := chromem.NewPersistentDB(filepath.Join(dir, "vectors"), false)
	if err != nil {
		return nil, fmt.Errorf("open vector db: %w", err)
	}

	s := &Service{
		db:         db,
		router:     router,
		collection: collection,
		indexPath:  filepath.Join(dir, "vectors", "index.json"),
		exportPath: exportPath,
		threshold:  defaultCompareThreshold,
		index:      make(map[string]Document),
	}
	if err := s.loadIndex(); err != nil {
		return nil, err
	}
	return s, nil
}

// Generate embeds the weighted texts and stores a new document.
func (s *Service) Generate(ctx context.Context, texts []WeightedText, original string) (string, error) {
	embedding, content, err := s.embedWeighted(ctx, texts)
	if err != nil {
		return "", err
	}

	doc := Document{
		ID:        ulid.Make().String(),
		Content:   content,
		Original:  original,
		CreatedAt: time.Now().UTC(),
	}

	col, err := s.db.GetOrCreateCollection(s.collection, nil, nil)
	if err != nil {
		return "", fmt.Errorf("open collection: %w", err)
	}
	err = col.AddDocuments(ctx, []chromem.Document{{
		ID:        doc.ID,
		Embedding: embedding,
		Content:   content,
	}}, 1)
	if err != nil {
		return "", fmt.Errorf("store document: %w", err)
	}

	s.mu.Lock()
	s.index[doc.ID] = doc
	err = s.saveIndexLocked()
	s.mu.Unlock()
	if err != nil {
		return "", err
	}
	return doc.ID, nil
}

// Search returns the closest documents to the weighted query.
func (s *Service) Search(ctx context.Context, texts []WeightedText, nResults int) ([]SearchHit, error) {
	if nResults <= 0 {
		nResults = 5
	}
	embedding, _, err := s.embedWeighted(ctx, texts)
	if err != nil {
		return nil, err
	}

	col := s.db.GetCollection(s.collection, nil)
	if col == nil {
		return []SearchHit{}, nil
	}
	if count := col.Count(); count < nResults {
		nResults = count
	}
	if nResults == 0 {
		return []SearchHit{}, nil
	}

	results, err := col.QueryEmbedding(ctx, embedding, nResults, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}

	hits := make([]SearchHit, 0, len(results))
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, res := range results {
		hit := SearchHit{ID: res.ID, Content: res.Content, Score: res.Similarity}
		if doc, ok := s.index[res.ID]; ok {
			hit.Original = doc.Original
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// Compare reports whether the weighted texts land close enough to the
// stored document.
func (s *Service) Compare(ctx context.Context, texts []WeightedText, id string) (bool, error) {
	s.mu.Lock()
	_, known := s.index[id]
	s.mu.Unlock()
	if !known {
		return false, kokoroErrors.ErrNotFound
	}

	col := s.db.GetCollection(s.collection, nil)
	if col == nil {
		return false, kokoroErrors.ErrNotFound
	}

	embedding, _, err := s.embedWeighted(ctx, texts)
	if err != nil {
		return false, err
	}
	results, err := col.QueryEmbedding(ctx, embedding, col.Count(), nil, nil)
	if err != nil {
		return false, fmt.Errorf("query: %w", err)
	}
	for _, res := range results {
		if res.ID == id {
			return res.Similarity >= s.threshold, nil
		}
	}
	return false, nil
}

// Documents pages through the index, newest first.
func (s *Service) Documents(limit, offset int) []Document {
	if limit <= 0 {
		limit = 50
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	docs := make([]Document, 0, len(s.index))
	for _, doc := range s.index {
		docs = append(docs, doc)
	}
	sort.Slice(docs, func(i, j int) bool {
		if docs[i].CreatedAt.Equal(docs[j].CreatedAt) {
			return docs[i].ID > docs[j].ID
		}
		return docs[i].CreatedAt.After(docs[j].CreatedAt)
	})

	if offset >= len(docs) {
		return []Document{}
	}
	docs = docs[offset:]
	if len(docs) > limit {
		docs = docs[:limit]
	}
	return docs
}

// Delete removes one document from the collection and the index.
func (s *Service) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	_, known := s.index[id]
	s.mu.Unlock()
	if !known {
		return kokoroErrors.ErrNotFound
	}

	if col := s.db.GetCollection(s.collection, nil); col != nil {
		if err := col.Delete(ctx, nil, nil, id); err != nil {
			return fmt.Errorf("delete document: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.index, id)
	return s.saveIndexLocked()
}

// Export writes an atomic JSON snapshot of every indexed document.
func (s *Service) Export() (string, error) {
	path := s.exportPath
	if path == "" {
		path = filepath.Join(filepath.Dir(s.indexPath), "export.json")
	}

	docs := s.Documents(0, 0)
	data, err := json.MarshalIndent(docs, "", "  ")
	if err != nil {
		return "", err
	}
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("write export: %w", err)
	}
	return fmt.Sprintf("exported %d documents to %s", len(docs), path), nil
}

// embedWeighted embeds each fragment and blends them by weight into one
// normalized vector. The joined text is returned as the stored content.
func (s *Service) embedWeighted(ctx context.Context, texts []WeightedText) ([]float32, string, error) {
	if len(texts) == 0 {
		return nil, "", kokoroErrors.InvalidInput("texts must not be empty")
	}

	var combined []float32
	content := ""
	for i, wt := range texts {
		if wt.Text == "" {
			continue
		}
		weight := wt.Weight
		if weight == 0 {
			weight = 1
		}
		vec, err := s.router.RouteEmbedding(ctx, "", wt.Text)
		if err != nil {
			return nil, "", fmt.Errorf("embed fragment %d: %w", i, err)
		}
		if combined == nil {
			combined = make([]float32, len(vec))
		}
		if len(vec) != len(combined) {
			return nil, "", fmt.Errorf("embedding dimension mismatch: %d vs %d", len(vec), len(combined))
		}
		for j := range vec {
			combined[j] += float32(weight) * vec[j]
		}
		if content != "" {
			content += "\n"
		}
		content += wt.Text
	}
	if combined == nil {
		return nil, "", kokoroErrors.InvalidInput("texts must not be empty")
	}
	return normalize(combined), content, nil
}

func normalize(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return vec
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}

func (s *Service) loadIndex() error {
	data, err := os.ReadFile(s.indexPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read vector index: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := json.Unmarshal(data, &s.index); err != nil {
		return fmt.Errorf("decode vector index: %w", err)
	}
	return nil
}

func (s *Service) saveIndexLocked() error {
	data, err := json.MarshalIndent(s.index, "", "  ")
	if err != nil {
		return err
	}
	return atomic.WriteFile(s.indexPath, bytes.NewReader(data))
}
