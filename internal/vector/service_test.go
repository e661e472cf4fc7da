package vector

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	modelcontract "github.com/harunnryd/kokoro/internal/model/contract"
)

// stubEmbedder hands out fixed embeddings per text.
type stubEmbedder struct {
	vectors map[string][]float32
}

func (s *stubEmbedder) Route(context.Context, string, modelcontract.CompletionRequest) (*modelcontract.CompletionResponse, error) {
	return nil, assert.AnError
}

func (s *stubEmbedder) RouteEmbedding(_ context.Context, _ string, text string) ([]float32, error) {
	if vec, ok := s.vectors[text]; ok {
		out := make([]float32, len(vec))
		copy(out, vec)
		return out, nil
	}
	return []float32{0, 0, 1}, nil
}

func (s *stubEmbedder) ListModels() []string { return nil }

func (s *stubEmbedder) Health(context.Context) error { return nil }

func openService(t *testing.T) (*Service, string) {
	t.Helper()
	dir := t.TempDir()
	embedder := &stubEmbedder{vectors: map[string][]float32{
		"咖啡很好喝":  {1, 0, 0},
		"我爱咖啡":   {0.95, 0.05, 0},
		"今天天气不错": {0, 1, 0},
		"明天会下雨":  {0.05, 0.95, 0},
	}}
	svc, err := Open(dir, "test", filepath.Join(dir, "export.json"), embedder)
	require.NoError(t, err)
	return svc, dir
}

func TestGenerateAndSearch(t *testing.T) {
	svc, _ := openService(t)
	ctx := context.Background()

	coffeeID, err := svc.Generate(ctx, []WeightedText{{Text: "咖啡很好喝", Weight: 1}}, "用户聊到了咖啡")
	require.NoError(t, err)
	weatherID, err := svc.Generate(ctx, []WeightedText{{Text: "今天天气不错", Weight: 1}}, "")
	require.NoError(t, err)

	hits, err := svc.Search(ctx, []WeightedText{{Text: "我爱咖啡", Weight: 1}}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, coffeeID, hits[0].ID, "coffee doc ranks first for a coffee query")
	assert.Equal(t, "用户聊到了咖啡", hits[0].Original)
	assert.Equal(t, weatherID, hits[1].ID)
	assert.Greater(t, hits[0].Score, hits[1].Score)
}

func TestSearch_EmptyCollection(t *testing.T) {
	svc, _ := openService(t)
	hits, err := svc.Search(context.Background(), []WeightedText{{Text: "我爱咖啡"}}, 3)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestCompare(t *testing.T) {
	svc, _ := openService(t)
	ctx := context.Background()

	id, err := svc.Generate(ctx, []WeightedText{{Text: "咖啡很好喝", Weight: 1}}, "")
	require.NoError(t, err)

	same, err := svc.Compare(ctx, []WeightedText{{Text: "我爱咖啡", Weight: 1}}, id)
	require.NoError(t, err)
	assert.True(t, same)

	far, err := svc.Compare(ctx, []WeightedText{{Text: "今天天气不错", Weight: 1}}, id)
	require.NoError(t, err)
	assert.False(t, far)

	_, err = svc.Compare(ctx, []WeightedText{{Text: "我爱咖啡"}}, "missing")
	assert.Error(t, err)
}

func TestDocumentsPagingAndDelete(t *testing.T) {
	svc, _ := openService(t)
	ctx := context.Background()

	var ids []string
	for _, text := range []string{"咖啡很好喝", "今天天气不错", "明天会下雨"} {
		id, err := svc.Generate(ctx, []WeightedText{{Text: text, Weight: 1}}, "")
		require.NoError(t, err)
		ids = append(ids, id)
	}

	all := svc.Documents(10, 0)
	assert.Len(t, all, 3)

	page := svc.Documents(2, 2)
	assert.Len(t, page, 1)

	require.NoError(t, svc.Delete(ctx, ids[0]))
	assert.Len(t, svc.Documents(10, 0), 2)
	assert.ErrorContains(t, svc.Delete(ctx, ids[0]), "not found")
}

func TestIndexSurvivesReopen(t *testing.T) {
	svc, dir := openService(t)
	ctx := context.Background()

	id, err := svc.Generate(ctx, []WeightedText{{Text: "咖啡很好喝", Weight: 1}}, "original text")
	require.NoError(t, err)

	reopened, err := Open(dir, "test", "", &stubEmbedder{})
	require.NoError(t, err)
	docs := reopened.Documents(10, 0)
	require.Len(t, docs, 1)
	assert.Equal(t, id, docs[0].ID)
	assert.Equal(t, "original text", docs[0].Original)
}

func TestExportWritesSnapshot(t *testing.T) {
	svc, dir := openService(t)
	ctx := context.Background()

	_, err := svc.Generate(ctx, []WeightedText{{Text: "咖啡很好喝", Weight: 1}}, "")
	require.NoError(t, err)

	msg, err := svc.Export()
	require.NoError(t, err)
	assert.Contains(t, msg, "1 documents")

	data, err := os.ReadFile(filepath.Join(dir, "export.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "咖啡很好喝")
}
