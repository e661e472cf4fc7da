package cogobj

import (
	"testing"
	"time"

	kokoroErrors "github.com/harunnryd/kokoro/internal/errors"
	"github.com/harunnryd/kokoro/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	s, err := store.Open(t.TempDir()+"/kokoro.db", time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return NewRegistry(s)
}

func TestObject_LifecycleToStable(t *testing.T) {
	obj := &Object{Status: StatusEmerging}

	require.NoError(t, obj.Transition(TriggerActivate, "user", ""))
	assert.Equal(t, StatusActive, obj.Status)

	require.NoError(t, obj.Transition(TriggerWait, "system", "awaiting reply"))
	assert.Equal(t, StatusWaiting, obj.Status)

	require.NoError(t, obj.Transition(TriggerResume, "user", ""))
	require.NoError(t, obj.Transition(TriggerStabilize, "user", ""))
	assert.Equal(t, StatusStable, obj.Status)

	assert.Len(t, obj.Transitions, 4)
	assert.Equal(t, "awaiting reply", obj.Transitions[1].Reason)
}

func TestObject_ArchivedIsRecoverable(t *testing.T) {
	obj := &Object{Status: StatusActive}

	require.NoError(t, obj.Transition(TriggerArchive, "user", "done for now"))
	assert.Equal(t, StatusArchived, obj.Status)

	require.NoError(t, obj.Transition(TriggerReactivate, "user", ""))
	assert.Equal(t, StatusActive, obj.Status)
}

func TestObject_InvalidTriggerLeavesStateUntouched(t *testing.T) {
	obj := &Object{Status: StatusEmerging}

	err := obj.Transition(TriggerUnblock, "user", "")
	assert.ErrorIs(t, err, kokoroErrors.ErrInvalidTransition)
	assert.Equal(t, StatusEmerging, obj.Status)
	assert.Empty(t, obj.Transitions)
}

func TestRegistry_CreateRequiresTitle(t *testing.T) {
	reg := testRegistry(t)

	_, err := reg.Create(CreateParams{Description: "no title"})
	assert.ErrorIs(t, err, kokoroErrors.ErrInvalidInput)
}

func TestRegistry_CreateAndGetRoundTrip(t *testing.T) {
	reg := testRegistry(t)

	created, err := reg.Create(CreateParams{
		Title:          "学日语",
		Description:    "user wants to pass JLPT N2 in December",
		SemanticType:   "goal",
		IntentCategory: "study",
		CreatedBy:      "user",
		ConversationID: "sess-1",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusEmerging, created.Status)

	got, err := reg.Get(created.COID)
	require.NoError(t, err)
	assert.Equal(t, "学日语", got.Title)
	assert.Equal(t, "goal", got.SemanticType)
	assert.Equal(t, "sess-1", got.ConversationID)
	assert.Empty(t, got.Transitions)
}

func TestRegistry_GetUnknownIsNotFound(t *testing.T) {
	reg := testRegistry(t)

	_, err := reg.Get("no-such-id")
	assert.ErrorIs(t, err, kokoroErrors.ErrNotFound)
}

func TestRegistry_TransitionPersistsTrace(t *testing.T) {
	reg := testRegistry(t)

	created, err := reg.Create(CreateParams{Title: "plan a trip", CreatedBy: "user"})
	require.NoError(t, err)

	_, err = reg.Transition(created.COID, TriggerActivate, "graph_runner", "first mention")
	require.NoError(t, err)

	got, err := reg.Get(created.COID)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, got.Status)
	require.Len(t, got.Transitions, 1)
	assert.Equal(t, TriggerActivate, got.Transitions[0].Trigger)
	assert.Equal(t, "graph_runner", got.Transitions[0].Actor)
}

func TestRegistry_ListActiveExcludesArchived(t *testing.T) {
	reg := testRegistry(t)

	a, err := reg.Create(CreateParams{Title: "keep", CreatedBy: "user"})
	require.NoError(t, err)
	b, err := reg.Create(CreateParams{Title: "drop", CreatedBy: "user"})
	require.NoError(t, err)

	_, err = reg.Transition(b.COID, TriggerArchive, "user", "")
	require.NoError(t, err)

	active, err := reg.ListActive()
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, a.COID, active[0].COID)

	archived, err := reg.ListByStatus(StatusArchived)
	require.NoError(t, err)
	require.Len(t, archived, 1)
	assert.Equal(t, b.COID, archived[0].COID)
}

func TestRegistry_LinksAreIdempotent(t *testing.T) {
	reg := testRegistry(t)

	created, err := reg.Create(CreateParams{Title: "coffee habits", CreatedBy: "user"})
	require.NoError(t, err)

	require.NoError(t, reg.LinkMemory(created.COID, "mem-1"))
	require.NoError(t, reg.LinkMemory(created.COID, "mem-1"))
	require.NoError(t, reg.LinkExecution(created.COID, "exec-1"))
	require.NoError(t, reg.LinkExecution(created.COID, "exec-1"))

	got, err := reg.Get(created.COID)
	require.NoError(t, err)
	assert.Equal(t, []string{"mem-1"}, got.LinkedMemories)
	assert.Equal(t, []string{"exec-1"}, got.LinkedExecs)
}

func TestRegistry_UpdateMetadataMergesLists(t *testing.T) {
	reg := testRegistry(t)

	created, err := reg.Create(CreateParams{Title: "apartment hunt", CreatedBy: "user"})
	require.NoError(t, err)

	desc := "looking near the office"
	updated, err := reg.UpdateMetadata(created.COID, MetadataUpdate{
		Description:  &desc,
		ExternalRefs: []string{"https://example.com/listing/1"},
	})
	require.NoError(t, err)
	assert.Equal(t, desc, updated.Description)

	// A second update appends without duplicating.
	updated, err = reg.UpdateMetadata(created.COID, MetadataUpdate{
		ExternalRefs: []string{"https://example.com/listing/1", "https://example.com/listing/2"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"https://example.com/listing/1",
		"https://example.com/listing/2",
	}, updated.ExternalRefs)
}

func TestRegistry_SearchMatchesTitleAndDescription(t *testing.T) {
	reg := testRegistry(t)

	_, err := reg.Create(CreateParams{Title: "学日语", Description: "JLPT N2", CreatedBy: "user"})
	require.NoError(t, err)
	_, err = reg.Create(CreateParams{Title: "gym routine", Description: "three times a week", CreatedBy: "user"})
	require.NoError(t, err)

	byTitle, err := reg.Search("日语")
	require.NoError(t, err)
	require.Len(t, byTitle, 1)
	assert.Equal(t, "学日语", byTitle[0].Title)

	byDesc, err := reg.Search("three times")
	require.NoError(t, err)
	require.Len(t, byDesc, 1)
	assert.Equal(t, "gym routine", byDesc[0].Title)

	none, err := reg.Search("swimming")
	require.NoError(t, err)
	assert.Empty(t, none)
}
