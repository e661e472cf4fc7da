package memory

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkingManager_GetOrCreate(t *testing.T) {
	s := openStore(t)
	sess, err := s.CreateSession("", "")
	require.NoError(t, err)
	m := NewWorkingManager(s)

	wm, err := m.GetOrCreate(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, wm.SessionID)
	assert.Equal(t, "{}", wm.ContextVariables)
	assert.Zero(t, wm.TurnCount)

	again, err := m.GetOrCreate(sess.ID)
	require.NoError(t, err)
	assert.WithinDuration(t, wm.CreatedAt, again.CreatedAt, time.Second)
}

func TestWorkingManager_PartialUpdate(t *testing.T) {
	s := openStore(t)
	sess, err := s.CreateSession("", "")
	require.NoError(t, err)
	m := NewWorkingManager(s)

	topic := "旅行"
	wm, err := m.Update(sess.ID, UpdateParams{CurrentTopic: &topic, IncrementTurn: true})
	require.NoError(t, err)
	assert.Equal(t, "旅行", wm.CurrentTopic)
	assert.Equal(t, 1, wm.TurnCount)

	emotion := "happy"
	wm, err = m.Update(sess.ID, UpdateParams{LastEmotion: &emotion, IncrementTurn: true})
	require.NoError(t, err)
	assert.Equal(t, "旅行", wm.CurrentTopic)
	assert.Equal(t, "happy", wm.LastEmotion)
	assert.Equal(t, 2, wm.TurnCount)
}

func TestWorkingManager_ContextVariableRoundTrip(t *testing.T) {
	s := openStore(t)
	sess, err := s.CreateSession("", "")
	require.NoError(t, err)
	m := NewWorkingManager(s)

	require.NoError(t, m.SetContextVariable(sess.ID, "form_认识你", map[string]any{"name": "小明"}))

	raw, ok, err := m.GetContextVariable(sess.ID, "form_认识你")
	require.NoError(t, err)
	require.True(t, ok)
	var got map[string]string
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, "小明", got["name"])

	_, ok, err = m.GetContextVariable(sess.ID, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWorkingManager_EvictsOldestOverBound(t *testing.T) {
	s := openStore(t)
	sess, err := s.CreateSession("", "")
	require.NoError(t, err)
	m := NewWorkingManager(s)

	// Three ~24 KiB values: the third write must push the first one out.
	big := strings.Repeat("x", 24*1024)
	require.NoError(t, m.SetContextVariable(sess.ID, "first", big))
	require.NoError(t, m.SetContextVariable(sess.ID, "second", big))
	require.NoError(t, m.SetContextVariable(sess.ID, "third", big))

	_, ok, err := m.GetContextVariable(sess.ID, "first")
	require.NoError(t, err)
	assert.False(t, ok, "oldest variable should have been evicted")

	for _, key := range []string{"second", "third"} {
		_, ok, err := m.GetContextVariable(sess.ID, key)
		require.NoError(t, err)
		assert.True(t, ok, key)
	}

	wm, err := m.GetOrCreate(sess.ID)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(wm.ContextVariables), MaxContextVariableBytes)
}

func TestWorkingManager_SingleOversizeValueRejected(t *testing.T) {
	s := openStore(t)
	sess, err := s.CreateSession("", "")
	require.NoError(t, err)
	m := NewWorkingManager(s)

	err = m.SetContextVariable(sess.ID, "huge", strings.Repeat("x", MaxContextVariableBytes+1))
	assert.Error(t, err)
}

func TestWorkingManager_Delete(t *testing.T) {
	s := openStore(t)
	sess, err := s.CreateSession("", "")
	require.NoError(t, err)
	m := NewWorkingManager(s)

	_, err = m.GetOrCreate(sess.ID)
	require.NoError(t, err)
	require.NoError(t, m.Delete(sess.ID))

	_, ok, err := m.GetContextVariable(sess.ID, "anything")
	require.NoError(t, err)
	assert.False(t, ok)
}
