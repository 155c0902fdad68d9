package feed

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcoot/bunker/internal/model"
)

func event(name model.LobbyName) model.ChangeEvent {
	return model.ChangeEvent{Type: model.ChangeInsert, LobbyName: name, Timestamp: time.Unix(0, 0).UTC()}
}

func TestStreamDeliversAndDrops(t *testing.T) {
	s := NewStream(nil)
	for range EventBuffer {
		require.True(t, s.Offer(event("a")))
	}
	assert.False(t, s.Offer(event("a")), "full buffer drops")
	assert.Len(t, s.Events(), EventBuffer)
}

func TestStreamCloseIsIdempotent(t *testing.T) {
	calls := 0
	s := NewStream(func() error { calls++; return nil })

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, 1, calls)
	assert.NoError(t, s.Err())
	assert.False(t, s.Offer(event("a")))

	_, ok := <-s.Events()
	assert.False(t, ok)
}

func TestStreamFailRecordsError(t *testing.T) {
	s := NewStream(nil)
	boom := errors.New("boom")
	s.Fail(boom)

	<-s.Done()
	assert.ErrorIs(t, s.Err(), boom)
}
