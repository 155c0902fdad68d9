package feed

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mcoot/bunker/internal/model"
)

type recordingPublisher struct {
	got    []model.LobbyName
	failAt int
}

func (p *recordingPublisher) Publish(ctx context.Context, e model.ChangeEvent) error {
	if p.failAt > 0 && len(p.got)+1 == p.failAt {
		return errors.New("broker down")
	}
	p.got = append(p.got, e.LobbyName)
	return nil
}

func TestPublishAllKeepsOrder(t *testing.T) {
	p := &recordingPublisher{}
	err := PublishAll(context.Background(), p, event("a"), event("b"), event("c"))

	assert.NoError(t, err)
	assert.Equal(t, []model.LobbyName{"a", "b", "c"}, p.got)
}

func TestPublishAllStopsAtFirstError(t *testing.T) {
	p := &recordingPublisher{failAt: 2}
	err := PublishAll(context.Background(), p, event("a"), event("b"), event("c"))

	assert.EqualError(t, err, "broker down")
	assert.Equal(t, []model.LobbyName{"a"}, p.got)
}
