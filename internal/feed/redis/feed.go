package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/mcoot/bunker/internal/feed"
	"github.com/mcoot/bunker/internal/model"
)

const channelPrefix = "bunker:feed:"

// channel returns the pub/sub channel for a lobby
func channel(lobby model.LobbyName) string {
	return channelPrefix + string(lobby)
}

// Feed carries change events over Redis pub/sub, one channel per lobby
type Feed struct {
	client *redis.Client
	logger *slog.Logger
}

// New creates a feed on an existing client. The caller owns the client.
func New(client *redis.Client, logger *slog.Logger) *Feed {
	return &Feed{
		client: client,
		logger: logger.With(slog.String("component", "feed-redis")),
	}
}

var _ feed.Feed = (*Feed)(nil)

func (f *Feed) Publish(ctx context.Context, event model.ChangeEvent) error {
	data, err := feed.Encode(event)
	if err != nil {
		return err
	}
	return f.client.Publish(ctx, channel(event.LobbyName), data).Err()
}

// Subscribe waits for the SUBSCRIBE confirmation before returning, so a
// failed handshake surfaces here rather than as a silent empty stream.
func (f *Feed) Subscribe(ctx context.Context, lobby model.LobbyName) (feed.Subscription, error) {
	ps := f.client.Subscribe(ctx, channel(lobby))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", lobby, err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	stream := feed.NewStream(func() error {
		cancel()
		return ps.Close()
	})
	go f.pump(loopCtx, ps, lobby, stream)
	return stream, nil
}

// Close is a no-op; the client is owned by the storage layer
func (f *Feed) Close() error {
	return nil
}

func (f *Feed) pump(ctx context.Context, ps *redis.PubSub, lobby model.LobbyName, stream *feed.Stream) {
	logger := f.logger.With(slog.String("lobby", string(lobby)))
	for {
		msg, err := ps.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, redis.ErrClosed) {
				return
			}
			logger.Warn("feed subscription dropped", slog.Any("error", err))
			stream.Fail(err)
			return
		}

		event, err := feed.Decode([]byte(msg.Payload))
		if err != nil {
			logger.Warn("feed message undecodable", slog.Any("error", err))
			continue
		}
		if event.LobbyName != lobby {
			continue
		}
		if !stream.Offer(event) {
			logger.Debug("feed event dropped - subscriber buffer full")
		}
	}
}
