// Package postgres carries change events over LISTEN/NOTIFY so that every
// server sharing the database sees every lobby change.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mcoot/bunker/internal/feed"
	"github.com/mcoot/bunker/internal/model"
)

// Channel is the single NOTIFY channel; subscribers filter by lobby name
const Channel = "bunker_changes"

const releaseTimeout = 2 * time.Second

// Feed publishes with pg_notify and listens on a dedicated connection per
// subscription
type Feed struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New connects a pool to the database
func New(ctx context.Context, dsn string, logger *slog.Logger) (*Feed, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Feed{
		pool:   pool,
		logger: logger.With(slog.String("component", "feed-postgres")),
	}, nil
}

var _ feed.Feed = (*Feed)(nil)

func (f *Feed) Publish(ctx context.Context, event model.ChangeEvent) error {
	data, err := feed.Encode(event)
	if err != nil {
		return err
	}
	_, err = f.pool.Exec(ctx, "SELECT pg_notify($1, $2)", Channel, string(data))
	return err
}

func (f *Feed) Subscribe(ctx context.Context, lobby model.LobbyName) (feed.Subscription, error) {
	conn, err := f.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire listener: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{Channel}.Sanitize()); err != nil {
		conn.Release()
		return nil, fmt.Errorf("listen: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	stream := feed.NewStream(func() error {
		cancel()
		<-done
		return nil
	})
	go func() {
		defer close(done)
		defer f.release(conn)
		f.pump(loopCtx, conn, lobby, stream)
	}()
	return stream, nil
}

// Close shuts down the pool
func (f *Feed) Close() error {
	f.pool.Close()
	return nil
}

func (f *Feed) pump(ctx context.Context, conn *pgxpool.Conn, lobby model.LobbyName, stream *feed.Stream) {
	logger := f.logger.With(slog.String("lobby", string(lobby)))
	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("feed listener dropped", slog.Any("error", err))
			// Fail runs the close hook, which waits for this goroutine.
			go stream.Fail(err)
			return
		}
		event, ok, err := decodeFor(lobby, n.Payload)
		if err != nil {
			logger.Warn("feed notification undecodable", slog.Any("error", err))
			continue
		}
		if ok {
			stream.Offer(event)
		}
	}
}

// release unlistens before returning the connection to the pool. A broken
// connection is destroyed instead.
func (f *Feed) release(conn *pgxpool.Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	if _, err := conn.Exec(ctx, "UNLISTEN *"); err != nil {
		_ = conn.Conn().Close(ctx)
	}
	conn.Release()
}

// decodeFor parses a notification and reports whether it belongs to lobby
func decodeFor(lobby model.LobbyName, payload string) (model.ChangeEvent, bool, error) {
	event, err := feed.Decode([]byte(payload))
	if err != nil {
		return model.ChangeEvent{}, false, err
	}
	if event.LobbyName == "" {
		return model.ChangeEvent{}, false, errors.New("notification without lobby name")
	}
	return event, event.LobbyName == lobby, nil
}
