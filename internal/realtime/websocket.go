// Package realtime carries change feed events to remote clients over
// websockets, and provides the matching client-side feed.Subscriber.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/mcoot/bunker/internal/feed"
	"github.com/mcoot/bunker/internal/model"
)

const (
	writeTimeout = 5 * time.Second
	pingPeriod   = 20 * time.Second

	// close reason sent when the upstream feed drops
	reasonFeedDropped = "feed dropped"
)

// ServeChanges upgrades the request and streams every change event for
// lobby as a JSON text message until either side goes away. The feed is
// subscribed before the upgrade, so a failed subscription is reported as
// a plain HTTP error and the client's dial fails.
func ServeChanges(w http.ResponseWriter, r *http.Request, subscriber feed.Subscriber, lobby model.LobbyName, originPatterns []string, logger *slog.Logger) {
	logger = logger.With(slog.String("lobby", string(lobby)))

	sub, err := subscriber.Subscribe(r.Context(), lobby)
	if err != nil {
		logger.Warn("websocket feed subscription failed", slog.Any("error", err))
		http.Error(w, "change feed unavailable", http.StatusServiceUnavailable)
		return
	}
	defer sub.Close()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: originPatterns})
	if err != nil {
		logger.Debug("websocket accept failed", slog.Any("error", err))
		return
	}
	defer conn.CloseNow()

	// Clients never send; CloseRead handles control frames and cancels ctx
	// once the peer closes.
	ctx := conn.CloseRead(r.Context())
	logger.Debug("websocket client connected")

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	events := sub.Events()
	for {
		select {
		case <-ctx.Done():
			logger.Debug("websocket client disconnected")
			return

		case event, ok := <-events:
			if !ok {
				logger.Warn("websocket feed dropped", slog.Any("error", sub.Err()))
				_ = conn.Close(websocket.StatusTryAgainLater, reasonFeedDropped)
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(writeCtx, conn, event.WithoutSecrets())
			cancel()
			if err != nil {
				logger.Debug("websocket write failed", slog.Any("error", err))
				return
			}

		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				logger.Debug("websocket ping failed", slog.Any("error", err))
				return
			}
		}
	}
}

// Dialer subscribes to a remote server's change feed over websockets
type Dialer struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

var _ feed.Subscriber = (*Dialer)(nil)

// ChangesURL returns the websocket URL for a lobby's change feed
func (d *Dialer) ChangesURL(lobby model.LobbyName) (string, error) {
	u, err := url.Parse(strings.TrimRight(d.BaseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	u = u.JoinPath("api", "v1", "lobbies", string(lobby), "changes")
	return u.String(), nil
}

// Subscribe dials the change feed. It returns once the upgrade has
// completed, which means the server's own feed subscription is live.
func (d *Dialer) Subscribe(ctx context.Context, lobby model.LobbyName) (feed.Subscription, error) {
	target, err := d.ChangesURL(lobby)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	if d.Token != "" {
		header.Set("Authorization", "Bearer "+d.Token)
	}
	conn, resp, err := websocket.Dial(ctx, target, &websocket.DialOptions{
		HTTPClient: d.HTTPClient,
		HTTPHeader: header,
	})
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial change feed: %s: %w", resp.Status, err)
		}
		return nil, fmt.Errorf("dial change feed: %w", err)
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	stream := feed.NewStream(func() error {
		defer cancel()
		err := conn.Close(websocket.StatusNormalClosure, "")
		if err != nil && websocket.CloseStatus(err) == websocket.StatusNormalClosure {
			return nil
		}
		return err
	})
	go d.pump(pumpCtx, conn, stream, lobby)
	return stream, nil
}

func (d *Dialer) pump(ctx context.Context, conn *websocket.Conn, stream *feed.Stream, lobby model.LobbyName) {
	for {
		var event model.ChangeEvent
		if err := wsjson.Read(ctx, conn, &event); err != nil {
			if ctx.Err() != nil {
				return
			}
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				err = errors.New("server closed change feed")
			}
			stream.Fail(err)
			return
		}
		if event.LobbyName != lobby {
			continue
		}
		if !stream.Offer(event) && d.Logger != nil {
			d.Logger.Debug("change event dropped", slog.String("lobby", string(lobby)))
		}
	}
}
