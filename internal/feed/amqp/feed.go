// Package amqp carries change events through a RabbitMQ topic exchange.
// The routing key is the lobby name; each subscription binds its own
// exclusive, auto-deleted queue.
package amqp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/mcoot/bunker/internal/feed"
	"github.com/mcoot/bunker/internal/model"
)

// Exchange is the topic exchange all servers publish to
const Exchange = "bunker.changes"

// Feed publishes on a shared channel and opens one channel per subscription
type Feed struct {
	conn   *amqp.Connection
	logger *slog.Logger

	mu  sync.Mutex // amqp channels are not safe for concurrent publishing
	pub *amqp.Channel
}

// New dials the broker and declares the exchange
func New(url string, logger *slog.Logger) (*Feed, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := declareExchange(ch); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return &Feed{
		conn:   conn,
		pub:    ch,
		logger: logger.With(slog.String("component", "feed-amqp")),
	}, nil
}

var _ feed.Feed = (*Feed)(nil)

func declareExchange(ch *amqp.Channel) error {
	return ch.ExchangeDeclare(
		Exchange, // name
		"topic",  // kind
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
}

func (f *Feed) Publish(ctx context.Context, event model.ChangeEvent) error {
	body, err := feed.Encode(event)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pub.PublishWithContext(ctx,
		Exchange,
		RoutingKey(event.LobbyName),
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Timestamp:   event.Timestamp,
			Body:        body,
		})
}

func (f *Feed) Subscribe(ctx context.Context, lobby model.LobbyName) (feed.Subscription, error) {
	ch, err := f.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}

	q, err := ch.QueueDeclare(
		"",    // server-named
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, RoutingKey(lobby), Exchange, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("bind queue: %w", err)
	}
	deliveries, err := ch.ConsumeWithContext(ctx, q.Name, "", true, true, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("consume: %w", err)
	}

	closed := ch.NotifyClose(make(chan *amqp.Error, 1))
	stream := feed.NewStream(func() error {
		err := ch.Close()
		if errors.Is(err, amqp.ErrClosed) {
			return nil
		}
		return err
	})
	go f.pump(lobby, deliveries, closed, stream)
	return stream, nil
}

// Close closes the connection and with it every subscription channel
func (f *Feed) Close() error {
	return f.conn.Close()
}

func (f *Feed) pump(lobby model.LobbyName, deliveries <-chan amqp.Delivery, closed <-chan *amqp.Error, stream *feed.Stream) {
	logger := f.logger.With(slog.String("lobby", string(lobby)))
	for {
		select {
		case d, ok := <-deliveries:
			if !ok {
				stream.Fail(errors.New("amqp delivery channel closed"))
				return
			}
			event, err := feed.Decode(d.Body)
			if err != nil {
				logger.Warn("feed delivery undecodable", slog.Any("error", err))
				continue
			}
			if event.LobbyName == lobby {
				stream.Offer(event)
			}
		case amqpErr, ok := <-closed:
			if ok && amqpErr != nil {
				logger.Warn("feed channel closed by broker", slog.String("reason", amqpErr.Reason))
				stream.Fail(amqpErr)
			}
			return
		case <-stream.Done():
			return
		}
	}
}

// RoutingKey escapes a lobby name for use as a topic routing key. Dots and
// wildcards would otherwise split or widen the match.
func RoutingKey(lobby model.LobbyName) string {
	out := make([]byte, 0, len(lobby))
	for _, b := range []byte(lobby) {
		switch b {
		case '.', '*', '#', '%':
			out = append(out, fmt.Sprintf("%%%02X", b)...)
		default:
			out = append(out, b)
		}
	}
	return string(out)
}
