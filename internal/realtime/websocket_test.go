package realtime

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/suite"

	"github.com/mcoot/bunker/internal/feed"
	"github.com/mcoot/bunker/internal/feed/memory"
	"github.com/mcoot/bunker/internal/model"
	"github.com/mcoot/bunker/internal/testutil"
)

type WebsocketSuite struct {
	suite.Suite
	broker *memory.Broker
	server *httptest.Server
	dialer *Dialer
	ctx    context.Context
}

func TestWebsocketSuite(t *testing.T) {
	suite.Run(t, new(WebsocketSuite))
}

func (s *WebsocketSuite) SetupTest() {
	s.broker = memory.New(testutil.NopLogger())

	router := mux.NewRouter()
	router.HandleFunc("/api/v1/lobbies/{name}/changes", func(w http.ResponseWriter, r *http.Request) {
		lobby := model.LobbyName(mux.Vars(r)["name"])
		ServeChanges(w, r, s.broker, lobby, []string{"*"}, testutil.NopLogger())
	})
	s.server = httptest.NewServer(router)

	s.dialer = &Dialer{BaseURL: s.server.URL, Token: "token", Logger: testutil.NopLogger()}
	s.ctx = context.Background()
}

func (s *WebsocketSuite) TearDownTest() {
	s.server.Close()
	_ = s.broker.Close()
}

func (s *WebsocketSuite) receive(sub feed.Subscription) model.ChangeEvent {
	select {
	case event, ok := <-sub.Events():
		s.Require().True(ok, "stream closed: %v", sub.Err())
		return event
	case <-time.After(2 * time.Second):
		s.FailNow("no event received")
	}
	return model.ChangeEvent{}
}

func (s *WebsocketSuite) waitSubscribers(lobby model.LobbyName, want int) {
	s.Eventually(func() bool {
		return s.broker.SubscriberCount(lobby) == want
	}, 2*time.Second, 5*time.Millisecond)
}

func (s *WebsocketSuite) TestRoundTrip() {
	sub, err := s.dialer.Subscribe(s.ctx, "alpha")
	s.Require().NoError(err)
	defer sub.Close()

	// The server subscribes before upgrading
	s.Equal(1, s.broker.SubscriberCount("alpha"))

	row := &model.Participation{ID: "row-1", UserID: "p1", DisplayName: "Alice", LobbyName: "alpha"}
	s.Require().NoError(s.broker.Publish(s.ctx, model.NewInsertEvent(row, time.Now())))

	event := s.receive(sub)
	s.Equal(model.ChangeInsert, event.Type)
	s.Equal(model.LobbyName("alpha"), event.LobbyName)
	s.Require().NotNil(event.New)
	s.Equal("Alice", event.New.DisplayName)
}

func (s *WebsocketSuite) TestOnlySubscribedLobbyIsDelivered() {
	sub, err := s.dialer.Subscribe(s.ctx, "alpha")
	s.Require().NoError(err)
	defer sub.Close()

	other := &model.Participation{ID: "row-9", UserID: "p9", LobbyName: "beta"}
	mine := &model.Participation{ID: "row-1", UserID: "p1", LobbyName: "alpha"}
	s.Require().NoError(s.broker.Publish(s.ctx, model.NewInsertEvent(other, time.Now())))
	s.Require().NoError(s.broker.Publish(s.ctx, model.NewDeleteEvent(mine, time.Now())))

	event := s.receive(sub)
	s.Equal(model.ChangeDelete, event.Type)
	s.Equal("p1", string(event.Old.UserID))
}

func (s *WebsocketSuite) TestPasswordIsNotStreamed() {
	sub, err := s.dialer.Subscribe(s.ctx, "alpha")
	s.Require().NoError(err)
	defer sub.Close()

	row := &model.Participation{ID: "row-1", UserID: "p1", LobbyName: "alpha", LobbyPassword: "s3cret"}
	old := *row
	event := model.ChangeEvent{Type: model.ChangeUpdate, LobbyName: "alpha", New: row, Old: &old, Timestamp: time.Now()}
	s.Require().NoError(s.broker.Publish(s.ctx, event))

	got := s.receive(sub)
	s.Require().NotNil(got.New)
	s.Require().NotNil(got.Old)
	s.Empty(got.New.LobbyPassword)
	s.Empty(got.Old.LobbyPassword)
	s.Equal("s3cret", row.LobbyPassword)
}

func (s *WebsocketSuite) TestFailedSubscriptionFailsDial() {
	_ = s.broker.Close()

	_, err := s.dialer.Subscribe(s.ctx, "alpha")
	s.Require().Error(err)
	s.Contains(err.Error(), "503")
}

func (s *WebsocketSuite) TestFeedDropEndsClientStream() {
	sub, err := s.dialer.Subscribe(s.ctx, "alpha")
	s.Require().NoError(err)
	defer sub.Close()

	s.broker.Disconnect("alpha", errors.New("connection reset"))

	select {
	case _, ok := <-sub.Events():
		s.False(ok)
	case <-time.After(2 * time.Second):
		s.FailNow("client stream did not end")
	}
	s.Error(sub.Err())
}

func (s *WebsocketSuite) TestCloseReleasesServerSubscription() {
	sub, err := s.dialer.Subscribe(s.ctx, "alpha")
	s.Require().NoError(err)
	s.waitSubscribers("alpha", 1)

	_ = sub.Close()
	s.Nil(sub.Err())

	s.waitSubscribers("alpha", 0)
}

func (s *WebsocketSuite) TestCancelledDial() {
	ctx, cancel := context.WithCancel(s.ctx)
	cancel()

	_, err := s.dialer.Subscribe(ctx, "alpha")
	s.Error(err)
}

func TestChangesURL(t *testing.T) {
	tests := []struct {
		name    string
		base    string
		lobby   model.LobbyName
		want    string
		wantErr bool
	}{
		{name: "http", base: "http://localhost:8080", lobby: "alpha", want: "ws://localhost:8080/api/v1/lobbies/alpha/changes"},
		{name: "https with trailing slash", base: "https://bunker.example/", lobby: "alpha", want: "wss://bunker.example/api/v1/lobbies/alpha/changes"},
		{name: "ws kept", base: "ws://127.0.0.1:9000", lobby: "beta", want: "ws://127.0.0.1:9000/api/v1/lobbies/beta/changes"},
		{name: "path prefix", base: "http://host/bunker", lobby: "alpha", want: "ws://host/bunker/api/v1/lobbies/alpha/changes"},
		{name: "escaped lobby", base: "http://host", lobby: "my lobby", want: "ws://host/api/v1/lobbies/my%20lobby/changes"},
		{name: "bad scheme", base: "ftp://host", lobby: "alpha", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &Dialer{BaseURL: tt.base}
			got, err := d.ChangesURL(tt.lobby)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ChangesURL(%q) = %q, want error", tt.lobby, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ChangesURL: %v", err)
			}
			if got != tt.want {
				t.Errorf("ChangesURL(%q) = %q, want %q", tt.lobby, got, tt.want)
			}
		})
	}
}
