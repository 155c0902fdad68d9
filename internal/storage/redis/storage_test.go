package redis

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"

	"github.com/mcoot/bunker/internal/model"
	"github.com/mcoot/bunker/internal/storage/storagetest"
)

type StorageSuite struct {
	storagetest.Suite
	mini    *miniredis.Miniredis
	storage *Storage
}

func TestStorageSuite(t *testing.T) {
	suite.Run(t, new(StorageSuite))
}

func (s *StorageSuite) SetupTest() {
	s.mini = miniredis.RunT(s.T())

	client := redis.NewClient(&redis.Options{
		Addr: s.mini.Addr(),
	})

	cfg := DefaultConfig()
	cfg.GuestPlayerTTL = time.Hour
	cfg.LobbyTTL = time.Hour

	s.storage = NewWithClient(client, cfg)
	s.Reset(s.storage)
}

func (s *StorageSuite) TearDownTest() {
	if s.storage != nil {
		_ = s.storage.Close()
	}
}

func (s *StorageSuite) TestKeysUsePrefix() {
	s.CreateLobby("alpha", "pw", "alice")

	s.True(s.mini.Exists("bunker:lobby:alpha"))
	s.True(s.mini.Exists("bunker:participation:alice"))

	members, err := s.mini.List("bunker:lobby_members:alpha")
	s.Require().NoError(err)
	s.Equal([]string{"alice"}, members)

	ok, err := s.mini.SIsMember("bunker:idx:lobbies", "alpha")
	s.Require().NoError(err)
	s.True(ok)
}

func (s *StorageSuite) TestGuestPlayerTTL() {
	guest := &model.Player{ID: "guest-1", DisplayName: "Guest", IsGuest: true}
	s.Require().NoError(s.storage.SavePlayer(s.Ctx, guest))

	registered := &model.Player{ID: "reg-1", DisplayName: "Reg"}
	s.Require().NoError(s.storage.SavePlayer(s.Ctx, registered))

	s.Equal(time.Hour, s.mini.TTL("bunker:player:guest-1"))
	s.Zero(s.mini.TTL("bunker:player:reg-1"))
}

func (s *StorageSuite) TestLobbyExpires() {
	s.CreateLobby("alpha", "pw", "alice")

	s.mini.FastForward(2 * time.Hour)

	exists, err := s.storage.LobbyExists(s.Ctx, "alpha")
	s.Require().NoError(err)
	s.False(exists)

	rows, err := s.storage.ListParticipants(s.Ctx, "alpha")
	s.Require().NoError(err)
	s.Empty(rows)
}

func (s *StorageSuite) TestListSkipsRowsFromOtherLobbies() {
	s.CreateLobby("alpha", "pw", "alice")
	// A dangling member id pointing at a row that now belongs elsewhere.
	s.Require().NoError(s.mini.Set("bunker:participation:bob", `{"user_id":"bob","lobby_name":"beta"}`))
	_, err := s.mini.Push("bunker:lobby_members:alpha", "bob")
	s.Require().NoError(err)

	rows, err := s.storage.ListParticipants(s.Ctx, "alpha")
	s.Require().NoError(err)
	s.Len(rows, 1)
}

func (s *StorageSuite) TestBackendFailureIsReturned() {
	s.mini.SetError("server down")
	defer s.mini.SetError("")

	_, err := s.storage.LobbyExists(s.Ctx, "alpha")
	s.Error(err)
}
