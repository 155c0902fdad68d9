package lobby

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/mcoot/bunker/internal/cache"
	"github.com/mcoot/bunker/internal/dependencies/mocks"
	"github.com/mcoot/bunker/internal/feed"
	feedmemory "github.com/mcoot/bunker/internal/feed/memory"
	"github.com/mcoot/bunker/internal/model"
	"github.com/mcoot/bunker/internal/storage/memory"
	"github.com/mcoot/bunker/internal/testutil"
	"github.com/mcoot/bunker/internal/traits"
)

// flakyStorage fails every call while down is set
type flakyStorage struct {
	*memory.Storage
	down error
}

func (f *flakyStorage) LobbyExists(ctx context.Context, name model.LobbyName) (bool, error) {
	if f.down != nil {
		return false, f.down
	}
	return f.Storage.LobbyExists(ctx, name)
}

func (f *flakyStorage) CreateLobby(ctx context.Context, l *model.Lobby, row *model.Participation) error {
	if f.down != nil {
		return f.down
	}
	return f.Storage.CreateLobby(ctx, l, row)
}

func (f *flakyStorage) JoinLobby(ctx context.Context, creds model.LobbyCredentials, row *model.Participation) (int, *model.Lobby, error) {
	if f.down != nil {
		return 0, nil, f.down
	}
	return f.Storage.JoinLobby(ctx, creds, row)
}

type ControllerSuite struct {
	suite.Suite
	storage    *flakyStorage
	broker     *feedmemory.Broker
	cache      *cache.LobbyCache
	pool       *traits.Pool
	clock      *mocks.MockClock
	controller *Controller
	ctx        context.Context
}

func TestControllerSuite(t *testing.T) {
	suite.Run(t, new(ControllerSuite))
}

func (s *ControllerSuite) SetupTest() {
	s.storage = &flakyStorage{Storage: memory.New()}
	s.broker = feedmemory.New(testutil.NopLogger())
	s.cache = cache.New()
	s.clock = mocks.NewMockClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))

	pool, err := traits.NewPool([]model.Traits{
		{Profession: "Doctor"},
		{Profession: "Farmer"},
		{Profession: "Pilot"},
	})
	s.Require().NoError(err)
	s.pool = pool

	s.controller = NewController(s.storage, s.broker, s.pool, s.cache, s.clock, mocks.NewSequentialIDs("row"), testutil.NopLogger())
	s.ctx = context.Background()
}

func (s *ControllerSuite) TearDownTest() {
	_ = s.broker.Close()
}

func (s *ControllerSuite) player(id string) model.Player {
	return model.Player{ID: model.PlayerID(id), DisplayName: id, IsGuest: true, CreatedAt: s.clock.Now()}
}

func creds(name, password string) model.LobbyCredentials {
	return model.LobbyCredentials{Name: model.LobbyName(name), Password: password}
}

func (s *ControllerSuite) create(name, password, user string) *View {
	view, err := s.controller.Create(s.ctx, creds(name, password), s.player(user))
	s.Require().NoError(err)
	s.clock.Advance(time.Second)
	return view
}

func (s *ControllerSuite) join(name, password, user string) *View {
	view, err := s.controller.Join(s.ctx, creds(name, password), s.player(user))
	s.Require().NoError(err)
	s.clock.Advance(time.Second)
	return view
}

// Create

func (s *ControllerSuite) TestCreateSeedsCreatorAndCache() {
	view := s.create("alpha", "pw", "alice")

	s.Equal(model.LobbyName("alpha"), view.Lobby.Name)
	s.Empty(view.Lobby.Password)
	s.Equal(model.PlayerID("alice"), view.Lobby.CreatorID)
	s.Len(view.Players, 1)
	s.Equal(1, view.Self.ID)
	s.Equal("Doctor", view.Self.Profession)
	s.Equal(traits.DefaultBunker(), view.Bunker)

	entry, ok := s.cache.Get("alpha")
	s.Require().True(ok)
	s.Equal("pw", entry.Password)
	s.Len(entry.Players, 1)
}

func (s *ControllerSuite) TestCreateTwiceIsDuplicate() {
	s.create("alpha", "pw", "alice")

	_, err := s.controller.Create(s.ctx, creds("alpha", "other"), s.player("bob"))
	s.ErrorIs(err, model.ErrDuplicateLobby)
}

func (s *ControllerSuite) TestCreateAfterDeleteSucceeds() {
	s.create("alpha", "pw", "alice")
	_, err := s.controller.Delete(s.ctx, creds("alpha", "pw"), s.player("alice"), 0)
	s.Require().NoError(err)

	s.create("alpha", "pw2", "bob")
}

func (s *ControllerSuite) TestCreateRejectsInvalidName() {
	for _, name := range []string{"", "   ", "bad*name", string(make([]byte, model.MaxLobbyNameLength+1))} {
		_, err := s.controller.Create(s.ctx, creds(name, "pw"), s.player("alice"))
		s.ErrorIs(err, model.ErrInvalidLobbyName, "name %q", name)
	}
}

func (s *ControllerSuite) TestCreatePublishesInsert() {
	sub, err := s.broker.Subscribe(s.ctx, "alpha")
	s.Require().NoError(err)
	defer sub.Close()

	s.create("alpha", "pw", "alice")

	e := <-sub.Events()
	s.Equal(model.ChangeInsert, e.Type)
	s.Equal(model.PlayerID("alice"), e.New.UserID)
	s.Empty(e.New.LobbyPassword)
}

// Join

func (s *ControllerSuite) TestJoinPasswordGate() {
	s.create("alpha", "pw", "alice")

	_, err := s.controller.Join(s.ctx, creds("alpha", "wrong"), s.player("bob"))
	s.ErrorIs(err, model.ErrBadPassword)

	view := s.join("alpha", "pw", "bob")
	s.Len(view.Players, 2)
	s.Equal(traits.DefaultBunker(), view.Bunker)
}

func (s *ControllerSuite) TestJoinMissingLobby() {
	_, err := s.controller.Join(s.ctx, creds("ghost", "pw"), s.player("bob"))
	s.ErrorIs(err, model.ErrLobbyNotFound)
}

func (s *ControllerSuite) TestJoinTwiceIsAlreadyJoined() {
	s.create("alpha", "pw", "alice")
	s.create("beta", "pw", "bob")

	_, err := s.controller.Join(s.ctx, creds("beta", "pw"), s.player("alice"))
	s.ErrorIs(err, model.ErrAlreadyJoined)

	rows, _ := s.controller.Participants(s.ctx, "beta")
	s.Len(rows, 1, "failed join leaves nothing behind")
}

func (s *ControllerSuite) TestJoinOrderDealsTemplatesCyclically() {
	s.create("alpha", "pw", "p0")
	for i := 1; i < 7; i++ {
		s.join("alpha", "pw", fmt.Sprintf("p%d", i))
	}

	players, err := s.controller.Players(s.ctx, "alpha")
	s.Require().NoError(err)
	s.Require().Len(players, 7)
	for i, p := range players {
		s.Equal(i+1, p.ID)
		s.Equal(s.pool.At(i).Profession, p.Profession, "player %d", i)
	}
}

func (s *ControllerSuite) TestDealtTraitsSurviveDepartures() {
	s.create("alpha", "pw", "alice")
	s.join("alpha", "pw", "bob")
	carol := s.join("alpha", "pw", "carol")
	s.Equal("Pilot", carol.Self.Profession)

	_, err := s.controller.Leave(s.ctx, s.player("bob"))
	s.Require().NoError(err)

	players, _ := s.controller.Players(s.ctx, "alpha")
	s.Require().Len(players, 2)
	s.Equal(2, players[1].ID)
	s.Equal("Pilot", players[1].Profession)
}

func (s *ControllerSuite) TestJoinPublishesInsertThenUpdate() {
	s.create("alpha", "pw", "alice")
	sub, err := s.broker.Subscribe(s.ctx, "alpha")
	s.Require().NoError(err)
	defer sub.Close()

	s.join("alpha", "pw", "bob")

	s.Equal(model.ChangeInsert, (<-sub.Events()).Type)
	s.Equal(model.ChangeUpdate, (<-sub.Events()).Type)
}

// Delete

func (s *ControllerSuite) TestDeleteMissingIsAlwaysNotFound() {
	for range 3 {
		ok, err := s.controller.Delete(s.ctx, creds("ghost", "pw"), s.player("alice"), 0)
		s.False(ok)
		s.ErrorIs(err, model.ErrLobbyNotFound)
	}

	s.create("alpha", "pw", "alice")
	ok, err := s.controller.Delete(s.ctx, creds("alpha", "pw"), s.player("alice"), 0)
	s.True(ok)
	s.Require().NoError(err)

	_, err = s.controller.Delete(s.ctx, creds("alpha", "pw"), s.player("alice"), 0)
	s.ErrorIs(err, model.ErrLobbyNotFound)
}

func (s *ControllerSuite) TestDeleteRequiresCreator() {
	s.create("alpha", "pw", "alice")
	s.join("alpha", "pw", "bob")

	_, err := s.controller.Delete(s.ctx, creds("alpha", "pw"), s.player("bob"), 0)
	s.ErrorIs(err, model.ErrNotCreator)
	s.True(s.controller.Exists(s.ctx, "alpha"))
}

func (s *ControllerSuite) TestDeleteBadPassword() {
	s.create("alpha", "pw", "alice")

	_, err := s.controller.Delete(s.ctx, creds("alpha", "nope"), s.player("alice"), 0)
	s.ErrorIs(err, model.ErrBadPassword)
}

func (s *ControllerSuite) TestDeleteWithStaleVersion() {
	view := s.create("alpha", "pw", "alice")
	s.join("alpha", "pw", "bob")

	_, err := s.controller.Delete(s.ctx, creds("alpha", "pw"), s.player("alice"), view.Lobby.Version)
	s.ErrorIs(err, model.ErrVersionConflict)

	lobby, err := s.controller.GetLobby(s.ctx, "alpha")
	s.Require().NoError(err)
	ok, err := s.controller.Delete(s.ctx, creds("alpha", "pw"), s.player("alice"), lobby.Version)
	s.Require().NoError(err)
	s.True(ok)
}

func (s *ControllerSuite) TestDeleteClearsCacheAndPublishes() {
	s.create("alpha", "pw", "alice")
	s.join("alpha", "pw", "bob")
	sub, _ := s.broker.Subscribe(s.ctx, "alpha")
	defer sub.Close()

	_, err := s.controller.Delete(s.ctx, creds("alpha", "pw"), s.player("alice"), 0)
	s.Require().NoError(err)

	_, ok := s.cache.Get("alpha")
	s.False(ok)
	s.False(s.controller.CheckPassword("alpha", "pw"))
	for _, want := range []model.PlayerID{"alice", "bob"} {
		e := <-sub.Events()
		s.Equal(model.ChangeDelete, e.Type)
		s.Require().NotNil(e.Old)
		s.Equal(want, e.Old.UserID)
		s.Empty(e.Old.LobbyPassword)
	}
}

func (s *ControllerSuite) TestDeleteAll() {
	s.create("alpha", "pw", "alice")
	s.create("beta", "pw", "bob")

	_, err := s.controller.DeleteAll(s.ctx, s.player("carol"))
	s.ErrorIs(err, model.ErrNotCreator, "not in any lobby")

	s.join("alpha", "pw", "carol")
	_, err = s.controller.DeleteAll(s.ctx, s.player("carol"))
	s.ErrorIs(err, model.ErrNotCreator, "member but not creator")

	ok, err := s.controller.DeleteAll(s.ctx, s.player("alice"))
	s.Require().NoError(err)
	s.True(ok)
	s.False(s.controller.Exists(s.ctx, "alpha"))
	s.False(s.controller.Exists(s.ctx, "beta"))
	s.Zero(s.cache.Len())
}

// Exists / CheckPassword

func (s *ControllerSuite) TestExistsTreatsFailureAsFalse() {
	s.create("alpha", "pw", "alice")
	s.True(s.controller.Exists(s.ctx, "alpha"))

	s.storage.down = errors.New("connection refused")
	s.False(s.controller.Exists(s.ctx, "alpha"))
}

func (s *ControllerSuite) TestCheckPasswordUsesCacheOnly() {
	s.False(s.controller.CheckPassword("alpha", "pw"))

	s.create("alpha", "pw", "alice")
	s.True(s.controller.CheckPassword("alpha", "pw"))
	s.False(s.controller.CheckPassword("alpha", "other"))

	// A delete made elsewhere is not seen by the cache.
	_, err := s.storage.DeleteLobby(s.ctx, model.DeleteLobbyRequest{Name: "alpha", Password: "pw", RequesterID: "alice"})
	s.Require().NoError(err)
	s.True(s.controller.CheckPassword("alpha", "pw"))
}

// Error normalisation

func (s *ControllerSuite) TestBackendErrorsBecomeTransient() {
	cause := errors.New("dial tcp: i/o timeout")
	s.storage.down = cause

	_, err := s.controller.Create(s.ctx, creds("alpha", "pw"), s.player("alice"))
	s.ErrorIs(err, model.ErrTransientBackend)
	s.ErrorIs(err, cause)

	_, err = s.controller.Join(s.ctx, creds("alpha", "pw"), s.player("bob"))
	s.ErrorIs(err, model.ErrTransientBackend)
}

func (s *ControllerSuite) TestPublishFailureDoesNotFailWrite() {
	s.Require().NoError(s.broker.Close())

	view := s.create("alpha", "pw", "alice")
	s.NotNil(view)
	s.True(s.controller.Exists(s.ctx, "alpha"))
}

// Leave / participation

func (s *ControllerSuite) TestLeaveLastPlayerRemovesLobbyFromCache() {
	s.create("alpha", "pw", "alice")

	row, err := s.controller.Leave(s.ctx, s.player("alice"))
	s.Require().NoError(err)
	s.Equal(model.LobbyName("alpha"), row.LobbyName)
	s.False(s.controller.Exists(s.ctx, "alpha"))
	_, ok := s.cache.Get("alpha")
	s.False(ok)
}

func (s *ControllerSuite) TestLeaveWithoutLobby() {
	_, err := s.controller.Leave(s.ctx, s.player("alice"))
	s.ErrorIs(err, model.ErrParticipationNotFound)
}

func (s *ControllerSuite) TestParticipation() {
	s.create("alpha", "pw", "alice")

	row, err := s.controller.Participation(s.ctx, "alice")
	s.Require().NoError(err)
	s.Equal("pw", row.LobbyPassword)

	s.Require().NoError(s.controller.DeleteParticipation(s.ctx, "alice"))
	_, err = s.controller.Participation(s.ctx, "alice")
	s.ErrorIs(err, model.ErrParticipationNotFound)
}

var _ feed.Publisher = (*feedmemory.Broker)(nil)
