// Package storagetest holds the behaviour every storage backend must share.
package storagetest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/mcoot/bunker/internal/model"
	"github.com/mcoot/bunker/internal/storage"
)

// Suite runs the storage contract against a fresh backend per test.
// Embed it and set NewStorage in SetupTest.
type Suite struct {
	suite.Suite
	Storage storage.Storage
	Ctx     context.Context

	base time.Time
	seq  int
}

// Reset prepares per-test state. Call it after assigning Storage.
func (s *Suite) Reset(st storage.Storage) {
	s.Storage = st
	s.Ctx = context.Background()
	s.base = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	s.seq = 0
}

// Row builds a participation row with a strictly increasing JoinedAt.
// Tests that need ties or skew overwrite it.
func (s *Suite) Row(user string, lobby model.LobbyName, password string) *model.Participation {
	s.seq++
	return &model.Participation{
		ID:            fmt.Sprintf("row-%d", s.seq),
		UserID:        model.PlayerID(user),
		DisplayName:   user,
		LobbyName:     lobby,
		LobbyPassword: password,
		JoinedAt:      s.base.Add(time.Duration(s.seq) * time.Second),
	}
}

// CreateLobby creates a lobby with the given creator
func (s *Suite) CreateLobby(name model.LobbyName, password, creator string) *model.Lobby {
	row := s.Row(creator, name, password)
	lobby := &model.Lobby{
		Name:      name,
		Password:  password,
		CreatorID: row.UserID,
		CreatedAt: row.JoinedAt,
		UpdatedAt: row.JoinedAt,
	}
	s.Require().NoError(s.Storage.CreateLobby(s.Ctx, lobby, row))
	return lobby
}

// Join adds user to the lobby and returns the join position
func (s *Suite) Join(name model.LobbyName, password, user string) int {
	pos, _, err := s.Storage.JoinLobby(s.Ctx, model.LobbyCredentials{Name: name, Password: password}, s.Row(user, name, password))
	s.Require().NoError(err)
	return pos
}

func (s *Suite) userIDs(rows []*model.Participation) []model.PlayerID {
	ids := make([]model.PlayerID, len(rows))
	for i, r := range rows {
		ids[i] = r.UserID
	}
	return ids
}

// Player tests

func (s *Suite) TestSaveAndGetPlayer() {
	player := &model.Player{ID: "player-1", DisplayName: "Alice", CreatedAt: s.base}
	s.Require().NoError(s.Storage.SavePlayer(s.Ctx, player))

	got, err := s.Storage.GetPlayer(s.Ctx, "player-1")
	s.Require().NoError(err)
	s.Equal("Alice", got.DisplayName)
}

func (s *Suite) TestGetPlayerNotFound() {
	_, err := s.Storage.GetPlayer(s.Ctx, "nonexistent")
	s.ErrorIs(err, model.ErrPlayerNotFound)
}

func (s *Suite) TestRegisteredPlayerByUsername() {
	rp := &model.RegisteredPlayer{PlayerID: "player-1", Username: "alice", PasswordHash: "hash", CreatedAt: s.base}
	s.Require().NoError(s.Storage.SaveRegisteredPlayer(s.Ctx, rp))

	got, err := s.Storage.GetRegisteredPlayerByUsername(s.Ctx, "alice")
	s.Require().NoError(err)
	s.Equal(model.PlayerID("player-1"), got.PlayerID)

	_, err = s.Storage.GetRegisteredPlayerByUsername(s.Ctx, "bob")
	s.ErrorIs(err, model.ErrPlayerNotFound)
}

// Lobby creation

func (s *Suite) TestCreateLobby() {
	s.CreateLobby("alpha", "pw", "alice")

	exists, err := s.Storage.LobbyExists(s.Ctx, "alpha")
	s.Require().NoError(err)
	s.True(exists)

	lobby, err := s.Storage.GetLobby(s.Ctx, "alpha")
	s.Require().NoError(err)
	s.Equal(model.PlayerID("alice"), lobby.CreatorID)
	s.Positive(lobby.Version)

	rows, err := s.Storage.ListParticipants(s.Ctx, "alpha")
	s.Require().NoError(err)
	s.Equal([]model.PlayerID{"alice"}, s.userIDs(rows))
}

func (s *Suite) TestCreateDuplicateLobbyFails() {
	s.CreateLobby("alpha", "pw", "alice")

	row := s.Row("bob", "alpha", "other")
	err := s.Storage.CreateLobby(s.Ctx, &model.Lobby{Name: "alpha", Password: "other", CreatorID: "bob"}, row)
	s.ErrorIs(err, model.ErrDuplicateLobby)

	rows, _ := s.Storage.ListParticipants(s.Ctx, "alpha")
	s.Len(rows, 1)
	_, err = s.Storage.GetParticipation(s.Ctx, "bob")
	s.ErrorIs(err, model.ErrParticipationNotFound)
}

func (s *Suite) TestCreateWhileInAnotherLobbyFails() {
	s.CreateLobby("alpha", "pw", "alice")

	row := s.Row("alice", "beta", "pw")
	err := s.Storage.CreateLobby(s.Ctx, &model.Lobby{Name: "beta", Password: "pw", CreatorID: "alice"}, row)
	s.ErrorIs(err, model.ErrAlreadyJoined)

	exists, _ := s.Storage.LobbyExists(s.Ctx, "beta")
	s.False(exists)
}

func (s *Suite) TestConcurrentCreateOnlyOneWins() {
	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	rows := make([]*model.Participation, n)
	for i := range rows {
		rows[i] = s.Row(fmt.Sprintf("user-%d", i), "race", "pw")
	}
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lobby := &model.Lobby{Name: "race", Password: "pw", CreatorID: rows[i].UserID}
			errs[i] = s.Storage.CreateLobby(s.Ctx, lobby, rows[i])
		}()
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else {
			s.ErrorIs(err, model.ErrDuplicateLobby)
		}
	}
	s.Equal(1, wins)

	participants, _ := s.Storage.ListParticipants(s.Ctx, "race")
	s.Len(participants, 1)
}

// Joining

func (s *Suite) TestJoinAppendsInOrder() {
	s.CreateLobby("alpha", "pw", "alice")
	s.Equal(1, s.Join("alpha", "pw", "bob"))
	s.Equal(2, s.Join("alpha", "pw", "carol"))

	rows, err := s.Storage.ListParticipants(s.Ctx, "alpha")
	s.Require().NoError(err)
	s.Equal([]model.PlayerID{"alice", "bob", "carol"}, s.userIDs(rows))
}

func (s *Suite) TestJoinOrderIgnoresClockSkew() {
	s.CreateLobby("alpha", "pw", "alice")
	creator, err := s.Storage.GetParticipation(s.Ctx, "alice")
	s.Require().NoError(err)

	// bob's clock ties with alice's, carol's runs behind both
	join := func(user string, at time.Time) {
		row := s.Row(user, "alpha", "pw")
		row.JoinedAt = at
		_, _, err := s.Storage.JoinLobby(s.Ctx, model.LobbyCredentials{Name: "alpha", Password: "pw"}, row)
		s.Require().NoError(err)
	}
	join("bob", creator.JoinedAt)
	join("carol", creator.JoinedAt.Add(-time.Minute))

	rows, err := s.Storage.ListParticipants(s.Ctx, "alpha")
	s.Require().NoError(err)
	s.Equal([]model.PlayerID{"alice", "bob", "carol"}, s.userIDs(rows))

	_, err = s.Storage.DeleteParticipation(s.Ctx, "alice")
	s.Require().NoError(err)
	lobby, err := s.Storage.GetLobby(s.Ctx, "alpha")
	s.Require().NoError(err)
	s.Equal(model.PlayerID("bob"), lobby.CreatorID)

	removed, err := s.Storage.DeleteLobby(s.Ctx, model.DeleteLobbyRequest{
		Name: "alpha", Password: "pw", RequesterID: "bob",
	})
	s.Require().NoError(err)
	s.Equal([]model.PlayerID{"bob", "carol"}, s.userIDs(removed))
}

func (s *Suite) TestJoinBumpsVersion() {
	created := s.CreateLobby("alpha", "pw", "alice")
	before, _ := s.Storage.GetLobby(s.Ctx, created.Name)

	_, lobby, err := s.Storage.JoinLobby(s.Ctx, model.LobbyCredentials{Name: "alpha", Password: "pw"}, s.Row("bob", "alpha", "pw"))
	s.Require().NoError(err)
	s.Greater(lobby.Version, before.Version)
}

func (s *Suite) TestJoinErrors() {
	s.CreateLobby("alpha", "pw", "alice")

	_, _, err := s.Storage.JoinLobby(s.Ctx, model.LobbyCredentials{Name: "missing", Password: "pw"}, s.Row("bob", "missing", "pw"))
	s.ErrorIs(err, model.ErrLobbyNotFound)

	_, _, err = s.Storage.JoinLobby(s.Ctx, model.LobbyCredentials{Name: "alpha", Password: "nope"}, s.Row("bob", "alpha", "nope"))
	s.ErrorIs(err, model.ErrBadPassword)

	_, _, err = s.Storage.JoinLobby(s.Ctx, model.LobbyCredentials{Name: "alpha", Password: "pw"}, s.Row("alice", "alpha", "pw"))
	s.ErrorIs(err, model.ErrAlreadyJoined)

	rows, _ := s.Storage.ListParticipants(s.Ctx, "alpha")
	s.Len(rows, 1)
}

func (s *Suite) TestConcurrentJoinsGetDistinctPositions() {
	s.CreateLobby("alpha", "pw", "alice")

	const n = 6
	var wg sync.WaitGroup
	positions := make([]int, n)
	rows := make([]*model.Participation, n)
	for i := range rows {
		rows[i] = s.Row(fmt.Sprintf("user-%d", i), "alpha", "pw")
	}
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pos, _, err := s.Storage.JoinLobby(s.Ctx, model.LobbyCredentials{Name: "alpha", Password: "pw"}, rows[i])
			s.NoError(err)
			positions[i] = pos
		}()
	}
	wg.Wait()

	seen := map[int]bool{}
	for _, p := range positions {
		s.False(seen[p], "position %d assigned twice", p)
		seen[p] = true
		s.GreaterOrEqual(p, 1)
	}
	participants, _ := s.Storage.ListParticipants(s.Ctx, "alpha")
	s.Len(participants, n+1)
}

// Traits

func (s *Suite) TestUpdateTraits() {
	s.CreateLobby("alpha", "pw", "alice")

	row, err := s.Storage.UpdateTraits(s.Ctx, "alice", model.Traits{Profession: "Pilot", Age: 30})
	s.Require().NoError(err)
	s.Equal("Pilot", row.Traits.Profession)

	rows, _ := s.Storage.ListParticipants(s.Ctx, "alpha")
	s.Equal("Pilot", rows[0].Traits.Profession)
	s.Equal(30, rows[0].Traits.Age)

	_, err = s.Storage.UpdateTraits(s.Ctx, "ghost", model.Traits{})
	s.ErrorIs(err, model.ErrParticipationNotFound)
}

// Deleting

func (s *Suite) TestDeleteLobby() {
	s.CreateLobby("alpha", "pw", "alice")
	s.Join("alpha", "pw", "bob")

	removed, err := s.Storage.DeleteLobby(s.Ctx, model.DeleteLobbyRequest{Name: "alpha", Password: "pw", RequesterID: "alice"})
	s.Require().NoError(err)
	s.ElementsMatch([]model.PlayerID{"alice", "bob"}, s.userIDs(removed))

	exists, _ := s.Storage.LobbyExists(s.Ctx, "alpha")
	s.False(exists)
	rows, _ := s.Storage.ListParticipants(s.Ctx, "alpha")
	s.Empty(rows)
	_, err = s.Storage.GetParticipation(s.Ctx, "bob")
	s.ErrorIs(err, model.ErrParticipationNotFound)
}

func (s *Suite) TestDeleteLobbyChecksInOrder() {
	s.CreateLobby("alpha", "pw", "alice")
	s.Join("alpha", "pw", "bob")

	_, err := s.Storage.DeleteLobby(s.Ctx, model.DeleteLobbyRequest{Name: "missing", Password: "pw", RequesterID: "alice"})
	s.ErrorIs(err, model.ErrLobbyNotFound)

	_, err = s.Storage.DeleteLobby(s.Ctx, model.DeleteLobbyRequest{Name: "alpha", Password: "bad", RequesterID: "bob"})
	s.ErrorIs(err, model.ErrBadPassword)

	_, err = s.Storage.DeleteLobby(s.Ctx, model.DeleteLobbyRequest{Name: "alpha", Password: "pw", RequesterID: "bob"})
	s.ErrorIs(err, model.ErrNotCreator)

	_, err = s.Storage.DeleteLobby(s.Ctx, model.DeleteLobbyRequest{Name: "alpha", Password: "pw", RequesterID: "alice", ExpectedVersion: 1})
	s.ErrorIs(err, model.ErrVersionConflict)

	rows, _ := s.Storage.ListParticipants(s.Ctx, "alpha")
	s.Len(rows, 2)
}

func (s *Suite) TestDeleteLobbyWithCurrentVersion() {
	s.CreateLobby("alpha", "pw", "alice")
	s.Join("alpha", "pw", "bob")
	lobby, _ := s.Storage.GetLobby(s.Ctx, "alpha")

	_, err := s.Storage.DeleteLobby(s.Ctx, model.DeleteLobbyRequest{Name: "alpha", Password: "pw", RequesterID: "alice", ExpectedVersion: lobby.Version})
	s.Require().NoError(err)
}

func (s *Suite) TestDeleteAllLobbies() {
	s.CreateLobby("alpha", "pw", "alice")
	s.CreateLobby("beta", "pw", "bob")
	s.Join("beta", "pw", "carol")

	removed, err := s.Storage.DeleteAllLobbies(s.Ctx)
	s.Require().NoError(err)
	s.Len(removed, 3)

	for _, name := range []model.LobbyName{"alpha", "beta"} {
		exists, _ := s.Storage.LobbyExists(s.Ctx, name)
		s.False(exists)
	}

	removed, err = s.Storage.DeleteAllLobbies(s.Ctx)
	s.Require().NoError(err)
	s.Empty(removed)
}

// Participation

func (s *Suite) TestGetParticipation() {
	s.CreateLobby("alpha", "pw", "alice")

	row, err := s.Storage.GetParticipation(s.Ctx, "alice")
	s.Require().NoError(err)
	s.Equal(model.LobbyName("alpha"), row.LobbyName)
	s.Equal("pw", row.LobbyPassword)

	_, err = s.Storage.GetParticipation(s.Ctx, "bob")
	s.ErrorIs(err, model.ErrParticipationNotFound)
}

func (s *Suite) TestDeleteParticipationKeepsOthers() {
	s.CreateLobby("alpha", "pw", "alice")
	s.Join("alpha", "pw", "bob")
	s.Join("alpha", "pw", "carol")

	removed, err := s.Storage.DeleteParticipation(s.Ctx, "bob")
	s.Require().NoError(err)
	s.Equal(model.PlayerID("bob"), removed.UserID)

	rows, _ := s.Storage.ListParticipants(s.Ctx, "alpha")
	s.Equal([]model.PlayerID{"alice", "carol"}, s.userIDs(rows))

	// The freed user can join elsewhere.
	s.CreateLobby("beta", "pw", "bob")
}

func (s *Suite) TestCreatorLeavingHandsOverToNextOldest() {
	s.CreateLobby("alpha", "pw", "alice")
	s.Join("alpha", "pw", "bob")

	_, err := s.Storage.DeleteParticipation(s.Ctx, "alice")
	s.Require().NoError(err)

	lobby, err := s.Storage.GetLobby(s.Ctx, "alpha")
	s.Require().NoError(err)
	s.Equal(model.PlayerID("bob"), lobby.CreatorID)
}

func (s *Suite) TestDeleteLastParticipationRemovesLobby() {
	s.CreateLobby("alpha", "pw", "alice")

	_, err := s.Storage.DeleteParticipation(s.Ctx, "alice")
	s.Require().NoError(err)

	exists, _ := s.Storage.LobbyExists(s.Ctx, "alpha")
	s.False(exists)

	_, err = s.Storage.DeleteParticipation(s.Ctx, "alice")
	s.ErrorIs(err, model.ErrParticipationNotFound)
}
