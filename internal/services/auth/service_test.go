package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/suite"

	"github.com/mcoot/bunker/internal/dependencies/mocks"
	"github.com/mcoot/bunker/internal/model"
	"github.com/mcoot/bunker/internal/storage/memory"
)

type ServiceSuite struct {
	suite.Suite
	storage *memory.Storage
	clock   *mocks.MockClock
	random  *mocks.MockRandom
	service *Service
	ctx     context.Context
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.storage = memory.New()
	s.clock = mocks.NewMockClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	s.random = mocks.NewMockRandom()
	cfg := DefaultConfig()
	cfg.Secret = []byte("test-secret")
	s.service = New(s.storage, s.clock, mocks.NewSequentialIDs("id"), s.random, cfg)
	s.ctx = context.Background()
}

// CreateGuestPlayer tests

func (s *ServiceSuite) TestCreateGuestPlayerSucceeds() {
	session, err := s.service.CreateGuestPlayer(s.ctx, "Alice")
	s.Require().NoError(err)

	s.NotEmpty(session.Token)
	s.Equal("Alice", session.Player.DisplayName)
	s.True(session.Player.IsGuest)
	s.True(strings.HasPrefix(string(session.PlayerID), "p_"))
	s.Equal(s.clock.Now().Add(24*time.Hour), session.ExpiresAt)
}

func (s *ServiceSuite) TestCreateGuestPlayerPersistsPlayer() {
	session, _ := s.service.CreateGuestPlayer(s.ctx, "Alice")

	player, err := s.storage.GetPlayer(s.ctx, session.PlayerID)
	s.Require().NoError(err)
	s.Equal("Alice", player.DisplayName)
}

func (s *ServiceSuite) TestCreateGuestPlayerGeneratesName() {
	s.random.QueueString("K7QZ")

	session, err := s.service.CreateGuestPlayer(s.ctx, "   ")
	s.Require().NoError(err)
	s.Equal("Survivor-K7QZ", session.Player.DisplayName)
}

// RegisterPlayer tests

func (s *ServiceSuite) TestRegisterPlayerSucceeds() {
	session, err := s.service.RegisterPlayer(s.ctx, "alice", "password123", "Alice")
	s.Require().NoError(err)

	s.NotEmpty(session.Token)
	s.Equal("Alice", session.Player.DisplayName)
	s.False(session.Player.IsGuest)
}

func (s *ServiceSuite) TestRegisterPlayerPersistsRegistration() {
	_, _ = s.service.RegisterPlayer(s.ctx, "alice", "password123", "Alice")

	rp, err := s.storage.GetRegisteredPlayerByUsername(s.ctx, "alice")
	s.Require().NoError(err)
	s.Equal("alice", rp.Username)
	s.NotEmpty(rp.PasswordHash)
	s.NotEqual("password123", rp.PasswordHash) // Should be hashed
}

func (s *ServiceSuite) TestRegisterPlayerDefaultsDisplayName() {
	session, err := s.service.RegisterPlayer(s.ctx, "alice", "password123", "")
	s.Require().NoError(err)
	s.Equal("alice", session.Player.DisplayName)
}

func (s *ServiceSuite) TestRegisterPlayerFailsIfUsernameExists() {
	_, _ = s.service.RegisterPlayer(s.ctx, "alice", "password123", "Alice")

	_, err := s.service.RegisterPlayer(s.ctx, "alice", "different", "Alice2")
	s.ErrorIs(err, ErrUsernameExists)
}

func (s *ServiceSuite) TestRegisterPlayerValidatesInput() {
	_, err := s.service.RegisterPlayer(s.ctx, "al", "password123", "")
	s.ErrorIs(err, ErrInvalidUsername)

	_, err = s.service.RegisterPlayer(s.ctx, strings.Repeat("a", MaxUsernameLength+1), "password123", "")
	s.ErrorIs(err, ErrInvalidUsername)

	_, err = s.service.RegisterPlayer(s.ctx, "alice", "short", "")
	s.ErrorIs(err, ErrWeakPassword)
}

// Login tests

func (s *ServiceSuite) TestLoginSucceeds() {
	_, _ = s.service.RegisterPlayer(s.ctx, "alice", "password123", "Alice")

	session, err := s.service.Login(s.ctx, "alice", "password123")
	s.Require().NoError(err)

	s.NotEmpty(session.Token)
	s.Equal("Alice", session.Player.DisplayName)
}

func (s *ServiceSuite) TestLoginFailsWithWrongPassword() {
	_, _ = s.service.RegisterPlayer(s.ctx, "alice", "password123", "Alice")

	_, err := s.service.Login(s.ctx, "alice", "wrongpassword")
	s.ErrorIs(err, ErrInvalidCredentials)
}

func (s *ServiceSuite) TestLoginFailsWithUnknownUser() {
	_, err := s.service.Login(s.ctx, "nobody", "password123")
	s.ErrorIs(err, ErrInvalidCredentials)
}

// ValidateToken tests

func (s *ServiceSuite) TestValidateTokenSucceeds() {
	session, _ := s.service.CreateGuestPlayer(s.ctx, "Alice")

	validated, err := s.service.ValidateToken(session.Token)
	s.Require().NoError(err)
	s.Equal(session.PlayerID, validated.PlayerID)
	s.Equal("Alice", validated.Player.DisplayName)
	s.True(validated.Player.IsGuest)
	s.True(session.ExpiresAt.Equal(validated.ExpiresAt))
}

func (s *ServiceSuite) TestValidateTokenFailsWithGarbage() {
	_, err := s.service.ValidateToken("invalid_token")
	s.ErrorIs(err, ErrInvalidSession)
	s.ErrorIs(err, model.ErrUnauthenticated)
}

func (s *ServiceSuite) TestValidateTokenFailsWhenExpired() {
	session, _ := s.service.CreateGuestPlayer(s.ctx, "Alice")

	s.clock.Advance(25 * time.Hour)

	_, err := s.service.ValidateToken(session.Token)
	s.ErrorIs(err, ErrInvalidSession)
}

func (s *ServiceSuite) TestValidateTokenRejectsOtherSecret() {
	other := New(s.storage, s.clock, mocks.NewSequentialIDs("x"), s.random, Config{Secret: []byte("other")})
	session, _ := other.CreateGuestPlayer(s.ctx, "Mallory")

	_, err := s.service.ValidateToken(session.Token)
	s.ErrorIs(err, ErrInvalidSession)
}

func (s *ServiceSuite) TestValidateTokenRejectsUnsignedToken() {
	claims := Claims{Name: "Mallory", RegisteredClaims: jwt.RegisteredClaims{
		Issuer:    "bunker",
		Subject:   "p_admin",
		ExpiresAt: jwt.NewNumericDate(s.clock.Now().Add(time.Hour)),
	}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	s.Require().NoError(err)

	_, err = s.service.ValidateToken(token)
	s.ErrorIs(err, ErrInvalidSession)
}

// InvalidateSession tests

func (s *ServiceSuite) TestInvalidateSessionRevokesToken() {
	session, _ := s.service.CreateGuestPlayer(s.ctx, "Alice")

	s.service.InvalidateSession(session.Token)

	_, err := s.service.ValidateToken(session.Token)
	s.ErrorIs(err, ErrInvalidSession)
}

func (s *ServiceSuite) TestInvalidateSessionLeavesOtherTokens() {
	first, _ := s.service.CreateGuestPlayer(s.ctx, "Alice")
	second, _ := s.service.CreateGuestPlayer(s.ctx, "Bob")

	s.service.InvalidateSession(first.Token)

	_, err := s.service.ValidateToken(second.Token)
	s.NoError(err)
}

func (s *ServiceSuite) TestInvalidateSessionNoopForUnknownToken() {
	s.service.InvalidateSession("unknown_token")
	s.Zero(s.service.RevokedCount())
}

// GetPlayer tests

func (s *ServiceSuite) TestGetPlayerSucceeds() {
	session, _ := s.service.CreateGuestPlayer(s.ctx, "Alice")

	player, err := s.service.GetPlayer(session.Token)
	s.Require().NoError(err)
	s.Equal("Alice", player.DisplayName)
}

func (s *ServiceSuite) TestGetPlayerFailsWithInvalidToken() {
	_, err := s.service.GetPlayer("invalid_token")
	s.ErrorIs(err, ErrInvalidSession)
}

// CleanExpiredSessions tests

func (s *ServiceSuite) TestCleanExpiredSessionsForgetsExpiredRevocations() {
	session1, _ := s.service.CreateGuestPlayer(s.ctx, "Alice")
	s.service.InvalidateSession(session1.Token)

	s.clock.Advance(25 * time.Hour)

	session2, _ := s.service.CreateGuestPlayer(s.ctx, "Bob")
	s.service.InvalidateSession(session2.Token)
	s.Equal(2, s.service.RevokedCount())

	s.service.CleanExpiredSessions()

	s.Equal(1, s.service.RevokedCount())
	_, err := s.service.ValidateToken(session2.Token)
	s.ErrorIs(err, ErrInvalidSession)
}
