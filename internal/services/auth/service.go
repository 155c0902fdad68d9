package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/mcoot/bunker/internal/dependencies/clock"
	"github.com/mcoot/bunker/internal/dependencies/ids"
	"github.com/mcoot/bunker/internal/dependencies/random"
	"github.com/mcoot/bunker/internal/model"
	"github.com/mcoot/bunker/internal/storage"
)

// Errors
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidSession     = fmt.Errorf("%w: invalid or expired token", model.ErrUnauthenticated)
	ErrUsernameExists     = errors.New("username already exists")
	ErrInvalidUsername    = errors.New("username must be 3-32 characters")
	ErrWeakPassword       = errors.New("password must be at least 6 characters")
)

const (
	MinUsernameLength = 3
	MaxUsernameLength = 32
	MinPasswordLength = 6
)

// Session is an issued identity token and the player it names
type Session struct {
	Token     string         `json:"token"`
	PlayerID  model.PlayerID `json:"player_id"`
	Player    model.Player   `json:"player"`
	CreatedAt time.Time      `json:"created_at"`
	ExpiresAt time.Time      `json:"expires_at"`
}

// Claims are the JWT claims carried by an identity token
type Claims struct {
	Name  string `json:"name"`
	Guest bool   `json:"guest"`
	jwt.RegisteredClaims
}

// Service issues and validates identity tokens
type Service struct {
	storage storage.Storage
	clock   clock.Clock
	ids     ids.Generator
	random  random.Random

	secret   []byte
	issuer   string
	tokenTTL time.Duration

	mu      sync.RWMutex
	revoked map[string]time.Time // token id -> expiry
}

// Config holds configuration for the auth service
type Config struct {
	Secret   []byte
	Issuer   string
	TokenTTL time.Duration
}

// DefaultConfig returns default auth configuration. The secret is empty;
// New generates one, so tokens do not survive a restart unless a secret
// is configured.
func DefaultConfig() Config {
	return Config{
		Issuer:   "bunker",
		TokenTTL: 24 * time.Hour,
	}
}

// New creates a new auth Service
func New(storage storage.Storage, clock clock.Clock, ids ids.Generator, rnd random.Random, cfg Config) *Service {
	defaults := DefaultConfig()
	if cfg.TokenTTL == 0 {
		cfg.TokenTTL = defaults.TokenTTL
	}
	if cfg.Issuer == "" {
		cfg.Issuer = defaults.Issuer
	}
	if len(cfg.Secret) == 0 {
		cfg.Secret = make([]byte, 32)
		_, _ = rand.Read(cfg.Secret)
	}
	return &Service{
		storage:  storage,
		clock:    clock,
		ids:      ids,
		random:   rnd,
		secret:   cfg.Secret,
		issuer:   cfg.Issuer,
		tokenTTL: cfg.TokenTTL,
		revoked:  make(map[string]time.Time),
	}
}

// CreateGuestPlayer creates an anonymous player and issues a token. A
// blank display name gets a generated one.
func (s *Service) CreateGuestPlayer(ctx context.Context, displayName string) (*Session, error) {
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		displayName = random.GuestName(s.random)
	}

	player := &model.Player{
		ID:          model.PlayerID("p_" + s.ids.NewID()),
		DisplayName: displayName,
		IsGuest:     true,
		CreatedAt:   s.clock.Now(),
	}

	if err := s.storage.SavePlayer(ctx, player); err != nil {
		return nil, err
	}

	return s.issue(player)
}

// RegisterPlayer creates a registered player account and issues a token
func (s *Service) RegisterPlayer(ctx context.Context, username, password, displayName string) (*Session, error) {
	username = strings.TrimSpace(username)
	if len(username) < MinUsernameLength || len(username) > MaxUsernameLength {
		return nil, ErrInvalidUsername
	}
	if len(password) < MinPasswordLength {
		return nil, ErrWeakPassword
	}

	_, err := s.storage.GetRegisteredPlayerByUsername(ctx, username)
	if err == nil {
		return nil, ErrUsernameExists
	}
	if !errors.Is(err, model.ErrPlayerNotFound) {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(displayName) == "" {
		displayName = username
	}
	now := s.clock.Now()
	player := &model.Player{
		ID:          model.PlayerID("p_" + s.ids.NewID()),
		DisplayName: displayName,
		IsGuest:     false,
		CreatedAt:   now,
	}
	registered := &model.RegisteredPlayer{
		PlayerID:     player.ID,
		Username:     username,
		PasswordHash: string(hash),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.storage.SavePlayer(ctx, player); err != nil {
		return nil, err
	}
	if err := s.storage.SaveRegisteredPlayer(ctx, registered); err != nil {
		return nil, err
	}

	return s.issue(player)
}

// Login authenticates a registered player and issues a token
func (s *Service) Login(ctx context.Context, username, password string) (*Session, error) {
	rp, err := s.storage.GetRegisteredPlayerByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, model.ErrPlayerNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(rp.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	player, err := s.storage.GetPlayer(ctx, rp.PlayerID)
	if err != nil {
		return nil, err
	}

	return s.issue(player)
}

// ValidateToken checks a token's signature, issuer, expiry and revocation
func (s *Service) ValidateToken(token string) (*Session, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.clock.Now),
	)
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidSession
	}

	s.mu.RLock()
	_, revoked := s.revoked[claims.ID]
	s.mu.RUnlock()
	if revoked {
		return nil, ErrInvalidSession
	}

	player := model.Player{
		ID:          model.PlayerID(claims.Subject),
		DisplayName: claims.Name,
		IsGuest:     claims.Guest,
	}
	if claims.IssuedAt != nil {
		player.CreatedAt = claims.IssuedAt.Time
	}
	return &Session{
		Token:     token,
		PlayerID:  player.ID,
		Player:    player,
		CreatedAt: player.CreatedAt,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// InvalidateSession revokes a token until it would have expired anyway.
// Unknown or malformed tokens are ignored.
func (s *Service) InvalidateSession(token string) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithoutClaimsValidation())
	if err != nil || claims.ID == "" || claims.ExpiresAt == nil {
		return
	}

	s.mu.Lock()
	s.revoked[claims.ID] = claims.ExpiresAt.Time
	s.mu.Unlock()
}

// GetPlayer returns the player named by a token
func (s *Service) GetPlayer(token string) (*model.Player, error) {
	session, err := s.ValidateToken(token)
	if err != nil {
		return nil, err
	}
	return &session.Player, nil
}

// CleanExpiredSessions forgets revocations for tokens that have expired
// (call periodically)
func (s *Service) CleanExpiredSessions() {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, expires := range s.revoked {
		if now.After(expires) {
			delete(s.revoked, id)
		}
	}
}

// RevokedCount returns the number of tracked revocations
func (s *Service) RevokedCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.revoked)
}

func (s *Service) issue(player *model.Player) (*Session, error) {
	now := s.clock.Now()
	expires := now.Add(s.tokenTTL)

	claims := Claims{
		Name:  player.DisplayName,
		Guest: player.IsGuest,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        s.ids.NewID(),
			Issuer:    s.issuer,
			Subject:   string(player.ID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}

	return &Session{
		Token:     token,
		PlayerID:  player.ID,
		Player:    *player,
		CreatedAt: now,
		ExpiresAt: expires,
	}, nil
}
