// Package reconnect restores a returning player's lobby seat on startup.
package reconnect

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/mcoot/bunker/internal/model"
	"github.com/mcoot/bunker/internal/session"
)

// Identity reports who is signed in. A nil player with a nil error means
// nobody is.
type Identity interface {
	CurrentPlayer(ctx context.Context) (*model.Player, error)
}

// Backend is the subset of lobby operations the flow needs
type Backend interface {
	Participation(ctx context.Context, userID model.PlayerID) (*model.Participation, error)
	Players(ctx context.Context, name model.LobbyName) ([]model.Characteristic, error)
	DeleteParticipation(ctx context.Context, userID model.PlayerID) error
}

// Outcome describes how a run ended
type Outcome string

const (
	OutcomeUnauthenticated Outcome = "unauthenticated" // Nobody signed in
	OutcomeNoLobby         Outcome = "no_lobby"        // Signed in, no participation row
	OutcomeRestored        Outcome = "restored"        // Seated back in the lobby
	OutcomeStaleCleaned    Outcome = "stale_cleaned"   // Row pointed at an empty lobby and was removed
	OutcomeFailed          Outcome = "failed"          // Gave up after retries
)

// Result is what a run decided
type Result struct {
	Outcome Outcome                 `json:"outcome"`
	Player  *model.Player           `json:"player,omitempty"`
	Lobby   *model.LobbyCredentials `json:"lobby,omitempty"`
	Players []model.Characteristic  `json:"players,omitempty"`
}

const (
	DefaultMaxAttempts     = 3
	DefaultInitialInterval = time.Second
)

// Flow runs the reconnect-on-load sequence against a session
type Flow struct {
	Auth            Identity
	Backend         Backend
	Session         *session.Session
	Logger          *slog.Logger
	MaxAttempts     int
	InitialInterval time.Duration
}

// NewFlow creates a Flow with the default retry policy
func NewFlow(auth Identity, backend Backend, sess *session.Session, logger *slog.Logger) *Flow {
	return &Flow{
		Auth:            auth,
		Backend:         backend,
		Session:         sess,
		Logger:          logger.With(slog.String("component", "reconnect")),
		MaxAttempts:     DefaultMaxAttempts,
		InitialInterval: DefaultInitialInterval,
	}
}

// Run checks the session, looks up the player's participation and either
// restores the lobby or removes a row whose lobby is gone. Transient
// failures are retried with exponential backoff; not-found outcomes are
// final. If ctx is cancelled the session is left untouched.
func (f *Flow) Run(ctx context.Context) (*Result, error) {
	f.Session.BeginLoading()
	defer f.Session.EndLoading()

	var result *Result
	var seen *model.Player
	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		r, err := f.attempt(ctx, &seen)
		if err != nil {
			if !retryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		result = r
		return nil
	}, f.policy(ctx), func(err error, wait time.Duration) {
		f.Logger.Warn("reconnect attempt failed",
			slog.Int("attempt", attempt),
			slog.Duration("retry_in", wait),
			slog.Any("error", err))
	})

	if ctx.Err() != nil {
		// Torn down mid-flight: discard whatever came back.
		return nil, ctx.Err()
	}
	if err != nil {
		f.Logger.Error("reconnect gave up",
			slog.Int("attempts", attempt),
			slog.Any("error", err))
		failed := &Result{Outcome: OutcomeFailed, Player: seen}
		f.apply(failed)
		return failed, err
	}

	f.apply(result)
	return result, nil
}

// attempt makes one pass. seen records the identity once it is known so a
// failed run can still settle the auth state.
func (f *Flow) attempt(ctx context.Context, seen **model.Player) (*Result, error) {
	player, err := f.Auth.CurrentPlayer(ctx)
	if errors.Is(err, model.ErrUnauthenticated) {
		return &Result{Outcome: OutcomeUnauthenticated}, nil
	}
	if err != nil {
		return nil, err
	}
	if player == nil {
		return &Result{Outcome: OutcomeUnauthenticated}, nil
	}
	*seen = player

	row, err := f.Backend.Participation(ctx, player.ID)
	if errors.Is(err, model.ErrParticipationNotFound) {
		return &Result{Outcome: OutcomeNoLobby, Player: player}, nil
	}
	if err != nil {
		return nil, err
	}

	players, err := f.Backend.Players(ctx, row.LobbyName)
	if err != nil && !errors.Is(err, model.ErrLobbyNotFound) {
		return nil, err
	}

	if len(players) > 0 {
		return &Result{
			Outcome: OutcomeRestored,
			Player:  player,
			Lobby:   &model.LobbyCredentials{Name: row.LobbyName, Password: row.LobbyPassword},
			Players: players,
		}, nil
	}

	err = f.Backend.DeleteParticipation(ctx, player.ID)
	if err != nil && !errors.Is(err, model.ErrParticipationNotFound) {
		return nil, err
	}
	f.Logger.Info("removed stale participation",
		slog.String("player", string(player.ID)),
		slog.String("lobby", string(row.LobbyName)))
	return &Result{Outcome: OutcomeStaleCleaned, Player: player}, nil
}

func (f *Flow) apply(r *Result) {
	if r.Outcome == OutcomeUnauthenticated || (r.Outcome == OutcomeFailed && r.Player == nil) {
		if f.Session.State() != session.StateUnauthenticated {
			f.Session.AuthLost()
		}
		return
	}

	if f.Session.State() == session.StateAuthChecking || f.Session.State() == session.StateUnauthenticated {
		if err := f.Session.AuthResolved(r.Player); err != nil {
			f.Logger.Warn("session rejected auth result", slog.Any("error", err))
		}
	}

	if r.Outcome == OutcomeRestored {
		if err := f.Session.EnterLobby(*r.Lobby, r.Players); err != nil {
			f.Logger.Warn("session rejected restored lobby", slog.Any("error", err))
		}
		return
	}
	f.Session.Reset()
}

func (f *Flow) policy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = f.InitialInterval
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0

	attempts := f.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)
}

// retryable reports whether err is a backend hiccup rather than a
// definite answer
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return errors.Is(err, model.ErrTransientBackend) || !model.IsDomainError(err)
}

// IdentityFunc adapts a function to Identity
type IdentityFunc func(ctx context.Context) (*model.Player, error)

func (f IdentityFunc) CurrentPlayer(ctx context.Context) (*model.Player, error) {
	return f(ctx)
}

// Known is an Identity that always reports the same player
func Known(player *model.Player) Identity {
	return IdentityFunc(func(context.Context) (*model.Player, error) {
		return player, nil
	})
}
