package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mcoot/bunker/internal/model"
	"github.com/mcoot/bunker/internal/secret"
	"github.com/mcoot/bunker/internal/storage"
)

// errContention is returned when a transaction keeps losing the WATCH race
var errContention = errors.New("redis: too much contention on lobby keys")

// reader is the read surface shared by *redis.Client and *redis.Tx
type reader interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	MGet(ctx context.Context, keys ...string) *redis.SliceCmd
	LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
}

// Storage is a Redis-backed implementation of the storage interface.
// Conditional lobby writes run as WATCH/MULTI/EXEC transactions and are
// retried when a watched key changes.
type Storage struct {
	client *redis.Client
	cfg    Config
}

// New creates a new Redis storage instance
func New(cfg Config) (*Storage, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns

	client := redis.NewClient(opts)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	return NewWithClient(client, cfg), nil
}

// NewWithClient creates a Redis storage with an existing client (for testing)
func NewWithClient(client *redis.Client, cfg Config) *Storage {
	if cfg.MaxTxRetries <= 0 {
		cfg.MaxTxRetries = DefaultConfig().MaxTxRetries
	}
	return &Storage{
		client: client,
		cfg:    cfg,
	}
}

// Client exposes the underlying connection so the change feed can share it
func (s *Storage) Client() *redis.Client {
	return s.client
}

// Close closes the Redis connection
func (s *Storage) Close() error {
	return s.client.Close()
}

// Ensure Storage implements the interface
var _ storage.Storage = (*Storage)(nil)

// Player operations

func (s *Storage) SavePlayer(ctx context.Context, player *model.Player) error {
	data, err := json.Marshal(player)
	if err != nil {
		return err
	}

	// Apply TTL only for guest players
	var ttl time.Duration
	if player.IsGuest {
		ttl = s.cfg.GuestPlayerTTL
	}
	return s.client.Set(ctx, playerKey(player.ID), data, ttl).Err()
}

func (s *Storage) GetPlayer(ctx context.Context, id model.PlayerID) (*model.Player, error) {
	return getJSON[model.Player](ctx, s.client, playerKey(id), model.ErrPlayerNotFound)
}

// Registered player operations

func (s *Storage) SaveRegisteredPlayer(ctx context.Context, rp *model.RegisteredPlayer) error {
	data, err := json.Marshal(rp)
	if err != nil {
		return err
	}

	// Use pipeline for atomic save + index update
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, registeredPlayerKey(rp.PlayerID), data, 0)
	pipe.Set(ctx, usernameIndexKey(rp.Username), string(rp.PlayerID), 0)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *Storage) GetRegisteredPlayerByUsername(ctx context.Context, username string) (*model.RegisteredPlayer, error) {
	playerID, err := s.client.Get(ctx, usernameIndexKey(username)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, model.ErrPlayerNotFound
		}
		return nil, err
	}
	return getJSON[model.RegisteredPlayer](ctx, s.client, registeredPlayerKey(model.PlayerID(playerID)), model.ErrPlayerNotFound)
}

// Lobby operations

func (s *Storage) CreateLobby(ctx context.Context, lobby *model.Lobby, creator *model.Participation) error {
	lk, mk, pk := lobbyKey(lobby.Name), membersKey(lobby.Name), participationKey(creator.UserID)

	return s.withTx(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, lk).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return model.ErrDuplicateLobby
		}
		n, err = tx.Exists(ctx, pk).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return model.ErrAlreadyJoined
		}

		l := *lobby
		if l.Version == 0 {
			l.Version = 1
		}
		lobbyData, err := json.Marshal(&l)
		if err != nil {
			return err
		}
		rowData, err := json.Marshal(creator)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, lk, lobbyData, s.cfg.LobbyTTL)
			pipe.Del(ctx, mk)
			pipe.RPush(ctx, mk, string(creator.UserID))
			pipe.Set(ctx, pk, rowData, s.cfg.LobbyTTL)
			pipe.SAdd(ctx, lobbiesIndexKey(), string(l.Name))
			s.expire(ctx, pipe, mk)
			return nil
		})
		if err == nil {
			lobby.Version = l.Version
		}
		return err
	}, lk, pk)
}

func (s *Storage) JoinLobby(ctx context.Context, creds model.LobbyCredentials, row *model.Participation) (int, *model.Lobby, error) {
	lk, mk, pk := lobbyKey(creds.Name), membersKey(creds.Name), participationKey(row.UserID)

	var (
		position int
		updated  *model.Lobby
	)
	err := s.withTx(ctx, func(tx *redis.Tx) error {
		lobby, err := getJSON[model.Lobby](ctx, tx, lk, model.ErrLobbyNotFound)
		if err != nil {
			return err
		}
		if !secret.Equal(creds.Password, lobby.Password) {
			return model.ErrBadPassword
		}
		n, err := tx.Exists(ctx, pk).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return model.ErrAlreadyJoined
		}
		count, err := tx.LLen(ctx, mk).Result()
		if err != nil {
			return err
		}

		lobby.Version++
		lobby.UpdatedAt = row.JoinedAt
		lobbyData, err := json.Marshal(lobby)
		if err != nil {
			return err
		}
		rowData, err := json.Marshal(row)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.RPush(ctx, mk, string(row.UserID))
			pipe.Set(ctx, pk, rowData, s.cfg.LobbyTTL)
			pipe.Set(ctx, lk, lobbyData, s.cfg.LobbyTTL)
			s.expire(ctx, pipe, mk)
			return nil
		})
		if err != nil {
			return err
		}
		position = int(count)
		updated = lobby
		return nil
	}, lk, mk, pk)
	if err != nil {
		return 0, nil, err
	}
	return position, updated, nil
}

func (s *Storage) GetLobby(ctx context.Context, name model.LobbyName) (*model.Lobby, error) {
	return getJSON[model.Lobby](ctx, s.client, lobbyKey(name), model.ErrLobbyNotFound)
}

func (s *Storage) LobbyExists(ctx context.Context, name model.LobbyName) (bool, error) {
	exists, err := s.client.Exists(ctx, lobbyKey(name)).Result()
	if err != nil {
		return false, err
	}
	return exists > 0, nil
}

func (s *Storage) ListParticipants(ctx context.Context, name model.LobbyName) ([]*model.Participation, error) {
	return listRows(ctx, s.client, name)
}

func (s *Storage) UpdateTraits(ctx context.Context, userID model.PlayerID, traits model.Traits) (*model.Participation, error) {
	pk := participationKey(userID)

	var updated *model.Participation
	err := s.withTx(ctx, func(tx *redis.Tx) error {
		row, err := getJSON[model.Participation](ctx, tx, pk, model.ErrParticipationNotFound)
		if err != nil {
			return err
		}
		row.Traits = traits
		data, err := json.Marshal(row)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, pk, data, redis.KeepTTL)
			return nil
		})
		updated = row
		return err
	}, pk)
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Storage) DeleteLobby(ctx context.Context, req model.DeleteLobbyRequest) ([]*model.Participation, error) {
	lk, mk := lobbyKey(req.Name), membersKey(req.Name)

	var removed []*model.Participation
	err := s.withTx(ctx, func(tx *redis.Tx) error {
		lobby, err := getJSON[model.Lobby](ctx, tx, lk, model.ErrLobbyNotFound)
		if err != nil {
			return err
		}
		if !secret.Equal(req.Password, lobby.Password) {
			return model.ErrBadPassword
		}
		if lobby.CreatorID != req.RequesterID {
			return model.ErrNotCreator
		}
		if req.ExpectedVersion != 0 && req.ExpectedVersion != lobby.Version {
			return model.ErrVersionConflict
		}
		removed, err = s.removeLobby(ctx, tx, req.Name)
		return err
	}, lk, mk)
	if err != nil {
		return nil, err
	}
	return removed, nil
}

func (s *Storage) DeleteAllLobbies(ctx context.Context) ([]*model.Participation, error) {
	names, err := s.client.SMembers(ctx, lobbiesIndexKey()).Result()
	if err != nil {
		return nil, err
	}

	removed := []*model.Participation{}
	for _, n := range names {
		name := model.LobbyName(n)
		var rows []*model.Participation
		err := s.withTx(ctx, func(tx *redis.Tx) error {
			var err error
			rows, err = s.removeLobby(ctx, tx, name)
			return err
		}, lobbyKey(name), membersKey(name))
		if err != nil {
			return removed, err
		}
		removed = append(removed, rows...)
	}
	return removed, nil
}

// Participation operations

func (s *Storage) GetParticipation(ctx context.Context, userID model.PlayerID) (*model.Participation, error) {
	return getJSON[model.Participation](ctx, s.client, participationKey(userID), model.ErrParticipationNotFound)
}

func (s *Storage) DeleteParticipation(ctx context.Context, userID model.PlayerID) (*model.Participation, error) {
	pk := participationKey(userID)

	var removed *model.Participation
	err := s.withTx(ctx, func(tx *redis.Tx) error {
		row, err := getJSON[model.Participation](ctx, tx, pk, model.ErrParticipationNotFound)
		if err != nil {
			return err
		}
		lk, mk := lobbyKey(row.LobbyName), membersKey(row.LobbyName)
		if err := tx.Watch(ctx, lk, mk).Err(); err != nil {
			return err
		}

		members, err := tx.LRange(ctx, mk, 0, -1).Result()
		if err != nil {
			return err
		}
		remaining := make([]string, 0, len(members))
		for _, m := range members {
			if m != string(userID) {
				remaining = append(remaining, m)
			}
		}

		lobby, err := getJSON[model.Lobby](ctx, tx, lk, model.ErrLobbyNotFound)
		if err != nil && !errors.Is(err, model.ErrLobbyNotFound) {
			return err
		}

		var lobbyData []byte
		if lobby != nil && len(remaining) > 0 {
			lobby.Version++
			if lobby.CreatorID == userID {
				lobby.CreatorID = model.PlayerID(remaining[0])
			}
			if lobbyData, err = json.Marshal(lobby); err != nil {
				return err
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, pk)
			pipe.LRem(ctx, mk, 0, string(userID))
			if len(remaining) == 0 {
				pipe.Del(ctx, lk, mk)
				pipe.SRem(ctx, lobbiesIndexKey(), string(row.LobbyName))
			} else if lobbyData != nil {
				pipe.Set(ctx, lk, lobbyData, redis.KeepTTL)
			}
			return nil
		})
		removed = row
		return err
	}, pk)
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// removeLobby deletes a lobby with all its rows inside the caller's
// transaction. The caller must already watch the lobby and members keys.
func (s *Storage) removeLobby(ctx context.Context, tx *redis.Tx, name model.LobbyName) ([]*model.Participation, error) {
	rows, err := listRows(ctx, tx, name)
	if err != nil {
		return nil, err
	}
	_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, lobbyKey(name), membersKey(name))
		for _, row := range rows {
			pipe.Del(ctx, participationKey(row.UserID))
		}
		pipe.SRem(ctx, lobbiesIndexKey(), string(name))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// withTx runs fn under WATCH on keys, retrying when EXEC aborts
func (s *Storage) withTx(ctx context.Context, fn func(tx *redis.Tx) error, keys ...string) error {
	for range s.cfg.MaxTxRetries {
		err := s.client.Watch(ctx, fn, keys...)
		if errors.Is(err, redis.TxFailedErr) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}
		return err
	}
	return fmt.Errorf("%w after %d attempts", errContention, s.cfg.MaxTxRetries)
}

func (s *Storage) expire(ctx context.Context, pipe redis.Pipeliner, key string) {
	if s.cfg.LobbyTTL > 0 {
		pipe.Expire(ctx, key, s.cfg.LobbyTTL)
	}
}

// listRows reads the member list and resolves each id to its row,
// skipping ids whose row has expired or moved to another lobby
func listRows(ctx context.Context, r reader, name model.LobbyName) ([]*model.Participation, error) {
	members, err := r.LRange(ctx, membersKey(name), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return []*model.Participation{}, nil
	}

	keys := make([]string, len(members))
	for i, m := range members {
		keys[i] = participationKey(model.PlayerID(m))
	}
	values, err := r.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	rows := make([]*model.Participation, 0, len(values))
	for _, val := range values {
		str, ok := val.(string)
		if !ok {
			continue
		}
		var row model.Participation
		if err := json.Unmarshal([]byte(str), &row); err != nil {
			return nil, err
		}
		if row.LobbyName != name {
			continue
		}
		rows = append(rows, &row)
	}
	return rows, nil
}

func getJSON[T any](ctx context.Context, r reader, key string, notFound error) (*T, error) {
	data, err := r.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, notFound
		}
		return nil, err
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return &v, nil
}
