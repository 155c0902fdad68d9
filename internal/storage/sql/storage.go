// Package sql stores lobbies in a relational database through gorm.
// Postgres is the production target; sqlite serves local runs and tests.
package sql

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/mcoot/bunker/internal/model"
	"github.com/mcoot/bunker/internal/secret"
	"github.com/mcoot/bunker/internal/storage"
)

// Storage is a gorm-backed implementation of the storage interface.
// Conditional writes run inside a transaction that locks the lobby row
// and re-checks lobbies.version before committing.
type Storage struct {
	db *gorm.DB
}

// New opens the database and migrates the schema
func New(cfg Config, logger *slog.Logger) (*Storage, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case DriverPostgres:
		dialector = postgres.Open(cfg.DSN)
	case DriverSQLite:
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown sql driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.New(
			slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
			gormlogger.Config{
				SlowThreshold:             cfg.SlowQueryThreshold,
				LogLevel:                  gormlogger.Warn,
				IgnoreRecordNotFoundError: true,
			},
		),
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if cfg.Driver == DriverSQLite {
		// sqlite allows a single writer; serialising connections avoids
		// "database is locked" under concurrent transactions.
		sqlDB.SetMaxOpenConns(1)
	} else {
		if cfg.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns > 0 {
			sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
		}
		if cfg.ConnMaxLifetime > 0 {
			sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
		}
	}

	if err := db.AutoMigrate(&playerRecord{}, &registeredPlayerRecord{}, &lobbyRecord{}, &participantRecord{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &Storage{db: db}, nil
}

// Close releases the connection pool
func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ensure Storage implements the interface
var _ storage.Storage = (*Storage)(nil)

// Player operations

func (s *Storage) SavePlayer(ctx context.Context, player *model.Player) error {
	return s.db.WithContext(ctx).Save(toPlayerRecord(player)).Error
}

func (s *Storage) GetPlayer(ctx context.Context, id model.PlayerID) (*model.Player, error) {
	var rec playerRecord
	if err := s.db.WithContext(ctx).First(&rec, "id = ?", string(id)).Error; err != nil {
		return nil, notFound(err, model.ErrPlayerNotFound)
	}
	return rec.toModel(), nil
}

// Registered player operations

func (s *Storage) SaveRegisteredPlayer(ctx context.Context, rp *model.RegisteredPlayer) error {
	return s.db.WithContext(ctx).Save(&registeredPlayerRecord{
		PlayerID:     string(rp.PlayerID),
		Username:     rp.Username,
		PasswordHash: rp.PasswordHash,
		CreatedAt:    rp.CreatedAt,
		UpdatedAt:    rp.UpdatedAt,
	}).Error
}

func (s *Storage) GetRegisteredPlayerByUsername(ctx context.Context, username string) (*model.RegisteredPlayer, error) {
	var rec registeredPlayerRecord
	if err := s.db.WithContext(ctx).First(&rec, "username = ?", username).Error; err != nil {
		return nil, notFound(err, model.ErrPlayerNotFound)
	}
	return &model.RegisteredPlayer{
		PlayerID:     model.PlayerID(rec.PlayerID),
		Username:     rec.Username,
		PasswordHash: rec.PasswordHash,
		CreatedAt:    rec.CreatedAt,
		UpdatedAt:    rec.UpdatedAt,
	}, nil
}

// Lobby operations

func (s *Storage) CreateLobby(ctx context.Context, lobby *model.Lobby, creator *model.Participation) error {
	rec := toLobbyRecord(lobby)
	if rec.Version == 0 {
		rec.Version = 1
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if found, err := exists(tx, &lobbyRecord{}, "name = ?", rec.Name); err != nil {
			return err
		} else if found {
			return model.ErrDuplicateLobby
		}
		if found, err := exists(tx, &participantRecord{}, "user_id = ?", string(creator.UserID)); err != nil {
			return err
		} else if found {
			return model.ErrAlreadyJoined
		}

		if err := tx.Create(rec).Error; err != nil {
			return duplicate(err, model.ErrDuplicateLobby)
		}
		if err := tx.Create(toParticipantRecord(creator, 1)).Error; err != nil {
			return duplicate(err, model.ErrAlreadyJoined)
		}
		return nil
	})
	if err != nil {
		return err
	}
	lobby.Version = rec.Version
	return nil
}

func (s *Storage) JoinLobby(ctx context.Context, creds model.LobbyCredentials, row *model.Participation) (int, *model.Lobby, error) {
	var (
		position int
		updated  *model.Lobby
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		lobby, err := lockLobby(tx, creds.Name)
		if err != nil {
			return err
		}
		if !secret.Equal(creds.Password, lobby.Password) {
			return model.ErrBadPassword
		}
		if found, err := exists(tx, &participantRecord{}, "user_id = ?", string(row.UserID)); err != nil {
			return err
		} else if found {
			return model.ErrAlreadyJoined
		}

		var order struct {
			Count   int64
			LastSeq int64
		}
		err = tx.Model(&participantRecord{}).
			Select("COUNT(*) AS count, COALESCE(MAX(seq), 0) AS last_seq").
			Where("lobby_name = ?", lobby.Name).
			Scan(&order).Error
		if err != nil {
			return err
		}
		if err := tx.Create(toParticipantRecord(row, order.LastSeq+1)).Error; err != nil {
			return duplicate(err, model.ErrAlreadyJoined)
		}
		if err := bumpVersion(tx, lobby, row.JoinedAt, ""); err != nil {
			return err
		}

		position = int(order.Count)
		updated = lobby.toModel()
		return nil
	})
	if err != nil {
		return 0, nil, err
	}
	return position, updated, nil
}

func (s *Storage) GetLobby(ctx context.Context, name model.LobbyName) (*model.Lobby, error) {
	var rec lobbyRecord
	if err := s.db.WithContext(ctx).First(&rec, "name = ?", string(name)).Error; err != nil {
		return nil, notFound(err, model.ErrLobbyNotFound)
	}
	return rec.toModel(), nil
}

func (s *Storage) LobbyExists(ctx context.Context, name model.LobbyName) (bool, error) {
	return exists(s.db.WithContext(ctx), &lobbyRecord{}, "name = ?", string(name))
}

func (s *Storage) ListParticipants(ctx context.Context, name model.LobbyName) ([]*model.Participation, error) {
	return listRows(s.db.WithContext(ctx), name)
}

func (s *Storage) UpdateTraits(ctx context.Context, userID model.PlayerID, traits model.Traits) (*model.Participation, error) {
	var updated *model.Participation
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec participantRecord
		if err := tx.First(&rec, "user_id = ?", string(userID)).Error; err != nil {
			return notFound(err, model.ErrParticipationNotFound)
		}
		rec.setTraits(traits)
		if err := tx.Save(&rec).Error; err != nil {
			return err
		}
		updated = rec.toModel()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Storage) DeleteLobby(ctx context.Context, req model.DeleteLobbyRequest) ([]*model.Participation, error) {
	var removed []*model.Participation
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		lobby, err := lockLobby(tx, req.Name)
		if err != nil {
			return err
		}
		if !secret.Equal(req.Password, lobby.Password) {
			return model.ErrBadPassword
		}
		if lobby.CreatorID != string(req.RequesterID) {
			return model.ErrNotCreator
		}
		if req.ExpectedVersion != 0 && req.ExpectedVersion != lobby.Version {
			return model.ErrVersionConflict
		}

		removed, err = removeLobby(tx, lobby)
		return err
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

func (s *Storage) DeleteAllLobbies(ctx context.Context) ([]*model.Participation, error) {
	removed := []*model.Participation{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var records []participantRecord
		if err := tx.Order(joinOrder).Find(&records).Error; err != nil {
			return err
		}
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&participantRecord{}).Error; err != nil {
			return err
		}
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&lobbyRecord{}).Error; err != nil {
			return err
		}
		removed = toModels(records)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// Participation operations

func (s *Storage) GetParticipation(ctx context.Context, userID model.PlayerID) (*model.Participation, error) {
	var rec participantRecord
	if err := s.db.WithContext(ctx).First(&rec, "user_id = ?", string(userID)).Error; err != nil {
		return nil, notFound(err, model.ErrParticipationNotFound)
	}
	return rec.toModel(), nil
}

func (s *Storage) DeleteParticipation(ctx context.Context, userID model.PlayerID) (*model.Participation, error) {
	var removed *model.Participation
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec participantRecord
		if err := tx.First(&rec, "user_id = ?", string(userID)).Error; err != nil {
			return notFound(err, model.ErrParticipationNotFound)
		}
		removed = rec.toModel()

		lobby, err := lockLobby(tx, removed.LobbyName)
		if err != nil && !errors.Is(err, model.ErrLobbyNotFound) {
			return err
		}
		if err := tx.Delete(&participantRecord{}, "user_id = ?", rec.UserID).Error; err != nil {
			return err
		}
		if lobby == nil {
			return nil
		}

		rest, err := listRows(tx, removed.LobbyName)
		if err != nil {
			return err
		}
		if len(rest) == 0 {
			return tx.Delete(&lobbyRecord{}, "name = ?", lobby.Name).Error
		}
		creator := ""
		if lobby.CreatorID == rec.UserID {
			creator = string(rest[0].UserID)
		}
		return bumpVersion(tx, lobby, lobby.UpdatedAt, creator)
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// lockLobby loads the lobby row, taking a row lock where the dialect has one
func lockLobby(tx *gorm.DB, name model.LobbyName) (*lobbyRecord, error) {
	var rec lobbyRecord
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&rec, "name = ?", string(name)).Error
	if err != nil {
		return nil, notFound(err, model.ErrLobbyNotFound)
	}
	return &rec, nil
}

// bumpVersion increments the lobby version, guarded by the version we read.
// A non-empty creator hands the lobby over.
func bumpVersion(tx *gorm.DB, lobby *lobbyRecord, at any, creator string) error {
	updates := map[string]any{
		"version":    gorm.Expr("version + 1"),
		"updated_at": at,
	}
	if creator != "" {
		updates["creator_id"] = creator
	}
	res := tx.Model(&lobbyRecord{}).
		Where("name = ? AND version = ?", lobby.Name, lobby.Version).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return model.ErrVersionConflict
	}
	lobby.Version++
	if creator != "" {
		lobby.CreatorID = creator
	}
	return nil
}

func removeLobby(tx *gorm.DB, lobby *lobbyRecord) ([]*model.Participation, error) {
	rows, err := listRows(tx, model.LobbyName(lobby.Name))
	if err != nil {
		return nil, err
	}
	if err := tx.Delete(&participantRecord{}, "lobby_name = ?", lobby.Name).Error; err != nil {
		return nil, err
	}
	res := tx.Where("name = ? AND version = ?", lobby.Name, lobby.Version).Delete(&lobbyRecord{})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, model.ErrVersionConflict
	}
	return rows, nil
}

// joinOrder sorts rows by join sequence. Rows written before the seq column
// existed all carry 0 and fall back to their timestamps.
const joinOrder = "lobby_name ASC, seq ASC, joined_at ASC, id ASC"

func listRows(db *gorm.DB, name model.LobbyName) ([]*model.Participation, error) {
	var records []participantRecord
	err := db.Where("lobby_name = ?", string(name)).
		Order(joinOrder).
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return toModels(records), nil
}

func exists(db *gorm.DB, table any, query string, args ...any) (bool, error) {
	var count int64
	if err := db.Model(table).Where(query, args...).Limit(1).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func notFound(err, sentinel error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return sentinel
	}
	return err
}

func duplicate(err, sentinel error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return sentinel
	}
	return err
}
