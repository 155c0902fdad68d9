package lobby

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mcoot/bunker/internal/cache"
	"github.com/mcoot/bunker/internal/dependencies/clock"
	"github.com/mcoot/bunker/internal/dependencies/ids"
	"github.com/mcoot/bunker/internal/feed"
	"github.com/mcoot/bunker/internal/model"
	"github.com/mcoot/bunker/internal/storage"
	"github.com/mcoot/bunker/internal/traits"
)

// View is what a player sees after creating or joining a lobby
type View struct {
	Lobby   model.Lobby            `json:"lobby"`
	Bunker  traits.Bunker          `json:"bunker"`
	Self    model.Characteristic   `json:"self"`
	Players []model.Characteristic `json:"players"`
}

// Controller translates lobby intents into store operations and publishes
// the resulting row changes. Every error it returns is one of the model
// taxonomy errors; backend failures come back wrapping ErrTransientBackend.
type Controller struct {
	storage   storage.Storage
	publisher feed.Publisher
	pool      *traits.Pool
	cache     *cache.LobbyCache
	clock     clock.Clock
	ids       ids.Generator
	logger    *slog.Logger
}

// NewController creates a new lobby Controller
func NewController(
	storage storage.Storage,
	publisher feed.Publisher,
	pool *traits.Pool,
	cache *cache.LobbyCache,
	clock clock.Clock,
	ids ids.Generator,
	logger *slog.Logger,
) *Controller {
	return &Controller{
		storage:   storage,
		publisher: publisher,
		pool:      pool,
		cache:     cache,
		clock:     clock,
		ids:       ids,
		logger:    logger.With(slog.String("component", "lobby")),
	}
}

// Exists reports whether a lobby with this name is live. Backend failures
// are logged and reported as false.
func (c *Controller) Exists(ctx context.Context, name model.LobbyName) bool {
	ok, err := c.storage.LobbyExists(ctx, name)
	if err != nil {
		c.logger.Warn("lobby existence check failed",
			slog.String("lobby", string(name)),
			slog.Any("error", err))
		return false
	}
	return ok
}

// CheckPassword compares against the locally cached password only, so it
// can be stale relative to concurrent deletes
func (c *Controller) CheckPassword(name model.LobbyName, password string) bool {
	return c.cache.CheckPassword(name, password)
}

// Create makes a new lobby with player as its creator and first member
func (c *Controller) Create(ctx context.Context, creds model.LobbyCredentials, player model.Player) (*View, error) {
	if err := creds.Name.Validate(); err != nil {
		return nil, err
	}

	now := c.clock.Now()
	row := c.newRow(creds, player)
	row.Traits = traits.FromTemplate(c.pool.At(0))
	lobby := &model.Lobby{
		Name:      creds.Name,
		Password:  creds.Password,
		CreatorID: player.ID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := c.storage.CreateLobby(ctx, lobby, row); err != nil {
		return nil, c.normalize(err)
	}

	c.logger.Info("lobby created",
		slog.String("lobby", string(creds.Name)),
		slog.String("creator", string(player.ID)))
	c.publish(ctx, model.NewInsertEvent(row, now))

	players := traits.Characterize([]*model.Participation{row}, c.pool)
	c.cache.Set(creds.Name, cache.Entry{Password: creds.Password, Players: players})

	return &View{Lobby: redact(lobby), Bunker: traits.DefaultBunker(), Self: players[0], Players: players}, nil
}

// Join adds player to an existing lobby. The template at the player's join
// position is dealt and persisted on their row.
func (c *Controller) Join(ctx context.Context, creds model.LobbyCredentials, player model.Player) (*View, error) {
	row := c.newRow(creds, player)

	position, lobby, err := c.storage.JoinLobby(ctx, creds, row)
	if err != nil {
		return nil, c.normalize(err)
	}
	c.publish(ctx, model.NewInsertEvent(row, row.JoinedAt))

	dealt := traits.FromTemplate(c.pool.At(position))
	if updated, err := c.storage.UpdateTraits(ctx, player.ID, dealt); err != nil {
		// The row exists; its traits fall back to the positional template.
		c.logger.Warn("failed to persist dealt traits",
			slog.String("lobby", string(creds.Name)),
			slog.String("player", string(player.ID)),
			slog.Any("error", err))
	} else {
		c.publish(ctx, model.NewUpdateEvent(updated, c.clock.Now()))
	}

	c.logger.Info("lobby joined",
		slog.String("lobby", string(creds.Name)),
		slog.String("player", string(player.ID)),
		slog.Int("position", position))

	row.Traits = dealt
	view := &View{
		Lobby:  redact(lobby),
		Bunker: traits.DefaultBunker(),
		Self: model.Characteristic{
			ID:     position + 1,
			Name:   player.DisplayName,
			UserID: player.ID,
			Online: true,
			Traits: dealt,
		},
	}

	// The join has committed; a failed read only costs the caller the list.
	players, err := c.Players(ctx, creds.Name)
	if err != nil {
		c.logger.Warn("failed to list players after join",
			slog.String("lobby", string(creds.Name)),
			slog.Any("error", err))
		return view, nil
	}
	c.cache.Set(creds.Name, cache.Entry{Password: creds.Password, Players: players})
	view.Players = players
	for _, p := range players {
		if p.UserID == player.ID {
			view.Self = p
			break
		}
	}
	return view, nil
}

// Leave removes the player's own participation row
func (c *Controller) Leave(ctx context.Context, player model.Player) (*model.Participation, error) {
	row, err := c.storage.DeleteParticipation(ctx, player.ID)
	if err != nil {
		return nil, c.normalize(err)
	}
	c.logger.Info("lobby left",
		slog.String("lobby", string(row.LobbyName)),
		slog.String("player", string(player.ID)))
	c.publish(ctx, model.NewDeleteEvent(row, c.clock.Now()))

	if !c.Exists(ctx, row.LobbyName) {
		c.cache.Delete(row.LobbyName)
	}
	return row, nil
}

// Delete removes a lobby and all its rows. Only the lobby's creator may
// delete it; a non-zero expectedVersion must match the current version.
func (c *Controller) Delete(ctx context.Context, creds model.LobbyCredentials, requester model.Player, expectedVersion int64) (bool, error) {
	removed, err := c.storage.DeleteLobby(ctx, model.DeleteLobbyRequest{
		Name:            creds.Name,
		Password:        creds.Password,
		RequesterID:     requester.ID,
		ExpectedVersion: expectedVersion,
	})
	if err != nil {
		return false, c.normalize(err)
	}

	c.logger.Info("lobby deleted",
		slog.String("lobby", string(creds.Name)),
		slog.String("requester", string(requester.ID)),
		slog.Int("rows", len(removed)))
	c.publishDeletes(ctx, removed)
	c.cache.Delete(creds.Name)
	return true, nil
}

// DeleteAll removes every lobby. The requester must be the creator of the
// lobby they are currently in.
func (c *Controller) DeleteAll(ctx context.Context, requester model.Player) (bool, error) {
	row, err := c.storage.GetParticipation(ctx, requester.ID)
	if err != nil {
		if errors.Is(err, model.ErrParticipationNotFound) {
			return false, model.ErrNotCreator
		}
		return false, c.normalize(err)
	}
	lobby, err := c.storage.GetLobby(ctx, row.LobbyName)
	if err != nil {
		return false, c.normalize(err)
	}
	if lobby.CreatorID != requester.ID {
		return false, model.ErrNotCreator
	}

	removed, err := c.storage.DeleteAllLobbies(ctx)
	if err != nil {
		return false, c.normalize(err)
	}

	c.logger.Warn("all lobbies deleted",
		slog.String("requester", string(requester.ID)),
		slog.Int("rows", len(removed)))
	c.publishDeletes(ctx, removed)
	c.cache.Clear()
	return true, nil
}

// GetLobby returns the lobby meta record without its password
func (c *Controller) GetLobby(ctx context.Context, name model.LobbyName) (*model.Lobby, error) {
	lobby, err := c.storage.GetLobby(ctx, name)
	if err != nil {
		return nil, c.normalize(err)
	}
	l := redact(lobby)
	return &l, nil
}

// Participants returns the raw rows in join order
func (c *Controller) Participants(ctx context.Context, name model.LobbyName) ([]*model.Participation, error) {
	rows, err := c.storage.ListParticipants(ctx, name)
	if err != nil {
		return nil, c.normalize(err)
	}
	return rows, nil
}

// Players returns the characterised player list in join order
func (c *Controller) Players(ctx context.Context, name model.LobbyName) ([]model.Characteristic, error) {
	rows, err := c.Participants(ctx, name)
	if err != nil {
		return nil, err
	}
	return traits.Characterize(rows, c.pool), nil
}

// Participation returns the caller's current row, if any
func (c *Controller) Participation(ctx context.Context, userID model.PlayerID) (*model.Participation, error) {
	row, err := c.storage.GetParticipation(ctx, userID)
	if err != nil {
		return nil, c.normalize(err)
	}
	return row, nil
}

// DeleteParticipation removes a stale row without any lobby checks
func (c *Controller) DeleteParticipation(ctx context.Context, userID model.PlayerID) error {
	row, err := c.storage.DeleteParticipation(ctx, userID)
	if err != nil {
		return c.normalize(err)
	}
	c.publish(ctx, model.NewDeleteEvent(row, c.clock.Now()))
	return nil
}

func (c *Controller) newRow(creds model.LobbyCredentials, player model.Player) *model.Participation {
	return &model.Participation{
		ID:            c.ids.NewID(),
		UserID:        player.ID,
		DisplayName:   player.DisplayName,
		LobbyName:     creds.Name,
		LobbyPassword: creds.Password,
		JoinedAt:      c.clock.Now(),
	}
}

// publish emits an event after a committed write. A failed publish does not
// undo the write; subscribers catch up on their next refetch. Rows are
// published without the lobby password.
func (c *Controller) publish(ctx context.Context, event model.ChangeEvent) {
	event = event.WithoutSecrets()
	if err := c.publisher.Publish(ctx, event); err != nil {
		c.logger.Warn("failed to publish change event",
			slog.String("lobby", string(event.LobbyName)),
			slog.String("type", string(event.Type)),
			slog.Any("error", err))
	}
}

func (c *Controller) publishDeletes(ctx context.Context, rows []*model.Participation) {
	now := c.clock.Now()
	events := make([]model.ChangeEvent, 0, len(rows))
	for _, row := range rows {
		events = append(events, model.NewDeleteEvent(row, now).WithoutSecrets())
	}
	if err := feed.PublishAll(ctx, c.publisher, events...); err != nil {
		c.logger.Warn("failed to publish delete events",
			slog.Int("rows", len(rows)),
			slog.Any("error", err))
	}
}

// normalize maps anything outside the taxonomy to ErrTransientBackend
func (c *Controller) normalize(err error) error {
	if model.IsDomainError(err) {
		return err
	}
	c.logger.Error("lobby backend failure", slog.Any("error", err))
	return fmt.Errorf("%w: %w", model.ErrTransientBackend, err)
}

func redact(l *model.Lobby) model.Lobby {
	out := *l
	out.Password = ""
	return out
}
