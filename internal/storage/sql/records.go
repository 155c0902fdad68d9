package sql

import (
	"time"

	"github.com/mcoot/bunker/internal/model"
)

type playerRecord struct {
	ID          string `gorm:"primaryKey"`
	DisplayName string
	IsGuest     bool
	CreatedAt   time.Time
}

func (playerRecord) TableName() string { return "players" }

type registeredPlayerRecord struct {
	PlayerID     string `gorm:"primaryKey"`
	Username     string `gorm:"uniqueIndex;not null"`
	PasswordHash string `gorm:"not null"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (registeredPlayerRecord) TableName() string { return "registered_players" }

type lobbyRecord struct {
	Name      string `gorm:"primaryKey"`
	Password  string `gorm:"not null"`
	CreatorID string `gorm:"not null"`
	Version   int64  `gorm:"not null;default:1"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (lobbyRecord) TableName() string { return "lobbies" }

// participantRecord mirrors the lobby_participants table. The unique index
// on user_id enforces one lobby per player. Seq is assigned under the lobby
// row lock and is the join order; JoinedAt comes from the caller's clock and
// can tie or run backwards.
type participantRecord struct {
	ID            string `gorm:"primaryKey"`
	UserID        string `gorm:"uniqueIndex;not null"`
	DisplayName   string
	LobbyName     string    `gorm:"index:idx_participants_lobby_seq,priority:1;not null"`
	Seq           int64     `gorm:"index:idx_participants_lobby_seq,priority:2;not null;default:0"`
	LobbyPassword string    `gorm:"not null"`
	JoinedAt      time.Time `gorm:"not null"`

	Profession           string
	ProfessionExperience string
	Age                  int
	Gender               string
	Health               string
	Education            string
	Hobby                string
	HobbyExperience      string
	Phobia               string
	BagItem              string
	SpecialAbility       string
	AdditionalTraits     string
}

func (participantRecord) TableName() string { return "lobby_participants" }

func toPlayerRecord(p *model.Player) *playerRecord {
	return &playerRecord{ID: string(p.ID), DisplayName: p.DisplayName, IsGuest: p.IsGuest, CreatedAt: p.CreatedAt}
}

func (r *playerRecord) toModel() *model.Player {
	return &model.Player{ID: model.PlayerID(r.ID), DisplayName: r.DisplayName, IsGuest: r.IsGuest, CreatedAt: r.CreatedAt}
}

func toLobbyRecord(l *model.Lobby) *lobbyRecord {
	return &lobbyRecord{
		Name:      string(l.Name),
		Password:  l.Password,
		CreatorID: string(l.CreatorID),
		Version:   l.Version,
		CreatedAt: l.CreatedAt,
		UpdatedAt: l.UpdatedAt,
	}
}

func (r *lobbyRecord) toModel() *model.Lobby {
	return &model.Lobby{
		Name:      model.LobbyName(r.Name),
		Password:  r.Password,
		CreatorID: model.PlayerID(r.CreatorID),
		Version:   r.Version,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

func toParticipantRecord(p *model.Participation, seq int64) *participantRecord {
	r := &participantRecord{
		ID:            p.ID,
		UserID:        string(p.UserID),
		DisplayName:   p.DisplayName,
		LobbyName:     string(p.LobbyName),
		Seq:           seq,
		LobbyPassword: p.LobbyPassword,
		JoinedAt:      p.JoinedAt,
	}
	r.setTraits(p.Traits)
	return r
}

func (r *participantRecord) setTraits(t model.Traits) {
	r.Profession = t.Profession
	r.ProfessionExperience = t.ProfessionExperience
	r.Age = t.Age
	r.Gender = t.Gender
	r.Health = t.Health
	r.Education = t.Education
	r.Hobby = t.Hobby
	r.HobbyExperience = t.HobbyExperience
	r.Phobia = t.Phobia
	r.BagItem = t.BagItem
	r.SpecialAbility = t.SpecialAbility
	r.AdditionalTraits = t.AdditionalTraits
}

func (r *participantRecord) toModel() *model.Participation {
	return &model.Participation{
		ID:            r.ID,
		UserID:        model.PlayerID(r.UserID),
		DisplayName:   r.DisplayName,
		LobbyName:     model.LobbyName(r.LobbyName),
		LobbyPassword: r.LobbyPassword,
		JoinedAt:      r.JoinedAt,
		Traits: model.Traits{
			Profession:           r.Profession,
			ProfessionExperience: r.ProfessionExperience,
			Age:                  r.Age,
			Gender:               r.Gender,
			Health:               r.Health,
			Education:            r.Education,
			Hobby:                r.Hobby,
			HobbyExperience:      r.HobbyExperience,
			Phobia:               r.Phobia,
			BagItem:              r.BagItem,
			SpecialAbility:       r.SpecialAbility,
			AdditionalTraits:     r.AdditionalTraits,
		},
	}
}

func toModels(records []participantRecord) []*model.Participation {
	out := make([]*model.Participation, len(records))
	for i := range records {
		out[i] = records[i].toModel()
	}
	return out
}
