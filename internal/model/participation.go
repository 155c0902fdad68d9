package model

import "time"

// Traits holds the per-trait override columns of a participation row.
// An empty field means "use the template value".
type Traits struct {
	Profession           string `json:"profession,omitempty"`
	ProfessionExperience string `json:"profession_experience,omitempty"`
	Age                  int    `json:"age,omitempty"`
	Gender               string `json:"gender,omitempty"`
	Health               string `json:"health,omitempty"`
	Education            string `json:"education,omitempty"`
	Hobby                string `json:"hobby,omitempty"`
	HobbyExperience      string `json:"hobby_experience,omitempty"`
	Phobia               string `json:"phobia,omitempty"`
	BagItem              string `json:"bag_item,omitempty"`
	SpecialAbility       string `json:"special_ability,omitempty"`
	AdditionalTraits     string `json:"additional_traits,omitempty"`
}

// IsZero reports whether no trait has been assigned
func (t Traits) IsZero() bool {
	return t == Traits{}
}

// Participation is the persisted fact that a player is in a lobby.
// A player has at most one row at a time.
type Participation struct {
	ID            string    `json:"id"`
	UserID        PlayerID  `json:"user_id"`
	DisplayName   string    `json:"display_name"`
	LobbyName     LobbyName `json:"lobby_name"`
	LobbyPassword string    `json:"lobby_password,omitempty"`
	JoinedAt      time.Time `json:"joined_at"`
	Traits        Traits    `json:"traits"`
}

// Characteristic is the derived, display-ready view of one player in a lobby.
// ID is the 1-based join position.
type Characteristic struct {
	ID       int      `json:"id"`
	Name     string   `json:"name"`
	UserID   PlayerID `json:"user_id"`
	Online   bool     `json:"online"`
	Traits
}
