package model

import "time"

// ChangeType identifies the kind of row change on the participation table
type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
)

// ChangeEvent is delivered by the change feed for a row whose lobby name
// matches the subscription filter. Consumers must not rely on New/Old:
// the reconciler treats every event as "something changed" and refetches.
type ChangeEvent struct {
	Type      ChangeType     `json:"type"`
	LobbyName LobbyName      `json:"lobby_name"`
	New       *Participation `json:"new,omitempty"`
	Old       *Participation `json:"old,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewInsertEvent builds the event emitted when a row is added
func NewInsertEvent(row *Participation, at time.Time) ChangeEvent {
	return ChangeEvent{Type: ChangeInsert, LobbyName: row.LobbyName, New: row, Timestamp: at}
}

// NewUpdateEvent builds the event emitted when a row's traits change
func NewUpdateEvent(row *Participation, at time.Time) ChangeEvent {
	return ChangeEvent{Type: ChangeUpdate, LobbyName: row.LobbyName, New: row, Timestamp: at}
}

// NewDeleteEvent builds the event emitted when a row is removed
func NewDeleteEvent(row *Participation, at time.Time) ChangeEvent {
	return ChangeEvent{Type: ChangeDelete, LobbyName: row.LobbyName, Old: row, Timestamp: at}
}

// WithoutSecrets returns a copy of the event whose rows carry no lobby
// password. Events leaving the server must go through it.
func (e ChangeEvent) WithoutSecrets() ChangeEvent {
	e.New = e.New.withoutSecret()
	e.Old = e.Old.withoutSecret()
	return e
}

func (p *Participation) withoutSecret() *Participation {
	if p == nil {
		return nil
	}
	out := *p
	out.LobbyPassword = ""
	return &out
}
