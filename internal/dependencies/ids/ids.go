package ids

import "github.com/google/uuid"

// Generator produces unique identifiers for players and participation rows
type Generator interface {
	NewID() string
}

// UUIDGenerator issues random (version 4) UUIDs
type UUIDGenerator struct{}

// New creates a new UUIDGenerator
func New() *UUIDGenerator {
	return &UUIDGenerator{}
}

// NewID returns a fresh UUID string
func (g *UUIDGenerator) NewID() string {
	return uuid.NewString()
}

// Valid reports whether s parses as a UUID
func Valid(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
