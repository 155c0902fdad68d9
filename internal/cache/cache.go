// Package cache keeps a best-effort local view of lobbies the process has
// created or joined: name -> {password, players}. It is never authoritative.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/mcoot/bunker/internal/model"
	"github.com/mcoot/bunker/internal/secret"
)

// Entry is the cached view of one lobby
type Entry struct {
	Password string                 `json:"password"`
	Players  []model.Characteristic `json:"players"`
}

// LobbyCache is an owned, concurrency-safe map of lobby entries that
// remembers insertion order
type LobbyCache struct {
	mu      sync.RWMutex
	order   []model.LobbyName
	entries map[model.LobbyName]Entry
}

// New creates an empty cache
func New() *LobbyCache {
	return &LobbyCache{entries: make(map[model.LobbyName]Entry)}
}

func (c *LobbyCache) Get(name model.LobbyName) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[name]
	if !ok {
		return Entry{}, false
	}
	e.Players = slices.Clone(e.Players)
	return e, true
}

func (c *LobbyCache) Set(name model.LobbyName, entry Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[name]; !ok {
		c.order = append(c.order, name)
	}
	entry.Players = slices.Clone(entry.Players)
	c.entries[name] = entry
}

// SetPlayers replaces the player list of an existing entry
func (c *LobbyCache) SetPlayers(name model.LobbyName, players []model.Characteristic) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[name]
	if !ok {
		return false
	}
	e.Players = slices.Clone(players)
	c.entries[name] = e
	return true
}

func (c *LobbyCache) Delete(name model.LobbyName) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[name]; !ok {
		return
	}
	delete(c.entries, name)
	c.order = slices.DeleteFunc(c.order, func(n model.LobbyName) bool { return n == name })
}

func (c *LobbyCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order = nil
	c.entries = make(map[model.LobbyName]Entry)
}

// Names returns cached lobby names in insertion order
func (c *LobbyCache) Names() []model.LobbyName {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.order)
}

func (c *LobbyCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// CheckPassword compares against the cached password. A lobby this cache
// has never seen never matches.
func (c *LobbyCache) CheckPassword(name model.LobbyName, password string) bool {
	c.mu.RLock()
	e, ok := c.entries[name]
	c.mu.RUnlock()
	if !ok {
		return false
	}
	return secret.Equal(password, e.Password)
}

// MarshalJSON writes the cache as an ordered list of [name, entry] pairs
func (c *LobbyCache) MarshalJSON() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	pairs := make([][2]any, 0, len(c.order))
	for _, name := range c.order {
		e := c.entries[name]
		if e.Players == nil {
			e.Players = []model.Characteristic{}
		}
		pairs = append(pairs, [2]any{name, e})
	}
	return json.Marshal(pairs)
}

// UnmarshalJSON reads the ordered pair list format
func (c *LobbyCache) UnmarshalJSON(data []byte) error {
	var pairs [][2]json.RawMessage
	if err := json.Unmarshal(data, &pairs); err != nil {
		return fmt.Errorf("lobby cache: %w", err)
	}

	order := make([]model.LobbyName, 0, len(pairs))
	entries := make(map[model.LobbyName]Entry, len(pairs))
	for i, p := range pairs {
		var name model.LobbyName
		if err := json.Unmarshal(p[0], &name); err != nil {
			return fmt.Errorf("lobby cache entry %d name: %w", i, err)
		}
		var e Entry
		if err := json.Unmarshal(p[1], &e); err != nil {
			return fmt.Errorf("lobby cache entry %d: %w", i, err)
		}
		if _, dup := entries[name]; !dup {
			order = append(order, name)
		}
		entries[name] = e
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.order = order
	c.entries = entries
	return nil
}

// Load reads a cache file. A missing file yields an empty cache.
func Load(path string) (*LobbyCache, error) {
	c := New()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Save writes the cache file with owner-only permissions, since it holds
// lobby passwords
func (c *LobbyCache) Save(path string) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
