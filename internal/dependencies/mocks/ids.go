package mocks

import (
	"fmt"
	"sync"

	"github.com/mcoot/bunker/internal/dependencies/ids"
)

// SequentialIDs returns predictable ids: prefix-1, prefix-2, ...
type SequentialIDs struct {
	mu     sync.Mutex
	Prefix string
	next   int
}

var _ ids.Generator = (*SequentialIDs)(nil)

// NewSequentialIDs creates a generator with the given prefix
func NewSequentialIDs(prefix string) *SequentialIDs {
	return &SequentialIDs{Prefix: prefix}
}

func (g *SequentialIDs) NewID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return fmt.Sprintf("%s-%d", g.Prefix, g.next)
}
