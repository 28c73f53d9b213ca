package testutil

import (
	"fmt"
	"sync"
)

// FixedSceneIDs returns predetermined scene ids in order, then numbered
// fallbacks ("scene-N") once the list is exhausted.
//
// Thread-safety: safe for concurrent use.
type FixedSceneIDs struct {
	mu  sync.Mutex
	ids []string
	idx int
}

// NewFixedSceneIDs creates a generator over ids.
func NewFixedSceneIDs(ids ...string) *FixedSceneIDs {
	return &FixedSceneIDs{ids: ids}
}

// Generate returns the next id.
func (g *FixedSceneIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.idx++
	if g.idx <= len(g.ids) {
		return g.ids[g.idx-1]
	}
	return fmt.Sprintf("scene-%d", g.idx)
}
