package engine

import (
	"bytes"
	"sync"

	"github.com/google/uuid"
)

// SiteIDGenerator mints replica identities.
// Implemented by UUIDv7Generator (production) and FixedGenerator (tests).
type SiteIDGenerator interface {
	Generate() ([]byte, error)
}

// UUIDv7Generator mints time-sortable UUIDv7 site ids.
//
// UUIDv7 embeds a timestamp in the most significant bits, so replicas
// created later compare higher in the site id tie-break.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate returns the 16 raw bytes of a new UUIDv7.
func (g UUIDv7Generator) Generate() ([]byte, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}
	return id[:], nil
}

// FixedGenerator returns predetermined site ids for testing.
//
// Thread-safety: FixedGenerator is safe for concurrent use via internal mutex.
type FixedGenerator struct {
	mu  sync.Mutex
	ids [][]byte
	idx int
}

// NewFixedGenerator creates a generator that returns ids in order.
func NewFixedGenerator(ids ...[]byte) *FixedGenerator {
	return &FixedGenerator{ids: ids}
}

// Generate returns the next predetermined id.
//
// Panics if all ids have been consumed, to catch test misconfiguration.
func (g *FixedGenerator) Generate() ([]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.ids) {
		panic("FixedGenerator: all site ids exhausted")
	}
	id := bytes.Clone(g.ids[g.idx])
	g.idx++
	return id, nil
}
