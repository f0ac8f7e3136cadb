package testutil

import (
	"bytes"
	"sync"
)

// SiteIDLen is the byte length of a replica identity.
const SiteIDLen = 16

// SiteID returns a deterministic 16-byte site id filled with n.
// Higher n compares higher under the site id tie-break.
func SiteID(n byte) []byte {
	return bytes.Repeat([]byte{n}, SiteIDLen)
}

// SiteSequence hands out SiteID(1), SiteID(2), ... for tests.
//
// Unlike engine.FixedGenerator, SiteSequence never runs out and can be
// reset for test reuse, so the same scenario run twice mints identical
// replica identities.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type SiteSequence struct {
	mu   sync.Mutex
	next byte
}

// NewSiteSequence creates a sequence whose first id is SiteID(1).
func NewSiteSequence() *SiteSequence {
	return &SiteSequence{}
}

// Generate returns the next site id.
//
// Implements engine.SiteIDGenerator.
func (s *SiteSequence) Generate() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	return SiteID(s.next), nil
}

// Reset restarts the sequence at SiteID(1).
func (s *SiteSequence) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next = 0
}
