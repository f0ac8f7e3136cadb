package engine

// VersionStamper assigns db_versions to the records accepted by one
// applying transaction.
//
// Every accepted record is stamped max(base, remote) where base is the
// replica's db_version at transaction start plus one. Current reports the
// largest stamp handed out, which becomes the replica's new db_version.
//
// Not safe for concurrent use; one stamper belongs to one transaction.
type VersionStamper struct {
	base    int64
	current int64
}

// NewVersionStamper creates a stamper for a transaction starting at the
// given db_version.
func NewVersionStamper(current int64) *VersionStamper {
	return &VersionStamper{base: current + 1, current: current}
}

// Stamp returns the db_version for an accepted record that carried the
// given remote db_version. Local writes pass 0.
func (s *VersionStamper) Stamp(remote int64) int64 {
	v := max(s.base, remote)
	if v > s.current {
		s.current = v
	}
	return v
}

// Current returns the largest version stamped so far, or the starting
// version if nothing was stamped.
func (s *VersionStamper) Current() int64 {
	return s.current
}

// Advanced reports whether any record was stamped.
func (s *VersionStamper) Advanced() bool {
	return s.current >= s.base
}
