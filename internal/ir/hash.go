package ir

import (
	"bytes"
	"cmp"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainState  = "crr/state/v1"
	DomainChange = "crr/change/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ChangeID computes a content-addressed ID for a single change record.
// db_version is excluded: the same write received by two replicas gets a
// different local db_version on each but is the same logical change.
func ChangeID(c Change) (string, error) {
	canonical, err := MarshalCanonical(stateMap(c))
	if err != nil {
		return "", fmt.Errorf("ChangeID: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainChange, canonical), nil
}

// StateDigest computes a digest of a replica's full state from the
// complete change set it would emit (cursor from version 0).
//
// Two replicas that have converged produce the same digest. Site ids must
// already be resolved; a nil site id on one side and the concrete id on the
// other would otherwise differ.
//
// A sentinel contributes only its cl. Merging a sentinel at the cl a row
// already has changes nothing, so replicas that reached the same cl
// independently keep their own site on it and still hold the same state.
func StateDigest(changes []Change) (string, error) {
	sorted := slices.Clone(changes)
	slices.SortFunc(sorted, compareCell)

	items := make([]any, len(sorted))
	for i, c := range sorted {
		m := stateMap(c)
		if c.IsSentinel() {
			delete(m, "site_id")
		}
		items[i] = m
	}
	canonical, err := MarshalCanonical(items)
	if err != nil {
		return "", fmt.Errorf("StateDigest: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainState, canonical), nil
}

func stateMap(c Change) map[string]any {
	return map[string]any{
		"table":       c.Table,
		"pk":          c.PK,
		"cid":         c.CID,
		"val":         c.Val,
		"col_version": c.ColVersion,
		"site_id":     c.SiteID,
		"cl":          c.CL,
	}
}

// compareCell orders changes by (table, pk, cid) with the sentinel first
// within a row.
func compareCell(a, b Change) int {
	if c := cmp.Compare(a.Table, b.Table); c != 0 {
		return c
	}
	if c := bytes.Compare(a.PK, b.PK); c != 0 {
		return c
	}
	if a.IsSentinel() != b.IsSentinel() {
		if a.IsSentinel() {
			return -1
		}
		return 1
	}
	return cmp.Compare(a.CID, b.CID)
}
