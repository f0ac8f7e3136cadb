package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleChanges() []Change {
	pk := MustPack(Int(1))
	return []Change{
		{Table: "foo", PK: pk, CID: SentinelCID, Val: Null{}, ColVersion: 1, DBVersion: 1, SiteID: []byte{1}, CL: 1},
		{Table: "foo", PK: pk, CID: "b", Val: Int(2), ColVersion: 1, DBVersion: 1, SiteID: []byte{1}, CL: 1},
		{Table: "foo", PK: MustPack(Int(2)), CID: SentinelCID, Val: Null{}, ColVersion: 2, DBVersion: 3, SiteID: []byte{2}, CL: 2},
	}
}

func TestHashWithDomainSeparator(t *testing.T) {
	h := sha256.New()
	h.Write([]byte("d"))
	h.Write([]byte{0})
	h.Write([]byte("x"))
	assert.Equal(t, hex.EncodeToString(h.Sum(nil)), hashWithDomain("d", []byte("x")))
	assert.NotEqual(t, hashWithDomain("d", []byte("x")), hashWithDomain("dx", nil))
}

func TestStateDigestOrderIndependent(t *testing.T) {
	changes := sampleChanges()
	reversed := []Change{changes[2], changes[1], changes[0]}

	a, err := StateDigest(changes)
	require.NoError(t, err)
	b, err := StateDigest(reversed)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestStateDigestIgnoresDBVersion(t *testing.T) {
	changes := sampleChanges()
	shifted := sampleChanges()
	for i := range shifted {
		shifted[i].DBVersion += 10
	}

	a, err := StateDigest(changes)
	require.NoError(t, err)
	b, err := StateDigest(shifted)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestStateDigestSensitiveToState(t *testing.T) {
	base, err := StateDigest(sampleChanges())
	require.NoError(t, err)

	mutations := map[string]func(*Change){
		"value":       func(c *Change) { c.Val = Int(3) },
		"col_version": func(c *Change) { c.ColVersion = 2 },
		"site":        func(c *Change) { c.SiteID = []byte{9} },
		"cl":          func(c *Change) { c.CL = 3 },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			changes := sampleChanges()
			mutate(&changes[1])
			got, err := StateDigest(changes)
			require.NoError(t, err)
			assert.NotEqual(t, base, got)
		})
	}
}

func TestStateDigestIgnoresSentinelSite(t *testing.T) {
	base, err := StateDigest(sampleChanges())
	require.NoError(t, err)

	changes := sampleChanges()
	changes[0].SiteID = []byte{7}
	changes[2].SiteID = nil
	got, err := StateDigest(changes)
	require.NoError(t, err)
	assert.Equal(t, base, got, "replicas reaching the same cl independently hold the same state")

	changes[0].CL = 3
	changes[0].ColVersion = 3
	got, err = StateDigest(changes)
	require.NoError(t, err)
	assert.NotEqual(t, base, got)
}

func TestStateDigestEmpty(t *testing.T) {
	a, err := StateDigest(nil)
	require.NoError(t, err)
	b, err := StateDigest([]Change{})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestChangeIDStable(t *testing.T) {
	c := sampleChanges()[1]
	id1, err := ChangeID(c)
	require.NoError(t, err)

	c.DBVersion = 99
	id2, err := ChangeID(c)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	c.Val = Text("2")
	id3, err := ChangeID(c)
	require.NoError(t, err)
	assert.NotEqual(t, id1, id3)
}
