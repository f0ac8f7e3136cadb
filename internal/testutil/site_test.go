package testutil

import (
	"bytes"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSiteID(t *testing.T) {
	id := SiteID(3)
	assert.Len(t, id, SiteIDLen)
	assert.Equal(t, byte(3), id[0])
	assert.Equal(t, byte(3), id[SiteIDLen-1])
	assert.Equal(t, -1, bytes.Compare(SiteID(1), SiteID(2)))
}

func TestSiteSequence(t *testing.T) {
	seq := NewSiteSequence()

	first, err := seq.Generate()
	require.NoError(t, err)
	second, err := seq.Generate()
	require.NoError(t, err)

	assert.Equal(t, SiteID(1), first)
	assert.Equal(t, SiteID(2), second)
}

func TestSiteSequence_Reset(t *testing.T) {
	seq := NewSiteSequence()
	seq.Generate()
	seq.Generate()
	seq.Reset()

	id, err := seq.Generate()
	require.NoError(t, err)
	assert.Equal(t, SiteID(1), id)
}

func TestSiteSequence_ThreadSafe(t *testing.T) {
	seq := NewSiteSequence()
	const goroutines = 10
	const calls = 10

	var wg sync.WaitGroup
	ids := make(chan []byte, goroutines*calls)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < calls; j++ {
				id, _ := seq.Generate()
				ids <- id
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool)
	for id := range ids {
		assert.False(t, seen[string(id)], "site id %x generated twice", id)
		seen[string(id)] = true
	}
	assert.Len(t, seen, goroutines*calls)
}
