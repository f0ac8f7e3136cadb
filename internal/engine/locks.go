package engine

import (
	"slices"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/roach88/crr/internal/ir"
)

const lockShards = 256

// rowLocks serializes writers of the same row. Rows hash onto a fixed set
// of shards; a batch takes every shard it needs up front, in ascending
// order, before it opens a store transaction.
type rowLocks struct {
	shards [lockShards]sync.Mutex
}

func shardOf(key ir.RowKey) int {
	d := xxhash.New()
	d.WriteString(key.Table)
	d.Write([]byte{0})
	d.WriteString(key.PK)
	return int(d.Sum64() % lockShards)
}

// lock acquires the shards covering keys and returns the release func.
func (l *rowLocks) lock(keys []ir.RowKey) (unlock func()) {
	seen := make(map[int]bool, len(keys))
	shards := make([]int, 0, len(keys))
	for _, k := range keys {
		s := shardOf(k)
		if !seen[s] {
			seen[s] = true
			shards = append(shards, s)
		}
	}
	slices.Sort(shards)

	for _, s := range shards {
		l.shards[s].Lock()
	}
	return func() {
		for i := len(shards) - 1; i >= 0; i-- {
			l.shards[shards[i]].Unlock()
		}
	}
}
