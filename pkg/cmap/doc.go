// Package cmap provides a sharded, string-keyed concurrent map.
//
// Keys are spread over a power-of-two number of shards, each guarded by
// its own RWMutex. Point operations lock a single shard. Whole-map
// operations (Snapshot, Replace, Clear) lock every shard in index order,
// so they observe or install a consistent view.
//
// Usage:
//
//	m := cmap.New[[]byte]()
//	m.Set("k", []byte("v"))
//	items := m.Snapshot() // sorted by key
package cmap
