package cmap

import "sort"

// Item is one key-value pair of a snapshot.
type Item[V any] struct {
	Key   string
	Value V
}

// Range calls fn for every entry, one shard at a time, until fn returns false.
// Entries written concurrently in shards not yet visited may or may not be seen.
func (m *Map[V]) Range(fn func(key string, value V) bool) {
	for _, s := range m.shards {
		s.mu.RLock()
		for k, v := range s.items {
			if !fn(k, v) {
				s.mu.RUnlock()
				return
			}
		}
		s.mu.RUnlock()
	}
}

// Keys returns every key in ascending order.
func (m *Map[V]) Keys() []string {
	keys := make([]string, 0, m.Count())
	m.Range(func(k string, _ V) bool {
		keys = append(keys, k)
		return true
	})
	sort.Strings(keys)
	return keys
}

// Snapshot returns a point-in-time copy of the map sorted by key.
// All shards are read-locked together, so no concurrent write is half visible.
func (m *Map[V]) Snapshot() []Item[V] {
	m.rlockAll()
	n := 0
	for _, s := range m.shards {
		n += len(s.items)
	}
	items := make([]Item[V], 0, n)
	for _, s := range m.shards {
		for k, v := range s.items {
			items = append(items, Item[V]{Key: k, Value: v})
		}
	}
	m.runlockAll()

	sort.Slice(items, func(i, j int) bool { return items[i].Key < items[j].Key })
	return items
}

// Replace atomically swaps the whole contents of the map for items.
// Later duplicates of a key win.
func (m *Map[V]) Replace(items []Item[V]) {
	fresh := make([]map[string]V, len(m.shards))
	for i := range fresh {
		fresh[i] = make(map[string]V)
	}
	for _, it := range items {
		fresh[m.shardIndex(it.Key)][it.Key] = it.Value
	}

	m.lockAll()
	for i, s := range m.shards {
		s.items = fresh[i]
	}
	m.unlockAll()
}
