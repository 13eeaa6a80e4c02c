// Package memkv is an in-memory key-value workload that can be protected by
// checkpoint replication.
//
// A Store implements execution control (writes block while it is stopped),
// whole-state snapshots encoded with msgpack, and an optional write-through
// backing store so its contents survive restarts. Snapshots can be sealed
// with a shared key. On the secondary, the snapshot staging cache is
// prepared before replication starts.
package memkv
