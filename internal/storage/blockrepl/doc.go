// Package blockrepl replicates writable backing stores alongside workload
// checkpoints.
//
// A Replicator applies start, checkpoint and stop uniformly across a set of
// disks and skips read-only ones. BadgerDisk is a Badger-backed disk:
//
//   - On the secondary, writes made between checkpoints land in an overlay.
//     Each checkpoint discards the overlay, since the applied snapshot
//     supersedes it. Stopping replication (failover) merges the overlay into
//     the base so the promoted side keeps its own writes.
//   - On the primary, each checkpoint syncs the store to disk.
package blockrepl
