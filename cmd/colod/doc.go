// Package main provides the entry point for colod.
//
// colod runs one side of a checkpoint-replicated pair. The secondary waits
// for the primary's control channel; the primary connects, then checkpoints
// its workload to the secondary until one side fails over or the primary
// shuts down.
//
// Usage:
//
//	colod --config /etc/colod/colod.yaml
//	colod --config colod.yaml --role secondary
//	colod check --config colod.yaml
//	colod version
package main
