// Package colo implements checkpoint-based continuous replication between a
// primary and a secondary workload.
//
// The package is organised around one Session per primary/secondary pairing:
//
//   - buffer.go: Buffer, scratch space for one snapshot
//   - channel.go: Channel, the big-endian opcode codec on the control stream
//   - session.go: Session, shared state, failover flags and the execution lock
//   - failover.go: Coordinator, the failover state machine
//   - primary.go: Primary, the checkpoint transaction loop
//   - secondary.go: Secondary, the checkpoint receive loop
//   - task.go: Task, a cancellable handle on a running engine
//
// Workload execution control, snapshot encoding, storage replication and
// network divergence detection are collaborators supplied by the caller
// (see collaborators.go).
package colo
