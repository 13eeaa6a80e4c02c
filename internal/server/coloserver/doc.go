// Package coloserver runs one node of a replicated pair.
//
// A Server owns everything the checkpoint engines need: the control channel
// transport, the workload and its backing disks, the network configurator
// behind the consistency oracle, the heartbeat monitor, the session ledger
// and the HTTP API. The secondary listens for the primary's control channel;
// the primary dials it. Each process runs at most one session. Once the
// session ends the node keeps serving as a standalone instance until it is
// shut down.
package coloserver
