// Package shutdown coordinates process termination for colod.
//
// Handler waits for SIGINT/SIGTERM or for the replication session to end,
// then runs named cleanup hooks in reverse registration order under a
// timeout. SIGHUP runs reload callbacks without shutting down.
package shutdown
