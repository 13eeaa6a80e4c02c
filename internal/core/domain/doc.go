// Package domain defines the core domain types for colo.
//
// This package contains the vocabulary shared by every replication component:
//
//   - Role: which side of the pairing this process is
//   - Opcode: the control channel sync values
//   - SessionState: session lifecycle
//   - DomainError: the error taxonomy, matched with errors.Is
//
// The package has no dependencies on other internal packages.
package domain
