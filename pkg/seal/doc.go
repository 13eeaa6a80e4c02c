// Package seal provides authenticated encryption for opaque payloads.
//
// A Sealer holds one 32-byte key and two AEADs built from it:
//
//   - AES-256-GCM, preferred where the CPU has AES instructions
//   - ChaCha20-Poly1305 everywhere else
//
// Every sealed payload starts with a one-byte algorithm tag followed by the
// nonce, so two hosts that prefer different algorithms can still open each
// other's payloads as long as they share the key.
//
// Usage:
//
//	s, err := seal.New(key)
//	sealed, err := s.Seal(plaintext, aad)
//	plaintext, err := s.Open(sealed, aad)
package seal
