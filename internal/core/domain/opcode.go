package domain

import "fmt"

// Opcode is a sync value exchanged on the control channel. Every opcode is
// encoded as a big-endian uint64.
type Opcode uint64

// Checkpoint synchronizing points:
//
//	             Primary               Secondary
//	NEW          @
//	                                   Suspend
//	SUSPENDED                          @
//	             Suspend & save state
//	SEND         @
//	             Send state            Receive state
//	RECEIVED                           @
//	             Flush network         Load state
//	LOADED                             @
//	             Resume                Resume
//
// '@' marks the sender. Each sync point is a single-direction handshake, so
// the remote side may already be further ahead when this side observes it.
const (
	OpReady Opcode = 0x46 + iota
	OpNew
	OpSuspended
	OpSend
	OpReceived
	OpLoaded
	OpGuestShutdown
)

// String returns the protocol name of the opcode.
func (o Opcode) String() string {
	switch o {
	case OpReady:
		return "READY"
	case OpNew:
		return "NEW"
	case OpSuspended:
		return "SUSPENDED"
	case OpSend:
		return "SEND"
	case OpReceived:
		return "RECEIVED"
	case OpLoaded:
		return "LOADED"
	case OpGuestShutdown:
		return "GUEST_SHUTDOWN"
	default:
		return fmt.Sprintf("0x%x", uint64(o))
	}
}

// Known reports whether o is part of the protocol enumeration.
func (o Opcode) Known() bool {
	return o >= OpReady && o <= OpGuestShutdown
}
