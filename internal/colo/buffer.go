package colo

import (
	"bytes"
	"fmt"
	"io"
	"math"

	"github.com/yndnr/colo-go/internal/core/domain"
)

// DefaultBufferSize is the initial capacity of a checkpoint buffer.
const DefaultBufferSize = 4 * 1024 * 1024

// DefaultMaxPayloadSize is the largest payload Fill accepts unless SetLimit
// says otherwise.
const DefaultMaxPayloadSize = 1 << 30

// Buffer stages one snapshot between capture and transmit on the primary, and
// between receive and apply on the secondary.
//
// Buffer does no locking. Only the engine running the current transaction
// touches it, and it is reset at the start of every transaction.
type Buffer struct {
	data  []byte
	limit uint64
}

// NewBuffer creates a buffer with the given initial capacity.
// A non-positive capacity selects DefaultBufferSize.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultBufferSize
	}
	return &Buffer{data: make([]byte, 0, capacity), limit: DefaultMaxPayloadSize}
}

// SetLimit sets the largest declared length Fill accepts. Zero selects
// DefaultMaxPayloadSize.
func (b *Buffer) SetLimit(n uint64) {
	if n == 0 {
		n = DefaultMaxPayloadSize
	}
	b.limit = n
}

// Reset sets the length to zero, keeping the allocated capacity.
func (b *Buffer) Reset() {
	b.data = b.data[:0]
}

// Len returns the number of staged bytes.
func (b *Buffer) Len() int {
	return len(b.data)
}

// Cap returns the current capacity.
func (b *Buffer) Cap() int {
	return cap(b.data)
}

// Bytes returns the staged bytes. The slice is valid until the next Reset,
// Write or Fill.
func (b *Buffer) Bytes() []byte {
	return b.data
}

// Write appends p, growing the buffer as needed. It never fails.
func (b *Buffer) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)
	return len(p), nil
}

// Reader returns a reader over the staged bytes.
func (b *Buffer) Reader() io.Reader {
	return bytes.NewReader(b.data)
}

// Fill resets the buffer and reads exactly n bytes from r.
//
// It returns the number of bytes actually read. A short read returns
// domain.ErrBufferOverrun wrapping the underlying I/O error. A declared
// length over the limit returns domain.ErrBufferOverrun without reading.
// The buffer grows only as bytes arrive.
func (b *Buffer) Fill(r io.Reader, n uint64) (uint64, error) {
	b.Reset()
	if n > b.limit || n > math.MaxInt64 {
		return 0, domain.ErrBufferOverrun.
			WithDetails(fmt.Sprintf("declared %d bytes, limit %d", n, b.limit))
	}

	got, err := io.CopyN(b, r, int64(n))
	if err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return uint64(got), domain.ErrBufferOverrun.
			WithDetails(fmt.Sprintf("declared %d bytes, received %d", n, got)).
			WithCause(err)
	}
	return uint64(got), nil
}
