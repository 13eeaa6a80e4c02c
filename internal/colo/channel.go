package colo

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/yndnr/colo-go/internal/core/domain"
)

// channelBufferSize is the size of the buffered reader and writer.
const channelBufferSize = 64 * 1024

// Channel encodes protocol values on a duplex byte stream.
//
// Every value is an 8-byte big-endian unsigned integer. Each direction must be
// driven by a single goroutine; Close may be called from any goroutine and
// unblocks pending reads and writes.
type Channel struct {
	conn io.ReadWriteCloser
	r    *bufio.Reader
	w    *bufio.Writer

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error

	// Bytes moved in each direction, including framing.
	sent     atomic.Uint64
	received atomic.Uint64
}

// NewChannel wraps conn.
func NewChannel(conn io.ReadWriteCloser) *Channel {
	return &Channel{
		conn: conn,
		r:    bufio.NewReaderSize(conn, channelBufferSize),
		w:    bufio.NewWriterSize(conn, channelBufferSize),
	}
}

// Put writes one value and flushes.
func (c *Channel) Put(v uint64) error {
	if err := c.write(v); err != nil {
		return err
	}
	return c.flush()
}

// PutOpcode writes one opcode and flushes.
func (c *Channel) PutOpcode(op domain.Opcode) error {
	if err := c.Put(uint64(op)); err != nil {
		return fmt.Errorf("put %s: %w", op, err)
	}
	return nil
}

// Get reads one value.
func (c *Channel) Get() (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(c.r, b[:]); err != nil {
		return 0, c.ioError(err)
	}
	c.received.Add(8)
	return binary.BigEndian.Uint64(b[:]), nil
}

// Expect reads one value and requires it to equal op.
//
// Any other value returns domain.ErrProtocolViolation: the stream is either
// corrupted or the peer is out of step, and nothing read afterwards can be
// trusted.
func (c *Channel) Expect(op domain.Opcode) error {
	v, err := c.Get()
	if err != nil {
		return fmt.Errorf("await %s: %w", op, err)
	}
	if domain.Opcode(v) != op {
		return domain.ErrProtocolViolation.WithDetails(
			fmt.Sprintf("expected %s, received %s", op, domain.Opcode(v)))
	}
	return nil
}

// GetAny reads one opcode for dispatch by the caller.
func (c *Channel) GetAny() (domain.Opcode, error) {
	v, err := c.Get()
	if err != nil {
		return 0, fmt.Errorf("await command: %w", err)
	}
	return domain.Opcode(v), nil
}

// SendPayload writes SEND, the payload length and the payload bytes, then
// flushes.
func (c *Channel) SendPayload(p []byte) error {
	if err := c.write(uint64(domain.OpSend)); err != nil {
		return fmt.Errorf("put SEND: %w", err)
	}
	if err := c.write(uint64(len(p))); err != nil {
		return fmt.Errorf("put payload length: %w", err)
	}
	if _, err := c.w.Write(p); err != nil {
		return fmt.Errorf("put payload: %w", c.ioError(err))
	}
	c.sent.Add(uint64(len(p)))
	if err := c.flush(); err != nil {
		return fmt.Errorf("put payload: %w", err)
	}
	return nil
}

// ReceivePayload reads the payload length that follows SEND and fills buf
// with exactly that many bytes.
//
// It returns the declared length. A short read returns
// domain.ErrBufferOverrun.
func (c *Channel) ReceivePayload(buf *Buffer) (uint64, error) {
	n, err := c.Get()
	if err != nil {
		return 0, fmt.Errorf("await payload length: %w", err)
	}
	got, err := buf.Fill(c.r, n)
	c.received.Add(got)
	if err != nil {
		return n, err
	}
	return n, nil
}

// Close closes the underlying stream. Subsequent operations fail with
// domain.ErrSessionClosed.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// Stats returns the number of bytes sent and received.
func (c *Channel) Stats() (sent, received uint64) {
	return c.sent.Load(), c.received.Load()
}

func (c *Channel) write(v uint64) error {
	if c.closed.Load() {
		return domain.ErrSessionClosed
	}
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	if _, err := c.w.Write(b[:]); err != nil {
		return c.ioError(err)
	}
	c.sent.Add(8)
	return nil
}

func (c *Channel) flush() error {
	if c.closed.Load() {
		return domain.ErrSessionClosed
	}
	if err := c.w.Flush(); err != nil {
		return c.ioError(err)
	}
	return nil
}

// ioError maps a stream error to the domain taxonomy.
func (c *Channel) ioError(err error) error {
	if c.closed.Load() {
		return domain.ErrSessionClosed.WithCause(err)
	}
	var de *domain.DomainError
	if errors.As(err, &de) {
		return err
	}
	return domain.ErrChannel.WithCause(err)
}
