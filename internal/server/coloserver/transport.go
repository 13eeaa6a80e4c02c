package coloserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// acceptOne listens on addr and returns the first connection. bound is
// called with the listening address before Accept blocks. Cancelling ctx
// closes the listener.
func acceptOne(ctx context.Context, addr string, bound func(net.Addr)) (net.Conn, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	defer ln.Close()

	if bound != nil {
		bound(ln.Addr())
	}

	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	conn, err := ln.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, net.ErrClosed) {
			return nil, fmt.Errorf("listener closed: %w", err)
		}
		return nil, fmt.Errorf("accept: %w", err)
	}
	tune(conn)
	return conn, nil
}

// dial connects to the secondary at addr.
func dial(ctx context.Context, addr string, timeout time.Duration) (net.Conn, error) {
	d := net.Dialer{Timeout: timeout, KeepAlive: 15 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	tune(conn)
	return conn, nil
}

// tune disables Nagle's algorithm and enables keepalives on TCP connections.
func tune(conn net.Conn) {
	if tc, ok := conn.(*net.TCPConn); ok {
		tc.SetNoDelay(true)
		tc.SetKeepAlive(true)
	}
}
