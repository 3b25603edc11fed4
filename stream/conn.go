package stream

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Dialer opens the raw connection. The default dials TLS to the configured
// endpoint; tests substitute a net.Pipe.
type Dialer func(ctx context.Context) (net.Conn, error)

func tlsDialer(endpoint string, timeout time.Duration) Dialer {
	return func(ctx context.Context) (net.Conn, error) {
		d := &tls.Dialer{NetDialer: &net.Dialer{Timeout: timeout}}
		conn, err := d.DialContext(ctx, "tcp", endpoint)
		if err != nil {
			return nil, fmt.Errorf("stream: dial %s: %w", endpoint, err)
		}
		return conn, nil
	}
}

const writeTimeout = 5 * time.Second

// transport frames one live socket: newline-delimited reads through a sized
// scanner buffer, writes serialized behind a mutex and a rate limiter so
// control traffic cannot flood the server.
type transport struct {
	conn    net.Conn
	scanner *bufio.Scanner
	limiter *rate.Limiter

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func newTransport(conn net.Conn, readBufferBytes int, limiter *rate.Limiter) *transport {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), readBufferBytes)
	return &transport{conn: conn, scanner: scanner, limiter: limiter}
}

// ReadLine returns the next line without the trailing newline. The returned
// slice is only valid until the next call.
func (t *transport) ReadLine() ([]byte, error) {
	if !t.scanner.Scan() {
		if err := t.scanner.Err(); err != nil {
			return nil, err
		}
		return nil, net.ErrClosed
	}
	return t.scanner.Bytes(), nil
}

// WriteLine sends one control line, appending the newline frame.
func (t *transport) WriteLine(ctx context.Context, line []byte) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := t.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	if _, err := t.conn.Write(line); err != nil {
		return err
	}
	_, err := t.conn.Write([]byte{'\n'})
	return err
}

// Close shuts the socket down, unblocking any pending read.
func (t *transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		err = t.conn.Close()
	})
	return err
}
