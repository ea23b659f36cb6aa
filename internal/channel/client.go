package channel

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/ccurzio/luminum/internal/fault"
	"github.com/ccurzio/luminum/internal/logging"
	"github.com/ccurzio/luminum/internal/wire"
)

// RetryInterval is the fixed delay between connection attempts. A fixed
// interval is a deliberate simplification; a production deployment would
// want capped exponential backoff with jitter. A variable so tests can
// shorten the wait.
var RetryInterval = 30 * time.Second

// sendBuffer bounds the outbound queue before Send blocks.
const sendBuffer = 16

// Conn is the client's channel to the server. One goroutine owns the read
// half and one owns the write half; callers interact only through Send and
// Recv, so no lock guards the stream itself.
type Conn struct {
	conn net.Conn
	log  *logging.Logger

	inbound  chan wire.ServerMessage
	outbound chan wire.ClientMessage
	done     chan struct{}
	closer   sync.Once
}

// Dial connects to addr, verifying the server against the pinned trust
// anchor. It retries on a fixed interval until the connection succeeds or
// ctx is cancelled. serverName must match the anchor certificate's subject
// common name.
func Dial(ctx context.Context, addr string, anchor *x509.CertPool, serverName string, log *logging.Logger) (*Conn, error) {
	cfg := &tls.Config{
		RootCAs:    anchor,
		ServerName: serverName,
		MinVersion: tls.VersionTLS12,
	}

	for {
		dialer := &tls.Dialer{Config: cfg}
		raw, err := dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			c := newConn(raw, log)
			log.Printf("Connected to server at %s", addr)
			return c, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		log.Printf("Connection to %s failed (%v); retrying in %s", addr, err, RetryInterval)
		select {
		case <-time.After(RetryInterval):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func newConn(raw net.Conn, log *logging.Logger) *Conn {
	c := &Conn{
		conn:     raw,
		log:      log,
		inbound:  make(chan wire.ServerMessage, 1),
		outbound: make(chan wire.ClientMessage, sendBuffer),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	go c.writeLoop()
	return c
}

// readLoop is the sole reader of the stream. Garbled frames are logged and
// skipped; transport errors end the connection.
func (c *Conn) readLoop() {
	defer close(c.inbound)
	for {
		var msg wire.ServerMessage
		err := wire.ReadFrame(c.conn, &msg)
		if err == nil {
			select {
			case c.inbound <- msg:
			case <-c.done:
				return
			}
			continue
		}
		if errors.Is(err, fault.ErrProtocol) {
			c.log.Printf("Discarding malformed frame from server: %v", err)
			continue
		}
		// Transport error or EOF: the channel is gone.
		c.Close()
		return
	}
}

// writeLoop is the sole writer of the stream.
func (c *Conn) writeLoop() {
	for {
		select {
		case msg := <-c.outbound:
			if err := wire.WriteFrame(c.conn, &msg); err != nil {
				c.log.Printf("Write to server failed: %v", err)
				c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

// Send queues a message for transmission.
func (c *Conn) Send(msg wire.ClientMessage) error {
	select {
	case c.outbound <- msg:
		return nil
	case <-c.done:
		return fmt.Errorf("channel closed: %w", fault.ErrIO)
	}
}

// Recv returns the inbound message stream. The channel is closed when the
// connection ends.
func (c *Conn) Recv() <-chan wire.ServerMessage {
	return c.inbound
}

// LocalAddr returns the local socket address of the TLS connection.
func (c *Conn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// Done is closed when the connection has ended.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Close tears the connection down. Safe to call more than once.
func (c *Conn) Close() error {
	var err error
	c.closer.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}
