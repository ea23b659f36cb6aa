// Package channel establishes the mutually-trusted TLS session between
// client and server and moves wire frames across it. The server side wraps
// a TLS listener; the client side dials with a pinned trust anchor and
// owns its stream through dedicated read and write goroutines.
package channel

import (
	"context"
	"crypto/tls"
	"errors"
	"net"

	"github.com/ccurzio/luminum/internal/logging"
)

// Handler processes one accepted client connection. It runs on its own
// goroutine; returning ends the connection.
type Handler func(ctx context.Context, conn net.Conn)

// Listener accepts TLS connections using the server's identity bundle.
type Listener struct {
	ln  net.Listener
	log *logging.Logger
}

// Listen binds addr with the given TLS identity.
func Listen(addr string, identity tls.Certificate, log *logging.Logger) (*Listener, error) {
	cfg := &tls.Config{
		Certificates: []tls.Certificate{identity},
		MinVersion:   tls.VersionTLS12,
	}
	ln, err := tls.Listen("tcp", addr, cfg)
	if err != nil {
		return nil, err
	}
	return &Listener{ln: ln, log: log}, nil
}

// Addr returns the bound address.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Serve accepts connections until ctx is done, spawning one goroutine per
// client. A failed TLS handshake drops that connection only; the listener
// keeps running.
func (l *Listener) Serve(ctx context.Context, handle Handler) error {
	go func() {
		<-ctx.Done()
		l.ln.Close()
	}()

	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			l.log.Printf("accept: %v", err)
			continue
		}

		go func(conn net.Conn) {
			defer conn.Close()
			tlsConn, ok := conn.(*tls.Conn)
			if ok {
				if err := tlsConn.HandshakeContext(ctx); err != nil {
					l.log.Printf("TLS handshake with %s failed: %v", conn.RemoteAddr(), err)
					return
				}
			}
			handle(ctx, conn)
		}(conn)
	}
}

// Close shuts the listener down. In-flight connections are not aborted;
// they end with the process.
func (l *Listener) Close() error {
	return l.ln.Close()
}
