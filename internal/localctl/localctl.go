// Package localctl is the client's loopback control surface: a minimal
// listener for co-located processes. Each connection is handled on its own
// goroutine, reads at most one buffer of input, and is then parked in a
// registry for later reuse. The protocol itself is deliberately undefined
// at this stage.
package localctl

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/ccurzio/luminum/internal/logging"
)

const readBuffer = 1024

// Listener accepts loopback connections from local processes.
type Listener struct {
	ln  net.Listener
	log *logging.Logger

	mu    sync.Mutex
	conns map[string]net.Conn
}

// Listen binds the loopback control address. Non-loopback addresses are
// refused outright.
func Listen(addr string, log *logging.Logger) (*Listener, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid control address %q: %w", addr, err)
	}
	if ip := net.ParseIP(host); ip == nil || !ip.IsLoopback() {
		return nil, fmt.Errorf("control address %q is not loopback", addr)
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Listener{
		ln:    ln,
		log:   log,
		conns: make(map[string]net.Conn),
	}, nil
}

// Addr returns the bound address.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Serve accepts connections until ctx is done.
func (l *Listener) Serve(ctx context.Context) error {
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
			l.log.Printf("Local control accept: %v", err)
			continue
		}
		go l.handle(conn)
	}
}

func (l *Listener) handle(conn net.Conn) {
	peer := conn.RemoteAddr().String()

	buf := make([]byte, readBuffer)
	n, err := conn.Read(buf)
	if err != nil {
		l.log.Debugf("Local control read from %s: %v", peer, err)
		conn.Close()
		return
	}
	l.log.Debugf("Local control message from %s: %q", peer, strings.TrimSpace(string(buf[:n])))

	// Keep the handle around for other parts of the client to reuse.
	l.mu.Lock()
	if old, ok := l.conns[peer]; ok {
		old.Close()
	}
	l.conns[peer] = conn
	l.mu.Unlock()
}

// Conn returns the stored connection for peer, if any.
func (l *Listener) Conn(peer string) (net.Conn, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.conns[peer]
	return c, ok
}

// Close shuts the listener and all retained connections down.
func (l *Listener) Close() error {
	err := l.ln.Close()
	l.mu.Lock()
	for _, c := range l.conns {
		c.Close()
	}
	l.conns = make(map[string]net.Conn)
	l.mu.Unlock()
	return err
}
