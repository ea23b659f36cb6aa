package enroll

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/google/uuid"

	"github.com/ccurzio/luminum/internal/fault"
	"github.com/ccurzio/luminum/internal/logging"
	"github.com/ccurzio/luminum/internal/registry"
	"github.com/ccurzio/luminum/internal/wire"
)

// protocolErrorLimit is how many malformed frames in a row a connection
// may produce before it is dropped. A single garbled payload is skipped,
// but a desynchronized length prefix never recovers and would otherwise
// flood the log indefinitely.
const protocolErrorLimit = 5

// Server answers enrollment requests on behalf of one tenant. The tenant's
// enrollment key is the single shared secret all of its clients present;
// per-client revocation is intentionally absent from this trust model.
type Server struct {
	reg       *registry.Registry
	enrollKey string
	log       *logging.Logger
}

// NewServer builds the server-side protocol handler.
func NewServer(reg *registry.Registry, enrollKey string, log *logging.Logger) *Server {
	return &Server{reg: reg, enrollKey: enrollKey, log: log}
}

// Handle serves one client connection until the peer goes away or ctx is
// done. Malformed frames are logged and skipped, though a run of them
// drops the connection; transport errors end the loop.
func (s *Server) Handle(ctx context.Context, conn net.Conn) {
	peer := conn.RemoteAddr().String()
	s.log.Debugf("Client connected from %s", peer)

	protoErrs := 0
	for {
		if ctx.Err() != nil {
			return
		}

		var msg wire.ClientMessage
		err := wire.ReadFrame(conn, &msg)
		if err != nil {
			if errors.Is(err, fault.ErrProtocol) {
				protoErrs++
				if protoErrs >= protocolErrorLimit {
					s.log.Printf("Dropping %s after %d consecutive malformed messages", peer, protoErrs)
					return
				}
				s.log.Printf("Malformed message from %s: %v", peer, err)
				continue
			}
			if !errors.Is(err, io.EOF) {
				s.log.Debugf("Connection from %s ended: %v", peer, err)
			}
			return
		}
		protoErrs = 0

		reply := s.dispatch(&msg, peer)
		if reply == nil {
			continue
		}
		if err := wire.WriteFrame(conn, reply); err != nil {
			s.log.Printf("Reply to %s failed: %v", peer, err)
			return
		}
	}
}

func (s *Server) dispatch(msg *wire.ClientMessage, peer string) *wire.ServerMessage {
	switch {
	case msg.Content.Module == wire.ModuleEnrollment && msg.Content.Action == wire.ActionRegister:
		return s.register(msg, peer)
	default:
		s.log.Printf("Unexpected message from %s (module=%q action=%q)", peer, msg.Content.Module, msg.Content.Action)
		return reject(msg.Content.Module, msg.Content.Action)
	}
}

// register validates the enrollment key and issues a UID. Replays from an
// already-enrolled hostname deterministically return the existing UID; a
// second identifier is never issued for the same endpoint.
func (s *Server) register(msg *wire.ClientMessage, peer string) *wire.ServerMessage {
	data := msg.Content.Data
	if data == nil || data.Hostname == "" {
		s.log.Printf("Registration from %s missing payload", peer)
		return reject(wire.ModuleEnrollment, wire.ActionRegister)
	}

	if data.ServerKey != s.enrollKey {
		s.log.Printf("Registration from %s (%s) rejected: enrollment key mismatch (supplied %s)",
			peer, data.Hostname, logging.Mask(data.ServerKey))
		return reject(wire.ModuleEnrollment, wire.ActionRegister)
	}

	existing, err := s.reg.ByHostname(data.Hostname)
	if err != nil {
		s.log.Printf("Registration lookup for %s failed: %v", data.Hostname, err)
		return reject(wire.ModuleEnrollment, wire.ActionRegister)
	}
	if existing != nil {
		s.log.Debugf("Replayed registration from %s; returning existing UID %s", data.Hostname, existing.UID)
		if err := s.reg.Touch(existing.UID); err != nil {
			s.log.Debugf("Touch %s: %v", existing.UID, err)
		}
		return accept(existing.UID)
	}

	uid, err := s.allocateUID()
	if err != nil {
		s.log.Printf("UID allocation for %s failed: %v", data.Hostname, err)
		return reject(wire.ModuleEnrollment, wire.ActionRegister)
	}

	rec := &registry.Client{
		UID:      uid,
		Hostname: data.Hostname,
		OSPlat:   data.OSPlat,
		OSVer:    data.OSVer,
		IPv4:     data.IPv4,
		IPv6:     data.IPv6,
	}
	if err := s.reg.Create(rec); err != nil {
		// Fatal to this request only; the listener keeps serving.
		s.log.Printf("Persisting registration for %s failed: %v", data.Hostname, err)
		return reject(wire.ModuleEnrollment, wire.ActionRegister)
	}

	s.log.Printf("Registered client %s (%s) as %s", data.Hostname, peer, uid)
	return accept(uid)
}

// allocateUID draws random identifiers until one is unused. UUIDs make a
// collision vanishingly unlikely, but the registry check keeps the
// uniqueness guarantee unconditional.
func (s *Server) allocateUID() (string, error) {
	for attempt := 0; attempt < 5; attempt++ {
		uid := uuid.NewString()
		existing, err := s.reg.ByUID(uid)
		if err != nil {
			return "", err
		}
		if existing == nil {
			return uid, nil
		}
	}
	return "", fmt.Errorf("could not allocate a unique UID")
}

func accept(uid string) *wire.ServerMessage {
	return &wire.ServerMessage{
		Version: wire.Version,
		Content: wire.MessageContent{
			Module: wire.ModuleEnrollment,
			Status: wire.StatusOK,
			Action: wire.ActionRegister,
			Data:   &wire.MessageData{UID: uid},
		},
	}
}

func reject(module, action string) *wire.ServerMessage {
	return &wire.ServerMessage{
		Version: wire.Version,
		Content: wire.MessageContent{
			Module: module,
			Status: wire.StatusError,
			Action: action,
		},
	}
}
