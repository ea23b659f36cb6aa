// Package wire defines the protocol envelopes exchanged between client and
// server and the framing that carries them over a byte stream. Envelopes
// are CBOR-encoded with stable field names so either side can evolve its
// schema without breaking the other.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"

	"github.com/ccurzio/luminum/internal/fault"
)

// Protocol constants.
const (
	Version = "0.0.1"
	Product = "Luminum Client"

	ModuleEnrollment = "enrollment"

	ActionRegister = "register"

	StatusOK    = "OK"
	StatusError = "ERROR"

	// PlaceholderUID is sent by clients that have not yet been issued an
	// identifier.
	PlaceholderUID = "NONE"
)

// MaxFrameSize bounds a single frame body. Anything larger is treated as a
// protocol violation rather than an allocation request.
const MaxFrameSize = 1 << 20

// ClientMessage is the envelope for anything a client sends.
type ClientMessage struct {
	UID     string         `cbor:"uid"`
	Product string         `cbor:"product"`
	Version string         `cbor:"version"`
	Content MessageContent `cbor:"content"`
}

// ServerMessage is the envelope for anything the server sends.
type ServerMessage struct {
	Version string         `cbor:"version"`
	Content MessageContent `cbor:"content"`
}

// MessageContent is the nested payload common to both directions.
type MessageContent struct {
	Module string       `cbor:"module"`
	Status string       `cbor:"status"`
	Action string       `cbor:"action"`
	Data   *MessageData `cbor:"data,omitempty"`
}

// MessageData carries the action-dependent fields. All fields are optional
// and named; absent fields are omitted from the encoding.
type MessageData struct {
	ServerKey string `cbor:"serverkey,omitempty"`
	Hostname  string `cbor:"hostname,omitempty"`
	UID       string `cbor:"uid,omitempty"`
	OSPlat    string `cbor:"osplat,omitempty"`
	OSVer     string `cbor:"osver,omitempty"`
	IPv4      string `cbor:"ipv4,omitempty"`
	IPv6      string `cbor:"ipv6,omitempty"`
}

// WriteFrame serializes v and writes it as one length-prefixed frame with
// a single Write call.
func WriteFrame(w io.Writer, v interface{}) error {
	body, err := cbor.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode frame: %v: %w", err, fault.ErrProtocol)
	}
	if len(body) > MaxFrameSize {
		return fmt.Errorf("frame of %d bytes exceeds limit: %w", len(body), fault.ErrProtocol)
	}
	buf := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(buf, uint32(len(body)))
	copy(buf[4:], body)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write frame: %v: %w", err, fault.ErrIO)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame and decodes it into v.
// Transport errors (including io.EOF at a frame boundary) are returned
// unwrapped so callers can distinguish a closed peer from a garbled
// payload, which is reported as fault.ErrProtocol.
func ReadFrame(r io.Reader, v interface{}) error {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return err
	}
	size := binary.BigEndian.Uint32(hdr[:])
	if size == 0 || size > MaxFrameSize {
		return fmt.Errorf("frame size %d out of range: %w", size, fault.ErrProtocol)
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return err
	}
	if err := cbor.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode frame: %v: %w", err, fault.ErrProtocol)
	}
	return nil
}
