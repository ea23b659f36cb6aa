// Package enroll implements the register-once handshake: the client-side
// state machine that requests an identity, and the server-side mirror that
// validates the enrollment key and issues UIDs.
package enroll

import (
	"context"
	"fmt"
	"net"

	"github.com/ccurzio/luminum/internal/channel"
	"github.com/ccurzio/luminum/internal/fault"
	"github.com/ccurzio/luminum/internal/logging"
	"github.com/ccurzio/luminum/internal/store"
	"github.com/ccurzio/luminum/internal/sysinfo"
	"github.com/ccurzio/luminum/internal/wire"
)

// State is the client's enrollment progress. Registered is terminal.
type State int

const (
	Unregistered State = iota
	AwaitingServerAck
	Registered
)

func (s State) String() string {
	switch s {
	case Unregistered:
		return "unregistered"
	case AwaitingServerAck:
		return "awaiting-server-ack"
	case Registered:
		return "registered"
	default:
		return "invalid"
	}
}

// Client drives enrollment for one endpoint. The assigned UID is persisted
// to the configuration store before the state machine considers the
// transition complete, so a crash in between replays the registration
// safely on the next start.
type Client struct {
	st    *store.Store
	log   *logging.Logger
	state State
	uid   string
}

// NewClient builds the state machine, recovering a previously persisted
// UID if one exists. A client holding a UID is Registered and never sends
// another registration request.
func NewClient(st *store.Store, log *logging.Logger) (*Client, error) {
	c := &Client{st: st, log: log, state: Unregistered}
	uid, ok, err := st.Lookup(store.KeyUID)
	if err != nil {
		return nil, err
	}
	if ok && uid != "" {
		c.uid = uid
		c.state = Registered
	}
	return c, nil
}

// State returns the current enrollment state.
func (c *Client) State() State { return c.state }

// UID returns the assigned identifier, empty until Registered.
func (c *Client) UID() string { return c.uid }

// Run performs enrollment over conn. If the client is already Registered
// it returns immediately without sending anything. A server rejection is a
// fault.ErrAuth and leaves the client Unregistered.
func (c *Client) Run(ctx context.Context, conn *channel.Conn, enrollKey string) error {
	if c.state == Registered {
		c.log.Debugf("Already registered as %s; skipping enrollment", c.uid)
		return nil
	}

	host, _, err := net.SplitHostPort(conn.LocalAddr().String())
	if err != nil {
		host = ""
	}
	ipv4, ipv6 := wire.ClassifyAddr(host)

	req := wire.ClientMessage{
		UID:     wire.PlaceholderUID,
		Product: wire.Product,
		Version: wire.Version,
		Content: wire.MessageContent{
			Module: wire.ModuleEnrollment,
			Action: wire.ActionRegister,
			Data: &wire.MessageData{
				ServerKey: enrollKey,
				Hostname:  sysinfo.Hostname(),
				UID:       wire.PlaceholderUID,
				OSPlat:    sysinfo.Platform(),
				OSVer:     sysinfo.Version(),
				IPv4:      ipv4,
				IPv6:      ipv6,
			},
		},
	}

	if err := conn.Send(req); err != nil {
		return fmt.Errorf("send registration: %w", err)
	}
	c.state = AwaitingServerAck
	c.log.Debugf("Registration sent; awaiting server acknowledgement")

	for {
		select {
		case reply, ok := <-conn.Recv():
			if !ok {
				// Connection lost before the acknowledgement arrived.
				// Enrollment replays on the next connection.
				c.state = Unregistered
				return fmt.Errorf("channel closed awaiting registration reply: %w", fault.ErrIO)
			}
			if reply.Content.Module != wire.ModuleEnrollment || reply.Content.Action != wire.ActionRegister {
				c.log.Debugf("Ignoring unrelated message (module=%s action=%s)", reply.Content.Module, reply.Content.Action)
				continue
			}
			if reply.Content.Status != wire.StatusOK || reply.Content.Data == nil || reply.Content.Data.UID == "" {
				c.state = Unregistered
				return fmt.Errorf("registration rejected by server: %w", fault.ErrAuth)
			}

			// Persist first; the transition only counts once the UID is
			// durable.
			if err := c.st.Set(store.KeyUID, reply.Content.Data.UID); err != nil {
				c.state = Unregistered
				return fmt.Errorf("persist UID: %w", err)
			}
			c.uid = reply.Content.Data.UID
			c.state = Registered
			c.log.Printf("Registered with UID %s", c.uid)
			return nil

		case <-ctx.Done():
			c.state = Unregistered
			return ctx.Err()
		}
	}
}
