// Package node implements the shared connection state machine: the
// command dispatch table, the cleartext SHAKE handshake, and the
// receive-dispatch loop every connection (initiator or responder) runs.
package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/nyx-proto/shakeline/internal/identity"
	"github.com/nyx-proto/shakeline/internal/keyhandler"
	"github.com/nyx-proto/shakeline/internal/logging"
	"github.com/nyx-proto/shakeline/internal/wire"
)

// Terminate is returned by a HandlerFunc to signal the dispatch loop
// should exit cleanly (not an error condition by itself).
var Terminate = errors.New("node: terminate")

// ErrAlreadySet is returned by SetName/SetID on any call after the first.
var ErrAlreadySet = errors.New("node: value already set")

// HandlerFunc processes one dispatched Datagram. Returning Terminate ends
// the dispatch loop cleanly; any other non-nil error is treated as a
// fatal state error (spec.md §7: write-once re-assignment and other
// protocol violations are "fatal to the connection") and also ends the
// loop, after sending ERR(DISCONNECT). Only a nil return continues.
type HandlerFunc func(ctx context.Context, n *Node, dg *wire.Datagram) error

// Node is the abstract endpoint shared by the initiator and responder
// roles: it owns a Framer and a KeyHandler, drives the handshake, and
// runs the receive-dispatch loop.
type Node struct {
	framer *wire.Framer
	kh     *keyhandler.KeyHandler
	logger *slog.Logger

	handlers map[int8]HandlerFunc

	name    string
	nameSet bool

	id    identity.Identity
	idSet bool

	loginComplete bool
	lastErr       error
}

// New constructs a Node over framer/kh. The SHAKE handler is registered
// automatically; callers register LOGIN (and any other command) per
// their role. A nil logger defaults to logging.NopLogger().
func New(framer *wire.Framer, kh *keyhandler.KeyHandler, logger *slog.Logger) *Node {
	if logger == nil {
		logger = logging.NopLogger()
	}
	n := &Node{
		framer:   framer,
		kh:       kh,
		logger:   logger,
		handlers: make(map[int8]HandlerFunc),
	}
	n.Handle(wire.CmdShake, n.HandleHandshake)
	n.Handle(wire.CmdErr, n.HandleError)
	return n
}

// Handle installs fn as the handler for command.
func (n *Node) Handle(command int8, fn HandlerFunc) {
	n.handlers[command] = fn
}

// KeyHandler returns the Node's cipher state.
func (n *Node) KeyHandler() *keyhandler.KeyHandler {
	return n.kh
}

// Send writes dg through the Framer.
func (n *Node) Send(dg *wire.Datagram) error {
	return n.framer.Send(dg)
}

// Recv reads one Datagram directly from the Framer, bypassing the
// dispatch table. The login handlers use this for the RESP rounds that
// have no entry in the command table; Start uses it for the main loop.
func (n *Node) Recv() (*wire.Datagram, bool) {
	return n.framer.Recv()
}

// SetName installs the connection's peer name exactly once.
func (n *Node) SetName(name string) error {
	if n.nameSet {
		return ErrAlreadySet
	}
	n.name = name
	n.nameSet = true
	return nil
}

// Name returns the installed name, or "" if unset.
func (n *Node) Name() string {
	return n.name
}

// SetID installs the connection's assigned identity exactly once.
func (n *Node) SetID(id identity.Identity) error {
	if n.idSet {
		return ErrAlreadySet
	}
	n.id = id
	n.idSet = true
	return nil
}

// ID returns the installed identity, or the zero Identity if unset.
func (n *Node) ID() identity.Identity {
	return n.id
}

// MarkLoginComplete records that the login state machine reached
// VERIFIED. Until this is called, receiving ERR terminates the
// connection.
func (n *Node) MarkLoginComplete() {
	n.loginComplete = true
}

// LoginComplete reports whether MarkLoginComplete has been called.
func (n *Node) LoginComplete() bool {
	return n.loginComplete
}

// LastError returns the most recent framing or I/O failure observed by
// this Node's Framer, if any. This is the structured, out-of-band cause
// behind an otherwise silent dispatch-loop exit.
func (n *Node) LastError() error {
	return n.lastErr
}

// SendShake sends the cleartext SHAKE datagram — before any cipher is
// installed, the KeyHandler's Encrypt is a no-op. Callers that need to
// drive the login exchange inline (ClientBase) call this directly
// instead of Start, then hand off to Run once login completes.
func (n *Node) SendShake() error {
	n.framer.OnFrameError(func(err error) { n.lastErr = err })

	shake := wire.NewDatagram(wire.CmdShake, n.kh.PublicKey().Text(10))
	if err := n.Send(shake); err != nil {
		return fmt.Errorf("node: send SHAKE: %w", err)
	}
	return nil
}

// Start sends the cleartext SHAKE datagram, then runs the
// receive-dispatch loop. This is the responder's full lifecycle: the
// initiator's SHAKE and LOGIN both arrive as ordinary dispatched
// datagrams, with HandleLogin consuming the RESP rounds inline.
func (n *Node) Start(ctx context.Context) error {
	if err := n.SendShake(); err != nil {
		return err
	}
	return n.Run(ctx)
}

// Run executes the receive-dispatch loop without sending SHAKE first.
// ClientBase calls this after driving the handshake and login exchange
// itself inline, to continue servicing any further dispatched datagrams
// (notably ERR) for the remaining lifetime of the connection.
func (n *Node) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		dg, ok := n.Recv()
		if !ok {
			return nil
		}

		handler, found := n.handlers[dg.Command]
		if !found {
			n.logger.Warn("unknown command, disconnecting",
				logging.KeyCommand, dg.Command)
			_ = n.Send(wire.NewDatagram(wire.CmdErr, wire.ErrDisconnect))
			continue
		}

		if err := handler(ctx, n, dg); err != nil {
			if errors.Is(err, Terminate) {
				return nil
			}
			n.logger.Warn("handler error, disconnecting", logging.KeyError, err,
				logging.KeyCommand, dg.Command)
			_ = n.Send(wire.NewDatagram(wire.CmdErr, wire.ErrDisconnect))
			return err
		}
	}
}

// HandleHandshake installs the peer's DH public key on first SHAKE.
// From this point on, records this Node sends are encrypted under the
// personal cipher.
func (n *Node) HandleHandshake(ctx context.Context, node *Node, dg *wire.Datagram) error {
	s, ok := dg.Data.(string)
	if !ok {
		return fmt.Errorf("node: SHAKE data is not a string")
	}
	peerPublic, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return fmt.Errorf("node: SHAKE data is not a decimal integer")
	}
	if err := n.kh.SetCounterKey(peerPublic); err != nil {
		return fmt.Errorf("node: install counter key: %w", err)
	}
	return nil
}

// HandleError logs the error code carried by an ERR datagram. If it
// arrives before login has completed, the connection terminates; after
// login, it is logged and the loop continues.
func (n *Node) HandleError(ctx context.Context, node *Node, dg *wire.Datagram) error {
	code, _ := dg.Data.(float64) // JSON numbers decode as float64
	n.logger.Warn("received error datagram",
		logging.KeyComponent, "node",
		"code", int(code),
		"description", wire.ErrorInfo[int(code)])

	if !n.loginComplete {
		return Terminate
	}
	return nil
}
