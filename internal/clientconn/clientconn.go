// Package clientconn implements the initiator ("ClientBase") side of a
// connection: dialing the transport, exchanging the cleartext SHAKE
// handshake, and driving the client half of the SRP-6a login state
// machine bound by HMAC (spec.md §4.5/§4.6).
package clientconn

import (
	"context"
	"crypto/tls"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"time"

	"github.com/nyx-proto/shakeline/internal/base85"
	"github.com/nyx-proto/shakeline/internal/config"
	"github.com/nyx-proto/shakeline/internal/identity"
	"github.com/nyx-proto/shakeline/internal/keyhandler"
	"github.com/nyx-proto/shakeline/internal/logging"
	"github.com/nyx-proto/shakeline/internal/metrics"
	"github.com/nyx-proto/shakeline/internal/node"
	"github.com/nyx-proto/shakeline/internal/srp"
	"github.com/nyx-proto/shakeline/internal/wire"
)

// ErrProtocol wraps a server-sent ERR datagram observed during dial or
// login.
var ErrProtocol = errors.New("clientconn: protocol error")

// ErrUnexpectedDatagram is returned when a step of the handshake or
// login sequence receives a datagram of the wrong command or shape.
var ErrUnexpectedDatagram = errors.New("clientconn: unexpected datagram")

// Client is a connected, not-yet-authenticated initiator. After Login
// succeeds, Node() is ready for Node.Run to service further traffic.
type Client struct {
	node *node.Node
	conn net.Conn
}

// Dial opens a TCP connection to addr, optionally TLS-wrapped per
// cfg.WantSSL (TLS 1.2, ECDHE-ECDSA-AES256-GCM-SHA384 — spec.md §6),
// and performs the cleartext DH SHAKE exchange. Login must be called
// next before any application traffic is exchanged.
func Dial(ctx context.Context, addr string, cfg *config.Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = logging.NopLogger()
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("clientconn: dial %s: %w", addr, err)
	}

	if cfg.WantSSL {
		tlsConn := tls.Client(conn, &tls.Config{
			MinVersion:   tls.VersionTLS12,
			MaxVersion:   tls.VersionTLS12,
			CipherSuites: []uint16{tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384},
			ServerName:   cfg.Host,
		})
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("clientconn: tls handshake: %w", err)
		}
		conn = tlsConn
	}

	kh, err := keyhandler.New()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("clientconn: new keyhandler: %w", err)
	}

	framer := wire.New(conn, kh, cfg.MaxFrameBytes)
	n := node.New(framer, kh, logger)

	if err := n.SendShake(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("clientconn: send SHAKE: %w", err)
	}

	dg, ok := n.Recv()
	if !ok {
		conn.Close()
		return nil, fmt.Errorf("clientconn: await peer SHAKE: %w", n.LastError())
	}
	if dg.Command != wire.CmdShake {
		conn.Close()
		return nil, fmt.Errorf("%w: expected SHAKE, got command %d", ErrUnexpectedDatagram, dg.Command)
	}
	if err := n.HandleHandshake(ctx, n, dg); err != nil {
		conn.Close()
		return nil, fmt.Errorf("clientconn: install counter key: %w", err)
	}

	return &Client{node: n, conn: conn}, nil
}

// Node returns the underlying Node, usable for Send/Recv/Run once Login
// has succeeded.
func (c *Client) Node() *node.Node {
	return c.node
}

// Close closes the underlying transport.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Login drives the client side of spec.md §4.5's SRP-6a login state
// machine, ending with the counter cipher installed and the Node's
// name/id set from the server's response. hmacKey and challengePassword
// are the two shared secrets spec.md §4.5 names separately: the former
// binds the claimed name to the transport, the latter is the SRP
// password.
func (c *Client) Login(ctx context.Context, name string, hmacKey, challengePassword []byte, m *metrics.Metrics) error {
	n := c.node
	start := time.Now()
	if m != nil {
		m.RecordLoginAttempt()
	}

	login := wire.NewDatagram(wire.CmdLogin, name)
	tag := keyhandler.HMACSign([]byte(name), hmacKey)
	hmacB85 := hmacBase85(tag)
	login.HMAC = &hmacB85
	if err := n.Send(login); err != nil {
		return fmt.Errorf("clientconn: send LOGIN: %w", err)
	}

	ack, err := recvNonErr(n)
	if err != nil {
		return err
	}
	if ok, _ := ack.Data.(bool); !ok {
		return fmt.Errorf("%w: RESP(true) expected after LOGIN", ErrUnexpectedDatagram)
	}

	srpClient := srp.NewClient([]byte(name), challengePassword)
	A := srpClient.Credentials()
	if err := n.Send(wire.NewDatagram(wire.CmdResp, hex.EncodeToString(A.Bytes()))); err != nil {
		return fmt.Errorf("clientconn: send RESP(A): %w", err)
	}

	challenge, err := recvNonErr(n)
	if err != nil {
		return err
	}
	pair, ok := challenge.Data.([]any)
	if !ok || len(pair) != 2 {
		return fmt.Errorf("%w: RESP(s,B) malformed", ErrUnexpectedDatagram)
	}
	saltHex, _ := pair[0].(string)
	bHex, _ := pair[1].(string)
	if saltHex == "" || bHex == "" {
		return fmt.Errorf("%w: RESP(s,B) has empty field", ErrUnexpectedDatagram)
	}
	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return fmt.Errorf("clientconn: decode salt: %w", err)
	}
	B, ok := parseHexBigInt(bHex)
	if !ok {
		return fmt.Errorf("%w: malformed B", ErrUnexpectedDatagram)
	}

	M, err := srpClient.ProcessChallenge(salt, B)
	if err != nil {
		return fmt.Errorf("clientconn: process challenge: %w", err)
	}

	if err := n.Send(wire.NewDatagram(wire.CmdResp, hex.EncodeToString(M))); err != nil {
		return fmt.Errorf("clientconn: send RESP(M): %w", err)
	}

	final, err := recvNonErr(n)
	if err != nil {
		return err
	}
	hamkHex, _ := final.Data.(string)
	if hamkHex == "" {
		return fmt.Errorf("%w: RESP(HAMK) has empty data", ErrUnexpectedDatagram)
	}
	HAMK, err := hex.DecodeString(hamkHex)
	if err != nil {
		return fmt.Errorf("clientconn: decode HAMK: %w", err)
	}
	if !srpClient.VerifySession(HAMK) {
		return fmt.Errorf("clientconn: server session proof did not verify")
	}

	if err := n.KeyHandler().SetCounterCipher(srpClient.SessionKey()); err != nil {
		return fmt.Errorf("clientconn: install counter cipher: %w", err)
	}
	if err := n.SetName(name); err != nil {
		return fmt.Errorf("clientconn: set name: %w", err)
	}
	_, recipient := final.Route()
	id, err := identity.Parse(recipient)
	if err != nil {
		return fmt.Errorf("clientconn: parse assigned identity: %w", err)
	}
	if err := n.SetID(id); err != nil {
		return fmt.Errorf("clientconn: set id: %w", err)
	}
	n.MarkLoginComplete()

	if m != nil {
		m.RecordLoginSuccess(time.Since(start).Seconds())
	}
	return nil
}

// recvNonErr reads one datagram directly from the Node and translates a
// server-sent ERR into a Go error, per spec.md §4.5's "a missing or
// empty data on any response aborts with the most-specific error."
func recvNonErr(n *node.Node) (*wire.Datagram, error) {
	dg, ok := n.Recv()
	if !ok {
		return nil, fmt.Errorf("clientconn: connection closed during login: %w", n.LastError())
	}
	if dg.Command == wire.CmdErr {
		code, _ := dg.Data.(float64)
		return nil, fmt.Errorf("%w: %s", ErrProtocol, wire.ErrorInfo[int(code)])
	}
	if dg.Command != wire.CmdResp {
		return nil, fmt.Errorf("%w: expected RESP, got command %d", ErrUnexpectedDatagram, dg.Command)
	}
	return dg, nil
}

func hmacBase85(tag []byte) string {
	return base85.Encode(tag)
}

func parseHexBigInt(s string) (*big.Int, bool) {
	b, err := hex.DecodeString(s)
	if err != nil || len(b) == 0 {
		return nil, false
	}
	return new(big.Int).SetBytes(b), true
}
