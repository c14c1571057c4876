// Package serverconn implements the responder ("ClientAI") side of a
// connection: the Node is built over an accepted net.Conn, and the LOGIN
// command handler drives the server-side half of the SRP-6a login state
// machine bound by HMAC (spec.md §4.5/§4.7), assigning the client a
// fresh identity on success.
package serverconn

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"regexp"
	"time"

	"github.com/nyx-proto/shakeline/internal/config"
	"github.com/nyx-proto/shakeline/internal/identity"
	"github.com/nyx-proto/shakeline/internal/keyhandler"
	"github.com/nyx-proto/shakeline/internal/logging"
	"github.com/nyx-proto/shakeline/internal/metrics"
	"github.com/nyx-proto/shakeline/internal/node"
	"github.com/nyx-proto/shakeline/internal/srp"
	"github.com/nyx-proto/shakeline/internal/wire"
)

// ErrLoginAborted names a login that ended in a terminal non-success
// state. HandleLogin neither returns nor records it: on those states it
// sends ERR and returns node.Terminate, and Node.LastError reports only
// framing and I/O failures.
var ErrLoginAborted = errors.New("serverconn: login aborted")

// ClientAI is the responder-side login state machine bound to one
// Node. It is installed as the LOGIN handler at construction.
type ClientAI struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	nameRe  *regexp.Regexp
}

// New builds a responder Node over conn: a fresh KeyHandler and Framer,
// with LOGIN wired to the SRP-bound login state machine. cfg supplies
// the shared hmac_key/challenge_password and the name regex; m may be
// nil (metrics.Default() is NOT substituted implicitly — callers pass
// their own instance so tests don't collide on the global registry).
func New(conn net.Conn, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*node.Node, error) {
	if logger == nil {
		logger = logging.NopLogger()
	}

	nameRe, err := regexp.Compile(cfg.NameRegex)
	if err != nil {
		return nil, fmt.Errorf("serverconn: compile name_regex: %w", err)
	}

	kh, err := keyhandler.New()
	if err != nil {
		return nil, fmt.Errorf("serverconn: new keyhandler: %w", err)
	}

	framer := wire.New(conn, kh, cfg.MaxFrameBytes)
	n := node.New(framer, kh, logger)

	ai := &ClientAI{cfg: cfg, logger: logger, metrics: m, nameRe: nameRe}
	n.Handle(wire.CmdLogin, ai.HandleLogin)

	return n, nil
}

// HandleLogin drives START → saw_LOGIN → HMAC_OK → got_A → sent_sB →
// got_M → VERIFIED exactly per spec.md §4.5. Any terminal non-success
// transition sends the matching ERR code and returns node.Terminate.
func (ai *ClientAI) HandleLogin(ctx context.Context, n *node.Node, dg *wire.Datagram) error {
	if n.LoginComplete() {
		return ai.abort(n, wire.ErrDisconnect, "login already completed")
	}

	start := time.Now()
	if ai.metrics != nil {
		ai.metrics.RecordLoginAttempt()
	}

	name, ok := dg.Data.(string)
	if !ok || !ai.nameRe.MatchString(name) {
		return ai.abort(n, wire.ErrCredentials, "invalid name")
	}

	if dg.HMAC == nil || !keyhandler.HMACVerify(*dg.HMAC, []byte(name), []byte(ai.cfg.HMACKey)) {
		return ai.abort(n, wire.ErrHMAC, "hmac verification failed")
	}

	if err := n.Send(wire.NewDatagram(wire.CmdResp, true)); err != nil {
		return fmt.Errorf("serverconn: send RESP(true): %w", err)
	}

	respA, ok := n.Recv()
	if !ok {
		return node.Terminate
	}
	aHex, _ := respA.Data.(string)
	if aHex == "" {
		return ai.abort(n, wire.ErrChallenge, "missing A")
	}
	A, ok := parseHexBigInt(aHex)
	if !ok {
		return ai.abort(n, wire.ErrChallenge, "malformed A")
	}

	salt, verifier, err := srp.NewVerifier([]byte(name), []byte(ai.cfg.ChallengePassword))
	if err != nil {
		return fmt.Errorf("serverconn: derive verifier: %w", err)
	}

	srv, err := srp.NewServer(salt, verifier, A)
	if err != nil {
		return ai.abort(n, wire.ErrChallenge, "srp challenge setup failed")
	}

	s, B := srv.Challenge()
	challenge := []any{hex.EncodeToString(s), hex.EncodeToString(B.Bytes())}
	if err := n.Send(wire.NewDatagram(wire.CmdResp, challenge)); err != nil {
		return fmt.Errorf("serverconn: send RESP(s,B): %w", err)
	}

	respM, ok := n.Recv()
	if !ok {
		return node.Terminate
	}
	mHex, _ := respM.Data.(string)
	if mHex == "" {
		return ai.abort(n, wire.ErrChallenge, "missing M")
	}
	M, err := hex.DecodeString(mHex)
	if err != nil {
		return ai.abort(n, wire.ErrChallenge, "malformed M")
	}

	HAMK, ok := srv.VerifySession(M)
	if !ok {
		return ai.abort(n, wire.ErrVerification, "srp session verification failed")
	}

	newID, err := identity.New()
	if err != nil {
		return fmt.Errorf("serverconn: assign identity: %w", err)
	}

	resp := wire.NewDatagram(wire.CmdResp, hex.EncodeToString(HAMK))
	if err := resp.SetRecipient(newID.String()); err != nil {
		return fmt.Errorf("serverconn: set recipient: %w", err)
	}
	if err := n.Send(resp); err != nil {
		return fmt.Errorf("serverconn: send RESP(HAMK): %w", err)
	}

	if err := n.KeyHandler().SetCounterCipher(srv.SessionKey()); err != nil {
		return fmt.Errorf("serverconn: install counter cipher: %w", err)
	}
	if err := n.SetName(name); err != nil {
		return fmt.Errorf("serverconn: set name: %w", err)
	}
	if err := n.SetID(newID); err != nil {
		return fmt.Errorf("serverconn: set id: %w", err)
	}
	n.MarkLoginComplete()

	ai.logger.Info("login complete",
		logging.KeyComponent, "serverconn",
		logging.KeyName, name,
		logging.KeyIdentity, newID.String())
	if ai.metrics != nil {
		ai.metrics.RecordLoginSuccess(time.Since(start).Seconds())
	}

	return nil
}

// abort logs, sends ERR(code) and returns node.Terminate, per spec.md
// §4.5/§4.7's "terminal non-success transitions all send an ERR
// datagram then exit the loop."
func (ai *ClientAI) abort(n *node.Node, code int, reason string) error {
	ai.logger.Warn("login aborted",
		logging.KeyComponent, "serverconn",
		"code", code,
		"reason", reason)
	if ai.metrics != nil {
		ai.metrics.RecordLoginFailure(wire.ErrorInfo[code])
	}
	_ = n.Send(wire.NewDatagram(wire.CmdErr, code))
	return node.Terminate
}

func parseHexBigInt(s string) (*big.Int, bool) {
	b, err := hex.DecodeString(s)
	if err != nil || len(b) == 0 {
		return nil, false
	}
	return new(big.Int).SetBytes(b), true
}
