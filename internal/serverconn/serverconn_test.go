package serverconn

import (
	"context"
	"encoding/hex"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/nyx-proto/shakeline/internal/base85"
	"github.com/nyx-proto/shakeline/internal/config"
	"github.com/nyx-proto/shakeline/internal/keyhandler"
	"github.com/nyx-proto/shakeline/internal/node"
	"github.com/nyx-proto/shakeline/internal/srp"
	"github.com/nyx-proto/shakeline/internal/wire"
)

// rawClient drives the initiator side of SHAKE+LOGIN by hand, without
// depending on package clientconn (which itself depends on serverconn),
// to exercise HandleLogin's server-side state machine in isolation.
type rawClient struct {
	n *node.Node
}

func newRawClient(t *testing.T, conn net.Conn) *rawClient {
	t.Helper()
	kh, err := keyhandler.New()
	if err != nil {
		t.Fatalf("keyhandler.New() error = %v", err)
	}
	n := node.New(wire.New(conn, kh, 0), kh, nil)
	if err := n.SendShake(); err != nil {
		t.Fatalf("SendShake() error = %v", err)
	}
	dg, ok := n.Recv()
	if !ok || dg.Command != wire.CmdShake {
		t.Fatalf("expected peer SHAKE, got ok=%v dg=%v", ok, dg)
	}
	if err := n.HandleHandshake(context.Background(), n, dg); err != nil {
		t.Fatalf("HandleHandshake() error = %v", err)
	}
	return &rawClient{n: n}
}

func (c *rawClient) login(t *testing.T, name string, hmacKey, password []byte) (ok bool, errCode int) {
	t.Helper()
	login := wire.NewDatagram(wire.CmdLogin, name)
	tag := keyhandler.HMACSign([]byte(name), hmacKey)
	h := base85.Encode(tag)
	login.HMAC = &h
	if err := c.n.Send(login); err != nil {
		t.Fatalf("send LOGIN: %v", err)
	}

	dg, recvOK := c.n.Recv()
	if !recvOK {
		t.Fatalf("recv after LOGIN failed: %v", c.n.LastError())
	}
	if dg.Command == wire.CmdErr {
		code, _ := dg.Data.(float64)
		return false, int(code)
	}

	srpClient := srp.NewClient([]byte(name), password)
	if err := c.n.Send(wire.NewDatagram(wire.CmdResp, hex.EncodeToString(srpClient.Credentials().Bytes()))); err != nil {
		t.Fatalf("send RESP(A): %v", err)
	}

	dg, recvOK = c.n.Recv()
	if !recvOK {
		t.Fatalf("recv challenge failed: %v", c.n.LastError())
	}
	if dg.Command == wire.CmdErr {
		code, _ := dg.Data.(float64)
		return false, int(code)
	}
	pair := dg.Data.([]any)
	salt, _ := hex.DecodeString(pair[0].(string))
	bBytes, _ := hex.DecodeString(pair[1].(string))
	B := new(big.Int).SetBytes(bBytes)

	M, err := srpClient.ProcessChallenge(salt, B)
	if err != nil {
		t.Fatalf("ProcessChallenge: %v", err)
	}
	if err := c.n.Send(wire.NewDatagram(wire.CmdResp, hex.EncodeToString(M))); err != nil {
		t.Fatalf("send RESP(M): %v", err)
	}

	dg, recvOK = c.n.Recv()
	if !recvOK {
		t.Fatalf("recv final failed: %v", c.n.LastError())
	}
	if dg.Command == wire.CmdErr {
		code, _ := dg.Data.(float64)
		return false, int(code)
	}
	hamkHex, _ := dg.Data.(string)
	HAMK, _ := hex.DecodeString(hamkHex)
	if !srpClient.VerifySession(HAMK) {
		t.Fatalf("client could not verify server session proof")
	}
	return true, 0
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.HMACKey = "shared-hmac-secret"
	cfg.ChallengePassword = "challenge-password"
	return cfg
}

func TestHandleLogin_HappyPath(t *testing.T) {
	clientConn, serverConnSide := net.Pipe()
	defer clientConn.Close()
	defer serverConnSide.Close()

	cfg := testConfig()
	serverNode, err := New(serverConnSide, cfg, nil, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go serverNode.Start(ctx)

	client := newRawClient(t, clientConn)
	ok, _ := client.login(t, "alice", []byte(cfg.HMACKey), []byte(cfg.ChallengePassword))
	if !ok {
		t.Fatal("login() = false, want true")
	}

	if serverNode.Name() != "alice" {
		t.Errorf("server Node.Name() = %q, want alice", serverNode.Name())
	}
	if serverNode.ID().IsZero() {
		t.Error("server Node.ID() is zero after successful login")
	}
}

func TestHandleLogin_BadName(t *testing.T) {
	clientConn, serverConnSide := net.Pipe()
	defer clientConn.Close()
	defer serverConnSide.Close()

	cfg := testConfig()
	serverNode, err := New(serverConnSide, cfg, nil, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go serverNode.Start(ctx)

	client := newRawClient(t, clientConn)
	ok, code := client.login(t, "!!!", []byte(cfg.HMACKey), []byte(cfg.ChallengePassword))
	if ok {
		t.Fatal("login() with bad name succeeded, want failure")
	}
	if code != wire.ErrCredentials {
		t.Errorf("error code = %d, want ErrCredentials (%d)", code, wire.ErrCredentials)
	}
}

// TestHandleLogin_ReplayAfterSuccessClosesConnection exercises spec.md
// §8 scenario 5: a LOGIN replayed on an already-authenticated connection
// must close the connection rather than re-run the state machine.
func TestHandleLogin_ReplayAfterSuccessClosesConnection(t *testing.T) {
	clientConn, serverConnSide := net.Pipe()
	defer clientConn.Close()
	defer serverConnSide.Close()

	cfg := testConfig()
	serverNode, err := New(serverConnSide, cfg, nil, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serverErrCh := make(chan error, 1)
	go func() { serverErrCh <- serverNode.Start(ctx) }()

	client := newRawClient(t, clientConn)
	ok, _ := client.login(t, "alice", []byte(cfg.HMACKey), []byte(cfg.ChallengePassword))
	if !ok {
		t.Fatal("first login() = false, want true")
	}

	login := wire.NewDatagram(wire.CmdLogin, "alice")
	tag := keyhandler.HMACSign([]byte("alice"), []byte(cfg.HMACKey))
	h := base85.Encode(tag)
	login.HMAC = &h
	if err := client.n.Send(login); err != nil {
		t.Fatalf("send replayed LOGIN: %v", err)
	}

	dg, ok := client.n.Recv()
	if !ok {
		t.Fatalf("recv after replayed LOGIN failed: %v", client.n.LastError())
	}
	if dg.Command != wire.CmdErr {
		t.Fatalf("expected ERR after replayed LOGIN, got command %d", dg.Command)
	}

	select {
	case <-serverErrCh:
	case <-time.After(time.Second):
		t.Fatal("server Node.Start did not return after replayed LOGIN")
	}
}

func TestHandleLogin_BadHMAC(t *testing.T) {
	clientConn, serverConnSide := net.Pipe()
	defer clientConn.Close()
	defer serverConnSide.Close()

	cfg := testConfig()
	serverNode, err := New(serverConnSide, cfg, nil, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go serverNode.Start(ctx)

	client := newRawClient(t, clientConn)
	ok, code := client.login(t, "alice", []byte("not-the-shared-secret"), []byte(cfg.ChallengePassword))
	if ok {
		t.Fatal("login() with bad hmac succeeded, want failure")
	}
	if code != wire.ErrHMAC {
		t.Errorf("error code = %d, want ErrHMAC (%d)", code, wire.ErrHMAC)
	}
}
