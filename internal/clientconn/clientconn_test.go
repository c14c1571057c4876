package clientconn

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/nyx-proto/shakeline/internal/config"
	"github.com/nyx-proto/shakeline/internal/keyhandler"
	"github.com/nyx-proto/shakeline/internal/node"
	"github.com/nyx-proto/shakeline/internal/serverconn"
	"github.com/nyx-proto/shakeline/internal/wire"
)

// newTestClient builds a Client over conn without dialing a real TCP
// socket, reusing Dial's handshake steps against an in-memory net.Pipe.
func newTestClient(t *testing.T, conn net.Conn) *Client {
	t.Helper()

	kh, err := keyhandler.New()
	if err != nil {
		t.Fatalf("keyhandler.New() error = %v", err)
	}
	framer := wire.New(conn, kh, 0)
	n := node.New(framer, kh, nil)

	if err := n.SendShake(); err != nil {
		t.Fatalf("SendShake() error = %v", err)
	}
	dg, ok := n.Recv()
	if !ok {
		t.Fatalf("Recv() peer SHAKE failed: %v", n.LastError())
	}
	if dg.Command != wire.CmdShake {
		t.Fatalf("first datagram command = %d, want CmdShake", dg.Command)
	}
	if err := n.HandleHandshake(context.Background(), n, dg); err != nil {
		t.Fatalf("HandleHandshake() error = %v", err)
	}

	return &Client{node: n, conn: conn}
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.HMACKey = "shared-hmac-secret"
	cfg.ChallengePassword = "s3cr3t-challenge-password"
	return cfg
}

func TestLogin_HappyPath(t *testing.T) {
	clientConn, serverConnSide := net.Pipe()
	defer clientConn.Close()
	defer serverConnSide.Close()

	cfg := testConfig()

	serverNode, err := serverconn.New(serverConnSide, cfg, nil, nil)
	if err != nil {
		t.Fatalf("serverconn.New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serverErrCh := make(chan error, 1)
	go func() { serverErrCh <- serverNode.Start(ctx) }()

	client := newTestClient(t, clientConn)

	if err := client.Login(ctx, "alice", []byte(cfg.HMACKey), []byte(cfg.ChallengePassword), nil); err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	if client.Node().Name() != "alice" {
		t.Errorf("Name() = %q, want alice", client.Node().Name())
	}
	if !client.Node().LoginComplete() {
		t.Error("LoginComplete() = false, want true")
	}
	if client.Node().ID().IsZero() {
		t.Error("ID() is zero after successful login")
	}
	if !client.Node().KeyHandler().CounterCipherSet() {
		t.Error("counter cipher not installed on client after login")
	}

	select {
	case err := <-serverErrCh:
		t.Fatalf("server Node.Start returned early: %v", err)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestLogin_BadNameSendsCredentialsErr(t *testing.T) {
	clientConn, serverConnSide := net.Pipe()
	defer clientConn.Close()
	defer serverConnSide.Close()

	cfg := testConfig()

	serverNode, err := serverconn.New(serverConnSide, cfg, nil, nil)
	if err != nil {
		t.Fatalf("serverconn.New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go serverNode.Start(ctx)

	client := newTestClient(t, clientConn)

	err = client.Login(ctx, "!!! not a valid name !!!", []byte(cfg.HMACKey), []byte(cfg.ChallengePassword), nil)
	if err == nil {
		t.Fatal("Login() with invalid name succeeded, want error")
	}
	if !errors.Is(err, ErrProtocol) || !strings.Contains(err.Error(), wire.ErrorInfo[wire.ErrCredentials]) {
		t.Errorf("Login() error = %v, want ERR(CREDENTIALS)", err)
	}
}

func TestLogin_BadHMACSendsHMACErr(t *testing.T) {
	clientConn, serverConnSide := net.Pipe()
	defer clientConn.Close()
	defer serverConnSide.Close()

	cfg := testConfig()

	serverNode, err := serverconn.New(serverConnSide, cfg, nil, nil)
	if err != nil {
		t.Fatalf("serverconn.New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go serverNode.Start(ctx)

	client := newTestClient(t, clientConn)

	err = client.Login(ctx, "alice", []byte("wrong-hmac-secret"), []byte(cfg.ChallengePassword), nil)
	if err == nil {
		t.Fatal("Login() with wrong hmac key succeeded, want error")
	}
	if !errors.Is(err, ErrProtocol) || !strings.Contains(err.Error(), wire.ErrorInfo[wire.ErrHMAC]) {
		t.Errorf("Login() error = %v, want ERR(HMAC)", err)
	}
}
