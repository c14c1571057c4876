// Package acceptor implements the server-side listener: it binds a TCP
// socket (optionally TLS-wrapped), instantiates a responder Node per
// accepted connection, and tracks a live-connection set for orderly
// shutdown (spec.md §4.6). Grounded on the teacher's
// internal/forward.Listener accept-loop/live-set shape.
package acceptor

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"golang.org/x/time/rate"

	"github.com/nyx-proto/shakeline/internal/config"
	"github.com/nyx-proto/shakeline/internal/logging"
	"github.com/nyx-proto/shakeline/internal/metrics"
	"github.com/nyx-proto/shakeline/internal/node"
	"github.com/nyx-proto/shakeline/internal/recovery"
	"github.com/nyx-proto/shakeline/internal/serverconn"
)

// Acceptor binds a listener and runs one responder Node per accepted
// connection, tracking them in a live-connection set owned exclusively
// by the accept loop and each connection's own cleanup (spec.md §5's
// single-writer discipline).
type Acceptor struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	limiter *rate.Limiter

	listener net.Listener

	mu    sync.Mutex
	live  map[*node.Node]net.Conn
	wg    sync.WaitGroup
}

// New builds an Acceptor from cfg. A nil logger defaults to
// logging.NopLogger(); a nil m disables metrics recording.
func New(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *Acceptor {
	if logger == nil {
		logger = logging.NopLogger()
	}

	var limiter *rate.Limiter
	if cfg.AcceptRatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.AcceptRatePerSecond), int(cfg.AcceptRatePerSecond)+1)
	}

	return &Acceptor{
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		limiter: limiter,
		live:    make(map[*node.Node]net.Conn),
	}
}

// Listen binds the TCP socket (SO_REUSEADDR is the default behavior of
// net.Listen on the platforms this protocol targets), wrapping it in TLS
// 1.2 with the ECDHE-ECDSA-AES256-GCM-SHA384 cipher suite when
// cfg.WantSSL is set, per spec.md §6.
func (a *Acceptor) Listen() error {
	addr := fmt.Sprintf("%s:%d", a.cfg.Host, a.cfg.Port)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("acceptor: listen on %s: %w", addr, err)
	}

	if a.cfg.WantSSL {
		cert, err := tls.LoadX509KeyPair(a.cfg.CrtFile, a.cfg.KeyFile)
		if err != nil {
			ln.Close()
			return fmt.Errorf("acceptor: load tls certificate: %w", err)
		}
		tlsCfg := &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
			MaxVersion:   tls.VersionTLS12,
			CipherSuites: []uint16{tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384},
		}
		ln = tls.NewListener(ln, tlsCfg)
	}

	a.listener = ln
	a.logger.Info("acceptor listening",
		logging.KeyComponent, "acceptor",
		logging.KeyAddress, ln.Addr().String())
	return nil
}

// Addr returns the bound listener address, or nil before Listen.
func (a *Acceptor) Addr() net.Addr {
	if a.listener == nil {
		return nil
	}
	return a.listener.Addr()
}

// Run accepts connections until ctx is cancelled or Listen's socket
// errors, instantiating a responder Node per connection and tracking it
// in the live set until its Start loop returns. Cancelling ctx stops
// Accept and propagates to every live Node via its own read/write
// failing once the connection is closed underneath it.
func (a *Acceptor) Run(ctx context.Context) error {
	defer recovery.RecoverWithLog(a.logger, "acceptor.Run")

	go func() {
		<-ctx.Done()
		if a.listener != nil {
			a.listener.Close()
		}
	}()

	for {
		if a.limiter != nil && !a.limiter.Allow() {
			if a.metrics != nil {
				a.metrics.RecordAcceptThrottled()
			}
			if err := a.limiter.Wait(ctx); err != nil {
				a.wg.Wait()
				return ctx.Err()
			}
		}

		conn, err := a.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				a.wg.Wait()
				return ctx.Err()
			default:
				a.logger.Warn("accept error", logging.KeyComponent, "acceptor", logging.KeyError, err)
				continue
			}
		}

		a.wg.Add(1)
		go a.handle(ctx, conn)
	}
}

// Shutdown closes every live connection, forcing their Node.Start loops
// to observe end-of-stream and exit, then waits for all to finish.
func (a *Acceptor) Shutdown() {
	a.mu.Lock()
	for _, conn := range a.live {
		conn.Close()
	}
	a.mu.Unlock()
	a.wg.Wait()
}

// LiveCount reports the number of currently tracked connections.
func (a *Acceptor) LiveCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.live)
}

func (a *Acceptor) handle(ctx context.Context, conn net.Conn) {
	defer a.wg.Done()
	defer recovery.RecoverWithLog(a.logger, "acceptor.handle")

	n, err := serverconn.New(conn, a.cfg, a.logger, a.metrics)
	if err != nil {
		a.logger.Error("build responder node failed", logging.KeyComponent, "acceptor", logging.KeyError, err)
		conn.Close()
		return
	}

	a.mu.Lock()
	a.live[n] = conn
	a.mu.Unlock()
	if a.metrics != nil {
		a.metrics.RecordConnect()
	}

	a.logger.Info("connection accepted",
		logging.KeyComponent, "acceptor",
		logging.KeyRemoteAddr, conn.RemoteAddr().String())

	if err := n.Start(ctx); err != nil {
		a.logger.Warn("connection loop exited with error",
			logging.KeyComponent, "acceptor", logging.KeyError, err)
	}

	a.mu.Lock()
	delete(a.live, n)
	a.mu.Unlock()
	conn.Close()
	if a.metrics != nil {
		a.metrics.RecordDisconnect("closed")
	}

	a.logger.Info("connection closed",
		logging.KeyComponent, "acceptor",
		logging.KeyName, n.Name())
}
