// Package client assembles the ledger gateway, reader and workflow
// orchestrator from configuration and manages the signing session.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"lendvault/config"
	"lendvault/crypto"
	"lendvault/ledger"
	"lendvault/observability/logging"
	"lendvault/observability/otel"
	"lendvault/reader"
	"lendvault/workflow"
)

const serviceName = "lendvault"

// Backend is the node API the client needs for reads, receipts and local
// signing. *ethclient.Client satisfies it.
type Backend interface {
	ledger.EVMClient
	crypto.Backend
}

// Client owns one connection to the ledger and at most one signing session.
type Client struct {
	cfg     config.Config
	backend Backend
	gateway *ledger.Gateway
	reader  *reader.Reader
	logger  *slog.Logger

	mu           sync.RWMutex
	session      *ledger.Session
	orchestrator *workflow.Orchestrator

	closers []func(context.Context) error
}

// Option customises a Client.
type Option func(*Client)

// WithLogger overrides the logger built from the logging configuration.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// Dial sets up logging and telemetry from cfg, connects to the configured
// RPC endpoint and checks that it serves the configured chain.
func Dial(ctx context.Context, cfg config.Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("client: %w", err)
	}
	var closers []func(context.Context) error

	level, _ := cfg.Logging.SlogLevel()
	logger, logCloser := logging.Setup(logging.Options{
		Service:    serviceName,
		Env:        cfg.Logging.Env,
		Level:      level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	closers = append(closers, closeFunc(logCloser))

	if cfg.Telemetry.Enabled {
		shutdown, err := otel.Init(ctx, otel.Config{
			ServiceName: serviceName,
			Environment: cfg.Logging.Env,
			Endpoint:    cfg.Telemetry.Endpoint,
			Insecure:    cfg.Telemetry.Insecure,
			Headers:     cfg.Telemetry.Headers,
			Traces:      cfg.Telemetry.Traces,
			Metrics:     cfg.Telemetry.Metrics,
		})
		if err != nil {
			return nil, errors.Join(fmt.Errorf("client: telemetry: %w", err), runClosers(ctx, closers))
		}
		closers = append(closers, shutdown)
	}

	dialCtx, cancel := context.WithTimeout(ctx, cfg.RPC.DialTimeout.Duration)
	defer cancel()
	httpClient := &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	rpcClient, err := rpc.DialOptions(dialCtx, cfg.RPC.Endpoint, rpc.WithHTTPClient(httpClient))
	if err != nil {
		return nil, errors.Join(fmt.Errorf("client: dial: %w", err), runClosers(ctx, closers))
	}
	eth := ethclient.NewClient(rpcClient)
	closers = append(closers, func(context.Context) error {
		eth.Close()
		return nil
	})

	chainID, err := eth.ChainID(dialCtx)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("client: %w: chain id: %w", ledger.ErrRead, err), runClosers(ctx, closers))
	}
	if chainID.Cmp(cfg.ChainID()) != 0 {
		return nil, errors.Join(
			fmt.Errorf("client: %w: endpoint serves chain %s, configured %d", ledger.ErrWrongNetwork, chainID, cfg.RPC.ChainID),
			runClosers(ctx, closers),
		)
	}
	logger.Info("connected to ledger",
		logging.MaskEndpoint("rpc", cfg.RPC.Endpoint),
		slog.Uint64("chain_id", cfg.RPC.ChainID))

	c, err := New(cfg, eth, append([]Option{WithLogger(logger)}, opts...)...)
	if err != nil {
		return nil, errors.Join(err, runClosers(ctx, closers))
	}
	c.closers = closers
	return c, nil
}

// New wires a client over an existing backend. Logging and telemetry are
// left to the caller.
func New(cfg config.Config, backend Backend, opts ...Option) (*Client, error) {
	if backend == nil {
		return nil, errors.New("client: backend required")
	}
	c := &Client{cfg: cfg, backend: backend, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}

	gwOpts := []ledger.Option{
		ledger.WithConfirmPolicy(cfg.ConfirmPolicy()),
		ledger.WithLogger(c.logger.With("component", "ledger")),
	}
	if cfg.RPC.RequestsPerSecond > 0 {
		gwOpts = append(gwOpts, ledger.WithReadLimiter(rate.NewLimiter(rate.Limit(cfg.RPC.RequestsPerSecond), cfg.RPC.Burst)))
	}
	gw, err := ledger.NewGateway(backend, cfg.ContractAddresses(), cfg.ChainID(), gwOpts...)
	if err != nil {
		return nil, fmt.Errorf("client: %w", err)
	}
	c.gateway = gw
	c.reader = reader.New(gw)
	c.orchestrator = c.newOrchestrator(gw)
	return c, nil
}

func (c *Client) newOrchestrator(gw *ledger.Gateway) *workflow.Orchestrator {
	opts := []workflow.Option{workflow.WithLogger(c.logger.With("component", "workflow"))}
	if c.cfg.Approval.Unlimited {
		opts = append(opts, workflow.WithUnlimitedApproval())
	}
	if c.cfg.Repayment.RejectOverpayment {
		opts = append(opts, workflow.WithOverpaymentRejected())
	}
	return workflow.New(gw, reader.New(gw), opts...)
}

// Reader returns the read-only view of ledger state. It needs no session.
func (c *Client) Reader() *reader.Reader { return c.reader }

// Orchestrator returns the workflow orchestrator bound to the current
// session. Without a session every workflow fails with no_signing_identity.
func (c *Client) Orchestrator() *workflow.Orchestrator {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.orchestrator
}

// Session returns the active signing session, or nil.
func (c *Client) Session() *ledger.Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

// Connect opens a session for signer, closing any previous one.
func (c *Client) Connect(signer ledger.Signer) error {
	session, err := ledger.OpenSession(signer)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil {
		c.session.Close()
	}
	c.session = session
	c.orchestrator = c.newOrchestrator(c.gateway.WithSession(session))
	c.logger.Info("signing session opened", "account", signer.Address().Hex())
	return nil
}

// ConnectKeystore loads the configured keystore identity and connects it.
func (c *Client) ConnectKeystore() error {
	if c.cfg.Signer.Keystore == "" {
		return fmt.Errorf("client: %w: no keystore configured", ledger.ErrNoSigningIdentity)
	}
	signer, err := crypto.LoadKeystoreSigner(c.cfg.Signer.Keystore, c.cfg.Signer.Passphrase, c.backend,
		crypto.WithSignerLogger(c.logger.With("component", "signer")))
	if err != nil {
		return fmt.Errorf("client: load keystore: %w", err)
	}
	return c.Connect(signer)
}

// Disconnect closes the active session. Workflows started afterwards fail
// with no_signing_identity.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return
	}
	c.session.Close()
	c.session = nil
	c.orchestrator = c.newOrchestrator(c.gateway)
	c.logger.Info("signing session closed")
}

// Close disconnects and releases the RPC connection, telemetry and log sink.
func (c *Client) Close(ctx context.Context) error {
	c.Disconnect()
	return runClosers(ctx, c.closers)
}

func runClosers(ctx context.Context, fns []func(context.Context) error) error {
	var errs []error
	for i := len(fns) - 1; i >= 0; i-- {
		if err := fns[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func closeFunc(c io.Closer) func(context.Context) error {
	return func(context.Context) error { return c.Close() }
}
