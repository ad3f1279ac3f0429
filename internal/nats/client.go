package nats

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/stone-age-io/torrentd/internal/config"
	"go.uber.org/zap"
)

// Client manages the NATS connection used for commands and telemetry
type Client struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	logger *zap.Logger
	config *config.NATSConfig
	closed chan struct{}
}

// NewClient connects to NATS and validates that JetStream is available
func NewClient(cfg *config.NATSConfig, logger *zap.Logger) (*Client, error) {
	closed := make(chan struct{})
	var closeOnce sync.Once

	opts := []nats.Option{
		nats.Name("torrentd"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", zap.Error(err))
			} else {
				logger.Info("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Info("NATS connection closed")
			closeOnce.Do(func() { close(closed) })
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			logger.Error("NATS error",
				zap.Error(err),
				zap.String("subject", subject))
		}),
	}

	if cfg.TLS.Enabled {
		tlsConfig, err := createTLSConfig(&cfg.TLS, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create TLS config: %w", err)
		}
		opts = append(opts, nats.Secure(tlsConfig))

		if cfg.TLS.InsecureSkipVerify {
			logger.Warn("TLS certificate verification is DISABLED - use only in development")
		}
	}

	authOpt, err := authOption(&cfg.Auth, logger)
	if err != nil {
		return nil, err
	}
	if authOpt != nil {
		opts = append(opts, authOpt)
	}

	logger.Info("Connecting to NATS", zap.Strings("urls", cfg.URLs))
	conn, err := nats.Connect(strings.Join(cfg.URLs, ","), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	logger.Info("Connected to NATS",
		zap.String("url", conn.ConnectedUrl()),
		zap.String("server_id", conn.ConnectedServerId()),
		zap.Bool("tls", conn.TLSRequired()))

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	// Fail fast instead of on the first status report
	if _, err := js.AccountInfo(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("JetStream not available on NATS server (is JetStream enabled?): %w", err)
	}

	return &Client{
		conn:   conn,
		js:     js,
		logger: logger,
		config: cfg,
		closed: closed,
	}, nil
}

// authOption maps the configured auth type to a connect option.
// pocketbase is resolved to creds by the agent before connecting.
func authOption(auth *config.AuthConfig, logger *zap.Logger) (nats.Option, error) {
	switch auth.Type {
	case "creds", "pocketbase":
		logger.Info("Using credentials file authentication", zap.String("file", auth.CredsFile))
		return nats.UserCredentials(auth.CredsFile), nil
	case "token":
		logger.Info("Using token authentication")
		return nats.Token(auth.Token), nil
	case "userpass":
		logger.Info("Using username/password authentication", zap.String("username", auth.Username))
		return nats.UserInfo(auth.Username, auth.Password), nil
	case "none", "":
		logger.Info("Using no authentication")
		return nil, nil
	default:
		return nil, fmt.Errorf("invalid auth type: %s", auth.Type)
	}
}

func createTLSConfig(cfg *config.TLSConfig, logger *zap.Logger) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}

	if cfg.CAFile != "" {
		logger.Info("Loading CA certificate", zap.String("file", cfg.CAFile))

		caCert, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}

		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate")
		}
		tlsConfig.RootCAs = caCertPool
	}

	// Mutual TLS
	if cfg.CertFile != "" && cfg.KeyFile != "" {
		logger.Info("Loading client certificate",
			zap.String("cert", cfg.CertFile),
			zap.String("key", cfg.KeyFile))

		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}

// PublishTelemetry publishes to JetStream without waiting for the ack.
// Ack failures are logged; telemetry is fire-and-forget.
func (c *Client) PublishTelemetry(subject string, data []byte) error {
	pubAckFuture, err := c.js.PublishAsync(subject, data)
	if err != nil {
		c.logger.Error("Failed to queue telemetry publish",
			zap.String("subject", subject),
			zap.Error(err))
		return fmt.Errorf("failed to queue publish to %s: %w", subject, err)
	}

	go func() {
		select {
		case <-pubAckFuture.Ok():
			c.logger.Debug("Published telemetry",
				zap.String("subject", subject),
				zap.Int("bytes", len(data)))
		case err := <-pubAckFuture.Err():
			c.logger.Warn("Failed to publish telemetry after retries",
				zap.String("subject", subject),
				zap.Error(err))
		}
	}()

	return nil
}

// Subscribe creates a core NATS subscription for request/reply commands
func (c *Client) Subscribe(subject string, handler nats.MsgHandler) (*nats.Subscription, error) {
	sub, err := c.conn.Subscribe(subject, handler)
	if err != nil {
		c.logger.Error("Failed to subscribe",
			zap.String("subject", subject),
			zap.Error(err))
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}

	c.logger.Info("Subscribed to subject", zap.String("subject", subject))
	return sub, nil
}

// Drain closes subscriptions after in-flight messages complete.
// The connection is force-closed if ctx expires first.
func (c *Client) Drain(ctx context.Context) error {
	if c.conn.IsClosed() {
		c.logger.Info("Connection already closed")
		return nil
	}

	c.logger.Info("Draining NATS connection")

	if err := c.conn.Drain(); err != nil {
		c.logger.Error("Error during NATS drain", zap.Error(err))
		return err
	}

	// Drain returns immediately; the connection closes once it completes
	select {
	case <-c.closed:
		c.logger.Info("NATS drain completed successfully")
		return nil
	case <-ctx.Done():
		c.logger.Warn("NATS drain timeout, forcing close")
		c.conn.Close()
		return fmt.Errorf("drain interrupted: %w", ctx.Err())
	}
}

// Close immediately closes the NATS connection
func (c *Client) Close() {
	c.logger.Info("Closing NATS connection")
	c.conn.Close()
}

// IsConnected returns true if the NATS connection is currently active
func (c *Client) IsConnected() bool {
	return c.conn.IsConnected()
}
