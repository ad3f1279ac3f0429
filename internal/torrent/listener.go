package torrent

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/anacrolix/torrent"
	"github.com/stone-age-io/torrentd/internal/config"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Listener binds a BitTorrent client on the server port.
// Bind creates the client (which opens the TCP/uTP sockets) and Release closes it.
type Listener struct {
	logger *zap.Logger
	cfg    config.ServerConfig

	mu     sync.Mutex
	client *torrent.Client
}

// NewListener creates an unbound listener
func NewListener(logger *zap.Logger, cfg config.ServerConfig) *Listener {
	return &Listener{
		logger: logger,
		cfg:    cfg,
	}
}

// Bind starts a torrent client listening on port
func (l *Listener) Bind(port int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.client != nil {
		return fmt.Errorf("torrent client already listening on port %d", l.client.LocalPort())
	}

	if err := os.MkdirAll(l.cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory %s: %w", l.cfg.DataDir, err)
	}

	tc, err := l.clientConfig(port)
	if err != nil {
		return err
	}

	l.logger.Info("Starting torrent client",
		zap.Int("port", port),
		zap.String("data_dir", l.cfg.DataDir),
		zap.Bool("dht", !l.cfg.DisableDHT))

	client, err := torrent.NewClient(tc)
	if err != nil {
		return fmt.Errorf("failed to start torrent client: %w", err)
	}

	l.client = client
	l.logger.Info("Torrent client listening", zap.Int("local_port", client.LocalPort()))
	return nil
}

// Release closes the torrent client and its sockets. Close tears the sockets
// down even when it reports errors, so the client is dropped either way and
// releasing an already released listener succeeds.
func (l *Listener) Release(port int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.client == nil {
		l.logger.Debug("Torrent client already released", zap.Int("port", port))
		return nil
	}

	l.logger.Info("Closing torrent client", zap.Int("port", port))

	errs := l.client.Close()
	l.client = nil

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("torrent client closed with errors: %w", err)
	}
	return nil
}

// LocalPort returns the bound port, or 0 when not listening
func (l *Listener) LocalPort() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.client == nil {
		return 0
	}
	return l.client.LocalPort()
}

func (l *Listener) clientConfig(port int) (*torrent.ClientConfig, error) {
	upload, err := rateLimiter(l.cfg.UploadRate)
	if err != nil {
		return nil, fmt.Errorf("upload rate: %w", err)
	}
	download, err := rateLimiter(l.cfg.DownloadRate)
	if err != nil {
		return nil, fmt.Errorf("download rate: %w", err)
	}

	tc := torrent.NewDefaultClientConfig()
	tc.ListenPort = port
	tc.DataDir = l.cfg.DataDir
	tc.NoDHT = l.cfg.DisableDHT
	tc.DisableTrackers = l.cfg.DisableTrackers
	tc.DisableIPv6 = l.cfg.DisableIPv6
	tc.NoUpload = l.cfg.NoUpload
	tc.Seed = l.cfg.Seed
	tc.NoDefaultPortForwarding = true
	tc.UploadRateLimiter = upload
	tc.DownloadRateLimiter = download

	if host := l.cfg.ListenHost; host != "" {
		tc.ListenHost = func(string) string { return host }
	}

	return tc, nil
}

// rateLimiter builds a token bucket allowing bytesPerSec with a 3x burst.
// Zero means unlimited.
func rateLimiter(s string) (*rate.Limiter, error) {
	bytesPerSec, err := config.ParseRate(s)
	if err != nil {
		return nil, err
	}
	if bytesPerSec == 0 {
		return rate.NewLimiter(rate.Inf, 0), nil
	}
	return rate.NewLimiter(rate.Limit(bytesPerSec), bytesPerSec*3), nil
}
