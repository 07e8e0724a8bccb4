package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/libp2p/go-libp2p/core/crypto"
	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/gra-p2p/gra/internal/config"
	"github.com/gra-p2p/gra/internal/hash"
	"github.com/gra-p2p/gra/internal/metrics"
	"github.com/gra-p2p/gra/internal/models"
	"github.com/gra-p2p/gra/internal/node"
	"github.com/gra-p2p/gra/internal/p2p"
	"github.com/gra-p2p/gra/internal/ratelimit"
	"github.com/gra-p2p/gra/internal/storage"
	"github.com/gra-p2p/gra/internal/timeouts"
)

// setupLogger creates a configured zap logger. Flags win over [logging].
func setupLogger(cfg *config.Config) (*zap.Logger, error) {
	levelName := logLevel
	if levelName == "" && cfg != nil {
		levelName = cfg.Logging.Level
	}
	level := zapcore.InfoLevel
	switch levelName {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	}

	zcfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      false,
		Encoding:         "console",
		EncoderConfig:    zap.NewDevelopmentEncoderConfig(),
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}

	out := logFile
	if out == "" && cfg != nil {
		out = cfg.Logging.File
	}
	if out != "" {
		zcfg.OutputPaths = []string{out}
	}

	return zcfg.Build()
}

// configPaths returns the list of config file paths to search.
func configPaths() []string {
	if cfgFile != "" {
		return []string{cfgFile}
	}
	homeDir, _ := os.UserHomeDir()
	return []string{
		"/etc/gra/config.toml",
		filepath.Join(homeDir, ".config", "gra", "config.toml"),
	}
}

// defaultConfigPath is where `config init` writes without --config.
func defaultConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".config", "gra", "config.toml")
}

// loadConfig loads configuration from the first available config file and
// applies --data-dir.
func loadConfig() (*config.Config, error) {
	cfg := config.DefaultConfig()
	for _, path := range configPaths() {
		if _, err := os.Stat(path); err == nil {
			loaded, err := config.Load(path)
			if err != nil {
				return nil, err
			}
			cfg = loaded
			break
		}
	}
	if dataDir != "" {
		cfg.Storage.Path = dataDir
	}
	return cfg, nil
}

// identityKeyPath is the identity key file under the data directory.
func identityKeyPath(cfg *config.Config) string {
	return filepath.Join(cfg.Storage.Path, p2p.IdentityKeyFile)
}

// loadIdentity derives the key from --seed, or loads (creating on first use)
// the key file in the data directory.
func loadIdentity(cfg *config.Config) (crypto.PrivKey, error) {
	if seed != "" {
		return p2p.IdentityFromSeed([]byte(seed))
	}
	return p2p.LoadOrCreateIdentity(cfg.Storage.Path)
}

// openStore opens the configured local tiers.
func openStore(cfg *config.Config, logger *zap.Logger) (*storage.Models, error) {
	// sizes were checked by config.Validate
	memMax, _ := config.ParseSize(cfg.Storage.MemoryMaxSize)
	diskMax, _ := config.ParseSize(cfg.Storage.DiskMaxSize)
	minFree, _ := config.ParseSize(cfg.Storage.MinFreeSpace)

	return storage.Open(storage.Options{
		Tiers:         cfg.Storage.Tiers,
		Path:          cfg.Storage.Path,
		MemoryMaxSize: memMax,
		DiskMaxSize:   diskMax,
		MinFreeSpace:  minFree,
		Compress:      cfg.Storage.Compress,
	}, logger.Named("storage"))
}

// parseScope turns a --scope value into the hash that keys entries.
func parseScope(s string) *hash.Hash {
	if s == "" {
		return nil
	}
	h := hash.New([]byte(s), nil)
	return &h
}

// instance bundles what a running node needs so commands can share startup
// and teardown.
type instance struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *metrics.Metrics
	store   *storage.Models
	session *p2p.Session
	limiter *ratelimit.PeerLimiter
	node    *node.Node
	client  *node.Client

	cancel context.CancelFunc
	runErr chan error
}

// startNode creates the session and node and runs the node in the
// background. The returned instance must be closed.
func startNode(ctx context.Context, cfg *config.Config, store *storage.Models, logger *zap.Logger) (*instance, error) {
	key, err := loadIdentity(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load identity: %w", err)
	}

	m := metrics.New()
	if store != nil {
		store.Instrument(m)
	}

	maxMsg, _ := config.ParseSize(cfg.Protocol.MaxMessageSize)
	uploadRate, _ := config.ParseRate(cfg.Protocol.MaxUploadRate)

	tcfg := timeouts.DefaultConfig()
	if d := cfg.DHT.DialTimeoutDuration(); d > 0 {
		tcfg.Dial = d
	}
	if d := cfg.DHT.QueryTimeoutDuration(); d > 0 {
		tcfg.FindProviders = d
		tcfg.ClosestPeers = d
	}
	if d := cfg.Protocol.RequestTimeoutDuration(); d > 0 {
		tcfg.Request = d
	}
	tcfg.Adaptive = cfg.DHT.AdaptiveTimeouts

	session, err := p2p.New(ctx, p2p.Config{
		PrivateKey:         key,
		BootstrapPeers:     cfg.Network.BootstrapPeers,
		EnableMDNS:         cfg.Network.EnableMDNS,
		EnableNAT:          cfg.Network.EnableNAT,
		EnableRelay:        cfg.Network.EnableRelay,
		EnableRelayService: cfg.Network.EnableRelayService,
		EnableHolePunching: cfg.Network.EnableHolePunching,
		MaxConnections:     cfg.Network.MaxConnections,
		DHTMode:            cfg.DHT.Mode,
		ProviderCount:      cfg.DHT.ProviderCount,
		MaxMessageSize:     maxMsg,
		MaxUploadRate:      uploadRate,
		PeerAllowlist:      cfg.Network.PeerAllowlist,
		PeerBlocklist:      cfg.Network.PeerBlocklist,
		PublicAddrsOnly:    cfg.Network.PublicAddrsOnly,
		KeepaliveInterval:  cfg.Network.KeepaliveDuration(),
		UserAgent:          "gra/" + version,
		Timeouts:           timeouts.NewManager(tcfg),
		Metrics:            m,
	}, logger.Named("p2p"))
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	limiter := ratelimit.NewPeerLimiter(ratelimit.RequestConfig{
		Rate:   cfg.Protocol.RequestRate,
		Burst:  cfg.Protocol.RequestBurst,
		Logger: logger.Named("ratelimit"),
	})

	policy := models.DefaultRecordPolicy()
	policy.RefTTL = cfg.DHT.RefRecordTTLDuration()

	n := node.New(session, node.Config{
		Store:        store,
		Limiter:      limiter,
		RecordPolicy: policy,
		Metrics:      m,
	}, logger.Named("node"))

	runCtx, cancel := context.WithCancel(ctx)
	rt := &instance{
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		store:   store,
		session: session,
		limiter: limiter,
		node:    n,
		client:  n.Client(),
		cancel:  cancel,
		runErr:  make(chan error, 1),
	}
	go func() { rt.runErr <- n.Run(runCtx) }()

	return rt, nil
}

// listen starts every configured listen address.
func (rt *instance) listen(ctx context.Context) error {
	for _, s := range rt.cfg.Network.ListenAddrs {
		addr, err := parseMultiaddr(s)
		if err != nil {
			return err
		}
		addrs, err := rt.client.StartListening(ctx, addr)
		if err != nil {
			return err
		}
		for _, a := range addrs {
			rt.logger.Info("Listening", zap.Stringer("addr", a))
		}
	}
	return nil
}

// Close stops the node, then the session and limiter. The store is owned by
// the caller.
func (rt *instance) Close() error {
	rt.cancel()
	<-rt.node.Done()
	rt.limiter.Close()
	return rt.session.Close()
}

func parseMultiaddr(s string) (ma.Multiaddr, error) {
	addr, err := ma.NewMultiaddr(s)
	if err != nil {
		return nil, fmt.Errorf("invalid multiaddr %q: %w", s, err)
	}
	return addr, nil
}

// formatBytes formats a byte count as a human-readable string.
func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}
