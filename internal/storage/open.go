package storage

import (
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Tier names accepted by Open.
const (
	TierMemory = "memory"
	TierDisk   = "disk"
)

// Options selects and configures the local tiers.
type Options struct {
	Tiers         []string
	Path          string
	MemoryMaxSize int64
	DiskMaxSize   int64
	MinFreeSpace  int64
	Compress      bool
}

// ParseTier validates a tier name.
func ParseTier(name string) (string, error) {
	switch n := strings.ToLower(strings.TrimSpace(name)); n {
	case TierMemory, TierDisk:
		return n, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownTier, name)
	}
}

// Open builds the configured local tiers in order.
func Open(opts Options, logger *zap.Logger) (*Models, error) {
	if len(opts.Tiers) == 0 {
		return nil, ErrNoTiers
	}

	var tiers []Tier
	closeAll := func() {
		var errs error
		for _, t := range tiers {
			errs = multierr.Append(errs, t.Close())
		}
		if errs != nil {
			logger.Debug("Failed to close tiers during cleanup", zap.Error(errs))
		}
	}

	for _, name := range opts.Tiers {
		kind, err := ParseTier(name)
		if err != nil {
			closeAll()
			return nil, err
		}
		switch kind {
		case TierMemory:
			tiers = append(tiers, NewMemory(opts.MemoryMaxSize))
		case TierDisk:
			if opts.Path == "" {
				closeAll()
				return nil, fmt.Errorf("storage: disk tier needs a path")
			}
			d, err := NewDisk(filepath.Join(opts.Path, "store"), DiskOptions{
				MaxSize:      opts.DiskMaxSize,
				MinFreeSpace: opts.MinFreeSpace,
				Compress:     opts.Compress,
			}, logger.Named("disk"))
			if err != nil {
				closeAll()
				return nil, err
			}
			tiers = append(tiers, d)
		}
	}

	logger.Debug("Opened store", zap.Strings("tiers", opts.Tiers))
	return NewModels(tiers...)
}
