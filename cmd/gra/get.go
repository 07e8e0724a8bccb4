package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gra-p2p/gra/internal/config"
	"github.com/gra-p2p/gra/internal/hash"
	"github.com/gra-p2p/gra/internal/models"
	"github.com/gra-p2p/gra/internal/storage"
)

func getCmd() *cobra.Command {
	var (
		out      string
		peerAddr string
		offline  bool
		timeout  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Fetch a block by key",
		Long: `Fetch a block and write its data. The key is the hex form printed by
'gra add': a block hash, or an entry key which is resolved to its block.

Blocks missing locally are fetched from DHT providers, or from --peer when
given, and cached in the local store.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := hash.ParseKey(args[0])
			if err != nil {
				return fmt.Errorf("invalid key: %w", err)
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, err := setupLogger(cfg)
			if err != nil {
				return fmt.Errorf("failed to setup logger: %w", err)
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			store, err := openStore(cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to open store: %w", err)
			}
			defer func() { _ = store.Close() }()

			target := key
			if e, err := store.GetEntry(ctx, key); err == nil {
				target = e.Value()
				logger.Debug("Resolved entry", zap.Stringer("key", key), zap.Stringer("block", target))
			}

			b, err := store.GetBlock(ctx, target)
			switch {
			case err == nil:
			case errors.Is(err, storage.ErrNotFound) && !offline:
				b, err = fetchRemote(ctx, cfg, store, logger, target, peerAddr)
				if err != nil {
					return err
				}
				if _, err := store.PutBlock(ctx, b); err != nil {
					logger.Warn("Failed to cache fetched block", zap.Error(err))
				}
			default:
				return fmt.Errorf("failed to read %s: %w", target, err)
			}

			w := cmd.OutOrStdout()
			if out != "" && out != "-" {
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			return writeBlock(w, b)
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "", "write data to this file instead of stdout")
	cmd.Flags().StringVar(&peerAddr, "peer", "", "ask this peer (multiaddr with /p2p/<id>) instead of DHT providers")
	cmd.Flags().BoolVar(&offline, "offline", false, "only read the local store")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "give up after this long (0 = no limit)")

	return cmd
}

// fetchRemote starts a node and reads target through a remote tier.
func fetchRemote(ctx context.Context, cfg *config.Config, store *storage.Models, logger *zap.Logger, target hash.Hash, peerAddr string) (models.Block, error) {
	rt, err := startNode(ctx, cfg, store, logger)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rt.Close() }()

	if err := rt.listen(ctx); err != nil {
		return nil, fmt.Errorf("failed to listen: %w", err)
	}

	if peerAddr != "" {
		addr, err := parseMultiaddr(peerAddr)
		if err != nil {
			return nil, err
		}
		info, err := peer.AddrInfoFromP2pAddr(addr)
		if err != nil {
			return nil, fmt.Errorf("--peer needs a /p2p/<id> component: %w", err)
		}
		if err := rt.client.Dial(ctx, info.ID, info.Addrs...); err != nil {
			return nil, fmt.Errorf("failed to dial %s: %w", info.ID, err)
		}
		return rt.client.RequestBlock(ctx, target, []peer.ID{info.ID})
	}

	select {
	case <-rt.session.Bootstrapped():
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	remote, err := storage.NewModels(storage.NewRemote(rt.client))
	if err != nil {
		return nil, err
	}
	return remote.GetBlock(ctx, target)
}

// writeBlock writes the payload of b. References print their target.
func writeBlock(w io.Writer, b models.Block) error {
	switch v := b.(type) {
	case *models.Bytes:
		_, err := w.Write(v.Data())
		return err
	case *models.Composite:
		if v.Data == nil {
			return nil
		}
		return writeBlock(w, v.Data)
	case *models.Ref:
		_, err := fmt.Fprintf(w, "ref %s\n", v.Target.KeyHex())
		return err
	default:
		return fmt.Errorf("unknown block kind %v", b.Kind())
	}
}
