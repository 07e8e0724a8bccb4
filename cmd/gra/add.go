package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gra-p2p/gra/internal/config"
	"github.com/gra-p2p/gra/internal/reader"
	"github.com/gra-p2p/gra/internal/storage"
)

const bootstrapWait = 30 * time.Second

func addCmd() *cobra.Command {
	var (
		scope string
		serve bool
	)

	cmd := &cobra.Command{
		Use:   "add <path>",
		Short: "Add a file or directory to the local store",
		Long: `Read a file, or every file under a directory, into byte blocks and store
them with an entry keyed by the hash of the path.

With --serve the blocks are also announced on the DHT and the command keeps
serving them until interrupted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, err := setupLogger(cfg)
			if err != nil {
				return fmt.Errorf("failed to setup logger: %w", err)
			}
			defer func() { _ = logger.Sync() }()

			store, err := openStore(cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to open store: %w", err)
			}
			defer func() { _ = store.Close() }()

			if !serve {
				items, err := storeItems(cmd.Context(), store, args[0], scope)
				if err != nil {
					return err
				}
				printItems(cmd.OutOrStdout(), items)
				return nil
			}
			return addAndServe(cmd, cfg, store, logger, args[0], scope)
		},
	}

	cmd.Flags().StringVar(&scope, "scope", "", "key entries under this scope")
	cmd.Flags().BoolVar(&serve, "serve", false, "announce the blocks and keep serving them")

	return cmd
}

// storeItems reads path into the store without touching the network.
func storeItems(ctx context.Context, store *storage.Models, path, scope string) ([]reader.Item, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	items, err := reader.AddPath(path, parseScope(scope))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	for _, item := range items {
		if _, err := store.PutBlock(ctx, item.Block); err != nil {
			return nil, fmt.Errorf("failed to store block for %s: %w", item.Path, err)
		}
		if err := store.PutEntry(ctx, item.Entry); err != nil {
			return nil, fmt.Errorf("failed to store entry for %s: %w", item.Path, err)
		}
	}
	return items, nil
}

func addAndServe(cmd *cobra.Command, cfg *config.Config, store *storage.Models, logger *zap.Logger, path, scope string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := startNode(ctx, cfg, store, logger)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	if err := rt.listen(ctx); err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	select {
	case <-rt.session.Bootstrapped():
	case <-time.After(bootstrapWait):
		logger.Warn("Bootstrap still running, announcing anyway")
	case <-ctx.Done():
		return ctx.Err()
	}

	items, err := rt.client.AddPath(ctx, path, parseScope(scope))
	if err != nil {
		return err
	}
	printItems(cmd.OutOrStdout(), items)

	fmt.Fprintf(cmd.OutOrStdout(), "\nServing as %s (Ctrl-C to stop)\n", rt.node.LocalPeer())
	select {
	case <-ctx.Done():
	case err := <-rt.runErr:
		return err
	}
	return nil
}

func printItems(w io.Writer, items []reader.Item) {
	for _, item := range items {
		fmt.Fprintf(w, "%s  %s  (%d chunks)\n", item.Block.Hash().KeyHex(), item.Path, item.Block.Len())
	}
	if len(items) == 0 {
		fmt.Fprintln(w, "No files found")
	}
}
