package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gra-p2p/gra/internal/hash"
	"github.com/gra-p2p/gra/internal/models"
)

func storeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "store",
		Short: "Inspect the local store",
	}

	cmd.AddCommand(storeListCmd())
	cmd.AddCommand(storeShowCmd())

	return cmd
}

func storeListCmd() *cobra.Command {
	var entries bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored blocks (or entries with --entries)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, err := setupLogger(cfg)
			if err != nil {
				return fmt.Errorf("failed to setup logger: %w", err)
			}
			store, err := openStore(cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to open store: %w", err)
			}
			defer func() { _ = store.Close() }()

			ctx := context.Background()
			w := cmd.OutOrStdout()

			if entries {
				ids, err := store.Entries.List(ctx)
				if err != nil {
					return fmt.Errorf("failed to list entries: %w", err)
				}
				for _, id := range ids {
					e, err := store.Entries.Read(ctx, id)
					if err != nil {
						fmt.Fprintf(w, "%s  (unreadable: %v)\n", id, err)
						continue
					}
					fmt.Fprintf(w, "%s -> %s\n", id, e.Value().KeyHex())
				}
				fmt.Fprintf(w, "\n%d entries\n", len(ids))
				return nil
			}

			ids, err := store.Blocks.List(ctx)
			if err != nil {
				return fmt.Errorf("failed to list blocks: %w", err)
			}
			for _, id := range ids {
				b, err := store.Blocks.Read(ctx, id)
				if err != nil {
					fmt.Fprintf(w, "%s  (unreadable: %v)\n", id, err)
					continue
				}
				fmt.Fprintf(w, "%s  %s\n", id, b.Kind())
			}
			fmt.Fprintf(w, "\n%d blocks in %v\n", len(ids), store.Tiers())
			return nil
		},
	}

	cmd.Flags().BoolVar(&entries, "entries", false, "list entries instead of blocks")

	return cmd
}

func storeShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <key>",
		Short: "Show details of a stored block",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := hash.ParseKey(args[0])
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
			store, err := openStore(cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to open store: %w", err)
			}
			defer func() { _ = store.Close() }()

			b, err := store.GetBlock(context.Background(), h)
			if err != nil {
				return fmt.Errorf("failed to read block: %w", err)
			}
			encoded, err := models.Encode(b)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Block\n")
			fmt.Fprintf(w, "══════════════════════════════════════\n")
			fmt.Fprintf(w, "Hash:        %s\n", h)
			fmt.Fprintf(w, "Provider:    %s\n", h.CID())
			fmt.Fprintf(w, "Kind:        %s\n", b.Kind())
			fmt.Fprintf(w, "Encoded:     %s\n", formatBytes(int64(len(encoded))))

			switch v := b.(type) {
			case *models.Bytes:
				fmt.Fprintf(w, "Chunks:      %d\n", v.Len())
			case *models.Ref:
				fmt.Fprintf(w, "Target:      %s\n", v.Target.KeyHex())
			case *models.Composite:
				fmt.Fprintf(w, "Timestamp:   %s\n", v.Timestamp)
				fmt.Fprintf(w, "Confidence:  %d\n", v.Confidence)
				fmt.Fprintf(w, "Children:    %d\n", len(v.Children))
				if v.Scope != nil {
					fmt.Fprintf(w, "Scope:       %s\n", v.Scope)
				}
			}
			return nil
		},
	}
}
