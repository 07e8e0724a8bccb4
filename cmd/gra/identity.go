package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/gra-p2p/gra/internal/p2p"
)

func identityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "identity",
		Short: "Manage node identity",
		Long: `Manage the identity key for this node.

The identity key determines the peer ID. It is created in the data directory
the first time a node starts, or derived from --seed when that flag is set.`,
	}

	cmd.AddCommand(identityShowCmd())
	cmd.AddCommand(identityRegenerateCmd())

	return cmd
}

func identityShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show current identity information",
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()

			fmt.Fprintf(w, "Node Identity\n")
			fmt.Fprintf(w, "══════════════════════════════════════\n")

			if seed != "" {
				privKey, err := p2p.IdentityFromSeed([]byte(seed))
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "Peer ID:     %s\n", p2p.IdentityFingerprint(privKey))
				fmt.Fprintf(w, "Source:      --seed\n")
				fmt.Fprintf(w, "Key Type:    Ed25519\n")
				return nil
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			keyPath := identityKeyPath(cfg)

			if _, err := os.Stat(keyPath); os.IsNotExist(err) {
				fmt.Fprintf(w, "Status:      No persistent identity\n")
				fmt.Fprintf(w, "Key File:    %s (not created yet)\n", keyPath)
				fmt.Fprintf(w, "\nAn identity will be created when a node first starts.\n")
				return nil
			}

			privKey, err := p2p.LoadIdentity(keyPath)
			if err != nil {
				return fmt.Errorf("failed to load identity: %w", err)
			}

			fmt.Fprintf(w, "Peer ID:     %s\n", p2p.IdentityFingerprint(privKey))
			fmt.Fprintf(w, "Key File:    %s\n", keyPath)
			fmt.Fprintf(w, "Key Type:    Ed25519\n")
			return nil
		},
	}
}

func identityRegenerateCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "regenerate",
		Short: "Regenerate the identity key (WARNING: changes peer ID)",
		Long: `Generate a new identity key, replacing the existing one.

WARNING: This changes the peer ID. Provider records announced under the old
ID stay on the DHT until they expire, and allowlists naming the old ID need
updating.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			keyPath := identityKeyPath(cfg)
			w := cmd.OutOrStdout()

			if _, err := os.Stat(keyPath); err == nil && !force {
				if privKey, err := p2p.LoadIdentity(keyPath); err == nil {
					fmt.Fprintf(w, "Current Peer ID: %s\n\n", p2p.IdentityFingerprint(privKey))
				}
				return fmt.Errorf("identity file exists at %s\n\nUse --force to regenerate (this will change your peer ID)", keyPath)
			}

			if err := os.MkdirAll(filepath.Dir(keyPath), 0700); err != nil {
				return fmt.Errorf("failed to create identity directory: %w", err)
			}

			privKey, err := p2p.GenerateIdentity()
			if err != nil {
				return fmt.Errorf("failed to generate identity: %w", err)
			}
			if err := p2p.SaveIdentity(privKey, keyPath); err != nil {
				return fmt.Errorf("failed to save identity: %w", err)
			}

			fmt.Fprintf(w, "New Identity Generated\n")
			fmt.Fprintf(w, "══════════════════════════════════════\n")
			fmt.Fprintf(w, "Peer ID:     %s\n", p2p.IdentityFingerprint(privKey))
			fmt.Fprintf(w, "Key File:    %s\n", keyPath)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Force regeneration even if identity exists")

	return cmd
}
