package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gra-p2p/gra/internal/config"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	cmd.AddCommand(configShowCmd())
	cmd.AddCommand(configInitCmd())

	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Configuration\n")
			fmt.Fprintf(w, "══════════════════════════════════════\n")
			fmt.Fprintf(w, "\n[network]\n")
			fmt.Fprintf(w, "  listen_addrs    = %s\n", strings.Join(cfg.Network.ListenAddrs, ", "))
			fmt.Fprintf(w, "  bootstrap_peers = %d\n", len(cfg.Network.BootstrapPeers))
			fmt.Fprintf(w, "  max_connections = %d\n", cfg.Network.MaxConnections)
			fmt.Fprintf(w, "  enable_mdns     = %v\n", cfg.Network.EnableMDNS)
			fmt.Fprintf(w, "\n[dht]\n")
			fmt.Fprintf(w, "  mode            = %s\n", cfg.DHT.Mode)
			fmt.Fprintf(w, "  query_timeout   = %s\n", cfg.DHT.QueryTimeout)
			fmt.Fprintf(w, "  ref_record_ttl  = %s\n", cfg.DHT.RefRecordTTL)
			fmt.Fprintf(w, "\n[storage]\n")
			fmt.Fprintf(w, "  tiers           = %s\n", strings.Join(cfg.Storage.Tiers, ", "))
			fmt.Fprintf(w, "  path            = %s\n", cfg.Storage.Path)
			fmt.Fprintf(w, "  disk_max_size   = %s\n", cfg.Storage.DiskMaxSize)
			fmt.Fprintf(w, "\n[protocol]\n")
			fmt.Fprintf(w, "  max_message_size = %s\n", cfg.Protocol.MaxMessageSize)
			fmt.Fprintf(w, "  max_upload_rate  = %s\n", cfg.Protocol.MaxUploadRate)
			fmt.Fprintf(w, "\n[metrics]\n")
			fmt.Fprintf(w, "  enabled         = %v\n", cfg.Metrics.Enabled)
			fmt.Fprintf(w, "  bind            = %s\n", cfg.Metrics.Bind)
			fmt.Fprintf(w, "\n[logging]\n")
			fmt.Fprintf(w, "  level           = %s\n", cfg.Logging.Level)

			return nil
		},
	}
}

func configInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.DefaultConfig()
			cfgPath := defaultConfigPath()

			if err := cfg.Save(cfgPath); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Created configuration file: %s\n", cfgPath)
			return nil
		},
	}
}
