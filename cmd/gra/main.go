// gra is a peer-to-peer content-addressed block exchange
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Set at build time via -ldflags
	version = "dev"

	cfgFile  string
	logLevel string
	logFile  string
	dataDir  string
	seed     string
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "gra",
		Short: "Peer-to-peer content-addressed block exchange",
		Long: `gra hashes files into immutable, content-addressed blocks, announces
them on a Kademlia DHT and fetches blocks from whichever peers provide them.

Features:
  • BLAKE3 content addressing with optional scopes
  • Provider records on a private-prefix DHT
  • Block request/response over libp2p (TCP and QUIC)
  • Tiered local store (memory, disk with SQLite index)
  • Prometheus metrics for monitoring`,
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "log file path (default: stderr)")
	rootCmd.PersistentFlags().StringVarP(&dataDir, "data-dir", "d", "", "data directory (default: storage.path)")
	rootCmd.PersistentFlags().StringVar(&seed, "seed", "", "derive the node identity from this seed instead of the key file")

	rootCmd.AddCommand(daemonCmd())
	rootCmd.AddCommand(addCmd())
	rootCmd.AddCommand(getCmd())
	rootCmd.AddCommand(storeCmd())
	rootCmd.AddCommand(identityCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(versionCmd())

	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
