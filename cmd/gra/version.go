package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gra-p2p/gra/internal/p2p"
)

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "gra version %s\n", version)
			fmt.Fprintf(w, "\nProtocols:\n")
			fmt.Fprintf(w, "  • %s\n", p2p.ProtocolBlock)
			fmt.Fprintf(w, "  • %s/kad/1.0.0\n", p2p.DHTPrefix)
		},
	}
}
