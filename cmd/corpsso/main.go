// Command corpsso is the EVE Online corporation access gateway.
//
// Usage:
//
//	corpsso serve                      run the HTTP server
//	corpsso corp register ID NAME      register a corporation
//	corpsso corp list|activate|deactivate
//	corpsso user add USERNAME          create a manual account
//	corpsso user list
//	corpsso version
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "corpsso",
		Short:        "EVE Online corporation access gateway",
		SilenceUsage: true,
		Version:      version,
	}
	root.SetVersionTemplate(`{{printf "corpsso version %s\n" .Version}}`)
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "corpsso.yaml", "path to the config file")

	root.AddCommand(
		newServeCmd(&configPath),
		newCorpCmd(&configPath),
		newUserCmd(&configPath),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of corpsso",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "corpsso version %s\n", version)
		},
	}
}
