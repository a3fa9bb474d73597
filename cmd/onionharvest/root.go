package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command for onionharvest.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "onionharvest",
		Short: "Threat intelligence crawler for Tor hidden services",
		Long: `onionharvest crawls Tor hidden services (.onion sites) through a Tor SOCKS
proxy, deduplicates pages by content, extracts indicators of compromise
and assigns every page a risk label.

Results are written as JSON, CSV, SQLite and optionally XLSX, together
with a self-contained HTML report.

For authorized security and OSINT research only.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(NewCrawlCmd())
	cmd.AddCommand(NewReportCmd())
	cmd.AddCommand(NewInitCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		if !errors.Is(err, errNoSiteCompleted) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
