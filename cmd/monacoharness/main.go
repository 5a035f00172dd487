// Command monacoharness bundles a Monaco editor test page and serves it.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/coder/monacoharness/buildinfo"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "monacoharness",
		Short:         "Serve a Monaco editor page for browser tests",
		Version:       buildinfo.Version(),
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().BoolP("verbose", "v", false, "log at debug level")

	root.AddCommand(newServeCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
