package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is reported by the MCP server and `canvas --version`.
var Version = "dev"

var configPath string

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to HCL config file (defaults apply when empty)")
}

var rootCmd = &cobra.Command{
	Use:           "canvas",
	Short:         "Canvas: component tree canonicalization and draft auto-save",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
