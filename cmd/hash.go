package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/agentic-research/canvas/api"
	"github.com/agentic-research/canvas/internal/versionhash"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var hashPayload bool

func init() {
	hashCmd.Flags().BoolVar(&hashPayload, "payload", false, "Hash an arbitrary JSON payload (a draft's data) instead of component settings")
	rootCmd.AddCommand(hashCmd)
}

var hashCmd = &cobra.Command{
	Use:   "hash [settings.yaml]",
	Short: "Print the version hash of a component settings snapshot",
	Long: `Reads component settings ({slots, inputs}) as YAML or JSON from the file,
or stdin when omitted or "-", and prints the hash a version of those
settings would get. With --payload the input is hashed as a draft payload.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		in := cmd.InOrStdin()
		if len(args) == 1 && args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open input: %w", err)
			}
			defer func() { _ = f.Close() }()
			in = f
		}
		return runHash(in, cmd.OutOrStdout(), hashPayload)
	},
}

func runHash(in io.Reader, out io.Writer, payload bool) error {
	src, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	var hash string
	if payload {
		hash, err = versionhash.Hash(src)
	} else {
		var settings api.ComponentSettings
		if err := yaml.Unmarshal(src, &settings); err != nil {
			return fmt.Errorf("parse settings: %w", err)
		}
		hash, err = versionhash.Hash(settings)
	}
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, hash)
	return err
}
