package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/agentic-research/canvas/api"
	"github.com/agentic-research/canvas/internal/config"
	"github.com/agentic-research/canvas/internal/definition"
	"github.com/agentic-research/canvas/internal/draft"
	"github.com/agentic-research/canvas/internal/problem"
	"github.com/agentic-research/canvas/internal/tree"
	"github.com/spf13/cobra"
)

var (
	canonKind        string
	canonDefinitions string
)

func init() {
	canonicalizeCmd.Flags().StringVarP(&canonKind, "kind", "k", "", "Object kind whose policy applies")
	canonicalizeCmd.Flags().StringVarP(&canonDefinitions, "definitions", "d", "", "Component definitions YAML (overrides config)")
	rootCmd.AddCommand(canonicalizeCmd)
}

var canonicalizeCmd = &cobra.Command{
	Use:   "canonicalize [tree.json]",
	Short: "Validate a component tree and print it in canonical order",
	Long: `Reads a tree from the file (or stdin when omitted or "-"). The input is
either a JSON array of items or an object {"kind", "items", "exposed_slots"}.
Prints the canonical entries, or the list of violations and exits non-zero.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		path := cfg.Definitions
		if canonDefinitions != "" {
			path = canonDefinitions
		}
		var defs []*api.ComponentDefinition
		if path != "" {
			if defs, err = definition.LoadYAMLFile(path); err != nil {
				return err
			}
		}
		kinds, err := draft.NewKinds(cfg.KindSpecs()...)
		if err != nil {
			return err
		}

		in := cmd.InOrStdin()
		if len(args) == 1 && args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open tree: %w", err)
			}
			defer func() { _ = f.Close() }()
			in = f
		}
		return runCanonicalize(in, cmd.OutOrStdout(), definition.NewCatalog(defs...), kinds, canonKind)
	},
}

type canonicalInput struct {
	Kind         string            `json:"kind"`
	Items        []json.RawMessage `json:"items"`
	ExposedSlots []api.ExposedSlot `json:"exposed_slots"`
}

func runCanonicalize(in io.Reader, out io.Writer, cat tree.Catalog, kinds *draft.Kinds, kind string) error {
	src, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("read tree: %w", err)
	}
	var input canonicalInput
	if trimmed := bytes.TrimSpace(src); len(trimmed) > 0 && trimmed[0] == '[' {
		err = json.Unmarshal(trimmed, &input.Items)
	} else {
		err = json.Unmarshal(src, &input)
	}
	if err != nil {
		return fmt.Errorf("parse tree: %w", err)
	}
	if kind == "" {
		kind = input.Kind
	}

	var policy tree.Policy
	if kind != "" {
		spec, ok := kinds.Lookup(kind)
		if !ok {
			return fmt.Errorf("unknown object kind %q (known: %v)", kind, kinds.Names())
		}
		policy = spec.Policy
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")

	items, problems := tree.DecodeItems(input.Items)
	if len(problems) == 0 {
		c, err := tree.Analyze(items, input.ExposedSlots, cat, policy)
		if err == nil {
			return enc.Encode(c)
		}
		if problems = problem.From(err); len(problems) == 0 {
			return err
		}
	}
	if err := enc.Encode(map[string]any{"errors": problems}); err != nil {
		return err
	}
	return fmt.Errorf("tree has %d problem(s)", len(problems))
}
