// Package config loads the canvas server configuration from an HCL file.
//
//	listen      = ":8080"
//	definitions = "components.yaml"
//
//	log {
//	  level  = "info"
//	  format = "json"
//	}
//
//	storage {
//	  backend = "sqlite"
//	  path    = "canvas.db"
//	}
//
//	kind "landing_page" {
//	  tree_path              = "$.layout"
//	  forbidden_capabilities = ["page_title"]
//	}
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/agentic-research/canvas/internal/ctxlog"
	"github.com/agentic-research/canvas/internal/draft"
	"github.com/agentic-research/canvas/internal/tree"
	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
)

// Storage backends.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
)

// Config is the decoded configuration file.
type Config struct {
	Listen      string         `hcl:"listen,optional" validate:"required"`
	Definitions string         `hcl:"definitions,optional"`
	Log         *LogConfig     `hcl:"log,block" validate:"required"`
	Storage     *StorageConfig `hcl:"storage,block" validate:"required"`
	Kinds       []*KindConfig  `hcl:"kind,block" validate:"dive"`
}

type LogConfig struct {
	Level  string `hcl:"level,optional" validate:"oneof=debug info warn error"`
	Format string `hcl:"format,optional" validate:"oneof=text json"`
}

type StorageConfig struct {
	Backend string `hcl:"backend,optional" validate:"oneof=memory sqlite badger"`
	// Path is the sqlite file or the badger directory.
	Path string `hcl:"path,optional" validate:"required_unless=Backend memory"`
}

// KindConfig declares a tree-owning object kind, or overrides a built-in one
// of the same name.
type KindConfig struct {
	Name                  string   `hcl:"name,label" validate:"required"`
	TreePath              string   `hcl:"tree_path,optional"`
	ExposedSlotsPath      string   `hcl:"exposed_slots_path,optional"`
	ForbiddenCapabilities []string `hcl:"forbidden_capabilities,optional"`
	StaticInputsOnly      bool     `hcl:"static_inputs_only,optional"`
}

var validate = validator.New()

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Listen:  ":8080",
		Log:     &LogConfig{Level: "info", Format: "text"},
		Storage: &StorageConfig{Backend: BackendMemory},
	}
}

// Load reads the file at path. An empty path yields Default().
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := Parse(src, path)
	if err != nil {
		return nil, err
	}
	// relative paths in the file are relative to the file
	dir := filepath.Dir(path)
	cfg.Definitions = resolve(dir, cfg.Definitions)
	if cfg.Storage.Backend != BackendMemory {
		cfg.Storage.Path = resolve(dir, cfg.Storage.Path)
	}
	return cfg, nil
}

func resolve(dir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}

// Parse decodes HCL source, fills defaults and validates the result.
func Parse(src []byte, filename string) (*Config, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file %s: %w", filename, diags)
	}

	var cfg Config
	diags = gohcl.DecodeBody(file.Body, nil, &cfg)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL file %s: %w", filename, diags)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	def := Default()
	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.Log == nil {
		c.Log = def.Log
	}
	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = def.Log.Format
	}
	if c.Storage == nil {
		c.Storage = def.Storage
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = def.Storage.Backend
	}
}

// Validate checks field constraints and kind uniqueness.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid config: %s fails %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	seen := make(map[string]bool, len(c.Kinds))
	for _, k := range c.Kinds {
		if seen[k.Name] {
			return fmt.Errorf("invalid config: kind %q declared twice", k.Name)
		}
		seen[k.Name] = true
	}
	return nil
}

// KindSpecs returns the built-in object kinds with the configured ones
// applied on top.
func (c *Config) KindSpecs() []draft.KindSpec {
	specs := draft.DefaultKinds()
	for _, k := range c.Kinds {
		specs = append(specs, draft.KindSpec{
			Name:             k.Name,
			TreePath:         k.TreePath,
			ExposedSlotsPath: k.ExposedSlotsPath,
			Policy: tree.Policy{
				ForbiddenCapabilities: k.ForbiddenCapabilities,
				StaticInputsOnly:      k.StaticInputsOnly,
			},
		})
	}
	return specs
}

// Logger builds the process logger described by the log block.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	return ctxlog.New(c.Log.Level, c.Log.Format, w)
}
