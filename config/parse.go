package config

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/mitchellh/go-homedir"
	"github.com/turbot/pipe-fittings/error_helpers"
	"github.com/turbot/tailpipe-firehose-processor/constants"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
)

// Load reads the config file at path, or at the path named by the config env var if path is empty.
// With no file the defaults are used. Environment overrides are applied and the result validated.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(constants.EnvConfigPath)
	}

	cfg := &Config{}
	if path != "" {
		expanded, err := homedir.Expand(path)
		if err != nil {
			return nil, fmt.Errorf("failed to expand config path %s: %w", path, err)
		}
		data, err := os.ReadFile(expanded)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if cfg, err = ParseConfig(data, expanded); err != nil {
			return nil, err
		}
		slog.Info("Loaded config", "path", expanded)
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseConfig decodes HCL config
func ParseConfig(data []byte, filename string) (*Config, error) {
	file, diags := hclsyntax.ParseConfig(data, filename, hcl.Pos{Line: 1, Column: 1})
	if diags.HasErrors() {
		return nil, error_helpers.HclDiagsToError("failed to parse config", diags)
	}

	evalCtx := &hcl.EvalContext{
		Variables: make(map[string]cty.Value),
		Functions: make(map[string]function.Function),
	}
	var cfg Config
	moreDiags := gohcl.DecodeBody(file.Body, evalCtx, &cfg)
	diags = append(diags, moreDiags...)
	if diags.HasErrors() {
		return nil, error_helpers.HclDiagsToError("failed to parse config", diags)
	}
	return &cfg, nil
}
