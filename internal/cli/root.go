// Package cli implements the entitymeta command line.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"portal/internal/backend"
	"portal/internal/config"
	"portal/internal/entities"
	"portal/internal/logger"
	"portal/internal/metadata"
)

type rootOptions struct {
	configPath string
	provider   string
	verbose    bool
}

func NewRootCommand(out io.Writer) *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "entitymeta",
		Short:         "Inspect portal entity metadata",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetOut(out)
	cmd.SetErr(out)

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "Path to a config file (default: ./entitymeta.yaml)")
	flags.StringVar(&opts.provider, "provider", "", "Override the configured provider (postgres|table|memory)")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Log provider activity to stderr")

	cmd.AddCommand(
		newValidateCommand(out),
		newGetCommand(out, opts),
		newQueryCommand(out, opts),
	)
	return cmd
}

func (o *rootOptions) loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if o.configPath != "" {
		cfg, err = config.LoadFile(o.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if o.provider != "" {
		cfg.Provider = o.provider
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func (o *rootOptions) logger(cfg *config.Config) zerolog.Logger {
	if !o.verbose {
		return zerolog.Nop()
	}
	return logger.New(logger.Config{Level: cfg.Log.Level, Pretty: true, Output: os.Stderr})
}

// withProvider opens the configured provider for the duration of fn.
func (o *rootOptions) withProvider(ctx context.Context, fn func(*metadata.Registry, *backend.Opened) error) error {
	cfg, err := o.loadConfig()
	if err != nil {
		return err
	}
	reg, err := entities.NewRegistry()
	if err != nil {
		return err
	}
	opened, err := backend.Open(ctx, cfg, reg, o.logger(cfg))
	if err != nil {
		return err
	}
	defer opened.Close()
	return fn(reg, opened)
}

func resolveType(reg *metadata.Registry, name string) (metadata.EntityMetadataType, error) {
	t, ok := reg.TypeByName(name)
	if !ok {
		return t, fmt.Errorf("unknown entity type %q", name)
	}
	return t, nil
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseArgs(pairs []string) (map[string]string, error) {
	args := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("argument %q is not key=value", pair)
		}
		args[key] = value
	}
	return args, nil
}
