// Package cmd is the command line of the schema service.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/asaidimu/go-anansi-schema/config"
	"github.com/asaidimu/go-anansi-schema/core/persistence"
	"github.com/asaidimu/go-anansi-schema/sqlite"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type globalOptions struct {
	configPath string
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:           "anansi",
		Short:         "Schema controller with class-level permissions",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to the YAML configuration file")

	root.AddCommand(newServeCommand(opts))
	root.AddCommand(newSchemaCommand(opts))
	return root
}

// Execute runs the command line and exits non-zero on failure.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// newLogger builds a production logger at the configured level.
func newLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := cfg.LogLevel()
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.EncoderConfig.TimeKey = "timestamp"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return zc.Build()
}

// runtime is what every command needs: the loaded configuration, a logger
// and the controller over the configured database.
type runtime struct {
	cfg         *config.Config
	logger      *zap.Logger
	persistence *persistence.Persistence
}

func (r *runtime) Close() {
	if err := r.persistence.Close(); err != nil {
		r.logger.Error("failed to close database", zap.Error(err))
	}
	_ = r.logger.Sync()
}

func openRuntime(ctx context.Context, opts *globalOptions) (*runtime, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}
	options := sqlite.DefaultInteractorOptions()
	options.CollectionPrefix = cfg.Database.CollectionPrefix
	store, err := sqlite.Open(ctx, cfg.Database.Path, logger, options)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", cfg.Database.Path, err)
	}
	p, err := persistence.NewPersistence(store, &persistence.Options{
		Logger:       logger,
		DisableCache: !cfg.CacheEnabled(),
	})
	if err != nil {
		store.Close()
		return nil, err
	}
	return &runtime{cfg: cfg, logger: logger, persistence: p}, nil
}
