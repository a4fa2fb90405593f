// Package cmd implements the fastlimit command line.
package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ryhazerus/fastlimit"
	"github.com/ryhazerus/fastlimit/internal/backend"
	"github.com/ryhazerus/fastlimit/internal/config"
)

// app carries per-invocation state shared by subcommands.
type app struct {
	envFile string
	verbose bool

	cfg    *config.Config
	logger *zap.Logger
	out    io.Writer
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	a := &app{out: os.Stdout}

	root := &cobra.Command{
		Use:           "fastlimit",
		Short:         "Fixed-window rate limiting backed by SQLite or Redis",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			a.out = cmd.OutOrStdout()
			return a.init()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	root.PersistentFlags().StringVar(&a.envFile, "env-file", "", "dotenv file to load (default ./.env when present)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "human-readable debug logging")

	root.AddCommand(newServeCmd(a), newCheckCmd(a), newResetCmd(a), newVersionCmd())
	return root
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	return 0
}

func (a *app) init() error {
	cfg, err := config.Load(a.envFile, nil)
	if err != nil {
		return err
	}
	a.cfg = cfg

	logger, err := newLogger(cfg.LogLevel, a.verbose)
	if err != nil {
		return err
	}
	a.logger = logger
	return nil
}

func newLogger(level string, verbose bool) (*zap.Logger, error) {
	lvl := zapcore.InfoLevel
	if level != "" {
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
	}

	zc := zap.NewProductionConfig()
	if verbose {
		zc = zap.NewDevelopmentConfig()
		lvl = zapcore.DebugLevel
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}

// openLimiter builds the configured store and a limiter over it.
func (a *app) openLimiter(cmd *cobra.Command, opts ...fastlimit.Option) (*fastlimit.Limiter, error) {
	st, err := backend.Open(cmd.Context(), a.cfg, a.logger)
	if err != nil {
		return nil, err
	}
	opts = append([]fastlimit.Option{fastlimit.WithLogger(a.logger)}, opts...)
	l, err := fastlimit.New(st, a.cfg.Limit, a.cfg.Interval, opts...)
	if err != nil {
		st.Close()
		return nil, err
	}
	return l, nil
}
