package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fablab-systems/hdrctl/internal/config"
	"github.com/fablab-systems/hdrctl/internal/engine"
	"github.com/fablab-systems/hdrctl/internal/store"
)

// Exit codes. Policy violations are distinct from operational failures so
// CI gates can tell "your headers are stale" from "the tool broke".
const (
	exitOK     = 0
	exitError  = 1
	exitConfig = 2
	exitPolicy = 3
)

var (
	cfg        *config.Config
	formatFlag string
)

// codedError carries a process exit code through cobra's error return.
// quiet suppresses the stderr line for status codes whose meaning the
// rendered report already conveyed.
type codedError struct {
	code  int
	err   error
	quiet bool
}

func (e *codedError) Error() string { return e.err.Error() }
func (e *codedError) Unwrap() error { return e.err }

func exitWith(code int, err error) error {
	return &codedError{code: code, err: err}
}

func exitStatus(code int) error {
	return &codedError{code: code, err: fmt.Errorf("exit status %d", code), quiet: true}
}

var rootCmd = &cobra.Command{
	Use:   "hdrctl",
	Short: "Contract-header lifecycle engine",
	Long:  "Parses, verifies, and regenerates machine-maintained contract headers across code, document, and hardware-job artifacts, and gates side-effecting artifacts on declared safety boundaries.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return exitWith(exitConfig, fmt.Errorf("load config: %w", err))
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return exitWith(exitConfig, fmt.Errorf("init logger: %w", err))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&formatFlag, "format", "f", "text",
		"output format: text, json, or yaml")
}

// openStore opens the configured run store. Commands that only read local
// files still record their runs; the sqlite default needs no setup.
func openStore(ctx context.Context) (store.Store, error) {
	return store.Open(ctx, cfg.Store)
}

// newEngine wires the engine to the store, or runs store-less when the
// store cannot be opened and recording was not explicitly demanded.
func newEngine(ctx context.Context) (*engine.Engine, store.Store, error) {
	st, err := openStore(ctx)
	if err != nil {
		zap.L().Warn("run store unavailable, continuing without recording", zap.Error(err))
		return engine.New(cfg, nil), nil, nil
	}
	return engine.New(cfg, st), st, nil
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		var ce *codedError
		if errors.As(err, &ce) {
			if !ce.quiet {
				fmt.Fprintln(os.Stderr, "Error:", err)
			}
			os.Exit(ce.code)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitError)
	}
}
