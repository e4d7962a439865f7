package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fablab-systems/hdrctl/internal/watch"
)

var watchCmd = &cobra.Command{
	Use:   "watch [paths...]",
	Short: "Watch artifact trees and regenerate headers on change",
	Long:  "Runs update on changed artifacts as they are written. Editor save bursts are debounced into a single rescan, and rescans are rate limited so a mass rewrite cannot thrash the engine.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		eng, st, err := newEngine(ctx)
		if err != nil {
			return err
		}
		if st != nil {
			defer st.Close()
		}

		onChange := func(paths []string) {
			rep, err := eng.Update(ctx, paths)
			if err != nil {
				zap.L().Error("watch: update failed", zap.Error(err))
				return
			}
			if len(rep.Summaries) > 0 {
				_ = render(os.Stdout, formatFlag, rep)
			}
		}

		w, err := watch.New(watch.Config{
			Debounce:            time.Duration(cfg.Watch.DebounceMillis) * time.Millisecond,
			MaxRescansPerSecond: cfg.Watch.MaxRescansPerS,
		}, cfg.Extensions(), onChange)
		if err != nil {
			return err
		}
		defer w.Close()

		for _, root := range pathsOrDot(args) {
			if err := w.Add(root); err != nil {
				return err
			}
			zap.L().Info("watching", zap.String("root", root))
		}

		if err := w.Run(ctx); err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
