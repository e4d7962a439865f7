package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/fablab-systems/hdrctl/internal/engine"
)

var updateCmd = &cobra.Command{
	Use:   "update [paths...]",
	Short: "Regenerate stale, absent, and malformed headers in place",
	Long:  "Re-derives each non-valid header from the artifact body, preserving human-owned fields (notes, safety boundaries) verbatim, then rebuilds the dependency graph and gates every artifact. Writes are atomic: a cancelled run never leaves a half-written artifact.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		eng, st, err := newEngine(ctx)
		if err != nil {
			return err
		}
		if st != nil {
			defer st.Close()
		}

		rep, err := eng.Update(ctx, pathsOrDot(args))
		if err != nil {
			return err
		}
		if err := render(os.Stdout, formatFlag, rep); err != nil {
			return err
		}
		return updateStatus(rep)
	},
}

// updateStatus maps the run to the exit disposition: 0 no-op,
// 1 regenerated, 2 recovered from a malformed header, 3 safety-rejected.
func updateStatus(rep *engine.Report) error {
	if rep.Rejected() {
		return exitStatus(exitPolicy)
	}
	status := exitOK
	for _, s := range rep.Summaries {
		if s.Recovered {
			return exitStatus(2)
		}
		if s.Regenerated {
			status = 1
		}
	}
	if status != exitOK {
		return exitStatus(status)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(updateCmd)
}
