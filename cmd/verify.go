package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var verifyCmd = &cobra.Command{
	Use:   "verify [paths...]",
	Short: "Read-only policy check for CI",
	Long:  "Reports staleness, gate dispositions, and the dependency graph without writing. Exits 3 when any header is not valid or the safety gate rejects an artifact, so CI can gate on header hygiene.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		eng, st, err := newEngine(ctx)
		if err != nil {
			return err
		}
		if st != nil {
			defer st.Close()
		}

		rep, err := eng.Verify(ctx, pathsOrDot(args))
		if err != nil {
			return err
		}
		if err := render(os.Stdout, formatFlag, rep); err != nil {
			return err
		}

		switch {
		case rep.Rejected():
			return exitWith(exitPolicy, eris.New("verify: safety gate rejected at least one artifact"))
		case rep.Stale():
			return exitWith(exitPolicy, eris.New("verify: headers are not up to date"))
		case rep.Graph != nil && len(rep.Graph.Cycles) > 0:
			return exitWith(exitPolicy, eris.New("verify: dependency cycle detected"))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}
