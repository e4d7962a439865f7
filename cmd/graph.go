package main

import (
	"os"

	"github.com/spf13/cobra"
)

var graphCmd = &cobra.Command{
	Use:   "graph [paths...]",
	Short: "Show the dependency graph and derived confidence",
	Long:  "Builds the artifact dependency graph from the headers on disk and reports derived confidence per artifact, unresolved references, and cycles.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		eng, st, err := newEngine(ctx)
		if err != nil {
			return err
		}
		if st != nil {
			defer st.Close()
		}

		rep, err := eng.GraphOnly(ctx, pathsOrDot(args))
		if err != nil {
			return err
		}
		return render(os.Stdout, formatFlag, rep.Graph)
	},
}

func init() {
	rootCmd.AddCommand(graphCmd)
}
