package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/fablab-systems/hdrctl/internal/model"
	"github.com/fablab-systems/hdrctl/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect engine run history and the artifact inventory",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded engine runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		status, _ := cmd.Flags().GetString("status")
		op, _ := cmd.Flags().GetString("op")
		limit, _ := cmd.Flags().GetInt("limit")

		runs, err := st.ListRuns(ctx, store.RunFilter{
			Status: model.RunStatus(status),
			Op:     op,
			Limit:  limit,
		})
		if err != nil {
			return eris.Wrap(err, "runs list")
		}
		return render(os.Stdout, formatFlag, runs)
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show full details of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}
		if formatFlag == "text" || formatFlag == "" {
			return render(os.Stdout, "json", run)
		}
		return render(os.Stdout, formatFlag, run)
	},
}

var runsArtifactsCmd = &cobra.Command{
	Use:   "artifacts",
	Short: "List the recorded artifact inventory",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		staleness, _ := cmd.Flags().GetString("staleness")
		kind, _ := cmd.Flags().GetString("kind")
		limit, _ := cmd.Flags().GetInt("limit")

		states, err := st.ListArtifacts(ctx, store.ArtifactFilter{
			Staleness: model.Staleness(staleness),
			Kind:      model.Kind(kind),
			Limit:     limit,
		})
		if err != nil {
			return eris.Wrap(err, "runs artifacts")
		}
		return render(os.Stdout, formatFlag, states)
	},
}

func init() {
	runsListCmd.Flags().String("status", "", "filter by run status (running, complete, partial, failed)")
	runsListCmd.Flags().String("op", "", "filter by operation (scan, update, verify, graph)")
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")

	runsArtifactsCmd.Flags().String("staleness", "", "filter by staleness (VALID, STALE, ABSENT, MALFORMED)")
	runsArtifactsCmd.Flags().String("kind", "", "filter by artifact kind")
	runsArtifactsCmd.Flags().Int("limit", 0, "max number of artifacts to display")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsArtifactsCmd)
	rootCmd.AddCommand(runsCmd)
}
