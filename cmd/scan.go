package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/fablab-systems/hdrctl/internal/engine"
	"github.com/fablab-systems/hdrctl/internal/model"
)

var scanCmd = &cobra.Command{
	Use:   "scan [paths...]",
	Short: "Classify headers without writing anything",
	Long:  "Walks the given paths (default .) and reports every artifact's header state: VALID, STALE, ABSENT, or MALFORMED. Scans never modify files.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		eng, st, err := newEngine(ctx)
		if err != nil {
			return err
		}
		if st != nil {
			defer st.Close()
		}

		rep, err := eng.Scan(ctx, pathsOrDot(args))
		if err != nil {
			return err
		}
		if err := render(os.Stdout, formatFlag, rep); err != nil {
			return err
		}
		return scanStatus(rep)
	},
}

// scanStatus maps the worst finding to the exit disposition: 0 all
// valid, 1 stale or absent present, 2 malformed present.
func scanStatus(rep *engine.Report) error {
	status := exitOK
	for _, s := range rep.Scans {
		switch s.Staleness {
		case model.StalenessMalformed:
			return exitStatus(2)
		case model.StalenessStale, model.StalenessAbsent:
			status = 1
		}
	}
	if status != exitOK {
		return exitStatus(status)
	}
	return nil
}

func pathsOrDot(args []string) []string {
	if len(args) == 0 {
		return []string{"."}
	}
	return args
}

func init() {
	rootCmd.AddCommand(scanCmd)
}
