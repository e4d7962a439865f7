package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/fablab-systems/hdrctl/internal/engine"
	"github.com/fablab-systems/hdrctl/internal/graph"
	"github.com/fablab-systems/hdrctl/internal/model"
)

// render writes v in the requested format. Text rendering is type-aware;
// json and yaml are generic.
func render(w io.Writer, format string, v any) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return eris.Wrap(enc.Encode(v), "render json")
	case "yaml":
		return eris.Wrap(yaml.NewEncoder(w).Encode(v), "render yaml")
	case "text", "":
		renderText(w, v)
		return nil
	default:
		return exitWith(exitConfig, eris.Errorf("unknown format %q", format))
	}
}

func renderText(w io.Writer, v any) {
	switch t := v.(type) {
	case *engine.Report:
		renderReport(w, t)
	case []model.Run:
		renderRuns(w, t)
	case *model.Run:
		renderRuns(w, []model.Run{*t})
	case []model.ArtifactState:
		renderArtifacts(w, t)
	case *graph.Report:
		renderGraph(w, t)
	default:
		fmt.Fprintf(w, "%+v\n", v)
	}
}

func renderReport(out io.Writer, rep *engine.Report) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PATH\tKIND\tSTATE\tREASONS")
	gates := map[string]model.GateResult{}
	for _, g := range rep.Gates {
		gates[g.Path] = g
	}
	for _, s := range rep.Scans {
		reasons := ""
		for i, r := range s.Reasons {
			if i > 0 {
				reasons += ","
			}
			reasons += string(r)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.Path, s.Kind, s.Staleness, reasons)
	}
	w.Flush()

	if len(rep.Summaries) > 0 {
		fmt.Fprintf(out, "\nregenerated %d artifact(s)", len(rep.Summaries))
		recovered := 0
		for _, s := range rep.Summaries {
			if s.Recovered {
				recovered++
			}
		}
		if recovered > 0 {
			fmt.Fprintf(out, " (%d recovered from malformed headers)", recovered)
		}
		fmt.Fprintln(out)
		for _, s := range rep.Summaries {
			if s.RequiresDryRun {
				fmt.Fprintf(out, "  %s: no safety boundaries declared, dry-run required\n", s.File)
			}
			for _, d := range s.Discrepancies {
				fmt.Fprintf(out, "  %s: %s\n", s.File, d)
			}
		}
	}

	for _, g := range rep.Gates {
		if g.Disposition == model.DispositionExecute {
			continue
		}
		fmt.Fprintf(out, "gate %s: %s\n", g.Disposition, g.Path)
		for _, r := range g.Reasons {
			fmt.Fprintf(out, "  %s\n", r)
		}
	}

	if rep.Graph != nil {
		for _, c := range rep.Graph.Cycles {
			fmt.Fprintf(out, "dependency cycle: %v\n", c)
		}
		if n := rep.Graph.Unresolved(); n > 0 {
			fmt.Fprintf(out, "%d unresolved dependency reference(s)\n", n)
		}
	}
	if rep.Partial {
		fmt.Fprintln(out, "run cancelled: per-artifact results above are complete, graph skipped")
	}
}

func renderRuns(out io.Writer, runs []model.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tOP\tSTATUS\tARTIFACTS\tREGEN\tCREATED\tDURATION")
	for _, r := range runs {
		artifacts, regen := "-", "-"
		if r.Result != nil {
			artifacts = fmt.Sprintf("%d", r.Result.Artifacts)
			regen = fmt.Sprintf("%d", r.Result.Regenerated)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			truncateID(r.ID), r.Op, r.Status, artifacts, regen,
			r.CreatedAt.Format("2006-01-02 15:04"),
			r.UpdatedAt.Sub(r.CreatedAt).Round(time.Second),
		)
	}
	w.Flush()
}

func renderArtifacts(out io.Writer, states []model.ArtifactState) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PATH\tKIND\tSTATE\tGATE\tCONFIDENCE")
	for _, st := range states {
		conf := st.Derived.String()
		if conf == "" {
			conf = "-"
		}
		disp := string(st.Disposition)
		if disp == "" {
			disp = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", st.Path, st.Kind, st.Staleness, disp, conf)
	}
	w.Flush()
}

func renderGraph(out io.Writer, rep *graph.Report) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PATH\tDECLARED\tDERIVED\tUNRESOLVED")
	for _, n := range rep.Nodes {
		declared, derived := n.Declared.String(), n.Derived.String()
		if declared == "" {
			declared = "-"
		}
		switch {
		case n.InCycle:
			derived = "cycle"
		case derived == "":
			derived = "-"
		}
		unresolved := ""
		for i, u := range n.Unresolved {
			if i > 0 {
				unresolved += ","
			}
			unresolved += u
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", n.Path, declared, derived, unresolved)
	}
	w.Flush()
	for _, c := range rep.Cycles {
		fmt.Fprintf(out, "dependency cycle: %v\n", c)
	}
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
