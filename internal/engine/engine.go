package engine

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fablab-systems/hdrctl/internal/config"
	"github.com/fablab-systems/hdrctl/internal/fingerprint"
	"github.com/fablab-systems/hdrctl/internal/graph"
	"github.com/fablab-systems/hdrctl/internal/header"
	"github.com/fablab-systems/hdrctl/internal/model"
)

// Recorder persists runs and per-artifact state. A nil Recorder disables
// persistence; the engine's results are identical either way.
type Recorder interface {
	CreateRun(ctx context.Context, run *model.Run) error
	CompleteRun(ctx context.Context, id string, status model.RunStatus, result *model.RunResult) error
	UpsertArtifacts(ctx context.Context, states []*model.ArtifactState) error
}

// Engine runs the header lifecycle over batches of artifacts. Per-artifact
// work is independent and runs in parallel; the dependency graph is built
// only after every artifact has finished, over final records.
type Engine struct {
	cfg *config.Config
	rec Recorder
	gen *Generator
	reg *fingerprint.Registry
}

// New builds an engine. rec may be nil.
func New(cfg *config.Config, rec Recorder) *Engine {
	return &Engine{
		cfg: cfg,
		rec: rec,
		gen: NewGenerator(nil),
		reg: fingerprint.DefaultRegistry(),
	}
}

// Report is the result of one engine operation. Scans always reflect the
// state found on disk before any regeneration.
type Report struct {
	RunID     string                `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	Op        string                `json:"op" yaml:"op"`
	Scans     []model.ScanResult    `json:"scans" yaml:"scans"`
	Summaries []model.UpdateSummary `json:"summaries,omitempty" yaml:"summaries,omitempty"`
	Gates     []model.GateResult    `json:"gates,omitempty" yaml:"gates,omitempty"`
	Graph     *graph.Report         `json:"graph,omitempty" yaml:"graph,omitempty"`
	// Partial marks a run cancelled between the per-artifact stage and graph
	// construction. Every header written before cancellation is complete and
	// valid on its own; only the cross-artifact results are missing.
	Partial bool `json:"partial,omitempty" yaml:"partial,omitempty"`
}

// Stale reports whether any artifact was found stale, absent, or malformed.
func (r *Report) Stale() bool {
	for _, s := range r.Scans {
		if s.Staleness != model.StalenessValid {
			return true
		}
	}
	return false
}

// Rejected reports whether the safety gate rejected any artifact.
func (r *Report) Rejected() bool {
	for _, g := range r.Gates {
		if g.Disposition == model.DispositionReject {
			return true
		}
	}
	return false
}

// Scan classifies every artifact without writing anything.
func (e *Engine) Scan(ctx context.Context, paths []string) (*Report, error) {
	return e.run(ctx, "scan", paths, false, false)
}

// Update regenerates every non-valid artifact in place, then builds the
// dependency graph and gates each artifact.
func (e *Engine) Update(ctx context.Context, paths []string) (*Report, error) {
	return e.run(ctx, "update", paths, true, true)
}

// Verify is the read-only policy check: staleness, gate dispositions, and
// the dependency graph, with no writes.
func (e *Engine) Verify(ctx context.Context, paths []string) (*Report, error) {
	return e.run(ctx, "verify", paths, false, true)
}

// GraphOnly builds the dependency graph over the headers currently on disk.
func (e *Engine) GraphOnly(ctx context.Context, paths []string) (*Report, error) {
	return e.run(ctx, "graph", paths, false, false)
}

type artifact struct {
	path string
	kind model.Kind
	eval Evaluation
	// record is the final header record: the regenerated one after a write,
	// otherwise whatever parsed off disk (nil when absent).
	record  *model.HeaderRecord
	summary *model.UpdateSummary
}

func (e *Engine) run(ctx context.Context, op string, paths []string, write, gate bool) (*Report, error) {
	files, err := e.Discover(paths)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	now := time.Now().UTC()
	if e.rec != nil {
		run := &model.Run{
			ID:        runID,
			Op:        op,
			Paths:     paths,
			Status:    model.RunStatusRunning,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := e.rec.CreateRun(ctx, run); err != nil {
			return nil, eris.Wrap(err, "engine: create run")
		}
	}

	arts := make([]*artifact, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Engine.Concurrency)
	for i, path := range files {
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			art, err := e.process(path, write)
			if err != nil {
				return err
			}
			arts[i] = art
			return nil
		})
	}
	// Barrier: the graph is only ever built over final records.
	werr := g.Wait()

	rep := &Report{RunID: runID, Op: op}
	var processed []*artifact
	for _, art := range arts {
		if art == nil {
			continue
		}
		processed = append(processed, art)
		rep.Scans = append(rep.Scans, model.ScanResult{
			Path:      art.path,
			Kind:      art.kind,
			Staleness: art.eval.Staleness,
			Reasons:   art.eval.Reasons,
		})
		if art.summary != nil {
			rep.Summaries = append(rep.Summaries, *art.summary)
		}
	}

	if werr != nil {
		if !eris.Is(werr, context.Canceled) && !eris.Is(werr, context.DeadlineExceeded) {
			e.completeRun(runID, model.RunStatusFailed, e.result(rep, werr))
			return nil, werr
		}
		// Cancellation after the per-artifact stage is a clean partial stop:
		// everything written so far stands, the graph is simply not built.
		rep.Partial = true
		zap.L().Warn("run cancelled before graph stage",
			zap.String("run_id", runID),
			zap.Int("processed", len(processed)),
			zap.Int("total", len(files)))
	}

	if !rep.Partial && op != "scan" {
		var records []*model.HeaderRecord
		for _, art := range processed {
			if art.record != nil {
				records = append(records, art.record)
			}
		}
		rep.Graph = graph.Build(records, graph.Policy{
			UnresolvedPenaltyTiers: e.cfg.Graph.UnresolvedPenaltyTiers,
		})
	}
	if !rep.Partial && gate {
		for _, art := range processed {
			res := EvaluateGate(art.kind, art.record, e.cfg.MandatoryBoundaryKeys(art.kind))
			// The record may be nil (absent header); the engine's path keys
			// the result either way.
			res.Path = art.path
			rep.Gates = append(rep.Gates, res)
		}
	}

	e.recordArtifacts(rep, processed)
	status := model.RunStatusComplete
	if rep.Partial {
		status = model.RunStatusPartial
	}
	e.completeRun(runID, status, e.result(rep, nil))
	return rep, nil
}

// process runs the per-artifact stage: parse, fingerprint, evaluate, and,
// when write is set and the header is not valid, regenerate atomically.
func (e *Engine) process(path string, write bool) (*artifact, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "engine: read %s", path)
	}

	kind := e.cfg.KindFor(path)
	conventions := e.cfg.ConventionsFor(kind)
	res := header.Parse(raw, path, kind, conventions, e.cfg.Engine.HeaderWindow)
	if res.Record != nil {
		// The File field is informative; the path the engine resolved is
		// authoritative for graph and gate keying.
		res.Record.Path = path
	}
	body := header.Body(raw, res)
	fp := e.reg.Extract(kind, body)
	eval := EvaluateStaleness(res, fp, header.BodyChecksum(body))

	art := &artifact{path: path, kind: kind, eval: eval, record: res.Record}
	if !write || eval.Staleness == model.StalenessValid {
		return art, nil
	}

	out := e.gen.Generate(GenerateInput{
		Path:        path,
		Kind:        kind,
		Prev:        res.Record,
		PrevStatus:  res.Status,
		Fingerprint: fp,
		Body:        body,
	}, conventions[0])

	perm := os.FileMode(0o644)
	if info, serr := os.Stat(path); serr == nil {
		perm = info.Mode().Perm()
	}
	if err := writeFileAtomic(path, out.Serialized, perm); err != nil {
		return nil, err
	}

	out.Summary.Regenerated = true
	art.record = &out.Record
	art.summary = &out.Summary
	zap.L().Debug("regenerated header",
		zap.String("path", path),
		zap.String("kind", string(kind)),
		zap.String("was", string(eval.Staleness)))
	return art, nil
}

// Discover expands the given paths into the sorted list of artifact files:
// files are taken as-is, directories are walked for configured extensions.
// Dot-directories are skipped.
func (e *Engine) Discover(paths []string) ([]string, error) {
	exts := e.cfg.Extensions()
	seen := map[string]bool{}
	var files []string
	add := func(path string) {
		if !seen[path] {
			seen[path] = true
			files = append(files, path)
		}
	}

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, eris.Wrapf(err, "engine: stat %s", path)
		}
		if !info.IsDir() {
			add(path)
			continue
		}
		err = filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if name := d.Name(); strings.HasPrefix(name, ".") && p != path {
					return filepath.SkipDir
				}
				return nil
			}
			if exts[strings.ToLower(filepath.Ext(p))] {
				add(p)
			}
			return nil
		})
		if err != nil {
			return nil, eris.Wrapf(err, "engine: walk %s", path)
		}
	}
	sort.Strings(files)
	return files, nil
}

func (e *Engine) result(rep *Report, err error) *model.RunResult {
	res := &model.RunResult{Artifacts: len(rep.Scans)}
	for _, s := range rep.Scans {
		if s.Staleness == model.StalenessValid {
			res.Valid++
		}
	}
	for _, s := range rep.Summaries {
		res.Regenerated++
		if s.Recovered {
			res.Recovered++
		}
	}
	for _, g := range rep.Gates {
		if g.Disposition == model.DispositionReject {
			res.Rejected++
		}
	}
	if rep.Graph != nil {
		res.Unresolved = rep.Graph.Unresolved()
		res.Cycles = len(rep.Graph.Cycles)
	}
	if err != nil {
		res.Error = err.Error()
	}
	return res
}

// recordArtifacts persists per-artifact state. Persistence is advisory;
// a store failure is logged, never surfaced as a run failure.
func (e *Engine) recordArtifacts(rep *Report, arts []*artifact) {
	if e.rec == nil {
		return
	}
	derived := map[string]model.Confidence{}
	if rep.Graph != nil {
		for _, n := range rep.Graph.Nodes {
			derived[n.Path] = n.Derived
		}
	}
	disposition := map[string]model.Disposition{}
	for _, g := range rep.Gates {
		disposition[g.Path] = g.Disposition
	}

	now := time.Now().UTC()
	states := make([]*model.ArtifactState, 0, len(arts))
	for i, art := range arts {
		staleness := rep.Scans[i].Staleness
		if art.summary != nil {
			staleness = model.StalenessValid
		}
		states = append(states, &model.ArtifactState{
			Path:        art.path,
			Kind:        art.kind,
			Staleness:   staleness,
			Disposition: disposition[art.path],
			Derived:     derived[art.path],
			Record:      art.record,
			UpdatedAt:   now,
		})
	}
	if len(states) == 0 {
		return
	}

	// Store writes use a fresh context so a cancelled run can still record
	// what it finished.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.rec.UpsertArtifacts(ctx, states); err != nil {
		zap.L().Warn("artifact states not persisted",
			zap.Int("count", len(states)), zap.Error(err))
	}
}

func (e *Engine) completeRun(runID string, status model.RunStatus, result *model.RunResult) {
	if e.rec == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.rec.CompleteRun(ctx, runID, status, result); err != nil {
		zap.L().Warn("run not persisted", zap.String("run_id", runID), zap.Error(err))
	}
}
