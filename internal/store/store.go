// Package store persists engine runs and the per-artifact inventory
// behind the runs and serve surfaces. SQLite is the zero-setup default;
// postgres serves shared deployments.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/fablab-systems/hdrctl/internal/config"
	"github.com/fablab-systems/hdrctl/internal/model"
)

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status model.RunStatus `json:"status,omitempty"`
	Op     string          `json:"op,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// ArtifactFilter specifies criteria for listing artifact inventory rows.
type ArtifactFilter struct {
	Staleness model.Staleness `json:"staleness,omitempty"`
	Kind      model.Kind      `json:"kind,omitempty"`
	Limit     int             `json:"limit,omitempty"`
	Offset    int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for engine runs and artifact
// state. It satisfies the engine's Recorder.
type Store interface {
	CreateRun(ctx context.Context, run *model.Run) error
	CompleteRun(ctx context.Context, id string, status model.RunStatus, result *model.RunResult) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	UpsertArtifacts(ctx context.Context, states []*model.ArtifactState) error
	ListArtifacts(ctx context.Context, filter ArtifactFilter) ([]model.ArtifactState, error)

	Migrate(ctx context.Context) error
	Close() error
}

// Open builds the store configured by cfg and runs migrations.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	var (
		s   Store
		err error
	)
	switch cfg.Driver {
	case "", "sqlite":
		s, err = NewSQLite(cfg.DatabaseURL)
	case "postgres":
		s, err = NewPostgres(ctx, cfg.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}
