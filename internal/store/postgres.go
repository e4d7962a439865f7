package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/fablab-systems/hdrctl/internal/db"
	"github.com/fablab-systems/hdrctl/internal/model"
	"github.com/fablab-systems/hdrctl/internal/resilience"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// the hot store operations.
var preparedStatements = map[string]string{
	"insert_run":   `INSERT INTO runs (id, op, paths, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
	"complete_run": `UPDATE runs SET status = $1, result = $2, updated_at = $3 WHERE id = $4`,
	"get_run":      `SELECT id, op, paths, status, result, created_at, updated_at FROM runs WHERE id = $1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	// The database may still be coming up when the engine starts.
	err = resilience.Do(ctx, resilience.RetryConfig{
		MaxAttempts: 5,
		OnRetry:     resilience.RetryLogger("ping"),
	}, pool.Ping)
	if err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool, which is how tests inject
// pgxmock.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, closeFn: pool.Close}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	op         TEXT NOT NULL,
	paths      JSONB NOT NULL,
	status     TEXT NOT NULL DEFAULT 'running',
	result     JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS artifacts (
	path        TEXT PRIMARY KEY,
	kind        TEXT NOT NULL,
	staleness   TEXT NOT NULL,
	disposition TEXT NOT NULL DEFAULT '',
	derived     JSONB,
	record      JSONB,
	updated_at  TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_op ON runs(op);
CREATE INDEX IF NOT EXISTS idx_artifacts_staleness ON artifacts(staleness);
CREATE INDEX IF NOT EXISTS idx_artifacts_kind ON artifacts(kind);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, run *model.Run) error {
	pathsJSON, err := json.Marshal(run.Paths)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal paths")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO runs (id, op, paths, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		run.ID, run.Op, pathsJSON, string(run.Status), run.CreatedAt, run.UpdatedAt,
	)
	return eris.Wrap(err, "postgres: insert run")
}

func (s *PostgresStore) CompleteRun(ctx context.Context, id string, status model.RunStatus, result *model.RunResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal result")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, result = $2, updated_at = $3 WHERE id = $4`,
		string(status), resultJSON, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, op, paths, status, result, created_at, updated_at FROM runs WHERE id = $1`,
		runID,
	)
	r, err := scanPgRun(row)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, op, paths, status, result, created_at, updated_at FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.Op != "" {
		query += fmt.Sprintf(` AND op = $%d`, argIdx)
		args = append(args, filter.Op)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanPgRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

// artifactColumns is the column order used for the bulk upsert path.
var artifactColumns = []string{"path", "kind", "staleness", "disposition", "derived", "record", "updated_at"}

func (s *PostgresStore) UpsertArtifacts(ctx context.Context, states []*model.ArtifactState) error {
	rows := make([][]any, 0, len(states))
	for _, st := range states {
		derivedJSON, recordJSON, err := marshalArtifact(st)
		if err != nil {
			return err
		}
		rows = append(rows, []any{
			st.Path, string(st.Kind), string(st.Staleness), string(st.Disposition),
			derivedJSON, recordJSON, st.UpdatedAt,
		})
	}

	// Concurrent engine runs upserting overlapping paths can deadlock or
	// hit serialization failures; those clear on retry.
	return resilience.Do(ctx, resilience.RetryConfig{
		OnRetry: resilience.RetryLogger("upsert artifacts"),
	}, func(ctx context.Context) error {
		_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
			Table:        "artifacts",
			Columns:      artifactColumns,
			ConflictKeys: []string{"path"},
		}, rows)
		return err
	})
}

func (s *PostgresStore) ListArtifacts(ctx context.Context, filter ArtifactFilter) ([]model.ArtifactState, error) {
	query := `SELECT path, kind, staleness, disposition, derived, record, updated_at FROM artifacts WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Staleness != "" {
		query += fmt.Sprintf(` AND staleness = $%d`, argIdx)
		args = append(args, string(filter.Staleness))
		argIdx++
	}
	if filter.Kind != "" {
		query += fmt.Sprintf(` AND kind = $%d`, argIdx)
		args = append(args, string(filter.Kind))
		argIdx++
	}
	query += ` ORDER BY path`

	limit := filter.Limit
	if limit <= 0 {
		limit = 1000
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list artifacts")
	}
	defer rows.Close()

	var states []model.ArtifactState
	for rows.Next() {
		var st model.ArtifactState
		var derivedJSON, recordJSON []byte
		if err := rows.Scan(&st.Path, &st.Kind, &st.Staleness, &st.Disposition,
			&derivedJSON, &recordJSON, &st.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan artifact")
		}
		if err := unmarshalArtifact(&st, string(derivedJSON), string(recordJSON)); err != nil {
			return nil, err
		}
		states = append(states, st)
	}
	return states, eris.Wrap(rows.Err(), "postgres: list artifacts iterate")
}

func scanPgRun(row pgx.Row) (*model.Run, error) {
	var r model.Run
	var pathsJSON, resultJSON []byte

	err := row.Scan(&r.ID, &r.Op, &pathsJSON, &r.Status, &resultJSON, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.New("run not found")
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(pathsJSON, &r.Paths); err != nil {
		return nil, eris.Wrap(err, "unmarshal paths")
	}
	if len(resultJSON) > 0 && string(resultJSON) != "null" {
		r.Result = &model.RunResult{}
		if err := json.Unmarshal(resultJSON, r.Result); err != nil {
			return nil, eris.Wrap(err, "unmarshal result")
		}
	}
	return &r, nil
}
