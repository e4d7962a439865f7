package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/fablab-systems/hdrctl/internal/model"
	"github.com/fablab-systems/hdrctl/internal/resilience"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL
// mode, creating the parent directory if needed.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dsn); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, eris.Wrapf(err, "sqlite: mkdir %s", dir)
		}
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	op         TEXT NOT NULL,
	paths      TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'running',
	result     TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS artifacts (
	path        TEXT PRIMARY KEY,
	kind        TEXT NOT NULL,
	staleness   TEXT NOT NULL,
	disposition TEXT NOT NULL DEFAULT '',
	derived     TEXT,
	record      TEXT,
	updated_at  DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_op ON runs(op);
CREATE INDEX IF NOT EXISTS idx_artifacts_staleness ON artifacts(staleness);
CREATE INDEX IF NOT EXISTS idx_artifacts_kind ON artifacts(kind);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, run *model.Run) error {
	pathsJSON, err := json.Marshal(run.Paths)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal paths")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, op, paths, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.Op, string(pathsJSON), string(run.Status), run.CreatedAt, run.UpdatedAt,
	)
	return eris.Wrap(err, "sqlite: insert run")
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, id string, status model.RunStatus, result *model.RunResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal result")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, result = ?, updated_at = ? WHERE id = ?`,
		string(status), string(resultJSON), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", id)
	}
	return checkRowsAffected(res, "run", id)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, op, paths, status, result, created_at, updated_at FROM runs WHERE id = ?`,
		runID,
	)
	return scanRun(row)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, op, paths, status, result, created_at, updated_at FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Op != "" {
		query += ` AND op = ?`
		args = append(args, filter.Op)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) UpsertArtifacts(ctx context.Context, states []*model.ArtifactState) error {
	if len(states) == 0 {
		return nil
	}
	// A writer that outlives the busy_timeout pragma still surfaces
	// SQLITE_BUSY; the whole transaction is safe to repeat.
	return resilience.Do(ctx, resilience.RetryConfig{
		OnRetry: resilience.RetryLogger("upsert artifacts"),
	}, func(ctx context.Context) error {
		return s.upsertArtifactsTx(ctx, states)
	})
}

func (s *SQLiteStore) upsertArtifactsTx(ctx context.Context, states []*model.ArtifactState) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO artifacts (path, kind, staleness, disposition, derived, record, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (path) DO UPDATE SET
		   kind = excluded.kind, staleness = excluded.staleness,
		   disposition = excluded.disposition, derived = excluded.derived,
		   record = excluded.record, updated_at = excluded.updated_at`,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare upsert")
	}
	defer stmt.Close()

	for _, st := range states {
		derivedJSON, recordJSON, err := marshalArtifact(st)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx,
			st.Path, string(st.Kind), string(st.Staleness), string(st.Disposition),
			derivedJSON, recordJSON, st.UpdatedAt,
		); err != nil {
			return eris.Wrapf(err, "sqlite: upsert artifact %s", st.Path)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit upsert")
}

func (s *SQLiteStore) ListArtifacts(ctx context.Context, filter ArtifactFilter) ([]model.ArtifactState, error) {
	query := `SELECT path, kind, staleness, disposition, derived, record, updated_at FROM artifacts WHERE 1=1`
	var args []any

	if filter.Staleness != "" {
		query += ` AND staleness = ?`
		args = append(args, string(filter.Staleness))
	}
	if filter.Kind != "" {
		query += ` AND kind = ?`
		args = append(args, string(filter.Kind))
	}
	query += ` ORDER BY path`

	limit := filter.Limit
	if limit <= 0 {
		limit = 1000
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list artifacts")
	}
	defer rows.Close()

	var states []model.ArtifactState
	for rows.Next() {
		var st model.ArtifactState
		var derivedJSON, recordJSON sql.NullString
		if err := rows.Scan(&st.Path, &st.Kind, &st.Staleness, &st.Disposition,
			&derivedJSON, &recordJSON, &st.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan artifact")
		}
		if err := unmarshalArtifact(&st, derivedJSON.String, recordJSON.String); err != nil {
			return nil, err
		}
		states = append(states, st)
	}
	return states, eris.Wrap(rows.Err(), "sqlite: list artifacts iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var pathsJSON string
	var resultJSON sql.NullString

	err := row.Scan(&r.ID, &r.Op, &pathsJSON, &r.Status, &resultJSON, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.New("run not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}

	if err := json.Unmarshal([]byte(pathsJSON), &r.Paths); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal paths")
	}
	if resultJSON.Valid && resultJSON.String != "null" {
		r.Result = &model.RunResult{}
		if err := json.Unmarshal([]byte(resultJSON.String), r.Result); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal result")
		}
	}
	return &r, nil
}

func marshalArtifact(st *model.ArtifactState) (derived, record []byte, err error) {
	derived, err = json.Marshal(st.Derived)
	if err != nil {
		return nil, nil, eris.Wrap(err, "store: marshal derived confidence")
	}
	if st.Record != nil {
		record, err = json.Marshal(st.Record)
		if err != nil {
			return nil, nil, eris.Wrap(err, "store: marshal record")
		}
	}
	return derived, record, nil
}

func unmarshalArtifact(st *model.ArtifactState, derived, record string) error {
	if derived != "" {
		if err := json.Unmarshal([]byte(derived), &st.Derived); err != nil {
			return eris.Wrap(err, "store: unmarshal derived confidence")
		}
	}
	if record != "" {
		st.Record = &model.HeaderRecord{}
		if err := json.Unmarshal([]byte(record), st.Record); err != nil {
			return eris.Wrap(err, "store: unmarshal record")
		}
	}
	return nil
}
