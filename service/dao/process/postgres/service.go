// Package postgres implements a database/sql-backed dao.Service[string,
// model.Process] against the §6 SQL schema (processes/tasks tables),
// using github.com/lib/pq as the driver — the only SQL driver anywhere in
// the example pack's dependency surface, and the store.store_type=postgres
// backend named in §6's Configuration section.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/viant/scy"

	"github.com/actflow/actflow/model"
	"github.com/actflow/actflow/model/errs"
	"github.com/actflow/actflow/service/dao"
)

// Schema is the DDL a caller runs once against a fresh database before
// using this Service. It mirrors §6's logical schema exactly.
const Schema = `
CREATE TABLE IF NOT EXISTS workflows (
	id   TEXT PRIMARY KEY,
	body JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS processes (
	id          TEXT PRIMARY KEY,
	workflow_id TEXT NOT NULL REFERENCES workflows(id),
	state       TEXT NOT NULL,
	outputs     JSONB NOT NULL DEFAULT '{}',
	env         JSONB NOT NULL DEFAULT '{}',
	error       TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS tasks (
	process_id  TEXT NOT NULL REFERENCES processes(id) ON DELETE CASCADE,
	node_id     TEXT NOT NULL,
	state       TEXT NOT NULL,
	output      JSONB,
	error       TEXT NOT NULL DEFAULT '',
	started_at  TIMESTAMPTZ,
	finished_at TIMESTAMPTZ,
	PRIMARY KEY (process_id, node_id)
);
`

// Service persists processes (and their tasks) across the processes/tasks
// tables inside a single transaction per Save, so a Load never observes a
// process with a partially-written task set.
type Service struct {
	db *sql.DB
}

var _ dao.Service[string, model.Process] = (*Service)(nil)

// Open connects to databaseURL (a plain postgres:// DSN) and returns a
// Service ready for use once the schema exists.
func Open(databaseURL string) (*Service, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("process/postgres: failed to open: %w", err)
	}
	return &Service{db: db}, nil
}

// OpenSecured decrypts the DSN stored at secretURL (an scy resource,
// typically a blowfish:// or kms:// protected file, supplied by the caller;
// the engine Config has no key for it) using encryptionKey —
// e.g. "blowfish://default" — and opens a connection with the plaintext
// result. Use this instead of Open whenever the DSN must not live in the
// engine's own configuration in cleartext.
func OpenSecured(ctx context.Context, secretURL, encryptionKey string) (*Service, error) {
	resource := scy.NewResource(nil, secretURL, encryptionKey)
	secret, err := scy.New().Load(ctx, resource)
	if err != nil {
		return nil, fmt.Errorf("process/postgres: failed to reveal DSN secret at %s: %w", secretURL, err)
	}
	return Open(secret.String())
}

// New wraps an already-open *sql.DB.
func New(db *sql.DB) *Service { return &Service{db: db} }

// EnsureSchema runs Schema, creating the workflows/processes/tasks tables
// if absent.
func (s *Service) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, Schema)
	return err
}

// Close releases the underlying connection pool.
func (s *Service) Close() error { return s.db.Close() }

// Save upserts p's row and every one of its tasks' rows inside a single
// transaction.
func (s *Service) Save(ctx context.Context, p *model.Process) error {
	if p == nil {
		return dao.ErrNilEntity
	}
	if p.ID == "" {
		return dao.ErrInvalidID
	}
	snap := p.Snapshot()

	outputs, err := json.Marshal(snap.Outputs)
	if err != nil {
		return fmt.Errorf("process/postgres: failed to marshal outputs: %w", err)
	}
	env, err := json.Marshal(snap.Env)
	if err != nil {
		return fmt.Errorf("process/postgres: failed to marshal env: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.StoreUnavailable("postgres", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO processes (id, workflow_id, state, outputs, env, error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state,
			outputs = EXCLUDED.outputs,
			env = EXCLUDED.env,
			error = EXCLUDED.error,
			updated_at = EXCLUDED.updated_at
	`, snap.ID, snap.WorkflowID, string(snap.State), outputs, env, snap.Error, snap.CreatedAt, snap.UpdatedAt)
	if err != nil {
		return errs.StoreUnavailable("postgres", fmt.Errorf("upsert process: %w", err))
	}

	for _, t := range snap.Tasks {
		output, err := json.Marshal(t.Output)
		if err != nil {
			return fmt.Errorf("process/postgres: failed to marshal task output: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO tasks (process_id, node_id, state, output, error, started_at, finished_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (process_id, node_id) DO UPDATE SET
				state = EXCLUDED.state,
				output = EXCLUDED.output,
				error = EXCLUDED.error,
				started_at = EXCLUDED.started_at,
				finished_at = EXCLUDED.finished_at
		`, snap.ID, t.NodeID, string(t.State), output, t.Error, t.StartedAt, t.FinishedAt)
		if err != nil {
			return errs.StoreUnavailable("postgres", fmt.Errorf("upsert task %s: %w", t.NodeID, err))
		}
	}

	if err := tx.Commit(); err != nil {
		return errs.StoreUnavailable("postgres", err)
	}
	return nil
}

// Load reads p's row and every task row belonging to it.
func (s *Service) Load(ctx context.Context, id string) (*model.Process, error) {
	if id == "" {
		return nil, dao.ErrInvalidID
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, workflow_id, state, outputs, env, error, created_at, updated_at
		FROM processes WHERE id = $1
	`, id)

	var (
		p                   model.Process
		state               string
		outputsRaw, envRaw  []byte
	)
	if err := row.Scan(&p.ID, &p.WorkflowID, &state, &outputsRaw, &envRaw, &p.Error, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, dao.ErrNotFound
		}
		return nil, errs.StoreUnavailable("postgres", err)
	}
	p.State = model.ProcessState(state)
	_ = json.Unmarshal(outputsRaw, &p.Outputs)
	_ = json.Unmarshal(envRaw, &p.Env)
	if p.Outputs == nil {
		p.Outputs = map[string]interface{}{}
	}

	tasks, err := s.loadTasks(ctx, id)
	if err != nil {
		return nil, err
	}
	p.Tasks = tasks
	return &p, nil
}

func (s *Service) loadTasks(ctx context.Context, processID string) (map[string]*model.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT node_id, state, output, error, started_at, finished_at
		FROM tasks WHERE process_id = $1
	`, processID)
	if err != nil {
		return nil, errs.StoreUnavailable("postgres", err)
	}
	defer rows.Close()

	tasks := map[string]*model.Task{}
	for rows.Next() {
		var (
			t          model.Task
			state      string
			outputRaw  []byte
			started    sql.NullTime
			finished   sql.NullTime
		)
		if err := rows.Scan(&t.NodeID, &state, &outputRaw, &t.Error, &started, &finished); err != nil {
			return nil, errs.StoreUnavailable("postgres", err)
		}
		t.ProcessID = processID
		t.State = model.TaskState(state)
		if len(outputRaw) > 0 {
			_ = json.Unmarshal(outputRaw, &t.Output)
		}
		if started.Valid {
			st := started.Time
			t.StartedAt = &st
		}
		if finished.Valid {
			ft := finished.Time
			t.FinishedAt = &ft
		}
		tasks[t.NodeID] = &t
	}
	return tasks, rows.Err()
}

// Delete removes id's process row (its task rows cascade via the foreign
// key's ON DELETE CASCADE).
func (s *Service) Delete(ctx context.Context, id string) error {
	if id == "" {
		return dao.ErrInvalidID
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM processes WHERE id = $1`, id)
	if err != nil {
		return errs.StoreUnavailable("postgres", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return dao.ErrNotFound
	}
	return nil
}

// List returns every process, optionally filtered by a single "State"
// dao.Parameter.
func (s *Service) List(ctx context.Context, parameters ...*dao.Parameter) ([]*model.Process, error) {
	query := `SELECT id FROM processes`
	args := []interface{}{}
	if len(parameters) == 1 && parameters[0].Name == "State" {
		if state, ok := parameters[0].Value.(string); ok {
			query += ` WHERE state = $1`
			args = append(args, state)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errs.StoreUnavailable("postgres", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errs.StoreUnavailable("postgres", err)
		}
		ids = append(ids, id)
	}

	out := make([]*model.Process, 0, len(ids))
	for _, id := range ids {
		p, err := s.Load(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}
