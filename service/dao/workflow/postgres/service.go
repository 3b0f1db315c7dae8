// Package postgres implements a database/sql-backed
// dao.Service[string, model.WorkflowModel] against the §6 workflows(id,
// body) table, sharing the same lib/pq driver and *sql.DB the
// process/postgres store is opened against.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/actflow/actflow/model"
	"github.com/actflow/actflow/model/errs"
	"github.com/actflow/actflow/service/dao"
)

// Service persists WorkflowModel documents as a single JSONB column.
type Service struct {
	db *sql.DB
}

var _ dao.Service[string, model.WorkflowModel] = (*Service)(nil)

// New wraps an already-open *sql.DB — typically the same connection the
// sibling process/postgres.Service was opened against.
func New(db *sql.DB) *Service { return &Service{db: db} }

// Save upserts w's full JSON body under its id.
func (s *Service) Save(ctx context.Context, w *model.WorkflowModel) error {
	if w == nil {
		return dao.ErrNilEntity
	}
	if w.ID == "" {
		return dao.ErrInvalidID
	}
	if issues := w.Validate(); len(issues) > 0 {
		return issues[0]
	}

	body, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("workflow/postgres: failed to marshal workflow: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workflows (id, body) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET body = EXCLUDED.body
	`, w.ID, body)
	if err != nil {
		return errs.StoreUnavailable("postgres", err)
	}
	return nil
}

// Load decodes id's stored body.
func (s *Service) Load(ctx context.Context, id string) (*model.WorkflowModel, error) {
	if id == "" {
		return nil, dao.ErrInvalidID
	}

	var body []byte
	err := s.db.QueryRowContext(ctx, `SELECT body FROM workflows WHERE id = $1`, id).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, dao.ErrNotFound
	}
	if err != nil {
		return nil, errs.StoreUnavailable("postgres", err)
	}

	wf := &model.WorkflowModel{}
	if err := json.Unmarshal(body, wf); err != nil {
		return nil, fmt.Errorf("workflow/postgres: failed to unmarshal workflow: %w", err)
	}
	return wf, nil
}

// Delete removes id.
func (s *Service) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM workflows WHERE id = $1`, id)
	if err != nil {
		return errs.StoreUnavailable("postgres", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return dao.ErrNotFound
	}
	return nil
}

// List returns every stored workflow; no filter criteria are defined for
// workflows.
func (s *Service) List(ctx context.Context, _ ...*dao.Parameter) ([]*model.WorkflowModel, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT body FROM workflows`)
	if err != nil {
		return nil, errs.StoreUnavailable("postgres", err)
	}
	defer rows.Close()

	var out []*model.WorkflowModel
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, errs.StoreUnavailable("postgres", err)
		}
		wf := &model.WorkflowModel{}
		if err := json.Unmarshal(body, wf); err != nil {
			continue
		}
		out = append(out, wf)
	}
	return out, rows.Err()
}
