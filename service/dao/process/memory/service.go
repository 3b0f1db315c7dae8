// Package memory implements an in-memory dao.Service[string, model.Process]
// backend: a map guarded by a mutex. Save copies fields from the given
// Process onto the store's own instance (Process.CopyFrom) rather than
// replacing the pointer, so a Dispatcher's own *model.Process stays the
// single canonical copy the store merely mirrors.
package memory

import (
	"context"
	"sync"

	"github.com/actflow/actflow/model"
	"github.com/actflow/actflow/service/dao"
	"github.com/actflow/actflow/service/dao/criteria"
)

// Service is a thread-safe, in-process store for model.Process instances.
// It is the default Store backend (§6 store.store_type=memory) and the one
// used by tests.
type Service struct {
	processes map[string]*model.Process
	mux       sync.RWMutex
}

var _ dao.Service[string, model.Process] = (*Service)(nil)

// New returns an empty Service.
func New() *Service {
	return &Service{processes: map[string]*model.Process{}}
}

// Save registers p, or merges its mutable fields into the existing entry
// for p.ID so that repeated Saves of the Dispatcher's own process keep a
// single canonical instance per id.
func (s *Service) Save(_ context.Context, p *model.Process) error {
	if p == nil {
		return dao.ErrNilEntity
	}
	if p.ID == "" {
		return dao.ErrInvalidID
	}

	s.mux.Lock()
	defer s.mux.Unlock()

	if existing, ok := s.processes[p.ID]; ok && existing != nil && existing != p {
		existing.CopyFrom(p)
	} else {
		s.processes[p.ID] = p
	}
	return nil
}

// Load returns the process registered for id.
func (s *Service) Load(_ context.Context, id string) (*model.Process, error) {
	if id == "" {
		return nil, dao.ErrInvalidID
	}

	s.mux.RLock()
	p, ok := s.processes[id]
	s.mux.RUnlock()

	if !ok {
		return nil, dao.ErrNotFound
	}
	return p, nil
}

// Delete removes id.
func (s *Service) Delete(_ context.Context, id string) error {
	if id == "" {
		return dao.ErrInvalidID
	}

	s.mux.Lock()
	defer s.mux.Unlock()

	if _, ok := s.processes[id]; !ok {
		return dao.ErrNotFound
	}
	delete(s.processes, id)
	return nil
}

// List returns every stored process, optionally filtered by a single
// "State" dao.Parameter (criteria.FilterByState).
func (s *Service) List(_ context.Context, parameters ...*dao.Parameter) ([]*model.Process, error) {
	s.mux.RLock()
	defer s.mux.RUnlock()

	out := make([]*model.Process, 0, len(s.processes))
	for _, p := range s.processes {
		if !criteria.FilterByState(string(p.CurrentState()), parameters) {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// ResumeInterrupted fails every process found Running at call time (i.e. at
// startup, when a previous instance exited mid-run) with err, along with
// every one of its still-Running tasks, per §6/§7's restart-resume
// contract. It returns the ids affected.
func (s *Service) ResumeInterrupted(_ context.Context, err error) []string {
	s.mux.RLock()
	defer s.mux.RUnlock()

	var affected []string
	for id, p := range s.processes {
		if p.CurrentState() == model.ProcessStateRunning {
			p.InterruptRunningTasks(err)
			p.Fail(err)
			affected = append(affected, id)
		}
	}
	return affected
}
