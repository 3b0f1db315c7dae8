// Package workflow loads, decodes and caches WorkflowModel definitions
// (§3, §6) from a URL via viant/afs. A WorkflowModel's flat nodes/edges
// list decodes directly via yaml.v3/encoding/json, so no recursive node
// walker is needed — unlike a nested pipeline/task tree, every node and
// edge sits at the same level.
package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/viant/afs"
	"gopkg.in/yaml.v3"

	"github.com/actflow/actflow/model"
	"github.com/actflow/actflow/service/dao"
	"github.com/actflow/actflow/service/envexpr"
)

// Service loads WorkflowModel definitions from a backing filesystem (local,
// in-memory, cloud — whatever viant/afs.Service is configured for) and
// caches deployed workflows by id so dao.Service[string, model.WorkflowModel]
// Load/List/Delete can serve them without re-reading the source file.
type Service struct {
	fs afs.Service

	mu    sync.RWMutex
	cache map[string]*model.WorkflowModel
}

var _ dao.Service[string, model.WorkflowModel] = (*Service)(nil)

// New constructs a Service backed by afs.New() unless overridden via
// WithFS (tests substitute an in-memory afs.Service).
func New(opts ...Option) *Service {
	s := &Service{fs: afs.New(), cache: map[string]*model.WorkflowModel{}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LoadFromURL downloads, decodes and validates the workflow document at
// URL, caching it by its (possibly defaulted) id. Encoding is inferred from
// URL's extension: .yaml/.yml decode as YAML, .json as JSON, and anything
// else (including no extension) as JSON with a YAML fallback.
func (s *Service) LoadFromURL(ctx context.Context, URL string) (*model.WorkflowModel, error) {
	data, err := s.fs.DownloadWithURL(ctx, URL)
	if err != nil {
		return nil, fmt.Errorf("workflow: failed to load %s: %w", URL, err)
	}
	wf, err := s.Decode(data, URL)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.cache[wf.ID] = wf
	s.mu.Unlock()
	return wf, nil
}

// Decode parses encoded into a WorkflowModel and validates it, deriving an
// id from hint's basename when the document itself omits one.
func (s *Service) Decode(encoded []byte, hint string) (*model.WorkflowModel, error) {
	wf := &model.WorkflowModel{}

	var decodeErr error
	switch strings.ToLower(filepath.Ext(hint)) {
	case ".yaml", ".yml":
		decodeErr = yaml.Unmarshal(encoded, wf)
	case ".json":
		decodeErr = json.Unmarshal(encoded, wf)
	default:
		if decodeErr = json.Unmarshal(encoded, wf); decodeErr != nil {
			decodeErr = yaml.Unmarshal(encoded, wf)
		}
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("workflow: failed to decode %s: %w", hint, decodeErr)
	}

	if wf.ID == "" {
		wf.ID = deriveID(hint)
	}
	for k, v := range wf.Env {
		wf.Env[k] = envexpr.Expand(v)
	}
	if issues := wf.Validate(); len(issues) > 0 {
		return nil, issues[0]
	}
	return wf, nil
}

func deriveID(hint string) string {
	base := filepath.Base(hint)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Save validates w and registers it in the cache under w.ID — the path
// Engine.Deploy takes when handed a workflow document's bytes directly
// rather than a URL (§4.7 deploy(workflow_json) -> workflow_id).
func (s *Service) Save(_ context.Context, w *model.WorkflowModel) error {
	if w == nil {
		return dao.ErrNilEntity
	}
	if w.ID == "" {
		return dao.ErrInvalidID
	}
	if issues := w.Validate(); len(issues) > 0 {
		return issues[0]
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache[w.ID] = w
	return nil
}

// Load returns the previously deployed/cached workflow with the given id.
func (s *Service) Load(_ context.Context, id string) (*model.WorkflowModel, error) {
	if id == "" {
		return nil, dao.ErrInvalidID
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	wf, ok := s.cache[id]
	if !ok {
		return nil, dao.ErrNotFound
	}
	return wf, nil
}

// Delete removes id from the cache.
func (s *Service) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cache[id]; !ok {
		return dao.ErrNotFound
	}
	delete(s.cache, id)
	return nil
}

// List returns every cached workflow. parameters is accepted for interface
// conformance; no filter criteria are defined for workflows.
func (s *Service) List(_ context.Context, _ ...*dao.Parameter) ([]*model.WorkflowModel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.WorkflowModel, 0, len(s.cache))
	for _, wf := range s.cache {
		out = append(out, wf)
	}
	return out, nil
}
