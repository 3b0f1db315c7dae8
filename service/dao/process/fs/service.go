// Package fs implements a filesystem-backed dao.Service[string,
// model.Process], one JSON file per process, using viant/afs so the base
// path can be a local directory or any afs-addressable URL.
package fs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/option"
	"github.com/viant/afs/url"

	"github.com/actflow/actflow/model"
	"github.com/actflow/actflow/service/dao"
	"github.com/actflow/actflow/service/dao/criteria"
)

// Service persists each process as basePath/<id>.json.
type Service struct {
	basePath string
	fs       afs.Service
	mu       sync.RWMutex
}

var _ dao.Service[string, model.Process] = (*Service)(nil)

// New creates a Service rooted at basePath, creating the directory if
// necessary.
func New(basePath string) (*Service, error) {
	if basePath == "" {
		return nil, fmt.Errorf("process/fs: base path cannot be empty")
	}

	fsSvc := afs.New()
	ctx := context.Background()
	if exists, _ := fsSvc.Exists(ctx, basePath); !exists {
		if err := fsSvc.Create(ctx, basePath, file.DefaultDirOsMode, true); err != nil {
			return nil, fmt.Errorf("process/fs: failed to create base directory: %w", err)
		}
	}

	return &Service{
		basePath: url.Normalize(basePath, file.Scheme),
		fs:       fsSvc,
	}, nil
}

// Save writes p as JSON to its process file, replacing any prior content.
func (s *Service) Save(ctx context.Context, p *model.Process) error {
	if p == nil {
		return dao.ErrNilEntity
	}
	if p.ID == "" {
		return dao.ErrInvalidID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(p.Snapshot())
	if err != nil {
		return fmt.Errorf("process/fs: failed to marshal process: %w", err)
	}

	filePath := s.processPath(p.ID)
	if err := s.fs.Upload(ctx, filePath, file.DefaultFileOsMode, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("process/fs: failed to save process to %s: %w", filePath, err)
	}
	return nil
}

// Load reads and decodes id's process file.
func (s *Service) Load(ctx context.Context, id string) (*model.Process, error) {
	if id == "" {
		return nil, dao.ErrInvalidID
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	filePath := s.processPath(id)
	exists, err := s.fs.Exists(ctx, filePath)
	if err != nil {
		return nil, fmt.Errorf("process/fs: failed to check existence: %w", err)
	}
	if !exists {
		return nil, dao.ErrNotFound
	}

	data, err := s.fs.DownloadWithURL(ctx, filePath)
	if err != nil {
		return nil, fmt.Errorf("process/fs: failed to read process file: %w", err)
	}

	var p model.Process
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("process/fs: failed to unmarshal process: %w", err)
	}
	return &p, nil
}

// Delete removes id's process file.
func (s *Service) Delete(ctx context.Context, id string) error {
	if id == "" {
		return dao.ErrInvalidID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	filePath := s.processPath(id)
	exists, err := s.fs.Exists(ctx, filePath)
	if err != nil {
		return fmt.Errorf("process/fs: failed to check existence: %w", err)
	}
	if !exists {
		return dao.ErrNotFound
	}
	if err := s.fs.Delete(ctx, filePath); err != nil {
		return fmt.Errorf("process/fs: failed to delete process file: %w", err)
	}
	return nil
}

// List decodes every *.json file under basePath, optionally filtered by a
// "State" dao.Parameter.
func (s *Service) List(ctx context.Context, parameters ...*dao.Parameter) ([]*model.Process, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	objects, err := s.fs.List(ctx, s.basePath, option.NewRecursive(true))
	if err != nil {
		return nil, fmt.Errorf("process/fs: failed to list process files: %w", err)
	}

	var out []*model.Process
	for _, object := range objects {
		if object.IsDir() || !strings.HasSuffix(object.Name(), ".json") {
			continue
		}
		data, err := s.fs.Download(ctx, object)
		if err != nil {
			continue
		}
		var p model.Process
		if err := json.Unmarshal(data, &p); err != nil {
			continue
		}
		if !criteria.FilterByState(string(p.State), parameters) {
			continue
		}
		out = append(out, &p)
	}
	return out, nil
}

func (s *Service) processPath(id string) string {
	return path.Join(s.basePath, fmt.Sprintf("%s.json", id))
}
