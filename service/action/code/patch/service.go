// Package patch is a transactional file patching service: Session-scoped
// Add/Delete/Move/Update operations, diff generation (go-difflib), and
// "*** Begin Patch" hunk application (tokenized via parsly, see parser.go),
// all backed by a per-call backup snapshot so a Session can Rollback to its
// pre-session state even after several updates to the same file. Every operation takes
// an afs URL, so a Session can patch local files, mem:// fixtures in tests,
// or anything else viant/afs addresses.
//
//	s, _ := patch.NewSession()
//	_ = s.Update(ctx, "foo.txt", []byte("v1\n"))
//	_ = s.Update(ctx, "foo.txt", []byte("v2\n")) // second update keeps its own backup
//	_ = s.Rollback(ctx)                          // restores pre-session content
package patch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/viant/afs"
	"github.com/viant/afs/file"
)

// Session engine

type Action string

const (
	Delete Action = "delete"
	Move   Action = "move"
	Update Action = "update"
	Add    Action = "add"
)

type rollbackEntry struct {
	action  Action
	path    string // primary URL affected
	auxPath string // destination URL for move, otherwise ""
	backup  string // backup URL holding the pre-call snapshot, when one was taken
}

// Session accumulates Add/Delete/Move/Update operations against an afs
// filesystem, tracking enough state to either Rollback every change or
// Commit and discard the rollback log.
type Session struct {
	ID        string
	fs        afs.Service
	tempDir   string // local directory backing this session's backup snapshots
	rollbacks []rollbackEntry
	committed bool
	mu        sync.Mutex // guards committed flag, rollbacks and tracking state

	changes   []*changeEntry
	order     []*changeEntry
	byCurrent map[string]*changeEntry
	byOrigin  map[string]*changeEntry
}

// NewSession opens a Session backed by the default afs.Service and a fresh
// local temp directory for backup snapshots.
func NewSession() (*Session, error) {
	tmp, err := os.MkdirTemp("", "patch-session-*")
	if err != nil {
		return nil, err
	}
	return &Session{
		ID:        filepath.Base(tmp),
		fs:        afs.New(),
		tempDir:   tmp,
		byCurrent: map[string]*changeEntry{},
		byOrigin:  map[string]*changeEntry{},
	}, nil
}

// backup stores one snapshot per call, suffixed with a nanosecond timestamp so
// repeated updates to the same URL within a session each keep their own copy.
func (s *Session) backup(ctx context.Context, url string) (string, error) {
	data, err := s.fs.DownloadWithURL(ctx, url)
	if err != nil {
		return "", err
	}
	dst := fmt.Sprintf("file://%s/%d.bak", s.tempDir, time.Now().UnixNano())
	if err := s.fs.Upload(ctx, dst, file.DefaultFileOsMode, bytes.NewReader(data)); err != nil {
		return "", err
	}
	return dst, nil
}

func (s *Session) assertActive() error {
	if s.committed {
		return errors.New("session already committed")
	}
	return nil
}

func (s *Session) Delete(ctx context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.assertActive(); err != nil {
		return err
	}
	exists, err := s.fs.Exists(ctx, url)
	if err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	if !exists {
		return fmt.Errorf("delete: %s does not exist", url)
	}
	backup, err := s.backup(ctx, url)
	if err != nil {
		return err
	}
	if err := s.fs.Delete(ctx, url); err != nil {
		return err
	}
	s.rollbacks = append(s.rollbacks, rollbackEntry{action: Delete, path: url, backup: backup})
	s.trackDelete(ctx, url, backup)
	return nil
}

func (s *Session) Move(ctx context.Context, src, dst string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.assertActive(); err != nil {
		return err
	}
	exists, err := s.fs.Exists(ctx, src)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("move: %s does not exist", src)
	}
	if err := s.fs.Move(ctx, src, dst); err != nil {
		return err
	}
	s.rollbacks = append(s.rollbacks, rollbackEntry{action: Move, path: src, auxPath: dst})
	s.trackMove(src, dst)
	return nil
}

func (s *Session) Update(ctx context.Context, url string, newData []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.assertActive(); err != nil {
		return err
	}
	exists, err := s.fs.Exists(ctx, url)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("update: %s does not exist", url)
	}
	backup, err := s.backup(ctx, url)
	if err != nil {
		return err
	}
	if err := s.fs.Upload(ctx, url, file.DefaultFileOsMode, bytes.NewReader(newData)); err != nil {
		return err
	}
	s.rollbacks = append(s.rollbacks, rollbackEntry{action: Update, path: url, backup: backup})
	s.trackUpdate(ctx, url, backup)
	return nil
}

func (s *Session) Add(ctx context.Context, url string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.assertActive(); err != nil {
		return err
	}
	if exists, _ := s.fs.Exists(ctx, url); exists {
		return fmt.Errorf("add: %s already exists", url)
	}
	if err := s.fs.Upload(ctx, url, file.DefaultFileOsMode, bytes.NewReader(data)); err != nil {
		return err
	}
	s.rollbacks = append(s.rollbacks, rollbackEntry{action: Add, path: url})
	s.trackAdd(ctx, url)
	return nil
}

// Rollback undoes every operation recorded so far, most recent first, and
// clears both the rollback log and the Snapshot tracking state.
func (s *Session) Rollback(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := len(s.rollbacks) - 1; i >= 0; i-- {
		r := s.rollbacks[i]
		switch r.action {
		case Delete, Update:
			data, err := s.fs.DownloadWithURL(ctx, r.backup)
			if err != nil {
				return err
			}
			if err := s.fs.Upload(ctx, r.path, file.DefaultFileOsMode, bytes.NewReader(data)); err != nil {
				return err
			}
		case Move:
			if err := s.fs.Move(ctx, r.auxPath, r.path); err != nil {
				return err
			}
		case Add:
			if err := s.fs.Delete(ctx, r.path); err != nil {
				return fmt.Errorf("rollback add: %w", err)
			}
		}
	}
	s.rollbacks = nil
	s.resetTracking()
	return s.cleanupBackups()
}

// Commit discards the rollback log, keeping every change made so far.
func (s *Session) Commit(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.committed {
		return nil
	}
	s.committed = true
	s.rollbacks = nil
	return s.cleanupBackups()
}

func (s *Session) cleanupBackups() error {
	if s.tempDir == "" {
		return nil
	}
	if err := os.RemoveAll(s.tempDir); err != nil {
		return fmt.Errorf("cleanup: %w", err)
	}
	return nil
}

func (s *Session) resetTracking() {
	s.changes = nil
	s.order = nil
	s.byCurrent = map[string]*changeEntry{}
	s.byOrigin = map[string]*changeEntry{}
}

// ApplyPatch parses a "*** Begin Patch" multi-file hunk document (the same
// format Parse and apply.go's ApplySource understand) and replays each
// file's hunk through the session's Add/Delete/Move/Update operations, so
// a single multi-file changeset from a code-generating action can be
// applied transactionally and rolled back as one unit on failure.
func (s *Session) ApplyPatch(ctx context.Context, patchText string) error {
	hunks, err := Parse(patchText)
	if err != nil {
		return fmt.Errorf("parse patch: %w", err)
	}
	for _, h := range hunks {
		switch hunk := h.(type) {
		case AddFile:
			if err := s.Add(ctx, hunk.Path, []byte(hunk.Contents)); err != nil {
				return err
			}

		case DeleteFile:
			if err := s.Delete(ctx, hunk.Path); err != nil {
				return err
			}

		case UpdateFile:
			target := hunk.Path
			if hunk.MovePath != "" && hunk.MovePath != hunk.Path {
				if err := s.Move(ctx, hunk.Path, hunk.MovePath); err != nil {
					return err
				}
				target = hunk.MovePath
			}
			oldData, err := s.fs.DownloadWithURL(ctx, target)
			if err != nil {
				return fmt.Errorf("update %s: %w", target, err)
			}
			newLines := s.applyUpdate(oldData, hunk)
			newData := []byte(strings.Join(newLines, "\n"))
			if err := s.Update(ctx, target, newData); err != nil {
				return err
			}
		}
	}
	return nil
}
