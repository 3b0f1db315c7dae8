package workflow

import "github.com/viant/afs"

// Option configures a Service at construction time.
type Option func(*Service)

// WithFS overrides the afs.Service workflow documents are downloaded
// through — tests substitute an in-memory filesystem this way.
func WithFS(fs afs.Service) Option {
	return func(s *Service) { s.fs = fs }
}
