// Package dao defines the storage contract shared by the workflow and
// process stores: a generic CRUD interface plus the sentinel errors and
// List filter both memory, filesystem and postgres backends implement.
package dao

import (
	"context"
)

// Service is the CRUD contract every store backend (workflow or process)
// implements, keyed by K and storing *T.
type Service[K comparable, T any] interface {
	Save(ctx context.Context, t *T) error

	Load(ctx context.Context, id K) (*T, error)

	Delete(ctx context.Context, id K) error

	List(ctx context.Context, parameters ...*Parameter) ([]*T, error)
}
