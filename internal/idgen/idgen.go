package idgen

import "github.com/google/uuid"

// NewFunc generates one identifier; Engine.BuildProcess calls New() through
// it for every Process. Overridable in tests for deterministic IDs.
var NewFunc = func() string { return uuid.New().String() }

// New returns a new globally unique identifier as a string.
func New() string { return NewFunc() }
