// Package idgen generates Process identifiers. It lives under internal
// because callers should treat the values as opaque strings, not rely on
// their UUID shape.
package idgen
