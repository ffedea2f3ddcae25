// Package storage holds the blob store contract the capture session
// writes artifacts through. Artifacts are written once under a unique key
// and never mutated or read back by this service.
package storage

import "context"

// Store persists immutable artifacts under slash-namespaced keys.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
}
