package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrQueryTimeout      = errors.New("query timed out before any search completed")
	ErrCursorExpired     = errors.New("cursor expired or unknown")
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
)

// ModelLoadError means no embeddings can be produced in this process.
type ModelLoadError struct {
	Model string
	Err   error
}

func (e *ModelLoadError) Error() string {
	return fmt.Sprintf("failed to load embedding model %q: %v", e.Model, e.Err)
}

func (e *ModelLoadError) Unwrap() error { return e.Err }

// InferenceError marks a single failed item in a batch.
type InferenceError struct {
	Index int
	Err   error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("inference failed for item %d: %v", e.Index, e.Err)
}

func (e *InferenceError) Unwrap() error { return e.Err }

type IndexBackendInitError struct {
	Backend string
	Err     error
}

func (e *IndexBackendInitError) Error() string {
	return fmt.Sprintf("failed to initialize %s text backend: %v", e.Backend, e.Err)
}

func (e *IndexBackendInitError) Unwrap() error { return e.Err }

type CacheIOError struct {
	Op  string
	Key string
	Err error
}

func (e *CacheIOError) Error() string {
	return fmt.Sprintf("embedding cache %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *CacheIOError) Unwrap() error { return e.Err }

type VectorStoreError struct {
	Op  string
	Err error
}

func (e *VectorStoreError) Error() string {
	return fmt.Sprintf("vector store %s: %v", e.Op, e.Err)
}

func (e *VectorStoreError) Unwrap() error { return e.Err }
