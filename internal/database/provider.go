package database

import (
	"context"
	"errors"
	"sync"
)

// ErrNotInitialized is returned when no storage backend has been registered.
var ErrNotInitialized = errors.New("history backend not initialized: DATABASE_URL is required")

// HNSWRebuilder is an interface for repositories that support HNSW index rebuilding
type HNSWRebuilder interface {
	// RebuildHNSW rebuilds the in-memory HNSW index
	RebuildHNSW(ctx context.Context) error
	// HNSWCount returns the number of items in the HNSW index
	HNSWCount() int
	// IsHNSWEnabled returns whether HNSW is enabled
	IsHNSWEnabled() bool
	// SaveHNSWIndex saves the current index to disk (if path configured)
	SaveHNSWIndex() error
}

var (
	backendMu       sync.RWMutex
	sessionWriterFn func() SessionWriter
	faceReaderFn    func() FaceReader
	faceHNSW        HNSWRebuilder
)

// RegisterBackend registers repository constructors.
// This is called by the postgres package to avoid import cycles.
func RegisterBackend(sessions func() SessionWriter, faces func() FaceReader) {
	backendMu.Lock()
	defer backendMu.Unlock()
	sessionWriterFn = sessions
	faceReaderFn = faces
}

// RegisterFaceHNSWRebuilder registers the HNSW rebuilder for the face repository.
func RegisterFaceHNSWRebuilder(rebuilder HNSWRebuilder) {
	backendMu.Lock()
	defer backendMu.Unlock()
	faceHNSW = rebuilder
}

// GetFaceHNSWRebuilder returns the registered face HNSW rebuilder, or nil if not registered.
func GetFaceHNSWRebuilder() HNSWRebuilder {
	backendMu.RLock()
	defer backendMu.RUnlock()
	return faceHNSW
}

// IsInitialized returns whether a backend has been registered.
func IsInitialized() bool {
	backendMu.RLock()
	defer backendMu.RUnlock()
	return sessionWriterFn != nil
}

// GetSessionWriter returns a SessionWriter from the registered backend
func GetSessionWriter(_ context.Context) (SessionWriter, error) {
	backendMu.RLock()
	defer backendMu.RUnlock()
	if sessionWriterFn == nil {
		return nil, ErrNotInitialized
	}
	return sessionWriterFn(), nil
}

// GetSessionReader returns a SessionReader from the registered backend
func GetSessionReader(ctx context.Context) (SessionReader, error) {
	return GetSessionWriter(ctx)
}

// GetFaceReader returns a FaceReader from the registered backend
func GetFaceReader(_ context.Context) (FaceReader, error) {
	backendMu.RLock()
	defer backendMu.RUnlock()
	if faceReaderFn == nil {
		return nil, ErrNotInitialized
	}
	return faceReaderFn(), nil
}
