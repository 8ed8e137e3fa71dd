/*
Package blob is the content-addressable store for claim documents and
policy or plan metadata.

PURPOSE:
  The engine never interprets stored content. It only stores bytes, gets a
  reference back, and passes that reference to the ledger.

KEY CONCEPTS:
  - Ref: "sha256:<hex>" of the stored bytes, so equal content yields
    equal references and a Get can verify what it read
  - Store: Put/Get over any backend (memory, MinIO)

SEE ALSO:
  - blob/minio: S3-compatible backend
  - facade/mutations.go: document manifests on SubmitClaim
*/
package blob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Ref is a content reference.
type Ref string

const refPrefix = "sha256:"

var (
	// ErrNotFound is returned by Get for an unknown reference.
	ErrNotFound = errors.New("blob not found")

	// ErrInvalidRef is returned for references not produced by RefOf.
	ErrInvalidRef = errors.New("invalid blob reference")

	// ErrCorrupt is returned when stored bytes do not hash to their reference.
	ErrCorrupt = errors.New("blob content does not match reference")
)

// Store persists opaque content by its hash.
type Store interface {
	Put(ctx context.Context, data []byte) (Ref, error)
	Get(ctx context.Context, ref Ref) ([]byte, error)
}

// RefOf computes the reference of data.
func RefOf(data []byte) Ref {
	sum := sha256.Sum256(data)
	return Ref(refPrefix + hex.EncodeToString(sum[:]))
}

// Digest returns the hex digest of a reference, validating its form.
func (r Ref) Digest() (string, error) {
	s := string(r)
	if !strings.HasPrefix(s, refPrefix) {
		return "", fmt.Errorf("%w: %q", ErrInvalidRef, s)
	}
	d := s[len(refPrefix):]
	if b, err := hex.DecodeString(d); err != nil || len(b) != sha256.Size {
		return "", fmt.Errorf("%w: %q", ErrInvalidRef, s)
	}
	return d, nil
}

// Verify checks that data matches r.
func (r Ref) Verify(data []byte) error {
	if RefOf(data) != r {
		return fmt.Errorf("%w: %s", ErrCorrupt, r)
	}
	return nil
}

// PutJSON marshals v and stores it.
func PutJSON(ctx context.Context, s Store, v any) (Ref, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal blob: %w", err)
	}
	return s.Put(ctx, data)
}

// GetJSON loads ref and unmarshals it into v.
func GetJSON(ctx context.Context, s Store, ref Ref, v any) error {
	data, err := s.Get(ctx, ref)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal blob %s: %w", ref, err)
	}
	return nil
}

// =============================================================================
// MEMORY STORE
// =============================================================================

// MemoryStore keeps blobs in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[Ref][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[Ref][]byte)}
}

func (m *MemoryStore) Put(ctx context.Context, data []byte) (Ref, error) {
	ref := RefOf(data)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.blobs[ref]; !ok {
		m.blobs[ref] = append([]byte(nil), data...)
	}
	return ref, nil
}

func (m *MemoryStore) Get(ctx context.Context, ref Ref) ([]byte, error) {
	if _, err := ref.Digest(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blobs[ref]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	return append([]byte(nil), data...), nil
}

// Len is the number of distinct blobs stored.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs)
}
