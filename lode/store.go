// Package lode persists batch payloads and query manifests through a
// Lode Store (filesystem, S3, or memory).
//
// Payload keys are deterministic: <directory>/<prefix><jobID>_<batchID>.csv.
// Writes are idempotent: a key that already exists is not rewritten, so a
// repeated results pass never duplicates a download.
package lode

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"

	"github.com/justapithecus/lode/lode"
)

// PayloadStore writes batch payloads and manifests to a Lode Store.
type PayloadStore struct {
	factory  lode.StoreFactory
	location string // display prefix for returned locations, e.g. "/data" or "s3://bucket/prefix"
	prefix   string // filename prefix prepended to every payload key

	storeOnce sync.Once
	store     lode.Store
	storeErr  error
}

// StoreConfig configures a PayloadStore.
type StoreConfig struct {
	// Location is prepended to keys to form the locations reported back to
	// callers (a directory path for fs, a URL for s3). May be empty.
	Location string
	// FilenamePrefix is prepended to every payload filename.
	FilenamePrefix string
}

// NewPayloadStore creates a payload store over factory.
// The store is created lazily on first use.
func NewPayloadStore(cfg StoreConfig, factory lode.StoreFactory) *PayloadStore {
	return &PayloadStore{
		factory:  factory,
		location: strings.TrimRight(cfg.Location, "/"),
		prefix:   cfg.FilenamePrefix,
	}
}

// NewFSPayloadStore creates a payload store rooted at dir on the local filesystem.
func NewFSPayloadStore(dir, filenamePrefix string) *PayloadStore {
	return NewPayloadStore(StoreConfig{Location: dir, FilenamePrefix: filenamePrefix}, lode.NewFSFactory(dir))
}

// NewMemoryPayloadStore creates an in-memory payload store.
func NewMemoryPayloadStore(filenamePrefix string) *PayloadStore {
	return NewPayloadStore(StoreConfig{Location: "mem:/", FilenamePrefix: filenamePrefix}, lode.NewMemoryFactory())
}

// PayloadKey returns the deterministic store key for a batch payload.
func (s *PayloadStore) PayloadKey(directory, jobID, batchID string) string {
	name := fmt.Sprintf("%s%s_%s.csv", s.prefix, jobID, batchID)
	if directory == "" {
		return name
	}
	return path.Join(strings.Trim(directory, "/"), name)
}

// Location converts a store key to the location reported to callers.
func (s *PayloadStore) Location(key string) string {
	if s.location == "" {
		return key
	}
	return s.location + "/" + key
}

// WritePayload stores a batch payload and returns its location.
// If the key already exists the payload is drained and the existing
// object is kept.
func (s *PayloadStore) WritePayload(ctx context.Context, directory, jobID, batchID string, payload io.Reader) (string, error) {
	key := s.PayloadKey(directory, jobID, batchID)
	if err := s.put(ctx, key, payload); err != nil {
		return "", err
	}
	return s.Location(key), nil
}

// ReadObject opens a stored object by key.
func (s *PayloadStore) ReadObject(ctx context.Context, key string) (io.ReadCloser, error) {
	store, err := s.getOrCreateStore()
	if err != nil {
		return nil, err
	}
	rc, err := store.Get(ctx, key)
	if err != nil {
		return nil, WrapReadError(err, key)
	}
	return rc, nil
}

// List returns the keys under prefix.
func (s *PayloadStore) List(ctx context.Context, prefix string) ([]string, error) {
	store, err := s.getOrCreateStore()
	if err != nil {
		return nil, err
	}
	keys, err := store.List(ctx, prefix)
	if err != nil {
		return nil, WrapReadError(err, prefix)
	}
	return keys, nil
}

func (s *PayloadStore) put(ctx context.Context, key string, r io.Reader) error {
	store, err := s.getOrCreateStore()
	if err != nil {
		return err
	}

	exists, err := store.Exists(ctx, key)
	if err != nil {
		return WrapReadError(err, key)
	}
	if exists {
		_, _ = io.Copy(io.Discard, r)
		return nil
	}

	if err := store.Put(ctx, key, r); err != nil {
		return WrapWriteError(err, key)
	}
	return nil
}

// replace writes r to key, removing any object already stored there.
func (s *PayloadStore) replace(ctx context.Context, key string, r io.Reader) error {
	store, err := s.getOrCreateStore()
	if err != nil {
		return err
	}
	if err := store.Delete(ctx, key); err != nil {
		return WrapWriteError(err, key)
	}
	if err := store.Put(ctx, key, r); err != nil {
		return WrapWriteError(err, key)
	}
	return nil
}

// getOrCreateStore lazily initializes the Store from the factory.
func (s *PayloadStore) getOrCreateStore() (lode.Store, error) {
	s.storeOnce.Do(func() {
		if s.factory == nil {
			s.storeErr = errors.New("payload store has no store factory")
			return
		}
		s.store, s.storeErr = s.factory()
		if s.storeErr != nil {
			s.storeErr = WrapInitError(s.storeErr, s.location)
		}
	})
	return s.store, s.storeErr
}
