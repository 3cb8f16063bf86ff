package lode

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/pithecene-io/tranche/iox"
	"github.com/pithecene-io/tranche/metrics"
	"github.com/pithecene-io/tranche/types"
)

// manifestDir is the key prefix for query manifests.
const manifestDir = "manifests"

// Manifest is the persisted record of one query call.
type Manifest struct {
	ManifestVersion string           `msgpack:"manifest_version"`
	QueryID         string           `msgpack:"query_id"`
	SObject         string           `msgpack:"sobject"`
	Query           string           `msgpack:"query"`
	Range           types.TimeRange  `msgpack:"range"`
	StartedAt       time.Time        `msgpack:"started_at"`
	CompletedAt     time.Time        `msgpack:"completed_at"`
	Result          *types.Result    `msgpack:"result"`
	Jobs            []types.JobInfo  `msgpack:"jobs"`
	Metrics         metrics.Snapshot `msgpack:"metrics"`
}

// ManifestKey returns the store key of a query's manifest.
func ManifestKey(queryID string) string {
	return fmt.Sprintf("%s/%s.msgpack", manifestDir, queryID)
}

// WriteManifest encodes m with msgpack and stores it under ManifestKey,
// replacing any earlier manifest of the same query ID.
// Returns the manifest location.
func (s *PayloadStore) WriteManifest(ctx context.Context, m *Manifest) (string, error) {
	if m.QueryID == "" {
		return "", fmt.Errorf("manifest has no query id")
	}
	if m.ManifestVersion == "" {
		m.ManifestVersion = types.ManifestVersion
	}

	data, err := msgpack.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode manifest: %w", err)
	}

	key := ManifestKey(m.QueryID)
	if err := s.replace(ctx, key, bytes.NewReader(data)); err != nil {
		return "", err
	}
	return s.Location(key), nil
}

// ReadManifest loads and decodes the manifest of queryID.
func (s *PayloadStore) ReadManifest(ctx context.Context, queryID string) (*Manifest, error) {
	rc, err := s.ReadObject(ctx, ManifestKey(queryID))
	if err != nil {
		return nil, err
	}
	defer iox.DiscardClose(rc)

	var m Manifest
	if err := msgpack.NewDecoder(rc).Decode(&m); err != nil {
		return nil, fmt.Errorf("decode manifest %s: %w", queryID, err)
	}
	return &m, nil
}

// ListManifests returns the query IDs that have a stored manifest.
func (s *PayloadStore) ListManifests(ctx context.Context) ([]string, error) {
	keys, err := s.List(ctx, manifestDir+"/")
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		name := path.Base(k)
		if id, ok := strings.CutSuffix(name, ".msgpack"); ok && id != "" {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}
