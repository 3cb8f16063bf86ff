// Package types defines the shared value types of the tranche client.
// Types here carry no behavior beyond validation and formatting; the
// orchestration that mutates them lives in runtime.
//
//nolint:revive // types is a common Go package naming convention
package types

import (
	"errors"

	"github.com/google/uuid"
)

// QueryMeta identifies a single user-level query call.
type QueryMeta struct {
	// QueryID is the client-side identifier. Must be unique per call.
	QueryID string
	// SObject is the target object name, e.g. "Account".
	SObject string
}

// NewQueryMeta creates query metadata with a fresh random query ID.
func NewQueryMeta(sobject string) *QueryMeta {
	return &QueryMeta{
		QueryID: NewQueryID(),
		SObject: sobject,
	}
}

// NewQueryID returns a new random query identifier.
func NewQueryID() string {
	return uuid.NewString()
}

// Validate checks identity rules:
//   - query_id non-empty
//   - sobject non-empty
func (m *QueryMeta) Validate() error {
	if m == nil {
		return errors.New("query metadata is required")
	}
	if m.QueryID == "" {
		return errors.New("query_id must be non-empty")
	}
	if m.SObject == "" {
		return errors.New("sobject must be non-empty")
	}
	return nil
}
