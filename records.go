package microauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Collections used by the engine.
const (
	CollectionSessions   = "sessions"
	CollectionIdentities = "identities"
)

// AnyVersion skips the version check on Save.
const AnyVersion int64 = -1

// Record is one persisted entity. Data is opaque to the store.
type Record struct {
	ID        string    `json:"id"`
	Data      []byte    `json:"data"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// ScanFunc is called once per record during Scan. When a record cannot be
// read, rec is nil and err describes the failure. Returning an error stops
// the scan and is returned from Scan.
type ScanFunc func(id string, rec *Record, err error) error

// RecordStore persists records grouped into collections.
//
// Save is a compare-and-swap on Version: rec.Version must equal the stored
// version, 0 means the record must not exist yet, and AnyVersion writes
// unconditionally. A lost race returns ErrVersionConflict. On success
// rec.Version and rec.UpdatedAt are updated to the stored values. A zero
// UpdatedAt is stamped with the current time.
type RecordStore interface {
	Load(ctx context.Context, collection, id string) (*Record, error)
	Save(ctx context.Context, collection string, rec *Record) error
	Delete(ctx context.Context, collection, id string) error
	Scan(ctx context.Context, collection string, fn ScanFunc) error
}

// CheckVersion applies the Save version rule. current is the stored version,
// or 0 when the record does not exist.
func CheckVersion(expected, current int64) error {
	if expected == AnyVersion || expected == current {
		return nil
	}
	return ErrVersionConflict
}

// collection stores values of T as JSON records.
type collection[T any] struct {
	name  string
	store RecordStore
}

func (c collection[T]) load(ctx context.Context, id string) (*T, int64, error) {
	rec, err := c.store.Load(ctx, c.name, id)
	if err != nil {
		return nil, 0, err
	}
	var out T
	if err := json.Unmarshal(rec.Data, &out); err != nil {
		return nil, 0, fmt.Errorf("decoding %s/%s: %w", c.name, id, err)
	}
	return &out, rec.Version, nil
}

func (c collection[T]) save(ctx context.Context, id string, value *T, version int64, now time.Time) (int64, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return 0, fmt.Errorf("encoding %s/%s: %w", c.name, id, err)
	}
	rec := &Record{ID: id, Data: data, Version: version, UpdatedAt: now}
	if err := c.store.Save(ctx, c.name, rec); err != nil {
		return 0, err
	}
	return rec.Version, nil
}

// scan decodes every record, skipping unreadable ones via onErr.
func (c collection[T]) scan(ctx context.Context, fn func(id string, value *T) error, onErr func(id string, err error)) error {
	return c.store.Scan(ctx, c.name, func(id string, rec *Record, err error) error {
		if err == nil {
			var value T
			if err = json.Unmarshal(rec.Data, &value); err == nil {
				return fn(id, &value)
			}
		}
		if onErr != nil {
			onErr(id, err)
		}
		return nil
	})
}

// IsNotFound reports whether err means the record does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRecordNotFound)
}
