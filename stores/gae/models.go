//go:build !wasm
// +build !wasm

package gae

import (
	"time"

	"cloud.google.com/go/datastore"
	ma "github.com/panyam/microauth"
)

// RecordEntity is the Datastore entity for a record
type RecordEntity struct {
	Key       *datastore.Key `datastore:"__key__"`
	Data      []byte         `datastore:"data,noindex"`
	Version   int64          `datastore:"version"`
	UpdatedAt time.Time      `datastore:"updated_at"`
	ExpiresAt time.Time      `datastore:"expires_at"`
}

func (e *RecordEntity) ToRecord() *ma.Record {
	return &ma.Record{
		ID:        e.Key.Name,
		Data:      e.Data,
		Version:   e.Version,
		UpdatedAt: e.UpdatedAt,
		ExpiresAt: e.ExpiresAt,
	}
}

func RecordToEntity(rec *ma.Record, key *datastore.Key) *RecordEntity {
	return &RecordEntity{
		Key:       key,
		Data:      rec.Data,
		Version:   rec.Version,
		UpdatedAt: rec.UpdatedAt,
		ExpiresAt: rec.ExpiresAt,
	}
}
