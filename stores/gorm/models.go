//go:build !wasm
// +build !wasm

package gorm

import (
	"time"

	ma "github.com/panyam/microauth"
)

// RecordModel is the GORM model for records of every collection
type RecordModel struct {
	Collection string     `gorm:"primaryKey;size:64"`
	ID         string     `gorm:"primaryKey;size:191"`
	Data       []byte     `gorm:"not null"`
	Version    int64      `gorm:"not null;default:1"`
	ModifiedAt time.Time  `gorm:"index"`
	ExpiresAt  *time.Time `gorm:"index"`
}

func (RecordModel) TableName() string {
	return "microauth_records"
}

func (m *RecordModel) ToRecord() *ma.Record {
	rec := &ma.Record{
		ID:        m.ID,
		Data:      m.Data,
		Version:   m.Version,
		UpdatedAt: m.ModifiedAt,
	}
	if m.ExpiresAt != nil {
		rec.ExpiresAt = *m.ExpiresAt
	}
	return rec
}

func RecordToModel(collection string, rec *ma.Record) *RecordModel {
	m := &RecordModel{
		Collection: collection,
		ID:         rec.ID,
		Data:       rec.Data,
		Version:    rec.Version,
		ModifiedAt: rec.UpdatedAt,
	}
	if !rec.ExpiresAt.IsZero() {
		expires := rec.ExpiresAt
		m.ExpiresAt = &expires
	}
	return m
}
