//go:build !wasm
// +build !wasm

package gorm

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	ma "github.com/panyam/microauth"
)

// AutoMigrate runs database migrations for the record table
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&RecordModel{})
}

// RecordStore implements ma.RecordStore using GORM
type RecordStore struct {
	db *gorm.DB
}

func NewRecordStore(db *gorm.DB) *RecordStore {
	return &RecordStore{db: db}
}

func (s *RecordStore) Load(ctx context.Context, collection, id string) (*ma.Record, error) {
	var model RecordModel
	err := s.db.WithContext(ctx).First(&model, "collection = ? AND id = ?", collection, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ma.ErrRecordNotFound
		}
		return nil, err
	}
	return model.ToRecord(), nil
}

func (s *RecordStore) Save(ctx context.Context, collection string, rec *ma.Record) error {
	model := RecordToModel(collection, rec)
	if model.ModifiedAt.IsZero() {
		model.ModifiedAt = time.Now()
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current int64
		var existing RecordModel
		err := tx.Select("version").
			Where("collection = ? AND id = ?", collection, rec.ID).
			Take(&existing).Error
		switch {
		case err == nil:
			current = existing.Version
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}
		if err := ma.CheckVersion(rec.Version, current); err != nil {
			return err
		}
		model.Version = current + 1

		if current == 0 {
			res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(model)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return ma.ErrVersionConflict
			}
			return nil
		}

		res := tx.Model(&RecordModel{}).
			Where("collection = ? AND id = ? AND version = ?", collection, rec.ID, current).
			Updates(map[string]any{
				"data":        model.Data,
				"version":     model.Version,
				"modified_at": model.ModifiedAt,
				"expires_at":  model.ExpiresAt,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ma.ErrVersionConflict
		}
		return nil
	})
	if err != nil {
		return err
	}
	rec.Version = model.Version
	rec.UpdatedAt = model.ModifiedAt
	return nil
}

func (s *RecordStore) Delete(ctx context.Context, collection, id string) error {
	return s.db.WithContext(ctx).
		Where("collection = ? AND id = ?", collection, id).
		Delete(&RecordModel{}).Error
}

func (s *RecordStore) Scan(ctx context.Context, collection string, fn ma.ScanFunc) error {
	db := s.db.WithContext(ctx)
	rows, err := db.Model(&RecordModel{}).
		Where("collection = ?", collection).
		Order("id").
		Rows()
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var model RecordModel
		if err := db.ScanRows(rows, &model); err != nil {
			if ferr := fn("", nil, err); ferr != nil {
				return ferr
			}
			continue
		}
		if err := fn(model.ID, model.ToRecord(), nil); err != nil {
			return err
		}
	}
	return rows.Err()
}

// DeleteExpired removes records of collection whose expiry has passed.
func (s *RecordStore) DeleteExpired(ctx context.Context, collection string, now time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("collection = ? AND expires_at IS NOT NULL AND expires_at < ?", collection, now).
		Delete(&RecordModel{})
	return res.RowsAffected, res.Error
}
