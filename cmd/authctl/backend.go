package main

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/datastore"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	ma "github.com/panyam/microauth"
	"github.com/panyam/microauth/stores"
	gaestore "github.com/panyam/microauth/stores/gae"
	gormstore "github.com/panyam/microauth/stores/gorm"
	redisstore "github.com/panyam/microauth/stores/redis"
)

// expirer is implemented by backends that can drop expired records in
// one statement.
type expirer interface {
	DeleteExpired(ctx context.Context, collection string, now time.Time) (int64, error)
}

// openRecords opens the configured backend. close releases it.
func openRecords(ctx context.Context) (records ma.RecordStore, close func(), err error) {
	switch settings.Backend {
	case "fs":
		return stores.NewFSStore(settings.DataDir), func() {}, nil

	case "redis":
		client, err := redisstore.Connect(ctx, settings.Redis)
		if err != nil {
			return nil, nil, err
		}
		store := redisstore.NewStore(client, settings.Redis.KeyPrefix).WithScanBatchSize(settings.Redis.ScanBatchSize)
		return store, func() { client.Close() }, nil

	case "gorm":
		db, err := gorm.Open(sqlite.Open(settings.DatabaseDSN), &gorm.Config{})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err := gormstore.AutoMigrate(db); err != nil {
			return nil, nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		closeDB := func() {
			if sqlDB, err := db.DB(); err == nil {
				sqlDB.Close()
			}
		}
		return gormstore.NewRecordStore(db), closeDB, nil

	case "datastore":
		client, err := datastore.NewClient(ctx, settings.GCPProject)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create datastore client: %w", err)
		}
		return gaestore.NewRecordStore(client, settings.Namespace), func() { client.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown backend %q", settings.Backend)
}
