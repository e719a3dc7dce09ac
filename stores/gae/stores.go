//go:build !wasm
// +build !wasm

package gae

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/datastore"
	"google.golang.org/api/iterator"

	ma "github.com/panyam/microauth"
)

// Kind constants for Datastore entities
const (
	KindSession  = "Session"
	KindIdentity = "Identity"
)

func kindFor(collection string) string {
	switch collection {
	case ma.CollectionSessions:
		return KindSession
	case ma.CollectionIdentities:
		return KindIdentity
	}
	return collection
}

// RecordStore implements ma.RecordStore using Google Cloud Datastore
type RecordStore struct {
	client    *datastore.Client
	namespace string
}

// NewRecordStore creates a new Datastore-backed RecordStore
func NewRecordStore(client *datastore.Client, namespace string) *RecordStore {
	return &RecordStore{client: client, namespace: namespace}
}

func (s *RecordStore) namespacedKey(kind, name string) *datastore.Key {
	key := datastore.NameKey(kind, name, nil)
	key.Namespace = s.namespace
	return key
}

func (s *RecordStore) Load(ctx context.Context, collection, id string) (*ma.Record, error) {
	key := s.namespacedKey(kindFor(collection), id)
	var entity RecordEntity
	if err := s.client.Get(ctx, key, &entity); err != nil {
		if err == datastore.ErrNoSuchEntity {
			return nil, ma.ErrRecordNotFound
		}
		return nil, err
	}
	return entity.ToRecord(), nil
}

func (s *RecordStore) Save(ctx context.Context, collection string, rec *ma.Record) error {
	key := s.namespacedKey(kindFor(collection), rec.ID)
	updatedAt := rec.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	var next int64
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var current int64
		var existing RecordEntity
		if err := tx.Get(key, &existing); err == nil {
			current = existing.Version
		} else if err != datastore.ErrNoSuchEntity {
			return err
		}
		if err := ma.CheckVersion(rec.Version, current); err != nil {
			return err
		}

		next = current + 1
		entity := RecordToEntity(rec, key)
		entity.Version = next
		entity.UpdatedAt = updatedAt
		_, err := tx.Put(key, entity)
		return err
	})
	if errors.Is(err, datastore.ErrConcurrentTransaction) {
		return ma.ErrVersionConflict
	}
	if err != nil {
		return err
	}
	rec.Version = next
	rec.UpdatedAt = updatedAt
	return nil
}

func (s *RecordStore) Delete(ctx context.Context, collection, id string) error {
	err := s.client.Delete(ctx, s.namespacedKey(kindFor(collection), id))
	if err == datastore.ErrNoSuchEntity {
		return nil
	}
	return err
}

func (s *RecordStore) Scan(ctx context.Context, collection string, fn ma.ScanFunc) error {
	query := datastore.NewQuery(kindFor(collection))
	if s.namespace != "" {
		query = query.Namespace(s.namespace)
	}

	it := s.client.Run(ctx, query)
	for {
		var entity RecordEntity
		key, err := it.Next(&entity)
		if err == iterator.Done {
			break
		}
		if key == nil {
			return err
		}
		if err != nil {
			if ferr := fn(key.Name, nil, err); ferr != nil {
				return ferr
			}
			continue
		}
		if ferr := fn(key.Name, entity.ToRecord(), nil); ferr != nil {
			return ferr
		}
	}
	return nil
}
