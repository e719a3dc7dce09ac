// Package storetest checks RecordStore implementations against the shared
// contract.
package storetest

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ma "github.com/panyam/microauth"
)

// Run exercises a fresh store from newStore in each subtest.
func Run(t *testing.T, newStore func(t *testing.T) ma.RecordStore) {
	ctx := context.Background()

	t.Run("load missing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Load(ctx, ma.CollectionIdentities, "nope")
		assert.True(t, ma.IsNotFound(err))
	})

	t.Run("create and load", func(t *testing.T) {
		s := newStore(t)
		at := time.Now().Add(-time.Minute).Truncate(time.Millisecond)
		rec := &ma.Record{ID: "user_1", Data: []byte(`{"email":"a@b.com"}`), UpdatedAt: at}
		require.NoError(t, s.Save(ctx, ma.CollectionIdentities, rec))
		assert.Equal(t, int64(1), rec.Version)

		got, err := s.Load(ctx, ma.CollectionIdentities, "user_1")
		require.NoError(t, err)
		assert.Equal(t, "user_1", got.ID)
		assert.JSONEq(t, `{"email":"a@b.com"}`, string(got.Data))
		assert.Equal(t, int64(1), got.Version)
		assert.True(t, at.Equal(got.UpdatedAt), "updated_at %v != %v", got.UpdatedAt, at)
	})

	t.Run("opaque data", func(t *testing.T) {
		s := newStore(t)
		raw := []byte("not json \x00\x01")
		require.NoError(t, s.Save(ctx, ma.CollectionSessions, &ma.Record{ID: "s1", Data: raw, Version: ma.AnyVersion}))
		got, err := s.Load(ctx, ma.CollectionSessions, "s1")
		require.NoError(t, err)
		assert.Equal(t, raw, got.Data)
	})

	t.Run("version check", func(t *testing.T) {
		s := newStore(t)
		rec := &ma.Record{ID: "user_1", Data: []byte(`{}`)}
		require.NoError(t, s.Save(ctx, ma.CollectionIdentities, rec))

		dup := &ma.Record{ID: "user_1", Data: []byte(`{"x":1}`)}
		assert.ErrorIs(t, s.Save(ctx, ma.CollectionIdentities, dup), ma.ErrVersionConflict, "create over an existing record")

		rec.Data = []byte(`{"x":2}`)
		require.NoError(t, s.Save(ctx, ma.CollectionIdentities, rec))
		assert.Equal(t, int64(2), rec.Version)

		stale := &ma.Record{ID: "user_1", Data: []byte(`{"x":3}`), Version: 1}
		assert.ErrorIs(t, s.Save(ctx, ma.CollectionIdentities, stale), ma.ErrVersionConflict)

		blind := &ma.Record{ID: "user_1", Data: []byte(`{"x":4}`), Version: ma.AnyVersion}
		require.NoError(t, s.Save(ctx, ma.CollectionIdentities, blind))
		assert.Equal(t, int64(3), blind.Version)

		got, err := s.Load(ctx, ma.CollectionIdentities, "user_1")
		require.NoError(t, err)
		assert.JSONEq(t, `{"x":4}`, string(got.Data))
	})

	t.Run("concurrent writers", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Save(ctx, ma.CollectionIdentities, &ma.Record{ID: "c", Data: []byte(`{}`)}))

		const writers = 8
		var wg sync.WaitGroup
		var mu sync.Mutex
		wins := 0
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := s.Save(ctx, ma.CollectionIdentities, &ma.Record{ID: "c", Data: []byte(`{}`), Version: 1})
				if err == nil {
					mu.Lock()
					wins++
					mu.Unlock()
				} else if !errors.Is(err, ma.ErrVersionConflict) {
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, wins)
	})

	t.Run("delete", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Save(ctx, ma.CollectionSessions, &ma.Record{ID: "s1", Data: []byte(`{}`)}))
		require.NoError(t, s.Delete(ctx, ma.CollectionSessions, "s1"))
		_, err := s.Load(ctx, ma.CollectionSessions, "s1")
		assert.True(t, ma.IsNotFound(err))
		assert.NoError(t, s.Delete(ctx, ma.CollectionSessions, "s1"), "deleting twice is fine")

		// A deleted record can be created again.
		assert.NoError(t, s.Save(ctx, ma.CollectionSessions, &ma.Record{ID: "s1", Data: []byte(`{}`)}))
	})

	t.Run("scan", func(t *testing.T) {
		s := newStore(t)
		for _, id := range []string{"a", "b", "c"} {
			require.NoError(t, s.Save(ctx, ma.CollectionIdentities, &ma.Record{ID: id, Data: []byte(`{}`)}))
		}
		require.NoError(t, s.Save(ctx, ma.CollectionSessions, &ma.Record{ID: "other", Data: []byte(`{}`)}))

		var ids []string
		err := s.Scan(ctx, ma.CollectionIdentities, func(id string, rec *ma.Record, err error) error {
			require.NoError(t, err)
			assert.Equal(t, id, rec.ID)
			ids = append(ids, id)
			return nil
		})
		require.NoError(t, err)
		sort.Strings(ids)
		assert.Equal(t, []string{"a", "b", "c"}, ids)

		stop := errors.New("stop")
		calls := 0
		err = s.Scan(ctx, ma.CollectionIdentities, func(string, *ma.Record, error) error {
			calls++
			return stop
		})
		assert.ErrorIs(t, err, stop)
		assert.Equal(t, 1, calls)
	})

	t.Run("scan empty collection", func(t *testing.T) {
		s := newStore(t)
		err := s.Scan(ctx, ma.CollectionSessions, func(string, *ma.Record, error) error {
			t.Error("unexpected record")
			return nil
		})
		assert.NoError(t, err)
	})

	t.Run("expiry is kept", func(t *testing.T) {
		s := newStore(t)
		exp := time.Now().Add(time.Hour).Truncate(time.Millisecond)
		require.NoError(t, s.Save(ctx, ma.CollectionSessions, &ma.Record{ID: "s1", Data: []byte(`{}`), ExpiresAt: exp, Version: ma.AnyVersion}))
		got, err := s.Load(ctx, ma.CollectionSessions, "s1")
		require.NoError(t, err)
		assert.True(t, exp.Equal(got.ExpiresAt), "expires_at %v != %v", got.ExpiresAt, exp)
	})
}
