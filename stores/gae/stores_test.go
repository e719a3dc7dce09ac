//go:build !wasm
// +build !wasm

package gae_test

import (
	"context"
	"os"
	"strings"
	"testing"

	"cloud.google.com/go/datastore"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ma "github.com/panyam/microauth"
	"github.com/panyam/microauth/stores/gae"
	"github.com/panyam/microauth/stores/storetest"
)

// newClient connects to the Datastore emulator. Start one with
// `gcloud beta emulators datastore start` and export DATASTORE_EMULATOR_HOST.
func newClient(t *testing.T) *datastore.Client {
	t.Helper()
	if os.Getenv("DATASTORE_EMULATOR_HOST") == "" {
		t.Skip("DATASTORE_EMULATOR_HOST not set")
	}
	project := os.Getenv("DATASTORE_PROJECT_ID")
	if project == "" {
		project = "microauth-test"
	}
	client, err := datastore.NewClient(context.Background(), project)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

// Each store gets its own namespace so runs never see each other's records.
func namespace() string {
	return "t" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func TestRecordStore(t *testing.T) {
	client := newClient(t)
	storetest.Run(t, func(t *testing.T) ma.RecordStore {
		return gae.NewRecordStore(client, namespace())
	})
}

func TestRecordStore_NamespacesAreIsolated(t *testing.T) {
	client := newClient(t)
	ctx := context.Background()
	a := gae.NewRecordStore(client, namespace())
	b := gae.NewRecordStore(client, namespace())

	require.NoError(t, a.Save(ctx, ma.CollectionIdentities, &ma.Record{ID: "user_1", Data: []byte(`{}`)}))

	_, err := b.Load(ctx, ma.CollectionIdentities, "user_1")
	assert.ErrorIs(t, err, ma.ErrRecordNotFound)

	var ids []string
	require.NoError(t, b.Scan(ctx, ma.CollectionIdentities, func(id string, _ *ma.Record, _ error) error {
		ids = append(ids, id)
		return nil
	}))
	assert.Empty(t, ids)
}
