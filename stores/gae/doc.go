//go:build !wasm
// +build !wasm

// Package gae provides a Google Cloud Datastore implementation of
// microauth.RecordStore for deployments on Google Cloud Platform. It
// supports multi-tenancy through Datastore namespaces.
//
// # Datastore Kinds
//
// Each collection maps to its own kind:
//   - Session: session records, keyed by session id
//   - Identity: identity records, keyed by identity id
//
// Other collection names are used as the kind unchanged. Saves run in a
// transaction that checks the stored version, so concurrent writers lose
// with microauth.ErrVersionConflict.
//
// # Usage
//
//	client, _ := datastore.NewClient(ctx, projectID)
//	records := gae.NewRecordStore(client, "")  // default namespace
//	tenant := gae.NewRecordStore(client, "tenant-123")
package gae
