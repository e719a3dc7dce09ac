// Package stores provides RecordStore backends for microauth.
//
// FSStore keeps one JSON file per record under
// <StoragePath>/<collection>/<id>.json and is suitable for development and
// single-process deployments. Version checks are enforced within the
// process; use the redis, gorm or gae backends when several processes
// share the same data.
//
//	records := stores.NewFSStore("/var/lib/microauth")
//	sessions := microauth.NewSessionManager(cfg, records, logger)
//	identities := microauth.NewIdentityStore(cfg, records, logger)
package stores
