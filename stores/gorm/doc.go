//go:build !wasm
// +build !wasm

// Package gorm provides a GORM backed microauth.RecordStore. It works with
// any database GORM supports (PostgreSQL, MySQL, SQLite, etc.).
//
// # Database Schema
//
// AutoMigrate creates a single table, microauth_records, keyed by
// (collection, id). Saves are conditional updates on the version column,
// so concurrent writers in different processes lose with
// microauth.ErrVersionConflict instead of overwriting each other.
//
// # Usage
//
//	db, _ := gorm.Open(postgres.Open(dsn), &gorm.Config{})
//	_ = gormstore.AutoMigrate(db)
//	records := gormstore.NewRecordStore(db)
package gorm
