package stores

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	ma "github.com/panyam/microauth"
)

// fileRecord is the on-disk form of a record. Data is kept inline when it
// is JSON so the files stay readable.
type fileRecord struct {
	ID        string          `json:"id"`
	Version   int64           `json:"version"`
	UpdatedAt time.Time       `json:"updated_at"`
	ExpiresAt time.Time       `json:"expires_at,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Blob      []byte          `json:"blob,omitempty"`
}

// FSStore stores records as JSON files.
type FSStore struct {
	StoragePath string

	locks ma.KeyedMutex
}

func NewFSStore(storagePath string) *FSStore {
	return &FSStore{StoragePath: storagePath}
}

func (s *FSStore) getRecordPath(collection, id string) (string, error) {
	if err := validName(collection); err != nil {
		return "", err
	}
	if err := validName(id); err != nil {
		return "", err
	}
	return filepath.Join(s.StoragePath, collection, id+".json"), nil
}

func (s *FSStore) Load(ctx context.Context, collection, id string) (*ma.Record, error) {
	path, err := s.getRecordPath(collection, id)
	if err != nil {
		return nil, err
	}
	return readRecordFile(path)
}

func readRecordFile(path string) (*ma.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ma.ErrRecordNotFound
		}
		return nil, err
	}
	var fr fileRecord
	if err := json.Unmarshal(data, &fr); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
	}
	rec := &ma.Record{
		ID:        fr.ID,
		Version:   fr.Version,
		UpdatedAt: fr.UpdatedAt,
		ExpiresAt: fr.ExpiresAt,
		Data:      []byte(fr.Data),
	}
	if fr.Blob != nil {
		rec.Data = fr.Blob
	}
	return rec, nil
}

func (s *FSStore) Save(ctx context.Context, collection string, rec *ma.Record) error {
	path, err := s.getRecordPath(collection, rec.ID)
	if err != nil {
		return err
	}
	unlock := s.locks.Lock(path)
	defer unlock()

	var current int64
	existing, err := readRecordFile(path)
	switch {
	case err == nil:
		current = existing.Version
	case err == ma.ErrRecordNotFound:
	case rec.Version == ma.AnyVersion:
		// an unreadable file is overwritten by a blind write
	default:
		return err
	}
	if err := ma.CheckVersion(rec.Version, current); err != nil {
		return err
	}

	updatedAt := rec.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	fr := fileRecord{
		ID:        rec.ID,
		Version:   current + 1,
		UpdatedAt: updatedAt,
		ExpiresAt: rec.ExpiresAt,
	}
	if json.Valid(rec.Data) {
		fr.Data = json.RawMessage(rec.Data)
	} else {
		fr.Blob = rec.Data
	}
	data, err := json.MarshalIndent(fr, "", "  ")
	if err != nil {
		return err
	}
	if err := writeAtomicFile(path, data); err != nil {
		return err
	}
	rec.Version = fr.Version
	rec.UpdatedAt = updatedAt
	return nil
}

func (s *FSStore) Delete(ctx context.Context, collection, id string) error {
	path, err := s.getRecordPath(collection, id)
	if err != nil {
		return err
	}
	unlock := s.locks.Lock(path)
	defer unlock()

	err = os.Remove(path)
	if os.IsNotExist(err) {
		return nil // Already deleted
	}
	return err
}

func (s *FSStore) Scan(ctx context.Context, collection string, fn ma.ScanFunc) error {
	if err := validName(collection); err != nil {
		return err
	}
	dir := filepath.Join(s.StoragePath, collection)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		id := strings.TrimSuffix(name, ".json")
		rec, err := readRecordFile(filepath.Join(dir, name))
		if err == ma.ErrRecordNotFound {
			continue // removed during the scan
		}
		if ferr := fn(id, rec, err); ferr != nil {
			return ferr
		}
	}
	return nil
}
