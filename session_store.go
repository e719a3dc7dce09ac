package microauth

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// jsonCodec encodes scs session state as {"deadline": ..., "values": {...}}.
// Numbers decode as json.Number so integer values survive a round trip.
type jsonCodec struct{}

type sessionPayload struct {
	Deadline time.Time      `json:"deadline"`
	Values   map[string]any `json:"values"`
}

func (jsonCodec) Encode(deadline time.Time, values map[string]interface{}) ([]byte, error) {
	return json.Marshal(sessionPayload{Deadline: deadline, Values: values})
}

func (jsonCodec) Decode(b []byte) (time.Time, map[string]interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var p sessionPayload
	if err := dec.Decode(&p); err != nil {
		return time.Time{}, nil, err
	}
	if p.Values == nil {
		p.Values = make(map[string]any)
	}
	return p.Deadline, p.Values, nil
}

// sessionStore adapts a RecordStore to scs.Store and scs.CtxStore.
// Unreadable or corrupt records are reported as missing so the request
// continues with a fresh session.
type sessionStore struct {
	records RecordStore
	logger  *slog.Logger
	now     func() time.Time
}

func (s *sessionStore) Find(token string) ([]byte, bool, error) {
	return s.FindCtx(context.Background(), token)
}

func (s *sessionStore) Commit(token string, b []byte, expiry time.Time) error {
	return s.CommitCtx(context.Background(), token, b, expiry)
}

func (s *sessionStore) Delete(token string) error {
	return s.DeleteCtx(context.Background(), token)
}

func (s *sessionStore) FindCtx(ctx context.Context, token string) ([]byte, bool, error) {
	rec, err := s.records.Load(ctx, CollectionSessions, token)
	if err != nil {
		if !IsNotFound(err) {
			s.logger.Warn("Failed to read session record", "session", token, errAttr(err))
		}
		return nil, false, nil
	}
	if !rec.ExpiresAt.IsZero() && time.Now().After(rec.ExpiresAt) {
		return nil, false, nil
	}
	if _, _, err := (jsonCodec{}).Decode(rec.Data); err != nil {
		s.logger.Warn("Discarding corrupt session record", "session", token, errAttr(err))
		return nil, false, nil
	}
	return rec.Data, true, nil
}

func (s *sessionStore) CommitCtx(ctx context.Context, token string, b []byte, expiry time.Time) error {
	rec := &Record{
		ID:        token,
		Data:      b,
		Version:   AnyVersion,
		UpdatedAt: s.now(),
		ExpiresAt: expiry,
	}
	if err := s.records.Save(ctx, CollectionSessions, rec); err != nil {
		s.logger.Error("Failed to write session record", "session", token, errAttr(err))
		return err
	}
	return nil
}

func (s *sessionStore) DeleteCtx(ctx context.Context, token string) error {
	if err := s.records.Delete(ctx, CollectionSessions, token); err != nil && !IsNotFound(err) {
		return err
	}
	return nil
}
