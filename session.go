package microauth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/alexedwards/scs/v2"
)

// Session keys written by the engine.
const (
	SessionKeyUserID           = "user_id"
	SessionKeyLoginTime        = "login_time"
	SessionKeyLoginMethod      = "login_method"
	SessionKeyCSRFToken        = "csrf_token"
	SessionKeyCSRFTokenTime    = "csrf_token_time"
	SessionKeyLastRegeneration = "last_regeneration"
	SessionKeyAuth0ID          = "auth0_id"
	SessionKeyUniqueURLToken   = "unique_url_token"
)

// RotationInterval is how long a session id lives before Open rotates it.
const RotationInterval = 300 * time.Second

type sessionCtxKey struct{}

// SessionManager owns session lifecycle: loading, id rotation, CSRF tokens
// and the expiry sweep. Session state is kept by scs in records of the
// "sessions" collection.
type SessionManager struct {
	// Now is the clock used for rotation, CSRF expiry and the sweep.
	Now func() time.Time

	config  ConfigProvider
	records RecordStore
	logger  *slog.Logger
	scs     *scs.SessionManager
	locks   KeyedMutex
	timeout time.Duration
}

// NewSessionManager configures a session manager from the session.* keys.
func NewSessionManager(cfg ConfigProvider, records RecordStore, logger *slog.Logger) *SessionManager {
	m := &SessionManager{
		Now:     time.Now,
		config:  cfg,
		records: records,
		logger:  orDefaultLogger(logger),
		timeout: configSeconds(cfg, "session.timeout", 3600),
	}

	sm := scs.New()
	sm.Lifetime = m.timeout
	sm.IdleTimeout = m.timeout
	sm.Codec = jsonCodec{}
	sm.Store = &sessionStore{records: records, logger: m.logger, now: m.now}
	sm.Cookie.Name = configString(cfg, "session.cookie_name", "microauth_session")
	sm.Cookie.Path = "/"
	sm.Cookie.Secure = configBool(cfg, "session.secure", true)
	sm.Cookie.HttpOnly = configBool(cfg, "session.httponly", true)
	sm.Cookie.SameSite = http.SameSiteLaxMode
	sm.Cookie.Persist = true
	sm.ErrorFunc = func(w http.ResponseWriter, r *http.Request, err error) {
		m.logger.Error("Session error", "path", r.URL.Path, errAttr(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
	m.scs = sm
	return m
}

func (m *SessionManager) now() time.Time {
	return m.Now()
}

// CookieName returns the name of the session cookie.
func (m *SessionManager) CookieName() string {
	return m.scs.Cookie.Name
}

// Open loads the session stored under id, or starts a new one when id is
// empty, unknown or unreadable. The id is rotated when the last rotation
// is older than RotationInterval.
//
// Each mutation of the returned session takes the per-session lock,
// reloads the stored values and commits under the lock, so concurrent
// Open callers on one id do not overwrite each other's keys.
func (m *SessionManager) Open(ctx context.Context, id string) (*Session, error) {
	loaded, err := m.scs.Load(ctx, id)
	if err != nil {
		m.logger.Warn("Failed to load session, starting a new one", "session", id, errAttr(err))
		if loaded, err = m.scs.Load(ctx, ""); err != nil {
			return nil, storageError("failed to start session", err)
		}
	}
	return m.start(&Session{m: m, ctx: loaded, base: ctx}), nil
}

func (m *SessionManager) start(s *Session) *Session {
	last, ok := s.GetInt64(SessionKeyLastRegeneration)
	if !ok || m.now().Unix()-last > int64(RotationInterval/time.Second) {
		s.RegenerateID()
	}
	return s
}

// Middleware loads the session for the request, holds the per-session lock
// until the handler returns, and writes the session cookie.
func (m *SessionManager) Middleware(next http.Handler) http.Handler {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := m.start(&Session{m: m, ctx: r.Context(), managed: true})
		sess.ctx = context.WithValue(sess.ctx, sessionCtxKey{}, sess)
		next.ServeHTTP(w, r.WithContext(sess.ctx))
	})
	loadAndSave := m.scs.LoadAndSave(inner)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie(m.scs.Cookie.Name); err == nil && c.Value != "" {
			unlock := m.locks.Lock(c.Value)
			defer unlock()
		}
		loadAndSave.ServeHTTP(w, r)
	})
}

// SessionFromContext returns the session installed by Middleware.
func SessionFromContext(ctx context.Context) *Session {
	sess, _ := ctx.Value(sessionCtxKey{}).(*Session)
	return sess
}

// Peek returns a copy of the values stored under id without starting,
// rotating or extending the session.
func (m *SessionManager) Peek(ctx context.Context, id string) (map[string]any, bool) {
	if id == "" {
		return nil, false
	}
	store := m.scs.Store.(*sessionStore)
	b, found, _ := store.FindCtx(ctx, id)
	if !found {
		return nil, false
	}
	_, values, err := (jsonCodec{}).Decode(b)
	if err != nil {
		return nil, false
	}
	return values, true
}

// CleanupExpiredSessions deletes session records that have not been written
// within session.timeout, and records that cannot be read or decoded.
func (m *SessionManager) CleanupExpiredSessions(ctx context.Context) (int, error) {
	cutoff := m.now().Add(-m.timeout)
	var stale []string
	err := m.records.Scan(ctx, CollectionSessions, func(id string, rec *Record, err error) error {
		switch {
		case err != nil:
			m.logger.Warn("Unreadable session record", "session", id, errAttr(err))
			stale = append(stale, id)
		case rec.UpdatedAt.Before(cutoff):
			stale = append(stale, id)
		default:
			if _, _, derr := (jsonCodec{}).Decode(rec.Data); derr != nil {
				m.logger.Warn("Corrupt session record", "session", id, errAttr(derr))
				stale = append(stale, id)
			}
		}
		return nil
	})
	if err != nil {
		return 0, storageError("failed to scan sessions", err)
	}

	removed := 0
	for _, id := range stale {
		if err := m.records.Delete(ctx, CollectionSessions, id); err != nil && !IsNotFound(err) {
			m.logger.Error("Failed to delete expired session", "session", id, errAttr(err))
			continue
		}
		removed++
	}
	if removed > 0 {
		m.logger.Info("Removed expired sessions", "count", removed)
	}
	return removed, nil
}

// StartSweeper runs CleanupExpiredSessions every interval until ctx ends.
func (m *SessionManager) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := m.CleanupExpiredSessions(ctx); err != nil {
					m.logger.Error("Session sweep failed", errAttr(err))
				}
			}
		}
	}()
}

// Session is the state for one client. Mutations are committed to the
// record store before they return.
type Session struct {
	m   *SessionManager
	ctx context.Context

	// base is the context Open was called with, without session data.
	base context.Context
	// managed sessions belong to a Middleware request, which already
	// holds the per-session lock.
	managed bool
}

// ID returns the current session id.
func (s *Session) ID() string {
	return s.m.scs.Token(s.ctx)
}

// Context returns the context carrying the session.
func (s *Session) Context() context.Context {
	return s.ctx
}

// Get returns the value stored under key, or def.
func (s *Session) Get(key string, def any) any {
	if !s.m.scs.Exists(s.ctx, key) {
		return def
	}
	return s.m.scs.Get(s.ctx, key)
}

// GetString returns the value under key as a string, or "".
func (s *Session) GetString(key string) string {
	switch v := s.Get(key, nil).(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	default:
		return ""
	}
}

// GetInt64 returns the integer under key.
func (s *Session) GetInt64(key string) (int64, bool) {
	return toInt64(s.Get(key, nil))
}

// Keys lists the keys in the session.
func (s *Session) Keys() []string {
	return s.m.scs.Keys(s.ctx)
}

// Has reports whether key is set.
func (s *Session) Has(key string) bool {
	return s.m.scs.Exists(s.ctx, key)
}

// Set stores value under key.
func (s *Session) Set(key string, value any) error {
	return s.mutate(func(ctx context.Context) error {
		s.m.scs.Put(ctx, key, value)
		return nil
	})
}

// Update stores every entry of values with a single commit.
func (s *Session) Update(values map[string]any) error {
	return s.mutate(func(ctx context.Context) error {
		for k, v := range values {
			s.m.scs.Put(ctx, k, v)
		}
		return nil
	})
}

// Remove deletes the given keys.
func (s *Session) Remove(keys ...string) error {
	return s.mutate(func(ctx context.Context) error {
		for _, k := range keys {
			s.m.scs.Remove(ctx, k)
		}
		return nil
	})
}

// Clear deletes every key.
func (s *Session) Clear() error {
	return s.mutate(func(ctx context.Context) error {
		return s.m.scs.Clear(ctx)
	})
}

// mutate applies op and commits. Outside Middleware it holds the session
// lock and applies op to the freshly stored values.
func (s *Session) mutate(op func(ctx context.Context) error) error {
	if !s.managed {
		if id := s.ID(); id != "" {
			unlock := s.m.locks.Lock(id)
			defer unlock()
			s.reload(id)
		}
	}
	if err := op(s.ctx); err != nil {
		return err
	}
	return s.commit()
}

// reload replaces the in-memory state with the record stored under id.
// A missing record keeps the current state.
func (s *Session) reload(id string) {
	fresh, err := s.m.scs.Load(s.base, id)
	if err != nil {
		s.m.logger.Warn("Failed to reload session", "session", id, errAttr(err))
		return
	}
	if s.m.scs.Token(fresh) == id {
		s.ctx = fresh
	}
}

func (s *Session) commit() error {
	if _, _, err := s.m.scs.Commit(s.ctx); err != nil {
		s.m.logger.Error("Failed to persist session", "session", s.ID(), errAttr(err))
		return storageError("failed to persist session", err)
	}
	return nil
}

// RegenerateID moves the session to a fresh id, keeping every value, and
// deletes the record under the old id.
func (s *Session) RegenerateID() bool {
	old := s.ID()
	err := s.mutate(func(ctx context.Context) error {
		if err := s.m.scs.RenewToken(ctx); err != nil {
			s.m.logger.Error("Failed to regenerate session id", "session", old, errAttr(err))
			if old != "" {
				// The old record may already be gone; put it back under the same id.
				if _, _, cerr := s.m.scs.Commit(ctx); cerr != nil {
					s.m.logger.Error("Failed to restore session", "session", old, errAttr(cerr))
				}
			}
			return err
		}
		s.m.scs.Put(ctx, SessionKeyLastRegeneration, s.m.now().Unix())
		return nil
	})
	if err != nil {
		return false
	}
	s.m.logger.Debug("Session id regenerated", "session", s.ID())
	return true
}

// Destroy deletes the backing record and clears all values.
func (s *Session) Destroy() bool {
	id := s.ID()
	if !s.managed && id != "" {
		unlock := s.m.locks.Lock(id)
		defer unlock()
	}
	if err := s.m.scs.Destroy(s.ctx); err != nil {
		s.m.logger.Error("Failed to destroy session", "session", id, errAttr(err))
		return false
	}
	s.m.logger.Info("Session destroyed", "session", id)
	return true
}

// CSRFToken returns the current CSRF token, minting a new one when none
// exists or the current one is older than security.csrf_token_expiry.
func (s *Session) CSRFToken() string {
	token := s.GetString(SessionKeyCSRFToken)
	issued, ok := s.GetInt64(SessionKeyCSRFTokenTime)
	expiry := configInt(s.m.config, "security.csrf_token_expiry", 3600)
	if token == "" || !ok || s.m.now().Unix()-issued > expiry {
		return s.RegenerateCSRFToken()
	}
	return token
}

// RegenerateCSRFToken mints and stores a new CSRF token.
func (s *Session) RegenerateCSRFToken() string {
	token, err := GenerateSecureToken()
	if err != nil {
		logCritical(s.ctx, s.m.logger, "Failed to generate CSRF token", errAttr(err))
		return ""
	}
	if err := s.Update(map[string]any{
		SessionKeyCSRFToken:     token,
		SessionKeyCSRFTokenTime: s.m.now().Unix(),
	}); err != nil {
		return ""
	}
	return token
}

// ValidateCSRFToken reports whether candidate equals the stored token.
func (s *Session) ValidateCSRFToken(candidate string) bool {
	token := s.GetString(SessionKeyCSRFToken)
	if token == "" || candidate == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(candidate)) == 1
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		if f, err := n.Float64(); err == nil {
			return int64(f), true
		}
	case string:
		if i, err := strconv.ParseInt(n, 10, 64); err == nil {
			return i, true
		}
	}
	return 0, false
}
