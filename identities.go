package microauth

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// GoogleTokenVerifier validates a Google ID token and returns its claims.
type GoogleTokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*ProviderProfile, error)
}

// IdentityStore owns identity records: lookups, credential checks, provider
// links and unique-url tokens. Writes hold a per-identity lock and save
// with a version check; email and provider claims hold an extra lock on the
// claimed value so uniqueness holds within the process.
type IdentityStore struct {
	// Now is the clock used for timestamps and token expiry.
	Now func() time.Time

	// IndexRefreshInterval bounds how often a lookup miss rescans the
	// store for records written elsewhere.
	IndexRefreshInterval time.Duration

	config     ConfigProvider
	identities collection[Identity]
	logger     *slog.Logger
	hasher     *PasswordHasher
	google     GoogleTokenVerifier
	locks      KeyedMutex
	index      identityIndex
	scanMu     sync.Mutex
}

// IdentityStoreOption customises an IdentityStore.
type IdentityStoreOption func(*IdentityStore)

// WithClock sets the clock.
func WithClock(now func() time.Time) IdentityStoreOption {
	return func(s *IdentityStore) { s.Now = now }
}

// WithPasswordHasher overrides the hasher built from security.* keys.
func WithPasswordHasher(h *PasswordHasher) IdentityStoreOption {
	return func(s *IdentityStore) { s.hasher = h }
}

// WithGoogleVerifier sets the verifier used by LoginWithGoogle.
func WithGoogleVerifier(v GoogleTokenVerifier) IdentityStoreOption {
	return func(s *IdentityStore) { s.google = v }
}

// WithIndexRefreshInterval sets IndexRefreshInterval.
func WithIndexRefreshInterval(d time.Duration) IdentityStoreOption {
	return func(s *IdentityStore) { s.IndexRefreshInterval = d }
}

// NewIdentityStore creates an identity store over the "identities" collection.
func NewIdentityStore(cfg ConfigProvider, records RecordStore, logger *slog.Logger, opts ...IdentityStoreOption) *IdentityStore {
	s := &IdentityStore{
		Now:                  time.Now,
		IndexRefreshInterval: 5 * time.Second,
		config:               cfg,
		identities:           collection[Identity]{name: CollectionIdentities, store: records},
		logger:               orDefaultLogger(logger),
		hasher:               PasswordHasherFromConfig(cfg),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load returns the identity with the given id.
func (s *IdentityStore) Load(ctx context.Context, id string) (*Identity, error) {
	ident, _, err := s.identities.load(ctx, id)
	if err != nil {
		if IsNotFound(err) {
			return nil, ErrIdentityNotFound
		}
		return nil, storageError("failed to load identity", err)
	}
	return ident, nil
}

// FindByEmail returns the identity owning email.
func (s *IdentityStore) FindByEmail(ctx context.Context, email string) (*Identity, error) {
	ident, _, err := s.lookup(ctx, emailKey(email))
	return ident, err
}

// FindByProviderID returns the identity linked to the provider account.
func (s *IdentityStore) FindByProviderID(ctx context.Context, provider, id string) (*Identity, error) {
	ident, _, err := s.lookup(ctx, providerKey(provider, id))
	return ident, err
}

// FindByUniqueURLToken returns the identity holding token, expired or not.
func (s *IdentityStore) FindByUniqueURLToken(ctx context.Context, token string) (*Identity, error) {
	ident, _, err := s.lookup(ctx, tokenKey(token))
	return ident, err
}

func (s *IdentityStore) lookup(ctx context.Context, key string) (*Identity, int64, error) {
	if !s.index.isBuilt() {
		if err := s.rescan(ctx); err != nil {
			return nil, 0, err
		}
	}
	ident, version, err := s.resolve(ctx, key)
	if !errors.Is(err, ErrIdentityNotFound) {
		return ident, version, err
	}
	if !s.index.refreshDue(s.Now(), s.IndexRefreshInterval) {
		return nil, 0, ErrIdentityNotFound
	}
	if err := s.rescan(ctx); err != nil {
		return nil, 0, err
	}
	return s.resolve(ctx, key)
}

func (s *IdentityStore) resolve(ctx context.Context, key string) (*Identity, int64, error) {
	id, ok := s.index.get(key)
	if !ok {
		return nil, 0, ErrIdentityNotFound
	}
	ident, version, err := s.identities.load(ctx, id)
	if err != nil {
		if IsNotFound(err) {
			s.index.drop(key, id)
			return nil, 0, ErrIdentityNotFound
		}
		s.logger.Warn("Failed to read identity", "identity", id, errAttr(err))
		return nil, 0, storageError("failed to load identity", err)
	}
	if !ident.hasKey(key) {
		s.index.drop(key, id)
		return nil, 0, ErrIdentityNotFound
	}
	return ident, version, nil
}

// rescan merges every identity's keys into the index.
func (s *IdentityStore) rescan(ctx context.Context) error {
	s.scanMu.Lock()
	defer s.scanMu.Unlock()

	started := s.Now()
	scanned := make(map[string]string)
	err := s.identities.scan(ctx, func(id string, ident *Identity) error {
		for _, k := range ident.indexKeys() {
			scanned[k] = id
		}
		return nil
	}, func(id string, err error) {
		s.logger.Warn("Skipping unreadable identity", "identity", id, errAttr(err))
	})
	if err != nil {
		return storageError("failed to scan identities", err)
	}
	s.index.merge(scanned, started)
	s.logger.Debug("Identity index refreshed", "keys", len(scanned))
	return nil
}

// Update applies fn to the stored identity under its lock and saves it if
// the record has not changed since it was loaded.
func (s *IdentityStore) Update(ctx context.Context, id string, fn func(*Identity) error) (*Identity, error) {
	unlock := s.locks.Lock(identityLockKey(id))
	defer unlock()

	ident, version, err := s.identities.load(ctx, id)
	if err != nil {
		if IsNotFound(err) {
			return nil, ErrIdentityNotFound
		}
		return nil, storageError("failed to load identity", err)
	}
	oldKeys := ident.indexKeys()
	if err := fn(ident); err != nil {
		return nil, err
	}
	ident.UpdatedAt = s.Now()
	if _, err := s.identities.save(ctx, id, ident, version, ident.UpdatedAt); err != nil {
		return nil, storageError("failed to save identity", err)
	}
	s.index.replace(id, oldKeys, ident.indexKeys())
	return ident, nil
}

// create assigns an id and stores a new identity.
func (s *IdentityStore) create(ctx context.Context, ident *Identity) error {
	id, err := newIdentityID()
	if err != nil {
		return err
	}
	now := s.Now()
	ident.ID = id
	ident.CreatedAt = now
	ident.UpdatedAt = now
	if ident.UniqueURLTokens == nil {
		ident.UniqueURLTokens = make(map[string]UniqueURLToken)
	}
	if _, err := s.identities.save(ctx, id, ident, 0, now); err != nil {
		return storageError("failed to create identity", err)
	}
	s.index.replace(id, nil, ident.indexKeys())
	return nil
}

// claim locks the given lookup keys in order and returns one unlock func.
func (s *IdentityStore) claim(keys ...string) func() {
	unlocks := make([]func(), 0, len(keys))
	for _, k := range keys {
		if k != "" {
			unlocks = append(unlocks, s.locks.Lock("claim:"+k))
		}
	}
	return func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
}

// Bind returns the per-request authenticator for sess. A session carrying
// user_id is restored as authenticated.
func (s *IdentityStore) Bind(ctx context.Context, sess *Session) *User {
	u := &User{store: s, sess: sess}
	id := sess.GetString(SessionKeyUserID)
	if id == "" {
		return u
	}
	u.id = id
	u.authenticated = true
	ident, err := s.Load(ctx, id)
	if err != nil {
		s.logger.Warn("Authenticated session references unreadable identity", "identity", id, errAttr(err))
		return u
	}
	u.identity = ident
	return u
}

func (s *IdentityStore) enabled(key string) bool {
	return configBool(s.config, key, false)
}
