package microauth_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	ma "github.com/panyam/microauth"
	"github.com/panyam/microauth/config"
	"github.com/panyam/microauth/stores"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Now().Truncate(time.Second)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeGoogle map[string]*ma.ProviderProfile

func (f fakeGoogle) VerifyIDToken(ctx context.Context, idToken string) (*ma.ProviderProfile, error) {
	if p, ok := f[idToken]; ok {
		return p, nil
	}
	return nil, ma.NewError(ma.KindProvider, "invalid_token", "bad token")
}

type fixture struct {
	cfg        *config.Config
	records    *stores.FSStore
	clock      *fakeClock
	sessions   *ma.SessionManager
	identities *ma.IdentityStore
	google     fakeGoogle
}

// newFixture wires the engine over a temp directory. overrides are dotted
// config keys applied over a test friendly base.
func newFixture(t *testing.T, overrides map[string]any) *fixture {
	t.Helper()
	cfg := config.New()
	for k, v := range map[string]any{
		"session.secure":             false,
		"security.password_algo":     ma.AlgoBcrypt,
		"security.bcrypt_cost":       4,
		"login.unique_url.enabled":   true,
		"login.google.enabled":       true,
		"login.google.client_id":     "google-client",
		"login.google.client_secret": "google-secret",
		"login.auth0.enabled":        true,
		"login.auth0.domain":         "tenant.example.com",
		"login.auth0.client_id":      "auth0-client",
		"login.auth0.client_secret":  "auth0-secret",
		"security.state_secret":      "state-secret-for-tests",
		"login.unique_url.expiry":    86400,
		"security.csrf_token_expiry": 3600,
	} {
		cfg.Set(k, v)
	}
	for k, v := range overrides {
		cfg.Set(k, v)
	}

	f := &fixture{
		cfg:     cfg,
		records: stores.NewFSStore(t.TempDir()),
		clock:   newFakeClock(),
		google:  fakeGoogle{},
	}
	f.sessions = ma.NewSessionManager(cfg, f.records, nil)
	f.sessions.Now = f.clock.Now
	f.identities = ma.NewIdentityStore(cfg, f.records, nil,
		ma.WithClock(f.clock.Now),
		ma.WithGoogleVerifier(f.google))
	return f
}

func (f *fixture) openSession(t *testing.T, id string) *ma.Session {
	t.Helper()
	sess, err := f.sessions.Open(context.Background(), id)
	require.NoError(t, err)
	return sess
}

// user binds a fresh session.
func (f *fixture) user(t *testing.T) *ma.User {
	t.Helper()
	return f.identities.Bind(context.Background(), f.openSession(t, ""))
}

func (f *fixture) countIdentities(t *testing.T) int {
	t.Helper()
	n := 0
	err := f.records.Scan(context.Background(), ma.CollectionIdentities, func(id string, rec *ma.Record, err error) error {
		n++
		return nil
	})
	require.NoError(t, err)
	return n
}
