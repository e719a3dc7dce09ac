package microauth

import (
	"strings"
	"sync"
	"time"
)

// External providers an identity can be linked to.
const (
	ProviderGoogle = "google"
	ProviderAuth0  = "auth0"
)

// Login methods recorded in the session.
const (
	MethodEmail     = "email"
	MethodGoogle    = "google"
	MethodAuth0     = "auth0"
	MethodUniqueURL = "unique_url"
)

// UniqueURLToken is a passwordless login token. It stays valid until
// ExpiresAt and may be used any number of times before then.
type UniqueURLToken struct {
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Identity is the persisted profile of one user.
type Identity struct {
	ID              string                    `json:"id"`
	Email           string                    `json:"email,omitempty"`
	Password        string                    `json:"password,omitempty"`
	GoogleID        string                    `json:"google_id,omitempty"`
	Auth0ID         string                    `json:"auth0_id,omitempty"`
	Name            string                    `json:"name,omitempty"`
	Picture         string                    `json:"picture,omitempty"`
	Locale          string                    `json:"locale,omitempty"`
	Profile         map[string]any            `json:"profile,omitempty"`
	UniqueURLTokens map[string]UniqueURLToken `json:"unique_url_tokens"`
	IsAnonymous     bool                      `json:"is_anonymous"`
	CreatedAt       time.Time                 `json:"created_at"`
	UpdatedAt       time.Time                 `json:"updated_at"`
}

// ProviderID returns the linked id for provider, or "".
func (i *Identity) ProviderID(provider string) string {
	switch provider {
	case ProviderGoogle:
		return i.GoogleID
	case ProviderAuth0:
		return i.Auth0ID
	}
	return ""
}

// indexKeys lists every lookup key that resolves to this identity.
func (i *Identity) indexKeys() []string {
	var keys []string
	if i.Email != "" {
		keys = append(keys, emailKey(i.Email))
	}
	if i.GoogleID != "" {
		keys = append(keys, providerKey(ProviderGoogle, i.GoogleID))
	}
	if i.Auth0ID != "" {
		keys = append(keys, providerKey(ProviderAuth0, i.Auth0ID))
	}
	for token := range i.UniqueURLTokens {
		keys = append(keys, tokenKey(token))
	}
	return keys
}

func (i *Identity) hasKey(key string) bool {
	for _, k := range i.indexKeys() {
		if k == key {
			return true
		}
	}
	return false
}

// NormalizeEmail trims and lower-cases an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func emailKey(email string) string             { return "email:" + NormalizeEmail(email) }
func providerKey(provider, id string) string   { return provider + ":" + id }
func tokenKey(token string) string             { return "token:" + token }
func identityLockKey(identityID string) string { return "identity:" + identityID }

// identityIndex maps lookup keys to identity ids. Entries may be stale;
// readers verify them against the loaded record.
type identityIndex struct {
	mu       sync.Mutex
	keys     map[string]string
	built    bool
	lastScan time.Time
}

func (x *identityIndex) get(key string) (string, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	id, ok := x.keys[key]
	return id, ok
}

// drop removes key only while it still points at id.
func (x *identityIndex) drop(key, id string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.keys[key] == id {
		delete(x.keys, key)
	}
}

// replace swaps the keys of one identity after a write.
func (x *identityIndex) replace(id string, oldKeys, newKeys []string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.keys == nil {
		x.keys = make(map[string]string)
	}
	for _, k := range oldKeys {
		if x.keys[k] == id {
			delete(x.keys, k)
		}
	}
	for _, k := range newKeys {
		x.keys[k] = id
	}
}

func (x *identityIndex) merge(scanned map[string]string, at time.Time) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.keys == nil {
		x.keys = make(map[string]string, len(scanned))
	}
	for k, id := range scanned {
		x.keys[k] = id
	}
	x.built = true
	x.lastScan = at
}

func (x *identityIndex) isBuilt() bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.built
}

func (x *identityIndex) refreshDue(now time.Time, interval time.Duration) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	return !x.built || now.Sub(x.lastScan) >= interval
}
