package microauth

import (
	"context"
	"errors"
	"strings"
)

// User is the authenticator bound to one request's session.
type User struct {
	store         *IdentityStore
	sess          *Session
	id            string
	identity      *Identity
	authenticated bool
}

// IsAuthenticated reports whether the session is logged in.
func (u *User) IsAuthenticated() bool {
	return u.authenticated
}

// ID returns the authenticated identity id, or "".
func (u *User) ID() string {
	return u.id
}

// Identity returns the loaded identity record, if any.
func (u *User) Identity() *Identity {
	return u.identity
}

func (u *User) authenticate(ident *Identity, method string, extra map[string]any) bool {
	values := map[string]any{
		SessionKeyUserID:      ident.ID,
		SessionKeyLoginTime:   u.store.Now().Unix(),
		SessionKeyLoginMethod: method,
	}
	for k, v := range extra {
		values[k] = v
	}
	if err := u.sess.Update(values); err != nil {
		return false
	}
	u.id = ident.ID
	u.identity = ident
	u.authenticated = true
	return true
}

// Login checks email and password. A stored hash made with other hashing
// settings is replaced after a successful check.
func (u *User) Login(ctx context.Context, email, password string) bool {
	s := u.store
	ident, err := s.FindByEmail(ctx, email)
	if err != nil || ident.Password == "" || !s.hasher.Verify(password, ident.Password) {
		s.logger.Warn("Failed login attempt", "email", email)
		return false
	}

	if s.hasher.NeedsRehash(ident.Password) {
		if hash, err := s.hasher.Hash(password); err == nil {
			updated, err := s.Update(ctx, ident.ID, func(i *Identity) error {
				i.Password = hash
				return nil
			})
			if err != nil {
				s.logger.Warn("Failed to update password hash", "identity", ident.ID, errAttr(err))
			} else {
				ident = updated
			}
		}
	}

	if !u.authenticate(ident, MethodEmail, nil) {
		return false
	}
	s.logger.Info("User logged in", "identity", ident.ID, "email", email)
	return true
}

// Register creates a password identity and logs it in. It fails when the
// email already belongs to an identity. name, picture and locale in fields
// fill the matching identity fields; other entries go to the profile.
func (u *User) Register(ctx context.Context, email, password string, fields map[string]any) bool {
	s := u.store
	email = NormalizeEmail(email)
	unlock := s.claim(emailKey(email))
	defer unlock()

	if _, err := s.FindByEmail(ctx, email); !errors.Is(err, ErrIdentityNotFound) {
		if err == nil {
			s.logger.Warn("Registration with existing email", "email", email)
		} else {
			s.logger.Error("Registration lookup failed", "email", email, errAttr(err))
		}
		return false
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		s.logger.Error("Failed to hash password", "email", email, errAttr(err))
		return false
	}
	ident := &Identity{Email: email, Password: hash}
	for k, v := range fields {
		switch k {
		case "name", "picture", "locale":
			if str, ok := v.(string); ok {
				setProfileField(ident, k, str)
			}
		case "email", "password", "csrf_token":
		default:
			if ident.Profile == nil {
				ident.Profile = make(map[string]any)
			}
			ident.Profile[k] = v
		}
	}
	if err := s.create(ctx, ident); err != nil {
		s.logger.Error("Failed to register user", "email", email, errAttr(err))
		return false
	}
	if !u.authenticate(ident, MethodEmail, nil) {
		return false
	}
	s.logger.Info("User registered", "identity", ident.ID, "email", email)
	return true
}

// LoginWithGoogle verifies a Google ID token, then finds the identity by
// Google id or email, creating one when neither matches.
func (u *User) LoginWithGoogle(ctx context.Context, idToken string) bool {
	s := u.store
	if !s.enabled("login.google.enabled") {
		return false
	}
	if s.google == nil {
		s.logger.Error("Google login error: no token verifier configured")
		return false
	}
	payload, err := s.google.VerifyIDToken(ctx, idToken)
	if err != nil {
		s.logger.Error("Google login error", errAttr(err))
		return false
	}
	if payload.Subject == "" || payload.Email == "" {
		s.logger.Error("Google login error: token lacks subject or email")
		return false
	}

	ident, err := s.linkProvider(ctx, ProviderGoogle, payload)
	if err != nil {
		s.logger.Error("Google login error", "email", payload.Email, errAttr(err))
		return false
	}
	if !u.authenticate(ident, MethodGoogle, nil) {
		return false
	}
	s.logger.Info("User logged in with Google", "identity", ident.ID, "email", payload.Email)
	return true
}

// LoginWithAuth0 logs in from an Auth0 profile. The profile needs a subject
// and an email, and a verified email unless
// login.auth0.require_verified_email is false.
func (u *User) LoginWithAuth0(ctx context.Context, profile *ProviderProfile) bool {
	s := u.store
	if !s.enabled("login.auth0.enabled") {
		return false
	}
	if profile == nil || profile.Subject == "" {
		s.logger.Error("Auth0 login error: missing subject identifier")
		return false
	}
	if profile.Email == "" {
		s.logger.Error("Auth0 login error: missing email")
		return false
	}
	if !profile.EmailVerified && configBool(s.config, "login.auth0.require_verified_email", true) {
		s.logger.Error("Auth0 login error: email unverified", "email", profile.Email)
		return false
	}

	ident, err := s.linkProvider(ctx, ProviderAuth0, profile)
	if err != nil {
		s.logger.Error("Auth0 login error", "email", profile.Email, errAttr(err))
		return false
	}
	if !u.authenticate(ident, MethodAuth0, map[string]any{SessionKeyAuth0ID: profile.Subject}) {
		return false
	}
	s.logger.Info("User logged in with Auth0", "identity", ident.ID, "email", profile.Email, "auth0_id", profile.Subject)
	return true
}

// linkProvider finds the identity for a provider profile by provider id,
// then by email. A match gets the provider id if it lacks one; Auth0
// matches also take a changed name or picture. A miss creates an identity.
func (s *IdentityStore) linkProvider(ctx context.Context, provider string, p *ProviderProfile) (*Identity, error) {
	email := NormalizeEmail(p.Email)
	unlock := s.claim(providerKey(provider, p.Subject), emailKey(email))
	defer unlock()

	ident, err := s.FindByProviderID(ctx, provider, p.Subject)
	if errors.Is(err, ErrIdentityNotFound) {
		ident, err = s.FindByEmail(ctx, email)
	}
	if errors.Is(err, ErrIdentityNotFound) {
		ident = &Identity{Email: email, Name: p.Name, Picture: p.Picture, Locale: p.Locale}
		setProviderID(ident, provider, p.Subject)
		if err := s.create(ctx, ident); err != nil {
			return nil, err
		}
		s.logger.Info("New user created from provider login", "provider", provider, "email", email, "identity", ident.ID)
		return ident, nil
	}
	if err != nil {
		return nil, err
	}

	needsUpdate := ident.ProviderID(provider) == ""
	if provider == ProviderAuth0 {
		needsUpdate = needsUpdate ||
			(p.Name != "" && p.Name != ident.Name) ||
			(p.Picture != "" && p.Picture != ident.Picture)
	}
	if !needsUpdate {
		return ident, nil
	}
	return s.Update(ctx, ident.ID, func(i *Identity) error {
		if i.ProviderID(provider) == "" {
			setProviderID(i, provider, p.Subject)
		}
		if provider == ProviderAuth0 {
			if p.Name != "" && p.Name != i.Name {
				i.Name = p.Name
			}
			if p.Picture != "" && p.Picture != i.Picture {
				i.Picture = p.Picture
			}
		}
		return nil
	})
}

func setProviderID(i *Identity, provider, id string) {
	switch provider {
	case ProviderGoogle:
		i.GoogleID = id
	case ProviderAuth0:
		i.Auth0ID = id
	}
}

// LoginWithUniqueURL logs in with a passwordless token. An expired token is
// removed from its identity and the call fails.
func (u *User) LoginWithUniqueURL(ctx context.Context, token string) bool {
	s := u.store
	if !s.enabled("login.unique_url.enabled") || token == "" {
		return false
	}
	ident, err := s.FindByUniqueURLToken(ctx, token)
	if err != nil {
		if !errors.Is(err, ErrIdentityNotFound) {
			s.logger.Error("Unique URL login error", errAttr(err))
		}
		return false
	}

	entry := ident.UniqueURLTokens[token]
	if entry.ExpiresAt.After(s.Now()) {
		if !u.authenticate(ident, MethodUniqueURL, map[string]any{SessionKeyUniqueURLToken: token}) {
			return false
		}
		s.logger.Info("User logged in with unique URL", "identity", ident.ID)
		return true
	}

	_, err = s.Update(ctx, ident.ID, func(i *Identity) error {
		delete(i.UniqueURLTokens, token)
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to remove expired unique URL token", "identity", ident.ID, errAttr(err))
	}
	s.logger.Info("Expired unique URL token used", "identity", ident.ID)
	return false
}

// GenerateUniqueURLToken mints a token valid for login.unique_url.expiry
// seconds. With an email the token goes to that identity, created if
// needed; without one a new anonymous identity is created.
func (u *User) GenerateUniqueURLToken(ctx context.Context, email *string) (string, bool) {
	return u.store.IssueUniqueURLToken(ctx, email)
}

// IssueUniqueURLToken is GenerateUniqueURLToken without a request session.
func (s *IdentityStore) IssueUniqueURLToken(ctx context.Context, email *string) (string, bool) {
	if !s.enabled("login.unique_url.enabled") {
		return "", false
	}
	token, err := GenerateSecureToken()
	if err != nil {
		logCritical(ctx, s.logger, "Failed to generate unique URL token", errAttr(err))
		return "", false
	}
	now := s.Now()
	entry := UniqueURLToken{
		CreatedAt: now,
		ExpiresAt: now.Add(configSeconds(s.config, "login.unique_url.expiry", 86400)),
	}

	if email == nil || strings.TrimSpace(*email) == "" {
		ident := &Identity{
			IsAnonymous:     true,
			UniqueURLTokens: map[string]UniqueURLToken{token: entry},
		}
		if err := s.create(ctx, ident); err != nil {
			s.logger.Error("Failed to generate unique URL token", errAttr(err))
			return "", false
		}
		return token, true
	}

	addr := NormalizeEmail(*email)
	unlock := s.claim(emailKey(addr))
	defer unlock()

	ident, err := s.FindByEmail(ctx, addr)
	switch {
	case errors.Is(err, ErrIdentityNotFound):
		ident = &Identity{Email: addr, UniqueURLTokens: map[string]UniqueURLToken{token: entry}}
		err = s.create(ctx, ident)
	case err == nil:
		_, err = s.Update(ctx, ident.ID, func(i *Identity) error {
			if i.UniqueURLTokens == nil {
				i.UniqueURLTokens = make(map[string]UniqueURLToken)
			}
			i.UniqueURLTokens[token] = entry
			return nil
		})
	}
	if err != nil {
		s.logger.Error("Failed to generate unique URL token", "email", addr, errAttr(err))
		return "", false
	}
	return token, true
}

// Logout clears the identity keys from the session. The session itself
// and any unique-url tokens stay in place.
func (u *User) Logout() {
	if u.sess.GetString(SessionKeyLoginMethod) == MethodUniqueURL {
		u.store.logger.Debug("Keeping unique URL token after logout", "identity", u.id)
	}
	if err := u.sess.Remove(SessionKeyUserID, SessionKeyLoginTime, SessionKeyLoginMethod, SessionKeyUniqueURLToken); err != nil {
		u.store.logger.Error("Failed to clear session on logout", errAttr(err))
	}
	u.store.logger.Info("User logged out", "identity", u.id)
	u.id = ""
	u.identity = nil
	u.authenticated = false
}

// Get reads a dotted key from the identity. Keys that are not identity
// fields are looked up in the profile. The password hash is never returned.
func (u *User) Get(key string, def any) any {
	if u.identity == nil {
		return def
	}
	i := u.identity
	parts := strings.Split(key, ".")
	switch parts[0] {
	case "password":
		return def
	case "id":
		return i.ID
	case "email":
		return stringOr(i.Email, def)
	case "google_id":
		return stringOr(i.GoogleID, def)
	case "auth0_id":
		return stringOr(i.Auth0ID, def)
	case "name":
		return stringOr(i.Name, def)
	case "picture":
		return stringOr(i.Picture, def)
	case "locale":
		return stringOr(i.Locale, def)
	case "is_anonymous":
		return i.IsAnonymous
	case "created_at":
		return i.CreatedAt
	case "updated_at":
		return i.UpdatedAt
	case "unique_url_tokens":
		if len(parts) == 1 {
			return i.UniqueURLTokens
		}
		if t, ok := i.UniqueURLTokens[parts[1]]; ok {
			return t
		}
		return def
	case "profile":
		parts = parts[1:]
	}
	if v, ok := lookupDotted(i.Profile, parts); ok {
		return v
	}
	return def
}

// Set writes a dotted key on the authenticated identity. name, picture and
// locale set those fields; credentials, provider links and timestamps are
// read-only; anything else is stored in the profile.
func (u *User) Set(ctx context.Context, key string, value any) error {
	if !u.authenticated || u.id == "" {
		return NewError(KindAuth, ErrCodeAuthRequired, "Not logged in")
	}
	parts := strings.Split(key, ".")
	switch parts[0] {
	case "id", "email", "password", "google_id", "auth0_id", "unique_url_tokens",
		"is_anonymous", "created_at", "updated_at":
		return NewError(KindValidation, ErrCodeMissingField, "Field cannot be changed").WithField(key)
	case "name", "picture", "locale":
		str, ok := value.(string)
		if !ok || len(parts) > 1 {
			return NewError(KindValidation, ErrCodeMissingField, "Field must be a string").WithField(key)
		}
		updated, err := u.store.Update(ctx, u.id, func(i *Identity) error {
			setProfileField(i, parts[0], str)
			return nil
		})
		if err != nil {
			return err
		}
		u.identity = updated
		return nil
	case "profile":
		parts = parts[1:]
		if len(parts) == 0 {
			return NewError(KindValidation, ErrCodeMissingField, "Profile key required").WithField(key)
		}
	}
	updated, err := u.store.Update(ctx, u.id, func(i *Identity) error {
		if i.Profile == nil {
			i.Profile = make(map[string]any)
		}
		setDotted(i.Profile, parts, value)
		return nil
	})
	if err != nil {
		return err
	}
	u.identity = updated
	return nil
}

func setProfileField(i *Identity, field, value string) {
	switch field {
	case "name":
		i.Name = value
	case "picture":
		i.Picture = value
	case "locale":
		i.Locale = value
	}
}

func stringOr(v string, def any) any {
	if v == "" {
		return def
	}
	return v
}

func lookupDotted(m map[string]any, parts []string) (any, bool) {
	var cur any = m
	for _, p := range parts {
		node, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = node[p]; !ok {
			return nil, false
		}
	}
	return cur, true
}

func setDotted(m map[string]any, parts []string, value any) {
	for _, p := range parts[:len(parts)-1] {
		next, ok := m[p].(map[string]any)
		if !ok {
			next = make(map[string]any)
			m[p] = next
		}
		m = next
	}
	m[parts[len(parts)-1]] = value
}
