// Package microauth provides session management, identity records and
// login flows for web applications.
//
// The package is built from four parts that share one RecordStore:
//
// SessionManager: server side sessions keyed by an opaque cookie. Session
// ids rotate every five minutes, every mutation is written through before
// it returns, and each session carries a CSRF token.
//
// IdentityStore: one record per person holding the email, password hash,
// provider links, profile fields and unique-url login tokens. Lookups by
// email, provider id or token go through an in-memory index that is
// rebuilt from the store as needed. Writes are version checked.
//
// ProviderOrchestrator: the redirect flow for Google and Auth0 logins.
// Failures are reported as a redirect to the login page with an error code
// such as google_not_enabled or auth0_invalid_state.
//
// Handlers: JSON endpoints for login, registration, logout and unique-url
// links, mounted on a gorilla/mux router behind the session and CSRF
// middleware.
//
// # Basic Usage
//
//	cfg := config.LoadOrInit("config/config.yaml")
//	records := stores.NewFSStore("/var/lib/microauth")
//	logger := microauth.NewLogger(os.Stderr, slog.LevelInfo)
//
//	sessions := microauth.NewSessionManager(cfg, records, logger)
//	identities := microauth.NewIdentityStore(cfg, records, logger,
//	    microauth.WithGoogleVerifier(oauth2.NewGoogleVerifier(clientID)))
//	providers, _ := microauth.NewProviderOrchestrator(cfg, logger, oauth2.Clients(ctx, cfg))
//
//	h := &microauth.Handlers{
//	    Sessions:   sessions,
//	    Identities: identities,
//	    Providers:  providers,
//	    Config:     cfg,
//	    Logger:     logger,
//	}
//	r := mux.NewRouter()
//	h.Routes(r.PathPrefix("/auth").Subrouter())
//
// Application handlers reach the session and user with
//
//	sess := microauth.SessionFromContext(r.Context())
//	user := identities.Bind(r.Context(), sess)
//
// # Security
//
// Passwords are hashed with argon2id by default, or bcrypt, and rehashed
// on login when the configured parameters change. Session ids, CSRF tokens
// and unique-url tokens are 32 random bytes, hex encoded. Provider state is
// a short lived HS256 token bound to a nonce kept in the session.
//
// # Testing
//
// Every component takes a clock (the Now field) and a RecordStore, so tests
// run against stores.NewFSStore(t.TempDir()) with a fake clock.
package microauth
