package microauth

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"net/mail"
	"net/url"
	"strings"

	"github.com/gorilla/mux"
)

const minPasswordLength = 8

// Handlers exposes the login actions as JSON endpoints.
type Handlers struct {
	Sessions   *SessionManager
	Identities *IdentityStore
	Providers  *ProviderOrchestrator
	Config     ConfigProvider
	Logger     *slog.Logger

	// Links, when set, is sent the login link of unique-url requests that
	// name an email.
	Links LinkSender
}

// Routes mounts the handlers on r behind the session and CSRF middleware.
func (h *Handlers) Routes(r *mux.Router) {
	r.Use(h.Sessions.Middleware, h.Sessions.CSRFGuard)
	r.HandleFunc("/csrf-token", h.HandleCSRFToken).Methods(http.MethodGet)
	r.HandleFunc("/methods", h.HandleMethods).Methods(http.MethodGet)
	r.HandleFunc("/login", h.HandleLogin).Methods(http.MethodPost)
	r.HandleFunc("/register", h.HandleRegister).Methods(http.MethodPost)
	r.HandleFunc("/logout", h.HandleLogout).Methods(http.MethodPost)
	r.HandleFunc("/unique-url", h.HandleUniqueURL).Methods(http.MethodPost)
	r.HandleFunc("/unique-url/login", h.HandleUniqueURLLogin).Methods(http.MethodGet)
	r.HandleFunc("/error-report", h.HandleErrorReport).Methods(http.MethodPost)
	r.Handle("/me", h.RequireAuth(http.HandlerFunc(h.HandleMe))).Methods(http.MethodGet)
	r.HandleFunc("/{provider}/{action:initiate|callback}", h.HandleProvider).Methods(http.MethodGet)
}

func (h *Handlers) logger() *slog.Logger {
	return orDefaultLogger(h.Logger)
}

func (h *Handlers) debug() bool {
	return configBool(h.Config, "app.debug", false)
}

func (h *Handlers) fail(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err, h.debug())
}

// session returns the request session and its bound user.
func (h *Handlers) session(r *http.Request) (*Session, *User) {
	sess := SessionFromContext(r.Context())
	return sess, h.Identities.Bind(r.Context(), sess)
}

// HandleCSRFToken returns the session's CSRF token.
func (h *Handlers) HandleCSRFToken(w http.ResponseWriter, r *http.Request) {
	sess := SessionFromContext(r.Context())
	writeJSON(w, http.StatusOK, &Response{Success: true, Token: sess.CSRFToken()})
}

// HandleMethods lists the enabled login methods.
func (h *Handlers) HandleMethods(w http.ResponseWriter, r *http.Request) {
	methods := configStrings(h.Config, "login.methods", []string{MethodEmail})
	for _, m := range []string{MethodGoogle, MethodAuth0, MethodUniqueURL} {
		if configBool(h.Config, "login."+m+".enabled", false) && !contains(methods, m) {
			methods = append(methods, m)
		}
	}
	writeJSON(w, http.StatusOK, &Response{Success: true, Data: methods})
}

// HandleLogin logs in with email and password.
func (h *Handlers) HandleLogin(w http.ResponseWriter, r *http.Request) {
	params, err := readParams(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	email, password := params.str("email"), params.raw("password")
	if email == "" || password == "" {
		h.fail(w, NewError(KindValidation, ErrCodeMissingField, "Email and password are required"))
		return
	}
	if !contains(configStrings(h.Config, "login.methods", []string{MethodEmail}), MethodEmail) {
		h.fail(w, NewError(KindConfig, ErrCodeMethodDisabled, "Email login is not enabled").WithCause(ErrMethodDisabled))
		return
	}

	_, user := h.session(r)
	if !user.Login(r.Context(), email, password) {
		h.logger().Warn("Login failed", "email", email)
		h.fail(w, NewError(KindAuth, ErrCodeInvalidCreds, "Invalid email or password"))
		return
	}
	writeJSON(w, http.StatusOK, &Response{
		Success: true,
		Message: "Login successful",
		URL:     configString(h.Config, "login.redirect.success", "/"),
	})
}

// HandleRegister creates an account from name, email and password.
func (h *Handlers) HandleRegister(w http.ResponseWriter, r *http.Request) {
	params, err := readParams(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	name, email, password := params.str("name"), params.str("email"), params.raw("password")
	switch {
	case name == "" || email == "" || password == "":
		h.fail(w, NewError(KindValidation, ErrCodeMissingField, "Name, email, and password are required"))
		return
	case !validEmail(email):
		h.fail(w, NewError(KindValidation, ErrCodeInvalidEmail, "Invalid email address").WithField("email"))
		return
	case len(password) < minPasswordLength:
		h.fail(w, NewError(KindValidation, ErrCodeWeakPassword,
			fmt.Sprintf("Password must be at least %d characters long", minPasswordLength)).WithField("password"))
		return
	}

	_, user := h.session(r)
	if !user.Register(r.Context(), email, password, map[string]any{"name": name}) {
		h.logger().Warn("Registration failed", "email", email)
		h.fail(w, NewError(KindAuth, ErrCodeEmailExists, "Email already registered or registration failed").WithCause(ErrEmailTaken))
		return
	}
	writeJSON(w, http.StatusOK, &Response{
		Success: true,
		Message: "Registration successful",
		URL:     configString(h.Config, "login.redirect.success", "/"),
	})
}

// HandleLogout clears the session's login.
func (h *Handlers) HandleLogout(w http.ResponseWriter, r *http.Request) {
	_, user := h.session(r)
	user.Logout()
	writeJSON(w, http.StatusOK, &Response{
		Success: true,
		Message: "Logged out",
		URL:     configString(h.Config, "login.redirect.failure", "/login"),
	})
}

// HandleUniqueURL mints a passwordless login link. The email is optional.
func (h *Handlers) HandleUniqueURL(w http.ResponseWriter, r *http.Request) {
	params, err := readParams(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	var email *string
	if v, ok := params["email"]; ok && v != nil {
		addr := params.str("email")
		if !validEmail(addr) {
			h.fail(w, NewError(KindValidation, ErrCodeInvalidEmail, "Invalid email address").WithField("email"))
			return
		}
		email = &addr
	}

	_, user := h.session(r)
	token, ok := user.GenerateUniqueURLToken(r.Context(), email)
	if !ok {
		h.fail(w, NewError(KindConfig, ErrCodeMethodDisabled, "Failed to generate unique URL").WithCause(ErrMethodDisabled))
		return
	}
	link := h.uniqueURL(r, token)
	if h.Links != nil && email != nil {
		if err := h.Links.SendLoginLink(r.Context(), *email, link); err != nil {
			h.logger().Error("Failed to send login link", "email", *email, errAttr(err))
		}
	}
	writeJSON(w, http.StatusOK, &Response{
		Success: true,
		Message: "Unique URL generated",
		Token:   token,
		URL:     link,
	})
}

func (h *Handlers) uniqueURL(r *http.Request, token string) string {
	base := strings.TrimRight(configString(h.Config, "app.url", ""), "/")
	if base == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		base = scheme + "://" + r.Host
	}
	path := strings.TrimSuffix(r.URL.Path, "/unique-url")
	return base + path + "/unique-url/login?token=" + url.QueryEscape(token)
}

// HandleUniqueURLLogin logs in from a link and redirects to the landing or
// login page.
func (h *Handlers) HandleUniqueURLLogin(w http.ResponseWriter, r *http.Request) {
	_, user := h.session(r)
	if !user.LoginWithUniqueURL(r.Context(), r.URL.Query().Get("token")) {
		target := configString(h.Config, "login.redirect.failure", "/login")
		http.Redirect(w, r, target+"?error="+ErrCodeInvalidToken, http.StatusFound)
		return
	}
	http.Redirect(w, r, configString(h.Config, "login.redirect.success", "/"), http.StatusFound)
}

// HandleProvider runs the initiate and callback steps of a provider login.
func (h *Handlers) HandleProvider(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	sess, user := h.session(r)
	var out Outcome
	if vars["action"] == "initiate" {
		out = h.Providers.Initiate(r.Context(), sess, vars["provider"])
	} else {
		out = h.Providers.Callback(r.Context(), user, vars["provider"], r.URL.Query())
	}
	http.Redirect(w, r, out.RedirectURL(), http.StatusFound)
}

// HandleMe returns the logged in identity.
func (h *Handlers) HandleMe(w http.ResponseWriter, r *http.Request) {
	_, user := h.session(r)
	writeJSON(w, http.StatusOK, &Response{Success: true, Data: map[string]any{
		"id":           user.ID(),
		"email":        user.Get("email", ""),
		"name":         user.Get("name", ""),
		"picture":      user.Get("picture", ""),
		"is_anonymous": user.Get("is_anonymous", false),
	}})
}

// HandleErrorReport records errors and warnings reported by browser code.
func (h *Handlers) HandleErrorReport(w http.ResponseWriter, r *http.Request) {
	params, err := readParams(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	if report, ok := params["error"].(map[string]any); ok {
		h.logger().Error("JavaScript error", "message", report["message"], "report", report)
	} else if report, ok := params["warning"].(map[string]any); ok {
		h.logger().Warn("JavaScript warning", "message", report["message"], "report", report)
	}
	writeJSON(w, http.StatusOK, &Response{Success: true})
}

// RequireAuth rejects requests whose session is not logged in.
func (h *Handlers) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, user := h.session(r); !user.IsAuthenticated() {
			h.fail(w, NewError(KindAuth, ErrCodeAuthRequired, "Authentication required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

type params map[string]any

// raw returns the value under key without trimming.
func (p params) raw(key string) string {
	switch v := p[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func (p params) str(key string) string {
	switch v := p[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// readParams decodes a JSON object body or form values.
func readParams(r *http.Request) (params, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		out := params{}
		if err := json.NewDecoder(r.Body).Decode(&out); err != nil {
			return nil, NewError(KindRequest, "invalid_request", "Invalid request").WithCause(err)
		}
		return out, nil
	}
	if err := r.ParseForm(); err != nil {
		return nil, NewError(KindRequest, "invalid_request", "Invalid request").WithCause(err)
	}
	out := params{}
	for k, v := range r.Form {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out, nil
}

func validEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email && strings.Contains(email, "@")
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
