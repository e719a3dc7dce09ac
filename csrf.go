package microauth

import (
	"bytes"
	"encoding/json"
	"io"
	"mime"
	"net/http"
)

// Where CSRFGuard looks for the token.
const (
	CSRFHeaderName = "X-CSRF-Token"
	CSRFFieldName  = "csrf_token"
)

const maxCSRFBody = 1 << 20

var errInvalidCSRF = NewError(KindSecurity, ErrCodeInvalidCSRF, "Invalid CSRF token")

// CSRFGuard rejects state-changing requests whose token does not match the
// session's CSRF token. It must run inside Middleware. Safe methods pass
// through untouched.
func (m *SessionManager) CSRFGuard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
			return
		}

		sess := SessionFromContext(r.Context())
		candidate := csrfCandidate(r)
		if sess == nil || !sess.ValidateCSRFToken(candidate) {
			m.logger.Warn("CSRF validation failed", "method", r.Method, "path", r.URL.Path,
				"token_present", candidate != "")
			writeError(w, http.StatusForbidden, errInvalidCSRF, false)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// csrfCandidate reads the token from the header, a form field or a JSON
// body field. A JSON body is restored for the next handler.
func csrfCandidate(r *http.Request) string {
	if v := r.Header.Get(CSRFHeaderName); v != "" {
		return v
	}
	if r.Body == nil {
		return ""
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/json":
		data, err := io.ReadAll(io.LimitReader(r.Body, maxCSRFBody))
		r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(data))
		if err != nil {
			return ""
		}
		var body struct {
			CSRFToken string `json:"csrf_token"`
		}
		if json.Unmarshal(data, &body) != nil {
			return ""
		}
		return body.CSRFToken
	case "application/x-www-form-urlencoded", "multipart/form-data":
		return r.PostFormValue(CSRFFieldName)
	}
	return ""
}
