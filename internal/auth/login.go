package auth

import (
	"crypto/subtle"
	_ "embed"
	"encoding/json"
	"html/template"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"authgate/edge-service/internal/httputil"
	"authgate/edge-service/internal/metrics"
	"authgate/edge-service/internal/session"
	"authgate/edge-service/internal/user"
)

// Reason classifies a rejected login transition.
type Reason string

const (
	ReasonAccountNotFound   Reason = "ACCOUNT_NOT_FOUND"
	ReasonLoginError        Reason = "LOGIN_ERROR"
	ReasonNotVerified       Reason = "NOT_VERIFIED"
	ReasonParametersMissing Reason = "PARAMETERS_MISSING"
	ReasonPasswordError     Reason = "PASSWORD_ERROR"
	ReasonPasswordIncorrect Reason = "PASSWORD_INCORRECT"
	ReasonQueryError        Reason = "QUERY_ERROR"
)

//go:embed login.html
var loginHTML string

var loginTemplate = template.Must(template.New("login").Parse(loginHTML))

// Handler owns the login state machine and the authentication gate.
type Handler struct {
	users    user.Store
	sessions session.Store
	codec    *session.Codec
	disabled bool
}

func NewHandler(users user.Store, sessions session.Store, codec *session.Codec, disabled bool) *Handler {
	return &Handler{
		users:    users,
		sessions: sessions,
		codec:    codec,
		disabled: disabled,
	}
}

// credentials is the transient login submission; the password never leaves
// this request.
type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	CSRF     string `json:"-"`
}

// GetLoginView renders the login form bound to a fresh anti-forgery token,
// or redirects home when the caller is already authenticated.
func (h *Handler) GetLoginView(w http.ResponseWriter, r *http.Request) {
	sess := h.currentSession(r)
	if sess.Authenticated() {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}

	logger := httputil.GetLogger(r.Context())

	if sess == nil {
		fresh, err := session.New()
		if err != nil {
			logger.Error().Err(err).Msg("failed to create session")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		sess = fresh
	}
	sess.CSRFToken = uuid.NewString()
	if err := h.sessions.Save(r.Context(), sess); err != nil {
		logger.Error().Err(err).Msg("failed to save session")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if err := h.codec.SetCookie(w, sess.Token); err != nil {
		logger.Error().Err(err).Msg("failed to set session cookie")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	loginTemplate.Execute(w, map[string]any{
		"Title":     "Sign in",
		"CSRFToken": sess.CSRFToken,
		"Error":     r.URL.Query().Has("error"),
	})
}

// HandleLogin runs the AwaitingCredentials -> Verifying -> {Authenticated,
// Rejected} transition for a submitted email and password.
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	creds, err := parseCredentials(r)
	if err != nil || creds.Email == "" || creds.Password == "" {
		h.rejectLogin(w, r, creds.Email, ReasonParametersMissing, err)
		return
	}

	sess := h.currentSession(r)
	if sess != nil && sess.CSRFToken != "" {
		// A token was issued to this session on the login view; the
		// submission must echo it.
		if subtle.ConstantTimeCompare([]byte(sess.CSRFToken), []byte(creds.CSRF)) != 1 {
			httputil.GetLogger(r.Context()).Warn().
				Str("email", creds.Email).
				Msg("login rejected: anti-forgery token mismatch")
			w.Header().Set("Location", "/login?error")
			w.WriteHeader(http.StatusForbidden)
			return
		}
	}

	acct, err := h.users.FindByEmail(r.Context(), creds.Email)
	switch {
	case err == user.ErrNotFound:
		h.rejectLogin(w, r, creds.Email, ReasonAccountNotFound, nil)
		return
	case err != nil:
		h.rejectLogin(w, r, creds.Email, ReasonQueryError, err)
		return
	}

	match, err := user.VerifyPassword(acct.Password, creds.Password)
	switch {
	case err != nil:
		h.rejectLogin(w, r, creds.Email, ReasonPasswordError, err)
		return
	case !match:
		h.rejectLogin(w, r, creds.Email, ReasonPasswordIncorrect, nil)
		return
	case !acct.Verified:
		h.rejectLogin(w, r, creds.Email, ReasonNotVerified, nil)
		return
	}

	// Fresh session token on privilege change. The principal is a snapshot
	// of the account record, excluding the password hash and internal
	// tokens.
	fresh, err := session.New()
	if err != nil {
		h.rejectLogin(w, r, creds.Email, ReasonLoginError, err)
		return
	}
	fresh.Principal = &session.Principal{
		ID:       acct.UUID,
		Roles:    acct.Roles,
		Email:    acct.Email,
		Fullname: acct.Fullname,
	}
	if err := h.sessions.Save(r.Context(), fresh); err != nil {
		h.rejectLogin(w, r, creds.Email, ReasonLoginError, err)
		return
	}
	if sess != nil {
		// Drop the pre-login record; its token must not remain valid.
		if err := h.sessions.Delete(r.Context(), sess.Token); err != nil {
			httputil.GetLogger(r.Context()).Error().Err(err).Msg("failed to delete pre-login session")
		}
	}
	if err := h.codec.SetCookie(w, fresh.Token); err != nil {
		h.rejectLogin(w, r, creds.Email, ReasonLoginError, err)
		return
	}

	httputil.GetLogger(r.Context()).Info().Str("email", creds.Email).Msg("authenticated")
	metrics.LoginOutcome.WithLabelValues("AUTHENTICATED").Inc()
	http.Redirect(w, r, "/", http.StatusFound)
}

// HandleLogout invalidates the current session and redirects home. It is
// idempotent: logging out an anonymous session is not an error.
func (h *Handler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if token, ok := h.codec.TokenFromRequest(r); ok {
		if err := h.sessions.Delete(r.Context(), token); err != nil {
			httputil.GetLogger(r.Context()).Error().Err(err).Msg("failed to delete session")
		}
	}
	h.codec.ClearCookie(w)
	http.Redirect(w, r, "/", http.StatusFound)
}

// GetSessionStatus reports whether the caller's session carries a
// principal, without side effects and without redirecting.
func (h *Handler) GetSessionStatus(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]bool{
		"authenticated": h.currentSession(r).Authenticated(),
	})
}

// rejectLogin maps a Rejected transition to its status code and redirect,
// logging the email and reason but never the password.
func (h *Handler) rejectLogin(w http.ResponseWriter, r *http.Request, email string, reason Reason, cause error) {
	logger := httputil.GetLogger(r.Context())

	var status int
	switch reason {
	case ReasonParametersMissing:
		status = http.StatusBadRequest
		logger.Warn().Str("email", email).Msg("authentication failed: required parameters missing")
	case ReasonAccountNotFound:
		status = http.StatusForbidden
		logger.Warn().Str("email", email).Msg("authentication failed: account not found")
	case ReasonPasswordIncorrect:
		status = http.StatusForbidden
		logger.Warn().Str("email", email).Msg("authentication failed: passwords do not match")
	case ReasonNotVerified:
		status = http.StatusForbidden
		logger.Error().Str("email", email).Msg("authentication failed: account is not verified")
	case ReasonQueryError, ReasonPasswordError, ReasonLoginError:
		status = http.StatusInternalServerError
		logger.Error().Str("email", email).Err(cause).Str("reason", string(reason)).Msg("authentication failed")
	default:
		status = http.StatusInternalServerError
		logger.Error().Str("email", email).Err(cause).Msg("authentication failed")
	}

	metrics.LoginOutcome.WithLabelValues(string(reason)).Inc()
	w.Header().Set("Location", "/login?error")
	w.WriteHeader(status)
}

// parseCredentials accepts the submission as JSON or as a form post.
func parseCredentials(r *http.Request) (credentials, error) {
	var creds credentials
	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "application/json") {
		if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
			return creds, err
		}
		creds.CSRF = r.Header.Get("X-CSRF-Token")
		return creds, nil
	}
	if err := r.ParseForm(); err != nil {
		return creds, err
	}
	creds.Email = r.PostFormValue("email")
	creds.Password = r.PostFormValue("password")
	creds.CSRF = r.PostFormValue("_csrf")
	return creds, nil
}
