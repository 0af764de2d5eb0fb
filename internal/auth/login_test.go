package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"authgate/edge-service/internal/session"
	"authgate/edge-service/internal/user"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type stubUsers struct {
	accounts map[string]*user.Account
	err      error
}

func (s *stubUsers) FindByEmail(ctx context.Context, email string) (*user.Account, error) {
	if s.err != nil {
		return nil, s.err
	}
	acct, ok := s.accounts[email]
	if !ok {
		return nil, user.ErrNotFound
	}
	return acct, nil
}

func testAccount(t *testing.T, password string, verified bool) *user.Account {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	return &user.Account{
		UUID:     "11111111-2222-3333-4444-555555555555",
		Email:    "alice@example.com",
		Password: string(hash),
		Fullname: "Alice Example",
		Roles:    []string{"admin"},
		Verified: verified,
		Active:   true,
	}
}

func newTestHandler(t *testing.T, users user.Store, disabled bool) (*Handler, *session.MemoryStore, *session.Codec) {
	t.Helper()
	store := session.NewMemoryStore(time.Hour, 0)
	t.Cleanup(store.Close)
	codec, err := session.NewCodec(testSecret, "authgate_session", time.Hour, false)
	if err != nil {
		t.Fatalf("codec: %v", err)
	}
	return NewHandler(users, store, codec, disabled), store, codec
}

func loginForm(email, password string) *http.Request {
	form := url.Values{}
	if email != "" {
		form.Set("email", email)
	}
	if password != "" {
		form.Set("password", password)
	}
	r := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return r
}

func sessionFromResponse(t *testing.T, w *httptest.ResponseRecorder, store *session.MemoryStore, codec *session.Codec) *session.Session {
	t.Helper()
	var value string
	for _, c := range w.Result().Cookies() {
		if c.Name == "authgate_session" && c.MaxAge >= 0 {
			value = c.Value
		}
	}
	if value == "" {
		t.Fatal("no session cookie set")
	}
	token, err := codec.Decode(value)
	if err != nil {
		t.Fatalf("decode cookie: %v", err)
	}
	sess, err := store.Get(context.Background(), token)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	return sess
}

func TestHandleLoginSuccess(t *testing.T) {
	users := &stubUsers{accounts: map[string]*user.Account{
		"alice@example.com": testAccount(t, "s3cret", true),
	}}
	h, store, codec := newTestHandler(t, users, false)

	w := httptest.NewRecorder()
	h.HandleLogin(w, loginForm("alice@example.com", "s3cret"))

	if w.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", w.Code)
	}
	if loc := w.Header().Get("Location"); loc != "/" {
		t.Fatalf("Location = %q, want /", loc)
	}

	sess := sessionFromResponse(t, w, store, codec)
	if !sess.Authenticated() {
		t.Fatal("session has no principal")
	}
	p := sess.Principal
	if p.Email != "alice@example.com" || p.Fullname != "Alice Example" {
		t.Fatalf("principal = %+v", p)
	}
	if p.ID != "11111111-2222-3333-4444-555555555555" {
		t.Fatalf("principal ID = %q", p.ID)
	}
	// The principal is a snapshot of safe fields only; make sure the
	// bcrypt hash never rides along in the serialized form.
	raw, err := json.Marshal(p)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(raw), "$2a$") || strings.Contains(strings.ToLower(string(raw)), "password") {
		t.Fatalf("principal leaks credentials: %s", raw)
	}
}

func TestHandleLoginRejections(t *testing.T) {
	account := testAccount(t, "s3cret", true)
	unverified := testAccount(t, "s3cret", false)

	tests := []struct {
		name       string
		users      *stubUsers
		email      string
		password   string
		wantStatus int
	}{
		{
			name:       "missing email",
			users:      &stubUsers{},
			email:      "",
			password:   "s3cret",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "missing password",
			users:      &stubUsers{},
			email:      "alice@example.com",
			password:   "",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "account not found",
			users:      &stubUsers{accounts: map[string]*user.Account{}},
			email:      "nobody@example.com",
			password:   "s3cret",
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "store lookup error",
			users:      &stubUsers{err: errors.New("connection reset")},
			email:      "alice@example.com",
			password:   "s3cret",
			wantStatus: http.StatusInternalServerError,
		},
		{
			name:       "password incorrect",
			users:      &stubUsers{accounts: map[string]*user.Account{"alice@example.com": account}},
			email:      "alice@example.com",
			password:   "wrong",
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "account not verified",
			users:      &stubUsers{accounts: map[string]*user.Account{"alice@example.com": unverified}},
			email:      "alice@example.com",
			password:   "s3cret",
			wantStatus: http.StatusForbidden,
		},
		{
			name: "malformed stored hash",
			users: &stubUsers{accounts: map[string]*user.Account{"alice@example.com": {
				Email:    "alice@example.com",
				Password: "not-a-hash",
				Verified: true,
			}}},
			email:      "alice@example.com",
			password:   "s3cret",
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _, _ := newTestHandler(t, tt.users, false)
			w := httptest.NewRecorder()
			h.HandleLogin(w, loginForm(tt.email, tt.password))

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if loc := w.Header().Get("Location"); loc != "/login?error" {
				t.Fatalf("Location = %q, want /login?error", loc)
			}
			for _, c := range w.Result().Cookies() {
				if c.Name == "authgate_session" && c.MaxAge >= 0 {
					t.Fatal("rejected login must not establish a session")
				}
			}
		})
	}
}

func TestGetLoginViewRendersForm(t *testing.T) {
	h, store, codec := newTestHandler(t, &stubUsers{}, false)

	w := httptest.NewRecorder()
	h.GetLoginView(w, httptest.NewRequest(http.MethodGet, "/login", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	sess := sessionFromResponse(t, w, store, codec)
	if sess.CSRFToken == "" {
		t.Fatal("no anti-forgery token issued")
	}
	if !strings.Contains(w.Body.String(), sess.CSRFToken) {
		t.Fatal("rendered form does not carry the anti-forgery token")
	}
	if sess.Authenticated() {
		t.Fatal("login view must not authenticate")
	}
}

func TestGetLoginViewRedirectsWhenAuthenticated(t *testing.T) {
	h, store, codec := newTestHandler(t, &stubUsers{}, false)
	r := authenticatedRequest(t, http.MethodGet, "/login", store, codec)

	w := httptest.NewRecorder()
	h.GetLoginView(w, r)

	if w.Code != http.StatusFound || w.Header().Get("Location") != "/" {
		t.Fatalf("got %d %q, want 302 /", w.Code, w.Header().Get("Location"))
	}
}

func TestFormLoginHonorsAntiForgeryToken(t *testing.T) {
	users := &stubUsers{accounts: map[string]*user.Account{
		"alice@example.com": testAccount(t, "s3cret", true),
	}}
	h, store, codec := newTestHandler(t, users, false)

	// Fetch the form to get a session with an issued token.
	viewW := httptest.NewRecorder()
	h.GetLoginView(viewW, httptest.NewRequest(http.MethodGet, "/login", nil))
	sess := sessionFromResponse(t, viewW, store, codec)

	withCookie := func(r *http.Request) *http.Request {
		for _, c := range viewW.Result().Cookies() {
			r.AddCookie(c)
		}
		return r
	}

	// Submitting without the token is rejected.
	w := httptest.NewRecorder()
	h.HandleLogin(w, withCookie(loginForm("alice@example.com", "s3cret")))
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403 on missing token", w.Code)
	}

	// Submitting with the token succeeds.
	form := url.Values{}
	form.Set("email", "alice@example.com")
	form.Set("password", "s3cret")
	form.Set("_csrf", sess.CSRFToken)
	r := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w = httptest.NewRecorder()
	h.HandleLogin(w, withCookie(r))
	if w.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302 with valid token", w.Code)
	}
}

func TestHandleLoginAcceptsJSON(t *testing.T) {
	users := &stubUsers{accounts: map[string]*user.Account{
		"alice@example.com": testAccount(t, "s3cret", true),
	}}
	h, _, _ := newTestHandler(t, users, false)

	r := httptest.NewRequest(http.MethodPost, "/login",
		strings.NewReader(`{"email":"alice@example.com","password":"s3cret"}`))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.HandleLogin(w, r)

	if w.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", w.Code)
	}
}

func TestHandleLogoutIdempotent(t *testing.T) {
	h, store, codec := newTestHandler(t, &stubUsers{}, false)

	// Logged-in session is cleared.
	r := authenticatedRequest(t, http.MethodGet, "/logout", store, codec)
	token, _ := codec.TokenFromRequest(r)
	w := httptest.NewRecorder()
	h.HandleLogout(w, r)

	if w.Code != http.StatusFound || w.Header().Get("Location") != "/" {
		t.Fatalf("got %d %q, want 302 /", w.Code, w.Header().Get("Location"))
	}
	if _, err := store.Get(context.Background(), token); err != session.ErrNotFound {
		t.Fatal("session record survived logout")
	}

	// Logging out with no session at all behaves the same.
	w = httptest.NewRecorder()
	h.HandleLogout(w, httptest.NewRequest(http.MethodGet, "/logout", nil))
	if w.Code != http.StatusFound || w.Header().Get("Location") != "/" {
		t.Fatalf("got %d %q, want 302 /", w.Code, w.Header().Get("Location"))
	}
}

func TestGetSessionStatus(t *testing.T) {
	h, store, codec := newTestHandler(t, &stubUsers{}, false)

	w := httptest.NewRecorder()
	h.GetSessionStatus(w, httptest.NewRequest(http.MethodGet, "/session", nil))
	var status map[string]bool
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if status["authenticated"] {
		t.Fatal("anonymous caller reported as authenticated")
	}

	r := authenticatedRequest(t, http.MethodGet, "/session", store, codec)
	w = httptest.NewRecorder()
	h.GetSessionStatus(w, r)
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !status["authenticated"] {
		t.Fatal("authenticated caller reported as anonymous")
	}
}
