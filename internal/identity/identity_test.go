package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/goalplan/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func newTestTokens(t *testing.T) *Tokens {
	t.Helper()
	tokens, err := NewTokens("test-secret", time.Hour)
	require.NoError(t, err)
	return tokens
}

func TestTokensRoundTrip(t *testing.T) {
	t.Parallel()
	tokens := newTestTokens(t)

	signed, exp, err := tokens.Issue("a@example.com")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, time.Minute)

	userKey, err := tokens.Parse(signed)
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", userKey)
}

func TestTokensRejectInvalid(t *testing.T) {
	t.Parallel()
	tokens := newTestTokens(t)
	signed, _, err := tokens.Issue("a@example.com")
	require.NoError(t, err)

	other, err := NewTokens("other-secret", time.Hour)
	require.NoError(t, err)
	_, err = other.Parse(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = tokens.Parse("")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = tokens.Parse("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokensExpire(t *testing.T) {
	t.Parallel()
	tokens := newTestTokens(t)
	signed, _, err := tokens.Issue("a@example.com")
	require.NoError(t, err)

	tokens.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = tokens.Parse(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestNewTokensRequiresSecret(t *testing.T) {
	t.Parallel()
	_, err := NewTokens("", time.Hour)
	assert.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	t.Parallel()
	tokens := newTestTokens(t)
	signed, _, err := tokens.Issue("a@example.com")
	require.NoError(t, err)

	var gotUser, gotSession string
	h := Middleware(tokens)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = UserKeyFromContext(r.Context())
		gotSession = SessionIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("missing token", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/me", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), "unauthenticated")
	})

	t.Run("cookie", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
		req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: signed})
		req.Header.Set(SessionHeaderName, "tab-1")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "a@example.com", gotUser)
		assert.Equal(t, "tab-1", gotSession)
	})

	t.Run("bearer with bad session id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/me?session_id=bad%20id", nil)
		req.Header.Set("Authorization", "Bearer "+signed)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, DefaultSessionIDValue, gotSession)
	})
}

type memUsers struct {
	mu    sync.Mutex
	users map[string]*domain.User
}

func (m *memUsers) GetUser(_ context.Context, key string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[key]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, nil
}

func (m *memUsers) UpsertUser(_ context.Context, u *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *u
	m.users[u.Key] = &cp
	return nil
}

func newOAuthServer(t *testing.T, refresh string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/token", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "the-code", r.PostForm.Get("code"))
		body := map[string]any{
			"access_token": "access-1",
			"token_type":   "Bearer",
			"expires_in":   3600,
		}
		if refresh != "" {
			body["refresh_token"] = refresh
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestHandler(t *testing.T, srv *httptest.Server, users *memUsers, onLogout func(string)) (*Handler, *Tokens) {
	t.Helper()
	tokens := newTestTokens(t)
	cfg := &oauth2.Config{
		ClientID:     "client",
		ClientSecret: "secret",
		RedirectURL:  "http://localhost:8080/auth/callback",
		Endpoint:     oauth2.Endpoint{AuthURL: srv.URL + "/auth", TokenURL: srv.URL + "/token"},
	}
	return NewHandler(HandlerConfig{
		OAuth:       cfg,
		Tokens:      tokens,
		Users:       users,
		FrontendURL: "http://localhost:5173",
		IsDev:       true,
		UserInfo: func(ctx context.Context, ts oauth2.TokenSource) (*UserInfo, error) {
			tok, err := ts.Token()
			if err != nil {
				return nil, err
			}
			assert.Equal(t, "access-1", tok.AccessToken)
			return &UserInfo{Email: "a@example.com", Name: "Ada"}, nil
		},
		OnLogout: onLogout,
	}), tokens
}

func TestLoginRedirectsWithState(t *testing.T) {
	t.Parallel()
	srv := newOAuthServer(t, "refresh-1")
	h, _ := newTestHandler(t, srv, &memUsers{users: map[string]*domain.User{}}, nil)

	rec := httptest.NewRecorder()
	h.Login(rec, httptest.NewRequest(http.MethodGet, "/auth/login", nil))

	assert.Equal(t, http.StatusFound, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "offline", loc.Query().Get("access_type"))
	assert.Equal(t, "consent", loc.Query().Get("prompt"))

	var state *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == stateCookieName {
			state = c
		}
	}
	require.NotNil(t, state)
	assert.Equal(t, state.Value, loc.Query().Get("state"))
}

func callback(h *Handler, state string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/auth/callback?code=the-code&state="+state, nil)
	req.AddCookie(&http.Cookie{Name: stateCookieName, Value: state})
	rec := httptest.NewRecorder()
	h.Callback(rec, req)
	return rec
}

func TestCallbackStoresUserAndSetsSession(t *testing.T) {
	t.Parallel()
	srv := newOAuthServer(t, "refresh-1")
	users := &memUsers{users: map[string]*domain.User{}}
	h, tokens := newTestHandler(t, srv, users, nil)

	rec := callback(h, "s1")
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "http://localhost:5173/", rec.Header().Get("Location"))

	var session string
	for _, c := range rec.Result().Cookies() {
		if c.Name == SessionCookieName {
			session = c.Value
		}
	}
	userKey, err := tokens.Parse(session)
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", userKey)

	u := users.users["a@example.com"]
	require.NotNil(t, u)
	assert.Equal(t, "Ada", u.Name)
	var tok oauth2.Token
	require.NoError(t, json.Unmarshal([]byte(u.TokenJSON), &tok))
	assert.Equal(t, "refresh-1", tok.RefreshToken)
}

func TestCallbackKeepsEarlierRefreshToken(t *testing.T) {
	t.Parallel()
	srv := newOAuthServer(t, "")
	users := &memUsers{users: map[string]*domain.User{
		"a@example.com": {Key: "a@example.com", TokenJSON: `{"access_token":"old","refresh_token":"refresh-0"}`},
	}}
	h, _ := newTestHandler(t, srv, users, nil)

	rec := callback(h, "s1")
	require.Equal(t, http.StatusFound, rec.Code)

	var tok oauth2.Token
	require.NoError(t, json.Unmarshal([]byte(users.users["a@example.com"].TokenJSON), &tok))
	assert.Equal(t, "access-1", tok.AccessToken)
	assert.Equal(t, "refresh-0", tok.RefreshToken)
}

func TestCallbackRejectsStateMismatch(t *testing.T) {
	t.Parallel()
	srv := newOAuthServer(t, "refresh-1")
	h, _ := newTestHandler(t, srv, &memUsers{users: map[string]*domain.User{}}, nil)

	req := httptest.NewRequest(http.MethodGet, "/auth/callback?code=the-code&state=forged", nil)
	req.AddCookie(&http.Cookie{Name: stateCookieName, Value: "real"})
	rec := httptest.NewRecorder()
	h.Callback(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLogoutClearsCookieAndNotifies(t *testing.T) {
	t.Parallel()
	srv := newOAuthServer(t, "refresh-1")
	var loggedOut string
	h, tokens := newTestHandler(t, srv, &memUsers{users: map[string]*domain.User{}}, func(k string) { loggedOut = k })
	signed, _, err := tokens.Issue("a@example.com")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: signed})
	rec := httptest.NewRecorder()
	h.Logout(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "a@example.com", loggedOut)
	cookies := rec.Result().Cookies()
	require.NotEmpty(t, cookies)
	assert.Equal(t, -1, cookies[0].MaxAge)
}

func TestMe(t *testing.T) {
	t.Parallel()
	srv := newOAuthServer(t, "refresh-1")
	users := &memUsers{users: map[string]*domain.User{
		"a@example.com": {Key: "a@example.com", Name: "Ada", TokenJSON: `{}`},
	}}
	h, _ := newTestHandler(t, srv, users, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req = req.WithContext(WithUserKey(req.Context(), "a@example.com"))
	rec := httptest.NewRecorder()
	h.Me(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body meResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Ada", body.Name)
	assert.True(t, body.Connected)

	rec = httptest.NewRecorder()
	h.Me(rec, httptest.NewRequest(http.MethodGet, "/api/me", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
