package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/ashureev/goalplan/internal/api"
	"github.com/ashureev/goalplan/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	oauth2api "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"
)

const (
	stateCookieName = "goalplan_oauth_state"
	stateCookieTTL  = 10 * time.Minute
)

// BaseScopes identify the user. Callers append the scopes of the Google
// services they use.
var BaseScopes = []string{"openid", oauth2api.UserinfoEmailScope, oauth2api.UserinfoProfileScope}

// UserStore is the part of the repository used by sign-in.
type UserStore interface {
	GetUser(ctx context.Context, userKey string) (*domain.User, error)
	UpsertUser(ctx context.Context, user *domain.User) error
}

// UserInfo is the Google profile of a signed-in user.
type UserInfo struct {
	Email   string
	Name    string
	Picture string
}

// UserInfoFunc fetches the profile for an OAuth token.
type UserInfoFunc func(ctx context.Context, ts oauth2.TokenSource) (*UserInfo, error)

// GoogleUserInfo fetches the profile from the Google userinfo endpoint.
func GoogleUserInfo(ctx context.Context, ts oauth2.TokenSource) (*UserInfo, error) {
	svc, err := oauth2api.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, fmt.Errorf("create userinfo client: %w", err)
	}
	info, err := svc.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("get userinfo: %w", err)
	}
	return &UserInfo{Email: info.Email, Name: info.Name, Picture: info.Picture}, nil
}

// NewOAuthConfig builds the Google OAuth client configuration.
func NewOAuthConfig(clientID, clientSecret, redirectURL string, scopes []string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes:       append(append([]string{}, BaseScopes...), scopes...),
		Endpoint:     google.Endpoint,
	}
}

// HandlerConfig holds the collaborators of the sign-in handler.
type HandlerConfig struct {
	OAuth       *oauth2.Config
	Tokens      *Tokens
	Users       UserStore
	FrontendURL string
	IsDev       bool
	// UserInfo defaults to GoogleUserInfo.
	UserInfo UserInfoFunc
	// OnLogout runs after a user signs out.
	OnLogout func(userKey string)
}

// Handler serves Google sign-in, sign-out, and the current-user endpoint.
type Handler struct {
	cfg HandlerConfig
}

// NewHandler creates a sign-in handler.
func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.UserInfo == nil {
		cfg.UserInfo = GoogleUserInfo
	}
	return &Handler{cfg: cfg}
}

// RegisterRoutes registers the public sign-in routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/auth", func(r chi.Router) {
		r.Get("/login", h.Login)
		r.Get("/callback", h.Callback)
		r.Post("/logout", h.Logout)
	})
}

// RegisterAPIRoutes registers routes that require a session.
func (h *Handler) RegisterAPIRoutes(r chi.Router) {
	r.Get("/api/me", h.Me)
}

// Login redirects to the Google consent screen.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	state := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     "/auth",
		MaxAge:   int(stateCookieTTL.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !h.cfg.IsDev,
	})
	authURL := h.cfg.OAuth.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
	)
	http.Redirect(w, r, authURL, http.StatusFound)
}

// Callback completes the OAuth exchange, stores the user and credential, and
// sets the session cookie.
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	state, err := r.Cookie(stateCookieName)
	if err != nil || state.Value == "" || state.Value != r.URL.Query().Get("state") {
		api.Error(w, http.StatusBadRequest, "invalid oauth state")
		return
	}
	h.clearCookie(w, stateCookieName, "/auth")

	if e := r.URL.Query().Get("error"); e != "" {
		slog.Warn("Google sign-in declined", "error", e)
		http.Redirect(w, r, h.cfg.FrontendURL+"/?auth_error="+url.QueryEscape(e), http.StatusFound)
		return
	}
	code := r.URL.Query().Get("code")
	if code == "" {
		api.Error(w, http.StatusBadRequest, "missing code")
		return
	}

	token, err := h.cfg.OAuth.Exchange(ctx, code)
	if err != nil {
		slog.Error("OAuth exchange failed", "error", err)
		api.Error(w, http.StatusBadGateway, "oauth exchange failed")
		return
	}
	info, err := h.cfg.UserInfo(ctx, h.cfg.OAuth.TokenSource(ctx, token))
	if err != nil || info.Email == "" {
		slog.Error("Failed to fetch Google profile", "error", err)
		api.Error(w, http.StatusBadGateway, "failed to fetch profile")
		return
	}

	user, err := h.saveUser(ctx, info, token)
	if err != nil {
		api.WriteError(w, err)
		return
	}

	signed, exp, err := h.cfg.Tokens.Issue(user.Key)
	if err != nil {
		api.WriteError(w, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    signed,
		Path:     "/",
		Expires:  exp,
		MaxAge:   int(time.Until(exp).Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !h.cfg.IsDev,
	})
	slog.Info("User signed in", "user_key", user.Key)
	http.Redirect(w, r, h.cfg.FrontendURL+"/", http.StatusFound)
}

// saveUser upserts the user with the new credential. Google only returns a
// refresh token on consent, so an earlier one is carried over when missing.
func (h *Handler) saveUser(ctx context.Context, info *UserInfo, token *oauth2.Token) (*domain.User, error) {
	existing, err := h.cfg.Users.GetUser(ctx, info.Email)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if token.RefreshToken == "" && existing != nil && existing.HasCredential() {
		var prev oauth2.Token
		if err := json.Unmarshal([]byte(existing.TokenJSON), &prev); err == nil {
			token.RefreshToken = prev.RefreshToken
		}
	}
	raw, err := json.Marshal(token)
	if err != nil {
		return nil, fmt.Errorf("encode token: %w", err)
	}

	now := time.Now()
	user := &domain.User{
		Key:       info.Email,
		Name:      info.Name,
		Picture:   info.Picture,
		TokenJSON: string(raw),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if existing != nil {
		user.CreatedAt = existing.CreatedAt
	}
	if err := h.cfg.Users.UpsertUser(ctx, user); err != nil {
		return nil, fmt.Errorf("save user: %w", err)
	}
	return user, nil
}

// Logout clears the session cookie and drops the user's in-memory state.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	userKey, err := h.cfg.Tokens.Parse(tokenFromRequest(r))
	h.clearCookie(w, SessionCookieName, "/")
	if err == nil {
		if h.cfg.OnLogout != nil {
			h.cfg.OnLogout(userKey)
		}
		slog.Info("User signed out", "user_key", userKey)
	}
	w.WriteHeader(http.StatusNoContent)
}

type meResponse struct {
	Key       string `json:"key"`
	Name      string `json:"name"`
	Picture   string `json:"picture,omitempty"`
	Connected bool   `json:"connected"`
}

// Me returns the signed-in user's profile.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	userKey := UserKeyFromContext(r.Context())
	if userKey == "" {
		api.WriteError(w, domain.ErrUnauthenticated)
		return
	}
	user, err := h.cfg.Users.GetUser(r.Context(), userKey)
	if err != nil {
		api.WriteError(w, err)
		return
	}
	if user == nil {
		api.WriteError(w, fmt.Errorf("%w: unknown user", domain.ErrUnauthenticated))
		return
	}
	api.JSON(w, http.StatusOK, meResponse{
		Key:       user.Key,
		Name:      user.Name,
		Picture:   user.Picture,
		Connected: user.HasCredential(),
	})
}

func (h *Handler) clearCookie(w http.ResponseWriter, name, path string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     path,
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !h.cfg.IsDev,
	})
}
