// Package authapi serves registration, login and the refresh token lifecycle over HTTP.
package authapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"tether/cmd/identity"
	"tether/cmd/internal/auth/tokens"
	"tether/cmd/internal/metrics"
)

// Users is the account surface used by the handler.
type Users interface {
	Register(ctx context.Context, username, password, publicKey string) (identity.User, error)
	Authenticate(ctx context.Context, username, password string) (identity.User, error)
}

// Tokens is the token lifecycle surface used by the handler.
type Tokens interface {
	Issue(ctx context.Context, userID string) (tokens.Pair, error)
	Rotate(ctx context.Context, accessToken, refreshToken string) (tokens.Pair, error)
	Revoke(ctx context.Context, accessToken, refreshToken string) error
}

// Handler wires the /auth endpoints.
type Handler struct {
	log     *slog.Logger
	cfg     Config
	users   Users
	tokens  Tokens
	limiter *ipLimiter
	metrics *metrics.Metrics
	now     func() time.Time
}

type HandlerOption func(*Handler)

func WithClock(now func() time.Time) HandlerOption {
	return func(h *Handler) { h.now = now }
}

func WithMetrics(m *metrics.Metrics) HandlerOption {
	return func(h *Handler) { h.metrics = m }
}

func NewHandler(log *slog.Logger, cfg Config, users Users, toks Tokens, opts ...HandlerOption) (*Handler, error) {
	if users == nil || toks == nil {
		return nil, errors.New("authapi: users and tokens are required")
	}
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultConfig().MaxBodyBytes
	}
	if cfg.CookiePath == "" {
		cfg.CookiePath = DefaultConfig().CookiePath
	}

	h := &Handler{log: log, cfg: cfg, users: users, tokens: toks, now: time.Now}
	for _, o := range opts {
		if o != nil {
			o(h)
		}
	}
	h.limiter = newIPLimiter(cfg.RateRPS, cfg.RateBurst, h.now)
	return h, nil
}

// Register mounts the auth routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/auth/register", h.post(h.handleRegister))
	mux.HandleFunc("/auth/login", h.post(h.handleLogin))
	mux.HandleFunc("/auth/refresh", h.post(h.handleRefresh))
	mux.HandleFunc("/auth/logout", h.post(h.handleLogout))
}

// post enforces the method and the per-IP budget.
func (h *Handler) post(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use POST")
			return
		}
		if wait := h.limiter.reserve(clientIP(r, h.cfg.TrustProxy)); wait > 0 {
			h.metrics.RateLimited("auth")
			writeRateLimited(w, wait)
			return
		}
		next(w, r)
	}
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	ctx := r.Context()
	u, err := h.users.Register(ctx, req.Username, req.Password, req.PublicKey)
	if err != nil {
		writeServiceError(w, h.log, "auth.register", err)
		return
	}
	pair, err := h.tokens.Issue(ctx, u.ID)
	if err != nil {
		writeServiceError(w, h.log, "auth.register", err)
		return
	}

	h.setRefreshCookie(w, pair)
	h.log.Info("auth.register", "user_id", u.ID)
	writeJSON(w, http.StatusCreated, authResponse{User: toUserResponse(u), Tokens: pair})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if strings.TrimSpace(req.Username) == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "validation", "username and password are required")
		return
	}

	ctx := r.Context()
	u, err := h.users.Authenticate(ctx, req.Username, req.Password)
	if err != nil {
		writeServiceError(w, h.log, "auth.login", err)
		return
	}
	pair, err := h.tokens.Issue(ctx, u.ID)
	if err != nil {
		writeServiceError(w, h.log, "auth.login", err)
		return
	}

	h.setRefreshCookie(w, pair)
	h.log.Info("auth.login", "user_id", u.ID)
	writeJSON(w, http.StatusOK, authResponse{User: toUserResponse(u), Tokens: pair})
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	access, refresh, ok := h.pairFrom(w, r)
	if !ok {
		return
	}
	pair, err := h.tokens.Rotate(r.Context(), access, refresh)
	if err != nil {
		writeServiceError(w, h.log, "auth.refresh", err)
		return
	}
	h.setRefreshCookie(w, pair)
	writeJSON(w, http.StatusOK, refreshResponse{Tokens: pair})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	access, refresh, ok := h.pairFrom(w, r)
	if !ok {
		return
	}
	if err := h.tokens.Revoke(r.Context(), access, refresh); err != nil {
		writeServiceError(w, h.log, "auth.logout", err)
		return
	}
	h.clearRefreshCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// pairFrom collects the token pair from the body, falling back to the bearer header and the
// refresh cookie.
func (h *Handler) pairFrom(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	var req pairRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req, true); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return "", "", false
	}

	access := strings.TrimSpace(req.AccessToken)
	if access == "" {
		access = bearerToken(r)
	}
	refresh := strings.TrimSpace(req.RefreshToken)
	if refresh == "" {
		if c, err := r.Cookie(RefreshCookieName); err == nil {
			refresh = strings.TrimSpace(c.Value)
		}
	}
	if refresh == "" {
		writeError(w, http.StatusBadRequest, "validation", "refresh token is required")
		return "", "", false
	}
	return access, refresh, true
}

func (h *Handler) setRefreshCookie(w http.ResponseWriter, p tokens.Pair) {
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookieName,
		Value:    p.RefreshToken,
		Path:     h.cfg.CookiePath,
		Expires:  p.RefreshExpiresAt,
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *Handler) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookieName,
		Value:    "",
		Path:     h.cfg.CookiePath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
}

func bearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}
