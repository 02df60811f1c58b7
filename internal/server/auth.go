package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/golang-jwt/jwt/v5"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"constellation/internal/domain"
	"constellation/internal/engine"
	"constellation/internal/engine/auth"
	"constellation/internal/repo"
)

const defaultKeyCacheSize = 1024

type AuthConfig struct {
	JWTSecret string
	TokenTTL  time.Duration
	// KeyCacheSize bounds the resolved API key cache. Zero uses the default.
	KeyCacheSize int
	Logger       zerolog.Logger
}

func (c AuthConfig) ttl() time.Duration {
	if c.TokenTTL > 0 {
		return c.TokenTTL
	}
	return 24 * time.Hour
}

type Principal struct {
	UserID         string
	OrganizationID string
	Source         string
}

func (p Principal) Identity() auth.Identity {
	return auth.Identity{UserID: p.UserID, OrganizationID: p.OrganizationID}
}

type principalKey struct{}

func withPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func principalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

func identityFromContext(ctx context.Context) (auth.Identity, huma.StatusError) {
	if p, ok := principalFromContext(ctx); ok && p.UserID != "" {
		return p.Identity(), nil
	}
	return auth.Identity{}, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
}

type jwtClaims struct {
	jwt.RegisteredClaims
	OrganizationID string `json:"org,omitempty"`
}

// SignToken mints an HS256 token whose subject is the user id.
func SignToken(secret string, u domain.User, ttl time.Duration, now time.Time) (string, time.Time, error) {
	if strings.TrimSpace(secret) == "" {
		return "", time.Time{}, errors.New("jwt secret not configured")
	}
	expires := now.Add(ttl)
	claims := jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		OrganizationID: u.OrganizationID,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expires, nil
}

func authenticateJWT(token string, secret string) (Principal, error) {
	if strings.TrimSpace(secret) == "" {
		return Principal{}, errors.New("jwt secret not configured")
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &jwtClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return Principal{}, err
	}
	if !parsed.Valid {
		return Principal{}, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return Principal{}, errors.New("subject claim required")
	}
	return Principal{
		UserID:         claims.Subject,
		OrganizationID: claims.OrganizationID,
		Source:         "jwt",
	}, nil
}

// apiKeyCache maps key hashes to resolved principals so authenticated
// requests skip the two lookups. Entries are evicted when a key is deleted.
type apiKeyCache struct {
	entries *lru.Cache[string, Principal]
}

func newAPIKeyCache(size int) (*apiKeyCache, error) {
	if size <= 0 {
		size = defaultKeyCacheSize
	}
	c, err := lru.New[string, Principal](size)
	if err != nil {
		return nil, err
	}
	return &apiKeyCache{entries: c}, nil
}

func (c *apiKeyCache) forget(hash string) {
	if c == nil || hash == "" {
		return
	}
	c.entries.Remove(hash)
}

func authenticateAPIKey(ctx context.Context, e engine.Engine, cache *apiKeyCache, key string) (Principal, error) {
	if strings.TrimSpace(key) == "" {
		return Principal{}, errors.New("api key required")
	}
	hash := repo.HashAPIKey(key)
	if p, ok := cache.entries.Get(hash); ok {
		return p, nil
	}
	u, err := e.ResolveAPIKey(ctx, key)
	if err != nil {
		return Principal{}, err
	}
	p := Principal{
		UserID:         u.ID,
		OrganizationID: u.OrganizationID,
		Source:         "api_key",
	}
	cache.entries.Add(hash, p)
	return p, nil
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

func publicPaths(basePath string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, p := range []string{"health", "auth/signup", "auth/login", "openapi.json"} {
		out[path.Join(basePath, p)] = struct{}{}
	}
	return out
}

func newAuthMiddleware(basePath string, cfg AuthConfig, e engine.Engine, keys *apiKeyCache) func(http.Handler) http.Handler {
	public := publicPaths(basePath)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			// Only enforce for API base path.
			if basePath != "" && !strings.HasPrefix(req.URL.Path, basePath) {
				next.ServeHTTP(w, req)
				return
			}
			if _, ok := public[req.URL.Path]; ok {
				next.ServeHTTP(w, req)
				return
			}

			authz := strings.TrimSpace(req.Header.Get("Authorization"))
			apiKeyHeader := strings.TrimSpace(req.Header.Get("X-Api-Key"))
			// Browsers cannot set headers on a websocket handshake.
			if authz == "" && apiKeyHeader == "" && strings.HasSuffix(req.URL.Path, "/ws") {
				if token := strings.TrimSpace(req.URL.Query().Get("access_token")); token != "" {
					authz = "Bearer " + token
				}
			}

			if authz != "" {
				token, ok := bearerToken(authz)
				if !ok {
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "invalid credentials", nil))
					return
				}
				principal, err := authenticateJWT(token, cfg.JWTSecret)
				if err != nil {
					cfg.Logger.Debug().Err(err).Msg("jwt rejected")
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "invalid credentials", nil))
					return
				}
				next.ServeHTTP(w, req.WithContext(withPrincipal(req.Context(), principal)))
				return
			}

			if apiKeyHeader != "" {
				principal, err := authenticateAPIKey(req.Context(), e, keys, apiKeyHeader)
				if err != nil {
					if !errors.Is(err, repo.ErrNotFound) {
						cfg.Logger.Warn().Err(err).Msg("api key lookup failed")
					}
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "invalid credentials", nil))
					return
				}
				next.ServeHTTP(w, req.WithContext(withPrincipal(req.Context(), principal)))
				return
			}

			respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil))
		})
	}
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	status := http.StatusInternalServerError
	if e, ok := err.(interface{ GetStatus() int }); ok {
		status = e.GetStatus()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(err)
}
