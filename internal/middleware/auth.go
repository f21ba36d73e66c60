// Package middleware содержит HTTP middleware аукционного сервиса.
package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"time"
)

type contextKey string

const actorKey contextKey = "actor"

const (
	authCookieName = "auth_token"
	authCookieTTL  = 30 * 24 * time.Hour
	bearerPrefix   = "Bearer "
)

// Role задаёт роль субъекта запроса.
type Role string

// Роли субъектов.
const (
	RoleVendor Role = "vendor"
	RoleAdmin  Role = "admin"
)

// Actor описывает аутентифицированного субъекта запроса.
type Actor struct {
	ID   string
	Role Role
}

// AuthMiddleware проверяет подписанный токен субъекта из cookie или заголовка Authorization.
type AuthMiddleware struct {
	secretKey []byte
}

// NewAuthMiddleware создаёт новый экземпляр AuthMiddleware с указанным секретным ключом.
// Без ключа генерируется случайный, и токены живут до перезапуска процесса.
func NewAuthMiddleware(secret string) *AuthMiddleware {
	key := []byte(secret)
	if len(key) == 0 {
		randomKey := make([]byte, 32)
		if _, err := rand.Read(randomKey); err == nil {
			key = randomKey
		} else {
			key = []byte("default-secret-key")
		}
	}

	return &AuthMiddleware{
		secretKey: key,
	}
}

// Middleware пропускает запрос с валидным токеном и кладёт субъекта в контекст.
func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok := a.actorFromRequest(r)
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), actorKey, actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole пропускает только субъектов с указанной ролью. Ставится после Middleware.
func RequireRole(role Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := ActorFromContext(r.Context())
			if !ok {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
			if actor.Role != role {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SetAuthCookie устанавливает cookie авторизации для субъекта.
func (a *AuthMiddleware) SetAuthCookie(w http.ResponseWriter, actor Actor) {
	cookie := &http.Cookie{
		Name:     authCookieName,
		Value:    a.Sign(actor),
		Path:     "/",
		Expires:  time.Now().Add(authCookieTTL),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}

	http.SetCookie(w, cookie)
}

// Sign возвращает токен вида "role:id.signature".
func (a *AuthMiddleware) Sign(actor Actor) string {
	payload := string(actor.Role) + ":" + actor.ID
	return payload + "." + a.signature(payload)
}

func (a *AuthMiddleware) signature(payload string) string {
	mac := hmac.New(sha256.New, a.secretKey)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func (a *AuthMiddleware) actorFromRequest(r *http.Request) (Actor, bool) {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, bearerPrefix) {
		return a.parseToken(strings.TrimPrefix(h, bearerPrefix))
	}

	cookie, err := r.Cookie(authCookieName)
	if err != nil {
		return Actor{}, false
	}
	return a.parseToken(cookie.Value)
}

func (a *AuthMiddleware) parseToken(token string) (Actor, bool) {
	idx := strings.LastIndex(token, ".")
	if idx <= 0 {
		return Actor{}, false
	}
	payload, sig := token[:idx], token[idx+1:]

	if !hmac.Equal([]byte(sig), []byte(a.signature(payload))) {
		return Actor{}, false
	}

	role, id, ok := strings.Cut(payload, ":")
	if !ok || id == "" {
		return Actor{}, false
	}

	switch Role(role) {
	case RoleVendor, RoleAdmin:
	default:
		return Actor{}, false
	}

	return Actor{ID: id, Role: Role(role)}, true
}

// ActorFromContext извлекает субъекта из контекста запроса.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorKey).(Actor)
	return actor, ok
}

// WithActor кладёт субъекта в контекст.
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}
