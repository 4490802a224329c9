package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"botdash/internal/auth"
	"botdash/pkg/utils"
)

type claimsKey struct{}

// AccessTokenParam - имя query параметра и cookie с токеном.
// EventSource в браузере не умеет слать заголовки, поэтому стрим
// принимает токен и так.
const AccessTokenParam = "access_token"

// TokenValidator проверяет токен доступа
type TokenValidator interface {
	Validate(token string) (*auth.Claims, error)
}

// ClaimsFromContext возвращает claims аутентифицированного запроса
func ClaimsFromContext(ctx context.Context) (*auth.Claims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(*auth.Claims)
	return claims, ok
}

// Auth - middleware для аутентификации запросов
//
// Назначение:
// Проверяет JWT токен и кладёт claims в context запроса.
//
// Источники токена (по порядку):
// 1. Authorization: Bearer <token>
// 2. ?access_token=<token>
// 3. cookie access_token
//
// Ответы:
// - 401 token_missing: токена нет
// - 401 token_expired: срок истёк (клиент завершает сессию)
// - 401 token_invalid: подпись / формат
func Auth(validator TokenValidator, logger *utils.Logger) func(http.Handler) http.Handler {
	log := utils.OrGlobal(logger).WithComponent("auth")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractToken(r)
			if token == "" {
				unauthorized(w, "token_missing", "Authentication required")
				return
			}

			claims, err := validator.Validate(token)
			if err != nil {
				if errors.Is(err, auth.ErrTokenExpired) {
					unauthorized(w, "token_expired", "Token expired")
					return
				}
				log.Debug("Rejected token",
					utils.String("path", r.URL.Path),
					utils.RequestID(RequestIDFromContext(r.Context())),
					utils.Err(err))
				unauthorized(w, "token_invalid", "Invalid token")
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func extractToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	if token := r.URL.Query().Get(AccessTokenParam); token != "" {
		return token
	}
	if cookie, err := r.Cookie(AccessTokenParam); err == nil {
		return cookie.Value
	}
	return ""
}

func unauthorized(w http.ResponseWriter, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="botdash"`)
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + message + `","code":"` + code + `"}`))
}
