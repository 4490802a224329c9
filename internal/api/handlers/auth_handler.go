package handlers

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"botdash/internal/api/middleware"
	"botdash/internal/auth"
	"botdash/internal/metrics"
	"botdash/pkg/crypto"
	"botdash/pkg/utils"
)

// CredentialChecker проверяет логин и пароль
type CredentialChecker interface {
	Check(user, password string) error
}

// TokenIssuer выпускает токены доступа
type TokenIssuer interface {
	Issue(username string) (auth.Token, error)
}

// LoginLimiter ограничивает попытки входа по ключу (IP клиента)
type LoginLimiter interface {
	Allow(key string) bool
	RetryAfter(key string) time.Duration
}

// LoginRequest тело запроса входа
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse ответ на успешный вход.
// expires_at в миллисекундах epoch, как и в сообщениях между вкладками.
type LoginResponse struct {
	Token     string                 `json:"token"`
	ExpiresAt int64                  `json:"expires_at"`
	User      map[string]interface{} `json:"user"`
}

// AuthHandler отвечает за вход оператора
//
// Endpoints:
// - POST /api/v1/auth/login - проверка пароля, выдача JWT
//
// Токен живёт столько же, сколько клиентская сессия (SESSION_TTL).
// Попытки ограничены по IP клиента; превышение - 429 с Retry-After.
type AuthHandler struct {
	credentials CredentialChecker
	issuer      TokenIssuer
	limiter     LoginLimiter
	log         *utils.Logger
}

// NewAuthHandler создает новый AuthHandler с внедрением зависимостей
func NewAuthHandler(credentials CredentialChecker, issuer TokenIssuer, limiter LoginLimiter, logger *utils.Logger) *AuthHandler {
	return &AuthHandler{
		credentials: credentials,
		issuer:      issuer,
		limiter:     limiter,
		log:         utils.OrGlobal(logger).WithComponent("auth-handler"),
	}
}

// Login проверяет учётные данные и выдаёт токен
// POST /api/v1/auth/login
//
// Request Body:
//
//	{"username": "admin", "password": "..."}
//
// Response:
// - 200 OK: {"token": "...", "expires_at": 1740862800000, "user": {"username": "admin"}}
// - 400 Bad Request: невалидное тело
// - 401 Unauthorized: неверный логин или пароль
// - 429 Too Many Requests: превышен лимит попыток
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	clientIP := middleware.ClientIP(r)

	if h.limiter != nil && !h.limiter.Allow(clientIP) {
		metrics.LoginAttempts.WithLabelValues("rate_limited").Inc()
		retry := h.limiter.RetryAfter(clientIP)
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retry.Seconds()))))
		respondWithError(w, http.StatusTooManyRequests, "rate_limited", "Too many login attempts", "")
		return
	}

	var req LoginRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_body", "Invalid request body", err.Error())
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		respondWithError(w, http.StatusBadRequest, "missing_credentials", "Username and password are required", "")
		return
	}

	if err := h.credentials.Check(req.Username, req.Password); err != nil {
		metrics.LoginAttempts.WithLabelValues("invalid").Inc()
		if !errors.Is(err, crypto.ErrPasswordMismatch) {
			h.log.Warn("Credential check failed", utils.String("client_ip", clientIP), utils.Err(err))
		}
		respondWithError(w, http.StatusUnauthorized, "invalid_credentials", "Invalid username or password", "")
		return
	}

	token, err := h.issuer.Issue(req.Username)
	if err != nil {
		h.log.Error("Failed to issue token", utils.UserID(req.Username), utils.Err(err))
		respondWithError(w, http.StatusInternalServerError, "internal_error", "Internal server error", "")
		return
	}

	metrics.LoginAttempts.WithLabelValues("success").Inc()
	h.log.Info("Operator logged in",
		utils.UserID(req.Username),
		utils.String("client_ip", clientIP),
		utils.RequestID(middleware.RequestIDFromContext(r.Context())))

	respondWithJSON(w, http.StatusOK, LoginResponse{
		Token:     token.Value,
		ExpiresAt: utils.ToMillis(token.ExpiresAt),
		User:      map[string]interface{}{"username": req.Username},
	})
}
