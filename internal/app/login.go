package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"botdash/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const loginPath = "/api/v1/auth/login"

var (
	// ErrInvalidCredentials - шлюз отклонил логин или пароль (401)
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrRateLimited - слишком много попыток входа (429)
	ErrRateLimited = errors.New("too many login attempts")
)

// Credentials - результат успешного входа
type Credentials struct {
	Token     string
	ExpiresAt time.Time
	User      map[string]interface{}
}

// Authenticator получает токен сессии по логину и паролю
type Authenticator interface {
	Login(ctx context.Context, username, password string) (Credentials, error)
}

// LoginError - неуспешный ответ шлюза на запрос входа
type LoginError struct {
	Status     int
	Code       string
	Message    string
	RetryAfter time.Duration
}

func (e *LoginError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("login failed: status %d", e.Status)
	}
	return fmt.Sprintf("login failed: %s (status %d)", e.Message, e.Status)
}

// Unwrap сопоставляет статус с sentinel ошибками
func (e *LoginError) Unwrap() error {
	switch e.Status {
	case http.StatusUnauthorized:
		return ErrInvalidCredentials
	case http.StatusTooManyRequests:
		return ErrRateLimited
	}
	return nil
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string                 `json:"token"`
	ExpiresAt int64                  `json:"expires_at"`
	User      map[string]interface{} `json:"user"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// HTTPAuthenticator выполняет POST {base}/api/v1/auth/login
type HTTPAuthenticator struct {
	baseURL string
	client  *http.Client
}

// NewHTTPAuthenticator создаёт клиента входа; client == nil - http.Client с таймаутом 10s
func NewHTTPAuthenticator(baseURL string, client *http.Client) *HTTPAuthenticator {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPAuthenticator{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

// Login отправляет учётные данные и разбирает ответ
func (a *HTTPAuthenticator) Login(ctx context.Context, username, password string) (Credentials, error) {
	body, err := json.Marshal(loginRequest{Username: username, Password: password})
	if err != nil {
		return Credentials{}, fmt.Errorf("marshal login request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+loginPath, bytes.NewReader(body))
	if err != nil {
		return Credentials{}, fmt.Errorf("create login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return Credentials{}, fmt.Errorf("login request: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Credentials{}, fmt.Errorf("read login response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		loginErr := &LoginError{Status: resp.StatusCode}
		var er errorResponse
		if json.Unmarshal(payload, &er) == nil {
			loginErr.Code = er.Code
			loginErr.Message = er.Error
		}
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
			loginErr.RetryAfter = time.Duration(secs) * time.Second
		}
		return Credentials{}, loginErr
	}

	var lr loginResponse
	if err := json.Unmarshal(payload, &lr); err != nil {
		return Credentials{}, fmt.Errorf("decode login response: %w", err)
	}
	if lr.Token == "" {
		return Credentials{}, errors.New("login response has no token")
	}

	return Credentials{
		Token:     lr.Token,
		ExpiresAt: utils.FromMillis(lr.ExpiresAt),
		User:      lr.User,
	}, nil
}
