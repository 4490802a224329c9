package handlers

import (
	"context"
	"errors"
	"sync"
	"time"

	"botdash/internal/auth"
	"botdash/internal/models"
)

var ErrMockInternal = errors.New("mock internal error")

// ============ MockCredentials ============

type MockCredentials struct {
	user     string
	password string
	err      error
}

func (m *MockCredentials) Check(user, password string) error {
	if m.err != nil {
		return m.err
	}
	if user != m.user || password != m.password {
		return errMismatch
	}
	return nil
}

// ============ MockIssuer ============

type MockIssuer struct {
	expiresAt time.Time
	err       error
	issued    []string
}

func (m *MockIssuer) Issue(username string) (auth.Token, error) {
	if m.err != nil {
		return auth.Token{}, m.err
	}
	m.issued = append(m.issued, username)
	return auth.Token{Value: "token-" + username, ExpiresAt: m.expiresAt}, nil
}

// ============ MockLimiter ============

type MockLimiter struct {
	allow bool
	wait  time.Duration
	keys  []string
}

func (m *MockLimiter) Allow(key string) bool {
	m.keys = append(m.keys, key)
	return m.allow
}

func (m *MockLimiter) RetryAfter(string) time.Duration {
	return m.wait
}

// ============ MockPublisher ============

type MockPublisher struct {
	mu        sync.Mutex
	published []models.StreamEvent
	sources   []string
	err       error
}

func (m *MockPublisher) Publish(ctx context.Context, eventType string, payload interface{}, source string) (models.StreamEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return models.StreamEvent{}, m.err
	}
	ev := models.StreamEvent{
		ID:        "01JN000000000000000000000A",
		Type:      eventType,
		Data:      payload.([]byte),
		CreatedAt: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	m.published = append(m.published, ev)
	m.sources = append(m.sources, source)
	return ev, nil
}
