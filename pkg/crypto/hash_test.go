package crypto

import (
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

// TestHashPasswordWithCost проверяет хеширование и приведение cost к диапазону
func TestHashPasswordWithCost(t *testing.T) {
	tests := []struct {
		name         string
		password     string
		cost         int
		expectedCost int
	}{
		{"simple password", "password123", bcrypt.MinCost, bcrypt.MinCost},
		{"unicode password", "пароль123", bcrypt.MinCost, bcrypt.MinCost},
		{"long password", strings.Repeat("a", 72), bcrypt.MinCost, bcrypt.MinCost},
		{"below min - clamped", "password", 0, bcrypt.MinCost},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hash, err := HashPasswordWithCost(tt.password, tt.cost)
			if err != nil {
				t.Fatalf("HashPasswordWithCost failed: %v", err)
			}

			if !strings.HasPrefix(hash, "$2a$") && !strings.HasPrefix(hash, "$2b$") {
				t.Errorf("Hash should start with bcrypt prefix, got: %s", hash)
			}

			actualCost, _ := GetHashCost(hash)
			if actualCost != tt.expectedCost {
				t.Errorf("Got cost %d, want %d", actualCost, tt.expectedCost)
			}

			if err := VerifyPassword(tt.password, hash); err != nil {
				t.Errorf("VerifyPassword: %v", err)
			}
		})
	}
}

// TestHashPasswordErrors проверяет ошибки входных данных
func TestHashPasswordErrors(t *testing.T) {
	if _, err := HashPassword(""); err != ErrEmptyPassword {
		t.Errorf("empty: got %v, want %v", err, ErrEmptyPassword)
	}
	if _, err := HashPasswordWithCost(strings.Repeat("a", 73), bcrypt.MinCost); err != ErrPasswordTooLong {
		t.Errorf("too long: got %v, want %v", err, ErrPasswordTooLong)
	}
}

// TestVerifyPassword проверяет верификацию пароля
func TestVerifyPassword(t *testing.T) {
	hash, _ := HashPasswordWithCost("correctpassword", bcrypt.MinCost)

	tests := []struct {
		name     string
		password string
		hash     string
		want     error
	}{
		{"correct", "correctpassword", hash, nil},
		{"wrong password", "wrongpassword", hash, ErrPasswordMismatch},
		{"empty password", "", hash, ErrEmptyPassword},
		{"empty hash", "password", "", ErrInvalidHash},
		{"random string", "password", "notahash", ErrInvalidHash},
		{"truncated hash", "password", "$2a$12$abc", ErrInvalidHash},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := VerifyPassword(tt.password, tt.hash); err != tt.want {
				t.Errorf("VerifyPassword() = %v, want %v", err, tt.want)
			}
		})
	}
}

// TestDefaultCost проверяет что дефолтный cost соответствует ожиданиям
func TestDefaultCost(t *testing.T) {
	if DefaultCost < 10 {
		t.Errorf("DefaultCost %d is too low for production use", DefaultCost)
	}
	if DefaultCost > 14 {
		t.Errorf("DefaultCost %d may cause performance issues", DefaultCost)
	}
}

// TestCredentials проверяет проверку логина и пароля оператора
func TestCredentials(t *testing.T) {
	hash, _ := HashPasswordWithCost("s3cret", bcrypt.MinCost)
	creds, err := NewCredentials("admin", hash)
	if err != nil {
		t.Fatalf("NewCredentials: %v", err)
	}
	if creds.User() != "admin" {
		t.Errorf("User() = %s, want admin", creds.User())
	}

	tests := []struct {
		name     string
		user     string
		password string
		want     error
	}{
		{"valid", "admin", "s3cret", nil},
		{"wrong password", "admin", "nope", ErrPasswordMismatch},
		{"unknown user", "root", "s3cret", ErrPasswordMismatch},
		{"empty password", "admin", "", ErrEmptyPassword},
		{"too long", "admin", strings.Repeat("x", 73), ErrPasswordTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := creds.Check(tt.user, tt.password); err != tt.want {
				t.Errorf("Check() = %v, want %v", err, tt.want)
			}
		})
	}
}

// TestNewCredentialsInvalidHash проверяет отказ на невалидном хеше
func TestNewCredentialsInvalidHash(t *testing.T) {
	if _, err := NewCredentials("admin", "plain-text"); err != ErrInvalidHash {
		t.Errorf("NewCredentials() error = %v, want %v", err, ErrInvalidHash)
	}
}

// BenchmarkVerifyPassword измеряет производительность верификации
func BenchmarkVerifyPassword(b *testing.B) {
	password := "benchmarkpassword123"
	hash, _ := HashPasswordWithCost(password, bcrypt.MinCost)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = VerifyPassword(password, hash)
	}
}
