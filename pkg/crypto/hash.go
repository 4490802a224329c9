package crypto

import (
	"crypto/subtle"
	"errors"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// Ошибки хеширования
var (
	ErrEmptyPassword    = errors.New("password cannot be empty")
	ErrPasswordMismatch = errors.New("password does not match hash")
	ErrInvalidHash      = errors.New("invalid password hash format")
	ErrPasswordTooLong  = errors.New("password exceeds maximum length of 72 bytes")
)

// DefaultCost - стоимость хеширования по умолчанию
const DefaultCost = 12

// MaxPasswordLength - максимальная длина пароля для bcrypt (72 байта)
const MaxPasswordLength = 72

// HashPassword хеширует пароль с DefaultCost
func HashPassword(password string) (string, error) {
	return HashPasswordWithCost(password, DefaultCost)
}

// HashPasswordWithCost хеширует пароль с указанной стоимостью
// cost приводится к диапазону bcrypt.MinCost..bcrypt.MaxCost
func HashPasswordWithCost(password string, cost int) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}

	// bcrypt ограничен 72 байтами
	if len(password) > MaxPasswordLength {
		return "", ErrPasswordTooLong
	}

	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}

	return string(hash), nil
}

// VerifyPassword проверяет соответствие пароля хешу
func VerifyPassword(password, hash string) error {
	if password == "" {
		return ErrEmptyPassword
	}

	if hash == "" {
		return ErrInvalidHash
	}

	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrPasswordMismatch
		}
		// Невалидный формат хеша или другая ошибка
		return ErrInvalidHash
	}

	return nil
}

// GetHashCost извлекает cost из существующего хеша
func GetHashCost(hash string) (int, error) {
	if hash == "" {
		return 0, ErrInvalidHash
	}

	cost, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		return 0, ErrInvalidHash
	}

	return cost, nil
}

// ============================================================
// Credentials - учётная запись оператора шлюза
// ============================================================

// Credentials проверяет пару логин/пароль против bcrypt хеша из конфигурации
//
// Неизвестный логин проверяется против фиктивного хеша той же стоимости,
// чтобы время ответа не выдавало существование пользователя.
type Credentials struct {
	user string
	hash string

	dummyOnce sync.Once
	dummy     string
}

// NewCredentials создаёт проверку для одного пользователя
func NewCredentials(user, hash string) (*Credentials, error) {
	if _, err := GetHashCost(hash); err != nil {
		return nil, err
	}
	return &Credentials{user: user, hash: hash}, nil
}

// User возвращает имя пользователя
func (c *Credentials) User() string {
	return c.user
}

// Check возвращает nil, если логин и пароль верны.
// Для неверного логина и неверного пароля ошибка одна: ErrPasswordMismatch.
func (c *Credentials) Check(user, password string) error {
	if password == "" {
		return ErrEmptyPassword
	}
	if len(password) > MaxPasswordLength {
		return ErrPasswordTooLong
	}

	if subtle.ConstantTimeCompare([]byte(user), []byte(c.user)) != 1 {
		VerifyPassword(password, c.dummyHash())
		return ErrPasswordMismatch
	}

	return VerifyPassword(password, c.hash)
}

func (c *Credentials) dummyHash() string {
	c.dummyOnce.Do(func() {
		cost, _ := GetHashCost(c.hash)
		c.dummy, _ = HashPasswordWithCost("botdash-dummy-password", cost)
	})
	return c.dummy
}
