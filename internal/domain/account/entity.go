// Package account содержит доменную модель учётной записи ученика.
// Учётная запись связывает временный идентификатор чат-платформы
// со стабильным UUID, на который ссылается весь прогресс.
package account

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// PlatformID - идентификатор пользователя на чат-платформе (десятичная строка).
type PlatformID string

// IsValid проверяет, что идентификатор состоит только из цифр.
func (p PlatformID) IsValid() bool {
	s := string(p)
	if s == "" || len(s) > 32 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// String возвращает строковое представление.
func (p PlatformID) String() string {
	return string(p)
}

// Hint - необязательные данные профиля, которые платформа присылает вместе с ID.
type Hint struct {
	Username  string
	FirstName string
	LastName  string
}

// DisplayName выбирает отображаемое имя: username, иначе "имя фамилия".
func (h Hint) DisplayName() string {
	if u := strings.TrimSpace(h.Username); u != "" {
		return u
	}
	return strings.TrimSpace(strings.TrimSpace(h.FirstName) + " " + strings.TrimSpace(h.LastName))
}

// ParseID разбирает идентификатор учётной записи.
// Числовые строки - это сырые идентификаторы платформы, их принимать нельзя:
// возвращается ошибка ErrIdentityNotResolved.
func ParseID(s string) (uuid.UUID, error) {
	s = strings.TrimSpace(s)
	if PlatformID(s).IsValid() {
		return uuid.Nil, shared.NewDomainError("account", "ParseID", shared.ErrIdentityNotResolved,
			"raw platform id passed where account id is required")
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, shared.WrapError("account", "ParseID", shared.ErrIdentityNotResolved,
			"malformed account id", err)
	}
	if id == uuid.Nil {
		return uuid.Nil, shared.NewDomainError("account", "ParseID", shared.ErrIdentityNotResolved,
			"nil account id")
	}
	return id, nil
}

// RequireID проверяет, что ID учётной записи задан.
func RequireID(op string, id uuid.UUID) error {
	if id == uuid.Nil {
		return shared.NewDomainError("account", op, shared.ErrIdentityNotResolved, "account id is not resolved")
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ENTITY
// ══════════════════════════════════════════════════════════════════════════════

// Account - учётная запись ученика.
type Account struct {
	// ID - стабильный идентификатор, генерируется один раз.
	ID uuid.UUID

	// PlatformID - идентификатор платформы. Может отсутствовать у старых
	// записей; после установки не меняется и уникален.
	PlatformID *PlatformID

	Username    string
	FirstName   string
	LastName    string
	DisplayName string

	CreatedAt time.Time
}

// New создаёт учётную запись для впервые увиденного идентификатора платформы.
func New(pid PlatformID, hint Hint, now time.Time) (*Account, error) {
	if !pid.IsValid() {
		return nil, shared.NewDomainError("account", "New", shared.ErrInvalidInput, "invalid platform id")
	}
	p := pid
	return &Account{
		ID:          uuid.New(),
		PlatformID:  &p,
		Username:    strings.TrimSpace(hint.Username),
		FirstName:   strings.TrimSpace(hint.FirstName),
		LastName:    strings.TrimSpace(hint.LastName),
		DisplayName: hint.DisplayName(),
		CreatedAt:   now.UTC(),
	}, nil
}

// HasPlatformID сообщает, привязан ли к записи идентификатор платформы.
func (a *Account) HasPlatformID() bool {
	return a.PlatformID != nil && *a.PlatformID != ""
}
