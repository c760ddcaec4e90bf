package account

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// Реализации находятся в infrastructure/persistence.
// ══════════════════════════════════════════════════════════════════════════════

// Repository определяет операции хранилища учётных записей.
type Repository interface {
	// GetByID возвращает запись по UUID.
	// Возвращает ошибку с ErrNotFound, если записи нет.
	GetByID(ctx context.Context, id uuid.UUID) (*Account, error)

	// GetByPlatformID возвращает запись по идентификатору платформы.
	// Возвращает ошибку с ErrNotFound, если записи нет.
	GetByPlatformID(ctx context.Context, pid PlatformID) (*Account, error)

	// CreateIfAbsent вставляет запись, если идентификатор платформы ещё не занят.
	// created=false означает, что запись уже существовала и вставка пропущена.
	CreateIfAbsent(ctx context.Context, a *Account) (created bool, err error)

	// AttachPlatformID привязывает идентификатор платформы к записи,
	// у которой он ещё не установлен. attached=false, если привязка уже была.
	// Возвращает ErrAlreadyExists, если идентификатор занят другой записью.
	AttachPlatformID(ctx context.Context, id uuid.UUID, pid PlatformID) (attached bool, err error)
}

// IdentityCache хранит уже разрешённые пары "платформа -> учётная запись".
// Кэш передаётся явно; глобального состояния нет.
type IdentityCache interface {
	// Get возвращает found=false при промахе.
	Get(ctx context.Context, pid PlatformID) (id uuid.UUID, found bool, err error)
	Set(ctx context.Context, pid PlatformID, id uuid.UUID, ttl time.Duration) error
	Delete(ctx context.Context, pid PlatformID) error
}
