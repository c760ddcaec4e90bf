package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/domain/account"
	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/domain/shared"
)

// AccountRepository implements account.Repository.
type AccountRepository struct {
	db *sql.DB
}

const accountColumns = `id, platform_id, username, first_name, last_name, display_name, created_at`

// GetByID returns an account by its UUID.
func (r *AccountRepository) GetByID(ctx context.Context, id uuid.UUID) (*account.Account, error) {
	return r.getOne(ctx, "GetByID", `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id.String())
}

// GetByPlatformID returns an account by platform id.
func (r *AccountRepository) GetByPlatformID(ctx context.Context, pid account.PlatformID) (*account.Account, error) {
	return r.getOne(ctx, "GetByPlatformID", `SELECT `+accountColumns+` FROM accounts WHERE platform_id = ?`, string(pid))
}

func (r *AccountRepository) getOne(ctx context.Context, op, query string, arg any) (*account.Account, error) {
	var (
		a                                   account.Account
		id                                  string
		pid, username, first, last, display sql.NullString
		created                             int64
	)
	err := r.db.QueryRowContext(ctx, query, arg).
		Scan(&id, &pid, &username, &first, &last, &display, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, shared.NewDomainError("account", op, shared.ErrNotFound, "account not found")
		}
		return nil, classify("account", op, shared.ErrPersistence, err)
	}

	a.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, shared.WrapError("account", op, shared.ErrPersistence, "corrupt account id", err)
	}
	if pid.Valid {
		p := account.PlatformID(pid.String)
		a.PlatformID = &p
	}
	a.Username = username.String
	a.FirstName = first.String
	a.LastName = last.String
	a.DisplayName = display.String
	a.CreatedAt = fromNanos(created)
	return &a, nil
}

// CreateIfAbsent inserts the account unless its platform id is taken.
func (r *AccountRepository) CreateIfAbsent(ctx context.Context, a *account.Account) (bool, error) {
	var pid any
	if a.HasPlatformID() {
		pid = string(*a.PlatformID)
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO accounts (id, platform_id, username, first_name, last_name, display_name, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (platform_id) DO NOTHING
	`, a.ID.String(), pid, nullable(a.Username), nullable(a.FirstName), nullable(a.LastName),
		nullable(a.DisplayName), toNanos(a.CreatedAt))
	if err != nil {
		return false, classify("account", "CreateIfAbsent", shared.ErrPersistence, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, classify("account", "CreateIfAbsent", shared.ErrPersistence, err)
	}
	return n == 1, nil
}

// AttachPlatformID sets the platform id on an account that has none.
func (r *AccountRepository) AttachPlatformID(ctx context.Context, id uuid.UUID, pid account.PlatformID) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET platform_id = ? WHERE id = ? AND platform_id IS NULL`,
		string(pid), id.String())
	if err != nil {
		return false, classify("account", "AttachPlatformID", shared.ErrPersistence, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, classify("account", "AttachPlatformID", shared.ErrPersistence, err)
	}
	return n == 1, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
