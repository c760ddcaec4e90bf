package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/domain/account"
	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ACCOUNT REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// AccountRepository implements account.Repository for PostgreSQL.
type AccountRepository struct {
	conn *Connection
}

// NewAccountRepository creates a new AccountRepository.
func NewAccountRepository(conn *Connection) *AccountRepository {
	return &AccountRepository{conn: conn}
}

const accountColumns = `id, platform_id, username, first_name, last_name, display_name, created_at`

// GetByID returns an account by its UUID.
func (r *AccountRepository) GetByID(ctx context.Context, id uuid.UUID) (*account.Account, error) {
	return r.getOne(ctx, "GetByID", `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
}

// GetByPlatformID returns an account by platform id.
func (r *AccountRepository) GetByPlatformID(ctx context.Context, pid account.PlatformID) (*account.Account, error) {
	return r.getOne(ctx, "GetByPlatformID", `SELECT `+accountColumns+` FROM accounts WHERE platform_id = $1`, string(pid))
}

func (r *AccountRepository) getOne(ctx context.Context, op, query string, arg any) (*account.Account, error) {
	q, err := r.conn.q()
	if err != nil {
		return nil, classify("account", op, shared.ErrPersistence, err)
	}
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	a, err := scanAccount(q.QueryRow(ctx, query, arg))
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.NewDomainError("account", op, shared.ErrNotFound, "account not found")
		}
		return nil, classify("account", op, shared.ErrPersistence, err)
	}
	return a, nil
}

// CreateIfAbsent inserts the account unless its platform id is taken.
func (r *AccountRepository) CreateIfAbsent(ctx context.Context, a *account.Account) (bool, error) {
	q, err := r.conn.q()
	if err != nil {
		return false, classify("account", "CreateIfAbsent", shared.ErrPersistence, err)
	}
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	tag, err := q.Exec(ctx, `
		INSERT INTO accounts (id, platform_id, username, first_name, last_name, display_name, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (platform_id) DO NOTHING
	`,
		a.ID,
		platformIDParam(a.PlatformID),
		nullString(a.Username),
		nullString(a.FirstName),
		nullString(a.LastName),
		nullString(a.DisplayName),
		a.CreatedAt,
	)
	if err != nil {
		return false, classify("account", "CreateIfAbsent", shared.ErrPersistence, err)
	}
	return tag.RowsAffected() == 1, nil
}

// AttachPlatformID sets the platform id on an account that has none.
func (r *AccountRepository) AttachPlatformID(ctx context.Context, id uuid.UUID, pid account.PlatformID) (bool, error) {
	q, err := r.conn.q()
	if err != nil {
		return false, classify("account", "AttachPlatformID", shared.ErrPersistence, err)
	}
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	tag, err := q.Exec(ctx,
		`UPDATE accounts SET platform_id = $2 WHERE id = $1 AND platform_id IS NULL`,
		id, string(pid))
	if err != nil {
		return false, classify("account", "AttachPlatformID", shared.ErrPersistence, err)
	}
	return tag.RowsAffected() == 1, nil
}

func scanAccount(row pgx.Row) (*account.Account, error) {
	var (
		a                                   account.Account
		pid                                 *string
		username, first, last, displayName *string
	)
	if err := row.Scan(&a.ID, &pid, &username, &first, &last, &displayName, &a.CreatedAt); err != nil {
		return nil, err
	}
	if pid != nil {
		p := account.PlatformID(*pid)
		a.PlatformID = &p
	}
	a.Username = deref(username)
	a.FirstName = deref(first)
	a.LastName = deref(last)
	a.DisplayName = deref(displayName)
	a.CreatedAt = a.CreatedAt.UTC()
	return &a, nil
}

func platformIDParam(p *account.PlatformID) *string {
	if p == nil || *p == "" {
		return nil
	}
	s := string(*p)
	return &s
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
