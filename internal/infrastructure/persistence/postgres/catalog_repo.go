package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/domain/catalog"
	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// CATALOG REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// CatalogRepository implements catalog.Reader and catalog.Importer.
type CatalogRepository struct {
	conn *Connection
}

// NewCatalogRepository creates a new CatalogRepository.
func NewCatalogRepository(conn *Connection) *CatalogRepository {
	return &CatalogRepository{conn: conn}
}

// ListChapters returns all chapters in course order.
func (r *CatalogRepository) ListChapters(ctx context.Context) ([]catalog.Chapter, error) {
	q, err := r.conn.q()
	if err != nil {
		return nil, classify("catalog", "ListChapters", shared.ErrPersistence, err)
	}
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	rows, err := q.Query(ctx, `SELECT id, title, position FROM chapters ORDER BY position, id`)
	if err != nil {
		return nil, classify("catalog", "ListChapters", shared.ErrPersistence, err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (catalog.Chapter, error) {
		var c catalog.Chapter
		err := row.Scan(&c.ID, &c.Title, &c.Position)
		return c, err
	})
	if err != nil {
		return nil, classify("catalog", "ListChapters", shared.ErrPersistence, err)
	}
	return out, nil
}

// GetChapter returns a chapter or ErrNotFound.
func (r *CatalogRepository) GetChapter(ctx context.Context, id int) (*catalog.Chapter, error) {
	q, err := r.conn.q()
	if err != nil {
		return nil, classify("catalog", "GetChapter", shared.ErrPersistence, err)
	}
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	var c catalog.Chapter
	err = q.QueryRow(ctx, `SELECT id, title, position FROM chapters WHERE id = $1`, id).
		Scan(&c.ID, &c.Title, &c.Position)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.NewDomainError("catalog", "GetChapter", shared.ErrNotFound, "chapter not found")
		}
		return nil, classify("catalog", "GetChapter", shared.ErrPersistence, err)
	}
	return &c, nil
}

// ListSections returns the sections of a chapter in order.
// Unknown chapters yield ErrNotFound.
func (r *CatalogRepository) ListSections(ctx context.Context, chapterID int) ([]catalog.Section, error) {
	if _, err := r.GetChapter(ctx, chapterID); err != nil {
		return nil, err
	}

	q, err := r.conn.q()
	if err != nil {
		return nil, classify("catalog", "ListSections", shared.ErrPersistence, err)
	}
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	rows, err := q.Query(ctx,
		`SELECT id, chapter_id, title, position FROM sections WHERE chapter_id = $1 ORDER BY position, id`,
		chapterID)
	if err != nil {
		return nil, classify("catalog", "ListSections", shared.ErrPersistence, err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (catalog.Section, error) {
		var s catalog.Section
		err := row.Scan(&s.ID, &s.ChapterID, &s.Title, &s.Position)
		return s, err
	})
	if err != nil {
		return nil, classify("catalog", "ListSections", shared.ErrPersistence, err)
	}
	return out, nil
}

// GetSection returns a section or ErrNotFound.
func (r *CatalogRepository) GetSection(ctx context.Context, id int) (*catalog.Section, error) {
	q, err := r.conn.q()
	if err != nil {
		return nil, classify("catalog", "GetSection", shared.ErrPersistence, err)
	}
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	var s catalog.Section
	err = q.QueryRow(ctx, `SELECT id, chapter_id, title, position FROM sections WHERE id = $1`, id).
		Scan(&s.ID, &s.ChapterID, &s.Title, &s.Position)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.NewDomainError("catalog", "GetSection", shared.ErrNotFound, "section not found")
		}
		return nil, classify("catalog", "GetSection", shared.ErrPersistence, err)
	}
	return &s, nil
}

// Import upserts a catalog snapshot in one transaction.
func (r *CatalogRepository) Import(ctx context.Context, snap catalog.Snapshot) error {
	if err := snap.Validate(); err != nil {
		return err
	}

	err := r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, c := range snap.Chapters {
			batch.Queue(`
				INSERT INTO chapters (id, title, position) VALUES ($1, $2, $3)
				ON CONFLICT (id) DO UPDATE SET title = EXCLUDED.title, position = EXCLUDED.position
			`, c.ID, c.Title, c.Position)
		}
		for _, s := range snap.Sections {
			batch.Queue(`
				INSERT INTO sections (id, chapter_id, title, position) VALUES ($1, $2, $3, $4)
				ON CONFLICT (id) DO UPDATE SET
					chapter_id = EXCLUDED.chapter_id, title = EXCLUDED.title, position = EXCLUDED.position
			`, s.ID, s.ChapterID, s.Title, s.Position)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	return classify("catalog", "Import", shared.ErrPersistence, err)
}
