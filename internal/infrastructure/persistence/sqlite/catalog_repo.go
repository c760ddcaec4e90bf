package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/domain/catalog"
	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/domain/shared"
)

// CatalogRepository implements catalog.Reader and catalog.Importer.
type CatalogRepository struct {
	db *sql.DB
}

// ListChapters returns all chapters in course order.
func (r *CatalogRepository) ListChapters(ctx context.Context) ([]catalog.Chapter, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, title, position FROM chapters ORDER BY position, id`)
	if err != nil {
		return nil, classify("catalog", "ListChapters", shared.ErrPersistence, err)
	}
	defer rows.Close()

	var out []catalog.Chapter
	for rows.Next() {
		var c catalog.Chapter
		if err := rows.Scan(&c.ID, &c.Title, &c.Position); err != nil {
			return nil, classify("catalog", "ListChapters", shared.ErrPersistence, err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("catalog", "ListChapters", shared.ErrPersistence, err)
	}
	return out, nil
}

// GetChapter returns a chapter or ErrNotFound.
func (r *CatalogRepository) GetChapter(ctx context.Context, id int) (*catalog.Chapter, error) {
	var c catalog.Chapter
	err := r.db.QueryRowContext(ctx, `SELECT id, title, position FROM chapters WHERE id = ?`, id).
		Scan(&c.ID, &c.Title, &c.Position)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
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

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, chapter_id, title, position FROM sections WHERE chapter_id = ? ORDER BY position, id`, chapterID)
	if err != nil {
		return nil, classify("catalog", "ListSections", shared.ErrPersistence, err)
	}
	defer rows.Close()

	out := []catalog.Section{}
	for rows.Next() {
		var s catalog.Section
		if err := rows.Scan(&s.ID, &s.ChapterID, &s.Title, &s.Position); err != nil {
			return nil, classify("catalog", "ListSections", shared.ErrPersistence, err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("catalog", "ListSections", shared.ErrPersistence, err)
	}
	return out, nil
}

// GetSection returns a section or ErrNotFound.
func (r *CatalogRepository) GetSection(ctx context.Context, id int) (*catalog.Section, error) {
	var s catalog.Section
	err := r.db.QueryRowContext(ctx, `SELECT id, chapter_id, title, position FROM sections WHERE id = ?`, id).
		Scan(&s.ID, &s.ChapterID, &s.Title, &s.Position)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
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

	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		for _, c := range snap.Chapters {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO chapters (id, title, position) VALUES (?, ?, ?)
				ON CONFLICT (id) DO UPDATE SET title = excluded.title, position = excluded.position
			`, c.ID, c.Title, c.Position); err != nil {
				return err
			}
		}
		for _, s := range snap.Sections {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO sections (id, chapter_id, title, position) VALUES (?, ?, ?, ?)
				ON CONFLICT (id) DO UPDATE SET
					chapter_id = excluded.chapter_id, title = excluded.title, position = excluded.position
			`, s.ID, s.ChapterID, s.Title, s.Position); err != nil {
				return err
			}
		}
		return nil
	})
	return classify("catalog", "Import", shared.ErrPersistence, err)
}
