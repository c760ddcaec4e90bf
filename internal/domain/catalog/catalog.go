// Package catalog описывает учебный каталог: главы и разделы.
// Каталог ведётся внешним контент-сервисом; здесь он только читается.
package catalog

import (
	"context"
	"sort"

	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/domain/shared"
)

// Chapter - глава курса.
type Chapter struct {
	ID       int    `json:"id"`
	Title    string `json:"title"`
	Position int    `json:"position"`
}

// Section - раздел главы с теорией и вопросами.
type Section struct {
	ID        int    `json:"id"`
	ChapterID int    `json:"chapter_id"`
	Title     string `json:"title"`
	Position  int    `json:"position"`
}

// Snapshot - полный каталог, используется при импорте для локальной разработки.
type Snapshot struct {
	Chapters []Chapter `json:"chapters"`
	Sections []Section `json:"sections"`
}

// Validate проверяет ссылочную целостность снимка.
func (s Snapshot) Validate() error {
	chapters := make(map[int]struct{}, len(s.Chapters))
	for _, c := range s.Chapters {
		if c.ID <= 0 {
			return shared.NewDomainError("catalog", "Validate", shared.ErrInvalidInput, "chapter id must be positive")
		}
		chapters[c.ID] = struct{}{}
	}
	for _, sec := range s.Sections {
		if sec.ID <= 0 {
			return shared.NewDomainError("catalog", "Validate", shared.ErrInvalidInput, "section id must be positive")
		}
		if _, ok := chapters[sec.ChapterID]; !ok {
			return shared.NewDomainError("catalog", "Validate", shared.ErrInvalidInput, "section references unknown chapter")
		}
	}
	return nil
}

// SortChapters упорядочивает главы по позиции, затем по ID.
func SortChapters(chapters []Chapter) {
	sort.SliceStable(chapters, func(i, j int) bool {
		if chapters[i].Position != chapters[j].Position {
			return chapters[i].Position < chapters[j].Position
		}
		return chapters[i].ID < chapters[j].ID
	})
}

// SortSections упорядочивает разделы по позиции, затем по ID.
func SortSections(sections []Section) {
	sort.SliceStable(sections, func(i, j int) bool {
		if sections[i].Position != sections[j].Position {
			return sections[i].Position < sections[j].Position
		}
		return sections[i].ID < sections[j].ID
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// ══════════════════════════════════════════════════════════════════════════════

// Reader - доступ к каталогу только на чтение. Все списки упорядочены.
type Reader interface {
	ListChapters(ctx context.Context) ([]Chapter, error)

	// GetChapter возвращает ErrNotFound для неизвестной главы.
	GetChapter(ctx context.Context, id int) (*Chapter, error)

	// ListSections возвращает разделы главы по порядку.
	// Возвращает ErrNotFound, если главы нет; пустой список - если разделов нет.
	ListSections(ctx context.Context, chapterID int) ([]Section, error)

	// GetSection возвращает ErrNotFound для неизвестного раздела.
	GetSection(ctx context.Context, id int) (*Section, error)
}

// Importer загружает снимок каталога (upsert по ID).
type Importer interface {
	Import(ctx context.Context, snap Snapshot) error
}
