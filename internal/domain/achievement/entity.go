// Package achievement описывает достижения ученика и правила их выдачи.
// Каждое достижение выдаётся не более одного раза на (ученик, тип, контекст).
package achievement

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/domain/progress"
)

// ══════════════════════════════════════════════════════════════════════════════
// TYPES
// ══════════════════════════════════════════════════════════════════════════════

// Type - тип достижения.
type Type string

const (
	// TypeSectionComplete - раздел пройден впервые.
	TypeSectionComplete Type = "section_complete"
	// TypeFirstSection - самый первый пройденный раздел.
	TypeFirstSection Type = "first_section"
	// TypeChapterMaster - пройдены все разделы главы.
	TypeChapterMaster Type = "chapter_master"
	// TypeAccuracy90 - точность в разделе не ниже 90%.
	TypeAccuracy90 Type = "accuracy_90"
)

// HighAccuracyThreshold - порог для TypeAccuracy90.
const HighAccuracyThreshold = 90

// AllTypes возвращает типы в порядке вычисления правил.
func AllTypes() []Type {
	return []Type{TypeSectionComplete, TypeFirstSection, TypeChapterMaster, TypeAccuracy90}
}

// IsValid проверяет, что тип известен.
func (t Type) IsValid() bool {
	switch t {
	case TypeSectionComplete, TypeFirstSection, TypeChapterMaster, TypeAccuracy90:
		return true
	default:
		return false
	}
}

// Scope - чем ограничена уникальность достижения.
type Scope int

const (
	ScopeAccount Scope = iota
	ScopeChapter
	ScopeSection
)

// Scope возвращает область уникальности для типа.
func (t Type) Scope() Scope {
	switch t {
	case TypeSectionComplete, TypeAccuracy90:
		return ScopeSection
	case TypeChapterMaster:
		return ScopeChapter
	default:
		return ScopeAccount
	}
}

// Context - глава и/или раздел, к которым относится достижение.
type Context struct {
	ChapterID *int
	SectionID *int
}

// ContextFor строит контекст для типа по известным главе и разделу.
func ContextFor(t Type, chapterID, sectionID int) Context {
	switch t.Scope() {
	case ScopeSection:
		return Context{ChapterID: intPtr(chapterID), SectionID: intPtr(sectionID)}
	case ScopeChapter:
		return Context{ChapterID: intPtr(chapterID)}
	default:
		return Context{}
	}
}

// Key возвращает ключ уникальности контекста для данного типа:
// "section:N", "chapter:N" или "" для достижений уровня ученика.
func (c Context) Key(t Type) string {
	switch t.Scope() {
	case ScopeSection:
		if c.SectionID != nil {
			return "section:" + strconv.Itoa(*c.SectionID)
		}
	case ScopeChapter:
		if c.ChapterID != nil {
			return "chapter:" + strconv.Itoa(*c.ChapterID)
		}
	}
	return ""
}

func intPtr(v int) *int { return &v }

// ══════════════════════════════════════════════════════════════════════════════
// ENTITY
// ══════════════════════════════════════════════════════════════════════════════

// Achievement - выданное достижение. После записи не изменяется.
type Achievement struct {
	AccountID uuid.UUID
	Type      Type
	Context   Context
	EarnedAt  time.Time
}

// Key - ключ уникальности в пределах ученика и типа.
func (a *Achievement) Key() string {
	return a.Context.Key(a.Type)
}

// New создаёт достижение.
func New(accountID uuid.UUID, t Type, ctx Context, now time.Time) *Achievement {
	return &Achievement{AccountID: accountID, Type: t, Context: ctx, EarnedAt: now.UTC()}
}

// ══════════════════════════════════════════════════════════════════════════════
// RULES
// ══════════════════════════════════════════════════════════════════════════════

// QualifiesSectionComplete - раздел пройден с данной точностью.
func QualifiesSectionComplete(sectionAccuracy int) bool {
	return progress.IsCompleted(sectionAccuracy)
}

// QualifiesFirstSection - раздел пройден и других пройденных разделов
// (выданных section_complete вне текущего раздела) нет.
func QualifiesFirstSection(sectionAccuracy int, otherCompletions int) bool {
	return progress.IsCompleted(sectionAccuracy) && otherCompletions == 0
}

// QualifiesChapterMaster - глава пройдена целиком.
func QualifiesChapterMaster(ch *progress.ChapterProgress) bool {
	return ch != nil && ch.Completed
}

// QualifiesAccuracy90 - точность раздела не ниже 90%.
func QualifiesAccuracy90(sectionAccuracy int) bool {
	return sectionAccuracy >= HighAccuracyThreshold
}

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// ══════════════════════════════════════════════════════════════════════════════

// Repository хранит достижения. Уникальность (ученик, тип, ключ контекста)
// обеспечивается ограничением хранилища.
type Repository interface {
	Exists(ctx context.Context, accountID uuid.UUID, t Type, key string) (bool, error)

	// Insert записывает достижение. inserted=false, если оно уже было.
	Insert(ctx context.Context, a *Achievement) (inserted bool, err error)

	// CountByType считает достижения типа, исключая указанный ключ контекста.
	CountByType(ctx context.Context, accountID uuid.UUID, t Type, excludeKey string) (int, error)

	// ListByAccount возвращает достижения в порядке получения.
	ListByAccount(ctx context.Context, accountID uuid.UUID) ([]Achievement, error)
}
