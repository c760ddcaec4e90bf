package progress

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/domain/catalog"
)

// AccuracyPercent возвращает round(100 * correct / total). При total == 0 - 0.
func AccuracyPercent(correct, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(100 * float64(correct) / float64(total)))
}

// IsCompleted применяет порог прохождения раздела.
func IsCompleted(accuracy int) bool {
	return accuracy >= CompletionThreshold
}

// LatestPerQuestion оставляет по одному ответу на вопрос - самый поздний.
// Хранилище уже гарантирует это ключом, но агрегация не полагается на это.
func LatestPerQuestion(answers []AnswerEvent) []AnswerEvent {
	idx := make(map[int]int, len(answers))
	out := make([]AnswerEvent, 0, len(answers))
	for _, a := range answers {
		if i, ok := idx[a.QuestionID]; ok {
			if !a.AnsweredAt.Before(out[i].AnsweredAt) {
				out[i] = a
			}
			continue
		}
		idx[a.QuestionID] = len(out)
		out = append(out, a)
	}
	return out
}

// ComputeSection пересчитывает агрегат раздела из его ответов.
func ComputeSection(accountID uuid.UUID, section catalog.Section, answers []AnswerEvent, now time.Time) SectionProgress {
	distinct := LatestPerQuestion(answers)

	p := SectionProgress{
		AccountID:     accountID,
		ChapterID:     section.ChapterID,
		SectionID:     section.ID,
		AnsweredCount: len(distinct),
		UpdatedAt:     now.UTC(),
	}
	for _, a := range distinct {
		if a.IsCorrect {
			p.CorrectCount++
		}
		p.TotalTimeSec += a.TimeSpentSec
	}
	p.AccuracyPercent = AccuracyPercent(p.CorrectCount, p.AnsweredCount)
	p.Completed = IsCompleted(p.AccuracyPercent)
	return p
}

// GroupBySection раскладывает ответы по разделам.
func GroupBySection(answers []AnswerEvent) map[int][]AnswerEvent {
	out := make(map[int][]AnswerEvent)
	for _, a := range answers {
		out[a.SectionID] = append(out[a.SectionID], a)
	}
	return out
}

// ComputeChapter сворачивает агрегаты разделов в агрегат главы.
//
// sections - полный упорядоченный список разделов главы из каталога,
// bySection - агрегаты только тех разделов, где есть ответы.
// Средняя точность считается по разделам с ответами; глава пройдена,
// только если пройден каждый её раздел. Глава без разделов не пройдена.
func ComputeChapter(accountID uuid.UUID, chapterID int, sections []catalog.Section, bySection map[int]SectionProgress, now time.Time) ChapterProgress {
	cp := ChapterProgress{
		AccountID:     accountID,
		ChapterID:     chapterID,
		SectionsTotal: len(sections),
		UpdatedAt:     now.UTC(),
	}

	sum, attempted := 0, 0
	for _, s := range sections {
		sp, ok := bySection[s.ID]
		if !ok || sp.AnsweredCount == 0 {
			continue
		}
		attempted++
		sum += sp.AccuracyPercent
		cp.TotalTimeSec += sp.TotalTimeSec
		if sp.Completed {
			cp.SectionsCompleted++
		}
	}

	if attempted > 0 {
		cp.AverageAccuracyPercent = int(math.Round(float64(sum) / float64(attempted)))
	}
	cp.Completed = cp.SectionsTotal > 0 && cp.SectionsCompleted == cp.SectionsTotal
	return cp
}
