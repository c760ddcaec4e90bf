package progress

// ══════════════════════════════════════════════════════════════════════════════
// UNLOCK ENGINE
// Последовательное открытие: первый элемент открыт всегда, i-й открыт,
// если пройден (i-1)-й. Отсутствующий агрегат (nil) считается непройденным.
// ══════════════════════════════════════════════════════════════════════════════

// SectionsUnlock вычисляет доступность разделов главы по порядку.
func SectionsUnlock(ordered []*SectionProgress) []bool {
	done := make([]bool, len(ordered))
	for i, p := range ordered {
		done[i] = p != nil && p.Completed
	}
	return unlockSequence(done)
}

// ChaptersUnlock вычисляет доступность глав по порядку.
func ChaptersUnlock(ordered []*ChapterProgress) []bool {
	done := make([]bool, len(ordered))
	for i, p := range ordered {
		done[i] = p != nil && p.Completed
	}
	return unlockSequence(done)
}

func unlockSequence(completed []bool) []bool {
	out := make([]bool, len(completed))
	for i := range completed {
		out[i] = i == 0 || completed[i-1]
	}
	return out
}
