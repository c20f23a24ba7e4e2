package usecase

import (
	"fmt"
	"strings"

	"booksoul/internal/domain"
)

const (
	replyEmptyText    = "Я получил сообщение без текста. Напиши словами, какую книгу ты хочешь 📘"
	replyFallback     = "Сейчас фабрика не смогла обработать задачу технически. Текст я не потерял 🌿"
	replyClarifyBlank = "Мне не хватает данных, чтобы сделать действие. Расскажи чуть подробнее, что нужно сделать."

	bannerCaption  = "📖 𝗕𝗼𝗼𝗸𝗦𝗼𝘂𝗹 · AI Soul Factory 🌿"
	replyWelcome   = "Привет! Я BookSoul, фабрика персональных детских книг. Напиши, для кого сделать книгу и о чём она."
	replyReconnect = "С возвращением в BookSoul 🌿 Я на месте, все книги сохранены."
	replyStillBusy = "Я всё ещё работаю над твоими задачами, как только будет готово, напишу."
)

var stageLabels = map[domain.Stage]string{
	domain.StageDraft:    "черновик",
	domain.StageWriting:  "пишем текст",
	domain.StageDrawing:  "рисуем сцены",
	domain.StageStyling:  "выравниваем стиль",
	domain.StageCover:    "делаем обложку",
	domain.StageLayout:   "вёрстка",
	domain.StageApproval: "ждёт утверждения",
	domain.StageReady:    "готова",
}

func stageLabel(s domain.Stage) string {
	if l, ok := stageLabels[s]; ok {
		return fmt.Sprintf("%s (%s)", s, l)
	}
	return string(s)
}

func replyBookStarted(b domain.Book) string {
	return fmt.Sprintf(
		"Я запустил новую книгу для %s.\nТема: %s.\nID книги: %s.\nСценарий уходит в StoryWriter. Дальше я не двину без твоего утверждения текста.",
		b.ChildName, b.Theme, b.ID,
	)
}

func replyFeedbackRecorded(bookID, note string) string {
	return fmt.Sprintf("Я записал правку к книге %s:\n«%s».\nДальше не двигаю, пока ты не скажешь «утверждаю».", bookID, note)
}

func replyBookNotFound(bookID string) string {
	return fmt.Sprintf("Книга %s не найдена.", bookID)
}

func replyClarify(u domain.Unknown) string {
	q := strings.TrimSpace(u.Question)
	if q == "" {
		return replyClarifyBlank
	}
	return "Мне не хватает данных, чтобы сделать действие.\nУточни, пожалуйста: " + q
}

func replyStatus(st BookStatus) string {
	dash := func(s string) string {
		if s == "" {
			return "—"
		}
		return s
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Книга %s\n", st.Book.ID)
	if st.Book.Title != "" {
		fmt.Fprintf(&b, "Название: %s\n", st.Book.Title)
	}
	fmt.Fprintf(&b, "Герой: %s\n", st.Book.ChildName)
	fmt.Fprintf(&b, "Тема: %s\n", st.Book.Theme)
	fmt.Fprintf(&b, "Статус: %s\n", stageLabel(st.Book.Status))
	fmt.Fprintf(&b, "Сцен: %d, готово: %d\n", st.ScenesCount, st.ScenesReady)
	fmt.Fprintf(&b, "PDF: %s\n", dash(st.Book.PdfURL))
	fmt.Fprintf(&b, "Обложка: %s", dash(st.Book.CoverURL))
	return b.String()
}

func replyStageReached(bookID string, stage domain.Stage) string {
	return fmt.Sprintf("Книга %s перешла на этап: %s.", bookID, stageLabel(stage))
}
