package usecase

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"booksoul/internal/domain"
)

// planResponse is the flat object the planner model returns. author is the
// older name for child_name and is still accepted.
type planResponse struct {
	Action    string `json:"action"`
	ChildName string `json:"child_name"`
	Author    string `json:"author"`
	Theme     string `json:"theme"`
	Title     string `json:"title"`
	Language  string `json:"language"`
	BookID    string `json:"book_id"`
	Note      string `json:"note"`
	Question  string `json:"question"`
}

func buildPlanMessages(text string) []domain.ChatMessage {
	return []domain.ChatMessage{
		{Role: "system", Content: buildPlannerPrompt()},
		{Role: "user", Content: fmt.Sprintf("Запрос пользователя:\n'''%s'''\n\nВерни только один JSON-объект с полями команды, без пояснений.", strings.TrimSpace(text))},
	}
}

func buildPlannerPrompt() string {
	return strings.Join([]string{
		"Ты планировщик действий для производственной линии BookSoul.",
		"Твоя задача понять запрос человека и вернуть ТОЛЬКО JSON-команду для выполнения.",
		"",
		"Команды:",
		commandRules(),
		"",
		"Формат ответа:",
		outputContractRU(),
	}, "\n")
}

func commandRules() string {
	return strings.Join([]string{
		"1) create_book: новая детская книга. Поля child_name (имя ребёнка, главный герой) и theme (тема сказки), title по желанию.",
		"   Если пользователь пишет 'создай книгу для Арсена', child_name = 'Арсен'. Не задавай уточняющих вопросов.",
		"2) add_feedback: правка к книге. Поля book_id (вида BKS-YYYYMMDD-HHMMSS) и note (текст правки).",
		"3) get_status: статус книги. Поле book_id.",
		"4) unknown: намерение не ясно. Поле question: что нужно уточнить.",
	}, "\n")
}

func outputContractRU() string {
	return "Верни объект с ключами action, child_name, theme, title, book_id, note, question. " +
		"Неиспользуемые поля оставь пустой строкой. Никакого текста вне JSON."
}

// parsePlan decodes the planner output into an action. It never fails:
// anything it cannot turn into a complete command becomes Unknown carrying
// the raw output.
func parsePlan(raw string) domain.Action {
	var p planResponse
	body := stripCodeFence(raw)
	dec := json.NewDecoder(bytes.NewBufferString(body))
	if err := dec.Decode(&p); err != nil {
		return domain.Unknown{Raw: raw}
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return domain.Unknown{Raw: raw}
	}

	switch normalizeActionName(p.Action) {
	case "createbook":
		child := firstNonEmpty(p.ChildName, p.Author)
		theme := strings.TrimSpace(p.Theme)
		if child == "" || theme == "" {
			return domain.Unknown{Question: "Для кого книга и какая у неё тема?", Raw: raw}
		}
		return domain.CreateBook{ChildName: child, Theme: theme, Title: strings.TrimSpace(p.Title), Language: strings.TrimSpace(p.Language)}
	case "addfeedback":
		id, note := normalizeBookID(p.BookID), strings.TrimSpace(p.Note)
		if id == "" || note == "" {
			return domain.Unknown{Question: "К какой книге (BKS-...) относится правка и что поменять?", Raw: raw}
		}
		return domain.AddFeedback{BookID: id, Note: note}
	case "getstatus":
		id := normalizeBookID(p.BookID)
		if id == "" {
			return domain.Unknown{Question: "Какой ID книги (BKS-...) проверить?", Raw: raw}
		}
		return domain.GetStatus{BookID: id}
	case "unknown":
		return domain.Unknown{Question: strings.TrimSpace(p.Question), Raw: raw}
	default:
		return domain.Unknown{Raw: raw}
	}
}

// normalizeActionName folds create_book, createBook and CREATE-BOOK to one key.
func normalizeActionName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer("_", "", "-", "", " ", "").Replace(s)
}

func normalizeBookID(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

func stripCodeFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
