package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"booksoul/internal/domain"
	"booksoul/internal/integrations/openai"
)

func TestNewLLMInterpreter_ValidatesDependencies(t *testing.T) {
	_, err := NewLLMInterpreter(nil, &mockLLM{}, "/prefix")
	require.Error(t, err)

	_, err = NewLLMInterpreter(defaultParams(), nil, "/prefix")
	require.Error(t, err)

	_, err = NewLLMInterpreter(defaultParams(), &mockLLM{}, " ")
	require.Error(t, err)
}

func TestLLMInterpreter_CreateBook(t *testing.T) {
	llm := &mockLLM{answer: `{"action":"create_book","child_name":"Arsen","theme":"маленький пилот","title":"","book_id":"","note":"","question":""}`}
	in, err := NewLLMInterpreter(defaultParams(), llm, "/prefix/")
	require.NoError(t, err)

	action, err := in.Interpret(context.Background(), "сделай книгу для Arsen про маленького пилота")
	require.NoError(t, err)
	require.Equal(t, domain.CreateBook{ChildName: "Arsen", Theme: "маленький пилот"}, action)
	require.Equal(t, "gpt-4o-mini", llm.model)
	require.Len(t, llm.messages, 2)
	require.Equal(t, "system", llm.messages[0].Role)
	require.Contains(t, llm.messages[1].Content, "маленького пилота")
}

func TestLLMInterpreter_LoadsModelOnce(t *testing.T) {
	params := defaultParams()
	in, err := NewLLMInterpreter(params, &mockLLM{answer: `{"action":"unknown","question":"?"}`}, "/prefix")
	require.NoError(t, err)

	for range 3 {
		_, err := in.Interpret(context.Background(), "hi")
		require.NoError(t, err)
	}
	require.Equal(t, 1, params.calls)
}

func TestLLMInterpreter_RetriesConfigAfterTransientFailure(t *testing.T) {
	params := &transientParams{mockParams: defaultParams(), failOnce: true}
	in, err := NewLLMInterpreter(params, &mockLLM{answer: `{"action":"get_status","book_id":"bks-20260301-123045"}`}, "/prefix")
	require.NoError(t, err)

	_, err = in.Interpret(context.Background(), "статус")
	expectCode(t, err, ErrorInternal, "ssm_load_error")

	action, err := in.Interpret(context.Background(), "статус")
	require.NoError(t, err)
	require.Equal(t, domain.GetStatus{BookID: "BKS-20260301-123045"}, action)
}

func TestLLMInterpreter_UpstreamErrors(t *testing.T) {
	in, err := NewLLMInterpreter(defaultParams(), &mockLLM{err: &openai.HTTPStatusError{StatusCode: 429}}, "/prefix")
	require.NoError(t, err)
	_, err = in.Interpret(context.Background(), "x")
	expectCode(t, err, ErrorUpstream, "openai_rate_limited")

	in, err = NewLLMInterpreter(defaultParams(), &mockLLM{err: errors.New("connection reset")}, "/prefix")
	require.NoError(t, err)
	_, err = in.Interpret(context.Background(), "x")
	expectCode(t, err, ErrorUpstream, "openai_error")
}

func TestParsePlan(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want domain.Action
	}{
		{
			name: "create book with legacy author field",
			raw:  `{"action":"createBook","author":"Мила","theme":"лес","title":"Лесная сказка","language":"ru"}`,
			want: domain.CreateBook{ChildName: "Мила", Theme: "лес", Title: "Лесная сказка", Language: "ru"},
		},
		{
			name: "fenced feedback",
			raw:  "```json\n{\"action\":\"add_feedback\",\"book_id\":\"BKS-20260301-123045\",\"note\":\"добавь кота\"}\n```",
			want: domain.AddFeedback{BookID: "BKS-20260301-123045", Note: "добавь кота"},
		},
		{
			name: "unknown keeps question",
			raw:  `{"action":"unknown","question":"Для кого книга?"}`,
			want: domain.Unknown{Question: "Для кого книга?", Raw: `{"action":"unknown","question":"Для кого книга?"}`},
		},
		{
			name: "not json",
			raw:  "Конечно! Вот ваша книга.",
			want: domain.Unknown{Raw: "Конечно! Вот ваша книга."},
		},
		{
			name: "trailing data",
			raw:  `{"action":"get_status","book_id":"BKS-1"} extra`,
			want: domain.Unknown{Raw: `{"action":"get_status","book_id":"BKS-1"} extra`},
		},
		{
			name: "unsupported action",
			raw:  `{"action":"delete_book","book_id":"BKS-1"}`,
			want: domain.Unknown{Raw: `{"action":"delete_book","book_id":"BKS-1"}`},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, parsePlan(tt.raw))
		})
	}
}

func TestParsePlan_MissingFieldsAskForClarification(t *testing.T) {
	got := parsePlan(`{"action":"get_status","book_id":""}`)
	u, ok := got.(domain.Unknown)
	require.True(t, ok)
	require.NotEmpty(t, u.Question)
	require.NotEmpty(t, u.Raw)

	got = parsePlan(`{"action":"create_book","child_name":"Arsen"}`)
	u, ok = got.(domain.Unknown)
	require.True(t, ok)
	require.NotEmpty(t, u.Question)
}

func TestRulesInterpreter(t *testing.T) {
	tests := []struct {
		text string
		want domain.Action
	}{
		{"Сделай книгу для Арсена тема маленький пилот", domain.CreateBook{ChildName: "Арсена", Theme: "маленький пилот", Language: "ru"}},
		{"статус книги bks-20260301-123045", domain.GetStatus{BookID: "BKS-20260301-123045"}},
		{"правка к BKS-20260301-123045 пусть дракон будет добрым", domain.AddFeedback{BookID: "BKS-20260301-123045", Note: "пусть дракон будет добрым"}},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, err := RulesInterpreter{}.Interpret(context.Background(), tt.text)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}

	got, err := RulesInterpreter{}.Interpret(context.Background(), "привет")
	require.NoError(t, err)
	require.Equal(t, domain.Unknown{Question: rulesHint, Raw: "привет"}, got)
}
