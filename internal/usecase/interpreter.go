package usecase

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"booksoul/internal/domain"
	"booksoul/internal/metrics"
)

// Interpreter maps free text to a typed action.
type Interpreter interface {
	Interpret(ctx context.Context, text string) (domain.Action, error)
}

type ParamGetter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

type LLMClient interface {
	Chat(ctx context.Context, model string, messages []domain.ChatMessage) (string, error)
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

// LLMInterpreter asks a chat model for an action plan. The model name is
// read from SSM on first use.
type LLMInterpreter struct {
	params      ParamGetter
	llm         LLMClient
	paramPrefix string

	cacheMu     sync.RWMutex
	cacheLoaded bool
	model       string
}

func NewLLMInterpreter(p ParamGetter, llm LLMClient, paramPrefix string) (*LLMInterpreter, error) {
	if p == nil {
		return nil, errors.New("usecase: param getter must not be nil")
	}
	if llm == nil {
		return nil, errors.New("usecase: llm client must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("usecase: parameter prefix must not be empty")
	}
	return &LLMInterpreter{params: p, llm: llm, paramPrefix: paramPrefix}, nil
}

func (i *LLMInterpreter) Interpret(ctx context.Context, text string) (domain.Action, error) {
	if err := i.ensureConfig(ctx); err != nil {
		metrics.InterpreterCalls.WithLabelValues("openai", "config_error").Inc()
		return nil, newError(ErrorInternal, "ssm_load_error", err)
	}
	raw, err := i.llm.Chat(ctx, i.model, buildPlanMessages(text))
	if err != nil {
		metrics.InterpreterCalls.WithLabelValues("openai", "upstream_error").Inc()
		if status, ok := upstreamStatusCode(err); ok && status == 429 {
			return nil, newError(ErrorUpstream, "openai_rate_limited", err)
		}
		return nil, newError(ErrorUpstream, "openai_error", err)
	}
	action := parsePlan(raw)
	metrics.InterpreterCalls.WithLabelValues("openai", domain.ActionName(action)).Inc()
	return action, nil
}

func (i *LLMInterpreter) ensureConfig(ctx context.Context) error {
	i.cacheMu.RLock()
	if i.cacheLoaded {
		i.cacheMu.RUnlock()
		return nil
	}
	i.cacheMu.RUnlock()

	i.cacheMu.Lock()
	defer i.cacheMu.Unlock()
	if i.cacheLoaded {
		return nil
	}

	model, err := i.params.GetParameter(ctx, i.paramPrefix+"/config/openai_model")
	if err != nil {
		return fmt.Errorf("usecase: load openai model: %w", err)
	}
	model = strings.TrimSpace(model)
	if model == "" {
		return errors.New("usecase: openai model parameter is empty")
	}
	i.model = model
	i.cacheLoaded = true
	return nil
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}

var (
	reStatus   = regexp.MustCompile(`(?i)(статус|status).*(BKS-[0-9\-]+)`)
	reCreate   = regexp.MustCompile(`(?i)(сделай|созда(?:й|ть))\s+книгу\s+для\s+([\p{L}\p{N}_\-]+)\s+тема\s+(.+)`)
	reFeedback = regexp.MustCompile(`(?i)(заметка|правка).*(BKS-[0-9\-]+)\s+(.+)`)
)

const rulesHint = "Скажи: 'сделай книгу для ИМЯ тема ТЕМА' или 'статус книги BKS-...'"

// RulesInterpreter recognises three fixed command phrasings without a model.
type RulesInterpreter struct{}

func (RulesInterpreter) Interpret(_ context.Context, text string) (domain.Action, error) {
	action := parseRules(text)
	metrics.InterpreterCalls.WithLabelValues("rules", domain.ActionName(action)).Inc()
	return action, nil
}

func parseRules(text string) domain.Action {
	text = strings.TrimSpace(text)
	if m := reStatus.FindStringSubmatch(text); m != nil {
		return domain.GetStatus{BookID: strings.ToUpper(m[2])}
	}
	if m := reCreate.FindStringSubmatch(text); m != nil {
		return domain.CreateBook{ChildName: m[2], Theme: strings.TrimSpace(m[3]), Language: defaultLanguage}
	}
	if m := reFeedback.FindStringSubmatch(text); m != nil {
		return domain.AddFeedback{BookID: strings.ToUpper(m[2]), Note: strings.TrimSpace(m[3])}
	}
	return domain.Unknown{Question: rulesHint, Raw: text}
}
