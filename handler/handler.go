package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"booksoul/internal/usecase"
)

type IntakeUseCase interface {
	OnEvent(ctx context.Context, ev usecase.Event) (usecase.Ack, error)
}

// Handler accepts Telegram webhook updates. It answers 200 for every request
// so Telegram never retries; duplicates and failures are absorbed behind it.
// Accepted events are processed by background tasks after the response, so
// the handler must run in a long-lived process.
type Handler struct {
	intake IntakeUseCase
	log    *slog.Logger
}

func NewHandler(intake IntakeUseCase, log *slog.Logger) (*Handler, error) {
	if intake == nil {
		return nil, errors.New("handler: intake use case must not be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Handler{intake: intake, log: log}, nil
}

type ackResponse struct {
	OK        bool `json:"ok"`
	Ignored   bool `json:"ignored,omitempty"`
	Duplicate bool `json:"duplicate,omitempty"`
}

type telegramUpdate struct {
	UpdateID *int64           `json:"update_id"`
	Message  *telegramMessage `json:"message"`
}

type telegramMessage struct {
	Text    string `json:"text"`
	Caption string `json:"caption"`
	Chat    *struct {
		ID *int64 `json:"id"`
	} `json:"chat"`
}

// parseUpdate extracts the event key and text. ok is false when the envelope
// lacks an update id or a chat id.
func parseUpdate(body []byte) (usecase.Event, bool) {
	var u telegramUpdate
	if err := json.Unmarshal(body, &u); err != nil {
		return usecase.Event{}, false
	}
	if u.UpdateID == nil || u.Message == nil || u.Message.Chat == nil || u.Message.Chat.ID == nil {
		return usecase.Event{}, false
	}
	text := u.Message.Text
	if strings.TrimSpace(text) == "" {
		text = u.Message.Caption
	}
	return usecase.Event{
		ConversationID: strconv.FormatInt(*u.Message.Chat.ID, 10),
		EventID:        strconv.FormatInt(*u.UpdateID, 10),
		Text:           strings.TrimSpace(text),
		RawPayload:     string(body),
	}, true
}

const correlationHeader = "X-Correlation-Id"

// correlationID returns the caller's correlation id or a fresh one.
func correlationID(header string) string {
	if v := strings.TrimSpace(header); v != "" {
		return v
	}
	return uuid.NewString()
}

func (h *Handler) accept(ctx context.Context, correlation string, body []byte) ackResponse {
	log := h.log.With("correlationId", correlation)
	ev, ok := parseUpdate(body)
	if !ok {
		log.Info("webhook update ignored", "bytes", len(body))
		return ackResponse{OK: true, Ignored: true}
	}
	ack, err := h.intake.OnEvent(ctx, ev)
	if err != nil {
		log.Error("intake failed", "conversationId", ev.ConversationID, "eventId", ev.EventID,
			"code", usecase.CodeOf(err), "err", err)
		return ackResponse{OK: true}
	}
	return ackResponse{OK: true, Duplicate: ack.Duplicate}
}
