package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"booksoul/internal/domain"
)

const defaultInterpreterTimeout = 20 * time.Second

// Processor turns one inbound message into one reply. It runs detached from the
// request that delivered the message, so every failure ends in a log line or a
// fallback reply.
type Processor struct {
	outbox      *Outbox
	interpreter Interpreter
	production  *Production
	timeout     time.Duration
	log         *slog.Logger
}

func NewProcessor(outbox *Outbox, interpreter Interpreter, production *Production, timeout time.Duration, log *slog.Logger) (*Processor, error) {
	if outbox == nil {
		return nil, errors.New("usecase: outbox must not be nil")
	}
	if interpreter == nil {
		return nil, errors.New("usecase: interpreter must not be nil")
	}
	if production == nil {
		return nil, errors.New("usecase: production must not be nil")
	}
	if timeout <= 0 {
		timeout = defaultInterpreterTimeout
	}
	if log == nil {
		log = slog.Default()
	}
	return &Processor{outbox: outbox, interpreter: interpreter, production: production, timeout: timeout, log: log}, nil
}

// Process handles one event. The returned error is for logging only; the user
// already received a fallback reply when one could be sent.
func (p *Processor) Process(ctx context.Context, conversationID, eventID, text string) (err error) {
	log := p.log.With("conversationId", conversationID, "eventId", eventID)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("usecase: pipeline panic: %v", r)
			log.Error("pipeline panicked", "panic", r)
		}
	}()

	sent, err := p.outbox.AlreadySent(ctx, conversationID, eventID)
	if err != nil {
		log.Error("outbox lookup failed", "err", err)
		return err
	}
	if sent {
		log.Debug("reply already sent")
		return nil
	}

	reply := p.reply(ctx, log, conversationID, text)
	if _, err := p.outbox.TrySend(ctx, conversationID, eventID, reply); err != nil {
		log.Error("reply send failed", "err", err)
		return err
	}
	return nil
}

func (p *Processor) reply(ctx context.Context, log *slog.Logger, conversationID, text string) string {
	if strings.TrimSpace(text) == "" {
		return replyEmptyText
	}

	ictx, cancel := context.WithTimeout(ctx, p.timeout)
	action, err := p.interpreter.Interpret(ictx, text)
	cancel()
	if err != nil {
		log.Warn("interpreter failed", "err", err)
		return replyFallback
	}
	log.Info("action interpreted", "action", domain.ActionName(action))

	reply, err := p.execute(ctx, conversationID, action)
	if err != nil {
		log.Error("action failed", "action", domain.ActionName(action), "err", err)
		return replyFallback
	}
	return reply
}

func (p *Processor) execute(ctx context.Context, conversationID string, action domain.Action) (string, error) {
	switch a := action.(type) {
	case domain.CreateBook:
		book, err := p.production.CreateBook(ctx, CreateBookInput{
			ConversationID: conversationID,
			ChildName:      a.ChildName,
			Theme:          a.Theme,
			Title:          a.Title,
			Language:       a.Language,
		})
		if err != nil {
			return "", err
		}
		return replyBookStarted(book), nil
	case domain.AddFeedback:
		if _, err := p.production.AddFeedback(ctx, a.BookID, a.Note, feedbackSource); err != nil {
			if CodeOf(err) == ErrorNotFound {
				return replyBookNotFound(a.BookID), nil
			}
			return "", err
		}
		return replyFeedbackRecorded(a.BookID, a.Note), nil
	case domain.GetStatus:
		return p.production.GetStatus(ctx, a.BookID).Message, nil
	case domain.Unknown:
		return replyClarify(a), nil
	default:
		return replyClarify(domain.Unknown{}), nil
	}
}
