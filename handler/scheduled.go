package handler

import (
	"context"
	"errors"
	"log/slog"

	"github.com/aws/aws-lambda-go/events"

	"booksoul/internal/usecase"
)

type Ticker interface {
	Tick(ctx context.Context) (usecase.TickResult, error)
}

// PollHandler runs one poll tick per scheduled EventBridge invocation.
type PollHandler struct {
	poller Ticker
	log    *slog.Logger
}

func NewPollHandler(poller Ticker, log *slog.Logger) (*PollHandler, error) {
	if poller == nil {
		return nil, errors.New("handler: poller must not be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	return &PollHandler{poller: poller, log: log}, nil
}

func (p *PollHandler) Handle(ctx context.Context, ev events.EventBridgeEvent) (usecase.TickResult, error) {
	res, err := p.poller.Tick(ctx)
	p.log.Info("poll tick",
		"eventId", ev.ID,
		"skipped", res.Skipped,
		"reclaimed", res.Reclaimed,
		"leased", res.Leased,
		"done", res.Done,
		"failed", res.Failed,
	)
	if err != nil {
		p.log.Error("poll tick failed", "eventId", ev.ID, "err", err)
		return res, err
	}
	return res, nil
}
