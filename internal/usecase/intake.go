package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"booksoul/internal/domain"
	"booksoul/internal/metrics"
)

// Event is one inbound delivery from the transport.
type Event struct {
	ConversationID string
	EventID        string
	Text           string
	RawPayload     string
}

// Ack is returned to the transport before any background work finishes.
type Ack struct {
	Duplicate bool
}

// IntakeService records an event once and hands it to background work.
type IntakeService struct {
	ledger    IntakeLedger
	profiles  ProfileStore
	spawner   Spawner
	processor *Processor
	notifier  *CadenceNotifier
	log       *slog.Logger
	now       Clock
}

func NewIntakeService(ledger IntakeLedger, profiles ProfileStore, spawner Spawner, processor *Processor, notifier *CadenceNotifier, log *slog.Logger) (*IntakeService, error) {
	switch {
	case ledger == nil:
		return nil, errors.New("usecase: intake ledger must not be nil")
	case profiles == nil:
		return nil, errors.New("usecase: profile store must not be nil")
	case spawner == nil:
		return nil, errors.New("usecase: spawner must not be nil")
	case processor == nil:
		return nil, errors.New("usecase: processor must not be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	return &IntakeService{
		ledger:    ledger,
		profiles:  profiles,
		spawner:   spawner,
		processor: processor,
		notifier:  notifier,
		log:       log,
		now:       time.Now,
	}, nil
}

// OnEvent returns as soon as the intake record is written. A duplicate
// delivery is acknowledged without scheduling anything.
func (s *IntakeService) OnEvent(ctx context.Context, ev Event) (Ack, error) {
	if strings.TrimSpace(ev.ConversationID) == "" || strings.TrimSpace(ev.EventID) == "" {
		metrics.IntakeEvents.WithLabelValues("invalid").Inc()
		return Ack{}, newError(ErrorValidation, "missing_event_key", nil)
	}
	log := s.log.With("conversationId", ev.ConversationID, "eventId", ev.EventID)
	now := s.now().UTC()

	created, err := s.ledger.RecordIntake(ctx, domain.IntakeRecord{
		ConversationID: ev.ConversationID,
		EventID:        ev.EventID,
		RawPayload:     ev.RawPayload,
		ExtractedText:  ev.Text,
		ReceivedAt:     now,
		Status:         domain.IntakeStatusAccepted,
	})
	if err != nil {
		metrics.IntakeEvents.WithLabelValues("error").Inc()
		log.Error("intake record failed", "err", err)
		return Ack{}, storeError("intake_record_failed", err)
	}
	if !created {
		metrics.IntakeEvents.WithLabelValues("duplicate").Inc()
		log.Info("duplicate event ignored")
		return Ack{Duplicate: true}, nil
	}
	metrics.IntakeEvents.WithLabelValues("accepted").Inc()

	prev, err := s.profiles.TouchProfile(ctx, ev.ConversationID, now)
	if err != nil {
		log.Warn("profile touch failed, cadence skipped", "err", err)
	} else if s.notifier != nil {
		s.spawner.Go("cadence", func(ctx context.Context) error {
			decision, err := s.notifier.Run(ctx, ev.ConversationID, prev)
			if err != nil {
				return err
			}
			log.Debug("cadence evaluated", "decision", decision)
			return nil
		})
	}

	s.spawner.Go("pipeline", func(ctx context.Context) error {
		return s.processor.Process(ctx, ev.ConversationID, ev.EventID, ev.Text)
	})
	return Ack{}, nil
}
