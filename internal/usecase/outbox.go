package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"booksoul/internal/metrics"
)

// Outbox sends at most one reply per inbound event.
//
// The sent flag is reserved with a conditional write before the transport is
// called. A failed send releases the reservation so a redelivered event can try
// again. A crash between a successful send and the end of TrySend leaves the
// reservation in place, so the reply is never duplicated but may be lost. The
// ledger never reports unsent for a reply that was transmitted.
type Outbox struct {
	ledger    OutboxLedger
	transport Transport
	log       *slog.Logger
	now       Clock
}

func NewOutbox(ledger OutboxLedger, transport Transport, log *slog.Logger) (*Outbox, error) {
	if ledger == nil {
		return nil, errors.New("usecase: outbox ledger must not be nil")
	}
	if transport == nil {
		return nil, errors.New("usecase: transport must not be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Outbox{ledger: ledger, transport: transport, log: log, now: time.Now}, nil
}

// AlreadySent reports whether the reply for the event was reserved or sent.
func (o *Outbox) AlreadySent(ctx context.Context, conversationID, eventID string) (bool, error) {
	rec, err := o.ledger.GetReply(ctx, conversationID, eventID)
	if err != nil {
		return false, storeError("outbox_read_failed", err)
	}
	return rec.Sent, nil
}

// TrySend transmits text unless a reply for the event already went out. It
// reports whether this call performed the transmission.
func (o *Outbox) TrySend(ctx context.Context, conversationID, eventID, text string) (bool, error) {
	sent, err := o.AlreadySent(ctx, conversationID, eventID)
	if err != nil {
		metrics.Replies.WithLabelValues("error").Inc()
		return false, err
	}
	if sent {
		metrics.Replies.WithLabelValues("duplicate").Inc()
		return false, nil
	}

	won, err := o.ledger.ReserveReply(ctx, conversationID, eventID, o.now().UTC())
	if err != nil {
		metrics.Replies.WithLabelValues("error").Inc()
		return false, storeError("outbox_reserve_failed", err)
	}
	if !won {
		metrics.Replies.WithLabelValues("duplicate").Inc()
		return false, nil
	}

	if err := o.transport.SendText(ctx, conversationID, text); err != nil {
		metrics.Replies.WithLabelValues("send_failed").Inc()
		// Release on a fresh context: ctx may be the reason the send failed.
		relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if relErr := o.ledger.ReleaseReply(relCtx, conversationID, eventID); relErr != nil {
			o.log.Error("release reply reservation failed",
				"conversationId", conversationID, "eventId", eventID, "err", relErr)
		}
		return false, newError(ErrorUpstream, "transport_send_failed", err)
	}
	metrics.Replies.WithLabelValues("sent").Inc()
	return true, nil
}
