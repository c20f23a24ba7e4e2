package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"booksoul/internal/domain"
	"booksoul/internal/metrics"
)

type Cadence string

const (
	CadenceFirstContact Cadence = "firstContact"
	CadenceReconnected  Cadence = "reconnected"
	CadenceStillWorking Cadence = "stillWorking"
	CadenceNone         Cadence = "none"
)

type CadenceThresholds struct {
	StillWorkingAfter time.Duration
	ReconnectAfter    time.Duration
	BannerCooldown    time.Duration
}

func DefaultCadenceThresholds() CadenceThresholds {
	return CadenceThresholds{
		StillWorkingAfter: time.Hour,
		ReconnectAfter:    24 * time.Hour,
		BannerCooldown:    24 * time.Hour,
	}
}

func (t CadenceThresholds) withDefaults() CadenceThresholds {
	d := DefaultCadenceThresholds()
	if t.StillWorkingAfter <= 0 {
		t.StillWorkingAfter = d.StillWorkingAfter
	}
	if t.ReconnectAfter <= 0 {
		t.ReconnectAfter = d.ReconnectAfter
	}
	if t.BannerCooldown <= 0 {
		t.BannerCooldown = d.BannerCooldown
	}
	return t
}

// DecideCadence evaluates the profile as it was before the current message
// touched it. A zero timestamp counts as infinitely old.
func DecideCadence(prev domain.ConversationProfile, now time.Time, th CadenceThresholds) Cadence {
	th = th.withDefaults()
	if !prev.Greeted {
		return CadenceFirstContact
	}
	sinceMessage := elapsed(now, prev.LastMessageAt)
	if sinceMessage > th.ReconnectAfter && elapsed(now, prev.LastBannerAt) > th.BannerCooldown {
		return CadenceReconnected
	}
	if sinceMessage > th.StillWorkingAfter && sinceMessage <= th.ReconnectAfter {
		return CadenceStillWorking
	}
	return CadenceNone
}

func elapsed(now, since time.Time) time.Duration {
	if since.IsZero() {
		return time.Duration(1<<63 - 1)
	}
	return now.Sub(since)
}

// CadenceNotifier sends the greeting, reconnect and still-working messages.
// Banner kinds are claimed with a conditional profile write first, so
// concurrent events never send the same banner twice.
type CadenceNotifier struct {
	profiles    ProfileStore
	transport   Transport
	thresholds  CadenceThresholds
	bannerPhoto string
	log         *slog.Logger
	now         Clock
}

func NewCadenceNotifier(profiles ProfileStore, transport Transport, th CadenceThresholds, bannerPhoto string, log *slog.Logger) (*CadenceNotifier, error) {
	if profiles == nil {
		return nil, errors.New("usecase: profile store must not be nil")
	}
	if transport == nil {
		return nil, errors.New("usecase: transport must not be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	return &CadenceNotifier{
		profiles:    profiles,
		transport:   transport,
		thresholds:  th.withDefaults(),
		bannerPhoto: bannerPhoto,
		log:         log,
		now:         time.Now,
	}, nil
}

// Run decides and acts on the cadence for one message. prev is the profile
// snapshot from before the message was recorded.
func (n *CadenceNotifier) Run(ctx context.Context, conversationID string, prev domain.ConversationProfile) (Cadence, error) {
	now := n.now().UTC()
	decision := DecideCadence(prev, now, n.thresholds)
	metrics.CadenceDecisions.WithLabelValues(string(decision)).Inc()

	switch decision {
	case CadenceFirstContact:
		won, err := n.profiles.MarkGreeted(ctx, conversationID, now)
		if err != nil {
			return decision, storeError("mark_greeted_failed", err)
		}
		if !won {
			return CadenceNone, nil
		}
		if err := n.sendBanner(ctx, conversationID); err != nil {
			return decision, err
		}
		return decision, n.send(ctx, conversationID, replyWelcome)
	case CadenceReconnected:
		won, err := n.profiles.MarkBanner(ctx, conversationID, prev.LastBannerAt, now)
		if err != nil {
			return decision, storeError("mark_banner_failed", err)
		}
		if !won {
			return CadenceNone, nil
		}
		if err := n.sendBanner(ctx, conversationID); err != nil {
			return decision, err
		}
		return decision, n.send(ctx, conversationID, replyReconnect)
	case CadenceStillWorking:
		return decision, n.send(ctx, conversationID, replyStillBusy)
	default:
		return decision, nil
	}
}

func (n *CadenceNotifier) sendBanner(ctx context.Context, conversationID string) error {
	if n.bannerPhoto == "" {
		return nil
	}
	if err := n.transport.SendPhoto(ctx, conversationID, n.bannerPhoto, bannerCaption); err != nil {
		return newError(ErrorUpstream, "banner_send_failed", err)
	}
	return nil
}

func (n *CadenceNotifier) send(ctx context.Context, conversationID, text string) error {
	if err := n.transport.SendText(ctx, conversationID, text); err != nil {
		return newError(ErrorUpstream, "cadence_send_failed", err)
	}
	return nil
}
