package domain

import "time"

// IntakeRecord is the create-once ledger entry for one inbound event.
type IntakeRecord struct {
	ConversationID string
	EventID        string
	RawPayload     string
	ExtractedText  string
	ReceivedAt     time.Time
	Status         string
}

const IntakeStatusAccepted = "accepted"

// OutboxRecord tracks whether the reply for one inbound event has been transmitted.
type OutboxRecord struct {
	ConversationID string
	EventID        string
	Sent           bool
	SentAt         time.Time
}

// ConversationProfile holds the per-conversation contact timestamps used by the
// notification cadence.
type ConversationProfile struct {
	ConversationID string
	Greeted        bool
	FirstSeenAt    time.Time
	LastMessageAt  time.Time
	LastBannerAt   time.Time
}
