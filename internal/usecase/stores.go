package usecase

import (
	"context"
	"time"

	"booksoul/internal/domain"
)

// IntakeLedger deduplicates inbound events by (conversationId, eventId).
type IntakeLedger interface {
	RecordIntake(ctx context.Context, rec domain.IntakeRecord) (bool, error)
}

// OutboxLedger deduplicates the reply to an inbound event.
type OutboxLedger interface {
	GetReply(ctx context.Context, conversationID, eventID string) (domain.OutboxRecord, error)
	ReserveReply(ctx context.Context, conversationID, eventID string, at time.Time) (bool, error)
	ReleaseReply(ctx context.Context, conversationID, eventID string) error
}

type ProfileStore interface {
	TouchProfile(ctx context.Context, conversationID string, at time.Time) (domain.ConversationProfile, error)
	GetProfile(ctx context.Context, conversationID string) (domain.ConversationProfile, error)
	MarkGreeted(ctx context.Context, conversationID string, at time.Time) (bool, error)
	MarkBanner(ctx context.Context, conversationID string, seen, at time.Time) (bool, error)
}

type JobStore interface {
	EnqueueJob(ctx context.Context, job domain.Job) error
	GetJob(ctx context.Context, id string) (domain.Job, error)
	ListJobsByStatus(ctx context.Context, status domain.JobStatus, limit int) ([]domain.Job, error)
	ListExpiredLeases(ctx context.Context, now time.Time, limit int) ([]domain.Job, error)
	ClaimJob(ctx context.Context, id, owner string, at, leaseUntil time.Time) (domain.Job, bool, error)
	FinalizeJob(ctx context.Context, id, owner string, status domain.JobStatus, resultRef string, at time.Time) (bool, error)
	ReclaimJob(ctx context.Context, id string, leaseExpiresAt, at time.Time) (bool, error)
}

type BookStore interface {
	CreateBook(ctx context.Context, book domain.Book, firstJob domain.Job) error
	GetBook(ctx context.Context, id string) (domain.Book, error)
	SetBookStage(ctx context.Context, id string, from, to domain.Stage, at time.Time) error
	AttachBookAsset(ctx context.Context, id string, asset domain.BookAsset, url string, auditJob domain.Job, at time.Time) error
	PutScene(ctx context.Context, scene domain.Scene, job domain.Job) error
	SetSceneImage(ctx context.Context, bookID, sceneID, url string, status domain.SceneStatus, at time.Time) error
	ListScenes(ctx context.Context, bookID string) ([]domain.Scene, error)
	AppendFeedback(ctx context.Context, entry domain.FeedbackEntry) error
	ListFeedback(ctx context.Context, bookID string) ([]domain.FeedbackEntry, error)
}

// Store is the full persistence surface. Both the DynamoDB repository and the
// in-memory store satisfy it.
type Store interface {
	IntakeLedger
	OutboxLedger
	ProfileStore
	JobStore
	BookStore
}

// Transport delivers replies to a conversation.
type Transport interface {
	SendText(ctx context.Context, conversationID, text string) error
	SendPhoto(ctx context.Context, conversationID, photo, caption string) error
}

// Spawner runs fn in the background without blocking the caller.
type Spawner interface {
	Go(name string, fn func(ctx context.Context) error)
}

// Clock returns the current time. Tests substitute a fixed clock.
type Clock func() time.Time
