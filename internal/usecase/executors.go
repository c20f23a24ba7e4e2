package usecase

import (
	"context"
	"errors"
	"log/slog"

	"booksoul/internal/domain"
)

// jobStages maps each job type to the stage its completion represents.
var jobStages = map[domain.JobType]domain.Stage{
	domain.JobStoryWriter:     domain.StageWriting,
	domain.JobSceneGeneration: domain.StageDrawing,
	domain.JobCover:           domain.StageCover,
	domain.JobLayout:          domain.StageLayout,
}

// StageExecutor advances the job's book to the stage for its type and tells
// the book's owner. A book already at or past that stage is left alone.
type StageExecutor struct {
	production *Production
	transport  Transport
	log        *slog.Logger
}

func NewStageExecutor(production *Production, transport Transport, log *slog.Logger) (*StageExecutor, error) {
	if production == nil {
		return nil, errors.New("usecase: production must not be nil")
	}
	if transport == nil {
		return nil, errors.New("usecase: transport must not be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	return &StageExecutor{production: production, transport: transport, log: log}, nil
}

// Executors returns the executor table for every known job type.
func (e *StageExecutor) Executors() map[domain.JobType]JobExecutor {
	out := make(map[domain.JobType]JobExecutor, len(jobStages))
	for t := range jobStages {
		out[t] = e
	}
	return out
}

func (e *StageExecutor) Execute(ctx context.Context, job domain.Job) (string, error) {
	stage, ok := jobStages[job.Type]
	if !ok {
		return "", newError(ErrorValidation, "unknown_job_type", nil)
	}
	book, err := e.production.Book(ctx, job.SubjectID)
	if err != nil {
		return "", err
	}
	if book.Status.Index() >= stage.Index() {
		return string(book.Status), nil
	}
	book, err = e.production.Advance(ctx, book.ID, stage)
	if err != nil {
		return "", err
	}
	if book.ConversationID != "" {
		if err := e.transport.SendText(ctx, book.ConversationID, replyStageReached(book.ID, stage)); err != nil {
			// The stage is already written; a lost notice does not fail the job.
			e.log.Warn("stage notice failed", "bookId", book.ID, "err", err)
		}
	}
	return string(stage), nil
}
