package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"booksoul/internal/domain"
)

const (
	defaultLanguage = "ru"
	feedbackSource  = "user"
	maxScenePage    = 999

	// createAttempts bounds retries when two books are created within the
	// same second and collide on the time-derived id.
	createAttempts = 3
	advanceRetries = 3
)

// Production is the book-level state machine. Every mutation goes through a
// conditional store write; nothing here reads then blindly writes.
type Production struct {
	books  BookStore
	policy StagePolicy
	log    *slog.Logger
	now    Clock
}

func NewProduction(books BookStore, policy StagePolicy, log *slog.Logger) (*Production, error) {
	if books == nil {
		return nil, errors.New("usecase: book store must not be nil")
	}
	if policy == nil {
		policy = PermissiveStages{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Production{books: books, policy: policy, log: log, now: time.Now}, nil
}

type CreateBookInput struct {
	ConversationID string
	ChildName      string
	Theme          string
	Title          string
	Language       string
}

// CreateBook creates a draft book and its pending storywriter job.
func (p *Production) CreateBook(ctx context.Context, in CreateBookInput) (domain.Book, error) {
	child := strings.TrimSpace(in.ChildName)
	theme := strings.TrimSpace(in.Theme)
	if child == "" || theme == "" {
		return domain.Book{}, newError(ErrorValidation, "create_book_missing_fields", nil)
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		title = "История для " + child
	}
	lang := strings.TrimSpace(in.Language)
	if lang == "" {
		lang = defaultLanguage
	}

	now := p.now().UTC()
	var lastErr error
	for attempt := 0; attempt < createAttempts; attempt++ {
		created := now.Add(time.Duration(attempt) * time.Second)
		book := domain.Book{
			ID:             domain.NewBookID(created),
			ConversationID: in.ConversationID,
			ChildName:      child,
			Theme:          theme,
			Title:          title,
			Language:       lang,
			Status:         domain.StageDraft,
			CreatedAt:      created,
			UpdatedAt:      created,
		}
		job := newJob(book.ID, domain.JobStoryWriter, domain.JobPending, created)
		err := p.books.CreateBook(ctx, book, job)
		if err == nil {
			p.log.Info("book created", "bookId", book.ID, "jobId", job.ID, "conversationId", in.ConversationID)
			return book, nil
		}
		if !errors.Is(err, domain.ErrAlreadyExists) {
			return domain.Book{}, storeError("create_book_failed", err)
		}
		lastErr = err
	}
	return domain.Book{}, storeError("book_id_exhausted", lastErr)
}

func (p *Production) Book(ctx context.Context, id string) (domain.Book, error) {
	b, err := p.books.GetBook(ctx, id)
	if err != nil {
		return domain.Book{}, storeError("get_book_failed", err)
	}
	return b, nil
}

// Advance moves the book to a new stage as allowed by the stage policy. The
// write is conditioned on the stage that was read, so a concurrent change is
// re-read and re-checked rather than overwritten.
func (p *Production) Advance(ctx context.Context, bookID string, to domain.Stage) (domain.Book, error) {
	if !to.Valid() {
		return domain.Book{}, newError(ErrorValidation, "unknown_stage", fmt.Errorf("stage %q", to))
	}
	var lastErr error
	for attempt := 0; attempt < advanceRetries; attempt++ {
		book, err := p.books.GetBook(ctx, bookID)
		if err != nil {
			return domain.Book{}, storeError("get_book_failed", err)
		}
		if err := p.policy.Allow(book.Status, to); err != nil {
			return domain.Book{}, err
		}
		if book.Status == to {
			return book, nil
		}
		now := p.now().UTC()
		err = p.books.SetBookStage(ctx, bookID, book.Status, to, now)
		if err == nil {
			p.log.Info("book stage changed", "bookId", bookID, "from", book.Status, "to", to)
			book.Status = to
			book.UpdatedAt = now
			return book, nil
		}
		if !errors.Is(err, domain.ErrConflict) {
			return domain.Book{}, storeError("set_stage_failed", err)
		}
		lastErr = err
	}
	return domain.Book{}, storeError("set_stage_contended", lastErr)
}

func (p *Production) AttachCover(ctx context.Context, bookID, url string) error {
	return p.attachAsset(ctx, bookID, domain.AssetCover, domain.JobCover, url)
}

func (p *Production) AttachPdf(ctx context.Context, bookID, url string) error {
	return p.attachAsset(ctx, bookID, domain.AssetPdf, domain.JobLayout, url)
}

// attachAsset writes the URL and records a completed job for audit.
func (p *Production) attachAsset(ctx context.Context, bookID string, asset domain.BookAsset, jobType domain.JobType, url string) error {
	url = strings.TrimSpace(url)
	if url == "" {
		return newError(ErrorValidation, "empty_asset_url", nil)
	}
	now := p.now().UTC()
	audit := newJob(bookID, jobType, domain.JobDone, now)
	audit.ResultRef = url
	if err := p.books.AttachBookAsset(ctx, bookID, asset, url, audit, now); err != nil {
		return storeError("attach_asset_failed", err)
	}
	p.log.Info("book asset attached", "bookId", bookID, "asset", asset, "jobId", audit.ID)
	return nil
}

type RegisterSceneInput struct {
	BookID           string
	Page             int
	Text             string
	PromptMain       string
	PromptBackground string
}

// RegisterScene creates or merges the scene for a page and enqueues its
// generation job. The scene id derives from the page, so a page maps to at
// most one scene per book.
func (p *Production) RegisterScene(ctx context.Context, in RegisterSceneInput) (domain.Scene, error) {
	if in.Page < 1 || in.Page > maxScenePage {
		return domain.Scene{}, newError(ErrorValidation, "scene_page_out_of_range", fmt.Errorf("page %d", in.Page))
	}
	now := p.now().UTC()
	scene := domain.Scene{
		BookID:           in.BookID,
		SceneID:          domain.SceneID(in.Page),
		Page:             in.Page,
		Text:             in.Text,
		PromptMain:       in.PromptMain,
		PromptBackground: in.PromptBackground,
		Status:           domain.ScenePending,
		UpdatedAt:        now,
	}
	job := newJob(in.BookID, domain.JobSceneGeneration, domain.JobPending, now)
	if err := p.books.PutScene(ctx, scene, job); err != nil {
		return domain.Scene{}, storeError("register_scene_failed", err)
	}
	p.log.Info("scene registered", "bookId", in.BookID, "sceneId", scene.SceneID, "jobId", job.ID)
	return scene, nil
}

// AttachSceneImage sets a scene's image. An empty status leaves it unchanged.
func (p *Production) AttachSceneImage(ctx context.Context, bookID string, page int, url string, status domain.SceneStatus) error {
	if status != "" && !status.Valid() {
		return newError(ErrorValidation, "unknown_scene_status", fmt.Errorf("status %q", status))
	}
	if page < 1 || page > maxScenePage {
		return newError(ErrorValidation, "scene_page_out_of_range", fmt.Errorf("page %d", page))
	}
	if err := p.books.SetSceneImage(ctx, bookID, domain.SceneID(page), strings.TrimSpace(url), status, p.now().UTC()); err != nil {
		return storeError("attach_scene_image_failed", err)
	}
	return nil
}

// AddFeedback appends a comment. It does not change the book's stage.
func (p *Production) AddFeedback(ctx context.Context, bookID, text, source string) (domain.FeedbackEntry, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.FeedbackEntry{}, newError(ErrorValidation, "empty_feedback", nil)
	}
	if source == "" {
		source = feedbackSource
	}
	entry := domain.FeedbackEntry{
		ID:        newUUID(),
		BookID:    bookID,
		Comment:   text,
		Source:    source,
		CreatedAt: p.now().UTC(),
	}
	if err := p.books.AppendFeedback(ctx, entry); err != nil {
		return domain.FeedbackEntry{}, storeError("add_feedback_failed", err)
	}
	return entry, nil
}

func (p *Production) Feedback(ctx context.Context, bookID string) ([]domain.FeedbackEntry, error) {
	entries, err := p.books.ListFeedback(ctx, bookID)
	if err != nil {
		return nil, storeError("list_feedback_failed", err)
	}
	return entries, nil
}

type SceneSummary struct {
	SceneID  string
	Page     int
	Status   domain.SceneStatus
	HasImage bool
}

// BookStatus counts every registered scene in ScenesCount; ScenesReady
// counts only approved ones.
type BookStatus struct {
	Book        domain.Book
	ScenesCount int
	ScenesReady int
	Scenes      []SceneSummary
}

// StatusResult is the outcome of a status query. A missing book is reported
// through OK=false and Code=NOT_FOUND, not as an error.
type StatusResult struct {
	OK      bool
	Code    ErrorCode
	Message string
	Info    *BookStatus
}

func (p *Production) GetStatus(ctx context.Context, bookID string) StatusResult {
	book, err := p.books.GetBook(ctx, bookID)
	if errors.Is(err, domain.ErrNotFound) {
		return StatusResult{Code: ErrorNotFound, Message: replyBookNotFound(bookID)}
	}
	if err != nil {
		p.log.Error("status lookup failed", "bookId", bookID, "err", err)
		return StatusResult{Code: ErrorInternal, Message: replyFallback}
	}
	scenes, err := p.books.ListScenes(ctx, bookID)
	if err != nil {
		p.log.Error("scene listing failed", "bookId", bookID, "err", err)
		return StatusResult{Code: ErrorInternal, Message: replyFallback}
	}
	st := &BookStatus{Book: book, ScenesCount: len(scenes)}
	for _, s := range scenes {
		if s.Status == domain.SceneApproved {
			st.ScenesReady++
		}
		st.Scenes = append(st.Scenes, SceneSummary{SceneID: s.SceneID, Page: s.Page, Status: s.Status, HasImage: s.ImageURL != ""})
	}
	return StatusResult{OK: true, Message: replyStatus(*st), Info: st}
}

func newJob(subjectID string, t domain.JobType, status domain.JobStatus, at time.Time) domain.Job {
	return domain.Job{
		ID:        newUUID(),
		SubjectID: subjectID,
		Type:      t,
		Status:    status,
		CreatedAt: at,
		UpdatedAt: at,
	}
}

var newUUID = func() string {
	return uuid.NewString()
}
