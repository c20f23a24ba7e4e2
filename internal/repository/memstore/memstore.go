// Package memstore keeps every BookSoul record in process memory. It applies
// the same compare-and-set rules as the DynamoDB repository and serves local
// single-process runs and tests.
package memstore

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"booksoul/internal/domain"
)

type convKey struct {
	conversationID string
	eventID        string
}

type sceneKey struct {
	bookID  string
	sceneID string
}

type Store struct {
	mu       sync.Mutex
	intake   map[convKey]domain.IntakeRecord
	outbox   map[convKey]domain.OutboxRecord
	profiles map[string]domain.ConversationProfile
	jobs     map[string]domain.Job
	books    map[string]domain.Book
	scenes   map[sceneKey]domain.Scene
	feedback map[string][]domain.FeedbackEntry
}

func New() *Store {
	return &Store{
		intake:   make(map[convKey]domain.IntakeRecord),
		outbox:   make(map[convKey]domain.OutboxRecord),
		profiles: make(map[string]domain.ConversationProfile),
		jobs:     make(map[string]domain.Job),
		books:    make(map[string]domain.Book),
		scenes:   make(map[sceneKey]domain.Scene),
		feedback: make(map[string][]domain.FeedbackEntry),
	}
}

func (s *Store) RecordIntake(_ context.Context, rec domain.IntakeRecord) (bool, error) {
	if rec.ConversationID == "" || rec.EventID == "" {
		return false, fmt.Errorf("memstore: RecordIntake: conversation and event ids are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := convKey{rec.ConversationID, rec.EventID}
	if _, ok := s.intake[k]; ok {
		return false, nil
	}
	s.intake[k] = rec
	return true, nil
}

// IntakeCount reports how many intake records exist for the conversation.
func (s *Store) IntakeCount(conversationID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k := range s.intake {
		if k.conversationID == conversationID {
			n++
		}
	}
	return n
}

func (s *Store) GetReply(_ context.Context, conversationID, eventID string) (domain.OutboxRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.outbox[convKey{conversationID, eventID}]
	if !ok {
		return domain.OutboxRecord{ConversationID: conversationID, EventID: eventID}, nil
	}
	return rec, nil
}

func (s *Store) ReserveReply(_ context.Context, conversationID, eventID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := convKey{conversationID, eventID}
	if s.outbox[k].Sent {
		return false, nil
	}
	s.outbox[k] = domain.OutboxRecord{ConversationID: conversationID, EventID: eventID, Sent: true, SentAt: at}
	return true, nil
}

func (s *Store) ReleaseReply(_ context.Context, conversationID, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := convKey{conversationID, eventID}
	if rec, ok := s.outbox[k]; ok && rec.Sent {
		s.outbox[k] = domain.OutboxRecord{ConversationID: conversationID, EventID: eventID}
	}
	return nil
}

func (s *Store) TouchProfile(_ context.Context, conversationID string, at time.Time) (domain.ConversationProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.profiles[conversationID]
	if !ok {
		prev = domain.ConversationProfile{ConversationID: conversationID}
	}
	next := prev
	if next.FirstSeenAt.IsZero() {
		next.FirstSeenAt = at
	}
	next.LastMessageAt = at
	s.profiles[conversationID] = next
	return prev, nil
}

func (s *Store) GetProfile(_ context.Context, conversationID string) (domain.ConversationProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[conversationID]
	if !ok {
		return domain.ConversationProfile{ConversationID: conversationID}, nil
	}
	return p, nil
}

func (s *Store) MarkGreeted(_ context.Context, conversationID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.profiles[conversationID]
	if p.Greeted {
		return false, nil
	}
	p.ConversationID = conversationID
	p.Greeted = true
	p.LastBannerAt = at
	s.profiles[conversationID] = p
	return true, nil
}

func (s *Store) MarkBanner(_ context.Context, conversationID string, seen, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.profiles[conversationID]
	if !p.LastBannerAt.Equal(seen) {
		return false, nil
	}
	p.ConversationID = conversationID
	p.LastBannerAt = at
	s.profiles[conversationID] = p
	return true, nil
}

func (s *Store) EnqueueJob(_ context.Context, job domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putJobLocked(job)
}

func (s *Store) putJobLocked(job domain.Job) error {
	if _, ok := s.jobs[job.ID]; ok {
		return fmt.Errorf("memstore: job %s: %w", job.ID, domain.ErrAlreadyExists)
	}
	s.jobs[job.ID] = job
	return nil
}

func (s *Store) GetJob(_ context.Context, id string) (domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return domain.Job{}, fmt.Errorf("memstore: job %s: %w", id, domain.ErrNotFound)
	}
	return j, nil
}

// Jobs returns every job, oldest first.
func (s *Store) Jobs() []domain.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedJobsLocked(func(domain.Job) bool { return true }, 0)
}

func (s *Store) ListJobsByStatus(_ context.Context, status domain.JobStatus, limit int) ([]domain.Job, error) {
	if limit <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedJobsLocked(func(j domain.Job) bool { return j.Status == status }, limit), nil
}

func (s *Store) ListExpiredLeases(_ context.Context, now time.Time, limit int) ([]domain.Job, error) {
	if limit <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedJobsLocked(func(j domain.Job) bool {
		return j.Status == domain.JobProcessing && !j.LeaseExpiresAt.IsZero() && j.LeaseExpiresAt.Before(now)
	}, limit), nil
}

func (s *Store) sortedJobsLocked(keep func(domain.Job) bool, limit int) []domain.Job {
	var out []domain.Job
	for _, j := range s.jobs {
		if keep(j) {
			out = append(out, j)
		}
	}
	slices.SortFunc(out, func(a, b domain.Job) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *Store) ClaimJob(_ context.Context, id, owner string, at, leaseUntil time.Time) (domain.Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.Status != domain.JobPending {
		return domain.Job{}, false, nil
	}
	j.Status = domain.JobProcessing
	j.LeasedBy = owner
	j.LeaseExpiresAt = leaseUntil
	j.Attempts++
	j.UpdatedAt = at
	s.jobs[id] = j
	return j, true, nil
}

func (s *Store) FinalizeJob(_ context.Context, id, owner string, status domain.JobStatus, resultRef string, at time.Time) (bool, error) {
	if !status.Terminal() {
		return false, fmt.Errorf("memstore: FinalizeJob: status %q is not terminal", status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return false, fmt.Errorf("memstore: job %s: %w", id, domain.ErrNotFound)
	}
	if j.Status != domain.JobProcessing || j.LeasedBy != owner {
		return false, nil
	}
	j.Status = status
	j.ResultRef = resultRef
	j.LeaseExpiresAt = time.Time{}
	j.UpdatedAt = at
	s.jobs[id] = j
	return true, nil
}

func (s *Store) ReclaimJob(_ context.Context, id string, leaseExpiresAt, at time.Time) (bool, error) {
	if leaseExpiresAt.IsZero() {
		return false, fmt.Errorf("memstore: ReclaimJob: lease has no expiry")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.Status != domain.JobProcessing || !j.LeaseExpiresAt.Equal(leaseExpiresAt) {
		return false, nil
	}
	j.Status = domain.JobPending
	j.LeasedBy = ""
	j.LeaseExpiresAt = time.Time{}
	j.UpdatedAt = at
	s.jobs[id] = j
	return true, nil
}

func (s *Store) CreateBook(_ context.Context, book domain.Book, firstJob domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.books[book.ID]; ok {
		return fmt.Errorf("memstore: book %s: %w", book.ID, domain.ErrAlreadyExists)
	}
	if err := s.putJobLocked(firstJob); err != nil {
		return err
	}
	s.books[book.ID] = book
	return nil
}

func (s *Store) GetBook(_ context.Context, id string) (domain.Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.books[id]
	if !ok {
		return domain.Book{}, fmt.Errorf("memstore: book %s: %w", id, domain.ErrNotFound)
	}
	return b, nil
}

func (s *Store) SetBookStage(_ context.Context, id string, from, to domain.Stage, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.books[id]
	if !ok {
		return fmt.Errorf("memstore: book %s: %w", id, domain.ErrNotFound)
	}
	if b.Status != from {
		return fmt.Errorf("memstore: book %s is %s, not %s: %w", id, b.Status, from, domain.ErrConflict)
	}
	b.Status = to
	b.UpdatedAt = at
	s.books[id] = b
	return nil
}

func (s *Store) AttachBookAsset(_ context.Context, id string, asset domain.BookAsset, url string, auditJob domain.Job, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.books[id]
	if !ok {
		return fmt.Errorf("memstore: book %s: %w", id, domain.ErrNotFound)
	}
	switch asset {
	case domain.AssetCover:
		b.CoverURL = url
	case domain.AssetPdf:
		b.PdfURL = url
	default:
		return fmt.Errorf("memstore: unknown asset %q", asset)
	}
	if err := s.putJobLocked(auditJob); err != nil {
		return err
	}
	b.UpdatedAt = at
	s.books[id] = b
	return nil
}

func (s *Store) PutScene(_ context.Context, scene domain.Scene, job domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.books[scene.BookID]; !ok {
		return fmt.Errorf("memstore: book %s: %w", scene.BookID, domain.ErrNotFound)
	}
	if _, ok := s.jobs[job.ID]; ok {
		return fmt.Errorf("memstore: job %s: %w", job.ID, domain.ErrAlreadyExists)
	}
	k := sceneKey{scene.BookID, scene.SceneID}
	if prev, ok := s.scenes[k]; ok {
		scene.Status = prev.Status
		scene.ImageURL = prev.ImageURL
	} else {
		scene.Status = domain.ScenePending
		scene.ImageURL = ""
	}
	s.scenes[k] = scene
	s.jobs[job.ID] = job
	return nil
}

func (s *Store) SetSceneImage(_ context.Context, bookID, sceneID, url string, status domain.SceneStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := sceneKey{bookID, sceneID}
	sc, ok := s.scenes[k]
	if !ok {
		return fmt.Errorf("memstore: scene %s/%s: %w", bookID, sceneID, domain.ErrNotFound)
	}
	sc.ImageURL = url
	if status != "" {
		sc.Status = status
	}
	sc.UpdatedAt = at
	s.scenes[k] = sc
	return nil
}

func (s *Store) ListScenes(_ context.Context, bookID string) ([]domain.Scene, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Scene
	for k, sc := range s.scenes {
		if k.bookID == bookID {
			out = append(out, sc)
		}
	}
	slices.SortFunc(out, func(a, b domain.Scene) int { return a.Page - b.Page })
	return out, nil
}

func (s *Store) AppendFeedback(_ context.Context, entry domain.FeedbackEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.books[entry.BookID]; !ok {
		return fmt.Errorf("memstore: book %s: %w", entry.BookID, domain.ErrNotFound)
	}
	s.feedback[entry.BookID] = append(s.feedback[entry.BookID], entry)
	return nil
}

func (s *Store) ListFeedback(_ context.Context, bookID string) ([]domain.FeedbackEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.feedback[bookID]), nil
}
