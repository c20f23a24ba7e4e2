package domain

import (
	"fmt"
	"time"
)

// Stage is one named state of the book production line.
type Stage string

const (
	StageDraft    Stage = "draft"
	StageWriting  Stage = "writing"
	StageDrawing  Stage = "drawing"
	StageStyling  Stage = "styling"
	StageCover    Stage = "cover"
	StageLayout   Stage = "layout"
	StageApproval Stage = "approval"
	StageReady    Stage = "ready"
)

// Stages lists the production line in order.
var Stages = []Stage{
	StageDraft, StageWriting, StageDrawing, StageStyling,
	StageCover, StageLayout, StageApproval, StageReady,
}

// Index returns the position of s in Stages, or -1 for an unknown stage.
func (s Stage) Index() int {
	for i, st := range Stages {
		if st == s {
			return i
		}
	}
	return -1
}

func (s Stage) Valid() bool { return s.Index() >= 0 }

type Book struct {
	ID             string
	ConversationID string
	ChildName      string
	Theme          string
	Title          string
	Language       string
	Status         Stage
	PdfURL         string
	CoverURL       string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// BookAsset names a URL field attached to a book by a downstream producer.
type BookAsset string

const (
	AssetCover BookAsset = "coverUrl"
	AssetPdf   BookAsset = "pdfUrl"
)

type SceneStatus string

const (
	ScenePending  SceneStatus = "pending"
	SceneApproved SceneStatus = "approved"
	SceneRedo     SceneStatus = "redo"
)

func (s SceneStatus) Valid() bool {
	return s == ScenePending || s == SceneApproved || s == SceneRedo
}

type Scene struct {
	BookID           string
	SceneID          string
	Page             int
	Text             string
	PromptMain       string
	PromptBackground string
	Status           SceneStatus
	ImageURL         string
	UpdatedAt        time.Time
}

// FeedbackEntry is an append-only comment on a book.
type FeedbackEntry struct {
	ID        string
	BookID    string
	Comment   string
	Source    string
	CreatedAt time.Time
}

// NewBookID returns the trace identifier BKS-YYYYMMDD-HHMMSS for t in UTC.
// Lexical order of ids matches creation order at one-second resolution.
func NewBookID(t time.Time) string {
	return "BKS-" + t.UTC().Format("20060102-150405")
}

// SceneID derives the scene key from its page number.
func SceneID(page int) string {
	return fmt.Sprintf("scene_%03d", page)
}
