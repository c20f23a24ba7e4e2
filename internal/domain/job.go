package domain

import "time"

type JobType string

const (
	JobStoryWriter     JobType = "storywriter"
	JobSceneGeneration JobType = "scene_generation"
	JobCover           JobType = "cover"
	JobLayout          JobType = "layout"
)

type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobDone       JobStatus = "done"
	JobError      JobStatus = "error"
)

// Terminal reports whether no further transition is allowed from s.
func (s JobStatus) Terminal() bool {
	return s == JobDone || s == JobError
}

// Job is one unit of factory work. SubjectID is a book id or a conversation id.
type Job struct {
	ID             string
	SubjectID      string
	Type           JobType
	Status         JobStatus
	Attempts       int
	ResultRef      string
	LeasedBy       string
	LeaseExpiresAt time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
