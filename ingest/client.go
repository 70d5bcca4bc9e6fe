package ingest

import (
	"context"

	"github.com/padraicbc/racedata/models"
)

// JobState is the closed set of states an ingestion job reports.
type JobState string

const (
	JobInProgress      JobState = "in_progress"
	JobUpdated         JobState = "updated"
	JobAlreadyComplete JobState = "already_complete"
	JobFailed          JobState = "failed"
)

// Terminal reports whether polling can stop at s.
func (s JobState) Terminal() bool {
	switch s {
	case JobUpdated, JobAlreadyComplete, JobFailed:
		return true
	}
	return false
}

// Progress counts rows the worker has written so far.
type Progress struct {
	Races   *int `json:"races,omitempty"`
	Results *int `json:"results,omitempty"`
	Laps    *int `json:"laps,omitempty"`
}

// JobStatus is one snapshot of a job.
type JobStatus struct {
	State    JobState     `json:"state"`
	Depth    models.Depth `json:"depth,omitempty"`
	Progress Progress     `json:"progress"`
	Stage    string       `json:"stage,omitempty"`
	Reason   string       `json:"reason,omitempty"`
}

// JobHandle identifies an asynchronous job to poll.
type JobHandle struct {
	ID string `json:"jobId"`
}

// Submission is what Submit returns: a terminal Status when the worker
// finished synchronously, otherwise a Handle to poll.
type Submission struct {
	Status *JobStatus
	Handle *JobHandle
}

// JobRequest asks the worker to import an event up to Depth.
type JobRequest struct {
	EventID       int64        `json:"eventId"`
	SourceEventID string       `json:"sourceEventId"`
	TrackID       int64        `json:"trackId"`
	Depth         models.Depth `json:"depth"`
}

// JobClient talks to the external ingestion worker.
type JobClient interface {
	Submit(ctx context.Context, req JobRequest) (Submission, error)
	Poll(ctx context.Context, h JobHandle) (JobStatus, error)
}
