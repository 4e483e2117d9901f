package dto

import "time"

// IngestRequest is both the HTTP body and the queued message payload.
type IngestRequest struct {
	Root       string `json:"root" validate:"required"`
	Collection string `json:"collection"`
	Reset      bool   `json:"reset"`
}

type IngestJobResponse struct {
	JobId      string     `json:"job_id"`
	Status     string     `json:"status"`
	Root       string     `json:"root"`
	Collection string     `json:"collection"`
	Chunks     int        `json:"chunks"`
	Total      int        `json:"total"`
	Error      string     `json:"error,omitempty"`
	QueuedAt   time.Time  `json:"queued_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

type PublishIngestMessage struct {
	JobId string        `json:"job_id"`
	Req   IngestRequest `json:"request"`
}
