package domain

import (
	"time"
)

type JobStatus string

const (
	StatusPending     JobStatus = "pending"
	StatusDownloading JobStatus = "downloading"
	StatusProcessing  JobStatus = "processing" // muxing and publishing
	StatusCompleted   JobStatus = "completed"
	StatusFailed      JobStatus = "failed"
)

// JobRecord is the history row kept for every download run
type JobRecord struct {
	ID     string    `json:"id"`
	URL    string    `json:"url"`
	Status JobStatus `json:"status"`

	VariantsTotal int `json:"variants_total"`
	VariantsDone  int `json:"variants_done"`
	SegmentsDone  int `json:"segments_done"`
	ImagesTotal   int `json:"images_total"`
	ImagesDone    int `json:"images_done"`

	Resumed bool   `json:"resumed"`
	Error   string `json:"error,omitempty"`

	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}
