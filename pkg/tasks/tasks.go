// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

import (
	"time"

	"manual-smart-go/internal/pipeline"
)

// IngestTask represents an asynchronous manual ingestion job.
type IngestTask struct {
	Filename       string `json:"filename"`
	Bucket         string `json:"bucket"`
	ObjectKey      string `json:"object_key"`
	UploaderID     string `json:"uploader_id"`
	Title          string `json:"title,omitempty"`
	Description    string `json:"description,omitempty"`
	Category       string `json:"category,omitempty"`
	YearRange      string `json:"year_range,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

// FromRequest builds a task from a synchronous ingest request.
func FromRequest(req pipeline.IngestRequest) IngestTask {
	return IngestTask{
		Filename:       req.Filename,
		Bucket:         req.Bucket,
		ObjectKey:      req.ObjectKey,
		UploaderID:     req.UploaderID,
		Title:          req.Title,
		Description:    req.Description,
		Category:       req.Category,
		YearRange:      req.YearRange,
		TimeoutSeconds: int(req.Timeout / time.Second),
	}
}

// Request converts the task back into an ingest request.
func (t IngestTask) Request() pipeline.IngestRequest {
	return pipeline.IngestRequest{
		Filename:    t.Filename,
		Bucket:      t.Bucket,
		ObjectKey:   t.ObjectKey,
		UploaderID:  t.UploaderID,
		Title:       t.Title,
		Description: t.Description,
		Category:    t.Category,
		YearRange:   t.YearRange,
		Timeout:     time.Duration(t.TimeoutSeconds) * time.Second,
	}
}
