package dto

import (
	"encoding/json"
	"time"

	"github.com/cuongbtq/order-fulfillment/internal/queue"
)

type ListJobsRequest struct {
	Status   string `form:"status"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

type QueueDTO struct {
	Name   string               `json:"name"`
	Counts map[queue.Status]int `json:"counts"`
}

type ListQueuesResponse struct {
	Queues []QueueDTO `json:"queues"`
}

type JobDTO struct {
	JobID        string          `json:"job_id"`
	Queue        string          `json:"queue"`
	Type         string          `json:"type"`
	Payload      json.RawMessage `json:"payload"`
	Status       queue.Status    `json:"status"`
	Attempts     int             `json:"attempts"`
	MaxAttempts  int             `json:"max_attempts"`
	FailedReason string          `json:"failed_reason,omitempty"`
	CreatedAt    string          `json:"created_at"`
	AvailableAt  string          `json:"available_at"`
	ProcessedAt  string          `json:"processed_at,omitempty"`
	FinishedAt   string          `json:"finished_at,omitempty"`
}

// NewJobDTO renders a job for the admin API.
func NewJobDTO(j *queue.Job) JobDTO {
	return JobDTO{
		JobID:        j.ID,
		Queue:        j.Queue,
		Type:         j.Type,
		Payload:      j.Payload,
		Status:       j.Status,
		Attempts:     j.Attempts,
		MaxAttempts:  j.MaxAttempts,
		FailedReason: j.FailedReason,
		CreatedAt:    j.CreatedAt.Format(time.RFC3339),
		AvailableAt:  j.AvailableAt.Format(time.RFC3339),
		ProcessedAt:  formatOptional(j.ProcessedAt),
		FinishedAt:   formatOptional(j.FinishedAt),
	}
}

func formatOptional(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}
