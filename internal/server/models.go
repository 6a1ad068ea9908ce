package server

import (
	"time"

	"github.com/mohammad-safakhou/researchd/internal/task"
)

// HTTPError is a generic error envelope returned by the server.
type HTTPError struct {
	Error string `json:"error"`
}

// RootResponse is served on GET /.
type RootResponse struct {
	Status    string    `json:"status"`
	Service   string    `json:"service"`
	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthResponse reports the state of the external ports.
type HealthResponse struct {
	Status      string `json:"status"`
	Memory      string `json:"memory"`
	LLM         string `json:"llm"`
	Search      string `json:"search"`
	ActiveTasks int    `json:"active_tasks"`
}

// QueryRequest submits a research question. Stream is accepted for client
// compatibility; the pipeline always starts immediately.
type QueryRequest struct {
	Query  string `json:"query" validate:"required"`
	Stream *bool  `json:"stream,omitempty"`
}

// QueryResponse acknowledges a created task.
type QueryResponse struct {
	TaskID  string `json:"task_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// TaskResponse is the status view of one task.
type TaskResponse struct {
	TaskID        string      `json:"task_id"`
	Status        task.Status `json:"status"`
	CurrentStage  string      `json:"current_stage"`
	FinalResponse string      `json:"final_response"`
	Error         string      `json:"error"`
	Subscribers   int         `json:"subscribers"`
}

// TaskListResponse wraps GET /tasks.
type TaskListResponse struct {
	Tasks []task.Summary `json:"tasks"`
	Total int            `json:"total"`
}

// MessageResponse is a plain acknowledgement.
type MessageResponse struct {
	Message string `json:"message"`
}
