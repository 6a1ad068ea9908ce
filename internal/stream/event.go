package stream

import (
	"encoding/json"
	"time"
)

// Kind names an event on the wire; it doubles as the SSE event name.
type Kind string

const (
	KindStatus   Kind = "status"
	KindStage    Kind = "stage"
	KindLog      Kind = "log"
	KindResponse Kind = "response"
	KindComplete Kind = "complete"
	KindError    Kind = "error"
)

// Terminal reports whether an event of this kind ends a task's stream.
func (k Kind) Terminal() bool { return k == KindComplete || k == KindError }

// Event is one unit of progress pushed to subscribers. Seq starts at 1 and
// increases by one per published event within a task.
type Event struct {
	Seq  int             `json:"seq"`
	Kind Kind            `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// StagePayload is carried by status and stage events.
type StagePayload struct {
	Stage     string    `json:"stage"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// ResponsePayload carries one chunk of the final answer.
type ResponsePayload struct {
	Chunk string `json:"chunk"`
}

// CompletePayload closes a successful stream.
type CompletePayload struct {
	Message      string  `json:"message"`
	Confidence   float64 `json:"confidence"`
	SourcesCount int     `json:"sources_count"`
}

// ErrorPayload closes a failed stream.
type ErrorPayload struct {
	Message string `json:"message"`
}

// Decode unmarshals the event payload into v.
func (e Event) Decode(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}
