package provider

import (
	"context"
	"errors"
)

// ErrNotConfigured is returned when no credentials are available for a provider.
var ErrNotConfigured = errors.New("llm provider not configured")

// Role of a prompt message.
type Role string

const (
	RoleSystem Role = "system"
	RoleUser   Role = "user"
)

// Message is one turn of a prompt.
type Message struct {
	Role    Role
	Content string
}

// Request describes a single completion.
type Request struct {
	Messages    []Message
	Temperature float32
	MaxTokens   int
}

// Prompt is a convenience for a system + user request.
func Prompt(system, user string, temperature float32, maxTokens int) Request {
	var msgs []Message
	if system != "" {
		msgs = append(msgs, Message{Role: RoleSystem, Content: system})
	}
	msgs = append(msgs, Message{Role: RoleUser, Content: user})
	return Request{Messages: msgs, Temperature: temperature, MaxTokens: maxTokens}
}

// ChunkStream yields completion text incrementally. Recv returns io.EOF once
// the stream is exhausted.
type ChunkStream interface {
	Recv() (string, error)
	Close() error
}

// Provider is the interface that all LLM implementations must satisfy
type Provider interface {
	Complete(ctx context.Context, req Request) (string, error)
	Stream(ctx context.Context, req Request) (ChunkStream, error)
}

// Embedder turns texts into vectors for the memory store.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}
