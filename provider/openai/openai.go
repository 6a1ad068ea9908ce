package openai_provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/mohammad-safakhou/researchd/provider"
	"github.com/sashabaranov/go-openai"
)

const (
	defaultModel          = "gpt-4o-mini"
	defaultEmbeddingModel = "text-embedding-3-small"
)

// Config for the OpenAI client.
type Config struct {
	APIKey         string
	BaseURL        string
	Model          string
	EmbeddingModel string
	// HTTPClient overrides the transport; deadlines come from the caller's context.
	HTTPClient *http.Client
}

// Client implements provider.Provider and provider.Embedder on top of the
// OpenAI chat and embeddings APIs.
type Client struct {
	api            *openai.Client
	model          string
	embeddingModel string
}

var (
	_ provider.Provider = (*Client)(nil)
	_ provider.Embedder = (*Client)(nil)
)

// NewOpenAIClient creates a new OpenAI client. It returns
// provider.ErrNotConfigured when no API key is given.
func NewOpenAIClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, provider.ErrNotConfigured
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	if cfg.HTTPClient != nil {
		oc.HTTPClient = cfg.HTTPClient
	}
	c := &Client{
		api:            openai.NewClientWithConfig(oc),
		model:          cfg.Model,
		embeddingModel: cfg.EmbeddingModel,
	}
	if c.model == "" {
		c.model = defaultModel
	}
	if c.embeddingModel == "" {
		c.embeddingModel = defaultEmbeddingModel
	}
	return c, nil
}

func (c *Client) chatRequest(req provider.Request) openai.ChatCompletionRequest {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := openai.ChatMessageRoleUser
		if m.Role == provider.RoleSystem {
			role = openai.ChatMessageRoleSystem
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    msgs,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
}

// Complete returns the full completion text.
func (c *Client) Complete(ctx context.Context, req provider.Request) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, c.chatRequest(req))
	if err != nil {
		return "", fmt.Errorf("openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai completion: no choices in response")
	}
	return resp.Choices[0].Message.Content, nil
}

// Stream opens a streamed completion.
func (c *Client) Stream(ctx context.Context, req provider.Request) (provider.ChunkStream, error) {
	chat := c.chatRequest(req)
	chat.Stream = true
	s, err := c.api.CreateChatCompletionStream(ctx, chat)
	if err != nil {
		return nil, fmt.Errorf("openai stream: %w", err)
	}
	return &chunkStream{stream: s}, nil
}

// Embed returns one vector per input text.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(c.embeddingModel),
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	vecs := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index >= 0 && d.Index < len(vecs) {
			vecs[d.Index] = d.Embedding
		}
	}
	return vecs, nil
}

type chunkStream struct {
	stream *openai.ChatCompletionStream
}

// Recv skips deltas without content (role announcements, finish markers).
func (s *chunkStream) Recv() (string, error) {
	for {
		resp, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			return "", io.EOF
		}
		if err != nil {
			return "", fmt.Errorf("openai stream recv: %w", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		if chunk := resp.Choices[0].Delta.Content; chunk != "" {
			return chunk, nil
		}
	}
}

func (s *chunkStream) Close() error {
	s.stream.Close()
	return nil
}
