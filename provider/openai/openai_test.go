package openai_provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mohammad-safakhou/researchd/provider"
)

func fakeOpenAI(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Stream      bool    `json:"stream"`
			Temperature float32 `json:"temperature"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if !body.Stream {
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprintf(w, `{"id":"x","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"temp=%.1f"}}]}`, body.Temperature)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, c := range []string{"", "The answer ", "is 4."} {
			fmt.Fprintf(w, "data: {\"id\":\"x\",\"object\":\"chat.completion.chunk\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", c)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	})
	mux.HandleFunc("/embeddings", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"object":"list","data":[{"object":"embedding","index":1,"embedding":[0,1]},{"object":"embedding","index":0,"embedding":[1,0]}]}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestNewClientRequiresKey(t *testing.T) {
	if _, err := NewOpenAIClient(Config{}); !errors.Is(err, provider.ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestCompleteStreamAndEmbed(t *testing.T) {
	srv := fakeOpenAI(t)
	c, err := NewOpenAIClient(Config{APIKey: "k", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("NewOpenAIClient: %v", err)
	}
	ctx := context.Background()

	out, err := c.Complete(ctx, provider.Prompt("sys", "hi", 0.3, 100))
	if err != nil || out != "temp=0.3" {
		t.Fatalf("Complete: %q %v", out, err)
	}

	s, err := c.Stream(ctx, provider.Prompt("", "hi", 0.6, 1200))
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	defer s.Close()
	var chunks []string
	for {
		chunk, err := s.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Recv: %v", err)
		}
		chunks = append(chunks, chunk)
	}
	if strings.Join(chunks, "") != "The answer is 4." || len(chunks) != 2 {
		t.Fatalf("unexpected chunks %q", chunks)
	}

	vecs, err := c.Embed(ctx, []string{"a", "b"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vecs) != 2 || vecs[0][0] != 1 || vecs[1][1] != 1 {
		t.Fatalf("embeddings not ordered by index: %v", vecs)
	}
}
