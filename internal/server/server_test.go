package server

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/mohammad-safakhou/researchd/internal/agents"
	"github.com/mohammad-safakhou/researchd/internal/agents/agentstest"
	"github.com/mohammad-safakhou/researchd/internal/stream"
	"github.com/mohammad-safakhou/researchd/internal/task"
	"github.com/mohammad-safakhou/researchd/internal/workflow"
)

var quiet = log.New(io.Discard, "", 0)

type harness struct {
	srv      *Server
	registry *task.Registry
	engine   *workflow.Engine
}

func newHarness(t *testing.T, opts Options) harness {
	t.Helper()
	broker := stream.NewBroker()
	reg := task.NewRegistry(broker, task.Options{Logger: quiet})
	stages := agents.Pipeline(agents.Deps{LLM: &agentstest.LLM{}, Search: agentstest.MathSearch(), Logger: quiet}, agents.Options{})
	eng := workflow.New(broker, stages, workflow.Options{Logger: quiet})
	opts.Logger = quiet
	opts.LLMConfigured = true
	return harness{srv: New(reg, broker, eng, nil, opts), registry: reg, engine: eng}
}

func (h harness) do(t *testing.T, method, target, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func (h harness) submit(t *testing.T, query string, header map[string]string) string {
	t.Helper()
	rec := h.do(t, http.MethodPost, "/query", `{"query":"`+query+`","stream":true}`, header)
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /query: %d %s", rec.Code, rec.Body.String())
	}
	var resp QueryResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode query response: %v", err)
	}
	if resp.Status != "created" || resp.TaskID == "" {
		t.Fatalf("unexpected response %+v", resp)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.engine.Wait(ctx); err != nil {
		t.Fatalf("engine did not finish: %v", err)
	}
	return resp.TaskID
}

type frame struct {
	id, event, data string
}

func parseFrames(body string) []frame {
	var out []frame
	for _, block := range strings.Split(body, "\n\n") {
		var f frame
		for _, line := range strings.Split(block, "\n") {
			switch {
			case strings.HasPrefix(line, "id: "):
				f.id = strings.TrimPrefix(line, "id: ")
			case strings.HasPrefix(line, "event: "):
				f.event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				f.data = strings.TrimPrefix(line, "data: ")
			}
		}
		if f.event != "" {
			out = append(out, f)
		}
	}
	return out
}

func TestRootAndHealth(t *testing.T) {
	h := newHarness(t, Options{Version: "1.2.3"})
	rec := h.do(t, http.MethodGet, "/", "", nil)
	var root RootResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &root); err != nil || root.Status != "operational" || root.Version != "1.2.3" {
		t.Fatalf("unexpected root %s (%v)", rec.Body.String(), err)
	}

	rec = h.do(t, http.MethodGet, "/health", "", nil)
	var health HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	want := HealthResponse{Status: "healthy", Memory: "disconnected", LLM: "configured", Search: "not configured"}
	if health != want {
		t.Fatalf("health = %+v, want %+v", health, want)
	}
}

func TestCreateQueryRejectsEmpty(t *testing.T) {
	h := newHarness(t, Options{})
	for _, body := range []string{`{"query":"   "}`, `{}`, `{"query":""}`} {
		rec := h.do(t, http.MethodPost, "/query", body, nil)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400 got %d", body, rec.Code)
		}
		var e HTTPError
		if err := json.Unmarshal(rec.Body.Bytes(), &e); err != nil || e.Error != emptyQueryMessage {
			t.Fatalf("%s: unexpected error body %s", body, rec.Body.String())
		}
	}
	if h.registry.Len() != 0 {
		t.Fatalf("rejected queries must not create tasks")
	}
}

func TestQueryThenStream(t *testing.T) {
	h := newHarness(t, Options{})
	id := h.submit(t, "What is 2+2?", nil)

	rec := h.do(t, http.MethodGet, "/stream/"+id, "", nil)
	if ct := rec.Header().Get(echo.HeaderContentType); ct != "text/event-stream" {
		t.Fatalf("content type %q", ct)
	}
	frames := parseFrames(rec.Body.String())
	if len(frames) == 0 || frames[0].event != "status" || frames[0].id != "1" {
		t.Fatalf("unexpected first frame %+v", frames)
	}
	var stages []string
	for _, f := range frames {
		if f.event == "stage" {
			var p stream.StagePayload
			if err := json.Unmarshal([]byte(f.data), &p); err != nil {
				t.Fatalf("decode stage: %v", err)
			}
			stages = append(stages, p.Stage)
		}
	}
	if strings.Join(stages, ",") != "researcher,summarizer,validator,presenter" {
		t.Fatalf("unexpected stages %v", stages)
	}
	last := frames[len(frames)-1]
	if last.event != "complete" || !strings.Contains(last.data, `"sources_count":1`) {
		t.Fatalf("unexpected last frame %+v", last)
	}

	rec = h.do(t, http.MethodGet, "/task/"+id, "", nil)
	var tr TaskResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &tr); err != nil {
		t.Fatalf("decode task: %v", err)
	}
	if tr.Status != task.StatusCompleted || tr.FinalResponse == "" || tr.Error != "" {
		t.Fatalf("unexpected task %+v", tr)
	}
	again := h.do(t, http.MethodGet, "/task/"+id, "", nil)
	if again.Body.String() != rec.Body.String() {
		t.Fatalf("snapshot changed between reads:\n%s\n%s", rec.Body.String(), again.Body.String())
	}
}

type parkedStarter struct{ started []string }

func (p *parkedStarter) Start(_ context.Context, t *task.Task) error {
	p.started = append(p.started, t.ID)
	return nil
}

func TestSubmittedTaskIsImmediatelyVisible(t *testing.T) {
	broker := stream.NewBroker()
	reg := task.NewRegistry(broker, task.Options{Logger: quiet})
	starter := &parkedStarter{}
	h := harness{srv: New(reg, broker, starter, nil, Options{Logger: quiet}), registry: reg}

	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		rec := h.do(t, http.MethodPost, "/query", `{"query":"q"}`, nil)
		var resp QueryResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if seen[resp.TaskID] {
			t.Fatalf("task id %s issued twice", resp.TaskID)
		}
		seen[resp.TaskID] = true

		rec = h.do(t, http.MethodGet, "/task/"+resp.TaskID, "", nil)
		var tr TaskResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &tr); err != nil {
			t.Fatalf("decode task: %v", err)
		}
		if rec.Code != http.StatusOK || tr.Status != task.StatusCreated || tr.Subscribers != 0 {
			t.Fatalf("unexpected task %d %+v", rec.Code, tr)
		}

		sub := broker.Subscribe(resp.TaskID)
		rec = h.do(t, http.MethodGet, "/task/"+resp.TaskID, "", nil)
		sub.Close()
		if err := json.Unmarshal(rec.Body.Bytes(), &tr); err != nil || tr.Subscribers != 1 {
			t.Fatalf("expected one open subscription, got %+v (%v)", tr, err)
		}
	}
	if len(starter.started) != 3 {
		t.Fatalf("expected 3 starts, got %d", len(starter.started))
	}
}

func TestStreamResumesAfterLastEventID(t *testing.T) {
	h := newHarness(t, Options{})
	id := h.submit(t, "What is 2+2?", nil)
	rec := h.do(t, http.MethodGet, "/stream/"+id, "", map[string]string{"Last-Event-ID": "3"})
	frames := parseFrames(rec.Body.String())
	if len(frames) == 0 || frames[0].id != "4" {
		t.Fatalf("expected replay to resume at id 4, got %+v", frames)
	}
}

func TestStreamUnknownTask(t *testing.T) {
	h := newHarness(t, Options{})
	rec := h.do(t, http.MethodGet, "/stream/does-not-exist", "", nil)
	frames := parseFrames(rec.Body.String())
	if len(frames) != 1 || frames[0].event != "error" || frames[0].id != "" {
		t.Fatalf("expected one synthetic error frame, got %+v", frames)
	}
	if !strings.Contains(frames[0].data, "task not found") {
		t.Fatalf("unexpected data %s", frames[0].data)
	}
}

func TestListAndDeleteTasks(t *testing.T) {
	h := newHarness(t, Options{})
	first := h.submit(t, "first question", nil)
	h.submit(t, "second question", nil)

	rec := h.do(t, http.MethodGet, "/tasks", "", nil)
	var list TaskListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil || list.Total != 2 || len(list.Tasks) != 2 {
		t.Fatalf("unexpected list %s (%v)", rec.Body.String(), err)
	}

	if rec := h.do(t, http.MethodDelete, "/task/"+first, "", nil); rec.Code != http.StatusOK {
		t.Fatalf("delete: %d", rec.Code)
	}
	if rec := h.do(t, http.MethodDelete, "/task/"+first, "", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("second delete: expected 404 got %d", rec.Code)
	}
	if rec := h.do(t, http.MethodGet, "/task/"+first, "", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("get deleted: expected 404 got %d", rec.Code)
	}
	rec = h.do(t, http.MethodGet, "/tasks", "", nil)
	_ = json.Unmarshal(rec.Body.Bytes(), &list)
	if list.Total != 1 {
		t.Fatalf("expected one task left, got %d", list.Total)
	}
}

func TestBearerAuth(t *testing.T) {
	secret := "s3cret"
	h := newHarness(t, Options{JWTSecret: secret})

	if rec := h.do(t, http.MethodPost, "/query", `{"query":"q"}`, nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
	if rec := h.do(t, http.MethodGet, "/tasks", "", map[string]string{"Authorization": "Bearer nope"}); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with a bad token, got %d", rec.Code)
	}
	if rec := h.do(t, http.MethodGet, "/health", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("health must stay public, got %d", rec.Code)
	}

	tok, err := SignJWT("tester", []byte(secret), time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	id := h.submit(t, "What is 2+2?", map[string]string{"Authorization": "Bearer " + tok})
	rec := h.do(t, http.MethodGet, "/stream/"+id+"?token="+tok, "", nil)
	if rec.Code != http.StatusOK || len(parseFrames(rec.Body.String())) == 0 {
		t.Fatalf("query-string token should authorize the stream, got %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t, Options{})
	rec := h.do(t, http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Fatalf("unexpected metrics response %d", rec.Code)
	}
}

func TestUnknownRouteUsesJSONErrors(t *testing.T) {
	h := newHarness(t, Options{})
	rec := h.do(t, http.MethodGet, "/nope", "", nil)
	var e HTTPError
	if rec.Code != http.StatusNotFound || json.Unmarshal(rec.Body.Bytes(), &e) != nil || e.Error == "" {
		t.Fatalf("unexpected response %d %s", rec.Code, rec.Body.String())
	}
}
