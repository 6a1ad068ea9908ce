package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/mohammad-safakhou/researchd/internal/stream"
)

type nextEvent struct {
	ev  stream.Event
	err error
}

// streamTask replays a task's events and follows them live as SSE frames
// until the terminal event, a forced close, or the client disconnects.
func (s *Server) streamTask(c echo.Context) error {
	id := c.Param("task_id")
	ctx, span := tracer.Start(c.Request().Context(), "server.stream_task")
	defer span.End()

	resp := c.Response()
	flusher, ok := resp.Writer.(http.Flusher)
	if !ok {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "streaming unsupported")
	}

	sub := s.broker.Subscribe(id)
	defer sub.Close()
	s.opts.Metrics.SubscriberDelta(ctx, 1)
	defer s.opts.Metrics.SubscriberDelta(context.WithoutCancel(ctx), -1)

	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set(echo.HeaderCacheControl, "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.Header().Set("X-Accel-Buffering", "no")
	resp.WriteHeader(http.StatusOK)
	flusher.Flush()

	skip := lastEventID(c.Request())

	// Subscription is not safe for concurrent use: the pump owns it until
	// it has exited, and only then does the deferred Close run.
	pctx, cancel := context.WithCancel(ctx)
	events := make(chan nextEvent)
	pumped := make(chan struct{})
	go func() {
		defer close(pumped)
		for {
			ev, err := sub.Next(pctx)
			select {
			case events <- nextEvent{ev, err}:
			case <-pctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()
	defer func() {
		cancel()
		<-pumped
	}()

	heartbeat := time.NewTicker(s.opts.Heartbeat)
	defer heartbeat.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.closing:
			return nil
		case <-heartbeat.C:
			if _, err := io.WriteString(resp, ": keep-alive\n\n"); err != nil {
				return nil
			}
			flusher.Flush()
		case n := <-events:
			if n.err != nil {
				return nil
			}
			if n.ev.Seq > 0 && n.ev.Seq <= skip {
				continue
			}
			if err := writeFrame(resp, n.ev); err != nil {
				s.logger.Printf("stream %s: write: %v", id, err)
				return nil
			}
			flusher.Flush()
		}
	}
}

// writeFrame renders ev as one SSE frame. Seq 0 marks synthetic events,
// which carry no id.
func writeFrame(w io.Writer, ev stream.Event) error {
	var b strings.Builder
	if ev.Seq > 0 {
		fmt.Fprintf(&b, "id: %d\n", ev.Seq)
	}
	fmt.Fprintf(&b, "event: %s\ndata: %s\n\n", ev.Kind, ev.Data)
	_, err := io.WriteString(w, b.String())
	return err
}

// lastEventID lets a reconnecting EventSource resume after the last frame
// it saw.
func lastEventID(r *http.Request) int {
	raw := r.Header.Get("Last-Event-ID")
	if raw == "" {
		raw = r.URL.Query().Get("last_event_id")
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 0 {
		return 0
	}
	return n
}
