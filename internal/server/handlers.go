package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/mohammad-safakhou/researchd/internal/task"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const emptyQueryMessage = "Query cannot be empty"

func (s *Server) root(c echo.Context) error {
	return c.JSON(http.StatusOK, RootResponse{
		Status:    "operational",
		Service:   s.opts.ServiceName,
		Version:   s.opts.Version,
		Timestamp: s.opts.Now(),
	})
}

func (s *Server) health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()
	resp := HealthResponse{
		Status:      "healthy",
		Memory:      "disconnected",
		LLM:         configured(s.opts.LLMConfigured),
		Search:      configured(s.opts.SearchConfigured),
		ActiveTasks: s.registry.Len(),
	}
	if err := s.memory.Ping(ctx); err == nil {
		resp.Memory = "connected"
	}
	return c.JSON(http.StatusOK, resp)
}

func configured(ok bool) string {
	if ok {
		return "configured"
	}
	return "not configured"
}

func (s *Server) createQuery(c echo.Context) error {
	ctx, span := tracer.Start(c.Request().Context(), "server.create_query")
	defer span.End()

	var req QueryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := s.validate.Struct(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, emptyQueryMessage)
	}
	t, err := s.registry.Create(req.Query)
	if errors.Is(err, task.ErrEmptyQuery) {
		return echo.NewHTTPError(http.StatusBadRequest, emptyQueryMessage)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return echo.NewHTTPError(http.StatusInternalServerError, "could not create task").SetInternal(err)
	}
	span.SetAttributes(attribute.String("task.id", t.ID))
	s.opts.Metrics.TaskCreated(ctx)

	if err := s.engine.Start(ctx, t); err != nil {
		span.RecordError(err)
		_ = s.registry.Delete(t.ID)
		return echo.NewHTTPError(http.StatusInternalServerError, "could not start task").SetInternal(err)
	}
	return c.JSON(http.StatusOK, QueryResponse{
		TaskID:  t.ID,
		Status:  "created",
		Message: "Research task created successfully",
	})
}

func (s *Server) getTask(c echo.Context) error {
	t, err := s.registry.Get(c.Param("task_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "Task not found")
	}
	snap := t.Snapshot()
	return c.JSON(http.StatusOK, TaskResponse{
		TaskID:        snap.ID,
		Status:        snap.Status,
		CurrentStage:  snap.CurrentStage,
		FinalResponse: snap.State.FinalResponse,
		Error:         snap.State.ErrorMessage,
		Subscribers:   s.broker.Subscribers(snap.ID),
	})
}

func (s *Server) listTasks(c echo.Context) error {
	tasks := s.registry.List()
	if tasks == nil {
		tasks = []task.Summary{}
	}
	return c.JSON(http.StatusOK, TaskListResponse{Tasks: tasks, Total: len(tasks)})
}

func (s *Server) deleteTask(c echo.Context) error {
	if err := s.registry.Delete(c.Param("task_id")); err != nil {
		if errors.Is(err, task.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "Task not found")
		}
		return err
	}
	return c.JSON(http.StatusOK, MessageResponse{Message: "Task deleted successfully"})
}
