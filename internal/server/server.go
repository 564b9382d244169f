package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/disinfo-zone/voidwire-sub000/config"
	"github.com/disinfo-zone/voidwire-sub000/internal/cache"
	"github.com/disinfo-zone/voidwire-sub000/internal/pipeline"
	"github.com/disinfo-zone/voidwire-sub000/internal/store"
)

// Server is the operational HTTP surface: trigger and inspect runs, read
// published artifacts, health and metrics. Not a user-facing product
// surface.
type Server struct {
	cfg       *config.Config
	logger    *log.Logger
	store     *store.Store
	artifacts *cache.ArtifactCache
	orch      *pipeline.Orchestrator
	scheduler *Scheduler
}

// Run builds every dependency and serves until the listener fails.
func Run(cfgPath string) error {
	cfg := config.LoadConfig(cfgPath)
	logger := log.New(log.Writer(), "[SERVER] ", log.LstdFlags)

	orch, st, artifacts, err := BuildOrchestrator(context.Background(), cfg, logger)
	if err != nil {
		return err
	}

	s := &Server{cfg: cfg, logger: logger, store: st, artifacts: artifacts, orch: orch}

	if cfg.Pipeline.Scheduler.Enabled {
		s.scheduler = NewScheduler(cfg.Pipeline.Scheduler, orch, logger)
		s.scheduler.Start()
		defer s.scheduler.Stop()
	}

	return s.serve()
}

func (s *Server) serve() error {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	httpLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		httpLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET(s.cfg.Server.MetricsPath, echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api")
	api.POST("/runs", s.triggerRun)
	api.GET("/runs/:date", s.listRuns)
	api.GET("/artifacts/:date", s.getArtifact)

	return e.Start(s.cfg.Server.Address)
}

type triggerRequest struct {
	Date             string  `json:"date"`
	RegenerationMode string  `json:"regeneration_mode"`
	ParentRunID      *string `json:"parent_run_id"`
}

func (s *Server) triggerRun(c echo.Context) error {
	var req triggerRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	switch req.RegenerationMode {
	case "", pipeline.RegenProseOnly, pipeline.RegenReselect, pipeline.RegenFullRerun:
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "unknown regeneration_mode")
	}

	runID, err := s.orch.Run(c.Request().Context(), pipeline.RunOptions{
		Date:             req.Date,
		RegenerationMode: req.RegenerationMode,
		ParentRunID:      req.ParentRunID,
	})
	if errors.Is(err, pipeline.ErrLockConflict) {
		return echo.NewHTTPError(http.StatusConflict, "a run for this date is already in progress")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("run %s failed: %v", runID, err))
	}
	return c.JSON(http.StatusAccepted, map[string]string{"run_id": runID})
}

func (s *Server) listRuns(c echo.Context) error {
	date := c.Param("date")
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "date must be YYYY-MM-DD")
	}
	runs, err := s.store.ListRuns(c.Request().Context(), date)
	if err != nil {
		return err
	}
	type runView struct {
		ID               string  `json:"id"`
		RunNumber        int     `json:"run_number"`
		Status           string  `json:"status"`
		Seed             int64   `json:"seed"`
		RegenerationMode string  `json:"regeneration_mode,omitempty"`
		ParentRunID      *string `json:"parent_run_id,omitempty"`
		SkyOnly          bool    `json:"sky_only"`
		Error            *string `json:"error,omitempty"`
	}
	out := make([]runView, 0, len(runs))
	for _, r := range runs {
		out = append(out, runView{
			ID: r.ID, RunNumber: r.RunNumber, Status: r.Status, Seed: r.Seed,
			RegenerationMode: r.RegenerationMode, ParentRunID: r.ParentRunID,
			SkyOnly: r.SkyOnly, Error: r.Error,
		})
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) getArtifact(c echo.Context) error {
	date := c.Param("date")
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "date must be YYYY-MM-DD")
	}
	ctx := c.Request().Context()

	if s.artifacts != nil {
		if raw, ok, err := s.artifacts.Get(ctx, date); err == nil && ok {
			return c.JSONBlob(http.StatusOK, raw)
		}
	}
	raw, ok, err := s.store.LatestArtifact(ctx, date)
	if err != nil {
		return err
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "no artifact for date")
	}
	return c.JSONBlob(http.StatusOK, raw)
}
