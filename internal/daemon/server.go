package daemon

import (
	"context"
	"errors"
	"net/http"
	"os"
	"rsynco/internal/logger"
	"rsynco/internal/model"
	"rsynco/internal/repository"
	"rsynco/internal/scheduler"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

type Server struct {
	echo      *echo.Echo
	manager   *JobManager
	jobRepo   *repository.JobRepository
	histRepo  *repository.HistoryRepository
	port      int
	startedAt time.Time
	stopCh    chan struct{}
}

func NewServer(manager *JobManager, jobRepo *repository.JobRepository, histRepo *repository.HistoryRepository, port int) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{
		echo:      e,
		manager:   manager,
		jobRepo:   jobRepo,
		histRepo:  histRepo,
		port:      port,
		startedAt: time.Now(),
		stopCh:    make(chan struct{}, 1),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	// For the entire daemon
	s.echo.GET("/status", s.handleStatus)
	s.echo.POST("/stop", s.handleStop)

	// For a specific job
	g := s.echo.Group("/jobs")
	g.GET("", s.handleListJobs)
	g.POST("/:name/sync", s.handleSyncJob)
	g.DELETE("/:name/run", s.handleCancelRun)

	// History
	s.echo.GET("/history", s.handleHistory)
}

func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) Start() {
	go func() {
		addr := "127.0.0.1:" + strconv.Itoa(s.port)
		logger.Log.Info("daemon server started",
			zap.String("addr", addr))

		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Error("daemon server error", zap.Error(err))
		}
	}()
}

func (s *Server) Stop(ctx context.Context) error {
	s.manager.Stop()
	return s.echo.Shutdown(ctx)
}

func (s *Server) StopCh() <-chan struct{} {
	return s.stopCh
}

type StatusResponse struct {
	PID       int                 `json:"pid"`
	StartedAt time.Time           `json:"started_at"`
	Runs      []model.RunSnapshot `json:"runs"`
	Stats     repository.Stats    `json:"stats"`
}

func (s *Server) handleStatus(c echo.Context) error {
	stats, err := s.histRepo.GetStats()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, StatusResponse{
		PID:       os.Getpid(),
		StartedAt: s.startedAt,
		Runs:      s.manager.Snapshots(),
		Stats:     stats,
	})
}

func (s *Server) handleStop(c echo.Context) error {
	select {
	case s.stopCh <- struct{}{}:
	default:
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "stopping"})
}

type JobView struct {
	model.Job
	NextRun *time.Time `json:"next_run,omitempty"`
	Running bool       `json:"running"`
}

func (s *Server) handleListJobs(c echo.Context) error {
	jobs, err := s.jobRepo.GetAll()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	now := time.Now()
	views := make([]JobView, 0, len(jobs))
	for _, job := range jobs {
		view := JobView{Job: job}
		if next, ok, err := scheduler.NextRun(job, now); err == nil && ok {
			view.NextRun = &next
		}
		_, view.Running = s.manager.Run(job.Name)
		views = append(views, view)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"jobs": views,
	})
}

func (s *Server) handleSyncJob(c echo.Context) error {
	name := c.Param("name")
	if _, err := s.jobRepo.Get(name); err != nil {
		if errors.Is(err, model.ErrJobNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	if err := s.manager.StartRun(name, TriggerManual); err != nil {
		if errors.Is(err, model.ErrLockHeld) {
			return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
		}
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusAccepted, map[string]string{"status": "started"})
}

func (s *Server) handleCancelRun(c echo.Context) error {
	if err := s.manager.CancelRun(c.Param("name")); err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, map[string]string{"status": "cancelling"})
}

func (s *Server) handleHistory(c echo.Context) error {
	n := 20
	if nStr := c.QueryParam("n"); nStr != "" {
		if parsed, err := strconv.Atoi(nStr); err == nil && parsed > 0 {
			n = parsed
		}
	}

	var (
		histories []model.History
		err       error
	)
	if job := c.QueryParam("job"); job != "" {
		histories, err = s.histRepo.GetByJob(job, n)
	} else {
		histories, err = s.histRepo.GetRecent(n)
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, histories)
}
