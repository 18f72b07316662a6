// Package api contains the HTTP handlers for the cockpit backend.
package api

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"comfy-cockpit/backend/internal/comfy"
	"comfy-cockpit/backend/internal/config"
	"comfy-cockpit/backend/internal/events"
	"comfy-cockpit/backend/internal/logging"
	"comfy-cockpit/backend/internal/scanner"
	"comfy-cockpit/backend/internal/services"
	"comfy-cockpit/backend/internal/storage"
	"comfy-cockpit/backend/internal/workflow"
)

// Server holds the dependencies for the API server.
type Server struct {
	Config   *config.Config
	Jobs     *services.JobService
	Registry *workflow.Registry
	Comfy    *comfy.Client
	Hub      *events.Hub
	Assets   *storage.AssetStore
	Log      *logging.Logger
}

// NewServer creates a new Server.
func NewServer(
	cfg *config.Config,
	jobs *services.JobService,
	registry *workflow.Registry,
	comfyClient *comfy.Client,
	hub *events.Hub,
	assets *storage.AssetStore,
	log *logging.Logger,
) *Server {
	return &Server{
		Config:   cfg,
		Jobs:     jobs,
		Registry: registry,
		Comfy:    comfyClient,
		Hub:      hub,
		Assets:   assets,
		Log:      log,
	}
}

// RegisterRoutes attaches every REST route, the event websocket, and the
// static asset file server.
func (s *Server) RegisterRoutes(e *echo.Echo) {
	v1 := e.Group("/api/v1")

	v1.GET("/health", s.Health)
	v1.GET("/config", s.GetConfig)

	v1.GET("/workflows", s.ListWorkflows)
	v1.GET("/workflows/:id", s.GetWorkflow)
	v1.POST("/workflows/reload", s.ReloadWorkflows)

	v1.POST("/jobs", s.CreateJob)
	v1.GET("/jobs", s.ListJobs)
	v1.GET("/jobs/:id", s.GetJob)

	v1.GET("/assets", s.ListAssets)
	v1.GET("/assets/:id", s.GetAsset)
	v1.POST("/assets/:id/favorite", s.ToggleFavorite)

	v1.GET("/models/checkpoints", s.ListCheckpoints)
	v1.GET("/models/vaes", s.ListVAEs)
	v1.GET("/samplers", s.ListSamplers)

	v1.POST("/inputs", s.UploadInput)

	e.GET("/ws", s.EventSocket)
	e.Static("/assets/files", s.Assets.Root())
}

// HealthStatus represents the health check response
type HealthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
	Comfy     string    `json:"comfy"`
}

// Health reports backend liveness plus ComfyUI reachability. The cockpit
// itself always answers 200; the generation backend being down is a payload
// detail, not an HTTP failure.
func (s *Server) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 3*time.Second)
	defer cancel()

	comfyStatus := "ok"
	if _, err := s.Comfy.SystemStats(ctx); err != nil {
		comfyStatus = "unreachable"
	}

	return c.JSON(http.StatusOK, HealthStatus{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Service:   "comfy-cockpit",
		Comfy:     comfyStatus,
	})
}

// GetConfig exposes the non-sensitive parts of the runtime configuration.
func (s *Server) GetConfig(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"comfy_url":          s.Config.Comfy.URL,
		"default_checkpoint": s.Config.Comfy.DefaultCheckpoint,
		"default_workflow":   s.Config.Jobs.DefaultWorkflow,
		"workflows_dir":      s.Config.Paths.WorkflowsDir,
	})
}

// ListCheckpoints returns available checkpoint models, preferring the
// ComfyUI API and falling back to a local directory scan.
func (s *Server) ListCheckpoints(c echo.Context) error {
	return s.listModels(c, "checkpoints", s.Config.Comfy.CheckpointsDir)
}

// ListVAEs returns available VAE models.
func (s *Server) ListVAEs(c echo.Context) error {
	return s.listModels(c, "vae", s.Config.Comfy.VAEDir)
}

func (s *Server) listModels(c echo.Context, folder, localDir string) error {
	names, err := s.Comfy.ModelsInFolder(c.Request().Context(), folder)
	if err != nil || len(names) == 0 {
		s.Log.Debug("model listing via API unavailable for %s, scanning %s", folder, localDir)
		names, err = scanner.ScanModels(localDir)
		if err != nil {
			return domainError(c, err)
		}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"models": names})
}

// ListSamplers returns the sampler and scheduler choices the KSampler node
// advertises.
func (s *Server) ListSamplers(c echo.Context) error {
	opts, err := s.Comfy.KSamplerOptions(c.Request().Context())
	if err != nil {
		return domainError(c, err)
	}
	return c.JSON(http.StatusOK, opts)
}

// maxUploadBytes caps input image uploads.
const maxUploadBytes = 64 << 20

// UploadInput stores an uploaded image into the ComfyUI input directory so
// image-type workflow parameters can reference it by filename.
func (s *Server) UploadInput(c echo.Context) error {
	if s.Config.Comfy.InputDir == "" {
		return problem(c, http.StatusBadRequest, "Uploads Disabled", "comfy input directory is not configured")
	}

	file, err := c.FormFile("file")
	if err != nil {
		return problem(c, http.StatusBadRequest, "Invalid Upload", "missing multipart field \"file\"")
	}
	if file.Size > maxUploadBytes {
		return problem(c, http.StatusRequestEntityTooLarge, "Upload Too Large", "input image exceeds the size limit")
	}

	name := filepath.Base(file.Filename)
	ext := strings.ToLower(filepath.Ext(name))
	if ext != ".png" && ext != ".jpg" && ext != ".jpeg" && ext != ".webp" {
		return problem(c, http.StatusBadRequest, "Invalid Upload", "only png, jpeg, and webp inputs are accepted")
	}

	src, err := file.Open()
	if err != nil {
		return domainError(c, err)
	}
	defer src.Close()

	if err := os.MkdirAll(s.Config.Comfy.InputDir, 0o755); err != nil {
		return domainError(c, err)
	}
	dst, err := os.Create(filepath.Join(s.Config.Comfy.InputDir, name))
	if err != nil {
		return domainError(c, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return domainError(c, err)
	}

	s.Log.Info("stored input image %s", name)
	return c.JSON(http.StatusCreated, map[string]string{"filename": name})
}

var upgrader = websocket.Upgrader{
	// local cockpit, same-machine frontend
	CheckOrigin: func(*http.Request) bool { return true },
}

// EventSocket upgrades the connection and hands it to the event hub.
func (s *Server) EventSocket(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	s.Hub.Serve(conn)
	return nil
}
