package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"comfy-cockpit/backend/internal/services"
)

const defaultListLimit = 50

// CreateJob submits a generation job through the facade.
// (POST /api/v1/jobs)
func (s *Server) CreateJob(c echo.Context) error {
	var req services.GenerateRequest
	if err := c.Bind(&req); err != nil {
		return problem(c, http.StatusBadRequest, "Invalid Request Body", err.Error())
	}
	if req.WorkflowID == "" {
		req.WorkflowID = s.Config.Jobs.DefaultWorkflow
	}
	if req.WorkflowID == "" {
		return problem(c, http.StatusBadRequest, "Invalid Request Body", "workflow_id is required")
	}

	job, err := s.Jobs.Generate(c.Request().Context(), req)
	if err != nil {
		return domainError(c, err)
	}
	return c.JSON(http.StatusCreated, job)
}

// ListJobs returns recent jobs, newest first.
// (GET /api/v1/jobs)
func (s *Server) ListJobs(c echo.Context) error {
	jobs, err := s.Jobs.ListJobs(c.Request().Context(), listLimit(c))
	if err != nil {
		return domainError(c, err)
	}
	return c.JSON(http.StatusOK, jobs)
}

// GetJob returns one job with its outputs.
// (GET /api/v1/jobs/:id)
func (s *Server) GetJob(c echo.Context) error {
	job, err := s.Jobs.GetJob(c.Request().Context(), c.Param("id"))
	if err != nil {
		return domainError(c, err)
	}
	return c.JSON(http.StatusOK, job)
}

// ListAssets returns recent assets, newest first.
// (GET /api/v1/assets)
func (s *Server) ListAssets(c echo.Context) error {
	assets, err := s.Jobs.ListAssets(c.Request().Context(), listLimit(c))
	if err != nil {
		return domainError(c, err)
	}
	return c.JSON(http.StatusOK, assets)
}

// GetAsset returns one asset record.
// (GET /api/v1/assets/:id)
func (s *Server) GetAsset(c echo.Context) error {
	asset, err := s.Jobs.GetAsset(c.Request().Context(), c.Param("id"))
	if err != nil {
		return domainError(c, err)
	}
	return c.JSON(http.StatusOK, asset)
}

// ToggleFavorite flips an asset's favorite flag.
// (POST /api/v1/assets/:id/favorite)
func (s *Server) ToggleFavorite(c echo.Context) error {
	asset, err := s.Jobs.ToggleFavorite(c.Request().Context(), c.Param("id"))
	if err != nil {
		return domainError(c, err)
	}
	return c.JSON(http.StatusOK, asset)
}

func listLimit(c echo.Context) int {
	raw := c.QueryParam("limit")
	if raw == "" {
		return defaultListLimit
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return defaultListLimit
	}
	return n
}
