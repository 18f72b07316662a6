package api

import (
	"net/http"
	"sort"

	"github.com/labstack/echo/v4"

	"comfy-cockpit/backend/internal/workflow"
)

// ListWorkflows returns the registry's loaded workflows.
// (GET /api/v1/workflows)
func (s *Server) ListWorkflows(c echo.Context) error {
	return c.JSON(http.StatusOK, s.Registry.List())
}

// WorkflowDetail is the full parameter surface of one workflow, enough for
// a client to render a submission form.
type WorkflowDetail struct {
	ID          string                         `json:"id"`
	Name        string                         `json:"name"`
	Description string                         `json:"description,omitempty"`
	Version     string                         `json:"version,omitempty"`
	Params      map[string]*workflow.ParamSpec `json:"params"`
	Presets     []string                       `json:"presets"`
}

// GetWorkflow returns one workflow's manifest view. Choice lists left empty
// in the manifest are filled from the live backend where the parameter name
// has a known source (checkpoints, samplers, schedulers), best effort.
// (GET /api/v1/workflows/:id)
func (s *Server) GetWorkflow(c echo.Context) error {
	wf, err := s.Registry.Get(c.Param("id"))
	if err != nil {
		return domainError(c, err)
	}

	detail := WorkflowDetail{
		ID:          wf.Manifest.ID,
		Name:        wf.Manifest.Name,
		Description: wf.Manifest.Description,
		Version:     wf.Manifest.Version,
		Params:      cloneParams(wf.Manifest.Params),
		Presets:     presetNames(wf.Manifest),
	}
	s.fillDynamicChoices(c, detail.Params)
	return c.JSON(http.StatusOK, detail)
}

// cloneParams copies the ParamSpec map so dynamic choice injection never
// touches the registry's cached manifest.
func cloneParams(params map[string]*workflow.ParamSpec) map[string]*workflow.ParamSpec {
	out := make(map[string]*workflow.ParamSpec, len(params))
	for name, spec := range params {
		cp := *spec
		out[name] = &cp
	}
	return out
}

func presetNames(m *workflow.Manifest) []string {
	names := make([]string, 0, len(m.Presets))
	for name := range m.Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Server) fillDynamicChoices(c echo.Context, params map[string]*workflow.ParamSpec) {
	ctx := c.Request().Context()

	var samplers map[string][]string
	for name, spec := range params {
		if len(spec.Choices) > 0 {
			continue
		}
		switch name {
		case "ckpt_name", "checkpoint":
			models, err := s.Comfy.ModelsInFolder(ctx, "checkpoints")
			if err != nil {
				continue
			}
			spec.Choices = toChoices(models)
		case "vae_name":
			models, err := s.Comfy.ModelsInFolder(ctx, "vae")
			if err != nil {
				continue
			}
			spec.Choices = toChoices(models)
		case "sampler_name", "scheduler":
			if samplers == nil {
				opts, err := s.Comfy.KSamplerOptions(ctx)
				if err != nil {
					continue
				}
				samplers = opts
			}
			spec.Choices = toChoices(samplers[name])
		}
	}
}

func toChoices(names []string) []interface{} {
	out := make([]interface{}, len(names))
	for i, n := range names {
		out[i] = n
	}
	return out
}

// loadFailure is the JSON view of one workflow that failed to load.
type loadFailure struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

// ReloadWorkflows rescans the workflows directory and reports the result,
// including per-directory failures so a broken manifest is visible without
// reading server logs.
// (POST /api/v1/workflows/reload)
func (s *Server) ReloadWorkflows(c echo.Context) error {
	s.Registry.Reload()

	failures := make([]loadFailure, 0)
	for _, f := range s.Registry.Failures() {
		failures = append(failures, loadFailure{ID: f.ID, Error: f.Err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"workflows": s.Registry.List(),
		"failures":  failures,
	})
}
