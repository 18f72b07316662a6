package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"comfy-cockpit/backend/internal/comfy"
	"comfy-cockpit/backend/internal/config"
	"comfy-cockpit/backend/internal/events"
	"comfy-cockpit/backend/internal/logging"
	"comfy-cockpit/backend/internal/repository"
	"comfy-cockpit/backend/internal/services"
	"comfy-cockpit/backend/internal/storage"
	"comfy-cockpit/backend/internal/workflow"
)

const testManifest = `{
	"id": "txt2img",
	"name": "Text to Image",
	"description": "Basic text to image",
	"template_file": "template_api.json",
	"params": {
		"prompt": {"type": "string", "required": true,
			"patch": {"node_id": "6", "field": "inputs.text"}},
		"steps": {"type": "integer", "default": 20, "min": 1, "max": 150,
			"patch": {"node_id": "3", "field": "inputs.steps"}},
		"sampler_name": {"type": "string",
			"patch": {"node_id": "3", "field": "inputs.sampler_name"}}
	},
	"presets": {"fast": {"steps": 8}}
}`

const testTemplate = `{
	"3": {"class_type": "KSampler", "inputs": {"seed": 0, "steps": 20, "sampler_name": "euler"}},
	"6": {"class_type": "CLIPTextEncode", "inputs": {"text": ""}}
}`

// fakeBackend serves the slice of the ComfyUI HTTP API the handlers touch.
func fakeBackend(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/system_stats", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"system": map[string]interface{}{}})
	})
	mux.HandleFunc("/prompt", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"prompt_id": "p-1"})
	})
	mux.HandleFunc("/models/checkpoints", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]string{"sd15.safetensors", "sdxl.safetensors"})
	})
	mux.HandleFunc("/models/vae", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]string{})
	})
	mux.HandleFunc("/object_info/KSampler", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"KSampler": map[string]interface{}{
				"input": map[string]interface{}{
					"required": map[string]interface{}{
						"sampler_name": []interface{}{[]interface{}{"euler", "dpmpp_2m"}},
						"scheduler":    []interface{}{[]interface{}{"normal"}},
					},
				},
			},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestServer(t *testing.T) (*Server, *echo.Echo) {
	t.Helper()

	root := t.TempDir()
	dir := filepath.Join(root, "txt2img")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "manifest.json"), []byte(testManifest), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "template_api.json"), []byte(testTemplate), 0o644))

	backend := fakeBackend(t)
	log := logging.NewLogger()
	registry := workflow.NewRegistry(root, log)
	client := comfy.NewClient(backend.URL)
	hub := events.NewHub(log)
	assets, err := storage.NewAssetStore(filepath.Join(t.TempDir(), "assets"))
	require.NoError(t, err)

	jobs := services.NewJobService(repository.NewMemoryJobStore(), registry, client, assets, hub, log, true)

	cfg := &config.Config{}
	cfg.Comfy.URL = backend.URL
	cfg.Comfy.InputDir = filepath.Join(t.TempDir(), "inputs")
	cfg.Jobs.DefaultWorkflow = "txt2img"

	srv := NewServer(cfg, jobs, registry, client, hub, assets, log)
	e := echo.New()
	srv.RegisterRoutes(e)
	return srv, e
}

func doRequest(e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	_, e := newTestServer(t)
	rec := doRequest(e, http.MethodGet, "/api/v1/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var status HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "ok", status.Status)
	assert.Equal(t, "ok", status.Comfy)
}

func TestListWorkflows(t *testing.T) {
	_, e := newTestServer(t)
	rec := doRequest(e, http.MethodGet, "/api/v1/workflows", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var infos []workflow.Info
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &infos))
	require.Len(t, infos, 1)
	assert.Equal(t, "txt2img", infos[0].ID)
}

func TestGetWorkflowFillsDynamicChoices(t *testing.T) {
	srv, e := newTestServer(t)
	rec := doRequest(e, http.MethodGet, "/api/v1/workflows/txt2img", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var detail WorkflowDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
	assert.Equal(t, []string{"fast"}, detail.Presets)
	require.Contains(t, detail.Params, "sampler_name")
	assert.Equal(t, []interface{}{"euler", "dpmpp_2m"}, detail.Params["sampler_name"].Choices)

	// the cached manifest must stay untouched
	wf, err := srv.Registry.Get("txt2img")
	require.NoError(t, err)
	assert.Empty(t, wf.Manifest.Params["sampler_name"].Choices)
}

func TestGetWorkflowNotFound(t *testing.T) {
	_, e := newTestServer(t)
	rec := doRequest(e, http.MethodGet, "/api/v1/workflows/missing", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Header().Get(echo.HeaderContentType), "application/problem+json")

	var p ProblemDetails
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Equal(t, "Workflow Not Found", p.Title)
}

func TestCreateJob(t *testing.T) {
	_, e := newTestServer(t)
	rec := doRequest(e, http.MethodPost, "/api/v1/jobs",
		`{"workflow_id": "txt2img", "params": {"prompt": "a red fox"}}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var job map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, "queued", job["status"])
	assert.Equal(t, "p-1", job["prompt_id"])

	rec = doRequest(e, http.MethodGet, "/api/v1/jobs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var jobs []map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &jobs))
	assert.Len(t, jobs, 1)
}

func TestCreateJobUsesDefaultWorkflow(t *testing.T) {
	_, e := newTestServer(t)
	rec := doRequest(e, http.MethodPost, "/api/v1/jobs", `{"params": {"prompt": "x"}}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestCreateJobValidationProblems(t *testing.T) {
	_, e := newTestServer(t)

	cases := []struct {
		name   string
		body   string
		status int
		title  string
	}{
		{
			name:   "missing required param",
			body:   `{"workflow_id": "txt2img", "params": {}}`,
			status: http.StatusBadRequest,
			title:  "Missing Required Parameter",
		},
		{
			name:   "out of range",
			body:   `{"workflow_id": "txt2img", "params": {"prompt": "x", "steps": 151}}`,
			status: http.StatusBadRequest,
			title:  "Parameter Out Of Range",
		},
		{
			name:   "bad type",
			body:   `{"workflow_id": "txt2img", "params": {"prompt": "x", "steps": "lots"}}`,
			status: http.StatusBadRequest,
			title:  "Invalid Parameter Type",
		},
		{
			name:   "unknown workflow",
			body:   `{"workflow_id": "nope", "params": {"prompt": "x"}}`,
			status: http.StatusNotFound,
			title:  "Workflow Not Found",
		},
		{
			name:   "unknown preset",
			body:   `{"workflow_id": "txt2img", "preset": "nope", "params": {"prompt": "x"}}`,
			status: http.StatusBadRequest,
			title:  "Preset Not Found",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doRequest(e, http.MethodPost, "/api/v1/jobs", tc.body)
			require.Equal(t, tc.status, rec.Code, rec.Body.String())
			var p ProblemDetails
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
			assert.Equal(t, tc.title, p.Title)
		})
	}
}

func TestListCheckpoints(t *testing.T) {
	_, e := newTestServer(t)
	rec := doRequest(e, http.MethodGet, "/api/v1/models/checkpoints", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string][]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, []string{"sd15.safetensors", "sdxl.safetensors"}, body["models"])
}

func TestReloadWorkflows(t *testing.T) {
	srv, e := newTestServer(t)

	// drop a broken workflow dir next to the good one and reload
	base := filepath.Dir(func() string {
		wf, err := srv.Registry.Get("txt2img")
		require.NoError(t, err)
		return wf.Dir
	}())
	badDir := filepath.Join(base, "broken")
	require.NoError(t, os.MkdirAll(badDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(badDir, "manifest.json"), []byte(`{oops`), 0o644))

	rec := doRequest(e, http.MethodPost, "/api/v1/workflows/reload", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Workflows []workflow.Info `json:"workflows"`
		Failures  []loadFailure   `json:"failures"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Workflows, 1)
	require.Len(t, body.Failures, 1)
	assert.Equal(t, "broken", body.Failures[0].ID)
}

func TestAssetNotFound(t *testing.T) {
	_, e := newTestServer(t)
	rec := doRequest(e, http.MethodGet, "/api/v1/assets/nope", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}
