// Package mcp exposes the cockpit's workflows and job facade as MCP tools
// so agent clients can drive image generation.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"comfy-cockpit/backend/internal/services"
	"comfy-cockpit/backend/internal/workflow"
	"comfy-cockpit/backend/pkg/models"
)

type Server struct {
	mcpServer  *server.MCPServer
	jobService *services.JobService
	registry   *workflow.Registry
}

func NewServer(jobService *services.JobService, registry *workflow.Registry) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"Comfy Cockpit",
			"1.0.0",
			server.WithToolCapabilities(true),
		),
		jobService: jobService,
		registry:   registry,
	}

	s.registerTools()
	return s
}

func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"workflows_list",
			mcp.WithDescription("List available generation workflows"),
		),
		s.handleWorkflowsList,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"workflow_get",
			mcp.WithDescription("Get a workflow's parameters, constraints, and presets"),
			mcp.WithString("workflow_id", mcp.Required(), mcp.Description("The workflow id")),
		),
		s.handleWorkflowGet,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"images_generate",
			mcp.WithDescription("Submit a generation job and optionally wait for its outputs"),
			mcp.WithString("workflow_id", mcp.Required(), mcp.Description("The workflow id")),
			mcp.WithString("preset", mcp.Description("Optional preset name to merge under the params")),
			mcp.WithObject("params", mcp.Description("Workflow parameters, e.g. prompt, seed, steps")),
			mcp.WithNumber("count", mcp.Description("Number of jobs to submit (default 1)")),
			mcp.WithBoolean("wait", mcp.Description("Wait for completion before returning (default true)")),
			mcp.WithNumber("timeout_seconds", mcp.Description("Wait timeout in seconds (default 300)")),
		),
		s.handleImagesGenerate,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"job_get",
			mcp.WithDescription("Get a job's status, progress, and outputs"),
			mcp.WithString("id", mcp.Required(), mcp.Description("The job id")),
		),
		s.handleJobGet,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"assets_list",
			mcp.WithDescription("List recently harvested output images"),
			mcp.WithNumber("limit", mcp.Description("Maximum number of assets to return (default 20)")),
		),
		s.handleAssetsList,
	)
}

func (s *Server) handleWorkflowsList(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jsonBytes, _ := json.Marshal(s.registry.List())
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleWorkflowGet(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	id, ok := args["workflow_id"].(string)
	if !ok || id == "" {
		return mcp.NewToolResultError("Missing required parameter: workflow_id"), nil
	}

	wf, err := s.registry.Get(id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	jsonBytes, _ := json.Marshal(wf.Manifest)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

const (
	defaultWaitTimeout = 300 * time.Second
	maxBatchCount      = 8
	pollInterval       = 500 * time.Millisecond
)

func (s *Server) handleImagesGenerate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	workflowID, ok := args["workflow_id"].(string)
	if !ok || workflowID == "" {
		return mcp.NewToolResultError("Missing required parameter: workflow_id"), nil
	}
	preset, _ := args["preset"].(string)
	params, _ := args["params"].(map[string]interface{})

	count := 1
	if n, ok := args["count"].(float64); ok && n >= 1 {
		count = int(n)
		if count > maxBatchCount {
			count = maxBatchCount
		}
	}

	wait := true
	if w, ok := args["wait"].(bool); ok {
		wait = w
	}
	timeout := defaultWaitTimeout
	if t, ok := args["timeout_seconds"].(float64); ok && t > 0 {
		timeout = time.Duration(t * float64(time.Second))
	}

	jobs := make([]*models.Job, 0, count)
	for i := 0; i < count; i++ {
		job, err := s.jobService.Generate(ctx, services.GenerateRequest{
			WorkflowID: workflowID,
			Preset:     preset,
			Params:     batchParams(params, i),
		})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to generate: %v", err)), nil
		}
		jobs = append(jobs, job)
	}

	if wait {
		var err error
		jobs, err = s.waitForJobs(ctx, jobs, timeout)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
	}

	jsonBytes, _ := json.Marshal(jobs)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

// batchParams returns the params for the i-th job of a batch. A pinned
// non-negative seed is offset per job so a batch does not produce the same
// image count times; -1 stays -1 and is randomized downstream.
func batchParams(params map[string]interface{}, i int) map[string]interface{} {
	if i == 0 {
		return params
	}
	seed, ok := params["seed"].(float64)
	if !ok || seed < 0 {
		return params
	}
	out := make(map[string]interface{}, len(params))
	for k, v := range params {
		out[k] = v
	}
	out["seed"] = seed + float64(i)
	return out
}

// waitForJobs polls until every job reaches a terminal state or the timeout
// elapses. Timed-out jobs are returned in whatever state they are in.
func (s *Server) waitForJobs(ctx context.Context, jobs []*models.Job, timeout time.Duration) ([]*models.Job, error) {
	deadline := time.After(timeout)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		done := true
		out := make([]*models.Job, len(jobs))
		for i, job := range jobs {
			latest, err := s.jobService.GetJob(ctx, job.ID)
			if err != nil {
				return nil, fmt.Errorf("failed to poll job %s: %w", job.ID, err)
			}
			out[i] = latest
			if latest.Status != models.JobStatusCompleted && latest.Status != models.JobStatusFailed {
				done = false
			}
		}
		if done {
			return out, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline:
			return out, nil
		case <-ticker.C:
		}
	}
}

func (s *Server) handleJobGet(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	id, ok := args["id"].(string)
	if !ok || id == "" {
		return mcp.NewToolResultError("Missing required parameter: id"), nil
	}

	job, err := s.jobService.GetJob(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get job: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(job)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleAssetsList(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := 20
	if args, ok := request.Params.Arguments.(map[string]interface{}); ok {
		if n, ok := args["limit"].(float64); ok && n >= 1 {
			limit = int(n)
		}
	}

	assets, err := s.jobService.ListAssets(ctx, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list assets: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(assets)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func MountHTTPHandlers(mux *http.ServeMux, mcpServer *server.MCPServer) {
	// Use SSE server for /mcp/sse and /mcp/message endpoints
	sseServer := server.NewSSEServer(mcpServer, server.WithStaticBasePath("/mcp"))

	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		// Direct POST for tool calls
		if r.Method == http.MethodPost {
			sseServer.ServeHTTP(w, r)
			return
		}
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	})

	// SSE endpoints
	mux.HandleFunc("/mcp/sse", sseServer.ServeHTTP)
	mux.HandleFunc("/mcp/message", sseServer.ServeHTTP)
}
