// Package comfy is a thin HTTP client for the ComfyUI server API. It only
// prepares and submits graph documents and fetches results; graph execution
// semantics stay on the backend's side.
package comfy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// APIError is a non-2xx response from ComfyUI, with the body truncated to
// keep error messages renderable.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("comfy error: %d %s", e.Status, e.Body)
}

const maxErrorBody = 2000

// Client talks to one ComfyUI server.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 60 * time.Second},
	}
}

// BaseURL returns the configured ComfyUI base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// WSURL returns the websocket endpoint ComfyUI publishes execution events
// on, for the given client id.
func (c *Client) WSURL(clientID string) string {
	ws := c.baseURL
	switch {
	case strings.HasPrefix(ws, "https://"):
		ws = "wss://" + strings.TrimPrefix(ws, "https://")
	case strings.HasPrefix(ws, "http://"):
		ws = "ws://" + strings.TrimPrefix(ws, "http://")
	default:
		ws = "ws://" + ws
	}
	return ws + "/ws?clientId=" + url.QueryEscape(clientID)
}

// SubmitPrompt queues a graph document for execution and returns the prompt
// id ComfyUI assigned to it.
func (c *Client) SubmitPrompt(ctx context.Context, graph interface{}, clientID string) (string, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"prompt":    graph,
		"client_id": clientID,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode prompt: %w", err)
	}

	var result struct {
		PromptID string `json:"prompt_id"`
	}
	if err := c.postJSON(ctx, "/prompt", payload, &result); err != nil {
		return "", err
	}
	if result.PromptID == "" {
		return "", fmt.Errorf("comfy did not return a prompt_id")
	}
	return result.PromptID, nil
}

// History fetches the execution record for a prompt id. The returned
// document maps prompt id -> {outputs: {node id: {images: [...]}}}.
func (c *Client) History(ctx context.Context, promptID string) (map[string]interface{}, error) {
	var out map[string]interface{}
	if err := c.getJSON(ctx, "/history/"+url.PathEscape(promptID), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ViewImage downloads one output image.
func (c *Client) ViewImage(ctx context.Context, filename, subfolder, folderType string) ([]byte, error) {
	query := url.Values{}
	query.Set("filename", filename)
	query.Set("subfolder", subfolder)
	query.Set("type", folderType)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/view?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, readAPIError(resp)
	}
	return io.ReadAll(resp.Body)
}

// ModelsInFolder lists model files ComfyUI knows about for a models folder
// (e.g. "checkpoints", "vae"). The response shape varies across ComfyUI
// versions; everything is normalized to a flat name list.
func (c *Client) ModelsInFolder(ctx context.Context, folder string) ([]string, error) {
	var raw interface{}
	if err := c.getJSON(ctx, "/models/"+url.PathEscape(folder), nil, &raw); err != nil {
		return nil, err
	}
	return normalizeModelList(raw), nil
}

func normalizeModelList(raw interface{}) []string {
	pull := func(items []interface{}) []string {
		out := make([]string, 0, len(items))
		for _, item := range items {
			switch v := item.(type) {
			case string:
				out = append(out, v)
			case map[string]interface{}:
				if name, ok := v["name"].(string); ok && name != "" {
					out = append(out, name)
				}
			}
		}
		return out
	}

	switch v := raw.(type) {
	case []interface{}:
		return pull(v)
	case map[string]interface{}:
		for _, key := range []string{"models", "items", "data"} {
			if items, ok := v[key].([]interface{}); ok {
				return pull(items)
			}
		}
	}
	return []string{}
}

// ObjectInfo fetches node class metadata. An empty nodeClass fetches the
// full catalog.
func (c *Client) ObjectInfo(ctx context.Context, nodeClass string) (map[string]interface{}, error) {
	path := "/object_info"
	if nodeClass != "" {
		path += "/" + url.PathEscape(nodeClass)
	}
	var out map[string]interface{}
	if err := c.getJSON(ctx, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// KSamplerOptions discovers sampler_name and scheduler choices from the
// KSampler node metadata, best effort. Missing keys are simply absent.
func (c *Client) KSamplerOptions(ctx context.Context) (map[string][]string, error) {
	info, err := c.ObjectInfo(ctx, "KSampler")
	if err != nil {
		return nil, err
	}

	node := info
	if inner, ok := info["KSampler"].(map[string]interface{}); ok {
		node = inner
	}
	input, _ := node["input"].(map[string]interface{})
	required, _ := input["required"].(map[string]interface{})

	out := map[string][]string{}
	for _, key := range []string{"sampler_name", "scheduler"} {
		if choices := pullChoices(required[key]); len(choices) > 0 {
			out[key] = choices
		}
	}
	return out, nil
}

// pullChoices digs a string list out of the various shapes ComfyUI uses for
// input option metadata: [[...choices...], {...}], [[...choices...]],
// ["STRING", {"choices": [...]}] or a flat scalar list.
func pullChoices(v interface{}) []string {
	toStrings := func(items []interface{}) []string {
		out := make([]string, 0, len(items))
		for _, item := range items {
			switch x := item.(type) {
			case string:
				out = append(out, x)
			case float64:
				out = append(out, formatFloat(x))
			default:
				return nil
			}
		}
		return out
	}

	list, ok := v.([]interface{})
	if !ok {
		if m, ok := v.(map[string]interface{}); ok {
			if choices, ok := m["choices"].([]interface{}); ok {
				return toStrings(choices)
			}
		}
		return nil
	}

	if len(list) >= 1 {
		if inner, ok := list[0].([]interface{}); ok {
			return toStrings(inner)
		}
	}
	if len(list) == 2 {
		if m, ok := list[1].(map[string]interface{}); ok {
			if choices, ok := m["choices"].([]interface{}); ok {
				return toStrings(choices)
			}
		}
	}
	return toStrings(list)
}

// SystemStats fetches /system_stats, used by the health endpoint to report
// ComfyUI reachability.
func (c *Client) SystemStats(ctx context.Context) (map[string]interface{}, error) {
	var out map[string]interface{}
	if err := c.getJSON(ctx, "/system_stats", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out interface{}) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) postJSON(ctx context.Context, path string, body []byte, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("comfy request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return readAPIError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode comfy response: %w", err)
	}
	return nil
}

func readAPIError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &APIError{Status: resp.StatusCode, Body: string(body)}
}

func formatFloat(f float64) string {
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%f", f), "0"), ".")
}
