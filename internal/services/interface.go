package services

import "context"

// GraphClient is the slice of the ComfyUI API the job service needs. It is
// an interface so tests can run against a fake generation backend.
type GraphClient interface {
	// SubmitPrompt queues a patched graph and returns the backend prompt id.
	SubmitPrompt(ctx context.Context, graph interface{}, clientID string) (string, error)
	// History returns the execution record for a prompt id.
	History(ctx context.Context, promptID string) (map[string]interface{}, error)
	// ViewImage downloads one output image.
	ViewImage(ctx context.Context, filename, subfolder, folderType string) ([]byte, error)
	// WSURL returns the event websocket endpoint for a client id.
	WSURL(clientID string) string
}
