package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
)

// reconnectDelay paces retries when the generation backend is down.
const reconnectDelay = 3 * time.Second

// comfyEvent is the envelope ComfyUI pushes on its websocket.
type comfyEvent struct {
	Type string `json:"type"`
	Data struct {
		PromptID string   `json:"prompt_id"`
		Node     *string  `json:"node"`
		Value    float64  `json:"value"`
		Max      float64  `json:"max"`
		Message  string   `json:"exception_message"`
		NodeType string   `json:"node_type"`
		Executed []string `json:"executed"`
	} `json:"data"`
}

// Watch connects to the ComfyUI event websocket and translates execution
// events into job state transitions. It reconnects until the context is
// cancelled; a backend restart must not require a cockpit restart.
func (s *JobService) Watch(ctx context.Context) {
	url := s.comfy.WSURL(s.clientID)
	for {
		if ctx.Err() != nil {
			return
		}
		if err := s.watchOnce(ctx, url); err != nil && ctx.Err() == nil {
			s.log.Warn("event stream disconnected: %v (reconnecting)", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

func (s *JobService) watchOnce(ctx context.Context, url string) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	s.log.Info("connected to generation event stream")

	// unblock ReadMessage on shutdown
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		// binary frames carry preview images; not our concern
		if msgType != websocket.TextMessage {
			continue
		}
		s.handleEvent(ctx, data)
	}
}

func (s *JobService) handleEvent(ctx context.Context, data []byte) {
	var ev comfyEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return
	}
	if ev.Data.PromptID == "" {
		return
	}

	switch ev.Type {
	case "execution_start":
		s.markRunning(ctx, ev.Data.PromptID)
	case "progress":
		s.recordProgress(ctx, ev.Data.PromptID, ev.Data.Value, ev.Data.Max)
	case "executing":
		// node == null marks the end of the whole prompt
		if ev.Data.Node == nil {
			s.completeJob(ctx, ev.Data.PromptID)
		}
	case "execution_success":
		s.completeJob(ctx, ev.Data.PromptID)
	case "execution_error":
		msg := ev.Data.Message
		if msg == "" {
			msg = "execution failed"
		}
		s.markFailed(ctx, ev.Data.PromptID, msg)
	case "execution_interrupted":
		s.markFailed(ctx, ev.Data.PromptID, "execution interrupted")
	}
}
