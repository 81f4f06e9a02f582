package apiflavors

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/ollama/ollama/api"

	"sprinty/internal/agentflavor"
)

const defaultOllamaModel = "qwen2.5-coder"

// OllamaFlavor talks to a local Ollama server rather than a hosted API, so
// unlike the other apiflavors it has no API key to check — CheckInstalled
// instead probes server reachability. Grounded on the teacher's
// pkg/agent/internal/llmimpl/ollama/client.go.
type OllamaFlavor struct {
	client  *api.Client
	hostURL string
}

// NewOllama builds an OllamaFlavor pointed at hostURL (e.g.
// "http://localhost:11434"). An empty hostURL falls back to that default.
func NewOllama(hostURL string) *OllamaFlavor {
	if hostURL == "" {
		hostURL = "http://localhost:11434"
	}
	parsed, err := url.Parse(hostURL)
	if err != nil {
		parsed, _ = url.Parse("http://localhost:11434")
	}
	return &OllamaFlavor{
		client:  api.NewClient(parsed, http.DefaultClient),
		hostURL: hostURL,
	}
}

func (f *OllamaFlavor) Name() string { return "ollama-api" }

// CheckInstalled reports whether the configured Ollama server answers a
// heartbeat request within a short timeout.
func (f *OllamaFlavor) CheckInstalled(ctx context.Context) (bool, error) {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := f.client.Heartbeat(pingCtx); err != nil {
		return false, nil
	}
	return true, nil
}

func (f *OllamaFlavor) Version(ctx context.Context) (string, error) {
	return defaultOllamaModel, nil
}

func (f *OllamaFlavor) Invoke(ctx context.Context, model, promptText, outputPath string, timeout time.Duration) (agentflavor.Result, error) {
	start := time.Now()
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if model == "" {
		model = defaultOllamaModel
	}

	stream := false
	req := &api.ChatRequest{
		Model: model,
		Messages: []api.Message{
			{Role: "user", Content: promptText},
		},
		Stream: &stream,
	}

	var response api.ChatResponse
	err := f.client.Chat(callCtx, req, func(resp api.ChatResponse) error {
		response = resp
		return nil
	})
	duration := time.Since(start)

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return agentflavor.Result{}, fmt.Errorf("apiflavors: mkdir for output: %w", err)
	}

	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			_ = os.WriteFile(outputPath, []byte("timed out waiting on ollama server"), 0o644)
			return agentflavor.Result{OutputPath: outputPath, Duration: duration, TimedOut: true, ExitCode: 124}, nil
		}
		return agentflavor.Result{}, fmt.Errorf("apiflavors: ollama invoke: %w", err)
	}

	text := response.Message.Content
	if err := os.WriteFile(outputPath, []byte(text), 0o644); err != nil {
		return agentflavor.Result{}, fmt.Errorf("apiflavors: write output: %w", err)
	}

	return agentflavor.Result{
		OutputPath: outputPath,
		Stdout:     text,
		Duration:   duration,
		ExitCode:   0,
	}, nil
}
