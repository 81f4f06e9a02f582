package apiflavors

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"google.golang.org/genai"

	"sprinty/internal/agentflavor"
)

const defaultGeminiModel = "gemini-2.5-pro"

// GeminiFlavor calls the Gemini API directly via google.golang.org/genai.
// Grounded on the teacher's pkg/agent/internal/llmimpl/google/client.go,
// collapsed to a single-turn, tool-less completion.
type GeminiFlavor struct {
	apiKey string
	client *genai.Client
}

// NewGemini builds a GeminiFlavor from an API key. The underlying client is
// created lazily on first Invoke, since genai.NewClient requires a context.
func NewGemini(apiKey string) *GeminiFlavor {
	return &GeminiFlavor{apiKey: apiKey}
}

func (f *GeminiFlavor) Name() string { return "gemini-api" }

func (f *GeminiFlavor) CheckInstalled(ctx context.Context) (bool, error) {
	return f.apiKey != "", nil
}

func (f *GeminiFlavor) Version(ctx context.Context) (string, error) {
	return defaultGeminiModel, nil
}

func (f *GeminiFlavor) Invoke(ctx context.Context, model, promptText, outputPath string, timeout time.Duration) (agentflavor.Result, error) {
	start := time.Now()
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if model == "" {
		model = defaultGeminiModel
	}

	if f.client == nil {
		client, err := genai.NewClient(callCtx, &genai.ClientConfig{
			APIKey:  f.apiKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return agentflavor.Result{}, fmt.Errorf("apiflavors: gemini client: %w", err)
		}
		f.client = client
	}

	contents := []*genai.Content{{
		Role:  "user",
		Parts: []*genai.Part{{Text: promptText}},
	}}

	result, err := f.client.Models.GenerateContent(callCtx, model, contents, nil)
	duration := time.Since(start)

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return agentflavor.Result{}, fmt.Errorf("apiflavors: mkdir for output: %w", err)
	}

	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			_ = os.WriteFile(outputPath, []byte("timed out waiting on gemini API"), 0o644)
			return agentflavor.Result{OutputPath: outputPath, Duration: duration, TimedOut: true, ExitCode: 124}, nil
		}
		return agentflavor.Result{}, fmt.Errorf("apiflavors: gemini invoke: %w", err)
	}

	var text string
	if result != nil {
		text = result.Text()
	}
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
