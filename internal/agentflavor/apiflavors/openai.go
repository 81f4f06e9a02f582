package apiflavors

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"

	"sprinty/internal/agentflavor"
)

const defaultOpenAIModel = "gpt-5"

// OpenAIFlavor calls the OpenAI Responses API directly via openai-go.
// Grounded on the teacher's pkg/agent/internal/llmimpl/openaiofficial/client.go,
// collapsed to the single-turn, tool-less shape this driver needs.
type OpenAIFlavor struct {
	client openai.Client
	apiKey string
}

// NewOpenAI builds an OpenAIFlavor from an API key. An empty apiKey is
// accepted at construction time; CheckInstalled reports real usability.
func NewOpenAI(apiKey string) *OpenAIFlavor {
	return &OpenAIFlavor{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		apiKey: apiKey,
	}
}

func (f *OpenAIFlavor) Name() string { return "openai-api" }

func (f *OpenAIFlavor) CheckInstalled(ctx context.Context) (bool, error) {
	return f.apiKey != "", nil
}

func (f *OpenAIFlavor) Version(ctx context.Context) (string, error) {
	return defaultOpenAIModel, nil
}

// Invoke sends promptText as a single input string through the Responses API
// and writes the resulting text to outputPath.
func (f *OpenAIFlavor) Invoke(ctx context.Context, model, promptText, outputPath string, timeout time.Duration) (agentflavor.Result, error) {
	start := time.Now()
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if model == "" {
		model = defaultOpenAIModel
	}

	params := responses.ResponseNewParams{
		Model: model,
		Input: responses.ResponseNewParamsInputUnion{OfString: openai.String(promptText)},
	}

	resp, err := f.client.Responses.New(callCtx, params)
	duration := time.Since(start)

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return agentflavor.Result{}, fmt.Errorf("apiflavors: mkdir for output: %w", err)
	}

	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			_ = os.WriteFile(outputPath, []byte("timed out waiting on openai API"), 0o644)
			return agentflavor.Result{OutputPath: outputPath, Duration: duration, TimedOut: true, ExitCode: 124}, nil
		}
		return agentflavor.Result{}, fmt.Errorf("apiflavors: openai invoke: %w", err)
	}

	text := resp.OutputText()
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
