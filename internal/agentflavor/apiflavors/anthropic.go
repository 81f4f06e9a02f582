// Package apiflavors provides the four direct-API agentflavor.Flavor
// implementations: anthropic, openai, gemini, ollama. Each writes the model's
// response text to the output path and returns it as Stdout; none of them
// writes status.json. Grounded on the teacher's
// pkg/agent/internal/llmimpl/{anthropic,openaiofficial,google,ollama}/client.go
// (one hosted-API client per provider behind the same llm.LLMClient
// interface) and pkg/coder/claude/installer.go for the install-check shape.
package apiflavors

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"sprinty/internal/agentflavor"
)

const defaultAnthropicModel = "claude-sonnet-4-5"

// AnthropicFlavor calls the Anthropic Messages API directly via
// anthropic-sdk-go, rather than shelling out to a CLI.
type AnthropicFlavor struct {
	client anthropic.Client
	apiKey string
}

// NewAnthropic builds an AnthropicFlavor from an API key. An empty apiKey is
// accepted at construction time; CheckInstalled reports the real usability.
func NewAnthropic(apiKey string) *AnthropicFlavor {
	return &AnthropicFlavor{
		client: anthropic.NewClient(option.WithAPIKey(apiKey), option.WithMaxRetries(0)),
		apiKey: apiKey,
	}
}

func (f *AnthropicFlavor) Name() string { return "anthropic-api" }

// CheckInstalled reports whether an API key is configured; this flavor has
// no binary to probe.
func (f *AnthropicFlavor) CheckInstalled(ctx context.Context) (bool, error) {
	return f.apiKey != "", nil
}

func (f *AnthropicFlavor) Version(ctx context.Context) (string, error) {
	return defaultAnthropicModel, nil
}

// Invoke sends promptText as a single user message and writes the response
// text to outputPath; on a timeout it writes a short timed-out message
// instead, and other API errors are returned without writing the file.
func (f *AnthropicFlavor) Invoke(ctx context.Context, model, promptText, outputPath string, timeout time.Duration) (agentflavor.Result, error) {
	start := time.Now()
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if model == "" {
		model = defaultAnthropicModel
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: 8192,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(promptText)),
		},
	}

	resp, err := f.client.Messages.New(callCtx, params)
	duration := time.Since(start)

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return agentflavor.Result{}, fmt.Errorf("apiflavors: mkdir for output: %w", err)
	}

	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			_ = os.WriteFile(outputPath, []byte("timed out waiting on anthropic API"), 0o644)
			return agentflavor.Result{OutputPath: outputPath, Duration: duration, TimedOut: true, ExitCode: 124}, nil
		}
		return agentflavor.Result{}, fmt.Errorf("apiflavors: anthropic invoke: %w", err)
	}

	text := extractAnthropicText(resp)
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

func extractAnthropicText(resp *anthropic.Message) string {
	if resp == nil {
		return ""
	}
	var text string
	for i := range resp.Content {
		block := &resp.Content[i]
		if block.Type == "text" {
			text += block.AsText().Text
		}
	}
	if text == "" {
		raw, _ := json.Marshal(resp)
		return string(raw)
	}
	return text
}
