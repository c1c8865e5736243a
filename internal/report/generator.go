// Package report provides implementations of the summary generation
// capability consumed while building a report. The capability is external
// to the state machine; implementations here are injectable stand-ins with
// the same contract an AI-backed generator would satisfy.
package report

import (
	"context"
	"fmt"
	"strings"

	"github.com/webreport/scrapetask/internal/task"
)

// GenerationError wraps a failed generation call.
type GenerationError struct {
	Err error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed: %v", e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// TemplateGenerator derives a deterministic summary from the prompt text.
// It stands in for an AI-backed generator in deployments without one.
type TemplateGenerator struct{}

// NewTemplateGenerator returns a TemplateGenerator.
func NewTemplateGenerator() *TemplateGenerator {
	return &TemplateGenerator{}
}

// Generate echoes a bounded restatement of the prompt. MaxWords caps
// the output length.
func (g *TemplateGenerator) Generate(_ context.Context, prompt string, opts task.GenerateOptions) (string, error) {
	words := strings.Fields(prompt)
	if opts.MaxWords > 0 && len(words) > opts.MaxWords {
		words = words[:opts.MaxWords]
	}
	if len(words) == 0 {
		return "", &GenerationError{Err: fmt.Errorf("empty prompt")}
	}
	return strings.Join(words, " "), nil
}

// FailingGenerator always fails; used to exercise the pipeline's
// generation failure path in tests.
type FailingGenerator struct {
	Reason string
}

// Generate returns a GenerationError.
func (g *FailingGenerator) Generate(context.Context, string, task.GenerateOptions) (string, error) {
	reason := g.Reason
	if reason == "" {
		reason = "generator unavailable"
	}
	return "", &GenerationError{Err: fmt.Errorf("%s", reason)}
}
