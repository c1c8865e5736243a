package report

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/webreport/scrapetask/internal/task"
)

func TestTemplateGeneratorBoundsOutput(t *testing.T) {
	t.Parallel()

	g := NewTemplateGenerator()
	prompt := strings.Repeat("word ", 200)
	out, err := g.Generate(context.Background(), prompt, task.GenerateOptions{MaxWords: 10})
	require.NoError(t, err)
	require.Len(t, strings.Fields(out), 10)
}

func TestTemplateGeneratorEmptyPrompt(t *testing.T) {
	t.Parallel()

	g := NewTemplateGenerator()
	_, err := g.Generate(context.Background(), "   ", task.GenerateOptions{})
	require.Error(t, err)

	var genErr *GenerationError
	require.ErrorAs(t, err, &genErr)
}

func TestFailingGenerator(t *testing.T) {
	t.Parallel()

	g := &FailingGenerator{Reason: "quota exhausted"}
	_, err := g.Generate(context.Background(), "anything", task.GenerateOptions{})
	require.ErrorContains(t, err, "quota exhausted")
}
