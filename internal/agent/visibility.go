package agent

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/polzovatel/browser-pilot/internal/llm"
)

const visibilitySystemPrompt = `You check whether the content a browser objective needs is already in the
visible page text. Answer with exactly one word: YES or NO.`

// VisibilityChecker asks the model a cheap yes/no question: does the visible
// text already contain what the current objective needs? It gates
// auto-scrolling; on any failure it fails open (treat as visible) so a flaky
// model can never trigger an endless scroll.
type VisibilityChecker struct {
	llm    llm.Client
	logger zerolog.Logger
}

func NewVisibilityChecker(client llm.Client, logger zerolog.Logger) *VisibilityChecker {
	return &VisibilityChecker{llm: client, logger: logger}
}

func (v *VisibilityChecker) ContentVisible(ctx context.Context, objective, pageText string) bool {
	if len(pageText) > maxPromptPageText {
		pageText = pageText[:maxPromptPageText]
	}
	prompt := "OBJECTIVE: " + objective + "\n\nVISIBLE TEXT:\n" + pageText +
		"\n\nIs the content the objective needs already visible? YES or NO."
	resp, err := v.llm.Generate(ctx, llm.Request{
		System:      visibilitySystemPrompt,
		Messages:    []llm.Message{{Role: "user", Content: prompt}},
		Temperature: 0.0,
		MaxTokens:   8,
	})
	if err != nil {
		v.logger.Warn().Err(err).Msg("visibility check failed, assuming visible")
		return true
	}
	answer := strings.ToUpper(strings.TrimSpace(resp.Text))
	return !strings.HasPrefix(answer, "NO")
}
