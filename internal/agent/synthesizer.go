package agent

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/polzovatel/browser-pilot/internal/llm"
)

const synthesisNotesTail = 6000

const synthesizerSystemPrompt = `You write the final answer for a completed browser research task. You get
the task and raw notes collected from visited pages. Write a direct,
complete answer in the task's language. Use only the notes; say plainly
when something could not be found. No preamble about the process.`

// Synthesizer turns accumulated research notes into the final answer shown
// to the user.
type Synthesizer struct {
	llm    llm.Client
	logger zerolog.Logger
}

func NewSynthesizer(client llm.Client, logger zerolog.Logger) *Synthesizer {
	return &Synthesizer{llm: client, logger: logger}
}

// Synthesize returns the findings text. The session still completes when the
// model call fails, but the failure is said out loud rather than masked by a
// bare completion message.
func (s *Synthesizer) Synthesize(ctx context.Context, sess *Session) string {
	notes := sess.NotesTail(synthesisNotesTail)
	if notes == "" {
		return ""
	}
	resp, err := s.llm.Generate(ctx, llm.Request{
		System:      synthesizerSystemPrompt,
		Messages:    []llm.Message{{Role: "user", Content: "TASK: " + sess.Task + "\n\nNOTES:\n" + notes}},
		Temperature: 0.3,
		MaxTokens:   1200,
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("session", sess.ID).Msg("synthesis failed")
		return "Task finished, but synthesis failed: " + err.Error()
	}
	return "RESEARCH FINDINGS:\n" + resp.Text
}
