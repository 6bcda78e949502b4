package agent

import (
	"context"
	"strings"
	"sync"

	"github.com/polzovatel/browser-pilot/internal/browser"
	"github.com/polzovatel/browser-pilot/internal/scanner"
)

const (
	maxNoteLen = 2000
	minNoteLen = 50
)

// Note is one research snippet extracted after a completed objective.
type Note struct {
	SourceStepTitle string `json:"sourceStepTitle"`
	Text            string `json:"text"`
}

// Session is the live state of one task. It is created when a task arrives
// and destroyed only on explicit stop, never on completion, so the user can
// inspect the browser afterwards.
type Session struct {
	mu sync.Mutex

	ID   string
	Task string // preserved verbatim; multilingual prompts must survive

	Plan      *Plan
	PlanIndex int
	Completed []string
	Notes     []Note

	Paused                  bool
	PendingAction           *Action
	PausedForHumanObjective string

	NeedsSynthesis bool
	StepCounter    int

	browser *browser.Session
	surface Surface
	loop    *loopState
	cancel  context.CancelFunc
}

func NewSession(id, task string) *Session {
	return &Session{ID: id, Task: task}
}

// CurrentStep returns the objective the traversal is on, or nil past the
// plan's end.
func (s *Session) CurrentStep() *PlanStep {
	if s.Plan == nil || s.PlanIndex < 0 || s.PlanIndex >= len(s.Plan.Steps) {
		return nil
	}
	return &s.Plan.Steps[s.PlanIndex]
}

// NextStepNumber advances the session-wide step counter.
func (s *Session) NextStepNumber() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.StepCounter++
	return s.StepCounter
}

// AddNote appends a research note, clipped to the per-note cap. Extracts at
// or under minNoteLen chars are navigation chrome, not findings, and are
// dropped.
func (s *Session) AddNote(stepTitle, text string) {
	text = strings.TrimSpace(text)
	if len(text) <= minNoteLen {
		return
	}
	if len(text) > maxNoteLen {
		text = text[:maxNoteLen]
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Notes = append(s.Notes, Note{SourceStepTitle: stepTitle, Text: text})
}

// NotesTail renders accumulated notes, keeping only the final maxChars so
// prompts stay bounded while a session keeps every note.
func (s *Session) NotesTail(maxChars int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var b strings.Builder
	for _, n := range s.Notes {
		b.WriteString("[" + n.SourceStepTitle + "] " + n.Text + "\n")
	}
	out := b.String()
	if maxChars > 0 && len(out) > maxChars {
		out = out[len(out)-maxChars:]
	}
	return strings.TrimSpace(out)
}

// HasSubstantialNote reports whether any note exceeds minLen chars; the
// synthesis gate.
func (s *Session) HasSubstantialNote(minLen int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.Notes {
		if len(n.Text) > minLen {
			return true
		}
	}
	return false
}

// SetPaused records a pause. A paused session always carries either a
// pending action or a human objective marker.
func (s *Session) SetPaused(pending *Action, humanObjective string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Paused = true
	s.PendingAction = pending
	s.PausedForHumanObjective = humanObjective
}

// ClearPause resets pause state on resume.
func (s *Session) ClearPause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Paused = false
	s.PendingAction = nil
	s.PausedForHumanObjective = ""
}

// MarkObjectiveDone records the title and advances the plan index.
func (s *Session) MarkObjectiveDone(title string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Completed = append(s.Completed, title)
	if s.Plan != nil && s.PlanIndex < len(s.Plan.Steps) {
		s.PlanIndex++
	}
}

func (s *Session) rebind(sc *scanner.Scanner) {
	if s.browser == nil {
		return
	}
	page := s.browser.RebindNewestPage()
	sc.Bind(page)
	s.surface = sc
}
