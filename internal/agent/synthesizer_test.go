package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestSynthesizeBuildsFindings(t *testing.T) {
	f := &fakeLLM{responses: []string{"The three articles cover A, B and C."}}
	s := NewSynthesizer(f, zerolog.Nop())
	sess := NewSession("s1", "find three articles")
	sess.AddNote("Read", strings.Repeat("article body ", 20))

	out := s.Synthesize(context.Background(), sess)
	assert.True(t, strings.HasPrefix(out, "RESEARCH FINDINGS:"))
	assert.Contains(t, out, "A, B and C")
}

func TestSynthesizeWithoutNotesStaysSilent(t *testing.T) {
	f := &fakeLLM{err: errors.New("must not be called")}
	s := NewSynthesizer(f, zerolog.Nop())
	sess := NewSession("s1", "t")

	assert.Empty(t, s.Synthesize(context.Background(), sess))
	assert.Empty(t, f.requests)
}

func TestSynthesizeSurfacesModelFailure(t *testing.T) {
	f := &fakeLLM{err: errors.New("model overloaded")}
	s := NewSynthesizer(f, zerolog.Nop())
	sess := NewSession("s1", "find three articles")
	sess.AddNote("Read", strings.Repeat("article body ", 20))

	out := s.Synthesize(context.Background(), sess)
	assert.Contains(t, out, "synthesis failed")
	assert.Contains(t, out, "model overloaded")
}
