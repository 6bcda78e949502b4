package agent

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polzovatel/browser-pilot/internal/scanner"
	"github.com/polzovatel/browser-pilot/internal/store"
)

// fakeSurface scripts a page: fixed regions, mutable text/url, counted
// scrolls. Fills change nothing unless fillsRegister is set.
type fakeSurface struct {
	url           string
	title         string
	text          string
	regions       []scanner.Region
	geo           scanner.Geometry
	fillsRegister bool
	enterReveals  string
	scrollStuck   bool

	scrolls    int
	keyPresses []string
	clicks     []string
	roleFills  []string
}

func (f *fakeSurface) Scan(context.Context, bool) ([]scanner.Region, error) { return f.regions, nil }

func (f *fakeSurface) Region(id string) (scanner.Region, bool) {
	for _, r := range f.regions {
		if r.ID == id {
			return r, true
		}
	}
	return scanner.Region{}, false
}

func (f *fakeSurface) URL() string                      { return f.url }
func (f *fakeSurface) Title(context.Context) string     { return f.title }
func (f *fakeSurface) PageText(context.Context, int) string { return f.text }

func (f *fakeSurface) ScrollGeometry(context.Context) (scanner.Geometry, error) {
	return f.geo, nil
}

func (f *fakeSurface) ScrollBy(_ context.Context, _ string, amount int) error {
	f.scrolls++
	if f.scrollStuck {
		return nil
	}
	f.geo.ScrollY += float64(amount)
	if f.geo.ScrollY > f.geo.ScrollHeight-f.geo.ViewportHeight {
		f.geo.ScrollY = f.geo.ScrollHeight - f.geo.ViewportHeight
	}
	f.text = fmt.Sprintf("%s [scrolled %d]", f.text, f.scrolls)
	return nil
}

func (f *fakeSurface) ClickRegion(_ context.Context, id string, _ bool) error {
	f.clicks = append(f.clicks, id)
	return nil
}

func (f *fakeSurface) FillRegion(_ context.Context, id, value string, _ bool) error {
	if f.fillsRegister {
		f.text += " " + value
	}
	return nil
}

func (f *fakeSurface) PressKey(_ context.Context, id, key string) error {
	f.keyPresses = append(f.keyPresses, id+":"+key)
	if f.enterReveals != "" && key == "Enter" {
		f.text = f.enterReveals
	}
	return nil
}

func (f *fakeSurface) ClickRoleName(_ context.Context, role, name string) error {
	f.clicks = append(f.clicks, role+"/"+name)
	return nil
}

func (f *fakeSurface) ClickSelector(_ context.Context, sel string) error {
	f.clicks = append(f.clicks, sel)
	return nil
}

func (f *fakeSurface) FillSelector(_ context.Context, sel, value string) error { return nil }

func (f *fakeSurface) FillRoleName(_ context.Context, role, name, value string) error {
	f.roleFills = append(f.roleFills, role+"/"+name+"="+value)
	if f.fillsRegister {
		f.text += " " + value
	}
	return nil
}

func (f *fakeSurface) WaitUntil(context.Context, string, time.Duration) error { return nil }

// memRecorder keeps step rows in memory.
type memRecorder struct {
	steps []store.StepRecord
}

func (m *memRecorder) CreateSession(context.Context, string, string, string) error { return nil }
func (m *memRecorder) UpdateSessionStatus(context.Context, string, string) error   { return nil }

func (m *memRecorder) RecordStep(_ context.Context, rec store.StepRecord) error {
	m.steps = append(m.steps, rec)
	return nil
}

func (m *memRecorder) RecordArtifact(context.Context, string, int, string, string) error {
	return nil
}

func (m *memRecorder) RecentSteps(_ context.Context, _ string, n int) ([]store.HistoryEntry, error) {
	start := len(m.steps) - n
	if start < 0 {
		start = 0
	}
	var out []store.HistoryEntry
	for _, s := range m.steps[start:] {
		out = append(out, store.HistoryEntry{
			StepNumber: s.StepNumber,
			ActionType: s.ActionType,
			ActionData: s.ActionData,
			Error:      s.Error,
		})
	}
	return out, nil
}

// nopEmitter discards events.
type nopEmitter struct{}

func (nopEmitter) Log(string, int, Phase, string, string)                  {}
func (nopEmitter) Screenshot(string, int, string, string, []scanner.Region) {}
func (nopEmitter) Status(string, Status, string, *Action, PauseKind)       {}

func flatPage() scanner.Geometry {
	return scanner.Geometry{ScrollY: 0, ScrollHeight: 800, ViewportHeight: 800}
}

func newTestLoop(decLLM, visLLM *fakeLLM, rec Recorder, guard *Guardrail) *Loop {
	if guard == nil {
		guard = NewGuardrail(nil, nil)
	}
	return NewLoop(
		NewDecider(decLLM, zerolog.Nop()),
		guard,
		NewVisibilityChecker(visLLM, zerolog.Nop()),
		rec,
		nil,
		nopEmitter{},
		zerolog.Nop(),
		50, 5,
	)
}

func newTestSession(surface Surface) *Session {
	s := NewSession("sess-1", "test task")
	s.surface = surface
	return s
}

func TestLoopCompletesOnDone(t *testing.T) {
	surface := &fakeSurface{url: "https://a.test", title: "A", text: "content", geo: flatPage()}
	dec := &fakeLLM{responses: []string{`{"action":{"type":"DONE","reason":"all set"},"reasoning":"r","confidence":0.9}`}}
	l := newTestLoop(dec, &fakeLLM{err: errors.New("unused")}, &memRecorder{}, nil)
	sess := newTestSession(surface)

	res, err := l.RunObjective(context.Background(), sess, &PlanStep{Title: "do it"}, "CTX", false)
	require.NoError(t, err)
	assert.True(t, res.Completed)
	assert.Equal(t, "all set", res.Reason)
}

func TestLoopNoOpFillEscalatesToAskUser(t *testing.T) {
	surface := &fakeSurface{
		url: "https://a.test", title: "A", text: "a form",
		regions: []scanner.Region{{ID: "element-00000001", Role: "input", Label: "City"}},
		geo:     flatPage(),
		// fillsRegister stays false: typed text never shows up
	}
	dec := &fakeLLM{responses: []string{`{"action":{"type":"VISION_FILL","regionId":"element-00000001","value":"Oslo"},"reasoning":"fill city","confidence":0.8}`}}
	l := newTestLoop(dec, &fakeLLM{err: errors.New("unused")}, &memRecorder{}, nil)
	sess := newTestSession(surface)

	res, err := l.RunObjective(context.Background(), sess, &PlanStep{Title: "enter city"}, "CTX", false)
	require.NoError(t, err)
	require.NotNil(t, res.PendingAction)
	assert.Equal(t, ActionAskUser, res.PendingAction.Type)
	assert.Equal(t, PauseAskUser, res.PauseKind)
	assert.True(t, sess.Paused)

	// Escalation went through both Enter rungs before giving up.
	require.Len(t, surface.keyPresses, 2)
	assert.Equal(t, "element-00000001:Enter", surface.keyPresses[0])
	assert.Equal(t, ":Enter", surface.keyPresses[1])
}

func TestLoopRecoveredFillContinues(t *testing.T) {
	surface := &fakeSurface{
		url: "https://a.test", title: "A", text: "a form",
		regions:      []scanner.Region{{ID: "element-00000001", Role: "input", Label: "City"}},
		geo:          flatPage(),
		enterReveals: "results for Oslo", // the first Enter rung works
	}
	dec := &fakeLLM{responses: []string{
		`{"action":{"type":"VISION_FILL","regionId":"element-00000001","value":"Oslo"},"reasoning":"fill","confidence":0.8}`,
		`{"action":{"type":"DONE","reason":"submitted"},"reasoning":"r","confidence":0.9}`,
	}}
	l := newTestLoop(dec, &fakeLLM{err: errors.New("unused")}, &memRecorder{}, nil)
	sess := newTestSession(surface)

	res, err := l.RunObjective(context.Background(), sess, &PlanStep{Title: "enter city"}, "CTX", false)
	require.NoError(t, err)
	assert.True(t, res.Completed)
	require.Len(t, surface.keyPresses, 1, "recovery stops at the first rung that changes the page")
}

func TestLoopAutoScrollStopsAtBottom(t *testing.T) {
	surface := &fakeSurface{
		url: "https://a.test", title: "A", text: "top of a long page",
		geo: scanner.Geometry{ScrollY: 0, ScrollHeight: 2400, ViewportHeight: 800},
	}
	// Visibility always says the content is not on screen yet.
	vis := &fakeLLM{responses: []string{"NO", "NO", "NO", "NO", "NO", "NO", "NO", "NO"}}
	dec := &fakeLLM{responses: []string{`{"action":{"type":"DONE","reason":"read it"},"reasoning":"r","confidence":0.9}`}}
	l := newTestLoop(dec, vis, &memRecorder{}, nil)
	sess := newTestSession(surface)

	res, err := l.RunObjective(context.Background(), sess, &PlanStep{Title: "find the footer"}, "CTX", false)
	require.NoError(t, err)
	assert.True(t, res.Completed)
	// 2400 total, 800 viewport: the bottom arrives after three 600px
	// scrolls, well short of the cap of five. Auto-scroll must stop at the
	// bottom, not the cap.
	assert.Equal(t, 3, surface.scrolls)
}

func TestLoopUnscrollablePageScrollsUntilCap(t *testing.T) {
	// scrollHeight == viewport, so every scroll is a no-op. Content may
	// still be rendering, so the loop keeps retrying until the scroll
	// budget is spent instead of declaring the bottom reached immediately.
	surface := &fakeSurface{url: "https://a.test", title: "A", text: "short page", geo: flatPage()}
	vis := &fakeLLM{responses: []string{"NO", "NO", "NO", "NO", "NO"}}
	dec := &fakeLLM{responses: []string{`{"action":{"type":"DONE","reason":"done"},"reasoning":"r","confidence":0.9}`}}
	l := newTestLoop(dec, vis, &memRecorder{}, nil)
	sess := newTestSession(surface)

	res, err := l.RunObjective(context.Background(), sess, &PlanStep{Title: "read"}, "CTX", false)
	require.NoError(t, err)
	assert.True(t, res.Completed)
	assert.Equal(t, 5, surface.scrolls, "retries stop at the scroll cap, not before")
	assert.Len(t, vis.requests, 5, "visibility is consulted before each retry")
}

func TestLoopStalledScrollDetectsBottom(t *testing.T) {
	// A tall page whose geometry never moves after a scroll: the unchanged
	// sample means the bottom, so one attempt is enough.
	surface := &fakeSurface{
		url: "https://a.test", title: "A", text: "long page",
		geo:         scanner.Geometry{ScrollY: 0, ScrollHeight: 2400, ViewportHeight: 800},
		scrollStuck: true,
	}
	vis := &fakeLLM{responses: []string{"NO", "NO"}}
	dec := &fakeLLM{responses: []string{`{"action":{"type":"DONE","reason":"done"},"reasoning":"r","confidence":0.9}`}}
	l := newTestLoop(dec, vis, &memRecorder{}, nil)
	sess := newTestSession(surface)

	res, err := l.RunObjective(context.Background(), sess, &PlanStep{Title: "read"}, "CTX", false)
	require.NoError(t, err)
	assert.True(t, res.Completed)
	assert.Equal(t, 1, surface.scrolls)
}

func TestLoopRecoverySecondRungClicksSubmitButton(t *testing.T) {
	surface := &fakeSurface{
		url: "https://a.test", title: "A", text: "a form",
		regions: []scanner.Region{
			{ID: "element-00000001", Role: "input", Label: "City"},
			{ID: "element-00000002", Role: "button", Label: "Search"},
		},
		geo: flatPage(),
	}
	dec := &fakeLLM{responses: []string{`{"action":{"type":"VISION_FILL","regionId":"element-00000001","value":"Oslo"},"reasoning":"fill city","confidence":0.8}`}}
	l := newTestLoop(dec, &fakeLLM{err: errors.New("unused")}, &memRecorder{}, nil)
	sess := newTestSession(surface)

	res, err := l.RunObjective(context.Background(), sess, &PlanStep{Title: "enter city"}, "CTX", false)
	require.NoError(t, err)
	require.NotNil(t, res.PendingAction)
	assert.Equal(t, ActionAskUser, res.PendingAction.Type)

	// Second rung clicks the visible Search button instead of a blind
	// page-level Enter.
	require.Len(t, surface.keyPresses, 1)
	assert.Equal(t, "element-00000001:Enter", surface.keyPresses[0])
	assert.Equal(t, []string{"element-00000002"}, surface.clicks)
}

func TestExecuteActionFillByRoleName(t *testing.T) {
	surface := &fakeSurface{url: "https://a.test", geo: flatPage()}
	err := executeAction(context.Background(), surface, Action{
		Type: ActionDomFill, Role: "textbox", Name: "City", Value: "Oslo",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"textbox/City=Oslo"}, surface.roleFills)
}

func TestLoopStepCap(t *testing.T) {
	surface := &fakeSurface{url: "https://a.test", title: "A", text: "x", geo: flatPage()}
	l := newTestLoop(&fakeLLM{err: errors.New("unused")}, &fakeLLM{err: errors.New("unused")}, &memRecorder{}, nil)
	sess := newTestSession(surface)
	sess.StepCounter = 50

	res, err := l.RunObjective(context.Background(), sess, &PlanStep{Title: "t"}, "CTX", false)
	require.NoError(t, err)
	assert.False(t, res.Completed)
	assert.Contains(t, res.Reason, "step cap")
}

func TestLoopGuardrailConfirmPause(t *testing.T) {
	surface := &fakeSurface{
		url: "https://a.test", title: "A", text: "checkout",
		regions: []scanner.Region{{ID: "element-00000001", Role: "button", Label: "Pay now"}},
		geo:     flatPage(),
	}
	dec := &fakeLLM{responses: []string{`{"action":{"type":"VISION_CLICK","regionId":"element-00000001"},"reasoning":"pay","confidence":0.9}`}}
	guard := NewGuardrail([]string{"pay"}, nil)
	l := newTestLoop(dec, &fakeLLM{err: errors.New("unused")}, &memRecorder{}, guard)
	sess := newTestSession(surface)

	res, err := l.RunObjective(context.Background(), sess, &PlanStep{Title: "checkout"}, "CTX", false)
	require.NoError(t, err)
	require.NotNil(t, res.PendingAction)
	assert.Equal(t, ActionVisionClick, res.PendingAction.Type)
	assert.Equal(t, PauseConfirm, res.PauseKind)
	assert.Empty(t, surface.clicks, "the click must not run before approval")
}

func TestLoopExecutePending(t *testing.T) {
	surface := &fakeSurface{
		url: "https://a.test", title: "A", text: "checkout",
		regions: []scanner.Region{{ID: "element-00000001", Role: "button", Label: "Pay now"}},
		geo:     flatPage(),
	}
	rec := &memRecorder{}
	l := newTestLoop(&fakeLLM{err: errors.New("unused")}, &fakeLLM{err: errors.New("unused")}, rec, nil)
	sess := newTestSession(surface)
	sess.loop = &loopState{}

	l.ExecutePending(context.Background(), sess, Action{Type: ActionVisionClick, RegionID: "element-00000001"})
	require.Len(t, surface.clicks, 1)
	require.Len(t, rec.steps, 1)
	assert.Equal(t, string(ActionVisionClick), rec.steps[0].ActionType)
}
