package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActionValidate(t *testing.T) {
	cases := []struct {
		name    string
		action  Action
		wantErr bool
	}{
		{"vision click needs region", Action{Type: ActionVisionClick}, true},
		{"vision click ok", Action{Type: ActionVisionClick, RegionID: "element-aabbccdd"}, false},
		{"dom click by selector", Action{Type: ActionDomClick, Selector: "#go"}, false},
		{"dom click by role+name", Action{Type: ActionDomClick, Role: "button", Name: "Search"}, false},
		{"dom click role without name", Action{Type: ActionDomClick, Role: "button"}, true},
		{"fill needs value", Action{Type: ActionVisionFill, RegionID: "element-aabbccdd"}, true},
		{"fill ok", Action{Type: ActionDomFill, RegionID: "element-aabbccdd", Value: "hi"}, false},
		{"key press needs key", Action{Type: ActionKeyPress}, true},
		{"key press page level", Action{Type: ActionKeyPress, Key: "Enter"}, false},
		{"scroll bad direction", Action{Type: ActionScroll, Direction: "sideways"}, true},
		{"scroll ok", Action{Type: ActionScroll, Direction: "down", Amount: 600}, false},
		{"wait negative", Action{Type: ActionWait, DurationMs: -1}, true},
		{"wait until bad state", Action{Type: ActionWait, Until: "painted"}, true},
		{"wait until networkidle", Action{Type: ActionWait, Until: "networkidle"}, false},
		{"ask user needs message", Action{Type: ActionAskUser}, true},
		{"confirm ok", Action{Type: ActionConfirm, Message: "proceed?"}, false},
		{"done needs nothing", Action{Type: ActionDone}, false},
		{"unknown type", Action{Type: "TELEPORT"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.action.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestActionIsTerminal(t *testing.T) {
	assert.True(t, (&Action{Type: ActionDone}).IsTerminal())
	assert.True(t, (&Action{Type: ActionAskUser}).IsTerminal())
	assert.True(t, (&Action{Type: ActionConfirm}).IsTerminal())
	assert.False(t, (&Action{Type: ActionScroll}).IsTerminal())
}

func TestNewOutcomeDetectsChange(t *testing.T) {
	base := PageState{URL: "https://a.test/x", Title: "A", Text: "hello world"}

	same := NewOutcome(base, base)
	assert.False(t, same.StateChanged)

	nav := NewOutcome(base, PageState{URL: "https://a.test/y", Title: "A", Text: "hello world"})
	assert.True(t, nav.StateChanged)

	rerender := NewOutcome(base, PageState{URL: base.URL, Title: base.Title, Text: "hello there"})
	assert.True(t, rerender.StateChanged)
}

func TestNormalizeText(t *testing.T) {
	got := NormalizeText("  Hello\n\n  WORLD\t!  ")
	assert.Equal(t, "hello world !", got)

	long := make([]byte, 600)
	for i := range long {
		long[i] = 'a'
	}
	assert.Len(t, NormalizeText(string(long)), 400)
}

func TestDecisionValidateConfidenceBounds(t *testing.T) {
	d := Decision{Action: Action{Type: ActionDone}, Confidence: 1.2}
	require.Error(t, d.Validate())
	d.Confidence = 0.9
	require.NoError(t, d.Validate())
}
