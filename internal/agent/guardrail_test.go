package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/polzovatel/browser-pilot/internal/scanner"
)

func TestGuardrailBlocksSecretFills(t *testing.T) {
	g := NewGuardrail([]string{"submit"}, nil)

	d := g.Check(Action{Type: ActionDomFill, RegionID: "element-11112222", Value: "my password is SECRET.hunter2"}, nil)
	assert.False(t, d.Allowed)
	assert.False(t, d.RequiresConfirmation, "secrets are denied outright, never escalated to the user")

	d = g.Check(Action{Type: ActionVisionFill, RegionID: "element-11112222", Value: "sk-API_KEY-abc"}, nil)
	assert.False(t, d.Allowed)
}

func TestGuardrailSensitiveLabelNeedsConfirmation(t *testing.T) {
	g := NewGuardrail([]string{"submit", "pay"}, nil)
	regions := []scanner.Region{
		{ID: "element-aaaa0001", Label: "Submit order", Role: "button"},
		{ID: "element-aaaa0002", Label: "Next page", Role: "link"},
	}

	d := g.Check(Action{Type: ActionVisionClick, RegionID: "element-aaaa0001"}, regions)
	assert.False(t, d.Allowed)
	assert.True(t, d.RequiresConfirmation)

	d = g.Check(Action{Type: ActionVisionClick, RegionID: "element-aaaa0002"}, regions)
	assert.True(t, d.Allowed)

	// role+name targeting is vetted through the name
	d = g.Check(Action{Type: ActionDomClick, Role: "button", Name: "Pay now"}, nil)
	assert.False(t, d.Allowed)
	assert.True(t, d.RequiresConfirmation)
}

func TestGuardrailURLAllowlist(t *testing.T) {
	open := NewGuardrail(nil, nil)
	assert.True(t, open.URLAllowed("https://anything.example/path"))

	g := NewGuardrail(nil, []string{"example.com"})
	assert.True(t, g.URLAllowed("https://example.com/"))
	assert.True(t, g.URLAllowed("https://shop.example.com/cart"))
	assert.False(t, g.URLAllowed("https://evil-example.com/"))
	assert.False(t, g.URLAllowed("https://example.com.evil.net/"))
	assert.False(t, g.URLAllowed("::not a url::"))
}
