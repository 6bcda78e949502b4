package agent

import (
	"net/url"
	"strings"

	"github.com/polzovatel/browser-pilot/internal/scanner"
)

// secretMarkers flag fill values that must never leave the process, not
// even to ask the user about them.
var secretMarkers = []string{"SECRET.", "PASSWORD", "API_KEY"}

// GuardDecision is the gate's verdict on one proposed action.
type GuardDecision struct {
	Allowed              bool
	Reason               string
	RequiresConfirmation bool
}

// Guardrail vets proposed actions before execution: risky labels surface as
// confirmation pauses, secret-looking fill values are denied outright.
type Guardrail struct {
	keywords       []string
	allowedDomains []string
}

func NewGuardrail(confirmKeywords, allowedDomains []string) *Guardrail {
	return &Guardrail{keywords: lower(confirmKeywords), allowedDomains: lower(allowedDomains)}
}

// Check vets a single action against the current region list.
func (g *Guardrail) Check(a Action, regions []scanner.Region) GuardDecision {
	if a.IsFill() {
		valUpper := strings.ToUpper(a.Value)
		for _, marker := range secretMarkers {
			if strings.Contains(valUpper, marker) {
				return GuardDecision{
					Allowed: false,
					Reason:  "fill value looks like a secret and was blocked",
				}
			}
		}
	}

	label := g.targetLabel(a, regions)
	if label != "" {
		labelLower := strings.ToLower(label)
		for _, kw := range g.keywords {
			if strings.Contains(labelLower, kw) {
				return GuardDecision{
					Allowed:              false,
					Reason:               "target " + strings.TrimSpace(label) + " matches sensitive keyword " + kw,
					RequiresConfirmation: true,
				}
			}
		}
	}

	return GuardDecision{Allowed: true}
}

func (g *Guardrail) targetLabel(a Action, regions []scanner.Region) string {
	if a.RegionID != "" {
		for _, r := range regions {
			if r.ID == a.RegionID {
				return r.Label
			}
		}
	}
	if a.Name != "" {
		return a.Name
	}
	return ""
}

// URLAllowed reports whether a URL's host is inside the configured domain
// allowlist. An empty allowlist allows everything.
func (g *Guardrail) URLAllowed(raw string) bool {
	if len(g.allowedDomains) == 0 {
		return true
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return false
	}
	for _, d := range g.allowedDomains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

func lower(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
