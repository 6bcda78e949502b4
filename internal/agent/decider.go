package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/polzovatel/browser-pilot/internal/llm"
	"github.com/polzovatel/browser-pilot/internal/scanner"
	"github.com/polzovatel/browser-pilot/internal/store"
)

const (
	maxPromptPageText = 4000
	maxPromptRegions  = 40

	deciderSystemPrompt = `You are a precise browser-automation agent. You see one observation of the
current page and must output exactly ONE next action as a single JSON object,
nothing else:

{"action":{"type":"...", ...},"reasoning":"...","confidence":0.0-1.0}

Action types and payloads:
- VISION_CLICK {"regionId":"element-xxxxxxxx"} - click through cursor physics
- DOM_CLICK {"regionId":"..."} or {"role":"...","name":"..."} or {"selector":"..."} - instant click
- VISION_FILL {"regionId":"...","value":"..."} / DOM_FILL {"regionId":"...","value":"..."} - text entry
- KEY_PRESS {"key":"Enter","regionId":"..."} - regionId optional
- SCROLL {"direction":"up"|"down","amount":600}
- WAIT {"duration":2000} or {"until":"load"|"domcontentloaded"|"networkidle"}
- ASK_USER {"message":"..."} - the user must act in the browser (login, MFA, CAPTCHA)
- CONFIRM {"message":"..."} - you need permission for a risky action
- DONE {"reason":"..."} - the CURRENT OBJECTIVE is satisfied

STRICT RULES:
1. Fill values must come from the task text. NEVER invent emails, names or numbers.
2. If lastOutcome.stateChanged=false, NEVER repeat the same action with the same target.
3. Work only on the CURRENT objective. Do not jump ahead in the plan.
4. DONE means the objective is satisfied, not "a search page opened".
5. For research objectives, DONE requires actually extracted content on screen,
   not just a list of results.
6. Address elements by their regionId from the REGIONS list whenever possible.`
)

// DecideInput is everything the decider shows the model for one step.
type DecideInput struct {
	SessionID     string
	ContextPrompt string
	Task          string
	URL           string
	History       []store.HistoryEntry
	PageText      string
	Regions       []scanner.Region
	StepNumber    int
	LastAction    *Action
	LastOutcome   *Outcome
	ScrollStatus  ScrollStatus
	Feedback      string
	StepTitle     string
	StepText      string
}

// ScrollStatus summarizes the auto-scroll gate for the prompt.
type ScrollStatus struct {
	ScrollCount    int
	ContentVisible bool
	BottomReached  bool
}

// Decider turns an observation into the next action: an LLM call with a
// heuristic fallback, plus a graduated retry ladder so one malformed
// response can never cascade into skipping every remaining objective.
type Decider struct {
	llm    llm.Client
	logger zerolog.Logger

	// Consecutive LLM failures within the current objective.
	fallbackTries int
}

func NewDecider(client llm.Client, logger zerolog.Logger) *Decider {
	return &Decider{llm: client, logger: logger}
}

// ResetObjective clears the fallback ladder at the start of an objective.
func (d *Decider) ResetObjective() {
	d.fallbackTries = 0
}

// Decide returns the next decision. It never returns a nil decision; when
// the LLM fails, the heuristic fallback produces one.
func (d *Decider) Decide(ctx context.Context, in DecideInput) (Decision, error) {
	dec := d.decideLLM(ctx, in)
	if dec != nil {
		d.fallbackTries = 0
		return *dec, nil
	}
	return d.fallback(in), nil
}

func (d *Decider) decideLLM(ctx context.Context, in DecideInput) *Decision {
	prompt := d.buildPrompt(in)
	resp, err := d.llm.Generate(ctx, llm.Request{
		System:      deciderSystemPrompt,
		Messages:    []llm.Message{{Role: "user", Content: prompt}},
		Temperature: 0.0,
		MaxTokens:   500,
	})
	if err != nil {
		d.logger.Warn().Err(err).Int("step", in.StepNumber).Msg("decider LLM call failed")
		return nil
	}
	dec, err := ParseDecision(resp.Text)
	if err != nil {
		d.logger.Warn().Err(err).Str("raw", clip(resp.Text, 200)).Msg("decider response rejected")
		return nil
	}
	return dec
}

// ParseDecision extracts, auto-patches and validates a decision from raw
// model output. Missing confidence defaults to 0.5 and missing reasoning to
// a placeholder; anything else invalid is a hard reject.
func ParseDecision(text string) (*Decision, error) {
	jsonStr, err := extractJSON(text)
	if err != nil {
		return nil, err
	}
	var dec Decision
	if err := json.Unmarshal([]byte(jsonStr), &dec); err != nil {
		return nil, fmt.Errorf("decision json parse: %w", err)
	}
	if dec.Confidence == 0 {
		dec.Confidence = 0.5
	}
	if strings.TrimSpace(dec.Reasoning) == "" {
		dec.Reasoning = "(no reasoning provided)"
	}
	if err := dec.Validate(); err != nil {
		return nil, fmt.Errorf("decision invalid: %w", err)
	}
	return &dec, nil
}

func (d *Decider) buildPrompt(in DecideInput) string {
	var b strings.Builder
	b.WriteString(in.ContextPrompt)
	b.WriteString("\n\nCURRENT URL: " + in.URL + "\n")

	if len(in.History) > 0 {
		b.WriteString("\nRECENT ACTIONS:\n")
		for _, h := range in.History {
			line := fmt.Sprintf("step %d: %s %s", h.StepNumber, h.ActionType, clip(h.ActionData, 120))
			if h.Error != "" {
				line += " [FAILED: " + clip(h.Error, 80) + "]"
			}
			b.WriteString(line + "\n")
		}
	}

	if in.LastAction != nil && in.LastOutcome != nil {
		fmt.Fprintf(&b, "\nLAST ACTION: %s, stateChanged=%v\n", in.LastAction.Type, in.LastOutcome.StateChanged)
	}

	fmt.Fprintf(&b, "\nSCROLL STATUS: auto-scrolled %d times, contentVisible=%v, bottomReached=%v\n",
		in.ScrollStatus.ScrollCount, in.ScrollStatus.ContentVisible, in.ScrollStatus.BottomReached)

	if in.Feedback != "" {
		b.WriteString("\nFEEDBACK: " + in.Feedback + "\n")
	}

	text := in.PageText
	if len(text) > maxPromptPageText {
		text = text[:maxPromptPageText]
	}
	b.WriteString("\nVISIBLE PAGE TEXT:\n" + text + "\n")

	b.WriteString("\nREGIONS:\n")
	limit := len(in.Regions)
	if limit > maxPromptRegions {
		limit = maxPromptRegions
	}
	for i := 0; i < limit; i++ {
		r := in.Regions[i]
		line := fmt.Sprintf("%s role=%s label=%q", r.ID, r.Role, r.Label)
		if r.Href != "" {
			line += " href=" + clip(r.Href, 100)
		}
		b.WriteString(line + "\n")
	}

	b.WriteString("\nOutput a single JSON decision now.")
	return b.String()
}

// fallback runs when the LLM gave no usable decision. Order: literal task
// match, already-done check, then a graduated ladder (scroll, wait, done)
// so repeated failures still make progress without premature DONE.
func (d *Decider) fallback(in DecideInput) Decision {
	if dec, ok := d.literalMatch(in); ok {
		return dec
	}
	if objectiveLooksDone(in.StepTitle+" "+in.StepText, in.URL) {
		return Decision{
			Action:     Action{Type: ActionDone, Reason: "objective already satisfied by current URL"},
			Reasoning:  "heuristic: URL indicates the objective is complete",
			Confidence: 0.4,
		}
	}

	d.fallbackTries++
	switch d.fallbackTries {
	case 1:
		return Decision{
			Action:     Action{Type: ActionScroll, Direction: "down", Amount: 600},
			Reasoning:  "heuristic fallback: scroll to reveal more content",
			Confidence: 0.3,
		}
	case 2:
		return Decision{
			Action:     Action{Type: ActionWait, DurationMs: 2000},
			Reasoning:  "heuristic fallback: wait for the page to settle",
			Confidence: 0.3,
		}
	default:
		return Decision{
			Action:     Action{Type: ActionDone, Reason: "no usable decision after repeated attempts"},
			Reasoning:  "heuristic fallback: giving up on this objective",
			Confidence: 0.2,
		}
	}
}

func (d *Decider) literalMatch(in DecideInput) (Decision, bool) {
	task := strings.ToLower(strings.TrimSpace(in.Task))
	if strings.Contains(task, "click first link") || strings.Contains(task, "click the first link") {
		for _, r := range in.Regions {
			if r.Role == "link" {
				return Decision{
					Action:     Action{Type: ActionVisionClick, RegionID: r.ID, Description: "first link on the page"},
					Reasoning:  "heuristic: task asks for the first link",
					Confidence: 0.6,
				}, true
			}
		}
	}
	// Task names a visible region label verbatim.
	for _, r := range in.Regions {
		label := strings.ToLower(strings.TrimSpace(r.Label))
		if len(label) >= 4 && strings.Contains(task, label) {
			return Decision{
				Action:     Action{Type: ActionVisionClick, RegionID: r.ID, Description: r.Label},
				Reasoning:  "heuristic: task names the region " + r.Label,
				Confidence: 0.5,
			}, true
		}
	}
	return Decision{}, false
}

var searchMarkers = []string{"search", "results", "?q=", "query="}

// objectiveLooksDone checks whether the current URL already satisfies a
// navigate- or search-type objective.
func objectiveLooksDone(objective, rawURL string) bool {
	obj := strings.ToLower(objective)
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	lowURL := strings.ToLower(rawURL)

	if strings.Contains(obj, "navigate") || strings.Contains(obj, "go to") || strings.Contains(obj, "open") {
		if host := hostFromText(obj); host != "" {
			h := strings.ToLower(u.Hostname())
			if h == host || strings.HasSuffix(h, "."+host) || strings.HasSuffix(host, "."+h) {
				return true
			}
		}
	}
	if strings.Contains(obj, "search") {
		for _, m := range searchMarkers {
			if strings.Contains(lowURL, m) {
				return true
			}
		}
	}
	return false
}

// hostFromText pulls the first domain-looking token out of an objective.
func hostFromText(text string) string {
	for _, tok := range strings.Fields(text) {
		tok = strings.Trim(tok, `.,;:"'()<>`)
		tok = strings.TrimPrefix(tok, "https://")
		tok = strings.TrimPrefix(tok, "http://")
		if i := strings.IndexByte(tok, '/'); i >= 0 {
			tok = tok[:i]
		}
		if strings.Count(tok, ".") >= 1 && !strings.ContainsAny(tok, " \t") && len(tok) > 3 {
			if strings.Contains(tok, "..") {
				continue
			}
			return strings.ToLower(strings.TrimPrefix(tok, "www."))
		}
	}
	return ""
}

// extractJSON returns the first balanced {...} span in text, tolerating
// fenced code blocks and prose around it.
func extractJSON(text string) (string, error) {
	depth := 0
	start := -1
	inStr := false
	esc := false
	for i := 0; i < len(text); i++ {
		ch := text[i]
		if esc {
			esc = false
			continue
		}
		switch ch {
		case '\\':
			if inStr {
				esc = true
			}
		case '"':
			inStr = !inStr
		case '{':
			if !inStr {
				if depth == 0 {
					start = i
				}
				depth++
			}
		case '}':
			if !inStr && depth > 0 {
				depth--
				if depth == 0 && start != -1 {
					return text[start : i+1], nil
				}
			}
		}
	}
	return "", fmt.Errorf("json not found")
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
