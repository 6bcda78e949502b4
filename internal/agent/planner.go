package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/polzovatel/browser-pilot/internal/llm"
)

const plannerSystemPrompt = `You decompose a browser task into an ordered plan of objectives.
Output a SINGLE JSON object and nothing else:

{"strategy":"one sentence","needsSynthesis":true|false,
 "steps":[{"id":1,"title":"...","description":"...","needsAuth":false,"targetUrl":"https://... (optional)"}]}

RULES:
1. 2-15 steps. Each step is one objective the agent can drive to completion
   on its own (navigate, search, fill a form, extract content).
2. needsAuth=true only for steps the USER must perform themselves: login,
   MFA, CAPTCHA. The agent pauses before those.
3. needsSynthesis=true when the task asks for research, comparison or a
   written answer assembled from several pages.
4. targetUrl only when the step starts at a known concrete URL.
5. Keep the user's language. Never invent credentials or personal data.`

var authKeywords = regexp.MustCompile(`(?i)\b(log ?in|sign ?in|авториз|логин|войти|password|парол|mfa|2fa|captcha)\b`)

var synthesisKeywords = []string{
	"research", "compare", "summarize", "summarise", "find out", "report",
	"исследуй", "сравни", "собери",
}

// Planner produces the objective plan for a task, optionally seeded with
// scout findings, with a deterministic decomposition fallback.
type Planner struct {
	llm    llm.Client
	logger zerolog.Logger
}

func NewPlanner(client llm.Client, logger zerolog.Logger) *Planner {
	return &Planner{llm: client, logger: logger}
}

// BuildPlan asks the model for a plan; scoutFindings (may be empty) are
// appended as ground truth. A failed or invalid response falls back to
// heuristic decomposition so a task always gets a runnable plan.
func (p *Planner) BuildPlan(ctx context.Context, task, startURL, scoutFindings string) *Plan {
	prompt := "TASK: " + task + "\n"
	if startURL != "" {
		prompt += "START URL: " + startURL + "\n"
	}
	if scoutFindings != "" {
		prompt += "\nPRELIMINARY FINDINGS (from a quick reconnaissance search, treat as ground truth):\n" + scoutFindings + "\n"
	}
	prompt += "\nOutput the plan JSON now."

	resp, err := p.llm.Generate(ctx, llm.Request{
		System:      plannerSystemPrompt,
		Messages:    []llm.Message{{Role: "user", Content: prompt}},
		Temperature: 0.2,
		MaxTokens:   900,
	})
	if err != nil {
		p.logger.Warn().Err(err).Msg("planner LLM call failed, using heuristic plan")
		return HeuristicPlan(task, startURL)
	}
	plan, err := ParsePlan(resp.Text)
	if err != nil {
		p.logger.Warn().Err(err).Str("raw", clip(resp.Text, 200)).Msg("plan rejected, using heuristic plan")
		return HeuristicPlan(task, startURL)
	}
	return plan
}

// ParsePlan extracts and validates a plan from raw model output.
func ParsePlan(text string) (*Plan, error) {
	jsonStr, err := extractJSON(text)
	if err != nil {
		return nil, err
	}
	var plan Plan
	if err := json.Unmarshal([]byte(jsonStr), &plan); err != nil {
		return nil, fmt.Errorf("plan json parse: %w", err)
	}
	for i := range plan.Steps {
		if plan.Steps[i].ID == 0 {
			plan.Steps[i].ID = i + 1
		}
		if !plan.Steps[i].NeedsAuth && authKeywords.MatchString(plan.Steps[i].Title+" "+plan.Steps[i].Description) {
			plan.Steps[i].NeedsAuth = true
		}
	}
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	return &plan, nil
}

// HeuristicPlan splits the task text into objectives on sequential
// connectives. It never fails: a task with no separators becomes a
// single-step plan.
func HeuristicPlan(task, startURL string) *Plan {
	parts := splitObjectives(task)
	if len(parts) > 10 {
		parts = parts[:10]
	}
	plan := &Plan{
		Strategy:       "Execute the task as written, objective by objective.",
		NeedsSynthesis: looksLikeResearch(task),
	}
	for i, part := range parts {
		step := PlanStep{
			ID:          i + 1,
			Title:       clip(part, 80),
			Description: part,
			NeedsAuth:   authKeywords.MatchString(part),
		}
		if i == 0 && startURL != "" {
			step.TargetURL = startURL
		}
		plan.Steps = append(plan.Steps, step)
	}
	return plan
}

// splitObjectives breaks on "then", commas and sentence ends, keeping
// fragments of real length only.
func splitObjectives(task string) []string {
	norm := regexp.MustCompile(`(?i)\bthen\b|\bзатем\b|\bпотом\b`).ReplaceAllString(task, "\x00")
	norm = strings.NewReplacer(". ", "\x00", ", ", "\x00").Replace(norm)
	var out []string
	for _, part := range strings.Split(norm, "\x00") {
		part = strings.Trim(part, " .,")
		if len(part) >= 3 {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		out = []string{strings.TrimSpace(task)}
	}
	return out
}

func looksLikeResearch(task string) bool {
	low := strings.ToLower(task)
	for _, kw := range synthesisKeywords {
		if strings.Contains(low, kw) {
			return true
		}
	}
	return false
}
