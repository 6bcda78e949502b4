package agent

import (
	"fmt"
	"strings"
)

const maxPlanSteps = 15

// Plan is the planner's output: a strategy plus ordered objectives.
type Plan struct {
	Strategy       string     `json:"strategy"`
	NeedsSynthesis bool       `json:"needsSynthesis"`
	Steps          []PlanStep `json:"steps"`
}

// PlanStep is one objective the agent loop drives to completion.
type PlanStep struct {
	ID          int    `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	NeedsAuth   bool   `json:"needsAuth"`
	TargetURL   string `json:"targetUrl,omitempty"`
}

// Validate enforces the plan schema.
func (p *Plan) Validate() error {
	if len(p.Steps) == 0 {
		return fmt.Errorf("plan has no steps")
	}
	if len(p.Steps) > maxPlanSteps {
		return fmt.Errorf("plan has %d steps, max %d", len(p.Steps), maxPlanSteps)
	}
	for i, s := range p.Steps {
		if strings.TrimSpace(s.Title) == "" {
			return fmt.Errorf("step %d has empty title", i)
		}
	}
	return nil
}

// Summary renders the plan for the client log.
func (p *Plan) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Plan: %s\n", p.Strategy)
	for i, s := range p.Steps {
		marker := ""
		if s.NeedsAuth {
			marker = " [needs you]"
		}
		fmt.Fprintf(&b, "%d. %s%s\n", i+1, s.Title, marker)
	}
	return strings.TrimRight(b.String(), "\n")
}
