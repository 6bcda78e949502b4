package agent

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"
	"github.com/rs/zerolog"

	"github.com/polzovatel/browser-pilot/internal/browser"
	"github.com/polzovatel/browser-pilot/internal/llm"
)

const (
	scoutCaptchaWait = 2 * time.Minute
	scoutPollEvery   = 3 * time.Second
	scoutMaxLinks    = 3
)

const scoutSystemPrompt = `Before a browser agent runs a task, a quick web search can pin down
concrete facts (the right site, a product name, a current URL).

Given the task, output ONLY one of:
- a single short search query, when a preliminary search would clearly help
- the word NONE, when the task already names its target or a search adds nothing

No explanations.`

// Scout runs a reconnaissance search in a separate headed browser before
// planning. It shares nothing with the main session: no cookies, no tabs.
type Scout struct {
	llm      llm.Client
	launcher *browser.Launcher
	logger   zerolog.Logger
}

func NewScout(client llm.Client, launcher *browser.Launcher, logger zerolog.Logger) *Scout {
	return &Scout{llm: client, launcher: launcher, logger: logger}
}

// Preflight decides whether the task needs a reconnaissance search and, if
// so, runs it. Returns findings text for the planner, or "" when the scout
// declined or anything failed; preflight failures never fail the task.
func (s *Scout) Preflight(ctx context.Context, sessionID, task string, emit Emitter) string {
	query := s.chooseQuery(ctx, task)
	if query == "" {
		return ""
	}
	emit.Log(sessionID, 0, PhasePlanning, "scouting: "+query, "")

	findings, err := s.search(ctx, sessionID, query, emit)
	if err != nil {
		s.logger.Warn().Err(err).Str("query", query).Msg("scout search failed")
		emit.Log(sessionID, 0, PhasePlanning, "scout search failed, planning without it", err.Error())
		return ""
	}
	if findings != "" {
		emit.Log(sessionID, 0, PhasePlanning, "scout findings:\n"+findings, "")
	}
	return findings
}

func (s *Scout) chooseQuery(ctx context.Context, task string) string {
	resp, err := s.llm.Generate(ctx, llm.Request{
		System:      scoutSystemPrompt,
		Messages:    []llm.Message{{Role: "user", Content: "TASK: " + task}},
		Temperature: 0.0,
		MaxTokens:   60,
	})
	if err != nil {
		s.logger.Warn().Err(err).Msg("scout query call failed")
		return ""
	}
	query := strings.TrimSpace(strings.Trim(resp.Text, "\"` \n"))
	if query == "" || strings.EqualFold(query, "NONE") || len(query) > 200 {
		return ""
	}
	return query
}

func (s *Scout) search(ctx context.Context, sessionID, query string, emit Emitter) (string, error) {
	aux, err := s.launcher.LaunchVisible(ctx)
	if err != nil {
		return "", err
	}
	defer aux.Close()

	page := aux.Page()
	searchURL := "https://www.google.com/search?q=" + url.QueryEscape(query)
	if _, err := page.Goto(searchURL, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(30000),
	}); err != nil {
		return "", fmt.Errorf("scout navigate: %w", err)
	}

	if !s.waitForResults(ctx, sessionID, page, emit) {
		return "", fmt.Errorf("results did not appear (captcha unsolved?)")
	}
	return extractResults(page), nil
}

const captchaSelectors = "iframe[src*='recaptcha'], #captcha-form"

// waitForResults polls for the results container. A CAPTCHA wall leaves the
// container absent; the headed window stays open so the user can solve it,
// and polling continues up to the cap. The wall is announced to the client
// once, so the user knows why the scout window is sitting there.
func (s *Scout) waitForResults(ctx context.Context, sessionID string, page playwright.Page, emit Emitter) bool {
	deadline := time.Now().Add(scoutCaptchaWait)
	notified := false
	for time.Now().Before(deadline) {
		if ctx.Err() != nil {
			return false
		}
		count, err := page.Locator("#search a h3").Count()
		if err == nil && count > 0 {
			return true
		}
		if !notified && s.captchaWallUp(page) {
			notified = true
			s.logger.Info().Msg("captcha wall up, waiting for the user to solve it")
			emit.Log(sessionID, 0, PhasePlanning, "the search engine is showing a CAPTCHA; please solve it in the opened window", "")
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(scoutPollEvery):
		}
	}
	return false
}

func (s *Scout) captchaWallUp(page playwright.Page) bool {
	body := ""
	if txt, err := page.InnerText("body", playwright.PageInnerTextOptions{
		Timeout: playwright.Float(1000),
	}); err == nil {
		body = txt
	}
	hits := 0
	if n, err := page.Locator(captchaSelectors).Count(); err == nil {
		hits = n
	}
	return captchaWall(page.URL(), body, hits)
}

// captchaWall recognizes the usual walls: the /sorry/ interstitial URL, a
// rendered challenge widget, or the "unusual traffic" notice text.
func captchaWall(pageURL, bodyText string, challengeHits int) bool {
	if strings.Contains(strings.ToLower(pageURL), "/sorry/") {
		return true
	}
	if challengeHits > 0 {
		return true
	}
	return strings.Contains(strings.ToLower(bodyText), "unusual traffic")
}

// extractResults pulls the top organic result titles and their links.
func extractResults(page playwright.Page) string {
	headings := page.Locator("#search a h3")
	count, err := headings.Count()
	if err != nil || count == 0 {
		return ""
	}
	if count > scoutMaxLinks {
		count = scoutMaxLinks
	}
	var b strings.Builder
	for i := 0; i < count; i++ {
		h := headings.Nth(i)
		title, err := h.InnerText(playwright.LocatorInnerTextOptions{Timeout: playwright.Float(2000)})
		if err != nil {
			continue
		}
		href := ""
		if link := h.Locator("xpath=ancestor::a[1]"); link != nil {
			if v, err := link.GetAttribute("href"); err == nil {
				href = v
			}
		}
		line := strings.TrimSpace(title)
		if href != "" {
			line += " - " + href
		}
		if line != "" {
			b.WriteString(line + "\n")
		}
	}
	return strings.TrimSpace(b.String())
}
