package scanner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"
)

const actionTimeout = 10 * time.Second

// locator resolves a region identity to a live attribute-selector locator.
// The handle is a query, not a pointer: the browser re-resolves it on use,
// so sibling insertions between scan and click cannot redirect it.
func (s *Scanner) locator(id string) (playwright.Locator, error) {
	if _, ok := s.regions[id]; !ok {
		return nil, fmt.Errorf("unknown region %q (stale scan?)", id)
	}
	return s.page.Locator(fmt.Sprintf("[%s=%q]", IdentityAttr, id)), nil
}

// ClickRegion clicks the region. vision=true moves the cursor to the
// element center first and clicks through the mouse, which fires the full
// pointer event sequence some widgets require.
func (s *Scanner) ClickRegion(ctx context.Context, id string, vision bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	loc, err := s.locator(id)
	if err != nil {
		return err
	}
	first := loc.First()
	// Best effort; the element may already be in view.
	_ = first.ScrollIntoViewIfNeeded()
	if vision {
		box, err := first.BoundingBox()
		if err != nil {
			return wrapErr(err)
		}
		if box == nil {
			return fmt.Errorf("region %s has no bounding box", id)
		}
		cx := box.X + box.Width/2
		cy := box.Y + box.Height/2
		if err := s.page.Mouse().Move(cx, cy, playwright.MouseMoveOptions{Steps: playwright.Int(8)}); err != nil {
			return wrapErr(err)
		}
		return wrapErr(s.page.Mouse().Click(cx, cy))
	}
	return wrapErr(first.Click(playwright.LocatorClickOptions{
		Timeout: playwright.Float(float64(actionTimeout.Milliseconds())),
	}))
}

// FillRegion enters text into the region's input.
func (s *Scanner) FillRegion(ctx context.Context, id, value string, vision bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	loc, err := s.locator(id)
	if err != nil {
		return err
	}
	first := loc.First()
	_ = first.ScrollIntoViewIfNeeded()
	if vision {
		// Click to focus first, then type through the keyboard.
		if err := s.ClickRegion(ctx, id, true); err != nil {
			return err
		}
		return wrapErr(first.PressSequentially(value, playwright.LocatorPressSequentiallyOptions{
			Delay: playwright.Float(20),
		}))
	}
	return wrapErr(first.Fill(value, playwright.LocatorFillOptions{
		Timeout: playwright.Float(float64(actionTimeout.Milliseconds())),
	}))
}

// PressKey presses a key on the region, or at page level if id is empty.
func (s *Scanner) PressKey(ctx context.Context, id, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if id == "" {
		return wrapErr(s.page.Keyboard().Press(key))
	}
	loc, err := s.locator(id)
	if err != nil {
		return err
	}
	return wrapErr(loc.First().Press(key, playwright.LocatorPressOptions{
		Timeout: playwright.Float(float64(actionTimeout.Milliseconds())),
	}))
}

// ScrollIntoView brings the region into the viewport.
func (s *Scanner) ScrollIntoView(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	loc, err := s.locator(id)
	if err != nil {
		return err
	}
	return wrapErr(loc.First().ScrollIntoViewIfNeeded())
}

// ClickRoleName clicks the first element matching an aria role and
// accessible name. Fallback path for decisions that address elements the
// scan missed.
func (s *Scanner) ClickRoleName(ctx context.Context, role, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	aria := playwright.AriaRole(strings.ToLower(strings.TrimSpace(role)))
	loc := s.page.GetByRole(aria, playwright.PageGetByRoleOptions{Name: name})
	first := loc.First()
	if err := first.WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(float64(actionTimeout.Milliseconds())),
	}); err != nil {
		return wrapErr(err)
	}
	return wrapErr(first.Click())
}

// FillRoleName fills the first element matching an aria role and accessible
// name. Same fallback path as ClickRoleName for inputs the scan missed.
func (s *Scanner) FillRoleName(ctx context.Context, role, name, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	aria := playwright.AriaRole(strings.ToLower(strings.TrimSpace(role)))
	loc := s.page.GetByRole(aria, playwright.PageGetByRoleOptions{Name: name})
	first := loc.First()
	if err := first.WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(float64(actionTimeout.Milliseconds())),
	}); err != nil {
		return wrapErr(err)
	}
	return wrapErr(first.Fill(value))
}

// ClickSelector clicks the first visible match of a CSS selector.
func (s *Scanner) ClickSelector(ctx context.Context, selector string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	first := s.page.Locator(selector).First()
	if err := first.WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(float64(actionTimeout.Milliseconds())),
	}); err != nil {
		return wrapErr(err)
	}
	_ = first.ScrollIntoViewIfNeeded()
	return wrapErr(first.Click())
}

// FillSelector fills the first visible match of a CSS selector.
func (s *Scanner) FillSelector(ctx context.Context, selector, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	first := s.page.Locator(selector).First()
	if err := first.WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(float64(actionTimeout.Milliseconds())),
	}); err != nil {
		return wrapErr(err)
	}
	return wrapErr(first.Fill(value))
}

// PageText returns up to limit chars of the page's rendered text. innerText
// rather than textContent: hidden and script text must not reach prompts.
func (s *Scanner) PageText(ctx context.Context, limit int) string {
	if s.page == nil || ctx.Err() != nil {
		return ""
	}
	text, err := s.page.InnerText("body", playwright.PageInnerTextOptions{
		Timeout: playwright.Float(3000),
	})
	if err != nil {
		return ""
	}
	if limit > 0 && len(text) > limit {
		text = text[:limit]
	}
	return strings.TrimSpace(text)
}

// ScrollGeometry samples the current scroll position and page height.
func (s *Scanner) ScrollGeometry(ctx context.Context) (Geometry, error) {
	if err := ctx.Err(); err != nil {
		return Geometry{}, err
	}
	val, err := s.page.Evaluate(geometryScript)
	if err != nil {
		return Geometry{}, wrapErr(err)
	}
	raw, err := json.Marshal(val)
	if err != nil {
		return Geometry{}, err
	}
	var g Geometry
	if err := json.Unmarshal(raw, &g); err != nil {
		return Geometry{}, err
	}
	return g, nil
}

// ScrollBy scrolls the window by amount pixels in the given direction.
func (s *Scanner) ScrollBy(ctx context.Context, direction string, amount int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if amount <= 0 {
		amount = 600
	}
	_, err := s.page.Evaluate(scrollScript, map[string]any{
		"direction": direction,
		"amount":    amount,
	})
	return wrapErr(err)
}

// WaitUntil waits for a load state, bounded by timeout. Unknown states fall
// back to load.
func (s *Scanner) WaitUntil(ctx context.Context, state string, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var ls *playwright.LoadState
	switch state {
	case "domcontentloaded":
		ls = playwright.LoadStateDomcontentloaded
	case "networkidle":
		ls = playwright.LoadStateNetworkidle
	default:
		ls = playwright.LoadStateLoad
	}
	return wrapErr(s.page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   ls,
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	}))
}

func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("playwright: %w", err)
}
