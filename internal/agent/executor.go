package agent

import (
	"context"
	"fmt"
	"time"
)

// executeAction dispatches one action against the surface. Terminal actions
// (DONE, ASK_USER, CONFIRM) never reach here; the loop resolves them.
func executeAction(ctx context.Context, surface Surface, a Action) error {
	switch a.Type {
	case ActionVisionClick:
		return surface.ClickRegion(ctx, a.RegionID, true)
	case ActionDomClick:
		switch {
		case a.RegionID != "":
			return surface.ClickRegion(ctx, a.RegionID, false)
		case a.Selector != "":
			return surface.ClickSelector(ctx, a.Selector)
		default:
			return surface.ClickRoleName(ctx, a.Role, a.Name)
		}
	case ActionVisionFill:
		return surface.FillRegion(ctx, a.RegionID, a.Value, true)
	case ActionDomFill:
		switch {
		case a.RegionID != "":
			return surface.FillRegion(ctx, a.RegionID, a.Value, false)
		case a.Selector != "":
			return surface.FillSelector(ctx, a.Selector, a.Value)
		default:
			return surface.FillRoleName(ctx, a.Role, a.Name, a.Value)
		}
	case ActionKeyPress:
		return surface.PressKey(ctx, a.RegionID, a.Key)
	case ActionScroll:
		amount := a.Amount
		if amount == 0 {
			amount = defaultScrollPx
		}
		return surface.ScrollBy(ctx, a.Direction, amount)
	case ActionWait:
		if a.Until != "" {
			return surface.WaitUntil(ctx, a.Until, 10*time.Second)
		}
		d := time.Duration(a.DurationMs) * time.Millisecond
		if d <= 0 {
			d = time.Second
		}
		select {
		case <-time.After(d):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	default:
		return fmt.Errorf("action %s is not executable", a.Type)
	}
}
