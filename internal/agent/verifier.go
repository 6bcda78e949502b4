package agent

import (
	"fmt"
	"strings"
)

// Verify summarizes what an action observably did, for logs and the next
// prompt. It never fails a step: a navigation that destroys the execution
// context mid-read is still a successful navigation.
func Verify(a Action, out Outcome, actErr error) string {
	if actErr != nil {
		if contextDestroyed(actErr) {
			return fmt.Sprintf("%s triggered a navigation: %s -> %s", a.Type, out.URLBefore, out.URLAfter)
		}
		return fmt.Sprintf("%s failed: %v", a.Type, actErr)
	}
	switch {
	case out.URLBefore != out.URLAfter:
		return fmt.Sprintf("%s navigated: %s -> %s", a.Type, out.URLBefore, out.URLAfter)
	case out.StateChanged:
		return fmt.Sprintf("%s changed the page in place", a.Type)
	default:
		return fmt.Sprintf("%s produced no observable change", a.Type)
	}
}

// contextDestroyed recognizes the playwright errors a successful
// click-then-navigate leaves behind.
func contextDestroyed(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "execution context was destroyed") ||
		strings.Contains(msg, "context was destroyed") ||
		strings.Contains(msg, "navigation") && strings.Contains(msg, "interrupted") ||
		strings.Contains(msg, "target closed")
}
