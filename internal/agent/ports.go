package agent

import (
	"context"
	"time"

	"github.com/polzovatel/browser-pilot/internal/scanner"
	"github.com/polzovatel/browser-pilot/internal/store"
)

// Surface is the loop's view of the bound browser tab. *scanner.Scanner
// implements it; tests substitute fakes.
type Surface interface {
	Scan(ctx context.Context, quick bool) ([]scanner.Region, error)
	Region(id string) (scanner.Region, bool)
	URL() string
	Title(ctx context.Context) string
	PageText(ctx context.Context, limit int) string
	ScrollGeometry(ctx context.Context) (scanner.Geometry, error)
	ScrollBy(ctx context.Context, direction string, amount int) error
	ClickRegion(ctx context.Context, id string, vision bool) error
	FillRegion(ctx context.Context, id, value string, vision bool) error
	PressKey(ctx context.Context, id, key string) error
	ClickRoleName(ctx context.Context, role, name string) error
	ClickSelector(ctx context.Context, selector string) error
	FillSelector(ctx context.Context, selector, value string) error
	FillRoleName(ctx context.Context, role, name, value string) error
	WaitUntil(ctx context.Context, state string, timeout time.Duration) error
}

// Emitter pushes events to observing clients. Implementations must never
// block the agent on a slow or absent client.
type Emitter interface {
	Log(sessionID string, step int, phase Phase, message, errMsg string)
	Screenshot(sessionID string, step int, path, observation string, regions []scanner.Region)
	Status(sessionID string, status Status, message string, pending *Action, pauseKind PauseKind)
}

// Recorder persists step rows and artifacts. *store.Store implements it.
type Recorder interface {
	CreateSession(ctx context.Context, id, task, startURL string) error
	UpdateSessionStatus(ctx context.Context, id, status string) error
	RecordStep(ctx context.Context, rec store.StepRecord) error
	RecordArtifact(ctx context.Context, sessionID string, stepNumber int, filePath, fileType string) error
	RecentSteps(ctx context.Context, sessionID string, n int) ([]store.HistoryEntry, error)
}

// ScreenshotSaver captures and files the post-ACT screenshot.
type ScreenshotSaver interface {
	SaveScreenshot(sessionID string, step int, png []byte) (string, error)
}
