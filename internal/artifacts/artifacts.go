// Package artifacts writes screenshot files under a stable per-session
// layout: <root>/<sessionId>/step-0001.png, served back to clients at
// /artifacts/<sessionId>/step-0001.png.
package artifacts

import (
	"fmt"
	"os"
	"path/filepath"
)

type Manager struct {
	root string
}

func NewManager(root string) *Manager {
	return &Manager{root: root}
}

func (m *Manager) Root() string { return m.root }

// SaveScreenshot writes PNG bytes for one step and returns the URL path the
// HTTP server exposes it at.
func (m *Manager) SaveScreenshot(sessionID string, step int, png []byte) (string, error) {
	dir := filepath.Join(m.root, sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create session artifact dir: %w", err)
	}
	name := fmt.Sprintf("step-%04d.png", step)
	if err := os.WriteFile(filepath.Join(dir, name), png, 0o644); err != nil {
		return "", fmt.Errorf("write screenshot: %w", err)
	}
	return "/artifacts/" + sessionID + "/" + name, nil
}

// SaveTrace writes an optional JSON trace next to the screenshot.
func (m *Manager) SaveTrace(sessionID string, step int, data []byte) (string, error) {
	dir := filepath.Join(m.root, sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create session artifact dir: %w", err)
	}
	name := fmt.Sprintf("step-%04d-trace.json", step)
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		return "", fmt.Errorf("write trace: %w", err)
	}
	return "/artifacts/" + sessionID + "/" + name, nil
}
