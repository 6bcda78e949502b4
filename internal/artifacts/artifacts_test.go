package artifacts

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveScreenshot(t *testing.T) {
	root := t.TempDir()
	m := NewManager(root)

	urlPath, err := m.SaveScreenshot("sess-1", 3, []byte("png-bytes"))
	require.NoError(t, err)
	assert.Equal(t, "/artifacts/sess-1/step-0003.png", urlPath)

	data, err := os.ReadFile(filepath.Join(root, "sess-1", "step-0003.png"))
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), data)
}

func TestSaveScreenshotOverwritesSameStep(t *testing.T) {
	m := NewManager(t.TempDir())
	_, err := m.SaveScreenshot("s", 1, []byte("first"))
	require.NoError(t, err)
	_, err = m.SaveScreenshot("s", 1, []byte("second"))
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(m.Root(), "s", "step-0001.png"))
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), data)
}

func TestSaveTrace(t *testing.T) {
	m := NewManager(t.TempDir())
	urlPath, err := m.SaveTrace("sess-1", 12, []byte(`{"steps":[]}`))
	require.NoError(t, err)
	assert.Equal(t, "/artifacts/sess-1/step-0012-trace.json", urlPath)
}
