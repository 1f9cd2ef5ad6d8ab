package tui

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWindowKeepsCursorVisible(t *testing.T) {
	start, end := window(0, 100, 10)
	assert.Equal(t, 0, start)
	assert.Equal(t, 10, end)

	start, end = window(50, 100, 10)
	assert.LessOrEqual(t, start, 50)
	assert.Greater(t, end, 50)
	assert.Equal(t, 10, end-start)

	start, end = window(99, 100, 10)
	assert.Equal(t, 100, end)
	assert.Equal(t, 90, start)
}

func TestWindowShortList(t *testing.T) {
	start, end := window(1, 3, 10)
	assert.Equal(t, 0, start)
	assert.Equal(t, 3, end)
}

func TestClip(t *testing.T) {
	assert.Equal(t, "short", clip("short", 10))
	assert.Equal(t, "very lon…", clip("very long string", 9))
}

func TestRenderViewEmptyState(t *testing.T) {
	m := model{height: 24, width: 80}
	out := renderView(m)
	assert.Contains(t, out, "no events")
	assert.Contains(t, out, "1:Events")
}

func TestSummarizeContext(t *testing.T) {
	assert.Equal(t, "reason=deny list", summarizeContext(map[string]interface{}{"reason": "deny list"}))
	assert.Equal(t, "tool=send_email", summarizeContext(map[string]interface{}{"tool": "send_email"}))
	assert.Equal(t, "score=0.75", summarizeContext(map[string]interface{}{"score": 0.75}))
	assert.Equal(t, "", summarizeContext(nil))
}
