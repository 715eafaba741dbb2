package safety

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClassifierHealth(t *testing.T) {
	t.Run("starts optimistic", func(t *testing.T) {
		h := NewClassifierHealth(30 * time.Second)
		assert.False(t, h.ShouldUseFallback())
		assert.True(t, h.IsStale(), "no confirmation yet")
	})

	t.Run("failure routes to fallback within the window", func(t *testing.T) {
		h := NewClassifierHealth(30 * time.Second)
		h.MarkDown()
		assert.True(t, h.ShouldUseFallback())

		status := h.Status()
		assert.False(t, status.Healthy)
		assert.True(t, status.Checked)
		assert.False(t, status.LastFailure.IsZero())
	})

	t.Run("classifier probed again after the window", func(t *testing.T) {
		h := NewClassifierHealth(20 * time.Millisecond)
		h.MarkDown()
		assert.True(t, h.ShouldUseFallback())

		time.Sleep(40 * time.Millisecond)
		assert.False(t, h.ShouldUseFallback(), "stale failure should allow a fresh probe")
	})

	t.Run("success restores the classifier path", func(t *testing.T) {
		h := NewClassifierHealth(30 * time.Second)
		h.MarkDown()
		h.MarkUp()
		assert.False(t, h.ShouldUseFallback())
		assert.False(t, h.IsStale())
	})

	t.Run("zero window uses default", func(t *testing.T) {
		h := NewClassifierHealth(0)
		h.MarkDown()
		assert.True(t, h.ShouldUseFallback())
	})
}
