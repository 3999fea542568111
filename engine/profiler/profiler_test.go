package profiler

import (
	"bytes"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTickReportsPassesOncePerInterval(t *testing.T) {
	var out bytes.Buffer
	now := time.Unix(0, 0)
	p := NewProfiler(
		WithLogger(slog.New(slog.NewTextHandler(&out, nil))),
		WithClock(func() time.Time { return now }),
	)

	p.RecordPass("lighting", 3, 2*time.Millisecond)
	p.RecordPass("lighting", 1, 4*time.Millisecond)
	assert.Equal(t, PassStats{Count: 2, Lights: 4, Total: 6 * time.Millisecond, Last: 4 * time.Millisecond}, p.Pass("lighting"))
	assert.Equal(t, 3*time.Millisecond, p.Pass("lighting").Average())

	now = now.Add(500 * time.Millisecond)
	assert.False(t, p.Tick())
	assert.Empty(t, out.String())

	now = now.Add(500 * time.Millisecond)
	assert.True(t, p.Tick())
	assert.Contains(t, out.String(), "fps=2")
	assert.Contains(t, out.String(), "pass=lighting")
	assert.Contains(t, out.String(), "lights_per_frame=2")
	assert.Zero(t, p.Pass("lighting"), "pass statistics reset after a report")
}

func TestAverageOfEmptyStats(t *testing.T) {
	assert.Zero(t, PassStats{}.Average())
}
