package ui

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestProgressDisplayCountsPerPass(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgressDisplay(&buf, false)

	p.StartPass("illust")
	p.Committed("a")
	p.Skipped("b")
	p.Failed("c", errors.New("boom"))
	assert.Equal(t, 1, p.committed)
	assert.Equal(t, 1, p.failed)

	p.StartPass("novel")
	assert.Equal(t, 0, p.committed)
	p.Committed("d")
	p.Warning(errors.New("rename refused"))

	assert.Equal(t, 2, p.total.committed)
	assert.Equal(t, 1, p.total.skipped)
	assert.Equal(t, 1, p.total.failed)
	assert.Equal(t, 1, p.total.warnings)

	p.Complete()
	assert.Contains(t, buf.String(), "2 committed")
	assert.Contains(t, buf.String(), "1 failed")
}

func TestProgressDisplayDebugLines(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgressDisplay(&buf, true)

	p.StartPass("illust")
	p.Committed("illust 1")
	p.Failed("illust 2", errors.New("http 404"))

	out := buf.String()
	assert.Contains(t, out, "illust 1")
	assert.Contains(t, out, "illust 2")
	assert.Contains(t, out, "http 404")
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "5s", FormatDuration(5*time.Second))
	assert.Equal(t, "2m3s", FormatDuration(2*time.Minute+3*time.Second))
	assert.Equal(t, "1h2m", FormatDuration(time.Hour+2*time.Minute))
}

func TestTruncateLabel(t *testing.T) {
	assert.Equal(t, "abc", truncateLabel("abc", 5))
	assert.Equal(t, "ねこね…", truncateLabel("ねこねこねこ", 4))
}
