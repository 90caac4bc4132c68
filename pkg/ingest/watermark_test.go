package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWatermarkEmpty(t *testing.T) {
	tr := NewWatermarkTracker()
	_, ok := tr.Watermark()
	assert.False(t, ok)
}

func TestWatermarkHoldsBelowMinInflight(t *testing.T) {
	tr := NewWatermarkTracker()
	tr.Add(10)
	tr.Add(11)
	tr.Add(12)

	// Out-of-order completion: 11 and 12 finish while 10 is in flight.
	tr.Complete(11)
	tr.Complete(12)

	wm, ok := tr.Watermark()
	assert.True(t, ok)
	assert.Equal(t, uint32(9), wm)

	tr.Complete(10)
	wm, ok = tr.Watermark()
	assert.True(t, ok)
	assert.Equal(t, uint32(12), wm)
}

func TestWatermarkAdvancesThroughGaps(t *testing.T) {
	// Skipped (ineligible) indices are never added, so the watermark jumps
	// over them once the surrounding work completes.
	tr := NewWatermarkTracker()
	tr.Add(0)
	tr.Add(5)
	tr.Complete(0)

	wm, ok := tr.Watermark()
	assert.True(t, ok)
	assert.Equal(t, uint32(4), wm)

	tr.Complete(5)
	wm, _ = tr.Watermark()
	assert.Equal(t, uint32(5), wm)
}

func TestWatermarkIndexZeroInflight(t *testing.T) {
	tr := NewWatermarkTracker()
	tr.Add(0)
	_, ok := tr.Watermark()
	assert.False(t, ok)
}

func TestWatermarkCompleteIsIdempotent(t *testing.T) {
	tr := NewWatermarkTracker()
	tr.Add(1)
	tr.Add(2)
	tr.Complete(1)
	tr.Complete(1)

	wm, ok := tr.Watermark()
	assert.True(t, ok)
	assert.Equal(t, uint32(1), wm)
}
