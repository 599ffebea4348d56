package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRatePercent(t *testing.T) {
	assert.Equal(t, 0.0, ratePercent(0, 0))
	assert.Equal(t, 100.0, ratePercent(5, 5))
	assert.Equal(t, 50.0, ratePercent(1, 2))
	assert.Equal(t, 66.67, ratePercent(2, 3))
	assert.Equal(t, 33.33, ratePercent(1, 3))
}

func TestMostFrequent(t *testing.T) {
	assert.Equal(t, "", mostFrequent(nil))
	assert.Equal(t, "merge", mostFrequent(map[string]int64{"merge": 3}))
	assert.Equal(t, "compress", mostFrequent(map[string]int64{
		"merge":    3,
		"compress": 7,
		"split":    1,
	}))

	// Ties resolve to the lexically smaller key.
	assert.Equal(t, "a", mostFrequent(map[string]int64{"b": 2, "a": 2, "c": 2}))
}

func TestDefaultPeriod(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	period := DefaultPeriod(now)
	assert.Equal(t, now, period.End)
	assert.Equal(t, now.AddDate(0, 0, -30), period.Start)
}

func TestRoundTo(t *testing.T) {
	assert.Equal(t, 3.33, roundTo(10.0/3.0, 2))
	assert.Equal(t, 0.0, roundTo(0, 2))
}
