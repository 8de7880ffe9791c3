package jobs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEstimateJobDuration(t *testing.T) {
	perPage := PageLoadCost + ExtractionCost + HumanDelayCost

	assert.Equal(t, BrowserStartupCost+perPage+DBOverheadCost, EstimateJobDuration(1))
	assert.Equal(t, BrowserStartupCost+5*perPage+DBOverheadCost, EstimateJobDuration(5))

	// Nonsense page counts clamp to a single page
	assert.Equal(t, EstimateJobDuration(1), EstimateJobDuration(0))
	assert.Equal(t, EstimateJobDuration(1), EstimateJobDuration(-3))
}

func TestEstimateQueueWait(t *testing.T) {
	assert.Equal(t, time.Duration(0), EstimateQueueWait(0, 5))
	assert.Equal(t, time.Duration(0), EstimateQueueWait(-1, 5))
	assert.Equal(t, EstimateJobDuration(5), EstimateQueueWait(1, 5))
	assert.Equal(t, 3*EstimateJobDuration(2), EstimateQueueWait(3, 2))
}

func TestEstimateRemaining(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	fresh := EstimateRemaining(5, now.Add(-time.Minute), now)
	assert.Equal(t, EstimateJobDuration(5)-time.Minute, fresh)

	// An overdue job reports zero, never a negative countdown
	assert.Equal(t, time.Duration(0), EstimateRemaining(1, now.Add(-2*time.Hour), now))
}
