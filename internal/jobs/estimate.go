package jobs

import "time"

// Per-page cost model for queue ETAs. Advisory only; the UI shows these,
// nothing schedules off them.
const (
	BrowserStartupCost = 15 * time.Second
	PageLoadCost       = 5 * time.Second
	ExtractionCost     = 2 * time.Second
	HumanDelayCost     = 4 * time.Second
	DBOverheadCost     = 2 * time.Second
)

// EstimateJobDuration predicts how long one scrape job takes end to end
func EstimateJobDuration(pageCount int) time.Duration {
	if pageCount < 1 {
		pageCount = 1
	}
	perPage := PageLoadCost + ExtractionCost + HumanDelayCost
	return BrowserStartupCost + time.Duration(pageCount)*perPage + DBOverheadCost
}

// EstimateQueueWait predicts how long a pending job at the given 1-based
// queue position waits before completing, assuming similarly sized jobs
// ahead of it. Position 0 (not queued) estimates to zero.
func EstimateQueueWait(position, pageCount int) time.Duration {
	if position < 1 {
		return 0
	}
	return time.Duration(position) * EstimateJobDuration(pageCount)
}

// EstimateRemaining predicts time left for a running job given when it
// started. Never negative; an overdue job reports zero rather than a
// nonsense countdown.
func EstimateRemaining(pageCount int, startedAt, now time.Time) time.Duration {
	remaining := EstimateJobDuration(pageCount) - now.Sub(startedAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}
