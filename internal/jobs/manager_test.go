package jobs

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/prospecthq/leadhive/internal/browser"
	"github.com/prospecthq/leadhive/internal/db"
	"github.com/prospecthq/leadhive/internal/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestManager() (*Manager, *mocks.MockQueue, *mocks.MockProfileResolver, *mocks.MockLockChecker) {
	queue := &mocks.MockQueue{}
	profiles := &mocks.MockProfileResolver{}
	registry := &mocks.MockLockChecker{}
	processor := NewProcessor(queue, profiles, registry, &mocks.MockSessionStore{}, &mocks.MockLeadWriter{}, &mocks.MockExtractor{})
	return NewManager(queue, profiles, registry, processor), queue, profiles, registry
}

func TestEnqueue(t *testing.T) {
	manager, queue, profiles, registry := newTestManager()
	ctx := context.Background()

	queue.On("CreateJob", ctx, mock.MatchedBy(func(job *db.ScrapeJob) bool {
		return job.TargetID == "target-1" &&
			job.Status == db.JobStatusPending &&
			job.Priority == 2 &&
			job.ID != ""
	})).Return(nil)
	queue.On("QueuePosition", ctx, mock.Anything).Return(3, nil)
	profiles.On("AssignedProfile", ctx, "owner-1").Return("profile-1", nil)
	registry.On("GetLockState", ctx, "profile-1").
		Return(&browser.Lock{State: browser.StateScraping, ProfileID: "profile-1"}, nil)

	result, err := manager.Enqueue(ctx, "target-1", "https://app.example.com/search?q=x", "owner-1", 2, 5)
	require.NoError(t, err)

	assert.NotEmpty(t, result.QueueID)
	assert.Equal(t, 3, result.Position)
	assert.Equal(t, browser.StateScraping, result.LockState)
}

func TestEnqueueValidation(t *testing.T) {
	manager, _, _, _ := newTestManager()
	ctx := context.Background()

	_, err := manager.Enqueue(ctx, "", "https://x", "owner-1", 0, 1)
	assert.Error(t, err)

	_, err = manager.Enqueue(ctx, "target-1", "", "owner-1", 0, 1)
	assert.Error(t, err)

	_, err = manager.Enqueue(ctx, "target-1", "https://x", "", 0, 1)
	assert.Error(t, err)

	_, err = manager.Enqueue(ctx, "target-1", "ftp://app.example.com", "owner-1", 0, 1)
	assert.Error(t, err)
}

func TestEnqueueNoProfileReportsAvailable(t *testing.T) {
	manager, queue, profiles, registry := newTestManager()
	ctx := context.Background()

	queue.On("CreateJob", ctx, mock.Anything).Return(nil)
	queue.On("QueuePosition", ctx, mock.Anything).Return(1, nil)
	profiles.On("AssignedProfile", ctx, "owner-1").Return("", nil)

	result, err := manager.Enqueue(ctx, "target-1", "https://app.example.com", "owner-1", 0, 1)
	require.NoError(t, err)

	assert.Equal(t, browser.StateAvailable, result.LockState)
	registry.AssertNotCalled(t, "GetLockState", mock.Anything, mock.Anything)
}

func TestGetStatusPending(t *testing.T) {
	manager, queue, _, _ := newTestManager()
	ctx := context.Background()

	queue.On("GetJobByTarget", ctx, "target-1").Return(&db.ScrapeJob{
		ID:        "job-1",
		TargetID:  "target-1",
		Status:    db.JobStatusPending,
		PageCount: 5,
	}, nil)
	queue.On("QueuePosition", ctx, "job-1").Return(2, nil)

	status, err := manager.GetStatus(ctx, "target-1")
	require.NoError(t, err)

	assert.Equal(t, db.JobStatusPending, status.Status)
	assert.Equal(t, 2, status.Position)
	assert.Equal(t, EstimateQueueWait(2, 5), status.ETA)
}

func TestGetStatusRunning(t *testing.T) {
	manager, queue, _, _ := newTestManager()
	ctx := context.Background()

	started := time.Now().UTC().Add(-time.Minute)
	queue.On("GetJobByTarget", ctx, "target-1").Return(&db.ScrapeJob{
		ID:        "job-1",
		TargetID:  "target-1",
		Status:    db.JobStatusRunning,
		PageCount: 5,
		StartedAt: sql.NullTime{Time: started, Valid: true},
	}, nil)

	status, err := manager.GetStatus(ctx, "target-1")
	require.NoError(t, err)

	assert.Equal(t, db.JobStatusRunning, status.Status)
	assert.Zero(t, status.Position)
	assert.Greater(t, status.ETA, time.Duration(0))
	assert.Less(t, status.ETA, EstimateJobDuration(5))
}

func TestGetStatusCompleted(t *testing.T) {
	manager, queue, _, _ := newTestManager()
	ctx := context.Background()

	queue.On("GetJobByTarget", ctx, "target-1").Return(&db.ScrapeJob{
		ID:           "job-1",
		TargetID:     "target-1",
		Status:       db.JobStatusCompleted,
		PagesScraped: 5,
		LeadsFound:   120,
	}, nil)

	status, err := manager.GetStatus(ctx, "target-1")
	require.NoError(t, err)

	assert.Equal(t, db.JobStatusCompleted, status.Status)
	assert.Equal(t, 120, status.LeadsFound)
	assert.Zero(t, status.ETA)
}

func TestGetStatusUnknownTarget(t *testing.T) {
	manager, queue, _, _ := newTestManager()
	ctx := context.Background()

	queue.On("GetJobByTarget", ctx, "target-missing").Return(nil, nil)

	_, err := manager.GetStatus(ctx, "target-missing")
	assert.Error(t, err)
}

func TestCancelPendingJob(t *testing.T) {
	manager, queue, _, _ := newTestManager()
	ctx := context.Background()

	queue.On("CancelPending", ctx, "job-1").Return(true, nil)

	cancelled, err := manager.Cancel(ctx, "job-1")
	require.NoError(t, err)
	assert.True(t, cancelled)
}

func TestCancelRunningJobRefused(t *testing.T) {
	manager, queue, _, _ := newTestManager()
	ctx := context.Background()

	// The guarded update matches nothing once the job is claimed
	queue.On("CancelPending", ctx, "job-1").Return(false, nil)

	cancelled, err := manager.Cancel(ctx, "job-1")
	require.NoError(t, err)
	assert.False(t, cancelled)
}

func TestProcessorStatusPassthrough(t *testing.T) {
	manager, _, _, _ := newTestManager()

	status := manager.ProcessorStatus()
	assert.False(t, status.Started)
	assert.False(t, status.Busy)
	assert.Empty(t, status.CurrentJobID)
}
