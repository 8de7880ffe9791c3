// Package mocks provides testify mocks shared across test suites.
package mocks

import (
	"context"

	"github.com/prospecthq/leadhive/internal/db"
	"github.com/stretchr/testify/mock"
)

// MockQueue is a mock implementation of the scrape job queue
type MockQueue struct {
	mock.Mock
}

func (m *MockQueue) CreateJob(ctx context.Context, job *db.ScrapeJob) error {
	args := m.Called(ctx, job)
	return args.Error(0)
}

func (m *MockQueue) ClaimNextPending(ctx context.Context) (*db.ScrapeJob, error) {
	args := m.Called(ctx)
	if job := args.Get(0); job != nil {
		return job.(*db.ScrapeJob), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockQueue) RequeueJob(ctx context.Context, jobID string) error {
	args := m.Called(ctx, jobID)
	return args.Error(0)
}

func (m *MockQueue) CompleteJob(ctx context.Context, jobID string, pagesScraped, leadsFound int) error {
	args := m.Called(ctx, jobID, pagesScraped, leadsFound)
	return args.Error(0)
}

func (m *MockQueue) FailJob(ctx context.Context, jobID string, errMsg string) error {
	args := m.Called(ctx, jobID, errMsg)
	return args.Error(0)
}

func (m *MockQueue) CancelPending(ctx context.Context, jobID string) (bool, error) {
	args := m.Called(ctx, jobID)
	return args.Bool(0), args.Error(1)
}

func (m *MockQueue) GetJob(ctx context.Context, jobID string) (*db.ScrapeJob, error) {
	args := m.Called(ctx, jobID)
	if job := args.Get(0); job != nil {
		return job.(*db.ScrapeJob), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockQueue) GetJobByTarget(ctx context.Context, targetID string) (*db.ScrapeJob, error) {
	args := m.Called(ctx, targetID)
	if job := args.Get(0); job != nil {
		return job.(*db.ScrapeJob), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockQueue) QueuePosition(ctx context.Context, jobID string) (int, error) {
	args := m.Called(ctx, jobID)
	return args.Int(0), args.Error(1)
}

func (m *MockQueue) PendingCount(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}
