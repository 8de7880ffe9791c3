package mocks

import (
	"context"

	"github.com/prospecthq/leadhive/internal/db"
	"github.com/stretchr/testify/mock"
)

// MockSessionStore is a mock implementation of the browser session store
type MockSessionStore struct {
	mock.Mock
}

func (m *MockSessionStore) ActiveSession(ctx context.Context, profileID string) (*db.BrowserSession, error) {
	args := m.Called(ctx, profileID)
	if s := args.Get(0); s != nil {
		return s.(*db.BrowserSession), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockSessionStore) ActiveSessions(ctx context.Context) ([]*db.BrowserSession, error) {
	args := m.Called(ctx)
	if s := args.Get(0); s != nil {
		return s.([]*db.BrowserSession), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockSessionStore) CreateSession(ctx context.Context, profileID, ownerID, sessionType, scrapeJobID string) (*db.BrowserSession, error) {
	args := m.Called(ctx, profileID, ownerID, sessionType, scrapeJobID)
	if s := args.Get(0); s != nil {
		return s.(*db.BrowserSession), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockSessionStore) CloseSession(ctx context.Context, sessionID, status, reason string) error {
	args := m.Called(ctx, sessionID, status, reason)
	return args.Error(0)
}

func (m *MockSessionStore) Heartbeat(ctx context.Context, sessionID string) error {
	args := m.Called(ctx, sessionID)
	return args.Error(0)
}

func (m *MockSessionStore) JobState(ctx context.Context, scrapeJobID string) (string, error) {
	args := m.Called(ctx, scrapeJobID)
	return args.String(0), args.Error(1)
}

// MockJobFailer is a mock for the session-to-job failure cascade
type MockJobFailer struct {
	mock.Mock
}

func (m *MockJobFailer) FailRunningJobsForSession(ctx context.Context, scrapeJobID, reason string) error {
	args := m.Called(ctx, scrapeJobID, reason)
	return args.Error(0)
}

// MockProfileResolver is a mock for owner-to-profile resolution
type MockProfileResolver struct {
	mock.Mock
}

func (m *MockProfileResolver) AssignedProfile(ctx context.Context, ownerID string) (string, error) {
	args := m.Called(ctx, ownerID)
	return args.String(0), args.Error(1)
}
