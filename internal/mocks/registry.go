package mocks

import (
	"context"

	"github.com/prospecthq/leadhive/internal/browser"
	"github.com/prospecthq/leadhive/internal/db"
	"github.com/stretchr/testify/mock"
)

// MockLockChecker is a mock of the profile lock registry
type MockLockChecker struct {
	mock.Mock
}

func (m *MockLockChecker) GetLockState(ctx context.Context, profileID string) (*browser.Lock, error) {
	args := m.Called(ctx, profileID)
	if l := args.Get(0); l != nil {
		return l.(*browser.Lock), args.Error(1)
	}
	return nil, args.Error(1)
}

// MockLeadWriter is a mock of the lead batch insert surface
type MockLeadWriter struct {
	mock.Mock
}

func (m *MockLeadWriter) InsertLeads(ctx context.Context, leads []*db.Lead) (int, error) {
	args := m.Called(ctx, leads)
	return args.Int(0), args.Error(1)
}
