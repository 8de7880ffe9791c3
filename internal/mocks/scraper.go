package mocks

import (
	"context"

	"github.com/prospecthq/leadhive/internal/scraper"
	"github.com/stretchr/testify/mock"
)

// MockExtractor is a mock extraction strategy
type MockExtractor struct {
	mock.Mock
}

func (m *MockExtractor) Extract(ctx context.Context, targetURL string, pageCount int, ownerID string) (*scraper.ExtractResult, error) {
	args := m.Called(ctx, targetURL, pageCount, ownerID)
	if r := args.Get(0); r != nil {
		return r.(*scraper.ExtractResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockExtractor) IsAvailable() bool {
	args := m.Called()
	return args.Bool(0)
}
