package mocks

import (
	"context"
	"time"

	"github.com/prospecthq/leadhive/internal/db"
	"github.com/prospecthq/leadhive/internal/verifier"
	"github.com/stretchr/testify/mock"
)

// MockVerifyClient is a mock of the verification provider API client
type MockVerifyClient struct {
	mock.Mock
}

func (m *MockVerifyClient) Verify(ctx context.Context, email, key string) (*verifier.VerifyResponse, error) {
	args := m.Called(ctx, email, key)
	if r := args.Get(0); r != nil {
		return r.(*verifier.VerifyResponse), args.Error(1)
	}
	return nil, args.Error(1)
}

// MockLedger is a mock of the credit ledger
type MockLedger struct {
	mock.Mock
}

func (m *MockLedger) CheckBalance(ctx context.Context, ownerID string, amount int) (bool, error) {
	args := m.Called(ctx, ownerID, amount)
	return args.Bool(0), args.Error(1)
}

func (m *MockLedger) Debit(ctx context.Context, ownerID string, amount int, refID, memo string) error {
	args := m.Called(ctx, ownerID, amount, refID, memo)
	return args.Error(0)
}

// MockLeadStore is a mock of the lead verification persistence surface
type MockLeadStore struct {
	mock.Mock
}

func (m *MockLeadStore) GetLead(ctx context.Context, leadID string) (*db.Lead, error) {
	args := m.Called(ctx, leadID)
	if l := args.Get(0); l != nil {
		return l.(*db.Lead), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockLeadStore) SetVerificationResult(ctx context.Context, leadID, status, email, pattern, mxProvider string, audit []byte) error {
	args := m.Called(ctx, leadID, status, email, pattern, mxProvider, audit)
	return args.Error(0)
}

func (m *MockLeadStore) SetVerificationError(ctx context.Context, leadID, reason string) error {
	args := m.Called(ctx, leadID, reason)
	return args.Error(0)
}

func (m *MockLeadStore) FindEarlierLeadByEmail(ctx context.Context, email string, createdBefore time.Time, excludeLeadID string) (string, error) {
	args := m.Called(ctx, email, createdBefore, excludeLeadID)
	return args.String(0), args.Error(1)
}

func (m *MockLeadStore) FlagDuplicate(ctx context.Context, leadID, duplicateOf string) error {
	args := m.Called(ctx, leadID, duplicateOf)
	return args.Error(0)
}

// MockBulkStore is a mock of the bulk verification persistence surface
type MockBulkStore struct {
	mock.Mock
}

func (m *MockBulkStore) PendingEmails(ctx context.Context, bulkJobID string) ([]*db.BulkEmail, error) {
	args := m.Called(ctx, bulkJobID)
	if r := args.Get(0); r != nil {
		return r.([]*db.BulkEmail), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockBulkStore) SetEmailResult(ctx context.Context, emailID, status, code, mx, message string) error {
	args := m.Called(ctx, emailID, status, code, mx, message)
	return args.Error(0)
}

func (m *MockBulkStore) RecomputeCounters(ctx context.Context, bulkJobID string, creditsUsed int) error {
	args := m.Called(ctx, bulkJobID, creditsUsed)
	return args.Error(0)
}
