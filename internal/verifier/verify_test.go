package verifier_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prospecthq/leadhive/internal/db"
	"github.com/prospecthq/leadhive/internal/mocks"
	"github.com/prospecthq/leadhive/internal/verifier"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*verifier.Service, *mocks.MockLeadStore, *mocks.MockBulkStore, *mocks.MockLedger, *mocks.MockVerifyClient, *verifier.Credential) {
	t.Helper()

	leads := &mocks.MockLeadStore{}
	bulk := &mocks.MockBulkStore{}
	ledger := &mocks.MockLedger{}
	client := &mocks.MockVerifyClient{}

	// High per-minute rate keeps inter-request delays negligible in tests
	cred := &verifier.Credential{Key: "test-key", DisplayName: "test", RequestsPerMin: 60000}
	keys := verifier.NewKeyPool([]*verifier.Credential{cred})

	return verifier.NewService(leads, bulk, ledger, client, keys), leads, bulk, ledger, client, cred
}

func TestVerifyLeadShortCircuit(t *testing.T) {
	service, leads, _, ledger, client, cred := newTestService(t)
	ctx := context.Background()

	item := &verifier.Item{
		Type:    verifier.ItemTypeLead,
		LeadID:  "lead-1",
		OwnerID: "owner-1",
		Candidates: []verifier.Candidate{
			{Email: "a@acme.com", Pattern: "first"},
			{Email: "b@acme.com", Pattern: "first.last"},
			{Email: "c@acme.com", Pattern: "flast"},
		},
	}

	ledger.On("CheckBalance", ctx, "owner-1", 1).Return(true, nil)
	client.On("Verify", ctx, "a@acme.com", "test-key").
		Return(&verifier.VerifyResponse{Code: "mailbox_not_found"}, nil)
	client.On("Verify", ctx, "b@acme.com", "test-key").
		Return(&verifier.VerifyResponse{Code: "ok", MX: "aspmx.l.google.com"}, nil)
	ledger.On("Debit", ctx, "owner-1", 1, "lead-1", "email verification").Return(nil)
	leads.On("SetVerificationResult", ctx, "lead-1", "valid", "b@acme.com", "first.last", "google", mock.Anything).
		Return(nil)
	leads.On("GetLead", ctx, "lead-1").
		Return(&db.Lead{ID: "lead-1", CreatedAt: time.Now()}, nil)
	leads.On("FindEarlierLeadByEmail", ctx, "b@acme.com", mock.Anything, "lead-1").
		Return("", nil)

	outcome, err := service.VerifyLead(ctx, cred, item)
	require.NoError(t, err)

	assert.Equal(t, verifier.StatusValid, outcome.Status)
	assert.Equal(t, "b@acme.com", outcome.Email)
	assert.Equal(t, "first.last", outcome.Pattern)
	assert.Equal(t, "google", outcome.Provider)
	assert.Equal(t, 1, outcome.CreditsUsed)

	// The third permutation is never attempted after the valid hit
	client.AssertNotCalled(t, "Verify", ctx, "c@acme.com", "test-key")
	ledger.AssertNumberOfCalls(t, "Debit", 1)
}

func TestVerifyLeadCatchallNeverDebits(t *testing.T) {
	service, leads, _, ledger, client, cred := newTestService(t)
	ctx := context.Background()

	item := &verifier.Item{
		Type:    verifier.ItemTypeLead,
		LeadID:  "lead-2",
		OwnerID: "owner-1",
		Candidates: []verifier.Candidate{
			{Email: "a@acme.com", Pattern: "first"},
			{Email: "b@acme.com", Pattern: "first.last"},
		},
	}

	ledger.On("CheckBalance", ctx, "owner-1", 1).Return(true, nil)
	client.On("Verify", ctx, "a@acme.com", "test-key").
		Return(&verifier.VerifyResponse{Code: "ok_for_all", MX: "mx.acme.com"}, nil)
	client.On("Verify", ctx, "b@acme.com", "test-key").
		Return(&verifier.VerifyResponse{Code: "mailbox_not_found"}, nil)
	leads.On("SetVerificationResult", ctx, "lead-2", "catchall", "a@acme.com", "first", "generic-smtp", mock.Anything).
		Return(nil)

	outcome, err := service.VerifyLead(ctx, cred, item)
	require.NoError(t, err)

	assert.Equal(t, verifier.StatusCatchall, outcome.Status)
	assert.Equal(t, 0, outcome.CreditsUsed)

	// Network calls were made for both permutations but nothing is charged
	ledger.AssertNotCalled(t, "Debit", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	leads.AssertNotCalled(t, "FlagDuplicate", mock.Anything, mock.Anything, mock.Anything)
}

func TestVerifyLeadInsufficientCredits(t *testing.T) {
	service, leads, _, ledger, client, cred := newTestService(t)
	ctx := context.Background()

	item := &verifier.Item{
		Type:       verifier.ItemTypeLead,
		LeadID:     "lead-3",
		OwnerID:    "owner-broke",
		Candidates: []verifier.Candidate{{Email: "a@acme.com", Pattern: "first"}},
	}

	ledger.On("CheckBalance", ctx, "owner-broke", 1).Return(false, nil)
	leads.On("SetVerificationError", ctx, "lead-3", "insufficient credits").Return(nil)

	outcome, err := service.VerifyLead(ctx, cred, item)
	require.NoError(t, err)

	assert.Equal(t, verifier.StatusError, outcome.Status)

	// No permutations are attempted without credit cover
	client.AssertNotCalled(t, "Verify", mock.Anything, mock.Anything, mock.Anything)
	leads.AssertExpectations(t)
}

func TestVerifyLeadLedgerFailureStampsRow(t *testing.T) {
	service, leads, _, ledger, client, cred := newTestService(t)
	ctx := context.Background()

	item := &verifier.Item{
		Type:       verifier.ItemTypeLead,
		LeadID:     "lead-3",
		OwnerID:    "owner-1",
		Candidates: []verifier.Candidate{{Email: "a@acme.com", Pattern: "first"}},
	}

	ledger.On("CheckBalance", ctx, "owner-1", 1).
		Return(false, errors.New("ledger unreachable"))
	leads.On("SetVerificationError", ctx, "lead-3",
		mock.MatchedBy(func(reason string) bool {
			return strings.Contains(reason, "ledger unreachable")
		})).Return(nil)

	_, err := service.VerifyLead(ctx, cred, item)
	require.Error(t, err)

	// The row carries the failure reason instead of staying unverified
	leads.AssertExpectations(t)
	client.AssertNotCalled(t, "Verify", mock.Anything, mock.Anything, mock.Anything)
}

func TestVerifyLeadResultWriteFailureStampsRow(t *testing.T) {
	service, leads, _, ledger, client, cred := newTestService(t)
	ctx := context.Background()

	item := &verifier.Item{
		Type:       verifier.ItemTypeLead,
		LeadID:     "lead-3",
		OwnerID:    "owner-1",
		Candidates: []verifier.Candidate{{Email: "a@acme.com", Pattern: "first"}},
	}

	ledger.On("CheckBalance", ctx, "owner-1", 1).Return(true, nil)
	client.On("Verify", ctx, "a@acme.com", "test-key").
		Return(&verifier.VerifyResponse{Code: "mailbox_not_found"}, nil)
	leads.On("SetVerificationResult", ctx, "lead-3", "invalid", "", "first",
		mock.Anything, mock.Anything).Return(errors.New("write timeout"))
	leads.On("SetVerificationError", ctx, "lead-3",
		mock.MatchedBy(func(reason string) bool {
			return strings.Contains(reason, "write timeout")
		})).Return(nil)

	_, err := service.VerifyLead(ctx, cred, item)
	require.Error(t, err)
	leads.AssertExpectations(t)
}

func TestVerifyLeadBestSeenFirstWinsTies(t *testing.T) {
	service, leads, _, ledger, client, cred := newTestService(t)
	ctx := context.Background()

	item := &verifier.Item{
		Type:    verifier.ItemTypeLead,
		LeadID:  "lead-4",
		OwnerID: "owner-1",
		Candidates: []verifier.Candidate{
			{Email: "a@acme.com", Pattern: "first"},
			{Email: "b@acme.com", Pattern: "first.last"},
			{Email: "c@acme.com", Pattern: "flast"},
		},
	}

	ledger.On("CheckBalance", ctx, "owner-1", 1).Return(true, nil)
	client.On("Verify", ctx, "a@acme.com", "test-key").
		Return(&verifier.VerifyResponse{Code: "mailbox_not_found"}, nil)
	client.On("Verify", ctx, "b@acme.com", "test-key").
		Return(&verifier.VerifyResponse{Code: "mailbox_full", MX: "mx1.acme.com"}, nil)
	client.On("Verify", ctx, "c@acme.com", "test-key").
		Return(&verifier.VerifyResponse{Code: "ok_for_all", MX: "mx2.acme.com"}, nil)
	leads.On("SetVerificationResult", ctx, "lead-4", "catchall", "b@acme.com", "first.last", "generic-smtp", mock.Anything).
		Return(nil)

	outcome, err := service.VerifyLead(ctx, cred, item)
	require.NoError(t, err)

	// Both b and c rank catchall; the first seen is retained
	assert.Equal(t, verifier.StatusCatchall, outcome.Status)
	assert.Equal(t, "b@acme.com", outcome.Email)
}

func TestVerifyLeadTransportErrorNotFatal(t *testing.T) {
	service, leads, _, ledger, client, cred := newTestService(t)
	ctx := context.Background()

	item := &verifier.Item{
		Type:    verifier.ItemTypeLead,
		LeadID:  "lead-5",
		OwnerID: "owner-1",
		Candidates: []verifier.Candidate{
			{Email: "a@acme.com", Pattern: "first"},
			{Email: "b@acme.com", Pattern: "first.last"},
		},
	}

	ledger.On("CheckBalance", ctx, "owner-1", 1).Return(true, nil)
	client.On("Verify", ctx, "a@acme.com", "test-key").
		Return(nil, errors.New("connection reset"))
	client.On("Verify", ctx, "b@acme.com", "test-key").
		Return(&verifier.VerifyResponse{Code: "ok", MX: "smtp.outlook.com"}, nil)
	ledger.On("Debit", ctx, "owner-1", 1, "lead-5", "email verification").Return(nil)
	leads.On("SetVerificationResult", ctx, "lead-5", "valid", "b@acme.com", "first.last", "outlook", mock.Anything).
		Return(nil)
	leads.On("GetLead", ctx, "lead-5").
		Return(&db.Lead{ID: "lead-5", CreatedAt: time.Now()}, nil)
	leads.On("FindEarlierLeadByEmail", ctx, "b@acme.com", mock.Anything, "lead-5").
		Return("", nil)

	outcome, err := service.VerifyLead(ctx, cred, item)
	require.NoError(t, err)

	// The error on the first permutation is recorded, not terminal
	assert.Equal(t, verifier.StatusValid, outcome.Status)
	assert.Equal(t, "b@acme.com", outcome.Email)
}

func TestVerifyLeadDuplicateFlagged(t *testing.T) {
	service, leads, _, ledger, client, cred := newTestService(t)
	ctx := context.Background()

	created := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	item := &verifier.Item{
		Type:       verifier.ItemTypeLead,
		LeadID:     "lead-6",
		OwnerID:    "owner-1",
		Candidates: []verifier.Candidate{{Email: "jane@acme.com", Pattern: "first"}},
	}

	ledger.On("CheckBalance", ctx, "owner-1", 1).Return(true, nil)
	client.On("Verify", ctx, "jane@acme.com", "test-key").
		Return(&verifier.VerifyResponse{Code: "ok", MX: "aspmx.l.google.com"}, nil)
	ledger.On("Debit", ctx, "owner-1", 1, "lead-6", "email verification").Return(nil)
	leads.On("SetVerificationResult", ctx, "lead-6", "valid", "jane@acme.com", "first", "google", mock.Anything).
		Return(nil)
	leads.On("GetLead", ctx, "lead-6").
		Return(&db.Lead{ID: "lead-6", CreatedAt: created}, nil)
	leads.On("FindEarlierLeadByEmail", ctx, "jane@acme.com", created, "lead-6").
		Return("lead-earlier", nil)
	leads.On("FlagDuplicate", ctx, "lead-6", "lead-earlier").Return(nil)

	_, err := service.VerifyLead(ctx, cred, item)
	require.NoError(t, err)

	leads.AssertCalled(t, "FlagDuplicate", ctx, "lead-6", "lead-earlier")
}

func TestVerifyLeadDuplicateLookupErrorIgnored(t *testing.T) {
	service, leads, _, ledger, client, cred := newTestService(t)
	ctx := context.Background()

	item := &verifier.Item{
		Type:       verifier.ItemTypeLead,
		LeadID:     "lead-7",
		OwnerID:    "owner-1",
		Candidates: []verifier.Candidate{{Email: "jo@acme.com", Pattern: "first"}},
	}

	ledger.On("CheckBalance", ctx, "owner-1", 1).Return(true, nil)
	client.On("Verify", ctx, "jo@acme.com", "test-key").
		Return(&verifier.VerifyResponse{Code: "ok", MX: "mx.acme.com"}, nil)
	ledger.On("Debit", ctx, "owner-1", 1, "lead-7", "email verification").Return(nil)
	leads.On("SetVerificationResult", ctx, "lead-7", "valid", "jo@acme.com", "first", "generic-smtp", mock.Anything).
		Return(nil)
	leads.On("GetLead", ctx, "lead-7").
		Return(&db.Lead{ID: "lead-7", CreatedAt: time.Now()}, nil)
	leads.On("FindEarlierLeadByEmail", ctx, "jo@acme.com", mock.Anything, "lead-7").
		Return("", errors.New("db timeout"))

	outcome, err := service.VerifyLead(ctx, cred, item)
	require.NoError(t, err)

	assert.Equal(t, verifier.StatusValid, outcome.Status)
	leads.AssertNotCalled(t, "FlagDuplicate", mock.Anything, mock.Anything, mock.Anything)
}

func TestVerifyBulk(t *testing.T) {
	service, _, bulk, ledger, client, cred := newTestService(t)
	ctx := context.Background()

	item := &verifier.Item{
		Type:      verifier.ItemTypeBulk,
		BulkJobID: "bulk-1",
		OwnerID:   "owner-1",
	}

	bulk.On("PendingEmails", ctx, "bulk-1").Return([]*db.BulkEmail{
		{ID: "be-1", BulkJobID: "bulk-1", Email: "one@acme.com"},
		{ID: "be-2", BulkJobID: "bulk-1", Email: "two@acme.com"},
	}, nil)

	ledger.On("CheckBalance", ctx, "owner-1", 1).Return(true, nil)
	client.On("Verify", ctx, "one@acme.com", "test-key").
		Return(&verifier.VerifyResponse{Code: "ok", MX: "aspmx.l.google.com", Message: "deliverable"}, nil)
	client.On("Verify", ctx, "two@acme.com", "test-key").
		Return(&verifier.VerifyResponse{Code: "mailbox_not_found"}, nil)

	bulk.On("SetEmailResult", ctx, "be-1", "valid", "ok", "aspmx.l.google.com", "deliverable").Return(nil)
	bulk.On("SetEmailResult", ctx, "be-2", "invalid", "mailbox_not_found", "", "").Return(nil)
	ledger.On("Debit", ctx, "owner-1", 1, "bulk-1", "bulk email verification").Return(nil)
	bulk.On("RecomputeCounters", ctx, "bulk-1", mock.Anything).Return(nil)

	outcome, err := service.VerifyBulk(ctx, cred, item)
	require.NoError(t, err)

	assert.Equal(t, 1, outcome.CreditsUsed)
	ledger.AssertNumberOfCalls(t, "Debit", 1)
	// Counters are rebuilt after every email, not once at the end
	bulk.AssertNumberOfCalls(t, "RecomputeCounters", 2)
}

func TestVerifyBulkInsufficientCreditsSkipsRemaining(t *testing.T) {
	service, _, bulk, ledger, client, cred := newTestService(t)
	ctx := context.Background()

	item := &verifier.Item{
		Type:      verifier.ItemTypeBulk,
		BulkJobID: "bulk-2",
		OwnerID:   "owner-broke",
	}

	bulk.On("PendingEmails", ctx, "bulk-2").Return([]*db.BulkEmail{
		{ID: "be-1", BulkJobID: "bulk-2", Email: "one@acme.com"},
	}, nil)
	ledger.On("CheckBalance", ctx, "owner-broke", 1).Return(false, nil)
	bulk.On("SetEmailResult", ctx, "be-1", "error", "", "", "insufficient credits").Return(nil)

	outcome, err := service.VerifyBulk(ctx, cred, item)
	require.NoError(t, err)

	assert.Equal(t, 0, outcome.CreditsUsed)
	client.AssertNotCalled(t, "Verify", mock.Anything, mock.Anything, mock.Anything)
}
