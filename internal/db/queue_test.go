package db

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDbQueueExecute tests the Execute transaction helper
func TestDbQueueExecute(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		setupMock func(sqlmock.Sqlmock)
		fn        func(*sql.Tx) error
		wantErr   bool
		errMsg    string
	}{
		{
			name: "successful transaction",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectCommit()
			},
			fn:      func(tx *sql.Tx) error { return nil },
			wantErr: false,
		},
		{
			name: "begin transaction fails",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin().WillReturnError(errors.New("connection lost"))
			},
			fn:      func(tx *sql.Tx) error { return nil },
			wantErr: true,
			errMsg:  "failed to begin transaction",
		},
		{
			name: "function returns error",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectRollback()
			},
			fn:      func(tx *sql.Tx) error { return errors.New("operation failed") },
			wantErr: true,
			errMsg:  "operation failed",
		},
		{
			name: "commit fails",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectCommit().WillReturnError(errors.New("commit failed"))
				mock.ExpectRollback()
			},
			fn:      func(tx *sql.Tx) error { return nil },
			wantErr: true,
			errMsg:  "failed to commit transaction",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockDB, mock, err := sqlmock.New()
			require.NoError(t, err)
			defer mockDB.Close()

			tt.setupMock(mock)

			queue := NewDbQueue(mockDB)
			err = queue.Execute(context.Background(), tt.fn)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
			} else {
				assert.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestClaimNextPending(t *testing.T) {
	t.Parallel()

	jobColumns := []string{"id", "target_id", "target_url", "owner_id", "status",
		"priority", "page_count", "created_at"}
	created := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

	t.Run("claims the best pending job", func(t *testing.T) {
		mockDB, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer mockDB.Close()

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT id, target_id, target_url, owner_id, status, priority`).
			WillReturnRows(sqlmock.NewRows(jobColumns).
				AddRow("job-1", "target-1", "https://example.com", "owner-1", "pending", 5, 3, created))
		mock.ExpectExec(`UPDATE scrape_jobs`).
			WithArgs(sqlmock.AnyArg(), "job-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		queue := NewDbQueue(mockDB)
		job, err := queue.ClaimNextPending(context.Background())
		require.NoError(t, err)
		require.NotNil(t, job)

		assert.Equal(t, "job-1", job.ID)
		assert.Equal(t, JobStatusRunning, job.Status)
		assert.True(t, job.StartedAt.Valid)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no pending jobs returns nil without error", func(t *testing.T) {
		mockDB, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer mockDB.Close()

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT id, target_id, target_url`).
			WillReturnError(sql.ErrNoRows)
		mock.ExpectRollback()

		queue := NewDbQueue(mockDB)
		job, err := queue.ClaimNextPending(context.Background())
		require.NoError(t, err)
		assert.Nil(t, job)
	})

	t.Run("lost claim race returns nil without error", func(t *testing.T) {
		mockDB, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer mockDB.Close()

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT id, target_id, target_url`).
			WillReturnRows(sqlmock.NewRows(jobColumns).
				AddRow("job-1", "target-1", "https://example.com", "owner-1", "pending", 0, 1, created))
		// Guarded update matches zero rows: another claimer won
		mock.ExpectExec(`UPDATE scrape_jobs`).
			WithArgs(sqlmock.AnyArg(), "job-1").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		queue := NewDbQueue(mockDB)
		job, err := queue.ClaimNextPending(context.Background())
		require.NoError(t, err)
		assert.Nil(t, job)
	})

	t.Run("query error surfaces", func(t *testing.T) {
		mockDB, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer mockDB.Close()

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT id, target_id, target_url`).
			WillReturnError(errors.New("connection reset"))
		mock.ExpectRollback()

		queue := NewDbQueue(mockDB)
		_, err = queue.ClaimNextPending(context.Background())
		assert.Error(t, err)
	})
}

func TestRequeueJob(t *testing.T) {
	t.Parallel()

	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE scrape_jobs`).
		WithArgs("job-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	queue := NewDbQueue(mockDB)
	require.NoError(t, queue.RequeueJob(context.Background(), "job-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelPending(t *testing.T) {
	t.Parallel()

	t.Run("cancels a pending job", func(t *testing.T) {
		mockDB, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer mockDB.Close()

		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE scrape_jobs`).
			WithArgs(sqlmock.AnyArg(), "job-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		queue := NewDbQueue(mockDB)
		cancelled, err := queue.CancelPending(context.Background(), "job-1")
		require.NoError(t, err)
		assert.True(t, cancelled)
	})

	t.Run("refuses a job already claimed", func(t *testing.T) {
		mockDB, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer mockDB.Close()

		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE scrape_jobs`).
			WithArgs(sqlmock.AnyArg(), "job-1").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectCommit()

		queue := NewDbQueue(mockDB)
		cancelled, err := queue.CancelPending(context.Background(), "job-1")
		require.NoError(t, err)
		assert.False(t, cancelled)
	})
}

func TestFailRunningJobsForSession(t *testing.T) {
	t.Parallel()

	t.Run("cascades failure to running job", func(t *testing.T) {
		mockDB, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer mockDB.Close()

		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE scrape_jobs`).
			WithArgs(sqlmock.AnyArg(), "session went stale", "job-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		queue := NewDbQueue(mockDB)
		require.NoError(t, queue.FailRunningJobsForSession(context.Background(), "job-1", "session went stale"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("empty job id is a no-op", func(t *testing.T) {
		mockDB, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer mockDB.Close()

		queue := NewDbQueue(mockDB)
		require.NoError(t, queue.FailRunningJobsForSession(context.Background(), "", "reason"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestQueuePosition(t *testing.T) {
	t.Parallel()

	t.Run("pending job reports claim-order position", func(t *testing.T) {
		mockDB, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer mockDB.Close()

		mock.ExpectQuery(`SELECT CASE WHEN target.status = 'pending'`).
			WithArgs("job-1").
			WillReturnRows(sqlmock.NewRows([]string{"position"}).AddRow(4))

		queue := NewDbQueue(mockDB)
		position, err := queue.QueuePosition(context.Background(), "job-1")
		require.NoError(t, err)
		assert.Equal(t, 4, position)
	})

	t.Run("non-pending job reports zero", func(t *testing.T) {
		mockDB, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer mockDB.Close()

		mock.ExpectQuery(`SELECT CASE WHEN target.status = 'pending'`).
			WithArgs("job-running").
			WillReturnRows(sqlmock.NewRows([]string{"position"}).AddRow(0))

		queue := NewDbQueue(mockDB)
		position, err := queue.QueuePosition(context.Background(), "job-running")
		require.NoError(t, err)
		assert.Equal(t, 0, position)
	})

	t.Run("unknown job reports zero without error", func(t *testing.T) {
		mockDB, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer mockDB.Close()

		mock.ExpectQuery(`SELECT CASE WHEN target.status = 'pending'`).
			WithArgs("job-missing").
			WillReturnRows(sqlmock.NewRows([]string{"position"}))

		queue := NewDbQueue(mockDB)
		position, err := queue.QueuePosition(context.Background(), "job-missing")
		require.NoError(t, err)
		assert.Equal(t, 0, position)
	})
}
