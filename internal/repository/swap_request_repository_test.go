package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/kvnlabs/timetable-exchange-api/internal/models"
)

func newSwapRepoMock(t *testing.T) (*SwapRequestRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewSwapRequestRepository(sqlx.NewDb(db, "postgres")), mock
}

func swapRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "requester_slot_id", "target_slot_id", "requester_faculty_id", "target_faculty_id",
		"request_type", "swap_date", "reason", "status", "admin_approval_status", "response_message",
		"admin_id", "admin_response", "version", "created_at", "target_responded_at", "resolved_at",
	})
}

func addSwapRow(rows *sqlmock.Rows, id string, status models.SwapRequestStatus, version int64) *sqlmock.Rows {
	return rows.AddRow(id, "slot-a", "slot-b", "alice", "bob",
		models.SwapTypePermanent, nil, "schedule clash", status, models.ApprovalNotRequired, nil,
		nil, nil, version, time.Now().UTC(), nil, nil)
}

func TestSwapRequestRepositoryCreateDefaults(t *testing.T) {
	repo, mock := newSwapRepoMock(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO class_swap_requests")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	req := &models.ClassSwapRequest{
		RequesterSlotID:     "slot-a",
		TargetSlotID:        "slot-b",
		RequesterFacultyID:  "alice",
		TargetFacultyID:     "bob",
		RequestType:         models.SwapTypePermanent,
		Reason:              "schedule clash",
		Status:              models.SwapStatusPending,
		AdminApprovalStatus: models.ApprovalNotRequired,
	}
	err := repo.Create(context.Background(), req)
	require.NoError(t, err)
	require.NotEmpty(t, req.ID)
	require.Equal(t, int64(1), req.Version)
	require.False(t, req.CreatedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSwapRequestRepositoryGetByID(t *testing.T) {
	repo, mock := newSwapRepoMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM class_swap_requests WHERE id = $1")).
		WithArgs("req-1").
		WillReturnRows(addSwapRow(swapRows(), "req-1", models.SwapStatusPending, 1))

	req, err := repo.GetByID(context.Background(), nil, "req-1")
	require.NoError(t, err)
	require.Equal(t, "alice", req.RequesterFacultyID)
	require.Equal(t, models.SwapStatusPending, req.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSwapRequestRepositoryUpdateStatus(t *testing.T) {
	repo, mock := newSwapRepoMock(t)
	now := time.Now().UTC()
	approval := models.ApprovalPending
	message := "works for me"

	mock.ExpectExec(regexp.QuoteMeta("UPDATE class_swap_requests SET status = $1, version = version + 1")).
		WithArgs(models.SwapStatusAccepted, approval, message, now, "req-1", models.SwapStatusPending, int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdateStatus(context.Background(), nil, "req-1", models.SwapStatusPending, 1, StatusUpdate{
		Status:          models.SwapStatusAccepted,
		ApprovalStatus:  &approval,
		ResponseMessage: &message,
		RespondedAt:     &now,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSwapRequestRepositoryUpdateStatusStale(t *testing.T) {
	repo, mock := newSwapRepoMock(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE class_swap_requests SET status = $1, version = version + 1")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	// The row still exists, so the guard miss means someone else transitioned it.
	mock.ExpectQuery(regexp.QuoteMeta("FROM class_swap_requests WHERE id = $1")).
		WithArgs("req-1").
		WillReturnRows(addSwapRow(swapRows(), "req-1", models.SwapStatusCancelled, 2))

	err := repo.UpdateStatus(context.Background(), nil, "req-1", models.SwapStatusPending, 1, StatusUpdate{
		Status: models.SwapStatusAccepted,
	})
	require.ErrorIs(t, err, ErrStaleTransition)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSwapRequestRepositoryUpdateStatusMissing(t *testing.T) {
	repo, mock := newSwapRepoMock(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE class_swap_requests SET status = $1, version = version + 1")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("FROM class_swap_requests WHERE id = $1")).
		WithArgs("gone").
		WillReturnError(sql.ErrNoRows)

	err := repo.UpdateStatus(context.Background(), nil, "gone", models.SwapStatusPending, 1, StatusUpdate{
		Status: models.SwapStatusCancelled,
	})
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NotErrorIs(t, err, ErrStaleTransition)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSwapRequestRepositoryList(t *testing.T) {
	repo, mock := newSwapRepoMock(t)
	from := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM class_swap_requests WHERE 1=1 AND (requester_faculty_id = $1 OR target_faculty_id = $1) AND status IN ($2) AND created_at >= $3")).
		WithArgs("alice", models.SwapStatusPending, from).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY created_at DESC LIMIT $4 OFFSET $5")).
		WithArgs("alice", models.SwapStatusPending, from, 10, 0).
		WillReturnRows(addSwapRow(swapRows(), "req-1", models.SwapStatusPending, 1))

	requests, total, err := repo.List(context.Background(), models.SwapRequestFilter{
		FacultyID: "alice",
		Status:    []models.SwapRequestStatus{models.SwapStatusPending},
		DateFrom:  &from,
		Limit:     10,
	})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Len(t, requests, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSwapRequestRepositoryFindActiveBySlot(t *testing.T) {
	repo, mock := newSwapRepoMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("(requester_slot_id = $1 OR target_slot_id = $2) AND status IN ($3, $4)")).
		WithArgs("slot-a", "slot-a", models.SwapStatusPending, models.SwapStatusAccepted).
		WillReturnRows(addSwapRow(swapRows(), "req-1", models.SwapStatusPending, 1))

	requests, err := repo.FindActiveBySlot(context.Background(), nil, "slot-a")
	require.NoError(t, err)
	require.Len(t, requests, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSwapRequestRepositoryFindActiveByFacultyPair(t *testing.T) {
	repo, mock := newSwapRepoMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("requester_slot_id = $1 AND target_slot_id = $2 AND status IN ($3, $4)")).
		WithArgs("slot-a", "slot-b", models.SwapStatusPending, models.SwapStatusAccepted).
		WillReturnRows(addSwapRow(swapRows(), "req-1", models.SwapStatusPending, 1))

	requests, err := repo.FindActiveByFacultyPair(context.Background(), "slot-a", "slot-b")
	require.NoError(t, err)
	require.Len(t, requests, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSwapRequestRepositoryActiveSlotIDs(t *testing.T) {
	repo, mock := newSwapRepoMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT requester_slot_id, target_slot_id FROM class_swap_requests WHERE status IN ($1, $2)")).
		WithArgs(models.SwapStatusPending, models.SwapStatusAccepted).
		WillReturnRows(sqlmock.NewRows([]string{"requester_slot_id", "target_slot_id"}).
			AddRow("slot-a", "slot-b").
			AddRow("slot-c", "slot-b"))

	ids, err := repo.ActiveSlotIDs(context.Background())
	require.NoError(t, err)
	require.Len(t, ids, 3)
	require.Contains(t, ids, "slot-a")
	require.Contains(t, ids, "slot-b")
	require.Contains(t, ids, "slot-c")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSwapRequestRepositoryCountDeclinedByPair(t *testing.T) {
	repo, mock := newSwapRepoMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("status IN ('rejected', 'cancelled')")).
		WithArgs("slot-a", "slot-b", "alice").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	count, err := repo.CountDeclinedByPair(context.Background(), "slot-a", "slot-b", "alice")
	require.NoError(t, err)
	require.Equal(t, 2, count)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSwapRequestRepositoryAppendHistory(t *testing.T) {
	repo, mock := newSwapRepoMock(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO class_swap_history")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	entry := &models.SwapHistoryEntry{
		SwapRequestID: "req-1",
		Action:        "created",
		ActorID:       "alice",
		Message:       "schedule clash",
	}
	err := repo.AppendHistory(context.Background(), nil, entry)
	require.NoError(t, err)
	require.NotEmpty(t, entry.ID)
	require.False(t, entry.CreatedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSwapRequestRepositoryStatistics(t *testing.T) {
	repo, mock := newSwapRepoMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("COUNT(*) FILTER (WHERE status = 'pending')")).
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows([]string{
			"total_requests", "pending_requests", "accepted_requests", "rejected_requests",
			"cancelled_requests", "completed_swaps", "pending_admin_approval",
		}).AddRow(10, 2, 1, 3, 2, 2, 1))

	stats, err := repo.Statistics(context.Background(), "alice")
	require.NoError(t, err)
	require.Equal(t, 10, stats.TotalRequests)
	require.Equal(t, 2, stats.PendingRequests)
	require.Equal(t, 1, stats.PendingAdminApproval)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSwapRequestRepositoryListPendingOlderThan(t *testing.T) {
	repo, mock := newSwapRepoMock(t)
	cutoff := time.Now().UTC().Add(-time.Hour)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE status = 'pending' AND created_at < $1")).
		WithArgs(cutoff).
		WillReturnRows(addSwapRow(swapRows(), "req-1", models.SwapStatusPending, 1))

	requests, err := repo.ListPendingOlderThan(context.Background(), cutoff)
	require.NoError(t, err)
	require.Len(t, requests, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}
