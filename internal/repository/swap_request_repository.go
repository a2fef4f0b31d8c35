package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/kvnlabs/timetable-exchange-api/internal/models"
)

// ErrStaleTransition signals a guarded status update that matched no row: the
// request was already moved out of the expected state by another actor.
var ErrStaleTransition = errors.New("swap request not in expected state")

const swapColumns = `id, requester_slot_id, target_slot_id, requester_faculty_id, target_faculty_id,
       request_type, swap_date, reason, status, admin_approval_status, response_message,
       admin_id, admin_response, version, created_at, target_responded_at, resolved_at`

// SwapRequestRepository persists swap requests and their history trail.
type SwapRequestRepository struct {
	db *sqlx.DB
}

// NewSwapRequestRepository constructs the repository.
func NewSwapRequestRepository(db *sqlx.DB) *SwapRequestRepository {
	return &SwapRequestRepository{db: db}
}

func (r *SwapRequestRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// Create inserts a new pending request.
func (r *SwapRequestRepository) Create(ctx context.Context, req *models.ClassSwapRequest) error {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}
	if req.Version == 0 {
		req.Version = 1
	}
	const query = `INSERT INTO class_swap_requests
	(id, requester_slot_id, target_slot_id, requester_faculty_id, target_faculty_id,
	 request_type, swap_date, reason, status, admin_approval_status, response_message,
	 admin_id, admin_response, version, created_at, target_responded_at, resolved_at)
	VALUES (:id, :requester_slot_id, :target_slot_id, :requester_faculty_id, :target_faculty_id,
	 :request_type, :swap_date, :reason, :status, :admin_approval_status, :response_message,
	 :admin_id, :admin_response, :version, :created_at, :target_responded_at, :resolved_at)`
	if _, err := r.db.NamedExecContext(ctx, query, req); err != nil {
		return fmt.Errorf("create swap request: %w", err)
	}
	return nil
}

// GetByID fetches one request.
func (r *SwapRequestRepository) GetByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.ClassSwapRequest, error) {
	query := fmt.Sprintf(`SELECT %s FROM class_swap_requests WHERE id = $1`, swapColumns)
	var req models.ClassSwapRequest
	if err := sqlx.GetContext(ctx, r.exec(exec), &req, query, id); err != nil {
		return nil, err
	}
	return &req, nil
}

// List returns requests matching the filter, newest first, plus the total
// count for pagination. A FacultyID matches either side of the exchange.
func (r *SwapRequestRepository) List(ctx context.Context, filter models.SwapRequestFilter) ([]models.ClassSwapRequest, int, error) {
	conditions := []string{"1=1"}
	args := []interface{}{}

	if filter.FacultyID != "" {
		args = append(args, filter.FacultyID)
		conditions = append(conditions, fmt.Sprintf("(requester_faculty_id = $%d OR target_faculty_id = $%d)", len(args), len(args)))
	}
	if len(filter.Status) > 0 {
		placeholders := make([]string, 0, len(filter.Status))
		for _, s := range filter.Status {
			args = append(args, s)
			placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ", ")))
	}
	if filter.RequestType != "" {
		args = append(args, filter.RequestType)
		conditions = append(conditions, fmt.Sprintf("request_type = $%d", len(args)))
	}
	if filter.DateFrom != nil {
		args = append(args, *filter.DateFrom)
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if filter.DateTo != nil {
		args = append(args, *filter.DateTo)
		conditions = append(conditions, fmt.Sprintf("created_at <= $%d", len(args)))
	}

	where := strings.Join(conditions, " AND ")

	var total int
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM class_swap_requests WHERE %s`, where)
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count swap requests: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	args = append(args, limit)
	limitPos := len(args)
	args = append(args, filter.Offset)
	offsetPos := len(args)

	query := fmt.Sprintf(`SELECT %s FROM class_swap_requests WHERE %s
	ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, swapColumns, where, limitPos, offsetPos)
	var requests []models.ClassSwapRequest
	if err := r.db.SelectContext(ctx, &requests, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list swap requests: %w", err)
	}
	return requests, total, nil
}

// FindActiveBySlot returns the non-terminal requests that reference a slot on
// either side. A non-empty result means the slot holds its exclusivity flag.
func (r *SwapRequestRepository) FindActiveBySlot(ctx context.Context, exec sqlx.ExtContext, slotID string) ([]models.ClassSwapRequest, error) {
	query, args, err := sqlx.In(fmt.Sprintf(`SELECT %s FROM class_swap_requests
	WHERE (requester_slot_id = ? OR target_slot_id = ?) AND status IN (?)`, swapColumns),
		slotID, slotID, models.ActiveSwapStatuses())
	if err != nil {
		return nil, fmt.Errorf("build active-by-slot query: %w", err)
	}
	ex := r.exec(exec)
	query = ex.Rebind(query)
	var requests []models.ClassSwapRequest
	if err := sqlx.SelectContext(ctx, ex, &requests, query, args...); err != nil {
		return nil, fmt.Errorf("find active requests by slot: %w", err)
	}
	return requests, nil
}

// FindActiveByFacultyPair returns non-terminal requests between the same two
// educators over the same slot pair, used to block duplicate submissions.
func (r *SwapRequestRepository) FindActiveByFacultyPair(ctx context.Context, requesterSlotID, targetSlotID string) ([]models.ClassSwapRequest, error) {
	query, args, err := sqlx.In(fmt.Sprintf(`SELECT %s FROM class_swap_requests
	WHERE requester_slot_id = ? AND target_slot_id = ? AND status IN (?)`, swapColumns),
		requesterSlotID, targetSlotID, models.ActiveSwapStatuses())
	if err != nil {
		return nil, fmt.Errorf("build active-by-pair query: %w", err)
	}
	query = r.db.Rebind(query)
	var requests []models.ClassSwapRequest
	if err := r.db.SelectContext(ctx, &requests, query, args...); err != nil {
		return nil, fmt.Errorf("find active requests by pair: %w", err)
	}
	return requests, nil
}

// ActiveSlotIDs returns every slot ID referenced by a non-terminal request.
// The candidate finder excludes these in one pass instead of probing per slot.
func (r *SwapRequestRepository) ActiveSlotIDs(ctx context.Context) (map[string]struct{}, error) {
	query, args, err := sqlx.In(`SELECT requester_slot_id, target_slot_id FROM class_swap_requests WHERE status IN (?)`,
		models.ActiveSwapStatuses())
	if err != nil {
		return nil, fmt.Errorf("build active slot ids query: %w", err)
	}
	query = r.db.Rebind(query)
	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list active slot ids: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var requesterSlotID, targetSlotID string
		if err := rows.Scan(&requesterSlotID, &targetSlotID); err != nil {
			return nil, fmt.Errorf("scan active slot ids: %w", err)
		}
		ids[requesterSlotID] = struct{}{}
		ids[targetSlotID] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate active slot ids: %w", err)
	}
	return ids, nil
}

// CountDeclinedByPair counts earlier rejected or cancelled requests by the
// same requester over the same slot pair. Used when resubmission is disabled.
func (r *SwapRequestRepository) CountDeclinedByPair(ctx context.Context, requesterSlotID, targetSlotID, requesterFacultyID string) (int, error) {
	const query = `SELECT COUNT(*) FROM class_swap_requests
	WHERE requester_slot_id = $1 AND target_slot_id = $2 AND requester_faculty_id = $3
	  AND status IN ('rejected', 'cancelled')`
	var count int
	if err := r.db.GetContext(ctx, &count, query, requesterSlotID, targetSlotID, requesterFacultyID); err != nil {
		return 0, fmt.Errorf("count declined requests: %w", err)
	}
	return count, nil
}

// CountActive returns how many requests are in a non-terminal state.
func (r *SwapRequestRepository) CountActive(ctx context.Context) (int, error) {
	query, args, err := sqlx.In(`SELECT COUNT(*) FROM class_swap_requests WHERE status IN (?)`,
		models.ActiveSwapStatuses())
	if err != nil {
		return 0, fmt.Errorf("build active count query: %w", err)
	}
	query = r.db.Rebind(query)
	var count int
	if err := r.db.GetContext(ctx, &count, query, args...); err != nil {
		return 0, fmt.Errorf("count active requests: %w", err)
	}
	return count, nil
}

// StatusUpdate holds the column changes of one guarded transition.
type StatusUpdate struct {
	Status          models.SwapRequestStatus
	ApprovalStatus  *models.AdminApprovalStatus
	ResponseMessage *string
	AdminID         *string
	AdminResponse   *string
	RespondedAt     *time.Time
	ResolvedAt      *time.Time
}

// UpdateStatus performs a guarded transition: the UPDATE only matches while
// the row still carries the expected status and version. Zero rows affected
// means another actor won the race and the caller gets ErrStaleTransition.
func (r *SwapRequestRepository) UpdateStatus(ctx context.Context, exec sqlx.ExtContext, id string, expected models.SwapRequestStatus, expectedVersion int64, upd StatusUpdate) error {
	set := []string{"status = $1", "version = version + 1"}
	args := []interface{}{upd.Status}
	if upd.ApprovalStatus != nil {
		args = append(args, *upd.ApprovalStatus)
		set = append(set, fmt.Sprintf("admin_approval_status = $%d", len(args)))
	}
	if upd.ResponseMessage != nil {
		args = append(args, *upd.ResponseMessage)
		set = append(set, fmt.Sprintf("response_message = $%d", len(args)))
	}
	if upd.AdminID != nil {
		args = append(args, *upd.AdminID)
		set = append(set, fmt.Sprintf("admin_id = $%d", len(args)))
	}
	if upd.AdminResponse != nil {
		args = append(args, *upd.AdminResponse)
		set = append(set, fmt.Sprintf("admin_response = $%d", len(args)))
	}
	if upd.RespondedAt != nil {
		args = append(args, *upd.RespondedAt)
		set = append(set, fmt.Sprintf("target_responded_at = $%d", len(args)))
	}
	if upd.ResolvedAt != nil {
		args = append(args, *upd.ResolvedAt)
		set = append(set, fmt.Sprintf("resolved_at = $%d", len(args)))
	}

	args = append(args, id)
	idPos := len(args)
	args = append(args, expected)
	statusPos := len(args)
	args = append(args, expectedVersion)
	versionPos := len(args)

	query := fmt.Sprintf(`UPDATE class_swap_requests SET %s WHERE id = $%d AND status = $%d AND version = $%d`,
		strings.Join(set, ", "), idPos, statusPos, versionPos)
	result, err := r.exec(exec).ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update swap request status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check status update rows: %w", err)
	}
	if rows == 0 {
		if _, getErr := r.GetByID(ctx, exec, id); getErr != nil {
			return getErr
		}
		return ErrStaleTransition
	}
	return nil
}

// AppendHistory records one transition in the append-only trail.
func (r *SwapRequestRepository) AppendHistory(ctx context.Context, exec sqlx.ExtContext, entry *models.SwapHistoryEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO class_swap_history (id, swap_request_id, action, actor_id, message, created_at)
	VALUES (:id, :swap_request_id, :action, :actor_id, :message, :created_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, entry); err != nil {
		return fmt.Errorf("append swap history: %w", err)
	}
	return nil
}

// ListHistory returns a request's trail in chronological order.
func (r *SwapRequestRepository) ListHistory(ctx context.Context, swapRequestID string) ([]models.SwapHistoryEntry, error) {
	const query = `SELECT id, swap_request_id, action, actor_id, message, created_at
	FROM class_swap_history WHERE swap_request_id = $1 ORDER BY created_at ASC`
	var entries []models.SwapHistoryEntry
	if err := r.db.SelectContext(ctx, &entries, query, swapRequestID); err != nil {
		return nil, fmt.Errorf("list swap history: %w", err)
	}
	return entries, nil
}

// Statistics aggregates request counts. An empty facultyID aggregates the
// whole institution.
func (r *SwapRequestRepository) Statistics(ctx context.Context, facultyID string) (*models.SwapStatistics, error) {
	query := `SELECT
	COUNT(*) AS total_requests,
	COUNT(*) FILTER (WHERE status = 'pending') AS pending_requests,
	COUNT(*) FILTER (WHERE status = 'accepted') AS accepted_requests,
	COUNT(*) FILTER (WHERE status = 'rejected') AS rejected_requests,
	COUNT(*) FILTER (WHERE status = 'cancelled') AS cancelled_requests,
	COUNT(*) FILTER (WHERE status = 'completed') AS completed_swaps,
	COUNT(*) FILTER (WHERE status = 'accepted' AND admin_approval_status = 'pending') AS pending_admin_approval
	FROM class_swap_requests`
	args := []interface{}{}
	if facultyID != "" {
		query += ` WHERE requester_faculty_id = $1 OR target_faculty_id = $1`
		args = append(args, facultyID)
	}
	row := r.db.QueryRowxContext(ctx, query, args...)
	var stats models.SwapStatistics
	if err := row.Scan(&stats.TotalRequests, &stats.PendingRequests, &stats.AcceptedRequests,
		&stats.RejectedRequests, &stats.CancelledRequests, &stats.CompletedSwaps,
		&stats.PendingAdminApproval); err != nil {
		return nil, fmt.Errorf("aggregate swap statistics: %w", err)
	}
	return &stats, nil
}

// CountPendingForFaculty returns how many requests await the educator's
// response.
func (r *SwapRequestRepository) CountPendingForFaculty(ctx context.Context, facultyID string) (int, error) {
	const query = `SELECT COUNT(*) FROM class_swap_requests WHERE target_faculty_id = $1 AND status = 'pending'`
	var count int
	if err := r.db.GetContext(ctx, &count, query, facultyID); err != nil {
		return 0, fmt.Errorf("count pending requests: %w", err)
	}
	return count, nil
}

// ListPendingOlderThan returns pending requests created before the cutoff,
// used by the expiry sweep.
func (r *SwapRequestRepository) ListPendingOlderThan(ctx context.Context, cutoff time.Time) ([]models.ClassSwapRequest, error) {
	query := fmt.Sprintf(`SELECT %s FROM class_swap_requests
	WHERE status = 'pending' AND created_at < $1 ORDER BY created_at ASC`, swapColumns)
	var requests []models.ClassSwapRequest
	if err := r.db.SelectContext(ctx, &requests, query, cutoff); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("list stale pending requests: %w", err)
	}
	return requests, nil
}
