package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/kvnlabs/timetable-exchange-api/internal/dto"
	"github.com/kvnlabs/timetable-exchange-api/internal/models"
	"github.com/kvnlabs/timetable-exchange-api/internal/repository"
	appErrors "github.com/kvnlabs/timetable-exchange-api/pkg/errors"
)

type swapSlotStore interface {
	Get(ctx context.Context, exec sqlx.ExtContext, id string) (*models.TimetableSlot, error)
	GetInfo(ctx context.Context, id string) (*models.SlotInfo, error)
	ListInfoByTimetableClass(ctx context.Context, timetableID, classID string) ([]models.SlotInfo, error)
	ReassignEducator(ctx context.Context, exec sqlx.ExtContext, slotID, newEducatorID string, expectedVersion int64) error
	UpsertOverride(ctx context.Context, exec sqlx.ExtContext, slot *models.TimetableSlot) error
	InTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error
}

type swapRequestStore interface {
	Create(ctx context.Context, req *models.ClassSwapRequest) error
	GetByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.ClassSwapRequest, error)
	List(ctx context.Context, filter models.SwapRequestFilter) ([]models.ClassSwapRequest, int, error)
	FindActiveBySlot(ctx context.Context, exec sqlx.ExtContext, slotID string) ([]models.ClassSwapRequest, error)
	FindActiveByFacultyPair(ctx context.Context, requesterSlotID, targetSlotID string) ([]models.ClassSwapRequest, error)
	ActiveSlotIDs(ctx context.Context) (map[string]struct{}, error)
	CountDeclinedByPair(ctx context.Context, requesterSlotID, targetSlotID, requesterFacultyID string) (int, error)
	UpdateStatus(ctx context.Context, exec sqlx.ExtContext, id string, expected models.SwapRequestStatus, expectedVersion int64, upd repository.StatusUpdate) error
	AppendHistory(ctx context.Context, exec sqlx.ExtContext, entry *models.SwapHistoryEntry) error
	ListHistory(ctx context.Context, swapRequestID string) ([]models.SwapHistoryEntry, error)
	Statistics(ctx context.Context, facultyID string) (*models.SwapStatistics, error)
	CountPendingForFaculty(ctx context.Context, facultyID string) (int, error)
	ListPendingOlderThan(ctx context.Context, cutoff time.Time) ([]models.ClassSwapRequest, error)
	CountActive(ctx context.Context) (int, error)
}

type swapUserStore interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type swapMetrics interface {
	RecordSwapTransition(status string)
	RecordSwapCommit()
	RecordSwapConflict(reason string)
	SetActiveRequests(n int)
}

type swapNotifier interface {
	Dispatch(event SwapEvent, req models.ClassSwapRequest, message string, recipientIDs ...string)
}

type gridInvalidator interface {
	InvalidateClass(ctx context.Context, classID string)
}

// ExchangeSettings tunes the exchange policy knobs.
type ExchangeSettings struct {
	// AllowResubmit permits a new request over a slot pair after an earlier
	// one was rejected or cancelled.
	AllowResubmit bool
	// RequestTTL expires pending requests that received no response. Zero
	// disables expiry.
	RequestTTL time.Duration
}

// SwapService owns the swap request lifecycle: creation, the target
// educator's response, the administrative decision and the atomic commit that
// exchanges the teaching assignments.
type SwapService struct {
	slots     swapSlotStore
	requests  swapRequestStore
	users     swapUserStore
	periods   periodStore
	breaks    breakStore
	locker    *slotPairLocker
	validator *validator.Validate
	logger    *zap.Logger
	metrics   swapMetrics
	notifier  swapNotifier
	grids     gridInvalidator
	settings  ExchangeSettings
}

// NewSwapService constructs the service. metrics, notifier and grids may be
// nil.
func NewSwapService(slots swapSlotStore, requests swapRequestStore, users swapUserStore, periods periodStore, breaks breakStore, validate *validator.Validate, logger *zap.Logger, settings ExchangeSettings) *SwapService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &SwapService{
		slots:     slots,
		requests:  requests,
		users:     users,
		periods:   periods,
		breaks:    breaks,
		locker:    newSlotPairLocker(),
		validator: validate,
		logger:    logger,
		settings:  settings,
	}
}

// WithMetrics attaches the metrics recorder.
func (s *SwapService) WithMetrics(m swapMetrics) *SwapService {
	s.metrics = m
	return s
}

// WithNotifier attaches the notification dispatcher.
func (s *SwapService) WithNotifier(n swapNotifier) *SwapService {
	s.notifier = n
	return s
}

// WithGridInvalidator attaches the week grid cache invalidator.
func (s *SwapService) WithGridInvalidator(g gridInvalidator) *SwapService {
	s.grids = g
	return s
}

// CreateRequest validates and stores a new pending swap request. Both slots
// gain their exclusivity flag: no other active request may reference either
// until this one reaches a terminal state.
func (s *SwapService) CreateRequest(ctx context.Context, requesterID string, req dto.CreateSwapRequest) (*models.ClassSwapRequest, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid swap request payload")
	}
	if req.RequestType == "" {
		req.RequestType = models.SwapTypeOneTime
	}
	if req.RequestType == models.SwapTypeOneTime && req.SwapDate == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "swap_date is required for one-time swaps")
	}
	if req.RequestType == models.SwapTypePermanent && req.SwapDate != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "swap_date is only valid for one-time swaps")
	}
	if req.RequesterSlotID == req.TargetSlotID {
		return nil, appErrors.Clone(appErrors.ErrValidation, "cannot swap a slot with itself")
	}

	requesterSlot, err := s.loadSlot(ctx, req.RequesterSlotID)
	if err != nil {
		return nil, err
	}
	targetSlot, err := s.loadSlot(ctx, req.TargetSlotID)
	if err != nil {
		return nil, err
	}

	if requesterSlot.EducatorID != requesterID {
		return nil, appErrors.Clone(appErrors.ErrNotSlotOwner, "you can only offer a slot you teach")
	}
	if targetSlot.EducatorID == requesterID {
		return nil, appErrors.Clone(appErrors.ErrValidation, "cannot request a swap with your own slot")
	}
	if requesterSlot.TimetableID != targetSlot.TimetableID || requesterSlot.ClassID != targetSlot.ClassID {
		return nil, appErrors.Clone(appErrors.ErrValidation, "both slots must belong to the same class within the same timetable")
	}

	if req.SwapDate != nil {
		if err := s.checkSwapDate(ctx, requesterSlot, *req.SwapDate); err != nil {
			return nil, err
		}
		// The target side materialises on its own weekday within the swap
		// week; that date must be able to host a lesson too.
		if err := s.checkCellDate(ctx, targetSlot, overrideDate(targetSlot, mondayOf(*req.SwapDate))); err != nil {
			return nil, err
		}
	}

	duplicates, err := s.requests.FindActiveByFacultyPair(ctx, requesterSlot.ID, targetSlot.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check for duplicate requests")
	}
	if len(duplicates) > 0 {
		s.recordConflict("duplicate_request")
		return nil, appErrors.Clone(appErrors.ErrConflict, "an identical request over this slot pair is already in flight")
	}

	for _, slotID := range []string{requesterSlot.ID, targetSlot.ID} {
		active, err := s.requests.FindActiveBySlot(ctx, nil, slotID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check slot availability")
		}
		if len(active) > 0 {
			s.recordConflict("slot_busy")
			return nil, appErrors.Clone(appErrors.ErrSlotBusy, "slot already has an active swap request")
		}
	}

	if !s.settings.AllowResubmit {
		declined, err := s.requests.CountDeclinedByPair(ctx, requesterSlot.ID, targetSlot.ID, requesterID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check earlier requests")
		}
		if declined > 0 {
			return nil, appErrors.Clone(appErrors.ErrConflict, "a request over this slot pair was already declined")
		}
	}

	request := &models.ClassSwapRequest{
		RequesterSlotID:     requesterSlot.ID,
		TargetSlotID:        targetSlot.ID,
		RequesterFacultyID:  requesterID,
		TargetFacultyID:     targetSlot.EducatorID,
		RequestType:         req.RequestType,
		SwapDate:            req.SwapDate,
		Reason:              req.Reason,
		Status:              models.SwapStatusPending,
		AdminApprovalStatus: models.ApprovalNotRequired,
	}
	if err := s.requests.Create(ctx, request); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create swap request")
	}

	s.appendHistory(ctx, nil, request.ID, "created", requesterID, req.Reason)
	s.audit(ctx, requesterID, models.AuditActionSwapCreate, request.ID)
	s.recordTransition(string(models.SwapStatusPending))
	s.notify(EventSwapRequested, *request, req.Reason, request.TargetFacultyID)

	return request, nil
}

// Respond applies the target educator's accept or reject decision. Accepting
// moves the request into administrative review; it does not yet touch the
// slots.
func (s *SwapService) Respond(ctx context.Context, requestID, actorID string, req dto.RespondSwapRequest) (*models.ClassSwapRequest, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid response payload")
	}

	request, err := s.loadRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if request.TargetFacultyID != actorID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the target educator may respond")
	}
	if request.Status != models.SwapStatusPending {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition,
			fmt.Sprintf("request is %s, only pending requests accept a response", request.Status))
	}

	now := time.Now().UTC()
	message := req.Message
	var upd repository.StatusUpdate
	var event SwapEvent
	if req.Decision == dto.DecisionAccept {
		approval := models.ApprovalPending
		upd = repository.StatusUpdate{
			Status:          models.SwapStatusAccepted,
			ApprovalStatus:  &approval,
			ResponseMessage: &message,
			RespondedAt:     &now,
		}
		event = EventSwapAccepted
	} else {
		upd = repository.StatusUpdate{
			Status:          models.SwapStatusRejected,
			ResponseMessage: &message,
			RespondedAt:     &now,
			ResolvedAt:      &now,
		}
		event = EventSwapRejected
	}

	if err := s.requests.UpdateStatus(ctx, nil, request.ID, models.SwapStatusPending, request.Version, upd); err != nil {
		return nil, s.mapTransitionErr(err, "failed to apply response")
	}

	s.appendHistory(ctx, nil, request.ID, string(req.Decision)+"ed_by_target", actorID, message)
	s.audit(ctx, actorID, models.AuditActionSwapRespond, request.ID)
	s.recordTransition(string(upd.Status))
	s.notify(event, *request, message, request.RequesterFacultyID)

	return s.loadRequest(ctx, requestID)
}

// Cancel withdraws a request. Only the requester may cancel, and only while
// the request is still pending: once the target accepts, withdrawal goes
// through administrative denial so the review trail stays intact.
func (s *SwapService) Cancel(ctx context.Context, requestID, actorID, message string) (*models.ClassSwapRequest, error) {
	request, err := s.loadRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if request.RequesterFacultyID != actorID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the requester may cancel")
	}
	if request.Status != models.SwapStatusPending {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition,
			fmt.Sprintf("request is %s, only pending requests can be cancelled", request.Status))
	}

	now := time.Now().UTC()
	upd := repository.StatusUpdate{
		Status:     models.SwapStatusCancelled,
		ResolvedAt: &now,
	}
	if err := s.requests.UpdateStatus(ctx, nil, request.ID, models.SwapStatusPending, request.Version, upd); err != nil {
		return nil, s.mapTransitionErr(err, "failed to cancel request")
	}

	s.appendHistory(ctx, nil, request.ID, "cancelled", actorID, message)
	s.audit(ctx, actorID, models.AuditActionSwapCancel, request.ID)
	s.recordTransition(string(models.SwapStatusCancelled))
	s.notify(EventSwapCancelled, *request, message, request.TargetFacultyID)

	return s.loadRequest(ctx, requestID)
}

// AdminDecide applies the administrative sign-off on an accepted request.
// Approval commits the exchange atomically; denial resolves the request
// without touching the slots.
func (s *SwapService) AdminDecide(ctx context.Context, requestID, adminID string, req dto.AdminDecisionRequest) (*models.ClassSwapRequest, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid decision payload")
	}

	request, err := s.loadRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if request.Status != models.SwapStatusAccepted || request.AdminApprovalStatus != models.ApprovalPending {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "request is not awaiting administrative review")
	}

	now := time.Now().UTC()
	message := req.Message

	if req.Decision == dto.DecisionDeny {
		approval := models.ApprovalDenied
		upd := repository.StatusUpdate{
			Status:         models.SwapStatusRejected,
			ApprovalStatus: &approval,
			AdminID:        &adminID,
			AdminResponse:  &message,
			ResolvedAt:     &now,
		}
		if err := s.requests.UpdateStatus(ctx, nil, request.ID, models.SwapStatusAccepted, request.Version, upd); err != nil {
			return nil, s.mapTransitionErr(err, "failed to deny request")
		}
		s.appendHistory(ctx, nil, request.ID, "denied_by_admin", adminID, message)
		s.audit(ctx, adminID, models.AuditActionSwapAdmin, request.ID)
		s.recordTransition(string(models.SwapStatusRejected))
		s.notify(EventSwapDenied, *request, message, request.RequesterFacultyID, request.TargetFacultyID)
		return s.loadRequest(ctx, requestID)
	}

	if err := s.commitExchange(ctx, request, adminID, message); err != nil {
		return nil, err
	}

	s.audit(ctx, adminID, models.AuditActionSwapCommit, request.ID)
	s.recordTransition(string(models.SwapStatusCompleted))
	if s.metrics != nil {
		s.metrics.RecordSwapCommit()
	}
	s.notify(EventSwapCompleted, *request, message, request.RequesterFacultyID, request.TargetFacultyID)

	return s.loadRequest(ctx, requestID)
}

// commitExchange performs the atomic slot exchange inside one transaction,
// re-validating every precondition under the pair lock. Any guard failure
// rolls the whole commit back.
func (s *SwapService) commitExchange(ctx context.Context, request *models.ClassSwapRequest, adminID, message string) error {
	unlock := s.locker.LockPair(request.RequesterSlotID, request.TargetSlotID)
	defer unlock()

	var classID string
	err := s.slots.InTx(ctx, func(tx *sqlx.Tx) error {
		current, err := s.requests.GetByID(ctx, tx, request.ID)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reload request")
		}
		if current.Status != models.SwapStatusAccepted || current.AdminApprovalStatus != models.ApprovalPending {
			s.recordConflict("stale_transition")
			return appErrors.Clone(appErrors.ErrInvalidTransition, "request is no longer awaiting administrative review")
		}

		requesterSlot, err := s.slots.Get(ctx, tx, current.RequesterSlotID)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reload requester slot")
		}
		targetSlot, err := s.slots.Get(ctx, tx, current.TargetSlotID)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reload target slot")
		}
		classID = requesterSlot.ClassID

		// The slots must still carry the educators the request was built
		// from. A reassignment in between invalidates the agreement.
		if requesterSlot.EducatorID != current.RequesterFacultyID || targetSlot.EducatorID != current.TargetFacultyID {
			s.recordConflict("slot_reassigned")
			return appErrors.Clone(appErrors.ErrConcurrentModification, "a slot was reassigned since the request was made")
		}

		for _, slotID := range []string{requesterSlot.ID, targetSlot.ID} {
			active, err := s.requests.FindActiveBySlot(ctx, tx, slotID)
			if err != nil {
				return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to re-check slot availability")
			}
			for _, other := range active {
				if other.ID != current.ID {
					s.recordConflict("slot_busy")
					return appErrors.Clone(appErrors.ErrSlotBusy, "another active request claimed the slot")
				}
			}
		}

		switch current.RequestType {
		case models.SwapTypePermanent:
			if err := s.slots.ReassignEducator(ctx, tx, requesterSlot.ID, current.TargetFacultyID, requesterSlot.Version); err != nil {
				return s.mapSlotMutationErr(err)
			}
			if err := s.slots.ReassignEducator(ctx, tx, targetSlot.ID, current.RequesterFacultyID, targetSlot.Version); err != nil {
				return s.mapSlotMutationErr(err)
			}
		case models.SwapTypeOneTime:
			if current.SwapDate == nil {
				return appErrors.Clone(appErrors.ErrValidation, "one-time request lost its swap date")
			}
			weekStart := mondayOf(*current.SwapDate)
			// An exclusion added between acceptance and approval must still
			// block the commit, on either side's materialisation date.
			for _, slot := range []*models.TimetableSlot{requesterSlot, targetSlot} {
				if err := s.checkCellDate(ctx, slot, overrideDate(slot, weekStart)); err != nil {
					s.recordConflict("calendar_exclusion")
					return err
				}
			}
			if err := s.slots.UpsertOverride(ctx, tx, overrideFor(requesterSlot, current.TargetFacultyID, weekStart)); err != nil {
				return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to write requester override")
			}
			if err := s.slots.UpsertOverride(ctx, tx, overrideFor(targetSlot, current.RequesterFacultyID, weekStart)); err != nil {
				return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to write target override")
			}
		default:
			return appErrors.Clone(appErrors.ErrValidation, "unknown request type")
		}

		now := time.Now().UTC()
		approval := models.ApprovalApproved
		upd := repository.StatusUpdate{
			Status:         models.SwapStatusCompleted,
			ApprovalStatus: &approval,
			AdminID:        &adminID,
			AdminResponse:  &message,
			ResolvedAt:     &now,
		}
		if err := s.requests.UpdateStatus(ctx, tx, current.ID, models.SwapStatusAccepted, current.Version, upd); err != nil {
			return s.mapTransitionErr(err, "failed to complete request")
		}
		return s.requests.AppendHistory(ctx, tx, &models.SwapHistoryEntry{
			SwapRequestID: current.ID,
			Action:        "approved_and_committed",
			ActorID:       adminID,
			Message:       message,
		})
	})
	if err != nil {
		return err
	}
	if s.grids != nil && classID != "" {
		s.grids.InvalidateClass(ctx, classID)
	}
	return nil
}

// overrideDate pins one side of a one-time swap to its own weekday within the
// swap week.
func overrideDate(slot *models.TimetableSlot, weekStart time.Time) time.Time {
	return weekStart.AddDate(0, 0, slot.DayOfWeek-1)
}

// overrideFor builds the date-pinned override that realises a one-time swap
// for one side of the exchange within the swap week.
func overrideFor(slot *models.TimetableSlot, educatorID string, weekStart time.Time) *models.TimetableSlot {
	date := overrideDate(slot, weekStart)
	return &models.TimetableSlot{
		TimetableID:  slot.TimetableID,
		EducatorID:   educatorID,
		ClassID:      slot.ClassID,
		DayOfWeek:    slot.DayOfWeek,
		PeriodNumber: slot.PeriodNumber,
		SubjectName:  slot.SubjectName,
		RoomNumber:   slot.RoomNumber,
		StartTime:    slot.StartTime,
		EndTime:      slot.EndTime,
		IsRecurring:  false,
		ScheduleDate: &date,
	}
}

// FindCandidates lists the slots an educator could offer their slot against.
// Candidates share the slot's class and timetable, belong to another
// educator, sit outside recess periods and excluded dates, and carry no
// active request. Results order by day proximity, then period proximity, then
// educator name.
func (s *SwapService) FindCandidates(ctx context.Context, slotID, requesterID string) ([]models.SlotInfo, error) {
	own, err := s.slots.GetInfo(ctx, slotID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrSlotNotFound, "slot not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load slot")
	}
	if own.EducatorID != requesterID {
		return nil, appErrors.Clone(appErrors.ErrNotSlotOwner, "you can only search candidates for a slot you teach")
	}

	all, err := s.slots.ListInfoByTimetableClass(ctx, own.TimetableID, own.ClassID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list class slots")
	}

	busy, err := s.requests.ActiveSlotIDs(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load active requests")
	}

	recess := make(map[int]bool)
	if periods, err := s.periods.ListByTimetable(ctx, own.TimetableID); err == nil {
		for _, p := range periods {
			if p.Recess() {
				recess[p.PeriodNumber] = true
			}
		}
	} else {
		s.logger.Warn("failed to load periods for candidate filtering", zap.Error(err))
	}

	candidates := make([]models.SlotInfo, 0, len(all))
	for _, slot := range all {
		if slot.ID == own.ID || slot.EducatorID == requesterID {
			continue
		}
		if recess[slot.PeriodNumber] {
			continue
		}
		if _, taken := busy[slot.ID]; taken {
			continue
		}
		// A date-pinned slot lying inside a whole-day exclusion cannot host a
		// lesson and is no use as an exchange partner.
		if !slot.IsRecurring && slot.ScheduleDate != nil {
			exclusions, err := s.breaks.ListForDate(ctx, own.TimetableID, *slot.ScheduleDate)
			if err != nil {
				return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check calendar exclusions")
			}
			if len(exclusions) > 0 {
				continue
			}
		}
		candidates = append(candidates, slot)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		di, dj := absInt(candidates[i].DayOfWeek-own.DayOfWeek), absInt(candidates[j].DayOfWeek-own.DayOfWeek)
		if di != dj {
			return di < dj
		}
		pi, pj := absInt(candidates[i].PeriodNumber-own.PeriodNumber), absInt(candidates[j].PeriodNumber-own.PeriodNumber)
		if pi != pj {
			return pi < pj
		}
		return candidates[i].EducatorName < candidates[j].EducatorName
	})

	return candidates, nil
}

// List returns the requests visible to one educator, filtered and paginated.
func (s *SwapService) List(ctx context.Context, facultyID string, query dto.SwapRequestQuery) ([]models.ClassSwapRequest, int, error) {
	filter := models.SwapRequestFilter{
		FacultyID:   facultyID,
		Status:      query.Status,
		RequestType: query.RequestType,
		DateFrom:    query.DateFrom,
		DateTo:      query.DateTo,
		Limit:       query.Limit,
		Offset:      query.Offset,
	}
	requests, total, err := s.requests.List(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list swap requests")
	}
	return requests, total, nil
}

// GetDetail loads a request with both parties, both slots and its history.
// Only the two parties and administrators may view it.
func (s *SwapService) GetDetail(ctx context.Context, requestID, actorID string, actorRole models.UserRole) (*models.SwapRequestDetail, error) {
	request, err := s.loadRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	isParty := request.RequesterFacultyID == actorID || request.TargetFacultyID == actorID
	if !isParty && actorRole != models.RoleAdmin && actorRole != models.RoleSuperAdmin {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not a party to this request")
	}

	detail := &models.SwapRequestDetail{ClassSwapRequest: *request}
	if user, err := s.users.FindByID(ctx, request.RequesterFacultyID); err == nil {
		detail.RequesterFaculty = &models.UserInfo{ID: user.ID, Email: user.Email, FullName: user.FullName, Role: user.Role}
	}
	if user, err := s.users.FindByID(ctx, request.TargetFacultyID); err == nil {
		detail.TargetFaculty = &models.UserInfo{ID: user.ID, Email: user.Email, FullName: user.FullName, Role: user.Role}
	}
	if slot, err := s.slots.GetInfo(ctx, request.RequesterSlotID); err == nil {
		detail.RequesterSlot = slot
	}
	if slot, err := s.slots.GetInfo(ctx, request.TargetSlotID); err == nil {
		detail.TargetSlot = slot
	}
	if history, err := s.requests.ListHistory(ctx, request.ID); err == nil {
		detail.History = history
	} else {
		s.logger.Warn("failed to load swap history", zap.String("request_id", request.ID), zap.Error(err))
	}
	return detail, nil
}

// Statistics aggregates request counts for one educator, or institution-wide
// when facultyID is empty.
func (s *SwapService) Statistics(ctx context.Context, facultyID string) (*models.SwapStatistics, error) {
	stats, err := s.requests.Statistics(ctx, facultyID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to aggregate statistics")
	}
	return stats, nil
}

// PendingCount returns how many requests await the educator's response.
func (s *SwapService) PendingCount(ctx context.Context, facultyID string) (int, error) {
	count, err := s.requests.CountPendingForFaculty(ctx, facultyID)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count pending requests")
	}
	return count, nil
}

// ExpireStaleRequests cancels pending requests older than the configured TTL
// and returns how many were expired. A no-op when expiry is disabled.
func (s *SwapService) ExpireStaleRequests(ctx context.Context) (int, error) {
	if s.settings.RequestTTL <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().Add(-s.settings.RequestTTL)
	stale, err := s.requests.ListPendingOlderThan(ctx, cutoff)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list stale requests")
	}

	expired := 0
	for _, request := range stale {
		now := time.Now().UTC()
		upd := repository.StatusUpdate{
			Status:     models.SwapStatusCancelled,
			ResolvedAt: &now,
		}
		if err := s.requests.UpdateStatus(ctx, nil, request.ID, models.SwapStatusPending, request.Version, upd); err != nil {
			// Someone responded while the sweep was running. Skip, not an error.
			if errors.Is(err, repository.ErrStaleTransition) {
				continue
			}
			s.logger.Warn("failed to expire stale request", zap.String("request_id", request.ID), zap.Error(err))
			continue
		}
		s.appendHistory(ctx, nil, request.ID, "expired", "", "request expired without a response")
		s.audit(ctx, request.RequesterFacultyID, models.AuditActionSwapExpire, request.ID)
		s.recordTransition("expired")
		s.notify(EventSwapExpired, request, "request expired without a response",
			request.RequesterFacultyID, request.TargetFacultyID)
		expired++
	}
	return expired, nil
}

// RunExpirySweeper periodically expires stale requests until ctx is done.
func (s *SwapService) RunExpirySweeper(ctx context.Context, interval time.Duration) {
	if s.settings.RequestTTL <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expired, err := s.ExpireStaleRequests(ctx)
			if err != nil {
				s.logger.Error("expiry sweep failed", zap.Error(err))
				continue
			}
			if expired > 0 {
				s.logger.Info("expired stale swap requests", zap.Int("count", expired))
			}
			s.refreshActiveGauge(ctx)
		}
	}
}

func (s *SwapService) refreshActiveGauge(ctx context.Context) {
	if s.metrics == nil {
		return
	}
	count, err := s.requests.CountActive(ctx)
	if err != nil {
		s.logger.Warn("failed to count active requests", zap.Error(err))
		return
	}
	s.metrics.SetActiveRequests(count)
}

// checkSwapDate rejects one-time swap dates that cannot host a lesson.
func (s *SwapService) checkSwapDate(ctx context.Context, slot *models.TimetableSlot, date time.Time) error {
	if date.Before(time.Now().UTC().Truncate(24 * time.Hour)) {
		return appErrors.Clone(appErrors.ErrValidation, "swap_date cannot be in the past")
	}
	if isoWeekday(date) != slot.DayOfWeek {
		return appErrors.Clone(appErrors.ErrValidation, "swap_date must fall on the offered slot's weekday")
	}
	return s.checkCellDate(ctx, slot, date)
}

// checkCellDate rejects a date on which the slot's cell cannot host a lesson:
// the date lies inside a whole-day exclusion, or the slot's period is a
// recess.
func (s *SwapService) checkCellDate(ctx context.Context, slot *models.TimetableSlot, date time.Time) error {
	exclusions, err := s.breaks.ListForDate(ctx, slot.TimetableID, date)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check calendar exclusions")
	}
	if len(exclusions) > 0 {
		return appErrors.Clone(appErrors.ErrBreakPeriodConflict,
			fmt.Sprintf("%s falls on %s", date.Format("2006-01-02"), exclusions[0].Title))
	}

	period, err := s.periods.GetByNumber(ctx, slot.TimetableID, slot.PeriodNumber)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrValidation, "slot period does not exist in the timetable")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load period")
	}
	if period.Recess() {
		return appErrors.Clone(appErrors.ErrBreakPeriodConflict, "slot period is a recess")
	}
	return nil
}

func (s *SwapService) loadSlot(ctx context.Context, id string) (*models.TimetableSlot, error) {
	slot, err := s.slots.Get(ctx, nil, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrSlotNotFound, "slot not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load slot")
	}
	return slot, nil
}

func (s *SwapService) loadRequest(ctx context.Context, id string) (*models.ClassSwapRequest, error) {
	request, err := s.requests.GetByID(ctx, nil, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "swap request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load swap request")
	}
	return request, nil
}

// mapTransitionErr translates a repository guard failure. The status was
// checked just before the update, so a guard miss means a concurrent writer.
func (s *SwapService) mapTransitionErr(err error, msg string) error {
	if errors.Is(err, repository.ErrStaleTransition) {
		s.recordConflict("stale_transition")
		return appErrors.Clone(appErrors.ErrConcurrentModification, "request was modified concurrently, please refresh")
	}
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, "swap request not found")
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, msg)
}

func (s *SwapService) mapSlotMutationErr(err error) error {
	if errors.Is(err, repository.ErrVersionConflict) {
		s.recordConflict("slot_version")
		return appErrors.Clone(appErrors.ErrConcurrentModification, "slot was modified concurrently, please refresh")
	}
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrSlotNotFound, "slot disappeared during commit")
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reassign slot")
}

func (s *SwapService) appendHistory(ctx context.Context, exec sqlx.ExtContext, requestID, action, actorID, message string) {
	err := s.requests.AppendHistory(ctx, exec, &models.SwapHistoryEntry{
		SwapRequestID: requestID,
		Action:        action,
		ActorID:       actorID,
		Message:       message,
	})
	if err != nil {
		s.logger.Warn("failed to append swap history", zap.String("request_id", requestID), zap.Error(err))
	}
}

func (s *SwapService) audit(ctx context.Context, userID, action, resourceID string) {
	err := s.users.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &userID,
		Action:     action,
		Resource:   "swap_request",
		ResourceID: &resourceID,
	})
	if err != nil {
		s.logger.Warn("failed to record audit log", zap.String("action", action), zap.Error(err))
	}
}

func (s *SwapService) recordTransition(status string) {
	if s.metrics != nil {
		s.metrics.RecordSwapTransition(status)
	}
}

func (s *SwapService) recordConflict(reason string) {
	if s.metrics != nil {
		s.metrics.RecordSwapConflict(reason)
	}
}

func (s *SwapService) notify(event SwapEvent, req models.ClassSwapRequest, message string, recipients ...string) {
	if s.notifier != nil {
		s.notifier.Dispatch(event, req, message, recipients...)
	}
}

func absInt(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
