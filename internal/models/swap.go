package models

import "time"

// SwapRequestStatus captures the lifecycle states of a swap request.
type SwapRequestStatus string

const (
	SwapStatusPending   SwapRequestStatus = "pending"
	SwapStatusAccepted  SwapRequestStatus = "accepted"
	SwapStatusRejected  SwapRequestStatus = "rejected"
	SwapStatusCancelled SwapRequestStatus = "cancelled"
	SwapStatusCompleted SwapRequestStatus = "completed"
)

// Terminal reports whether the status is an end state. Once terminal, the
// record is immutable, an append-only audit value.
func (s SwapRequestStatus) Terminal() bool {
	switch s {
	case SwapStatusRejected, SwapStatusCancelled, SwapStatusCompleted:
		return true
	}
	return false
}

// ActiveSwapStatuses are the non-terminal states that hold a slot's
// exclusivity flag.
func ActiveSwapStatuses() []SwapRequestStatus {
	return []SwapRequestStatus{SwapStatusPending, SwapStatusAccepted}
}

// AdminApprovalStatus tracks the administrative sign-off sub-state.
type AdminApprovalStatus string

const (
	ApprovalNotRequired AdminApprovalStatus = "not_required"
	ApprovalPending     AdminApprovalStatus = "pending"
	ApprovalApproved    AdminApprovalStatus = "approved"
	ApprovalDenied      AdminApprovalStatus = "denied"
)

// SwapRequestType distinguishes a single-date exchange from a permanent one.
type SwapRequestType string

const (
	SwapTypeOneTime   SwapRequestType = "one_time"
	SwapTypePermanent SwapRequestType = "permanent"
)

// ClassSwapRequest is a proposed exchange of the educator assignments of two
// timetable slots. The requester creates it; only the target educator and an
// administrator may transition it afterwards.
type ClassSwapRequest struct {
	ID                  string              `db:"id" json:"id"`
	RequesterSlotID     string              `db:"requester_slot_id" json:"requester_slot_id"`
	TargetSlotID        string              `db:"target_slot_id" json:"target_slot_id"`
	RequesterFacultyID  string              `db:"requester_faculty_id" json:"requester_faculty_id"`
	TargetFacultyID     string              `db:"target_faculty_id" json:"target_faculty_id"`
	RequestType         SwapRequestType     `db:"request_type" json:"request_type"`
	SwapDate            *time.Time          `db:"swap_date" json:"swap_date,omitempty"`
	Reason              string              `db:"reason" json:"reason"`
	Status              SwapRequestStatus   `db:"status" json:"status"`
	AdminApprovalStatus AdminApprovalStatus `db:"admin_approval_status" json:"admin_approval_status"`
	ResponseMessage     *string             `db:"response_message" json:"response_message,omitempty"`
	AdminID             *string             `db:"admin_id" json:"admin_id,omitempty"`
	AdminResponse       *string             `db:"admin_response" json:"admin_response,omitempty"`
	Version             int64               `db:"version" json:"version"`
	CreatedAt           time.Time           `db:"created_at" json:"created_at"`
	TargetRespondedAt   *time.Time          `db:"target_responded_at" json:"target_responded_at,omitempty"`
	ResolvedAt          *time.Time          `db:"resolved_at" json:"resolved_at,omitempty"`
}

// SwapRequestFilter constrains listing queries.
type SwapRequestFilter struct {
	FacultyID   string
	Status      []SwapRequestStatus
	RequestType SwapRequestType
	DateFrom    *time.Time
	DateTo      *time.Time
	Limit       int
	Offset      int
}

// SwapHistoryEntry is one append-only line of a request's transition trail.
type SwapHistoryEntry struct {
	ID            string    `db:"id" json:"id"`
	SwapRequestID string    `db:"swap_request_id" json:"swap_request_id"`
	Action        string    `db:"action" json:"action"`
	ActorID       string    `db:"actor_id" json:"actor_id"`
	Message       string    `db:"message" json:"message"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// SwapRequestDetail joins a request with display info for both parties and
// slots plus its history trail.
type SwapRequestDetail struct {
	ClassSwapRequest
	RequesterFaculty *UserInfo          `json:"requester_faculty,omitempty"`
	TargetFaculty    *UserInfo          `json:"target_faculty,omitempty"`
	RequesterSlot    *SlotInfo          `json:"requester_slot,omitempty"`
	TargetSlot       *SlotInfo          `json:"target_slot,omitempty"`
	History          []SwapHistoryEntry `json:"history,omitempty"`
}

// SwapStatistics summarises a faculty member's (or institution's) requests.
type SwapStatistics struct {
	TotalRequests        int `json:"total_requests"`
	PendingRequests      int `json:"pending_requests"`
	AcceptedRequests     int `json:"accepted_requests"`
	RejectedRequests     int `json:"rejected_requests"`
	CancelledRequests    int `json:"cancelled_requests"`
	CompletedSwaps       int `json:"completed_swaps"`
	PendingAdminApproval int `json:"pending_admin_approval"`
}
