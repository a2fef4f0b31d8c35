package dto

import (
	"time"

	"github.com/kvnlabs/timetable-exchange-api/internal/models"
)

// CreateSwapRequest is the payload for proposing an exchange.
type CreateSwapRequest struct {
	RequesterSlotID string                 `json:"requester_slot_id" validate:"required"`
	TargetSlotID    string                 `json:"target_slot_id" validate:"required"`
	RequestType     models.SwapRequestType `json:"request_type" validate:"omitempty,oneof=one_time permanent"`
	SwapDate        *time.Time             `json:"swap_date,omitempty"`
	Reason          string                 `json:"reason" validate:"required,max=500"`
}

// SwapDecision is the accept/reject vocabulary shared by target responses and
// admin decisions.
type SwapDecision string

const (
	DecisionAccept  SwapDecision = "accept"
	DecisionReject  SwapDecision = "reject"
	DecisionApprove SwapDecision = "approve"
	DecisionDeny    SwapDecision = "deny"
)

// RespondSwapRequest captures the target educator's decision.
type RespondSwapRequest struct {
	Decision SwapDecision `json:"decision" validate:"required,oneof=accept reject"`
	Message  string       `json:"message" validate:"max=500"`
}

// AdminDecisionRequest captures the administrator's decision.
type AdminDecisionRequest struct {
	Decision SwapDecision `json:"decision" validate:"required,oneof=approve deny"`
	Message  string       `json:"message" validate:"max=500"`
}

// SwapRequestQuery mirrors supported listing filters.
type SwapRequestQuery struct {
	Status      []models.SwapRequestStatus
	RequestType models.SwapRequestType
	DateFrom    *time.Time
	DateTo      *time.Time
	Limit       int
	Offset      int
}
