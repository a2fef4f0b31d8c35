package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kvnlabs/timetable-exchange-api/internal/dto"
	"github.com/kvnlabs/timetable-exchange-api/internal/models"
	appErrors "github.com/kvnlabs/timetable-exchange-api/pkg/errors"
	"github.com/kvnlabs/timetable-exchange-api/pkg/response"
)

type swapService interface {
	CreateRequest(ctx context.Context, requesterID string, req dto.CreateSwapRequest) (*models.ClassSwapRequest, error)
	Respond(ctx context.Context, requestID, actorID string, req dto.RespondSwapRequest) (*models.ClassSwapRequest, error)
	Cancel(ctx context.Context, requestID, actorID, message string) (*models.ClassSwapRequest, error)
	AdminDecide(ctx context.Context, requestID, adminID string, req dto.AdminDecisionRequest) (*models.ClassSwapRequest, error)
	FindCandidates(ctx context.Context, slotID, requesterID string) ([]models.SlotInfo, error)
	List(ctx context.Context, facultyID string, query dto.SwapRequestQuery) ([]models.ClassSwapRequest, int, error)
	GetDetail(ctx context.Context, requestID, actorID string, actorRole models.UserRole) (*models.SwapRequestDetail, error)
	Statistics(ctx context.Context, facultyID string) (*models.SwapStatistics, error)
	PendingCount(ctx context.Context, facultyID string) (int, error)
}

// SwapHandler exposes the swap request lifecycle over REST.
type SwapHandler struct {
	service swapService
}

// NewSwapHandler constructs the handler.
func NewSwapHandler(service swapService) *SwapHandler {
	return &SwapHandler{service: service}
}

// Candidates godoc
// @Summary List swap candidates for a slot
// @Description Slots of the same class the caller could exchange against
// @Tags Swaps
// @Produce json
// @Param id path string true "Slot ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /slots/{id}/swap-candidates [get]
func (h *SwapHandler) Candidates(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	candidates, err := h.service.FindCandidates(c.Request.Context(), c.Param("id"), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, candidates, nil)
}

// Create godoc
// @Summary Propose a slot exchange
// @Tags Swaps
// @Accept json
// @Produce json
// @Param payload body dto.CreateSwapRequest true "Swap request payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /swap-requests [post]
func (h *SwapHandler) Create(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.CreateSwapRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid swap request payload"))
		return
	}
	request, err := h.service.CreateRequest(c.Request.Context(), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, request, nil)
}

// List godoc
// @Summary List own swap requests
// @Description Requests where the caller is requester or target
// @Tags Swaps
// @Produce json
// @Param status query string false "Comma separated statuses"
// @Param type query string false "one_time or permanent"
// @Param date_from query string false "Created after (YYYY-MM-DD)"
// @Param date_to query string false "Created before (YYYY-MM-DD)"
// @Param page query int false "Page" default(1)
// @Param page_size query int false "Page size" default(20)
// @Success 200 {object} response.Envelope
// @Router /swap-requests [get]
func (h *SwapHandler) List(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	h.list(c, claims.UserID)
}

// AdminList godoc
// @Summary List all swap requests
// @Description Institution-wide request listing for administrators
// @Tags Swaps
// @Produce json
// @Param status query string false "Comma separated statuses"
// @Param type query string false "one_time or permanent"
// @Success 200 {object} response.Envelope
// @Router /admin/swap-requests [get]
func (h *SwapHandler) AdminList(c *gin.Context) {
	h.list(c, "")
}

func (h *SwapHandler) list(c *gin.Context, facultyID string) {
	query := dto.SwapRequestQuery{}
	if rawStatus := c.Query("status"); rawStatus != "" {
		parts := strings.Split(rawStatus, ",")
		statuses := make([]models.SwapRequestStatus, 0, len(parts))
		for _, part := range parts {
			part = strings.ToLower(strings.TrimSpace(part))
			if part == "" {
				continue
			}
			statuses = append(statuses, models.SwapRequestStatus(part))
		}
		query.Status = statuses
	}
	if rawType := c.Query("type"); rawType != "" {
		query.RequestType = models.SwapRequestType(strings.ToLower(strings.TrimSpace(rawType)))
	}
	if raw := c.Query("date_from"); raw != "" {
		if ts, err := time.Parse("2006-01-02", raw); err == nil {
			query.DateFrom = &ts
		}
	}
	if raw := c.Query("date_to"); raw != "" {
		if ts, err := time.Parse("2006-01-02", raw); err == nil {
			query.DateTo = &ts
		}
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	query.Limit = pageSize
	query.Offset = (page - 1) * pageSize

	requests, total, err := h.service.List(c.Request.Context(), facultyID, query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, requests, &models.Pagination{
		Page:       page,
		PageSize:   pageSize,
		TotalCount: total,
	})
}

// Statistics godoc
// @Summary Swap request statistics
// @Description Aggregated counts for the caller; administrators see the whole institution
// @Tags Swaps
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /swap-requests/statistics [get]
func (h *SwapHandler) Statistics(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	facultyID := claims.UserID
	if claims.Role == models.RoleAdmin || claims.Role == models.RoleSuperAdmin {
		facultyID = ""
	}
	stats, err := h.service.Statistics(c.Request.Context(), facultyID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, stats, nil)
}

// PendingCount godoc
// @Summary Count requests awaiting the caller's response
// @Tags Swaps
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /swap-requests/pending-count [get]
func (h *SwapHandler) PendingCount(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	count, err := h.service.PendingCount(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"pending_count": count}, nil)
}

// Get godoc
// @Summary Swap request detail
// @Description Full request with both parties, both slots and the history trail
// @Tags Swaps
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /swap-requests/{id} [get]
func (h *SwapHandler) Get(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	detail, err := h.service.GetDetail(c.Request.Context(), c.Param("id"), claims.UserID, claims.Role)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, detail, nil)
}

// Respond godoc
// @Summary Accept or reject a swap request
// @Description Only the target educator may respond; accepting moves the request into administrative review
// @Tags Swaps
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body dto.RespondSwapRequest true "Decision payload"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /swap-requests/{id}/respond [post]
func (h *SwapHandler) Respond(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.RespondSwapRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid response payload"))
		return
	}
	request, err := h.service.Respond(c.Request.Context(), c.Param("id"), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, request, nil)
}

// Cancel godoc
// @Summary Cancel a swap request
// @Description Only the requester may cancel an active request
// @Tags Swaps
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /swap-requests/{id}/cancel [post]
func (h *SwapHandler) Cancel(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req struct {
		Message string `json:"message"`
	}
	_ = c.ShouldBindJSON(&req)
	request, err := h.service.Cancel(c.Request.Context(), c.Param("id"), claims.UserID, req.Message)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, request, nil)
}

// AdminDecision godoc
// @Summary Approve or deny an accepted swap request
// @Description Approval atomically commits the exchange of teaching assignments
// @Tags Swaps
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body dto.AdminDecisionRequest true "Decision payload"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /swap-requests/{id}/admin-decision [post]
func (h *SwapHandler) AdminDecision(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.AdminDecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid decision payload"))
		return
	}
	request, err := h.service.AdminDecide(c.Request.Context(), c.Param("id"), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, request, nil)
}
