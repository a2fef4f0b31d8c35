package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kvnlabs/timetable-exchange-api/internal/dto"
	"github.com/kvnlabs/timetable-exchange-api/internal/middleware"
	"github.com/kvnlabs/timetable-exchange-api/internal/models"
	appErrors "github.com/kvnlabs/timetable-exchange-api/pkg/errors"
)

type swapServiceMock struct {
	createResp    *models.ClassSwapRequest
	createErr     error
	respondResp   *models.ClassSwapRequest
	respondErr    error
	candidates    []models.SlotInfo
	candidatesErr error
	listResp      []models.ClassSwapRequest
	listTotal     int
	lastFaculty   string
	lastQuery     dto.SwapRequestQuery
	pendingCount  int
	createCalled  bool
	respondCalled bool
}

func (m *swapServiceMock) CreateRequest(ctx context.Context, requesterID string, req dto.CreateSwapRequest) (*models.ClassSwapRequest, error) {
	m.createCalled = true
	return m.createResp, m.createErr
}

func (m *swapServiceMock) Respond(ctx context.Context, requestID, actorID string, req dto.RespondSwapRequest) (*models.ClassSwapRequest, error) {
	m.respondCalled = true
	return m.respondResp, m.respondErr
}

func (m *swapServiceMock) Cancel(ctx context.Context, requestID, actorID, message string) (*models.ClassSwapRequest, error) {
	return m.respondResp, m.respondErr
}

func (m *swapServiceMock) AdminDecide(ctx context.Context, requestID, adminID string, req dto.AdminDecisionRequest) (*models.ClassSwapRequest, error) {
	return m.respondResp, m.respondErr
}

func (m *swapServiceMock) FindCandidates(ctx context.Context, slotID, requesterID string) ([]models.SlotInfo, error) {
	return m.candidates, m.candidatesErr
}

func (m *swapServiceMock) List(ctx context.Context, facultyID string, query dto.SwapRequestQuery) ([]models.ClassSwapRequest, int, error) {
	m.lastFaculty = facultyID
	m.lastQuery = query
	return m.listResp, m.listTotal, nil
}

func (m *swapServiceMock) GetDetail(ctx context.Context, requestID, actorID string, actorRole models.UserRole) (*models.SwapRequestDetail, error) {
	return nil, appErrors.ErrNotFound
}

func (m *swapServiceMock) Statistics(ctx context.Context, facultyID string) (*models.SwapStatistics, error) {
	m.lastFaculty = facultyID
	return &models.SwapStatistics{TotalRequests: 3}, nil
}

func (m *swapServiceMock) PendingCount(ctx context.Context, facultyID string) (int, error) {
	return m.pendingCount, nil
}

func swapTestContext(t *testing.T, method, target string, body []byte, claims *models.JWTClaims) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	var req *http.Request
	if body != nil {
		req, _ = http.NewRequest(method, target, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req, _ = http.NewRequest(method, target, nil)
	}
	c.Request = req
	if claims != nil {
		c.Set(middleware.ContextUserKey, claims)
	}
	return c, w
}

func TestSwapHandlerCreate(t *testing.T) {
	mockSvc := &swapServiceMock{createResp: &models.ClassSwapRequest{ID: "req-1", Status: models.SwapStatusPending}}
	handler := NewSwapHandler(mockSvc)

	payload, _ := json.Marshal(dto.CreateSwapRequest{
		RequesterSlotID: "slot-a",
		TargetSlotID:    "slot-b",
		RequestType:     models.SwapTypePermanent,
		Reason:          "schedule clash",
	})
	c, w := swapTestContext(t, http.MethodPost, "/swap-requests", payload, &models.JWTClaims{UserID: "alice", Role: models.RoleTeacher})

	handler.Create(c)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.True(t, mockSvc.createCalled)
}

func TestSwapHandlerCreateInvalidBody(t *testing.T) {
	handler := NewSwapHandler(&swapServiceMock{})

	c, w := swapTestContext(t, http.MethodPost, "/swap-requests", []byte(`{"requester_slot_id":`), &models.JWTClaims{UserID: "alice"})

	handler.Create(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSwapHandlerCreateUnauthenticated(t *testing.T) {
	handler := NewSwapHandler(&swapServiceMock{})

	c, w := swapTestContext(t, http.MethodPost, "/swap-requests", []byte(`{}`), nil)

	handler.Create(c)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSwapHandlerCreateSlotBusy(t *testing.T) {
	mockSvc := &swapServiceMock{createErr: appErrors.ErrSlotBusy}
	handler := NewSwapHandler(mockSvc)

	payload, _ := json.Marshal(dto.CreateSwapRequest{
		RequesterSlotID: "slot-a",
		TargetSlotID:    "slot-b",
		Reason:          "schedule clash",
	})
	c, w := swapTestContext(t, http.MethodPost, "/swap-requests", payload, &models.JWTClaims{UserID: "alice"})

	handler.Create(c)
	require.Equal(t, http.StatusConflict, w.Code)
}

func TestSwapHandlerRespondInvalidTransition(t *testing.T) {
	mockSvc := &swapServiceMock{respondErr: appErrors.ErrInvalidTransition}
	handler := NewSwapHandler(mockSvc)

	payload, _ := json.Marshal(dto.RespondSwapRequest{Decision: dto.DecisionAccept})
	c, w := swapTestContext(t, http.MethodPost, "/swap-requests/req-1/respond", payload, &models.JWTClaims{UserID: "bob"})
	c.Params = gin.Params{{Key: "id", Value: "req-1"}}

	handler.Respond(c)
	require.Equal(t, http.StatusConflict, w.Code)
	assert.True(t, mockSvc.respondCalled)
}

func TestSwapHandlerListParsesQuery(t *testing.T) {
	mockSvc := &swapServiceMock{listTotal: 42}
	handler := NewSwapHandler(mockSvc)

	c, w := swapTestContext(t, http.MethodGet,
		"/swap-requests?status=pending,Accepted&type=permanent&page=2&page_size=10",
		nil, &models.JWTClaims{UserID: "alice", Role: models.RoleTeacher})

	handler.List(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alice", mockSvc.lastFaculty)
	assert.Equal(t, []models.SwapRequestStatus{models.SwapStatusPending, models.SwapStatusAccepted}, mockSvc.lastQuery.Status)
	assert.Equal(t, models.SwapTypePermanent, mockSvc.lastQuery.RequestType)
	assert.Equal(t, 10, mockSvc.lastQuery.Limit)
	assert.Equal(t, 10, mockSvc.lastQuery.Offset)
}

func TestSwapHandlerAdminListSeesAll(t *testing.T) {
	mockSvc := &swapServiceMock{lastFaculty: "sentinel"}
	handler := NewSwapHandler(mockSvc)

	c, w := swapTestContext(t, http.MethodGet, "/admin/swap-requests", nil, &models.JWTClaims{UserID: "admin", Role: models.RoleAdmin})

	handler.AdminList(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, mockSvc.lastFaculty)
}

func TestSwapHandlerStatisticsScope(t *testing.T) {
	mockSvc := &swapServiceMock{}
	handler := NewSwapHandler(mockSvc)

	c, w := swapTestContext(t, http.MethodGet, "/swap-requests/statistics", nil, &models.JWTClaims{UserID: "alice", Role: models.RoleTeacher})
	handler.Statistics(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alice", mockSvc.lastFaculty)

	c, w = swapTestContext(t, http.MethodGet, "/swap-requests/statistics", nil, &models.JWTClaims{UserID: "admin", Role: models.RoleAdmin})
	handler.Statistics(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, mockSvc.lastFaculty)
}

func TestSwapHandlerPendingCount(t *testing.T) {
	mockSvc := &swapServiceMock{pendingCount: 4}
	handler := NewSwapHandler(mockSvc)

	c, w := swapTestContext(t, http.MethodGet, "/swap-requests/pending-count", nil, &models.JWTClaims{UserID: "bob"})

	handler.PendingCount(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"pending_count":4`)
}
