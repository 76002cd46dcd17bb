package handlers_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/internal/handlers"
	"github.com/Ramsey-B/fern/internal/services/plans"
	"github.com/Ramsey-B/fern/pkg/middleware"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/planlock"
)

// stubService implements only what each test needs; anything else panics on the nil interface.
type stubService struct {
	handlers.PlanService

	gotUserID   string
	gotVersion  *int
	gotInput    plans.PlanInput
	gotConfirm  bool
	gotForce    bool
	gotStatus   string
	gotMemberID string
	err         error
}

func (s *stubService) Get(ctx context.Context, planID int64) (*plans.PlanDetail, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &plans.PlanDetail{Plan: models.Plan{ID: planID, Project: "Apollo", Version: 3}}, nil
}

func (s *stubService) Create(_ context.Context, input plans.PlanInput) (*models.Plan, error) {
	s.gotInput = input
	return &models.Plan{ID: 1, Project: input.Project, Version: 1}, nil
}

func (s *stubService) Update(_ context.Context, planID int64, input plans.PlanInput, opts plans.UpdateOptions) (*models.Plan, error) {
	s.gotInput = input
	s.gotVersion = opts.ExpectedVersion
	if s.err != nil {
		return nil, s.err
	}
	return &models.Plan{ID: planID, Project: input.Project, Version: 4}, nil
}

func (s *stubService) ChangeStatus(_ context.Context, planID int64, _ string, newStatus string, _ *string) (*models.Plan, error) {
	s.gotStatus = newStatus
	return &models.Plan{ID: planID, Version: 2}, nil
}

func (s *stubService) RemoveTeamMember(_ context.Context, _ int64, userID string, confirm bool) error {
	s.gotMemberID = userID
	s.gotConfirm = confirm
	return nil
}

func (s *stubService) TakeoverLock(ctx context.Context, planID int64, force bool) (*plans.TakeoverResult, error) {
	s.gotForce = force
	lock := models.PlanLock{PlanID: planID, UserID: "ada", LockedBy: "Ada", MinutesRemaining: 15}
	return &plans.TakeoverResult{Lock: &lock}, nil
}

func (s *stubService) AcquireLock(_ context.Context, _ int64) (*models.PlanLock, error) {
	return nil, planlock.ConflictError(models.PlanLock{UserID: "grace", LockedBy: "Grace Hopper", MinutesRemaining: 7})
}

func newServer(service handlers.PlanService) *echo.Echo {
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	e := echo.New()
	e.HTTPErrorHandler = middleware.Error(logger)
	e.Use(middleware.Context())
	e.Use(middleware.HeaderAuth())
	handlers.NewPlanHandler(service, logger).Register(e.Group("/api/v1"))
	return e
}

func do(e *echo.Echo, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	req.Header.Set(middleware.HeaderUserID, "ada")
	req.Header.Set(middleware.HeaderUserName, "Ada")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestGetPlanSetsETag(t *testing.T) {
	e := newServer(&stubService{})

	rec := do(e, http.MethodGet, "/api/v1/plans/7", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `"3"`, rec.Header().Get(handlers.HeaderETag))
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Apollo", body["project"])
}

func TestGetPlanRejectsBadID(t *testing.T) {
	e := newServer(&stubService{})

	rec := do(e, http.MethodGet, "/api/v1/plans/abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreatePlanValidatesBody(t *testing.T) {
	service := &stubService{}
	e := newServer(service)

	rec := do(e, http.MethodPost, "/api/v1/plans", `{"project":"Apollo","start_date":"soon","end_date":"2025-06-30"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(e, http.MethodPost, "/api/v1/plans", `{
		"project":"Apollo",
		"start_date":"2025-01-01",
		"end_date":"30/06/2025",
		"fields":{"lead":"ada","Design":{"startDate":"2025-01-01","endDate":"2025-01-31","status":"On Track"}}
	}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, `"1"`, rec.Header().Get(handlers.HeaderETag))
	assert.Contains(t, service.gotInput.Fields.Milestones, "Design")
	assert.Equal(t, "ada", service.gotInput.Fields.Metadata["lead"])
}

func TestUpdatePlanHonoursIfMatch(t *testing.T) {
	service := &stubService{}
	e := newServer(service)
	body := `{"project":"Apollo II","start_date":"2025-01-01","end_date":"2025-06-30","fields":{}}`

	rec := do(e, http.MethodPut, "/api/v1/plans/7", body, map[string]string{handlers.HeaderIfMatch: `W/"3"`})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, service.gotVersion)
	assert.Equal(t, 3, *service.gotVersion)
	assert.Equal(t, `"4"`, rec.Header().Get(handlers.HeaderETag))

	rec = do(e, http.MethodPut, "/api/v1/plans/7", body, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, service.gotVersion)

	rec = do(e, http.MethodPut, "/api/v1/plans/7", body, map[string]string{handlers.HeaderIfMatch: "banana"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChangeStatusRequiresFields(t *testing.T) {
	service := &stubService{}
	e := newServer(service)

	rec := do(e, http.MethodPatch, "/api/v1/plans/7/status", `{"milestone":"Design"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(e, http.MethodPatch, "/api/v1/plans/7/status", `{"milestone":"Design","status":"Completed"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Completed", service.gotStatus)
}

func TestRemoveTeamMemberPassesConfirm(t *testing.T) {
	service := &stubService{}
	e := newServer(service)

	rec := do(e, http.MethodDelete, "/api/v1/plans/7/team/grace?confirm=true", "", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.True(t, service.gotConfirm)
	assert.Equal(t, "grace", service.gotMemberID)

	rec = do(e, http.MethodDelete, "/api/v1/plans/7/team/grace?confirm=maybe", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTakeoverPassesForce(t *testing.T) {
	service := &stubService{}
	e := newServer(service)

	rec := do(e, http.MethodPost, "/api/v1/plans/7/lock/takeover?force=true", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, service.gotForce)
}

func TestLockConflictCarriesHolder(t *testing.T) {
	e := newServer(&stubService{})

	rec := do(e, http.MethodPost, "/api/v1/plans/7/lock", "", nil)

	require.Equal(t, http.StatusConflict, rec.Code)
	var body middleware.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Grace Hopper", body.Meta["locked_by"])
	assert.Equal(t, "7", body.Meta["minutes_remaining"])
}
