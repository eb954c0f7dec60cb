package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/procure-approval/internal/application/service"
	"github.com/garyjia/procure-approval/internal/infrastructure/persistence/repository"
	"github.com/garyjia/procure-approval/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/procure-approval/pkg/database"
	"github.com/garyjia/procure-approval/pkg/utils"
)

type testResponse struct {
	Success    bool            `json:"success"`
	Data       json.RawMessage `json:"data"`
	Error      string          `json:"error"`
	Message    string          `json:"message"`
	Total      int             `json:"total"`
	Page       int             `json:"page"`
	Limit      int             `json:"limit"`
	TotalPages int             `json:"total_pages"`
}

func newTestServer(t *testing.T, health HealthFunc) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	zl := zap.NewNop()
	logger := utils.NewKVLogger(zl)

	db, err := database.New(database.Config{Path: filepath.Join(t.TempDir(), "api.db"), MaxOpenConns: 1}, zl)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	_, err = database.NewMigrator(db, zl).Run(context.Background(), database.Migrations())
	require.NoError(t, err)

	tx := sqlite.NewDB(db.DB, zl)
	templateRepo := repository.NewTemplateRepository(db.DB, zl)
	ruleRepo := repository.NewBudgetRuleRepository(db.DB, zl)
	instanceRepo := repository.NewInstanceRepository(db.DB, zl)
	deptRepo := repository.NewDepartmentRepository(db.DB, zl)

	templates := service.NewTemplateService(templateRepo, deptRepo, tx, logger)
	rules := service.NewBudgetRuleService(ruleRepo, deptRepo, tx, logger)
	services := Services{
		Templates:   templates,
		BudgetRules: rules,
		Instances:   service.NewInstanceService(instanceRepo, templateRepo, rules, tx, nil, logger),
		Approvals:   service.NewApprovalService(instanceRepo, templateRepo, templates, rules, tx, nil, logger),
		Departments: service.NewDepartmentService(deptRepo, logger),
	}

	cfg := DefaultServerConfig()
	return NewServer(cfg, services, health, logger).Router()
}

func do(t *testing.T, router *gin.Engine, method, path string, body interface{}) (int, testResponse) {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var resp testResponse
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	}
	return w.Code, resp
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

func seedPR(t *testing.T, router *gin.Engine) string {
	t.Helper()
	for _, d := range []map[string]string{{"id": "finance", "name": "Finance"}, {"id": "ops", "name": "Operations"}} {
		code, _ := do(t, router, http.MethodPost, "/api/v1/departments", d)
		require.Equal(t, http.StatusCreated, code)
	}

	code, resp := do(t, router, http.MethodPost, "/api/v1/workflows", map[string]interface{}{
		"name":             "PR-Approval",
		"document_type_id": "purchase_request",
		"steps": []map[string]interface{}{
			{"step_name": "Finance review", "step_number": 1, "department_id": "finance", "type": "standard", "requires_otp": "true"},
			{"step_name": "Budget owner", "step_number": 2, "department_id": "ops", "type": "budget", "requires_file": false},
		},
	})
	require.Equal(t, http.StatusCreated, code, resp.Message)
	tmpl := decode[map[string]interface{}](t, resp.Data)

	code, resp = do(t, router, http.MethodPost, "/api/v1/budget-rules", map[string]interface{}{
		"department_id": "ops", "approver_id": "U7", "min_amount": 0, "max_amount": "1000",
	})
	require.Equal(t, http.StatusCreated, code, resp.Message)
	return tmpl["id"].(string)
}

func TestHealthCheck(t *testing.T) {
	router := newTestServer(t, nil)
	code, resp := do(t, router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, resp.Success)

	router = newTestServer(t, func(ctx context.Context) (bool, interface{}) {
		return false, map[string]string{"database": "down"}
	})
	code, resp = do(t, router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	body := decode[HealthResponse](t, resp.Data)
	assert.Equal(t, "unhealthy", body.Status)
}

func TestMetricsEndpoint(t *testing.T) {
	router := newTestServer(t, nil)
	do(t, router, http.MethodGet, "/api/v1/departments", nil)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `api_requests_total{endpoint="/api/v1/departments"`)
}

func TestWorkflowEndpoints(t *testing.T) {
	router := newTestServer(t, nil)
	id := seedPR(t, router)

	code, resp := do(t, router, http.MethodGet, "/api/v1/workflows/"+id, nil)
	require.Equal(t, http.StatusOK, code)
	tmpl := decode[struct {
		Version int `json:"version"`
		Steps   []struct {
			ID          string `json:"id"`
			RequiresOTP bool   `json:"requires_otp"`
		} `json:"steps"`
	}](t, resp.Data)
	require.Len(t, tmpl.Steps, 2)
	assert.True(t, tmpl.Steps[0].RequiresOTP, "string flag accepted")

	code, resp = do(t, router, http.MethodPost, "/api/v1/workflows", map[string]interface{}{
		"name": "Second", "document_type_id": "purchase_request",
		"steps": []map[string]interface{}{{"step_name": "x", "step_number": 1, "department_id": "ops", "type": "final"}},
	})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "Conflict", resp.Error)
	assert.False(t, resp.Success)

	code, resp = do(t, router, http.MethodPost, "/api/v1/workflows/"+id+"/reorder", map[string]interface{}{
		"step_ids": []string{tmpl.Steps[0].ID},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "ValidationError", resp.Error)

	code, _ = do(t, router, http.MethodPost, "/api/v1/workflows/"+id+"/reorder", map[string]interface{}{
		"step_ids": []string{tmpl.Steps[1].ID, tmpl.Steps[0].ID},
	})
	assert.Equal(t, http.StatusOK, code)

	code, resp = do(t, router, http.MethodGet, "/api/v1/workflows?page=1&limit=10", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, resp.Total)
	assert.Equal(t, 10, resp.Limit)
	assert.Equal(t, 1, resp.TotalPages)

	code, _ = do(t, router, http.MethodDelete, "/api/v1/workflows/"+id, nil)
	assert.Equal(t, http.StatusOK, code)
	code, resp = do(t, router, http.MethodDelete, "/api/v1/workflows/"+id, nil)
	assert.Equal(t, http.StatusGone, code)
	assert.Equal(t, "AlreadyDeleted", resp.Error)

	code, resp = do(t, router, http.MethodGet, "/api/v1/workflows/"+id, nil)
	require.Equal(t, http.StatusOK, code)
	deleted := decode[map[string]interface{}](t, resp.Data)
	assert.NotNil(t, deleted["deleted_at"])

	code, resp = do(t, router, http.MethodGet, "/api/v1/workflows?include_deleted=maybe", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, code)

	code, _ = do(t, router, http.MethodPost, "/api/v1/workflows/"+id+"/restore", nil)
	assert.Equal(t, http.StatusOK, code)

	code, _ = do(t, router, http.MethodGet, "/api/v1/workflows/missing", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestBudgetRuleEndpoints(t *testing.T) {
	router := newTestServer(t, nil)
	seedPR(t, router)

	code, resp := do(t, router, http.MethodGet, "/api/v1/budget-rules/resolve?department_id=ops&amount=500", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "U7", decode[ResolveResponse](t, resp.Data).ApproverID)

	code, resp = do(t, router, http.MethodGet, "/api/v1/budget-rules/resolve?department_id=ops&amount=5000", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "NotFound", resp.Error)

	code, _ = do(t, router, http.MethodGet, "/api/v1/budget-rules/resolve?department_id=ops&amount=abc", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, code)

	code, resp = do(t, router, http.MethodPost, "/api/v1/budget-rules", map[string]interface{}{
		"department_id": "ops", "approver_id": "U8", "min_amount": "900", "max_amount": "2000",
	})
	assert.Equal(t, http.StatusConflict, code)

	code, _ = do(t, router, http.MethodPost, "/api/v1/budget-rules", map[string]interface{}{
		"department_id": "ops", "approver_id": "U8", "min_amount": "2000", "max_amount": "100",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, code)

	code, resp = do(t, router, http.MethodGet, "/api/v1/budget-rules?search=ops", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, resp.Total)

	code, resp = do(t, router, http.MethodGet, "/api/v1/budget-rules/overlaps", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "[]", string(resp.Data))
}

func TestApprovalEndpoints_PRScenario(t *testing.T) {
	router := newTestServer(t, nil)
	seedPR(t, router)

	submit := func(actor, decision string, otp interface{}) (int, testResponse) {
		return do(t, router, http.MethodPost, "/api/v1/approvals", map[string]interface{}{
			"document_id":      "PR-1001",
			"document_kind":    "purchase_request",
			"document_type_id": "purchase_request",
			"amount":           "500",
			"actor_user_id":    actor,
			"decision":         decision,
			"otp_verified":     otp,
		})
	}

	code, resp := submit("U3", "approved", "false")
	assert.Equal(t, http.StatusUnprocessableEntity, code, "OTP gate")

	code, resp = submit("U3", "approved", "true")
	require.Equal(t, http.StatusOK, code, resp.Message)
	result := decode[service.ApprovalResult](t, resp.Data)
	assert.Equal(t, "IN_PROGRESS", result.Status.String())
	require.NotNil(t, result.PendingStepNumber)
	assert.Equal(t, 2, *result.PendingStepNumber)
	assert.False(t, result.Finalize)

	code, resp = do(t, router, http.MethodGet, "/api/v1/approvals/pending?approver_id=U7", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, decode[[]map[string]interface{}](t, resp.Data), 1)

	code, resp = submit("U9", "APPROVED", false)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "Forbidden", resp.Error)

	code, resp = submit("U7", "APPROVED", false)
	require.Equal(t, http.StatusOK, code, resp.Message)
	result = decode[service.ApprovalResult](t, resp.Data)
	assert.Equal(t, "APPROVED", result.Status.String())
	assert.True(t, result.Finalize)
	assert.Len(t, result.History, 2)

	code, resp = submit("U7", "APPROVED", false)
	assert.Equal(t, http.StatusConflict, code)

	code, resp = do(t, router, http.MethodGet, "/api/v1/documents/purchase_request/PR-1001/approval", nil)
	require.Equal(t, http.StatusOK, code)
	doc := decode[service.ApprovalResult](t, resp.Data)
	assert.Equal(t, result.InstanceID, doc.InstanceID)

	code, resp = do(t, router, http.MethodGet, "/api/v1/approvals/"+result.InstanceID, nil)
	require.Equal(t, http.StatusOK, code)

	code, resp = do(t, router, http.MethodGet, "/api/v1/approvals?status=approved", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, resp.Total)

	code, _ = do(t, router, http.MethodGet, "/api/v1/approvals?status=bogus", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
}

func TestApprovalEndpoints_RetriedDecisionWithStepNumber(t *testing.T) {
	router := newTestServer(t, nil)
	seedPR(t, router)

	submit := func(actor, decision string, step int) (int, testResponse) {
		return do(t, router, http.MethodPost, "/api/v1/approvals", map[string]interface{}{
			"document_id":      "PR-2001",
			"document_kind":    "purchase_request",
			"document_type_id": "purchase_request",
			"amount":           "500",
			"actor_user_id":    actor,
			"decision":         decision,
			"otp_verified":     true,
			"step_number":      step,
		})
	}

	code, resp := submit("U3", "APPROVED", 1)
	require.Equal(t, http.StatusOK, code, resp.Message)
	code, resp = submit("U7", "REJECTED", 2)
	require.Equal(t, http.StatusOK, code, resp.Message)
	rejected := decode[service.ApprovalResult](t, resp.Data)

	code, resp = submit("U7", "REJECTED", 2)
	require.Equal(t, http.StatusOK, code, resp.Message)
	retry := decode[service.ApprovalResult](t, resp.Data)
	assert.Equal(t, rejected.InstanceID, retry.InstanceID)
	assert.Equal(t, "REJECTED", retry.Status.String())

	code, resp = do(t, router, http.MethodGet, "/api/v1/approvals?search=PR-2001", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, resp.Total, "the retry does not open another instance")
}

func TestApprovalEndpoints_BadRequests(t *testing.T) {
	router := newTestServer(t, nil)

	code, resp := do(t, router, http.MethodPost, "/api/v1/approvals", `{"document_id": `)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "ValidationError", resp.Error)

	code, _ = do(t, router, http.MethodPost, "/api/v1/approvals", map[string]interface{}{
		"document_id": "PR-1", "document_kind": "purchase_request", "actor_user_id": "U1", "decision": "maybe",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, code)

	code, _ = do(t, router, http.MethodPost, "/api/v1/approvals", map[string]interface{}{
		"document_id": "PR-1", "document_kind": "purchase_request", "actor_user_id": "U1",
		"decision": "APPROVED", "otp_verified": "yes",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, code)

	code, _ = do(t, router, http.MethodGet, "/api/v1/documents/purchase_request/PR-404/approval", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, statusFor("Internal"))
	assert.Equal(t, "boom", reason(errors.New("boom")))
}
