package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"rwaadmin/internal/approval"
	"rwaadmin/internal/middleware"
	"rwaadmin/internal/service"
	"rwaadmin/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "handler-test-secret"

type rolePerms map[string][]string

func (r rolePerms) PermissionsForRoles(_ context.Context, roles []string) ([]string, error) {
	var out []string
	for _, role := range roles {
		out = append(out, r[role]...)
	}
	return out, nil
}

var testPerms = rolePerms{
	"SIGNER":   {"approvals.read", "approvals.decide", "transactions.read"},
	"OPERATOR": {"transactions.read", "transactions.write", "transactions.execute", "projects.write", "policies.read"},
	"VIEWER":   {"approvals.read"},
}

func newTestAuth() *middleware.Auth {
	return middleware.NewAuth(middleware.AuthConfig{Secret: testSecret, AccessTTL: time.Minute, RefreshTTL: time.Hour}, testPerms)
}

func token(t *testing.T, sub string, roles ...string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   sub,
		"roles": roles,
		"exp":   time.Now().Add(time.Hour).Unix(),
	})
	s, err := tok.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return s
}

type routes interface {
	RegisterRoutes(*gin.RouterGroup, *middleware.Auth)
}

func newRouter(h routes) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h.RegisterRoutes(r.Group(""), newTestAuth())
	return r
}

func call(t *testing.T, r *gin.Engine, method, path, bearer, body string) (*httptest.ResponseRecorder, response.Response) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env response.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w, env
}

// --- approvals ---

type fakeApprovals struct {
	approveErr error
	duplicate  bool
	lastNotes  string
	lastUser   string
	filter     service.ApprovalFilter
}

func (f *fakeApprovals) ListApprovalRequests(_ context.Context, filter service.ApprovalFilter) ([]service.ApprovalRequestResponse, int64, error) {
	f.filter = filter
	return []service.ApprovalRequestResponse{{ID: "r1", Status: "PENDING"}}, 41, nil
}

func (f *fakeApprovals) GetApprovalRequest(_ context.Context, id string) (*service.ApprovalDetailResponse, error) {
	if id != "r1" {
		return nil, fmt.Errorf("%w: %s", approval.ErrNotFound, id)
	}
	return &service.ApprovalDetailResponse{ApprovalRequestResponse: service.ApprovalRequestResponse{ID: id}}, nil
}

func (f *fakeApprovals) ApproveRequest(_ context.Context, id, userID, notes string) (*service.ApproveResponse, error) {
	f.lastUser, f.lastNotes = userID, notes
	if f.approveErr != nil {
		return nil, f.approveErr
	}
	return &service.ApproveResponse{
		Request:   service.ApprovalRequestResponse{ID: id, Status: "PENDING"},
		Tally:     approval.Tally{Current: 1, Required: 2},
		Duplicate: f.duplicate,
	}, nil
}

func (f *fakeApprovals) RejectRequest(_ context.Context, id, _, reason string) (*service.ApprovalRequestResponse, error) {
	return &service.ApprovalRequestResponse{ID: id, Status: "REJECTED", Reason: reason}, nil
}

func (f *fakeApprovals) ExecuteRequest(_ context.Context, id, _ string) (*service.ApprovalRequestResponse, error) {
	return nil, fmt.Errorf("%w: request %s is PENDING", approval.ErrNotReady, id)
}

func TestApprove_PassesCallerAndNotes(t *testing.T) {
	svc := &fakeApprovals{}
	r := newRouter(NewApprovalHandler(svc))

	w, env := call(t, r, http.MethodPost, "/api/approvals/r1/approve", token(t, "u-signer", "SIGNER"), `{"notes":"kyc ok"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "success", env.Status)
	assert.Equal(t, "u-signer", svc.lastUser)
	assert.Equal(t, "kyc ok", svc.lastNotes)

	// No body is fine.
	w, _ = call(t, r, http.MethodPost, "/api/approvals/r1/approve", token(t, "u-signer", "SIGNER"), "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, svc.lastNotes)
}

func TestApprove_DuplicateIsNotAnError(t *testing.T) {
	r := newRouter(NewApprovalHandler(&fakeApprovals{duplicate: true}))

	w, env := call(t, r, http.MethodPost, "/api/approvals/r1/approve", token(t, "u1", "SIGNER"), "")
	assert.Equal(t, http.StatusOK, w.Code)
	data := env.Data.(map[string]any)
	assert.Equal(t, true, data["duplicate"])
}

func TestApprove_EngineErrorsMapToStatus(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("%w: role VIEWER", approval.ErrUnauthorized), http.StatusForbidden, "unauthorized_approver"},
		{fmt.Errorf("%w: r1", approval.ErrExpired), http.StatusGone, "expired"},
		{fmt.Errorf("%w: r1 is REJECTED", approval.ErrNotPending), http.StatusConflict, "not_pending"},
		{fmt.Errorf("%w: r1", approval.ErrNotFound), http.StatusNotFound, "not_found"},
		{errors.New("connection reset"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			r := newRouter(NewApprovalHandler(&fakeApprovals{approveErr: tc.err}))
			w, env := call(t, r, http.MethodPost, "/api/approvals/r1/approve", token(t, "u1", "SIGNER"), "")
			assert.Equal(t, tc.status, w.Code)
			assert.Equal(t, tc.code, env.Code)
			if tc.status == http.StatusInternalServerError {
				assert.NotContains(t, env.Error, "connection reset")
			}
		})
	}
}

func TestApprovalRoutes_RequirePermissions(t *testing.T) {
	r := newRouter(NewApprovalHandler(&fakeApprovals{}))

	w, _ := call(t, r, http.MethodPost, "/api/approvals/r1/approve", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = call(t, r, http.MethodPost, "/api/approvals/r1/approve", token(t, "u1", "VIEWER"), "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = call(t, r, http.MethodGet, "/api/approvals/r1", token(t, "u1", "VIEWER"), "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestListApprovals_Paginates(t *testing.T) {
	svc := &fakeApprovals{}
	r := newRouter(NewApprovalHandler(svc))

	w, env := call(t, r, http.MethodGet, "/api/approvals?status=PENDING&target_kind=transaction&page=3&limit=500", token(t, "u1", "VIEWER"), "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "PENDING", svc.filter.Status)
	assert.Equal(t, "transaction", svc.filter.TargetKind)
	assert.Equal(t, 100, svc.filter.Limit)

	page := env.Data.(map[string]any)
	assert.EqualValues(t, 41, page["total"])
	assert.EqualValues(t, 3, page["page"])
	assert.Len(t, page["items"], 1)
}

func TestRejectAndExecute(t *testing.T) {
	r := newRouter(NewApprovalHandler(&fakeApprovals{}))

	w, env := call(t, r, http.MethodPost, "/api/approvals/r1/reject", token(t, "u1", "SIGNER"), `{"reason":"wrong wallet"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "wrong wallet", env.Data.(map[string]any)["reason"])

	w, env = call(t, r, http.MethodPost, "/api/approvals/r1/execute", token(t, "u2", "OPERATOR"), "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "not_ready", env.Code)

	w, _ = call(t, r, http.MethodPost, "/api/approvals/r1/reject", token(t, "u1", "SIGNER"), `{"reason":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// --- transactions ---

type fakeTransactions struct {
	created service.CreateTransactionRequest
	userID  string
}

func (f *fakeTransactions) CreateTransaction(_ context.Context, userID string, req service.CreateTransactionRequest) (*service.CreateTransactionResponse, error) {
	if req.Amount.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: amount must be positive", service.ErrValidation)
	}
	if req.Type == "BURN" {
		return nil, fmt.Errorf("%w: transaction:BURN", approval.ErrPolicyNotFound)
	}
	f.created, f.userID = req, userID
	return &service.CreateTransactionResponse{
		Transaction: service.TransactionResponse{ID: "t1", Type: req.Type, Amount: req.Amount, Status: "PENDING_APPROVAL"},
		Approval:    service.ApprovalRequestResponse{ID: "r1", Status: "PENDING"},
	}, nil
}

func (f *fakeTransactions) GetTransaction(_ context.Context, id string) (*service.TransactionResponse, error) {
	return nil, fmt.Errorf("%w: transaction %s", service.ErrNotFound, id)
}

func (f *fakeTransactions) ListTransactions(_ context.Context, _ service.TransactionListFilter) ([]service.TransactionResponse, int64, error) {
	return []service.TransactionResponse{}, 0, nil
}

func (f *fakeTransactions) ExecuteTransaction(_ context.Context, id, _ string) (*service.TransactionResponse, error) {
	return &service.TransactionResponse{ID: id, Status: "EXECUTED"}, nil
}

func TestCreateTransaction(t *testing.T) {
	svc := &fakeTransactions{}
	r := newRouter(NewTransactionHandler(svc))
	op := token(t, "u-op", "OPERATOR")

	w, env := call(t, r, http.MethodPost, "/api/transactions", op, `{"type":"MINT","asset_symbol":"RWA1","amount":"1500.25","destination":"0xabc"}`)
	require.Equal(t, http.StatusCreated, w.Code, env.Error)
	assert.Equal(t, "u-op", svc.userID)
	assert.True(t, svc.created.Amount.Equal(decimal.RequireFromString("1500.25")))

	w, env = call(t, r, http.MethodPost, "/api/transactions", op, `{"type":"MINT","asset_symbol":"RWA1","amount":"-1"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "validation_failed", env.Code)

	w, env = call(t, r, http.MethodPost, "/api/transactions", op, `{"type":"BURN","asset_symbol":"RWA1","amount":"1"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "policy_not_found", env.Code)

	w, env = call(t, r, http.MethodPost, "/api/transactions", op, `{"asset_symbol":"RWA1"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_payload", env.Code)

	w, _ = call(t, r, http.MethodPost, "/api/transactions", token(t, "u-signer", "SIGNER"), `{"type":"MINT","asset_symbol":"RWA1","amount":"1"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestGetTransaction_NotFound(t *testing.T) {
	r := newRouter(NewTransactionHandler(&fakeTransactions{}))
	w, env := call(t, r, http.MethodGet, "/api/transactions/missing", token(t, "u1", "SIGNER"), "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", env.Code)
}

// --- policies ---

type fakePolicies struct {
	service.PolicyService
}

func (fakePolicies) GetPolicy(_ context.Context, class string) (*service.PolicyResponse, error) {
	if class == "transaction:MINT" {
		return &service.PolicyResponse{Policy: approval.Policy{ActionClass: class, QuorumThreshold: 3}}, nil
	}
	return nil, fmt.Errorf("%w: %s", approval.ErrPolicyNotFound, class)
}

func TestGetPolicy_MissingIsNotFound(t *testing.T) {
	r := newRouter(NewPolicyHandler(fakePolicies{}))
	op := token(t, "u1", "OPERATOR")

	w, _ := call(t, r, http.MethodGet, "/api/policies/lookup?action_class=transaction:MINT", op, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w, env := call(t, r, http.MethodGet, "/api/policies/lookup?action_class=transaction:BURN", op, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", env.Code)
}

func TestStatusFor_ServiceErrors(t *testing.T) {
	status, code := statusFor(fmt.Errorf("advance: %w", service.ErrOpenRequest))
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "open_request", code)

	status, _ = statusFor(fmt.Errorf("%w: wrong kind", approval.ErrNotSupported))
	assert.Equal(t, http.StatusMethodNotAllowed, status)

	status, _ = statusFor(service.ErrInvalidCredentials)
	assert.Equal(t, http.StatusUnauthorized, status)
}
