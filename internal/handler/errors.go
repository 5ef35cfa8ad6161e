package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"rwaadmin/internal/approval"
	"rwaadmin/internal/service"
	"rwaadmin/pkg/response"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type errorMapping struct {
	target error
	status int
	code   string
}

// Order matters: the first match wins.
var errorMappings = []errorMapping{
	{approval.ErrPolicyNotFound, http.StatusUnprocessableEntity, "policy_not_found"},
	{approval.ErrUnauthorized, http.StatusForbidden, "unauthorized_approver"},
	{service.ErrForbidden, http.StatusForbidden, "forbidden"},
	{approval.ErrDuplicateApproval, http.StatusConflict, "duplicate_approval"},
	{approval.ErrNotPending, http.StatusConflict, "not_pending"},
	{approval.ErrNotReady, http.StatusConflict, "not_ready"},
	{approval.ErrConflict, http.StatusConflict, "conflict"},
	{service.ErrOpenRequest, http.StatusConflict, "open_request"},
	{service.ErrAlreadyExists, http.StatusConflict, "already_exists"},
	{gorm.ErrDuplicatedKey, http.StatusConflict, "already_exists"},
	{approval.ErrExpired, http.StatusGone, "expired"},
	{approval.ErrNotFound, http.StatusNotFound, "not_found"},
	{service.ErrNotFound, http.StatusNotFound, "not_found"},
	{gorm.ErrRecordNotFound, http.StatusNotFound, "not_found"},
	{approval.ErrNotSupported, http.StatusMethodNotAllowed, "not_supported"},
	{approval.ErrInvalidInput, http.StatusBadRequest, "invalid_input"},
	{service.ErrValidation, http.StatusBadRequest, "validation_failed"},
	{service.ErrInvalidCredentials, http.StatusUnauthorized, "invalid_credentials"},
	{service.ErrInvalidToken, http.StatusUnauthorized, "invalid_token"},
}

// statusFor maps a service or engine error to an HTTP status and error code.
func statusFor(err error) (int, string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, "internal_error"
}

// writeError renders err in the standard envelope. Internal errors are logged
// and their message is not exposed.
func writeError(c *gin.Context, err error) {
	status, code := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "method", c.Request.Method, "path", c.FullPath(), "error", err)
		msg = "internal server error"
	}
	c.JSON(status, response.ErrorWithCode(status, code, msg))
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, response.ErrorWithCode(http.StatusBadRequest, "invalid_payload", "Invalid request payload: "+err.Error()))
}
