package handler

import (
	"net/http"

	"rwaadmin/internal/middleware"
	"rwaadmin/internal/service"
	"rwaadmin/pkg/pagination"
	"rwaadmin/pkg/response"

	"github.com/gin-gonic/gin"
)

type ApprovalHandler struct {
	approvalService service.ApprovalService
}

func NewApprovalHandler(approvalService service.ApprovalService) *ApprovalHandler {
	return &ApprovalHandler{approvalService: approvalService}
}

func (h *ApprovalHandler) RegisterRoutes(router *gin.RouterGroup, auth *middleware.Auth) {
	approvals := router.Group("/api/approvals")
	{
		approvals.GET("", auth.RequirePermission("approvals.read"), h.ListApprovalRequests)
		approvals.GET("/:id", auth.RequirePermission("approvals.read"), h.GetApprovalRequest)
		approvals.POST("/:id/approve", auth.RequirePermission("approvals.decide"), h.ApproveRequest)
		approvals.POST("/:id/reject", auth.RequirePermission("approvals.decide"), h.RejectRequest)
		approvals.POST("/:id/execute", auth.RequirePermission("transactions.execute"), h.ExecuteRequest)
	}
}

// ListApprovalRequests returns approval requests, newest first
// @Summary      List approval requests
// @Tags         approvals
// @Security     BearerAuth
// @Produce      json
// @Param        status        query     string  false  "PENDING, READY, COMPLETED, EXECUTED, REJECTED or EXPIRED"
// @Param        action_class  query     string  false  "Action class"
// @Param        target_kind   query     string  false  "project or transaction"
// @Param        target_id     query     string  false  "Target entity ID"
// @Param        page          query     int     false  "Page number (default 1)"
// @Param        limit         query     int     false  "Items per page (default 20)"
// @Success      200           {object}  response.Response{data=response.Page{items=[]service.ApprovalRequestResponse}}
// @Router       /api/approvals [get]
func (h *ApprovalHandler) ListApprovalRequests(c *gin.Context) {
	p := pagination.Parse(c)
	filter := service.ApprovalFilter{
		Status:      c.Query("status"),
		ActionClass: c.Query("action_class"),
		TargetKind:  c.Query("target_kind"),
		TargetID:    c.Query("target_id"),
		Page:        p.Page,
		Limit:       p.Limit,
	}

	approvals, total, err := h.approvalService.ListApprovalRequests(c.Request.Context(), filter)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Paginated(http.StatusOK, approvals, total, p.Page, p.Limit))
}

// GetApprovalRequest returns a request with its approval records and tally
// @Summary      Get approval request
// @Tags         approvals
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Approval request ID"
// @Success      200  {object}  response.Response{data=service.ApprovalDetailResponse}
// @Failure      404  {object}  response.Response
// @Router       /api/approvals/{id} [get]
func (h *ApprovalHandler) GetApprovalRequest(c *gin.Context) {
	detail, err := h.approvalService.GetApprovalRequest(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, detail))
}

// ApproveRequest records the caller's approval. A repeated approval by the
// same user answers 200 with duplicate=true and changes nothing.
// @Summary      Approve request
// @Tags         approvals
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      string                     true   "Approval request ID"
// @Param        payload  body      service.ApproveRequestDTO  false  "Optional notes"
// @Success      200      {object}  response.Response{data=service.ApproveResponse}
// @Failure      403      {object}  response.Response
// @Failure      409      {object}  response.Response
// @Failure      410      {object}  response.Response
// @Failure      422      {object}  response.Response
// @Router       /api/approvals/{id}/approve [post]
func (h *ApprovalHandler) ApproveRequest(c *gin.Context) {
	var req service.ApproveRequestDTO
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}

	result, err := h.approvalService.ApproveRequest(c.Request.Context(), c.Param("id"), middleware.UserID(c), req.Notes)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
}

// RejectRequest rejects a pending request
// @Summary      Reject request
// @Tags         approvals
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      string                    true   "Approval request ID"
// @Param        payload  body      service.RejectRequestDTO  false  "Optional reason"
// @Success      200      {object}  response.Response{data=service.ApprovalRequestResponse}
// @Failure      403      {object}  response.Response
// @Failure      409      {object}  response.Response
// @Router       /api/approvals/{id}/reject [post]
func (h *ApprovalHandler) RejectRequest(c *gin.Context) {
	var req service.RejectRequestDTO
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}

	result, err := h.approvalService.RejectRequest(c.Request.Context(), c.Param("id"), middleware.UserID(c), req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
}

// ExecuteRequest executes a READY request
// @Summary      Execute request
// @Tags         approvals
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Approval request ID"
// @Success      200  {object}  response.Response{data=service.ApprovalRequestResponse}
// @Failure      409  {object}  response.Response
// @Router       /api/approvals/{id}/execute [post]
func (h *ApprovalHandler) ExecuteRequest(c *gin.Context) {
	result, err := h.approvalService.ExecuteRequest(c.Request.Context(), c.Param("id"), middleware.UserID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
}
