package handler

import (
	"errors"
	"net/http"

	"rwaadmin/internal/approval"
	"rwaadmin/internal/middleware"
	"rwaadmin/internal/service"
	"rwaadmin/pkg/response"

	"github.com/gin-gonic/gin"
)

type PolicyHandler struct {
	policyService service.PolicyService
}

func NewPolicyHandler(policyService service.PolicyService) *PolicyHandler {
	return &PolicyHandler{policyService: policyService}
}

// Action classes contain ':' and '>' so they are passed as a query parameter.
func (h *PolicyHandler) RegisterRoutes(router *gin.RouterGroup, auth *middleware.Auth) {
	policies := router.Group("/api/policies")
	{
		policies.GET("", auth.RequirePermission("policies.read"), h.ListPolicies)
		policies.GET("/lookup", auth.RequirePermission("policies.read"), h.GetPolicy)
		policies.PUT("", auth.RequirePermission("policies.write"), h.UpsertPolicy)
		policies.DELETE("", auth.RequirePermission("policies.write"), h.DeletePolicy)
	}
}

// @Summary      List approval policies
// @Tags         policies
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  response.Response{data=[]service.PolicyResponse}
// @Router       /api/policies [get]
func (h *PolicyHandler) ListPolicies(c *gin.Context) {
	policies, err := h.policyService.ListPolicies(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, policies))
}

// @Summary      Get approval policy
// @Tags         policies
// @Security     BearerAuth
// @Produce      json
// @Param        action_class  query     string  true  "Action class, e.g. transaction:MINT"
// @Success      200           {object}  response.Response{data=service.PolicyResponse}
// @Failure      404           {object}  response.Response
// @Router       /api/policies/lookup [get]
func (h *PolicyHandler) GetPolicy(c *gin.Context) {
	policy, err := h.policyService.GetPolicy(c.Request.Context(), c.Query("action_class"))
	if err != nil {
		writePolicyError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, policy))
}

// UpsertPolicy creates or replaces the policy for an action class. Requests
// already open keep the policy snapshot they were created with.
// @Summary      Create or update approval policy
// @Tags         policies
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body      service.PolicyRequest  true  "Policy"
// @Success      200      {object}  response.Response{data=service.PolicyResponse}
// @Failure      400      {object}  response.Response
// @Router       /api/policies [put]
func (h *PolicyHandler) UpsertPolicy(c *gin.Context) {
	var req service.PolicyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	policy, err := h.policyService.UpsertPolicy(c.Request.Context(), middleware.UserID(c), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, policy))
}

// @Summary      Delete approval policy
// @Tags         policies
// @Security     BearerAuth
// @Produce      json
// @Param        action_class  query     string  true  "Action class"
// @Success      200           {object}  response.Response
// @Failure      404           {object}  response.Response
// @Router       /api/policies [delete]
func (h *PolicyHandler) DeletePolicy(c *gin.Context) {
	if err := h.policyService.DeletePolicy(c.Request.Context(), middleware.UserID(c), c.Query("action_class")); err != nil {
		writePolicyError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, "Policy deleted"))
}

// On the policy endpoints a missing policy is the addressed resource itself.
func writePolicyError(c *gin.Context, err error) {
	if errors.Is(err, approval.ErrPolicyNotFound) {
		c.JSON(http.StatusNotFound, response.ErrorWithCode(http.StatusNotFound, "not_found", err.Error()))
		return
	}
	writeError(c, err)
}
