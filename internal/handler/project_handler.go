package handler

import (
	"net/http"

	"rwaadmin/internal/middleware"
	"rwaadmin/internal/service"
	"rwaadmin/pkg/pagination"
	"rwaadmin/pkg/response"

	"github.com/gin-gonic/gin"
)

type ProjectHandler struct {
	projectService service.ProjectService
}

func NewProjectHandler(projectService service.ProjectService) *ProjectHandler {
	return &ProjectHandler{projectService: projectService}
}

func (h *ProjectHandler) RegisterRoutes(router *gin.RouterGroup, auth *middleware.Auth) {
	projects := router.Group("/api/projects")
	{
		projects.GET("", auth.RequirePermission("projects.read"), h.ListProjects)
		projects.GET("/:id", auth.RequirePermission("projects.read"), h.GetProject)
		projects.POST("", auth.RequirePermission("projects.write"), h.CreateProject)
		projects.POST("/:id/phase", auth.RequirePermission("projects.write"), h.RequestPhaseAdvance)
	}
}

// CreateProject registers a new tokenization project in DRAFT
// @Summary      Create project
// @Tags         projects
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body      service.CreateProjectRequest  true  "Project"
// @Success      201      {object}  response.Response{data=service.ProjectResponse}
// @Failure      400      {object}  response.Response
// @Failure      409      {object}  response.Response
// @Router       /api/projects [post]
func (h *ProjectHandler) CreateProject(c *gin.Context) {
	var req service.CreateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	project, err := h.projectService.CreateProject(c.Request.Context(), middleware.UserID(c), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, project))
}

// @Summary      List projects
// @Tags         projects
// @Security     BearerAuth
// @Produce      json
// @Param        phase  query     string  false  "Filter by phase"
// @Param        page   query     int     false  "Page number (default 1)"
// @Param        limit  query     int     false  "Items per page (default 20)"
// @Success      200    {object}  response.Response{data=response.Page{items=[]service.ProjectResponse}}
// @Router       /api/projects [get]
func (h *ProjectHandler) ListProjects(c *gin.Context) {
	p := pagination.Parse(c)
	projects, total, err := h.projectService.ListProjects(c.Request.Context(), c.Query("phase"), p.Page, p.Limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Paginated(http.StatusOK, projects, total, p.Page, p.Limit))
}

// @Summary      Get project
// @Tags         projects
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Project ID"
// @Success      200  {object}  response.Response{data=service.ProjectResponse}
// @Failure      404  {object}  response.Response
// @Router       /api/projects/{id} [get]
func (h *ProjectHandler) GetProject(c *gin.Context) {
	project, err := h.projectService.GetProject(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, project))
}

// RequestPhaseAdvance opens an approval request for a phase change. The
// project keeps its current phase until the request reaches quorum.
// @Summary      Request phase advance
// @Tags         projects
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      string                       true  "Project ID"
// @Param        payload  body      service.AdvancePhaseRequest  true  "Target phase"
// @Success      202      {object}  response.Response{data=service.ApprovalRequestResponse}
// @Failure      400      {object}  response.Response
// @Failure      403      {object}  response.Response
// @Failure      409      {object}  response.Response
// @Failure      422      {object}  response.Response
// @Router       /api/projects/{id}/phase [post]
func (h *ProjectHandler) RequestPhaseAdvance(c *gin.Context) {
	var req service.AdvancePhaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	request, err := h.projectService.RequestPhaseAdvance(c.Request.Context(), c.Param("id"), middleware.UserID(c), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, response.Success(http.StatusAccepted, request))
}
