package handler

import (
	"net/http"

	"rwaadmin/internal/middleware"
	"rwaadmin/internal/service"
	"rwaadmin/pkg/pagination"
	"rwaadmin/pkg/response"

	"github.com/gin-gonic/gin"
)

type TransactionHandler struct {
	transactionService service.TransactionService
}

func NewTransactionHandler(transactionService service.TransactionService) *TransactionHandler {
	return &TransactionHandler{transactionService: transactionService}
}

func (h *TransactionHandler) RegisterRoutes(router *gin.RouterGroup, auth *middleware.Auth) {
	txs := router.Group("/api/transactions")
	{
		txs.GET("", auth.RequirePermission("transactions.read"), h.ListTransactions)
		txs.GET("/:id", auth.RequirePermission("transactions.read"), h.GetTransaction)
		txs.POST("", auth.RequirePermission("transactions.write"), h.CreateTransaction)
		txs.POST("/:id/execute", auth.RequirePermission("transactions.execute"), h.ExecuteTransaction)
	}
}

// CreateTransaction records a transaction and opens its multisig approval request
// @Summary      Create transaction
// @Tags         transactions
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body      service.CreateTransactionRequest  true  "Transaction"
// @Success      201      {object}  response.Response{data=service.CreateTransactionResponse}
// @Failure      400      {object}  response.Response
// @Failure      403      {object}  response.Response
// @Failure      422      {object}  response.Response
// @Router       /api/transactions [post]
func (h *TransactionHandler) CreateTransaction(c *gin.Context) {
	var req service.CreateTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	created, err := h.transactionService.CreateTransaction(c.Request.Context(), middleware.UserID(c), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, created))
}

// @Summary      List transactions
// @Tags         transactions
// @Security     BearerAuth
// @Produce      json
// @Param        status      query     string  false  "Status"
// @Param        type        query     string  false  "MINT, BURN, TRANSFER or DISTRIBUTION"
// @Param        project_id  query     string  false  "Project ID"
// @Param        page        query     int     false  "Page number (default 1)"
// @Param        limit       query     int     false  "Items per page (default 20)"
// @Success      200         {object}  response.Response{data=response.Page{items=[]service.TransactionResponse}}
// @Router       /api/transactions [get]
func (h *TransactionHandler) ListTransactions(c *gin.Context) {
	p := pagination.Parse(c)
	filter := service.TransactionListFilter{
		Status:    c.Query("status"),
		Type:      c.Query("type"),
		ProjectID: c.Query("project_id"),
		Page:      p.Page,
		Limit:     p.Limit,
	}
	txs, total, err := h.transactionService.ListTransactions(c.Request.Context(), filter)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Paginated(http.StatusOK, txs, total, p.Page, p.Limit))
}

// @Summary      Get transaction
// @Tags         transactions
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Transaction ID"
// @Success      200  {object}  response.Response{data=service.TransactionResponse}
// @Failure      404  {object}  response.Response
// @Router       /api/transactions/{id} [get]
func (h *TransactionHandler) GetTransaction(c *gin.Context) {
	tx, err := h.transactionService.GetTransaction(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, tx))
}

// ExecuteTransaction executes a transaction whose approval is READY
// @Summary      Execute transaction
// @Tags         transactions
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Transaction ID"
// @Success      200  {object}  response.Response{data=service.TransactionResponse}
// @Failure      403  {object}  response.Response
// @Failure      409  {object}  response.Response
// @Failure      410  {object}  response.Response
// @Router       /api/transactions/{id}/execute [post]
func (h *TransactionHandler) ExecuteTransaction(c *gin.Context) {
	tx, err := h.transactionService.ExecuteTransaction(c.Request.Context(), c.Param("id"), middleware.UserID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, tx))
}
