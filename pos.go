package main

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"bitbucket.org/mmdatafocus/pos_backend/models"
	"bitbucket.org/mmdatafocus/pos_backend/utils"
	"github.com/gin-gonic/gin"
)

// httpStatusForError maps the engine's error taxonomy onto response codes.
func httpStatusForError(err error) int {
	switch {
	case errors.Is(err, utils.ErrorInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, utils.ErrorForbidden):
		return http.StatusForbidden
	case errors.Is(err, utils.ErrorRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, utils.ErrorInsufficientStock):
		return http.StatusUnprocessableEntity
	case errors.Is(err, utils.ErrorIdempotencyConflict):
		return http.StatusConflict
	case errors.Is(err, utils.ErrorConflict):
		return http.StatusConflict
	case errors.Is(err, utils.ErrorUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	c.JSON(httpStatusForError(err), gin.H{"error": err.Error()})
}

// requireRole rejects callers whose JWT role is not in the allowed set.
// Admins pass every gate.
func requireRole(c *gin.Context, roles ...models.UserRole) bool {
	role, ok := utils.GetCallerRoleFromContext(c.Request.Context())
	if !ok || role == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return false
	}
	if models.UserRole(role) == models.UserRoleAdmin {
		return true
	}
	for _, allowed := range roles {
		if models.UserRole(role) == allowed {
			return true
		}
	}
	c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	return false
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func loginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}

		info, err := models.Login(c.Request.Context(), req.Username, req.Password)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, info)
	}
}

func logoutHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, err := models.Logout(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": ok})
	}
}

func scanHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireRole(c, models.UserRoleSales) {
			return
		}

		storeId := c.Query("store_id")
		code := c.Query("code")
		if storeId == "" || code == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "store_id and code are required"})
			return
		}

		result, err := models.ScanProduct(c.Request.Context(), storeId, code)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func createInvoiceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireRole(c, models.UserRoleSales) {
			return
		}

		var input models.NewInvoice
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		// header key wins over body so clients can set it once per retry loop
		if headerKey := c.GetHeader("Idempotency-Key"); headerKey != "" {
			input.IdempotencyKey = &headerKey
		}

		ctx, span := tracer.Start(c.Request.Context(), "createInvoice")
		defer span.End()

		invoice, err := models.CreateInvoice(ctx, &input)
		if err != nil {
			respondError(c, err)
			return
		}
		cid, _ := utils.GetCorrelationIdFromContext(c.Request.Context())
		c.Header("X-Correlation-Id", cid)
		c.JSON(http.StatusCreated, invoice)
	}
}

func getInvoiceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireRole(c, models.UserRoleSales, models.UserRoleInventory) {
			return
		}

		invoice, err := models.GetInvoice(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, invoice)
	}
}

func listInvoicesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireRole(c, models.UserRoleSales) {
			return
		}

		filter := models.InvoiceFilter{
			StoreId:  c.Query("store_id"),
			WorkerId: c.Query("worker_id"),
			Limit:    intQuery(c, "limit"),
			Offset:   intQuery(c, "offset"),
		}
		if filter.StoreId == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "store_id is required"})
			return
		}
		filter.From, filter.To = timeRangeQuery(c)

		invoices, err := models.GetInvoices(c.Request.Context(), filter)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, invoices)
	}
}

func invoicePdfHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireRole(c, models.UserRoleSales, models.UserRoleInventory) {
			return
		}

		invoice, err := models.GetInvoice(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		if invoice.PdfUrl == nil || *invoice.PdfUrl == "" {
			// generation is asynchronous; the document may still be rendering
			c.JSON(http.StatusNotFound, gin.H{"error": "pdf not generated yet"})
			return
		}
		c.Redirect(http.StatusFound, *invoice.PdfUrl)
	}
}

func inventoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireRole(c, models.UserRoleSales, models.UserRoleInventory) {
			return
		}

		storeId := c.Query("store_id")
		if storeId == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "store_id is required"})
			return
		}

		lines, err := models.GetInventoryByStore(c.Request.Context(), storeId)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, lines)
	}
}

func adjustInventoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireRole(c, models.UserRoleInventory) {
			return
		}

		var input models.NewInventoryAdjustment
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}

		record, err := models.AdjustInventory(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, record)
	}
}

func movementsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireRole(c, models.UserRoleInventory) {
			return
		}

		filter := movementFilterFromQuery(c)
		if filter.StoreId == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "store_id is required"})
			return
		}

		movements, err := models.GetInventoryMovements(c.Request.Context(), filter)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, movements)
	}
}

func movementFilterFromQuery(c *gin.Context) models.MovementFilter {
	filter := models.MovementFilter{
		StoreId:   c.Query("store_id"),
		ProductId: c.Query("product_id"),
		Limit:     intQuery(c, "limit"),
		Offset:    intQuery(c, "offset"),
	}
	filter.From, filter.To = timeRangeQuery(c)
	return filter
}

func intQuery(c *gin.Context, name string) int {
	v, err := strconv.Atoi(c.Query(name))
	if err != nil {
		return 0
	}
	return v
}

func timeRangeQuery(c *gin.Context) (*time.Time, *time.Time) {
	var from, to *time.Time
	if v := c.Query("from"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			from = &t
		}
	}
	if v := c.Query("to"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			to = &t
		}
	}
	return from, to
}
