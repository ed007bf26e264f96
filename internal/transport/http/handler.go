package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/serverless-orders/order-service/internal/apperr"
	"github.com/serverless-orders/order-service/internal/auth"
	"github.com/serverless-orders/order-service/internal/invoice"
	"github.com/serverless-orders/order-service/internal/model"
	"github.com/serverless-orders/order-service/internal/service"
	"github.com/shopspring/decimal"
)

// InvoiceRenderer renders invoices and serves them back until expiry.
type InvoiceRenderer interface {
	Render(ctx context.Context, o model.Order) (*invoice.Document, error)
	Fetch(token string) ([]byte, bool)
}

func RegisterHandlers(r *gin.Engine, svc *service.OrderService, inv InvoiceRenderer, authz auth.Authorizer, authOn bool) {
	orders := r.Group("/orders")
	if authOn {
		orders.Use(AuthMiddleware(authz))
	}
	orders.POST("", createHandler(svc))
	orders.GET("", listHandler(svc))
	orders.GET("/:id", getHandler(svc))
	orders.PUT("/:id", updateHandler(svc))
	orders.DELETE("/:id", deleteHandler(svc))
	orders.GET("/:id/invoice", invoiceHandler(svc, inv))

	// Retrieval URLs are self-expiring, no credential needed.
	r.GET("/invoices/:token", fetchInvoiceHandler(inv))
}

type createReq struct {
	CustomerName  string          `json:"customerName" binding:"required"`
	CustomerEmail string          `json:"customerEmail"`
	Items         []string        `json:"items"`
	Amount        decimal.Decimal `json:"amount"`
}

func createHandler(svc *service.OrderService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		o, err := svc.Create(c, service.CreateOrderInput{
			CustomerName:  req.CustomerName,
			CustomerEmail: req.CustomerEmail,
			Items:         req.Items,
			Amount:        req.Amount,
		})
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, o)
	}
}

func listHandler(svc *service.OrderService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var q struct {
			Status string `form:"status"`
			Limit  int    `form:"limit"`
		}
		if err := c.ShouldBindQuery(&q); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		orders, err := svc.List(c, q.Status, q.Limit)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"orders": orders, "count": len(orders)})
	}
}

func getHandler(svc *service.OrderService) gin.HandlerFunc {
	return func(c *gin.Context) {
		o, err := svc.Get(c, c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, o)
	}
}

type updateReq struct {
	CreatedAt    string           `json:"createdAt" binding:"required"`
	Status       *string          `json:"status"`
	CustomerName *string          `json:"customerName"`
	Amount       *decimal.Decimal `json:"amount"`
	Items        *[]string        `json:"items"`
}

func updateHandler(svc *service.OrderService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req updateReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		o, err := svc.Update(c, c.Param("id"), req.CreatedAt, model.OrderPatch{
			Status:       req.Status,
			CustomerName: req.CustomerName,
			Amount:       req.Amount,
			Items:        req.Items,
		})
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, o)
	}
}

func deleteHandler(svc *service.OrderService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := svc.Delete(c, c.Param("id")); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Order deleted successfully"})
	}
}

func invoiceHandler(svc *service.OrderService, inv InvoiceRenderer) gin.HandlerFunc {
	return func(c *gin.Context) {
		o, err := svc.Get(c, c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		doc, err := inv.Render(c, *o)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"message":   "PDF generated successfully",
			"orderId":   o.OrderID,
			"pdfUrl":    doc.URL,
			"expiresAt": doc.ExpiresAt.UTC().Format(model.TimeLayout),
		})
	}
}

func fetchInvoiceHandler(inv InvoiceRenderer) gin.HandlerFunc {
	return func(c *gin.Context) {
		content, ok := inv.Fetch(c.Param("token"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "Invoice not found"})
			return
		}
		c.Data(http.StatusOK, "application/pdf", content)
	}
}

// writeError maps the error taxonomy onto status codes. Downstream detail
// never leaks to the client.
func writeError(c *gin.Context, err error) {
	switch {
	case apperr.IsValidation(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, apperr.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}
