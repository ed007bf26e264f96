package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/serverless-orders/order-service/internal/auth"
	"github.com/serverless-orders/order-service/internal/config"
	"github.com/serverless-orders/order-service/internal/service"
	"go.uber.org/zap"
)

func NewRouter(svc *service.OrderService, inv InvoiceRenderer, authz auth.Authorizer, cfg *config.Config, log *zap.SugaredLogger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware(log))
	r.Use(RateLimitMiddleware(cfg.RateLimit.RPS, cfg.RateLimit.Burst))
	r.Use(CORSMiddleware())

	r.HandleMethodNotAllowed = true
	r.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "Method not allowed"})
	})

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	RegisterHandlers(r, svc, inv, authz, cfg.Auth.Enabled)
	return r
}
