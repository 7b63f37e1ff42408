package handler

import (
	"payment-orchestrator/internal/adapter/http/middleware"
	"payment-orchestrator/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	LifecycleSvc   ports.LifecycleService
	C2BSvc         ports.C2BService
	WebhookSvc     ports.WebhookService
	ReportingSvc   ports.ReportingService
	HealthCheckers []ports.HealthChecker
	Logger         zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.MaxBodySize(1 << 20)) // 1 MB request body limit

	// Health check (deep, verifies PostgreSQL and Redis)
	r.GET("/health", HealthCheck(deps.HealthCheckers...))

	v1 := r.Group("/api/v1")

	// --- Merchant-facing payment routes ---
	paymentHandler := NewPaymentHandler(deps.LifecycleSvc, deps.ReportingSvc)
	payments := v1.Group("/payments")
	{
		payments.POST("", paymentHandler.InitiatePayment)
		payments.GET("/stats", paymentHandler.GetStats)
		payments.GET("/:orderId", paymentHandler.GetPayment)
	}

	// --- Upstream gateway routes (results pushed to us) ---
	callbackHandler := NewCallbackHandler(deps.LifecycleSvc, deps.C2BSvc, deps.Logger)
	mpesa := v1.Group("/mpesa")
	{
		mpesa.POST("/callback", callbackHandler.STKCallback)
		mpesa.POST("/c2b/validate", callbackHandler.C2BValidate)
		mpesa.POST("/c2b/confirm", callbackHandler.C2BConfirm)
	}

	// --- Operator routes for the delivery queue ---
	webhookHandler := NewWebhookHandler(deps.WebhookSvc)
	webhooks := v1.Group("/webhooks")
	{
		webhooks.GET("/queue", webhookHandler.QueueStats)
		webhooks.POST("/retry/:orderId", webhookHandler.Retry)
	}

	return r
}
