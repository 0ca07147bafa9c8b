package router

import (
	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/order-fulfillment/internal/api/handler"
)

const serviceName = "order-fulfillment-api"

// SetupRouter wires the payment webhook and the queue admin endpoints.
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	r.GET("/health", handler.Health(serviceName, deps.HealthChecks, deps.Logger))

	jobHandler := handler.NewJobHandler(deps)
	paymentHandler := handler.NewPaymentHandler(deps)

	v1 := r.Group("/api/v1")
	{
		queues := v1.Group("/queues")
		{
			// GET /api/v1/queues - Job counts per queue and status
			queues.GET("", jobHandler.ListQueues)

			// GET /api/v1/queues/:queue/jobs - List jobs of a queue
			queues.GET("/:queue/jobs", jobHandler.ListJobs)
		}

		jobs := v1.Group("/jobs")
		{
			jobs.GET("/:job_id", jobHandler.GetJob)
			jobs.POST("/:job_id/retry", jobHandler.RetryJob)
			jobs.DELETE("/:job_id", jobHandler.DeleteJob)
		}

		payments := v1.Group("/payments/vnpay")
		{
			// GET /api/v1/payments/vnpay/ipn - Gateway server-to-server callback
			payments.GET("/ipn", paymentHandler.VNPayIPN)

			// POST /api/v1/payments/vnpay/url - Signed checkout URL
			payments.POST("/url", paymentHandler.CreatePaymentURL)
		}
	}

	return r
}
