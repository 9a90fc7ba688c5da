package routes

import (
	adminapi "seminar-app/internal/api/admin"
	"seminar-app/internal/api/billing"
	"seminar-app/internal/api/checkout"
	registrationsapi "seminar-app/internal/api/registrations"
	schedulerapi "seminar-app/internal/api/scheduler"
	stripewebhooks "seminar-app/internal/api/stripewebhook"
	"seminar-app/internal/app/http/middleware"
	"seminar-app/internal/infra/mailqueue"

	"github.com/gin-gonic/gin"
)

func RegisterRoutes(r *gin.Engine, mail *mailqueue.Scheduler) {
	// Handlers that touch the email queue share the one scheduler instance;
	// it owns all task state.
	schedulerapi.Mail = mail
	stripewebhooks.Mail = mail
	registrationsapi.Mail = mail

	// The webhook body is signed; it must bypass sanitation.
	r.POST("/webhook", stripewebhooks.StripeWebhook)
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Authenticated
	auth := r.Group("/")
	auth.Use(middleware.AuthMiddleware(), middleware.SanitizeInputMiddleware())
	auth.POST("/checkout", checkout.CreateCheckout)
	auth.GET("/payments", billing.GetPaymentHistory)
	auth.POST("/registrations/:id/cancel", registrationsapi.CancelRegistration)

	// Admin / operator routes
	admin := r.Group("/admin")
	admin.Use(middleware.AuthMiddleware(), middleware.RequireRole("admin"))
	admin.GET("/stats", adminapi.GetAdminStats)
	admin.GET("/payments", adminapi.ListAllPayments)
	admin.POST("/scheduler/start", schedulerapi.StartScheduler)
	admin.POST("/scheduler/stop", schedulerapi.StopScheduler)
	admin.POST("/emails", schedulerapi.ScheduleEmail)
	admin.POST("/emails/:id/cancel", schedulerapi.CancelEmail)
	admin.GET("/emails", schedulerapi.ListEmails)
}
