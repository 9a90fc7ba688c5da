package main

import (
	"os"
	"time"

	"seminar-app/config"
	"seminar-app/database"
	routes "seminar-app/internal/app/http"
	"seminar-app/internal/domain/registration"
	"seminar-app/internal/infra/logging"
	"seminar-app/internal/infra/mailqueue"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	// gin.SetMode(gin.ReleaseMode) uncomment only in production
	config.LoadEnv()
	logging.Init()
	defer logging.L.Sync()
	database.InitDB()

	mail := mailqueue.NewScheduler(
		database.DB,
		mailqueue.SMTPSender{},
		logging.L,
		time.Duration(config.SCHEDULER_TICK_SECONDS)*time.Second,
		config.EMAIL_MAX_ATTEMPTS,
	)
	mail.Start()

	go sweepStalePending()

	r := gin.Default()

	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{os.Getenv("CORS_ORIGIN")},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	routes.RegisterRoutes(r, mail)

	r.Run(":" + config.PORT)
}

// sweepStalePending periodically cancels PENDING registrations whose payment
// never got an outcome, so abandoned checkouts do not pile up.
func sweepStalePending() {
	ttl := time.Duration(config.PENDING_TTL_MINUTES) * time.Minute
	ticker := time.NewTicker(ttl / 2)
	defer ticker.Stop()
	for now := range ticker.C {
		swept, err := registration.SweepStalePending(database.DB, ttl, now)
		if err != nil {
			logging.L.Error("sweep stale pending registrations", zap.Error(err))
			continue
		}
		if swept > 0 {
			logging.L.Info("swept stale pending registrations", zap.Int64("count", swept))
		}
	}
}
