package stripewebhooks

import (
	"encoding/json"
	"fmt"
	"time"

	"seminar-app/database"
	"seminar-app/internal/api/checkout"
	"seminar-app/internal/domain/billing"
	"seminar-app/internal/domain/catalog"
	"seminar-app/internal/domain/mailer"
	"seminar-app/internal/domain/registration"
	"seminar-app/internal/infra/logging"

	"go.uber.org/zap"
)

const (
	reminderLead   = 24 * time.Hour
	followUpDelay  = 24 * time.Hour
	immediateDelay = time.Minute
)

// scheduleLifecycleEmails enqueues the confirmation, reminder and follow-up
// for every seat in a freshly confirmed payment. Best effort: a scheduling
// failure is logged, never bounced back to the gateway.
func scheduleLifecycleEmails(payment *billing.Payment, regs []registration.Registration) {
	if Mail == nil {
		return
	}

	var meta checkout.IntentMetadata
	if err := json.Unmarshal([]byte(payment.Metadata), &meta); err != nil || meta.UserEmail == "" {
		logging.L.Warn("payment metadata has no recipient, skipping emails",
			zap.Uint("payment_id", payment.ID))
		return
	}

	now := time.Now()
	for _, reg := range regs {
		var sem catalog.Seminar
		if err := database.DB.First(&sem, reg.SeminarID).Error; err != nil {
			logging.L.Error("load seminar for lifecycle emails",
				zap.Uint("seminar_id", reg.SeminarID), zap.Error(err))
			continue
		}

		regID := reg.ID
		semID := sem.ID
		tasks := []*mailer.EmailTask{
			{
				Recipient: meta.UserEmail,
				Kind:      mailer.KindConfirmation,
				Subject:   fmt.Sprintf("Your seat for %s is confirmed", sem.Title),
				Body: fmt.Sprintf("Your registration for %s on %s is confirmed. We look forward to seeing you.",
					sem.Title, sem.StartsAt.Format("2006-01-02 15:04")),
				DueAt: now.Add(immediateDelay),
			},
			{
				Recipient: meta.UserEmail,
				Kind:      mailer.KindReminder,
				Subject:   fmt.Sprintf("Reminder: %s starts tomorrow", sem.Title),
				Body: fmt.Sprintf("This is a reminder that %s starts on %s.",
					sem.Title, sem.StartsAt.Format("2006-01-02 15:04")),
				DueAt: sem.StartsAt.Add(-reminderLead),
			},
			{
				Recipient: meta.UserEmail,
				Kind:      mailer.KindFollowUp,
				Subject:   fmt.Sprintf("Thank you for attending %s", sem.Title),
				Body: fmt.Sprintf("Thank you for attending %s. We would love to hear your feedback.",
					sem.Title),
				DueAt: sem.EndsAt.Add(followUpDelay),
			},
		}

		for _, task := range tasks {
			task.SeminarID = &semID
			task.RegistrationID = &regID
			if !task.DueAt.After(now) {
				// Seminar starts inside the lead window; no point reminding.
				continue
			}
			if err := Mail.Schedule(task); err != nil {
				logging.L.Error("schedule lifecycle email",
					zap.String("kind", task.Kind),
					zap.Uint("registration_id", reg.ID),
					zap.Error(err))
			}
		}
	}
}
