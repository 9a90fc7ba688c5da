package mailer

import "time"

// Email task kinds.
const (
	KindReminder     = "REMINDER"
	KindFollowUp     = "FOLLOW_UP"
	KindConfirmation = "CONFIRMATION"
	KindMarketing    = "MARKETING"
)

// Email task statuses. SENT, CANCELLED and FAILED are terminal. SENDING is a
// transient claim marker so two dispatch ticks never pick the same task.
const (
	StatusScheduled = "SCHEDULED"
	StatusSending   = "SENDING"
	StatusSent      = "SENT"
	StatusCancelled = "CANCELLED"
	StatusFailed    = "FAILED"
)

// EmailTask is a deferred notification. Subject and Body are rendered at
// scheduling time so the task carries its own snapshot of the seminar and is
// dispatchable even if the catalog changes afterwards.
type EmailTask struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	Recipient      string     `json:"recipient"`
	Kind           string     `json:"kind"`
	Subject        string     `json:"subject"`
	Body           string     `json:"body"`
	SeminarID      *uint      `gorm:"index" json:"seminar_id,omitempty"`
	RegistrationID *uint      `gorm:"index" json:"registration_id,omitempty"`
	DueAt          time.Time  `gorm:"index" json:"due_at"`
	Status         string     `gorm:"index" json:"status"`
	Attempts       int        `json:"attempts"`
	LastError      *string    `json:"last_error,omitempty"`
	SentAt         *time.Time `json:"sent_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}
