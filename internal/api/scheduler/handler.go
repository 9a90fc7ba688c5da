package scheduler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"seminar-app/database"
	"seminar-app/internal/domain/mailer"
	"seminar-app/internal/infra/mailqueue"

	"github.com/gin-gonic/gin"
)

// Mail is the scheduler instance this surface controls. Wired at startup.
var Mail *mailqueue.Scheduler

// StartScheduler turns the dispatch loop on. Idempotent.
func StartScheduler(c *gin.Context) {
	started := Mail.Start()
	c.JSON(http.StatusOK, gin.H{"running": true, "started": started})
}

// StopScheduler turns the dispatch loop off. Idempotent; queued tasks stay
// in the table and resume on the next start.
func StopScheduler(c *gin.Context) {
	stopped := Mail.Stop()
	c.JSON(http.StatusOK, gin.H{"running": false, "stopped": stopped})
}

// ScheduleEmail queues a reminder, follow-up or marketing message for a
// future due time.
func ScheduleEmail(c *gin.Context) {
	var body struct {
		Recipient      string    `json:"recipient" binding:"required,email"`
		Kind           string    `json:"kind" binding:"required"`
		Subject        string    `json:"subject" binding:"required"`
		Body           string    `json:"body" binding:"required"`
		DueAt          time.Time `json:"due_at" binding:"required"`
		SeminarID      *uint     `json:"seminar_id"`
		RegistrationID *uint     `json:"registration_id"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	switch body.Kind {
	case mailer.KindReminder, mailer.KindFollowUp, mailer.KindMarketing:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown email kind"})
		return
	}

	task := &mailer.EmailTask{
		Recipient:      body.Recipient,
		Kind:           body.Kind,
		Subject:        body.Subject,
		Body:           body.Body,
		DueAt:          body.DueAt,
		SeminarID:      body.SeminarID,
		RegistrationID: body.RegistrationID,
	}
	if err := Mail.Schedule(task); err != nil {
		if errors.Is(err, mailqueue.ErrDueInPast) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Due time is in the past"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to schedule email"})
		return
	}
	c.JSON(http.StatusOK, task)
}

// CancelEmail cancels a task that has not been dispatched yet.
func CancelEmail(c *gin.Context) {
	id64, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid task id"})
		return
	}

	if err := Mail.CancelTask(uint(id64)); err != nil {
		switch {
		case errors.Is(err, mailqueue.ErrTaskNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Email task not found"})
		case errors.Is(err, mailqueue.ErrNotCancellable):
			c.JSON(http.StatusConflict, gin.H{"error": "Email task is no longer cancellable"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to cancel email task"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

// ListEmails is the operator view of the queue; FAILED tasks surface here
// instead of being silently dropped.
func ListEmails(c *gin.Context) {
	q := database.DB.Order("due_at ASC")
	if status := c.Query("status"); status != "" {
		q = q.Where("status = ?", status)
	}

	var tasks []mailer.EmailTask
	if err := q.Find(&tasks).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load email tasks"})
		return
	}
	c.JSON(http.StatusOK, tasks)
}
