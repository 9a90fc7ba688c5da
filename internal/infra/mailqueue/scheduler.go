package mailqueue

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"seminar-app/internal/domain/mailer"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrDueInPast is returned when a task is scheduled with a due time that has
// already passed.
var ErrDueInPast = errors.New("due time is in the past")

// ErrNotCancellable is returned when cancelling a task that is no longer
// SCHEDULED.
var ErrNotCancellable = errors.New("task is not cancellable")

// ErrTaskNotFound is returned for unknown task ids.
var ErrTaskNotFound = errors.New("email task not found")

// Scheduler owns the email_tasks table. Nothing else mutates task state.
type Scheduler struct {
	db          *gorm.DB
	sender      Sender
	logger      *zap.Logger
	tick        time.Duration
	maxAttempts int

	mu   sync.Mutex
	stop chan struct{}
}

// NewScheduler wires the scheduler. Start must be called before anything is
// dispatched; tasks scheduled while stopped simply wait in the table.
func NewScheduler(db *gorm.DB, sender Sender, logger *zap.Logger, tick time.Duration, maxAttempts int) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Scheduler{db: db, sender: sender, logger: logger, tick: tick, maxAttempts: maxAttempts}
}

// Schedule persists a new SCHEDULED task. Rejects due times in the past.
func (s *Scheduler) Schedule(task *mailer.EmailTask) error {
	if !task.DueAt.After(time.Now()) {
		return ErrDueInPast
	}
	task.Status = mailer.StatusScheduled
	task.Attempts = 0
	if err := s.db.Create(task).Error; err != nil {
		return fmt.Errorf("create email task: %w", err)
	}
	return nil
}

// CancelTask transitions a SCHEDULED task to CANCELLED. The conditional
// update makes the call idempotent-safe against a concurrent dispatch: only
// one of the two wins the row.
func (s *Scheduler) CancelTask(id uint) error {
	res := s.db.Model(&mailer.EmailTask{}).
		Where("id = ? AND status = ?", id, mailer.StatusScheduled).
		Update("status", mailer.StatusCancelled)
	if res.Error != nil {
		return fmt.Errorf("cancel email task: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		var task mailer.EmailTask
		if err := s.db.First(&task, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrTaskNotFound
			}
			return fmt.Errorf("load email task: %w", err)
		}
		if task.Status == mailer.StatusCancelled {
			return nil // already cancelled, idempotent
		}
		return ErrNotCancellable
	}
	return nil
}

// Start launches the dispatch loop. Idempotent: a second Start while running
// is a no-op. Returns whether the loop was started by this call.
func (s *Scheduler) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return false
	}
	s.stop = make(chan struct{})
	go s.run(s.stop)
	s.logger.Info("email scheduler started", zap.Duration("tick", s.tick))
	return true
}

// Stop halts the dispatch loop. Idempotent. Pending tasks stay in the table
// and are picked up on the next Start.
func (s *Scheduler) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop == nil {
		return false
	}
	close(s.stop)
	s.stop = nil
	s.logger.Info("email scheduler stopped")
	return true
}

// Running reports whether the dispatch loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stop != nil
}

func (s *Scheduler) run(stop chan struct{}) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			s.DispatchDue(now)
		}
	}
}

// claimGrace is how long a SENDING claim may stand before it is presumed
// abandoned by a crash. Must exceed any plausible send duration.
const claimGrace = 5 * time.Minute

// recoverStuck fails SENDING rows whose claim outlived the grace period.
// A process that died between claiming and recording the outcome leaves the
// row in SENDING; without this the task would vanish from both dispatch and
// the operator failure list.
func (s *Scheduler) recoverStuck(now time.Time) {
	res := s.db.Model(&mailer.EmailTask{}).
		Where("status = ? AND updated_at < ?", mailer.StatusSending, now.Add(-claimGrace)).
		Updates(map[string]interface{}{
			"status":     mailer.StatusFailed,
			"last_error": "delivery interrupted before an outcome was recorded",
		})
	if res.Error != nil {
		s.logger.Error("recover stuck email tasks", zap.Error(res.Error))
		return
	}
	if res.RowsAffected > 0 {
		s.logger.Warn("failed stuck email tasks", zap.Int64("count", res.RowsAffected))
	}
}

// DispatchDue delivers every SCHEDULED task whose due time has passed.
// Each task is claimed with a conditional update before sending, so even two
// ticks running at once dispatch a task at most once. Returns the number of
// tasks sent.
func (s *Scheduler) DispatchDue(now time.Time) int {
	s.recoverStuck(now)

	var ids []uint
	if err := s.db.Model(&mailer.EmailTask{}).
		Where("status = ? AND due_at <= ?", mailer.StatusScheduled, now).
		Order("due_at ASC").
		Pluck("id", &ids).Error; err != nil {
		s.logger.Error("load due email tasks", zap.Error(err))
		return 0
	}

	sent := 0
	for _, id := range ids {
		if s.dispatchOne(id, now) {
			sent++
		}
	}
	return sent
}

func (s *Scheduler) dispatchOne(id uint, now time.Time) bool {
	// Claim the row; a rival tick or a cancel may have beaten us to it.
	res := s.db.Model(&mailer.EmailTask{}).
		Where("id = ? AND status = ?", id, mailer.StatusScheduled).
		Update("status", mailer.StatusSending)
	if res.Error != nil {
		s.logger.Error("claim email task", zap.Uint("task_id", id), zap.Error(res.Error))
		return false
	}
	if res.RowsAffected == 0 {
		return false
	}

	var task mailer.EmailTask
	if err := s.db.First(&task, id).Error; err != nil {
		s.logger.Error("load claimed email task", zap.Uint("task_id", id), zap.Error(err))
		return false
	}

	if err := s.sender.Send(task.Recipient, task.Subject, task.Body); err != nil {
		s.failOrRetry(&task, err)
		return false
	}

	if err := s.db.Model(&mailer.EmailTask{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":  mailer.StatusSent,
			"sent_at": now,
		}).Error; err != nil {
		s.logger.Error("mark email task sent", zap.Uint("task_id", id), zap.Error(err))
		return false
	}
	s.logger.Info("email task sent",
		zap.Uint("task_id", id),
		zap.String("kind", task.Kind),
		zap.String("recipient", task.Recipient))
	return true
}

func (s *Scheduler) failOrRetry(task *mailer.EmailTask, sendErr error) {
	attempts := task.Attempts + 1
	msg := sendErr.Error()

	updates := map[string]interface{}{
		"attempts":   attempts,
		"last_error": msg,
	}
	if attempts >= s.maxAttempts {
		// Terminal; surfaced through the operator status list, never retried.
		updates["status"] = mailer.StatusFailed
		s.logger.Error("email task failed permanently",
			zap.Uint("task_id", task.ID),
			zap.Int("attempts", attempts),
			zap.Error(sendErr))
	} else {
		updates["status"] = mailer.StatusScheduled
		s.logger.Warn("email task delivery failed, will retry",
			zap.Uint("task_id", task.ID),
			zap.Int("attempts", attempts),
			zap.Error(sendErr))
	}

	if err := s.db.Model(&mailer.EmailTask{}).
		Where("id = ?", task.ID).
		Updates(updates).Error; err != nil {
		s.logger.Error("record email task failure", zap.Uint("task_id", task.ID), zap.Error(err))
	}
}

// CancelForRegistration cancels every still-SCHEDULED task tied to a
// registration. Used when a seat is given up so reminders for it go quiet.
func (s *Scheduler) CancelForRegistration(registrationID uint) (int64, error) {
	res := s.db.Model(&mailer.EmailTask{}).
		Where("registration_id = ? AND status = ?", registrationID, mailer.StatusScheduled).
		Update("status", mailer.StatusCancelled)
	if res.Error != nil {
		return 0, fmt.Errorf("cancel registration email tasks: %w", res.Error)
	}
	return res.RowsAffected, nil
}
