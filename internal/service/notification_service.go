package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kvnlabs/timetable-exchange-api/internal/models"
	"github.com/kvnlabs/timetable-exchange-api/pkg/jobs"
)

// SwapEvent names the lifecycle moments that trigger a notification.
type SwapEvent string

const (
	EventSwapRequested     SwapEvent = "swap_requested"
	EventSwapAccepted      SwapEvent = "swap_accepted"
	EventSwapRejected      SwapEvent = "swap_rejected"
	EventSwapCancelled     SwapEvent = "swap_cancelled"
	EventSwapApproved      SwapEvent = "swap_approved"
	EventSwapDenied        SwapEvent = "swap_denied"
	EventSwapCompleted     SwapEvent = "swap_completed"
	EventSwapExpired       SwapEvent = "swap_expired"
	EventAdminActionNeeded SwapEvent = "admin_action_needed"
)

// SwapNotification is the payload handed to the delivery channel.
type SwapNotification struct {
	Event       SwapEvent
	RecipientID string
	Request     models.ClassSwapRequest
	Message     string
}

// Notifier delivers one notification. Implementations may push to email,
// chat or an in-app inbox.
type Notifier interface {
	Notify(ctx context.Context, n SwapNotification) error
}

// NotifierFunc allows using plain functions.
type NotifierFunc func(ctx context.Context, n SwapNotification) error

// Notify implements Notifier.
func (f NotifierFunc) Notify(ctx context.Context, n SwapNotification) error {
	return f(ctx, n)
}

// NotificationService fans swap lifecycle events out to recipients through a
// background queue. Dispatch never blocks or fails the state transition that
// produced the event.
type NotificationService struct {
	queue  *jobs.Queue
	logger *zap.Logger
}

// NewNotificationService wires the notifier behind a worker queue.
func NewNotificationService(notifier Notifier, cfg jobs.QueueConfig, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if notifier == nil {
		notifier = NotifierFunc(func(ctx context.Context, n SwapNotification) error {
			logger.Info("swap notification",
				zap.String("event", string(n.Event)),
				zap.String("recipient_id", n.RecipientID),
				zap.String("request_id", n.Request.ID))
			return nil
		})
	}
	cfg.Logger = logger
	queue := jobs.NewQueue("swap-notifications", func(ctx context.Context, job jobs.Job) error {
		n, ok := job.Payload.(SwapNotification)
		if !ok {
			return fmt.Errorf("unexpected payload type %T", job.Payload)
		}
		return notifier.Notify(ctx, n)
	}, cfg)
	return &NotificationService{queue: queue, logger: logger}
}

// Start launches the delivery workers.
func (s *NotificationService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the workers.
func (s *NotificationService) Stop() {
	s.queue.Stop()
}

// Dispatch enqueues one notification per recipient. Errors are logged, never
// returned.
func (s *NotificationService) Dispatch(event SwapEvent, req models.ClassSwapRequest, message string, recipientIDs ...string) {
	for _, recipient := range recipientIDs {
		if recipient == "" {
			continue
		}
		err := s.queue.Enqueue(jobs.Job{
			ID:   uuid.NewString(),
			Type: string(event),
			Payload: SwapNotification{
				Event:       event,
				RecipientID: recipient,
				Request:     req,
				Message:     message,
			},
		})
		if err != nil {
			s.logger.Warn("failed to enqueue swap notification",
				zap.String("event", string(event)),
				zap.String("recipient_id", recipient),
				zap.Error(err))
		}
	}
}
