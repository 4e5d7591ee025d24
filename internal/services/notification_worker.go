package services

import (
	"context"
	"time"

	"marketplace/internal/domain"
	"marketplace/pkg/logger"
)

// QueueNotifier is the domain.Notifier used by settlement: it only
// enqueues, so delivery problems can never reach a settlement
// transaction.
type QueueNotifier struct {
	queue domain.NotificationQueue
}

func NewQueueNotifier(queue domain.NotificationQueue) *QueueNotifier {
	return &QueueNotifier{queue: queue}
}

func (n *QueueNotifier) Notify(ctx context.Context, notification *domain.Notification) error {
	return n.queue.Enqueue(ctx, notification)
}

// NotificationWorker drains the outbound queue independently of
// settlement, delivering to connected users with a bounded retry
// policy. A notification that exhausts its attempts is dropped with an
// error log; it is never pushed back into settlement.
type NotificationWorker struct {
	queue       domain.NotificationQueue
	delivery    domain.UserNotifier
	maxAttempts int
	backoff     time.Duration
	popTimeout  time.Duration
	log         logger.Logger
	done        chan struct{}
}

func NewNotificationWorker(
	queue domain.NotificationQueue,
	delivery domain.UserNotifier,
	maxAttempts int,
	backoff time.Duration,
	popTimeout time.Duration,
	log logger.Logger,
) *NotificationWorker {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &NotificationWorker{
		queue:       queue,
		delivery:    delivery,
		maxAttempts: maxAttempts,
		backoff:     backoff,
		popTimeout:  popTimeout,
		log:         log,
		done:        make(chan struct{}),
	}
}

// Start blocks draining the queue until ctx is cancelled.
func (w *NotificationWorker) Start(ctx context.Context) {
	defer close(w.done)
	w.log.Info("Notification worker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info("Notification worker stopped")
			return
		default:
		}

		notification, err := w.queue.Dequeue(ctx, w.popTimeout)
		if err != nil {
			if ctx.Err() != nil {
				w.log.Info("Notification worker stopped")
				return
			}
			w.log.Error("Failed to dequeue notification", "error", err)
			continue
		}
		if notification == nil {
			continue
		}

		w.deliver(ctx, notification)
	}
}

// Wait returns after Start has exited.
func (w *NotificationWorker) Wait() {
	<-w.done
}

func (w *NotificationWorker) deliver(ctx context.Context, n *domain.Notification) {
	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		err := w.delivery.NotifyUser(ctx, n.UserID, n)
		if err == nil {
			w.log.Debug("Notification delivered", "user_id", n.UserID, "kind", n.Kind)
			return
		}

		w.log.Warn("Notification delivery failed", "user_id", n.UserID,
			"kind", n.Kind, "attempt", attempt, "error", err)

		if attempt < w.maxAttempts {
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.backoff):
			}
		}
	}

	w.log.Error("Notification dropped after retries", "user_id", n.UserID,
		"kind", n.Kind, "attempts", w.maxAttempts)
}
