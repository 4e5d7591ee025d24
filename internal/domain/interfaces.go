package domain

import (
	"context"
	"time"
)

// Clock abstracts time so tests can simulate passage. AfterFunc mirrors
// time.AfterFunc and returns a stoppable handle.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) TimerHandle
}

type TimerHandle interface {
	Stop() bool
}

// Repository interfaces
type MarketRepository interface {
	CreateAuction(ctx context.Context, auction *Auction) error
	CreateLottery(ctx context.Context, lottery *Lottery) error
	GetAuction(ctx context.Context, auctionID string) (*Auction, error)
	GetLottery(ctx context.Context, lotteryID string) (*Lottery, error)
	// GetActiveAuctions returns auctions still awaiting settlement with
	// an end time after now.
	GetActiveAuctions(ctx context.Context, now time.Time) ([]*Auction, error)
	GetActiveLotteries(ctx context.Context, now time.Time) ([]*Lottery, error)
	// InTransaction runs fn against a row-locking transaction handle,
	// committing atomically or rolling back entirely on error.
	InTransaction(ctx context.Context, fn func(tx SettlementTx) error) error
}

// SettlementTx is the mutation surface available inside a settlement
// transaction. Loads take row locks so concurrent settlement attempts
// for the same id serialize on the status guard.
type SettlementTx interface {
	GetAuctionForUpdate(ctx context.Context, auctionID string) (*Auction, error)
	GetLotteryForUpdate(ctx context.Context, lotteryID string) (*Lottery, error)
	UpdateAuctionStatus(ctx context.Context, auctionID string, status AuctionStatus) error
	UpdateLotteryStatus(ctx context.Context, lotteryID string, status LotteryStatus) error
	CreateDelivery(ctx context.Context, delivery *Delivery) error
	// CreditBalance adds amount to the user's balance (refunds).
	CreditBalance(ctx context.Context, userID string, amount float64) error
}

type SchedulerRepository interface {
	CreateJob(ctx context.Context, job *ScheduledJob) error
	// GetPendingJobs returns pending rows due at or before the given
	// time, for the sweep.
	GetPendingJobs(ctx context.Context, before time.Time) ([]*ScheduledJob, error)
	// GetUpcomingJobs returns pending rows due strictly after the given
	// time, for re-arming timers on startup.
	GetUpcomingJobs(ctx context.Context, after time.Time) ([]*ScheduledJob, error)
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus) error
	CancelJobsForEntity(ctx context.Context, entityID string) error
}

// Notifier is fire-and-forget from settlement's perspective: failures
// are logged by the caller, never fatal.
type Notifier interface {
	Notify(ctx context.Context, n *Notification) error
}

// NotificationQueue backs the Notifier with a durable outbound queue
// drained by an independent worker.
type NotificationQueue interface {
	Enqueue(ctx context.Context, n *Notification) error
	// Dequeue blocks up to timeout; a nil notification with nil error
	// means the timeout elapsed with nothing queued.
	Dequeue(ctx context.Context, timeout time.Duration) (*Notification, error)
}

// UserNotifier delivers a message to a connected user.
type UserNotifier interface {
	NotifyUser(ctx context.Context, userID string, message interface{}) error
}

// Scheduler interface
type LifecycleScheduler interface {
	ScheduleAuction(ctx context.Context, auction *Auction) error
	ScheduleLottery(ctx context.Context, lottery *Lottery) error
	CancelSchedule(ctx context.Context, entityID string) error
	Rehydrate(ctx context.Context) error
	Start(ctx context.Context) error
	Stop() error
}

// Leader election interface
type LeaderElection interface {
	BecomeLeader(ctx context.Context, instanceID string) (bool, error)
	IsLeader(ctx context.Context, instanceID string) (bool, error)
	ReleaseLeadership(ctx context.Context, instanceID string) error
}

// WebSocket interfaces
type WebSocketConnection interface {
	Send(message interface{}) error
	Close() error
	UserID() string
}

type ConnectionManager interface {
	RegisterConnection(userID string, conn WebSocketConnection) error
	UnregisterConnection(userID string, conn WebSocketConnection) error
	GetConnectionsForUser(userID string) []WebSocketConnection
	NotifyUser(userID string, message interface{}) error
}
