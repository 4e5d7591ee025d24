package domain

import (
	"time"
)

type AuctionStatus int

const (
	AuctionCreated AuctionStatus = iota
	AuctionStarted
	AuctionSold
	AuctionCancelled
)

func (s AuctionStatus) String() string {
	switch s {
	case AuctionCreated:
		return "created"
	case AuctionStarted:
		return "started"
	case AuctionSold:
		return "sold"
	case AuctionCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Settleable reports whether an end-of-life transition may still run.
// Sold and Cancelled are terminal.
func (s AuctionStatus) Settleable() bool {
	return s == AuctionCreated || s == AuctionStarted
}

type Auction struct {
	ID               string
	SellerID         string
	SellerEmail      string
	ItemID           string
	MinimumBid       float64
	MinimumIncrement float64
	StartTime        time.Time
	EndTime          time.Time
	Status           AuctionStatus
	Bids             []AuctionBid
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// AuctionBid is immutable once created; the bidding flow owns creation.
type AuctionBid struct {
	ID        string
	AuctionID string
	UserID    string
	UserEmail string
	Amount    float64
	CreatedAt time.Time
}

type LotteryStatus int

const (
	LotteryCreated LotteryStatus = iota
	LotteryStarted
	LotterySoldOut
	LotteryCancelled
	LotteryFinished
)

func (s LotteryStatus) String() string {
	switch s {
	case LotteryCreated:
		return "created"
	case LotteryStarted:
		return "started"
	case LotterySoldOut:
		return "sold_out"
	case LotteryCancelled:
		return "cancelled"
	case LotteryFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// Settleable reports whether the draw may still run. SoldOut is an
// active status: all tickets sold, draw still pending. Finished and
// Cancelled are terminal.
func (s LotteryStatus) Settleable() bool {
	return s == LotteryCreated || s == LotteryStarted || s == LotterySoldOut
}

type Lottery struct {
	ID           string
	SellerID     string
	SellerEmail  string
	Name         string
	TicketPrice  float64
	TotalTickets int
	StartTime    time.Time
	EndTime      time.Time
	Status       LotteryStatus
	Items        []LotteryItem
	Bids         []LotteryBid
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type LotteryItem struct {
	ID        string
	LotteryID string
	Name      string
}

type LotteryBid struct {
	ID          string
	LotteryID   string
	UserID      string
	UserEmail   string
	TicketCount int
	CreatedAt   time.Time
}

const DeliveryProcessing = "processing"

// Delivery is created exactly once per settled item.
type Delivery struct {
	ID          string
	SenderID    string
	ReceiverID  string
	ItemID      string
	OrderStatus string
	OrderDate   time.Time
}

type EntityKind string

const (
	KindAuction EntityKind = "auction"
	KindLottery EntityKind = "lottery"
)

type JobType string

const (
	JobRemind JobType = "remind"
	JobStart  JobType = "start"
	JobEnd    JobType = "end"
)

type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobExecuted  JobStatus = "executed"
	JobCancelled JobStatus = "cancelled"
)

// ScheduledJob is the durable record of a lifecycle milestone. The
// in-memory timer registry is only a dispatch cache over these rows.
type ScheduledJob struct {
	ID         string
	EntityID   string
	EntityKind EntityKind
	JobType    JobType
	RunAt      time.Time
	Status     JobStatus
	CreatedAt  time.Time
}

type NotificationKind string

const (
	NotifyAuctionWon       NotificationKind = "auction_won"
	NotifyAuctionLost      NotificationKind = "auction_lost"
	NotifyAuctionSold      NotificationKind = "auction_sold"
	NotifyAuctionNoBids    NotificationKind = "auction_no_bids"
	NotifyAuctionCancelled NotificationKind = "auction_cancelled"
	NotifyAuctionClosing   NotificationKind = "auction_closing"
	NotifyLotteryWon       NotificationKind = "lottery_won"
	NotifyLotteryFinished  NotificationKind = "lottery_finished"
	NotifyLotteryCancelled NotificationKind = "lottery_cancelled"
)

// Notification is an outbound message queued by settlement and drained
// by an independent worker. Delivery failures never reach settlement.
type Notification struct {
	ID        string            `json:"id"`
	UserID    string            `json:"user_id"`
	UserEmail string            `json:"user_email"`
	Kind      NotificationKind  `json:"kind"`
	Fields    map[string]string `json:"fields,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}
