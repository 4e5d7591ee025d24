package services

import (
	"context"
	"errors"
	"time"

	"marketplace/internal/domain"
	"marketplace/pkg/logger"
	"marketplace/pkg/utils"
)

// ReminderDispatcher computes closing-reminder fire times and notifies
// the current bidders when one fires. Reminders are best-effort: a
// missed reminder is skipped on rehydration, never fired retroactively.
type ReminderDispatcher struct {
	repo     domain.MarketRepository
	notifier domain.Notifier
	offsets  []time.Duration
	clock    domain.Clock
	log      logger.Logger
}

func NewReminderDispatcher(
	repo domain.MarketRepository,
	notifier domain.Notifier,
	offsets []time.Duration,
	clock domain.Clock,
	log logger.Logger,
) *ReminderDispatcher {
	return &ReminderDispatcher{
		repo:     repo,
		notifier: notifier,
		offsets:  offsets,
		clock:    clock,
		log:      log,
	}
}

// FireTimes returns the reminder instants for an auction ending at
// endTime, oldest first, dropping any that are already in the past.
func (d *ReminderDispatcher) FireTimes(endTime time.Time) []time.Time {
	now := d.clock.Now()
	var times []time.Time
	for _, offset := range d.offsets {
		fireAt := endTime.Add(-offset)
		if fireAt.After(now) {
			times = append(times, fireAt)
		}
	}
	return times
}

// Fire re-reads the auction and notifies each distinct bidder plus the
// seller that the auction is closing. A settled or vanished auction is
// a silent no-op.
func (d *ReminderDispatcher) Fire(ctx context.Context, auctionID string) error {
	auction, err := d.repo.GetAuction(ctx, auctionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			d.log.Warn("Reminder fired for missing auction", "auction_id", auctionID)
			return nil
		}
		return err
	}
	if !auction.Status.Settleable() {
		d.log.Debug("Reminder skipped, auction no longer active",
			"auction_id", auctionID, "status", auction.Status.String())
		return nil
	}

	remaining := auction.EndTime.Sub(d.clock.Now()).Round(time.Second)

	seen := make(map[string]bool)
	recipients := []*domain.Notification{{
		ID:        utils.GenerateID("notification"),
		UserID:    auction.SellerID,
		UserEmail: auction.SellerEmail,
		Kind:      domain.NotifyAuctionClosing,
		Fields: map[string]string{
			"auction_id": auctionID,
			"remaining":  remaining.String(),
		},
		CreatedAt: d.clock.Now(),
	}}
	for _, bid := range auction.Bids {
		if seen[bid.UserID] {
			continue
		}
		seen[bid.UserID] = true
		recipients = append(recipients, &domain.Notification{
			ID:        utils.GenerateID("notification"),
			UserID:    bid.UserID,
			UserEmail: bid.UserEmail,
			Kind:      domain.NotifyAuctionClosing,
			Fields: map[string]string{
				"auction_id": auctionID,
				"remaining":  remaining.String(),
			},
			CreatedAt: d.clock.Now(),
		})
	}

	for _, n := range recipients {
		if err := d.notifier.Notify(ctx, n); err != nil {
			d.log.Error("Failed to enqueue reminder", "user_id", n.UserID,
				"auction_id", auctionID, "error", err)
		}
	}
	return nil
}
