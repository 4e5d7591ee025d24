package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"marketplace/internal/domain"
	"marketplace/pkg/logger"
	"marketplace/pkg/utils"
)

// SettlementEngine finalizes auctions and lotteries exactly once. Every
// transition loads the entity under a row lock and re-checks its status
// before mutating, so duplicate invocations (rehydrated timer plus
// sweep, or a racing cancellation) are harmless no-ops.
type SettlementEngine struct {
	repo     domain.MarketRepository
	notifier domain.Notifier
	draw     *WeightedDraw
	clock    domain.Clock
	log      logger.Logger
}

func NewSettlementEngine(
	repo domain.MarketRepository,
	notifier domain.Notifier,
	draw *WeightedDraw,
	clock domain.Clock,
	log logger.Logger,
) *SettlementEngine {
	return &SettlementEngine{
		repo:     repo,
		notifier: notifier,
		draw:     draw,
		clock:    clock,
		log:      log,
	}
}

// EndAuction settles an auction whose end time has passed: highest bid
// wins (arrival order breaks ties), losing bids are refunded, a
// delivery is created. Zero bids cancel the auction instead.
func (e *SettlementEngine) EndAuction(ctx context.Context, auctionID string) error {
	var outbound []*domain.Notification

	err := e.repo.InTransaction(ctx, func(tx domain.SettlementTx) error {
		auction, err := tx.GetAuctionForUpdate(ctx, auctionID)
		if err != nil {
			return err
		}
		if !auction.Status.Settleable() {
			return fmt.Errorf("%w: auction %s is %s", domain.ErrAlreadySettled, auctionID, auction.Status)
		}

		if len(auction.Bids) == 0 {
			if err := tx.UpdateAuctionStatus(ctx, auctionID, domain.AuctionCancelled); err != nil {
				return err
			}
			outbound = append(outbound, e.sellerNotification(auction, domain.NotifyAuctionNoBids, nil))
			return nil
		}

		// Stable sort keeps arrival order among equal amounts, so the
		// first bid at the maximum wins.
		ranked := make([]domain.AuctionBid, len(auction.Bids))
		copy(ranked, auction.Bids)
		sort.SliceStable(ranked, func(i, j int) bool {
			return ranked[i].Amount > ranked[j].Amount
		})
		winner := ranked[0]

		delivery := &domain.Delivery{
			ID:          utils.GenerateID("delivery"),
			SenderID:    auction.SellerID,
			ReceiverID:  winner.UserID,
			ItemID:      auction.ItemID,
			OrderStatus: domain.DeliveryProcessing,
			OrderDate:   e.clock.Now(),
		}
		if err := tx.CreateDelivery(ctx, delivery); err != nil {
			return err
		}

		// The winning amount is already captured by the bidding flow;
		// only losing bids are credited back.
		for _, losing := range ranked[1:] {
			if err := tx.CreditBalance(ctx, losing.UserID, losing.Amount); err != nil {
				return err
			}
			outbound = append(outbound, e.bidderNotification(losing, domain.NotifyAuctionLost))
		}

		if err := tx.UpdateAuctionStatus(ctx, auctionID, domain.AuctionSold); err != nil {
			return err
		}

		outbound = append(outbound, e.bidderNotification(winner, domain.NotifyAuctionWon))
		outbound = append(outbound, e.sellerNotification(auction, domain.NotifyAuctionSold, map[string]string{
			"amount": formatAmount(winner.Amount),
		}))
		return nil
	})
	if err != nil {
		return e.settleOutcome(err, "auction", auctionID)
	}

	e.log.Info("Auction settled", "auction_id", auctionID)
	e.fanOut(ctx, outbound)
	return nil
}

// CancelAuction handles an explicit cancellation: every bid is refunded
// and no delivery is created.
func (e *SettlementEngine) CancelAuction(ctx context.Context, auctionID string) error {
	var outbound []*domain.Notification

	err := e.repo.InTransaction(ctx, func(tx domain.SettlementTx) error {
		auction, err := tx.GetAuctionForUpdate(ctx, auctionID)
		if err != nil {
			return err
		}
		if !auction.Status.Settleable() {
			return fmt.Errorf("%w: auction %s is %s", domain.ErrAlreadySettled, auctionID, auction.Status)
		}

		for _, bid := range auction.Bids {
			if err := tx.CreditBalance(ctx, bid.UserID, bid.Amount); err != nil {
				return err
			}
			outbound = append(outbound, e.bidderNotification(bid, domain.NotifyAuctionCancelled))
		}

		return tx.UpdateAuctionStatus(ctx, auctionID, domain.AuctionCancelled)
	})
	if err != nil {
		return e.settleOutcome(err, "auction", auctionID)
	}

	e.log.Info("Auction cancelled", "auction_id", auctionID)
	e.fanOut(ctx, outbound)
	return nil
}

// StartLottery transitions created -> started; any other status is a
// no-op.
func (e *SettlementEngine) StartLottery(ctx context.Context, lotteryID string) error {
	err := e.repo.InTransaction(ctx, func(tx domain.SettlementTx) error {
		lottery, err := tx.GetLotteryForUpdate(ctx, lotteryID)
		if err != nil {
			return err
		}
		if lottery.Status != domain.LotteryCreated {
			return fmt.Errorf("%w: lottery %s is %s", domain.ErrAlreadySettled, lotteryID, lottery.Status)
		}
		return tx.UpdateLotteryStatus(ctx, lotteryID, domain.LotteryStarted)
	})
	if err != nil {
		return e.settleOutcome(err, "lottery", lotteryID)
	}

	e.log.Info("Lottery started", "lottery_id", lotteryID)
	return nil
}

// EndLottery runs one independent weighted draw per item over the same
// bid partition and creates one delivery per item. Ticket purchases are
// a consumed wager: losing bids are not refunded.
func (e *SettlementEngine) EndLottery(ctx context.Context, lotteryID string) error {
	var outbound []*domain.Notification

	err := e.repo.InTransaction(ctx, func(tx domain.SettlementTx) error {
		lottery, err := tx.GetLotteryForUpdate(ctx, lotteryID)
		if err != nil {
			return err
		}
		if !lottery.Status.Settleable() {
			return fmt.Errorf("%w: lottery %s is %s", domain.ErrAlreadySettled, lotteryID, lottery.Status)
		}

		if len(lottery.Bids) == 0 {
			return tx.UpdateLotteryStatus(ctx, lotteryID, domain.LotteryCancelled)
		}

		for _, item := range lottery.Items {
			winner, err := e.draw.Pick(lottery.Bids)
			if err != nil {
				// Documented defect path: the item is skipped, the
				// rest of the draw proceeds.
				e.log.Error("Draw failed for item", "lottery_id", lotteryID,
					"item_id", item.ID, "error", err)
				continue
			}

			delivery := &domain.Delivery{
				ID:          utils.GenerateID("delivery"),
				SenderID:    lottery.SellerID,
				ReceiverID:  winner.UserID,
				ItemID:      item.ID,
				OrderStatus: domain.DeliveryProcessing,
				OrderDate:   e.clock.Now(),
			}
			if err := tx.CreateDelivery(ctx, delivery); err != nil {
				return err
			}

			outbound = append(outbound, &domain.Notification{
				ID:        utils.GenerateID("notification"),
				UserID:    winner.UserID,
				UserEmail: winner.UserEmail,
				Kind:      domain.NotifyLotteryWon,
				Fields: map[string]string{
					"lottery_id": lotteryID,
					"item_id":    item.ID,
					"item_name":  item.Name,
				},
				CreatedAt: e.clock.Now(),
			})
		}

		if err := tx.UpdateLotteryStatus(ctx, lotteryID, domain.LotteryFinished); err != nil {
			return err
		}

		outbound = append(outbound, &domain.Notification{
			ID:        utils.GenerateID("notification"),
			UserID:    lottery.SellerID,
			UserEmail: lottery.SellerEmail,
			Kind:      domain.NotifyLotteryFinished,
			Fields:    map[string]string{"lottery_id": lotteryID},
			CreatedAt: e.clock.Now(),
		})
		return nil
	})
	if err != nil {
		return e.settleOutcome(err, "lottery", lotteryID)
	}

	e.log.Info("Lottery settled", "lottery_id", lotteryID)
	e.fanOut(ctx, outbound)
	return nil
}

// CancelLottery handles an explicit cancellation before the draw.
func (e *SettlementEngine) CancelLottery(ctx context.Context, lotteryID string) error {
	var outbound []*domain.Notification

	err := e.repo.InTransaction(ctx, func(tx domain.SettlementTx) error {
		lottery, err := tx.GetLotteryForUpdate(ctx, lotteryID)
		if err != nil {
			return err
		}
		if !lottery.Status.Settleable() {
			return fmt.Errorf("%w: lottery %s is %s", domain.ErrAlreadySettled, lotteryID, lottery.Status)
		}

		outbound = append(outbound, &domain.Notification{
			ID:        utils.GenerateID("notification"),
			UserID:    lottery.SellerID,
			UserEmail: lottery.SellerEmail,
			Kind:      domain.NotifyLotteryCancelled,
			Fields:    map[string]string{"lottery_id": lotteryID},
			CreatedAt: e.clock.Now(),
		})
		return tx.UpdateLotteryStatus(ctx, lotteryID, domain.LotteryCancelled)
	})
	if err != nil {
		return e.settleOutcome(err, "lottery", lotteryID)
	}

	e.log.Info("Lottery cancelled", "lottery_id", lotteryID)
	e.fanOut(ctx, outbound)
	return nil
}

// settleOutcome classifies transaction errors at the settlement
// boundary. NotFound and AlreadySettled are expected outcomes of the
// idempotency guard and are swallowed after logging; anything else is a
// transaction failure left for the sweep to retry.
func (e *SettlementEngine) settleOutcome(err error, kind, entityID string) error {
	switch {
	case isNotFound(err):
		e.log.Warn("Entity vanished before settlement", "kind", kind, "entity_id", entityID)
		return nil
	case isAlreadySettled(err):
		e.log.Info("Settlement skipped, status guard hit", "kind", kind,
			"entity_id", entityID, "reason", err.Error())
		return nil
	default:
		e.log.Error("Settlement transaction failed", "kind", kind,
			"entity_id", entityID, "error", err)
		return err
	}
}

// fanOut enqueues outcome notifications after the transaction has
// committed. Each failure is isolated: one bad recipient never blocks
// the others, and none of them can roll back the settlement.
func (e *SettlementEngine) fanOut(ctx context.Context, notifications []*domain.Notification) {
	for _, n := range notifications {
		if err := e.notifier.Notify(ctx, n); err != nil {
			e.log.Error("Failed to enqueue notification", "user_id", n.UserID,
				"kind", n.Kind, "error", err)
		}
	}
}

func (e *SettlementEngine) sellerNotification(auction *domain.Auction, kind domain.NotificationKind, fields map[string]string) *domain.Notification {
	if fields == nil {
		fields = map[string]string{}
	}
	fields["auction_id"] = auction.ID
	return &domain.Notification{
		ID:        utils.GenerateID("notification"),
		UserID:    auction.SellerID,
		UserEmail: auction.SellerEmail,
		Kind:      kind,
		Fields:    fields,
		CreatedAt: e.clock.Now(),
	}
}

func (e *SettlementEngine) bidderNotification(bid domain.AuctionBid, kind domain.NotificationKind) *domain.Notification {
	return &domain.Notification{
		ID:        utils.GenerateID("notification"),
		UserID:    bid.UserID,
		UserEmail: bid.UserEmail,
		Kind:      kind,
		Fields: map[string]string{
			"auction_id": bid.AuctionID,
			"amount":     formatAmount(bid.Amount),
		},
		CreatedAt: e.clock.Now(),
	}
}

func formatAmount(amount float64) string {
	return strconv.FormatFloat(amount, 'f', 2, 64)
}

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}

func isAlreadySettled(err error) bool {
	return errors.Is(err, domain.ErrAlreadySettled)
}
