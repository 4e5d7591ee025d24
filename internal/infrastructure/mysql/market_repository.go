package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"marketplace/internal/domain"
)

// querier is the overlap of *sql.DB and *sql.Tx used by the read
// helpers, so entity loading is shared between plain reads and
// row-locked transactional reads.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type MySQLMarketRepository struct {
	db *sql.DB
}

func NewMySQLMarketRepository(db *sql.DB) *MySQLMarketRepository {
	return &MySQLMarketRepository{db: db}
}

func (r *MySQLMarketRepository) CreateAuction(ctx context.Context, auction *domain.Auction) error {
	query := `
        INSERT INTO auctions (id, seller_id, seller_email, item_id, minimum_bid,
            minimum_increment, start_time, end_time, status, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `
	_, err := r.db.ExecContext(ctx, query,
		auction.ID, auction.SellerID, auction.SellerEmail, auction.ItemID,
		auction.MinimumBid, auction.MinimumIncrement, auction.StartTime,
		auction.EndTime, int(auction.Status), auction.CreatedAt, auction.UpdatedAt)
	return err
}

func (r *MySQLMarketRepository) CreateLottery(ctx context.Context, lottery *domain.Lottery) error {
	query := `
        INSERT INTO lotteries (id, seller_id, seller_email, name, ticket_price,
            total_tickets, start_time, end_time, status, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `
	_, err := r.db.ExecContext(ctx, query,
		lottery.ID, lottery.SellerID, lottery.SellerEmail, lottery.Name,
		lottery.TicketPrice, lottery.TotalTickets, lottery.StartTime,
		lottery.EndTime, int(lottery.Status), lottery.CreatedAt, lottery.UpdatedAt)
	if err != nil {
		return err
	}

	for _, item := range lottery.Items {
		_, err := r.db.ExecContext(ctx,
			`INSERT INTO lottery_items (id, lottery_id, name) VALUES (?, ?, ?)`,
			item.ID, lottery.ID, item.Name)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *MySQLMarketRepository) GetAuction(ctx context.Context, auctionID string) (*domain.Auction, error) {
	return loadAuction(ctx, r.db, auctionID, false)
}

func (r *MySQLMarketRepository) GetLottery(ctx context.Context, lotteryID string) (*domain.Lottery, error) {
	return loadLottery(ctx, r.db, lotteryID, false)
}

func (r *MySQLMarketRepository) GetActiveAuctions(ctx context.Context, now time.Time) ([]*domain.Auction, error) {
	query := auctionColumns + `
        FROM auctions
        WHERE status IN (?, ?) AND end_time > ?
    `
	rows, err := r.db.QueryContext(ctx, query,
		int(domain.AuctionCreated), int(domain.AuctionStarted), now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var auctions []*domain.Auction
	for rows.Next() {
		auction, err := scanAuction(rows)
		if err != nil {
			return nil, err
		}
		auctions = append(auctions, auction)
	}
	return auctions, rows.Err()
}

func (r *MySQLMarketRepository) GetActiveLotteries(ctx context.Context, now time.Time) ([]*domain.Lottery, error) {
	query := lotteryColumns + `
        FROM lotteries
        WHERE status IN (?, ?, ?) AND end_time > ?
    `
	rows, err := r.db.QueryContext(ctx, query,
		int(domain.LotteryCreated), int(domain.LotteryStarted), int(domain.LotterySoldOut), now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lotteries []*domain.Lottery
	for rows.Next() {
		lottery, err := scanLottery(rows)
		if err != nil {
			return nil, err
		}
		lotteries = append(lotteries, lottery)
	}
	return lotteries, rows.Err()
}

// InTransaction commits atomically or rolls back entirely; the
// settlement guarantees depend on no partial commit surviving.
func (r *MySQLMarketRepository) InTransaction(ctx context.Context, fn func(tx domain.SettlementTx) error) error {
	sqlTx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}

	if err := fn(&settlementTx{tx: sqlTx}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original: %w)", rbErr, err)
		}
		return err
	}
	return sqlTx.Commit()
}

type settlementTx struct {
	tx *sql.Tx
}

func (t *settlementTx) GetAuctionForUpdate(ctx context.Context, auctionID string) (*domain.Auction, error) {
	return loadAuction(ctx, t.tx, auctionID, true)
}

func (t *settlementTx) GetLotteryForUpdate(ctx context.Context, lotteryID string) (*domain.Lottery, error) {
	return loadLottery(ctx, t.tx, lotteryID, true)
}

func (t *settlementTx) UpdateAuctionStatus(ctx context.Context, auctionID string, status domain.AuctionStatus) error {
	query := `UPDATE auctions SET status = ?, updated_at = ? WHERE id = ?`
	_, err := t.tx.ExecContext(ctx, query, int(status), time.Now(), auctionID)
	return err
}

func (t *settlementTx) UpdateLotteryStatus(ctx context.Context, lotteryID string, status domain.LotteryStatus) error {
	query := `UPDATE lotteries SET status = ?, updated_at = ? WHERE id = ?`
	_, err := t.tx.ExecContext(ctx, query, int(status), time.Now(), lotteryID)
	return err
}

func (t *settlementTx) CreateDelivery(ctx context.Context, delivery *domain.Delivery) error {
	query := `
        INSERT INTO deliveries (id, sender_id, receiver_id, item_id, order_status, order_date)
        VALUES (?, ?, ?, ?, ?, ?)
    `
	_, err := t.tx.ExecContext(ctx, query,
		delivery.ID, delivery.SenderID, delivery.ReceiverID,
		delivery.ItemID, delivery.OrderStatus, delivery.OrderDate)
	return err
}

func (t *settlementTx) CreditBalance(ctx context.Context, userID string, amount float64) error {
	query := `UPDATE users SET balance = balance + ? WHERE id = ?`
	_, err := t.tx.ExecContext(ctx, query, amount, userID)
	return err
}

const auctionColumns = `
        SELECT id, seller_id, seller_email, item_id, minimum_bid,
            minimum_increment, start_time, end_time, status, created_at, updated_at`

const lotteryColumns = `
        SELECT id, seller_id, seller_email, name, ticket_price,
            total_tickets, start_time, end_time, status, created_at, updated_at`

func loadAuction(ctx context.Context, q querier, auctionID string, forUpdate bool) (*domain.Auction, error) {
	query := auctionColumns + ` FROM auctions WHERE id = ?`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	auction, err := scanAuction(q.QueryRowContext(ctx, query, auctionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: auction %s", domain.ErrNotFound, auctionID)
		}
		return nil, err
	}

	bidsQuery := `
        SELECT id, auction_id, user_id, user_email, amount, created_at
        FROM auction_bids
        WHERE auction_id = ?
        ORDER BY created_at ASC, id ASC
    `
	rows, err := q.QueryContext(ctx, bidsQuery, auctionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var bid domain.AuctionBid
		if err := rows.Scan(&bid.ID, &bid.AuctionID, &bid.UserID,
			&bid.UserEmail, &bid.Amount, &bid.CreatedAt); err != nil {
			return nil, err
		}
		auction.Bids = append(auction.Bids, bid)
	}
	return auction, rows.Err()
}

func loadLottery(ctx context.Context, q querier, lotteryID string, forUpdate bool) (*domain.Lottery, error) {
	query := lotteryColumns + ` FROM lotteries WHERE id = ?`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	lottery, err := scanLottery(q.QueryRowContext(ctx, query, lotteryID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: lottery %s", domain.ErrNotFound, lotteryID)
		}
		return nil, err
	}

	itemRows, err := q.QueryContext(ctx,
		`SELECT id, lottery_id, name FROM lottery_items WHERE lottery_id = ? ORDER BY id ASC`,
		lotteryID)
	if err != nil {
		return nil, err
	}
	defer itemRows.Close()

	for itemRows.Next() {
		var item domain.LotteryItem
		if err := itemRows.Scan(&item.ID, &item.LotteryID, &item.Name); err != nil {
			return nil, err
		}
		lottery.Items = append(lottery.Items, item)
	}
	if err := itemRows.Err(); err != nil {
		return nil, err
	}

	bidRows, err := q.QueryContext(ctx, `
        SELECT id, lottery_id, user_id, user_email, ticket_count, created_at
        FROM lottery_bids
        WHERE lottery_id = ?
        ORDER BY created_at ASC, id ASC
    `, lotteryID)
	if err != nil {
		return nil, err
	}
	defer bidRows.Close()

	for bidRows.Next() {
		var bid domain.LotteryBid
		if err := bidRows.Scan(&bid.ID, &bid.LotteryID, &bid.UserID,
			&bid.UserEmail, &bid.TicketCount, &bid.CreatedAt); err != nil {
			return nil, err
		}
		lottery.Bids = append(lottery.Bids, bid)
	}
	return lottery, bidRows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAuction(row rowScanner) (*domain.Auction, error) {
	var auction domain.Auction
	var status int

	err := row.Scan(&auction.ID, &auction.SellerID, &auction.SellerEmail,
		&auction.ItemID, &auction.MinimumBid, &auction.MinimumIncrement,
		&auction.StartTime, &auction.EndTime, &status,
		&auction.CreatedAt, &auction.UpdatedAt)
	if err != nil {
		return nil, err
	}

	auction.Status = domain.AuctionStatus(status)
	return &auction, nil
}

func scanLottery(row rowScanner) (*domain.Lottery, error) {
	var lottery domain.Lottery
	var status int

	err := row.Scan(&lottery.ID, &lottery.SellerID, &lottery.SellerEmail,
		&lottery.Name, &lottery.TicketPrice, &lottery.TotalTickets,
		&lottery.StartTime, &lottery.EndTime, &status,
		&lottery.CreatedAt, &lottery.UpdatedAt)
	if err != nil {
		return nil, err
	}

	lottery.Status = domain.LotteryStatus(status)
	return &lottery, nil
}
