package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	redisClient "github.com/go-redis/redis/v8"
	_ "github.com/go-sql-driver/mysql"
	"github.com/gorilla/mux"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"marketplace/internal/config"
	"marketplace/internal/domain"
	"marketplace/internal/infrastructure/leader"
	"marketplace/internal/infrastructure/mysql"
	"marketplace/internal/infrastructure/redis"
	"marketplace/internal/infrastructure/websocket"
	"marketplace/internal/services"
	"marketplace/pkg/logger"
	"marketplace/pkg/utils"
)

type MarketHandler struct {
	repo      domain.MarketRepository
	scheduler domain.LifecycleScheduler
	engine    *services.SettlementEngine
	log       logger.Logger
}

type CreateAuctionRequest struct {
	SellerID         string    `json:"seller_id"`
	SellerEmail      string    `json:"seller_email"`
	ItemID           string    `json:"item_id"`
	MinimumBid       float64   `json:"minimum_bid"`
	MinimumIncrement float64   `json:"minimum_increment"`
	StartTime        time.Time `json:"start_time"`
	EndTime          time.Time `json:"end_time"`
}

type CreateLotteryRequest struct {
	SellerID     string    `json:"seller_id"`
	SellerEmail  string    `json:"seller_email"`
	Name         string    `json:"name"`
	TicketPrice  float64   `json:"ticket_price"`
	TotalTickets int       `json:"total_tickets"`
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time"`
	Items        []string  `json:"items"`
}

func NewMarketHandler(repo domain.MarketRepository, scheduler domain.LifecycleScheduler,
	engine *services.SettlementEngine, log logger.Logger) *MarketHandler {
	return &MarketHandler{
		repo:      repo,
		scheduler: scheduler,
		engine:    engine,
		log:       log,
	}
}

func (h *MarketHandler) CreateAuction(c echo.Context) error {
	var req CreateAuctionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}

	if req.EndTime.Before(req.StartTime) {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "End time must be after start time"})
	}
	if req.EndTime.Before(time.Now()) {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "End time must be in the future"})
	}
	if req.MinimumBid <= 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Minimum bid must be positive"})
	}

	auction := &domain.Auction{
		ID:               utils.GenerateID("auction"),
		SellerID:         req.SellerID,
		SellerEmail:      req.SellerEmail,
		ItemID:           req.ItemID,
		MinimumBid:       req.MinimumBid,
		MinimumIncrement: req.MinimumIncrement,
		StartTime:        req.StartTime,
		EndTime:          req.EndTime,
		Status:           domain.AuctionCreated,
		CreatedAt:        time.Now(),
		UpdatedAt:        time.Now(),
	}

	if err := h.repo.CreateAuction(c.Request().Context(), auction); err != nil {
		h.log.Error("Failed to create auction", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to create auction"})
	}

	if err := h.scheduler.ScheduleAuction(c.Request().Context(), auction); err != nil {
		h.log.Error("Failed to schedule auction", "auction_id", auction.ID, "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to schedule auction"})
	}

	return c.JSON(http.StatusCreated, map[string]interface{}{
		"auction_id": auction.ID,
		"end_time":   auction.EndTime,
		"status":     auction.Status.String(),
	})
}

func (h *MarketHandler) ListAuctions(c echo.Context) error {
	auctions, err := h.repo.GetActiveAuctions(c.Request().Context(), time.Now())
	if err != nil {
		h.log.Error("Failed to list auctions", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to list auctions"})
	}

	out := make([]map[string]interface{}, 0, len(auctions))
	for _, auction := range auctions {
		out = append(out, map[string]interface{}{
			"auction_id": auction.ID,
			"status":     auction.Status.String(),
			"end_time":   auction.EndTime,
		})
	}
	return c.JSON(http.StatusOK, out)
}

func (h *MarketHandler) GetAuction(c echo.Context) error {
	auction, err := h.repo.GetAuction(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "Auction not found"})
		}
		h.log.Error("Failed to load auction", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to load auction"})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"auction_id": auction.ID,
		"status":     auction.Status.String(),
		"end_time":   auction.EndTime,
		"bid_count":  len(auction.Bids),
	})
}

func (h *MarketHandler) CancelAuction(c echo.Context) error {
	auctionID := c.Param("id")

	if err := h.engine.CancelAuction(c.Request().Context(), auctionID); err != nil {
		h.log.Error("Failed to cancel auction", "auction_id", auctionID, "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to cancel auction"})
	}
	if err := h.scheduler.CancelSchedule(c.Request().Context(), auctionID); err != nil {
		h.log.Error("Failed to cancel schedule", "auction_id", auctionID, "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to cancel schedule"})
	}

	return c.JSON(http.StatusOK, map[string]string{"auction_id": auctionID, "status": "cancelled"})
}

func (h *MarketHandler) CreateLottery(c echo.Context) error {
	var req CreateLotteryRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}

	if req.EndTime.Before(req.StartTime) {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "End time must be after start time"})
	}
	if len(req.Items) == 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "At least one item required"})
	}
	if req.TicketPrice <= 0 || req.TotalTickets <= 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Ticket price and count must be positive"})
	}

	lottery := &domain.Lottery{
		ID:           utils.GenerateID("lottery"),
		SellerID:     req.SellerID,
		SellerEmail:  req.SellerEmail,
		Name:         req.Name,
		TicketPrice:  req.TicketPrice,
		TotalTickets: req.TotalTickets,
		StartTime:    req.StartTime,
		EndTime:      req.EndTime,
		Status:       domain.LotteryCreated,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	for _, name := range req.Items {
		lottery.Items = append(lottery.Items, domain.LotteryItem{
			ID:        utils.GenerateID("item"),
			LotteryID: lottery.ID,
			Name:      name,
		})
	}

	if err := h.repo.CreateLottery(c.Request().Context(), lottery); err != nil {
		h.log.Error("Failed to create lottery", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to create lottery"})
	}

	if err := h.scheduler.ScheduleLottery(c.Request().Context(), lottery); err != nil {
		h.log.Error("Failed to schedule lottery", "lottery_id", lottery.ID, "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to schedule lottery"})
	}

	return c.JSON(http.StatusCreated, map[string]interface{}{
		"lottery_id": lottery.ID,
		"start_time": lottery.StartTime,
		"end_time":   lottery.EndTime,
		"status":     lottery.Status.String(),
	})
}

func (h *MarketHandler) ListLotteries(c echo.Context) error {
	lotteries, err := h.repo.GetActiveLotteries(c.Request().Context(), time.Now())
	if err != nil {
		h.log.Error("Failed to list lotteries", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to list lotteries"})
	}

	out := make([]map[string]interface{}, 0, len(lotteries))
	for _, lottery := range lotteries {
		out = append(out, map[string]interface{}{
			"lottery_id": lottery.ID,
			"status":     lottery.Status.String(),
			"end_time":   lottery.EndTime,
		})
	}
	return c.JSON(http.StatusOK, out)
}

func (h *MarketHandler) GetLottery(c echo.Context) error {
	lottery, err := h.repo.GetLottery(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "Lottery not found"})
		}
		h.log.Error("Failed to load lottery", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to load lottery"})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"lottery_id": lottery.ID,
		"status":     lottery.Status.String(),
		"end_time":   lottery.EndTime,
		"items":      len(lottery.Items),
		"bid_count":  len(lottery.Bids),
	})
}

func (h *MarketHandler) CancelLottery(c echo.Context) error {
	lotteryID := c.Param("id")

	if err := h.engine.CancelLottery(c.Request().Context(), lotteryID); err != nil {
		h.log.Error("Failed to cancel lottery", "lottery_id", lotteryID, "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to cancel lottery"})
	}
	if err := h.scheduler.CancelSchedule(c.Request().Context(), lotteryID); err != nil {
		h.log.Error("Failed to cancel schedule", "lottery_id", lotteryID, "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to cancel schedule"})
	}

	return c.JSON(http.StatusOK, map[string]string{"lottery_id": lotteryID, "status": "cancelled"})
}

func main() {
	log := logger.New()
	log.Info("Starting Marketplace Lifecycle Service")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	// Initialize Redis
	rdb := redisClient.NewClient(&redisClient.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	log.Info("Connected to Redis", "address", cfg.Redis.Address)

	// Initialize MySQL
	db, err := utils.InitializeMySQL(ctx, cfg, log)
	if err != nil {
		log.Error("Failed to connect to MySQL", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Failed to close MySQL connection", "error", err)
		}
	}()

	// Initialize repositories
	marketRepo := mysql.NewMySQLMarketRepository(db)
	schedulerRepo := mysql.NewMySQLSchedulerRepository(db)

	// Initialize notification pipeline
	queue := redis.NewRedisNotificationQueue(rdb)
	notifier := services.NewQueueNotifier(queue)
	connManager := websocket.NewConnectionManager(log)
	wsNotifier := websocket.NewWebSocketNotifier(connManager)
	worker := services.NewNotificationWorker(queue, wsNotifier,
		cfg.Notifications.MaxAttempts, cfg.Notifications.RetryBackoff,
		cfg.Notifications.PopTimeout, log)

	// Initialize leader election
	leaderElection := leader.NewRedisLeaderElection(rdb, cfg.Leader.TTL)

	// Initialize settlement and scheduling
	clock := services.NewSystemClock()
	registry := services.NewTimerRegistry(clock, log)
	draw := services.NewWeightedDraw(rand.New(rand.NewSource(time.Now().UnixNano())))
	engine := services.NewSettlementEngine(marketRepo, notifier, draw, clock, log)
	reminders := services.NewReminderDispatcher(marketRepo, notifier,
		cfg.Scheduler.ReminderOffsets, clock, log)
	scheduler := services.NewCronLifecycleScheduler(schedulerRepo, registry, engine,
		reminders, leaderElection, cfg.Instance.ID,
		cfg.Scheduler.PollInterval, clock, log)

	// Rehydrate pending timers from persisted state before serving
	if err := scheduler.Rehydrate(context.Background()); err != nil {
		log.Error("Failed to rehydrate timers", "error", err)
		os.Exit(1)
	}

	if err := scheduler.Start(context.Background()); err != nil {
		log.Error("Failed to start scheduler", "error", err)
		os.Exit(1)
	}

	// Drain outbound notifications independently of settlement
	workerCtx, stopWorker := context.WithCancel(context.Background())
	go worker.Start(workerCtx)

	// Try to become leader until shutdown
	leaderCtx, stopLeaderLoop := context.WithCancel(context.Background())
	go func() {
		for {
			became, err := leaderElection.BecomeLeader(leaderCtx, cfg.Instance.ID)
			if err != nil && leaderCtx.Err() == nil {
				log.Error("Failed to attempt leadership", "error", err)
			}
			if became {
				log.Info("Became lifecycle leader", "instance_id", cfg.Instance.ID)
			}

			select {
			case <-leaderCtx.Done():
				return
			case <-time.After(10 * time.Second):
			}
		}
	}()

	// WebSocket notification listener
	wsHandler := websocket.NewNotificationHandler(connManager, log)
	wsRouter := mux.NewRouter()
	wsRouter.HandleFunc("/ws/notifications/{userID}", wsHandler.HandleConnection)

	wsServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Notifications.Port),
		Handler: wsRouter,
	}
	go func() {
		log.Info("Starting notification listener", "address", wsServer.Addr)
		if err := wsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Notification listener failed", "error", err)
			os.Exit(1)
		}
	}()

	// Initialize Echo
	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.RequestID())
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	handler := NewMarketHandler(marketRepo, scheduler, engine, log)

	api := e.Group("/api/v1")
	api.POST("/auctions", handler.CreateAuction)
	api.GET("/auctions", handler.ListAuctions)
	api.GET("/auctions/:id", handler.GetAuction)
	api.POST("/auctions/:id/cancel", handler.CancelAuction)
	api.POST("/lotteries", handler.CreateLottery)
	api.GET("/lotteries", handler.ListLotteries)
	api.GET("/lotteries/:id", handler.GetLottery)
	api.POST("/lotteries/:id/cancel", handler.CancelLottery)

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":    "ok",
			"service":   "lifecycle-service",
			"timestamp": time.Now().Format(time.RFC3339),
		})
	})

	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	go func() {
		log.Info("Starting lifecycle service", "address", serverAddr)
		if err := e.Start(serverAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down lifecycle service...")

	ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := scheduler.Stop(); err != nil {
		log.Error("Failed to stop scheduler", "error", err)
	}
	stopWorker()
	worker.Wait()
	stopLeaderLoop()

	if err := leaderElection.ReleaseLeadership(ctx, cfg.Instance.ID); err != nil {
		log.Error("Failed to release leadership", "error", err)
	}
	if err := wsServer.Shutdown(ctx); err != nil {
		log.Error("Notification listener forced to shutdown", "error", err)
	}
	if err := e.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}

	log.Info("Lifecycle service stopped")
}
