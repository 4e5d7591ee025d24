package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"marketplace/internal/domain"
)

// nopLogger keeps test output quiet.
type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Fatal(string, ...interface{}) {}

// fakeClock is a manually advanced domain.Clock. Advance fires due
// timers synchronously on the caller's goroutine, which keeps the
// scheduling tests deterministic.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	fireAt  time.Time
	fn      func()
	stopped bool
	fired   bool
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, fn func()) domain.TimerHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, fireAt: c.now.Add(d), fn: fn}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.fireAt.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].fireAt.Before(due[j].fireAt) })
	for _, t := range due {
		t.fn()
	}
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

// memRepo is an in-memory domain.MarketRepository whose transactions
// stage mutations and apply them only on commit, mirroring the
// all-or-nothing contract of the real repository.
type memRepo struct {
	mu         sync.Mutex
	auctions   map[string]*domain.Auction
	lotteries  map[string]*domain.Lottery
	deliveries []*domain.Delivery
	balances   map[string]float64
	txErr      error // forced transaction failure
}

func newMemRepo() *memRepo {
	return &memRepo{
		auctions:  make(map[string]*domain.Auction),
		lotteries: make(map[string]*domain.Lottery),
		balances:  make(map[string]float64),
	}
}

func (r *memRepo) putAuction(a *domain.Auction) { r.auctions[a.ID] = a }
func (r *memRepo) putLottery(l *domain.Lottery) { r.lotteries[l.ID] = l }

func (r *memRepo) CreateAuction(ctx context.Context, a *domain.Auction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.auctions[a.ID] = a
	return nil
}

func (r *memRepo) CreateLottery(ctx context.Context, l *domain.Lottery) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lotteries[l.ID] = l
	return nil
}

func (r *memRepo) GetAuction(ctx context.Context, id string) (*domain.Auction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.auctions[id]
	if !ok {
		return nil, fmt.Errorf("%w: auction %s", domain.ErrNotFound, id)
	}
	cp := *a
	return &cp, nil
}

func (r *memRepo) GetLottery(ctx context.Context, id string) (*domain.Lottery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.lotteries[id]
	if !ok {
		return nil, fmt.Errorf("%w: lottery %s", domain.ErrNotFound, id)
	}
	cp := *l
	return &cp, nil
}

func (r *memRepo) GetActiveAuctions(ctx context.Context, now time.Time) ([]*domain.Auction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Auction
	for _, a := range r.auctions {
		if a.Status.Settleable() && a.EndTime.After(now) {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memRepo) GetActiveLotteries(ctx context.Context, now time.Time) ([]*domain.Lottery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Lottery
	for _, l := range r.lotteries {
		if l.Status.Settleable() && l.EndTime.After(now) {
			cp := *l
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memRepo) InTransaction(ctx context.Context, fn func(tx domain.SettlementTx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.txErr != nil {
		return r.txErr
	}

	tx := &memTx{
		repo:          r,
		auctionStatus: make(map[string]domain.AuctionStatus),
		lotteryStatus: make(map[string]domain.LotteryStatus),
		credits:       make(map[string]float64),
	}
	if err := fn(tx); err != nil {
		return err
	}
	tx.apply()
	return nil
}

type memTx struct {
	repo          *memRepo
	auctionStatus map[string]domain.AuctionStatus
	lotteryStatus map[string]domain.LotteryStatus
	deliveries    []*domain.Delivery
	credits       map[string]float64
}

func (t *memTx) GetAuctionForUpdate(ctx context.Context, id string) (*domain.Auction, error) {
	a, ok := t.repo.auctions[id]
	if !ok {
		return nil, fmt.Errorf("%w: auction %s", domain.ErrNotFound, id)
	}
	cp := *a
	return &cp, nil
}

func (t *memTx) GetLotteryForUpdate(ctx context.Context, id string) (*domain.Lottery, error) {
	l, ok := t.repo.lotteries[id]
	if !ok {
		return nil, fmt.Errorf("%w: lottery %s", domain.ErrNotFound, id)
	}
	cp := *l
	return &cp, nil
}

func (t *memTx) UpdateAuctionStatus(ctx context.Context, id string, status domain.AuctionStatus) error {
	t.auctionStatus[id] = status
	return nil
}

func (t *memTx) UpdateLotteryStatus(ctx context.Context, id string, status domain.LotteryStatus) error {
	t.lotteryStatus[id] = status
	return nil
}

func (t *memTx) CreateDelivery(ctx context.Context, d *domain.Delivery) error {
	t.deliveries = append(t.deliveries, d)
	return nil
}

func (t *memTx) CreditBalance(ctx context.Context, userID string, amount float64) error {
	t.credits[userID] += amount
	return nil
}

func (t *memTx) apply() {
	for id, status := range t.auctionStatus {
		t.repo.auctions[id].Status = status
	}
	for id, status := range t.lotteryStatus {
		t.repo.lotteries[id].Status = status
	}
	t.repo.deliveries = append(t.repo.deliveries, t.deliveries...)
	for userID, amount := range t.credits {
		t.repo.balances[userID] += amount
	}
}

// recordingNotifier captures enqueued notifications; kinds listed in
// failKinds return an error to exercise fan-out isolation.
type recordingNotifier struct {
	mu        sync.Mutex
	sent      []*domain.Notification
	failKinds map[domain.NotificationKind]bool
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{failKinds: make(map[domain.NotificationKind]bool)}
}

func (n *recordingNotifier) Notify(ctx context.Context, notification *domain.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failKinds[notification.Kind] {
		return fmt.Errorf("delivery refused for %s", notification.Kind)
	}
	n.sent = append(n.sent, notification)
	return nil
}

func (n *recordingNotifier) byKind(kind domain.NotificationKind) []*domain.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []*domain.Notification
	for _, sent := range n.sent {
		if sent.Kind == kind {
			out = append(out, sent)
		}
	}
	return out
}

// fakeJobs is an in-memory domain.SchedulerRepository.
type fakeJobs struct {
	mu   sync.Mutex
	jobs map[string]*domain.ScheduledJob
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{jobs: make(map[string]*domain.ScheduledJob)}
}

func (f *fakeJobs) CreateJob(ctx context.Context, job *domain.ScheduledJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *job
	f.jobs[job.ID] = &cp
	return nil
}

func (f *fakeJobs) GetPendingJobs(ctx context.Context, before time.Time) ([]*domain.ScheduledJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.ScheduledJob
	for _, job := range f.jobs {
		if job.Status == domain.JobPending && !job.RunAt.After(before) {
			cp := *job
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RunAt.Before(out[j].RunAt) })
	return out, nil
}

func (f *fakeJobs) GetUpcomingJobs(ctx context.Context, after time.Time) ([]*domain.ScheduledJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.ScheduledJob
	for _, job := range f.jobs {
		if job.Status == domain.JobPending && job.RunAt.After(after) {
			cp := *job
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RunAt.Before(out[j].RunAt) })
	return out, nil
}

func (f *fakeJobs) UpdateJobStatus(ctx context.Context, jobID string, status domain.JobStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if job, ok := f.jobs[jobID]; ok {
		job.Status = status
	}
	return nil
}

func (f *fakeJobs) CancelJobsForEntity(ctx context.Context, entityID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, job := range f.jobs {
		if job.EntityID == entityID && job.Status == domain.JobPending {
			job.Status = domain.JobCancelled
		}
	}
	return nil
}

func (f *fakeJobs) byEntity(entityID string) []*domain.ScheduledJob {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.ScheduledJob
	for _, job := range f.jobs {
		if job.EntityID == entityID {
			cp := *job
			out = append(out, &cp)
		}
	}
	return out
}

// alwaysLeader short-circuits leader election in tests.
type alwaysLeader struct{}

func (alwaysLeader) BecomeLeader(context.Context, string) (bool, error) { return true, nil }
func (alwaysLeader) IsLeader(context.Context, string) (bool, error)     { return true, nil }
func (alwaysLeader) ReleaseLeadership(context.Context, string) error    { return nil }

// fixedRoll always returns the same draw roll.
type fixedRoll struct {
	roll int64
}

func (r fixedRoll) Int63n(n int64) int64 {
	if r.roll >= n {
		return n - 1
	}
	return r.roll
}
