package services

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"marketplace/internal/domain"
	"marketplace/pkg/logger"
	"marketplace/pkg/utils"
)

// callbackTimeout bounds the database and queue work done inside a
// single timer or sweep dispatch.
const callbackTimeout = 30 * time.Second

// CronLifecycleScheduler orchestrates every time-based milestone. Each
// milestone is persisted as a scheduled_jobs row and armed as an
// in-memory timer carrying that row's id: the timer gives low-latency
// dispatch and marks its row executed on success, while the cron sweep
// over due pending rows retries anything a timer missed (crash, failed
// dispatch). The two paths can still race on one row; the settlement
// status guards make a duplicate dispatch harmless.
type CronLifecycleScheduler struct {
	cron         *cron.Cron
	jobs         domain.SchedulerRepository
	registry     *TimerRegistry
	engine       *SettlementEngine
	reminders    *ReminderDispatcher
	leader       domain.LeaderElection
	instanceID   string
	pollInterval time.Duration
	clock        domain.Clock
	log          logger.Logger
}

func NewCronLifecycleScheduler(
	jobs domain.SchedulerRepository,
	registry *TimerRegistry,
	engine *SettlementEngine,
	reminders *ReminderDispatcher,
	leader domain.LeaderElection,
	instanceID string,
	pollInterval time.Duration,
	clock domain.Clock,
	log logger.Logger,
) *CronLifecycleScheduler {
	return &CronLifecycleScheduler{
		cron:         cron.New(cron.WithSeconds()),
		jobs:         jobs,
		registry:     registry,
		engine:       engine,
		reminders:    reminders,
		leader:       leader,
		instanceID:   instanceID,
		pollInterval: pollInterval,
		clock:        clock,
		log:          log,
	}
}

func (s *CronLifecycleScheduler) Start(ctx context.Context) error {
	s.log.Info("Starting lifecycle scheduler", "poll_interval", s.pollInterval.String())

	_, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.pollInterval), func() {
		s.sweepPendingJobs(ctx)
	})
	if err != nil {
		return err
	}

	s.cron.Start()
	return nil
}

func (s *CronLifecycleScheduler) Stop() error {
	s.log.Info("Stopping lifecycle scheduler")
	s.cron.Stop()
	return nil
}

// ScheduleAuction persists the end-of-life job plus one job per future
// reminder offset, and arms a timer per row.
func (s *CronLifecycleScheduler) ScheduleAuction(ctx context.Context, auction *domain.Auction) error {
	for _, fireAt := range s.reminders.FireTimes(auction.EndTime) {
		if err := s.scheduleJob(ctx, auction.ID, domain.KindAuction, domain.JobRemind, fireAt); err != nil {
			return err
		}
	}

	if err := s.scheduleJob(ctx, auction.ID, domain.KindAuction, domain.JobEnd, auction.EndTime); err != nil {
		return err
	}

	s.log.Info("Auction scheduled", "auction_id", auction.ID, "end_time", auction.EndTime)
	return nil
}

// ScheduleLottery persists the start and end triggers.
func (s *CronLifecycleScheduler) ScheduleLottery(ctx context.Context, lottery *domain.Lottery) error {
	if err := s.scheduleJob(ctx, lottery.ID, domain.KindLottery, domain.JobStart, lottery.StartTime); err != nil {
		return err
	}

	if err := s.scheduleJob(ctx, lottery.ID, domain.KindLottery, domain.JobEnd, lottery.EndTime); err != nil {
		return err
	}

	s.log.Info("Lottery scheduled", "lottery_id", lottery.ID,
		"start_time", lottery.StartTime, "end_time", lottery.EndTime)
	return nil
}

// CancelSchedule cancels all pending jobs for an entity, durable rows
// and in-memory timers both. A timer mid-execution is not interrupted;
// its status guard will observe the cancelled entity.
func (s *CronLifecycleScheduler) CancelSchedule(ctx context.Context, entityID string) error {
	if err := s.jobs.CancelJobsForEntity(ctx, entityID); err != nil {
		return err
	}
	s.registry.CancelAll(entityID)

	s.log.Info("Schedule cancelled", "entity_id", entityID)
	return nil
}

// Rehydrate re-arms in-memory timers from pending job rows after a
// restart. Only rows due in the future get timers; anything past due is
// left to the sweep, which retries every due pending row. This plus the
// sweep is the whole crash-recovery mechanism.
func (s *CronLifecycleScheduler) Rehydrate(ctx context.Context) error {
	jobs, err := s.jobs.GetUpcomingJobs(ctx, s.clock.Now())
	if err != nil {
		return err
	}
	for _, job := range jobs {
		s.armTimer(job)
	}

	s.log.Info("Rehydrated pending timers", "jobs", len(jobs))
	return nil
}

func (s *CronLifecycleScheduler) scheduleJob(ctx context.Context, entityID string, kind domain.EntityKind, jobType domain.JobType, runAt time.Time) error {
	job := &domain.ScheduledJob{
		ID:         utils.GenerateID("job"),
		EntityID:   entityID,
		EntityKind: kind,
		JobType:    jobType,
		RunAt:      runAt,
		Status:     domain.JobPending,
		CreatedAt:  s.clock.Now(),
	}
	if err := s.jobs.CreateJob(ctx, job); err != nil {
		return err
	}
	s.armTimer(job)
	return nil
}

// armTimer registers an in-memory timer that dispatches the job's
// milestone when it fires and marks the row executed on success. Errors
// stay inside the callback: they are logged and the row remains pending
// for the sweep to retry.
func (s *CronLifecycleScheduler) armTimer(job *domain.ScheduledJob) {
	s.registry.Schedule(job.EntityID, job.RunAt, func() {
		ctx, cancel := context.WithTimeout(context.Background(), callbackTimeout)
		defer cancel()

		isLeader, err := s.leader.IsLeader(ctx, s.instanceID)
		if err != nil {
			s.log.Error("Leader check failed in timer", "job_id", job.ID, "error", err)
			return
		}
		if !isLeader {
			return
		}

		if err := s.dispatch(ctx, job.EntityKind, job.JobType, job.EntityID); err != nil {
			s.log.Error("Timer dispatch failed", "job_id", job.ID, "entity_id", job.EntityID,
				"kind", job.EntityKind, "job_type", job.JobType, "error", err)
			return
		}

		if err := s.jobs.UpdateJobStatus(ctx, job.ID, domain.JobExecuted); err != nil {
			s.log.Error("Failed to mark job executed", "job_id", job.ID, "error", err)
		}
	})
}

// sweepPendingJobs is the durable retry path: every due pending row is
// dispatched and marked executed on success. A row is normally executed
// by its timer first; rows seen here belong to timers lost to a crash
// or whose dispatch failed. Dispatch is idempotent, so re-running a row
// the timer raced is a logged no-op.
func (s *CronLifecycleScheduler) sweepPendingJobs(ctx context.Context) {
	isLeader, err := s.leader.IsLeader(ctx, s.instanceID)
	if err != nil {
		s.log.Error("Leader check failed in sweep", "error", err)
		return
	}
	if !isLeader {
		return
	}

	jobs, err := s.jobs.GetPendingJobs(ctx, s.clock.Now())
	if err != nil {
		s.log.Error("Failed to get pending jobs", "error", err)
		return
	}

	for _, job := range jobs {
		s.log.Info("Processing job", "job_id", job.ID, "entity_id", job.EntityID,
			"kind", job.EntityKind, "job_type", job.JobType)

		if err := s.dispatch(ctx, job.EntityKind, job.JobType, job.EntityID); err != nil {
			// Left pending, retried next sweep.
			s.log.Error("Failed to execute job", "job_id", job.ID, "error", err)
			continue
		}

		if err := s.jobs.UpdateJobStatus(ctx, job.ID, domain.JobExecuted); err != nil {
			s.log.Error("Failed to mark job executed", "job_id", job.ID, "error", err)
		}
	}
}

func (s *CronLifecycleScheduler) dispatch(ctx context.Context, kind domain.EntityKind, jobType domain.JobType, entityID string) error {
	switch {
	case kind == domain.KindAuction && jobType == domain.JobRemind:
		return s.reminders.Fire(ctx, entityID)
	case kind == domain.KindAuction && jobType == domain.JobEnd:
		return s.engine.EndAuction(ctx, entityID)
	case kind == domain.KindLottery && jobType == domain.JobStart:
		return s.engine.StartLottery(ctx, entityID)
	case kind == domain.KindLottery && jobType == domain.JobEnd:
		return s.engine.EndLottery(ctx, entityID)
	default:
		return fmt.Errorf("unknown job: kind=%s type=%s", kind, jobType)
	}
}
