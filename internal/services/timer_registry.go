package services

import (
	"sync"
	"time"

	"marketplace/internal/domain"
	"marketplace/pkg/logger"
)

// TimerRegistry owns the pending in-process timers per entity. It is a
// dispatch cache only: durability comes from the scheduled_jobs table
// and rehydration, so losing the registry on crash is recoverable.
type TimerRegistry struct {
	clock  domain.Clock
	log    logger.Logger
	mutex  sync.Mutex
	timers map[string][]*registeredTimer
}

type registeredTimer struct {
	handle domain.TimerHandle
}

func NewTimerRegistry(clock domain.Clock, log logger.Logger) *TimerRegistry {
	return &TimerRegistry{
		clock:  clock,
		log:    log,
		timers: make(map[string][]*registeredTimer),
	}
}

// Schedule arms a timer for entityID at fireAt. Fire times in the past
// fire immediately (AfterFunc semantics). The callback runs on the
// timer goroutine; panics are recovered so a bad callback cannot take
// down the scheduler process.
func (r *TimerRegistry) Schedule(entityID string, fireAt time.Time, fn func()) {
	rt := &registeredTimer{}

	wrapped := func() {
		defer func() {
			if rec := recover(); rec != nil {
				r.log.Error("Timer callback panicked", "entity_id", entityID, "panic", rec)
			}
		}()
		defer r.remove(entityID, rt)
		fn()
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()
	rt.handle = r.clock.AfterFunc(fireAt.Sub(r.clock.Now()), wrapped)
	r.timers[entityID] = append(r.timers[entityID], rt)
}

// CancelAll stops every not-yet-fired timer for entityID. A timer in
// mid-execution is not interrupted; its status guard downstream will
// observe the cancelled entity and no-op.
func (r *TimerRegistry) CancelAll(entityID string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	for _, rt := range r.timers[entityID] {
		rt.handle.Stop()
	}
	delete(r.timers, entityID)
}

// PendingCount reports the number of armed timers for entityID.
func (r *TimerRegistry) PendingCount(entityID string) int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return len(r.timers[entityID])
}

func (r *TimerRegistry) remove(entityID string, rt *registeredTimer) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	remaining := r.timers[entityID][:0]
	for _, existing := range r.timers[entityID] {
		if existing != rt {
			remaining = append(remaining, existing)
		}
	}

	if len(remaining) == 0 {
		delete(r.timers, entityID)
	} else {
		r.timers[entityID] = remaining
	}
}
