package services

import (
	"sync"

	"marketplace/internal/domain"
)

// RandSource yields a uniform value in [0, n). math/rand's *rand.Rand
// satisfies it; tests inject fixed rolls.
type RandSource interface {
	Int63n(n int64) int64
}

// WeightedDraw picks lottery winners with probability proportional to
// ticket count. Intervals are integer cumulative ticket counts rather
// than floating-point fractions, so boundary comparisons are exact:
// a bid owns the half-open range [cumulative, cumulative+tickets).
type WeightedDraw struct {
	mutex sync.Mutex
	rng   RandSource
}

func NewWeightedDraw(rng RandSource) *WeightedDraw {
	return &WeightedDraw{rng: rng}
}

// Pick draws one winning bid from bids in arrival order. Bids with
// non-positive ticket counts get an empty interval and can never win.
func (d *WeightedDraw) Pick(bids []domain.LotteryBid) (*domain.LotteryBid, error) {
	var total int64
	for _, bid := range bids {
		if bid.TicketCount > 0 {
			total += int64(bid.TicketCount)
		}
	}
	if total <= 0 {
		return nil, domain.ErrEmptyDraw
	}

	d.mutex.Lock()
	roll := d.rng.Int63n(total)
	d.mutex.Unlock()

	var cumulative int64
	for i := range bids {
		if bids[i].TicketCount <= 0 {
			continue
		}
		cumulative += int64(bids[i].TicketCount)
		if roll < cumulative {
			return &bids[i], nil
		}
	}

	// Unreachable while roll < total, kept as a guard against a
	// misbehaving RandSource.
	return nil, domain.ErrEmptyDraw
}
