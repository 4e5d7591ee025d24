package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketplace/internal/domain"
)

func newTestDispatcher(repo *memRepo, notifier *recordingNotifier) (*ReminderDispatcher, *fakeClock) {
	clock := newFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	dispatcher := NewReminderDispatcher(repo, notifier,
		[]time.Duration{60 * time.Minute, 30 * time.Minute, 5 * time.Minute, time.Minute},
		clock, nopLogger{})
	return dispatcher, clock
}

func TestReminderDispatcher_FireTimes(t *testing.T) {
	dispatcher, clock := newTestDispatcher(newMemRepo(), newRecordingNotifier())
	now := clock.Now()

	tests := []struct {
		name    string
		endTime time.Time
		want    []time.Time
	}{
		{
			name:    "all offsets in the future",
			endTime: now.Add(2 * time.Hour),
			want: []time.Time{
				now.Add(time.Hour),
				now.Add(90 * time.Minute),
				now.Add(115 * time.Minute),
				now.Add(119 * time.Minute),
			},
		},
		{
			name:    "past offsets dropped",
			endTime: now.Add(10 * time.Minute),
			want: []time.Time{
				now.Add(5 * time.Minute),
				now.Add(9 * time.Minute),
			},
		},
		{
			name:    "end already past",
			endTime: now.Add(-time.Minute),
			want:    nil,
		},
		{
			name:    "offset exactly now is dropped",
			endTime: now.Add(time.Minute),
			want:    nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, dispatcher.FireTimes(tt.endTime))
		})
	}
}

func TestReminderDispatcher_Fire(t *testing.T) {
	t.Run("notifies_seller_and_distinct_bidders", func(t *testing.T) {
		repo := newMemRepo()
		notifier := newRecordingNotifier()
		dispatcher, clock := newTestDispatcher(repo, notifier)
		t1 := clock.Now().Add(-time.Hour)

		auction := testAuction("auction-1", domain.AuctionStarted,
			auctionBid("b1", "alice", 100, t1),
			auctionBid("b2", "bob", 120, t1.Add(time.Minute)),
			auctionBid("b3", "alice", 150, t1.Add(2*time.Minute)),
		)
		auction.EndTime = clock.Now().Add(5 * time.Minute)
		repo.putAuction(auction)

		require.NoError(t, dispatcher.Fire(context.Background(), "auction-1"))

		closing := notifier.byKind(domain.NotifyAuctionClosing)
		require.Len(t, closing, 3, "seller plus two distinct bidders")

		recipients := make(map[string]bool)
		for _, n := range closing {
			recipients[n.UserID] = true
			assert.Equal(t, "5m0s", n.Fields["remaining"])
			assert.Equal(t, "auction-1", n.Fields["auction_id"])
		}
		assert.True(t, recipients["seller"])
		assert.True(t, recipients["alice"])
		assert.True(t, recipients["bob"])
	})

	t.Run("settled_auction_is_skipped", func(t *testing.T) {
		repo := newMemRepo()
		notifier := newRecordingNotifier()
		dispatcher, clock := newTestDispatcher(repo, notifier)

		auction := testAuction("auction-1", domain.AuctionSold,
			auctionBid("b1", "alice", 100, clock.Now().Add(-time.Hour)))
		repo.putAuction(auction)

		require.NoError(t, dispatcher.Fire(context.Background(), "auction-1"))
		assert.Empty(t, notifier.sent)
	})

	t.Run("missing_auction_is_skipped", func(t *testing.T) {
		notifier := newRecordingNotifier()
		dispatcher, _ := newTestDispatcher(newMemRepo(), notifier)

		require.NoError(t, dispatcher.Fire(context.Background(), "gone"))
		assert.Empty(t, notifier.sent)
	})

	t.Run("enqueue_failure_does_not_block_others", func(t *testing.T) {
		repo := newMemRepo()
		notifier := newRecordingNotifier()
		notifier.failKinds[domain.NotifyAuctionClosing] = true
		dispatcher, clock := newTestDispatcher(repo, notifier)

		auction := testAuction("auction-1", domain.AuctionStarted,
			auctionBid("b1", "alice", 100, clock.Now().Add(-time.Hour)))
		auction.EndTime = clock.Now().Add(5 * time.Minute)
		repo.putAuction(auction)

		require.NoError(t, dispatcher.Fire(context.Background(), "auction-1"))
	})
}