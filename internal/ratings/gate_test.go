package ratings

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/campus-rides/internal/logging"
	"github.com/example/campus-rides/internal/models"
	"github.com/example/campus-rides/internal/storage"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.RideEvent
}

func (p *recordingPublisher) Publish(_ context.Context, ev models.RideEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func newGate(t *testing.T) (*Gate, storage.Store, *recordingPublisher) {
	t.Helper()
	store := storage.NewMemoryStore()
	pub := &recordingPublisher{}
	return NewGate(store, pub, logging.Discard()), store, pub
}

func completeRide(t *testing.T, g *Gate, store storage.Store, riderID, driverID string, at time.Time) models.CompletedRide {
	t.Helper()
	ctx := context.Background()
	req := models.RideRequest{
		ID:       uuid.NewString(),
		RiderID:  riderID,
		DriverID: driverID,
		Status:   models.StatusCompleted,
	}
	ride := models.CompletedRide{
		ID:            uuid.NewString(),
		RideRequestID: req.ID,
		RiderID:       riderID,
		DriverID:      driverID,
		FinalPrice:    decimal.RequireFromString("12.50"),
		CompletedAt:   at,
	}
	require.NoError(t, store.InTx(ctx, func(tx storage.Tx) error {
		if err := tx.InsertRequest(ctx, req); err != nil {
			return err
		}
		if err := tx.InsertCompletedRide(ctx, ride); err != nil {
			return err
		}
		return g.Enqueue(ctx, tx, ride)
	}))
	return ride
}

func TestListPendingOldestFirstAndSkipIsNoop(t *testing.T) {
	g, store, _ := newGate(t)
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

	newer := completeRide(t, g, store, "rider-1", "driver-1", base.Add(time.Hour))
	older := completeRide(t, g, store, "rider-1", "driver-2", base)
	completeRide(t, g, store, "rider-2", "driver-1", base)

	pending, err := g.ListPending(ctx, "rider-1")
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, older.ID, pending[0].ID)
	assert.Equal(t, newer.ID, pending[1].ID)

	// a client-side skip makes no call; the next fetch offers the same queue
	again, err := g.ListPending(ctx, "rider-1")
	require.NoError(t, err)
	assert.Equal(t, pending, again)
}

func TestSubmitRatingAtMostOnce(t *testing.T) {
	g, store, pub := newGate(t)
	ctx := context.Background()
	ride := completeRide(t, g, store, "rider-1", "driver-1", time.Now().UTC())

	got, err := g.SubmitRating(ctx, "rider-1", ride.ID, 4, "smooth ride")
	require.NoError(t, err)
	require.NotNil(t, got.DriverRating)
	assert.Equal(t, 4, *got.DriverRating)
	assert.Equal(t, "smooth ride", got.DriverReview)

	_, err = g.SubmitRating(ctx, "rider-1", ride.ID, 1, "changed my mind")
	assert.ErrorIs(t, err, models.ErrAlreadyRated)

	pending, err := g.ListPending(ctx, "rider-1")
	require.NoError(t, err)
	assert.Empty(t, pending)

	agg, err := g.Aggregate(ctx, "driver-1")
	require.NoError(t, err)
	assert.Equal(t, 1, agg.Count)
	assert.InDelta(t, 4.0, agg.Mean(), 0.0001)

	require.Len(t, pub.events, 1)
	assert.Equal(t, models.EventRideRated, pub.events[0].Type)
}

func TestSubmitRatingValidation(t *testing.T) {
	g, store, _ := newGate(t)
	ctx := context.Background()
	ride := completeRide(t, g, store, "rider-1", "driver-1", time.Now().UTC())

	for _, r := range []int{0, 6, -1} {
		_, err := g.SubmitRating(ctx, "rider-1", ride.ID, r, "")
		assert.ErrorIs(t, err, models.ErrInvalidRating, "rating %d", r)
	}

	_, err := g.SubmitRating(ctx, "someone-else", ride.ID, 5, "")
	assert.ErrorIs(t, err, models.ErrForbidden)

	_, err = g.SubmitRating(ctx, "rider-1", "missing", 5, "")
	assert.ErrorIs(t, err, models.ErrNotFound)

	pending, err := g.ListPending(ctx, "rider-1")
	require.NoError(t, err)
	assert.Len(t, pending, 1, "failed attempts leave the ride queued")
}

func TestConcurrentSubmitRatingSucceedsOnce(t *testing.T) {
	g, store, _ := newGate(t)
	ctx := context.Background()
	ride := completeRide(t, g, store, "rider-1", "driver-1", time.Now().UTC())

	var ok, rated atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := g.SubmitRating(ctx, "rider-1", ride.ID, 5, "")
			switch {
			case err == nil:
				ok.Add(1)
			case assert.ErrorIs(t, err, models.ErrAlreadyRated):
				rated.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, int32(15), rated.Load())

	agg, err := g.Aggregate(ctx, "driver-1")
	require.NoError(t, err)
	assert.Equal(t, 1, agg.Count)
}

// slowStore holds every unit of work open after fn returns, so concurrent
// units overlap between staging and commit.
type slowStore struct {
	storage.Store
	pause time.Duration
}

func (s slowStore) InTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	return s.Store.InTx(ctx, func(tx storage.Tx) error {
		if err := fn(tx); err != nil {
			return err
		}
		time.Sleep(s.pause)
		return nil
	})
}

func TestConcurrentRatingsOfOneDriverAllCount(t *testing.T) {
	mem := storage.NewMemoryStore()
	store := slowStore{Store: mem, pause: 10 * time.Millisecond}
	g := NewGate(store, &recordingPublisher{}, logging.Discard())
	ctx := context.Background()

	const n = 12
	rides := make([]models.CompletedRide, n)
	for i := range rides {
		rides[i] = completeRide(t, g, mem, uuid.NewString(), "driver-x", time.Now().UTC())
	}

	var wg sync.WaitGroup
	for i, ride := range rides {
		wg.Add(1)
		go func(rating int, ride models.CompletedRide) {
			defer wg.Done()
			_, err := g.SubmitRating(ctx, ride.RiderID, ride.ID, rating, "")
			assert.NoError(t, err)
		}(i%5+1, ride)
	}
	wg.Wait()

	want := 0
	for i := 0; i < n; i++ {
		want += i%5 + 1
	}
	agg, err := g.Aggregate(ctx, "driver-x")
	require.NoError(t, err)
	assert.Equal(t, n, agg.Count)
	assert.Equal(t, want, agg.Sum)
}

func TestRateRiderFillsSecondSlot(t *testing.T) {
	g, store, _ := newGate(t)
	ctx := context.Background()
	ride := completeRide(t, g, store, "rider-1", "driver-1", time.Now().UTC())

	_, err := g.RateRider(ctx, "rider-1", ride.ID, 5, "")
	assert.ErrorIs(t, err, models.ErrForbidden)

	got, err := g.RateRider(ctx, "driver-1", ride.ID, 3, "late to pickup")
	require.NoError(t, err)
	require.NotNil(t, got.RiderRating)
	assert.Nil(t, got.DriverRating)

	_, err = g.RateRider(ctx, "driver-1", ride.ID, 5, "")
	assert.ErrorIs(t, err, models.ErrAlreadyRated)

	// the rider's own slot and queue are untouched
	pending, err := g.ListPending(ctx, "rider-1")
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	agg, err := g.Aggregate(ctx, "rider-1")
	require.NoError(t, err)
	assert.Equal(t, 1, agg.Count)
	assert.InDelta(t, 3.0, agg.Mean(), 0.0001)
}

func TestAggregateDefaultsForUnratedUser(t *testing.T) {
	g, _, _ := newGate(t)
	agg, err := g.Aggregate(context.Background(), "new-driver")
	require.NoError(t, err)
	assert.Equal(t, models.DefaultRating, agg.Mean())
}
