package storage

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/example/campus-rides/internal/models"
)

type requestRow struct {
	r   models.RideRequest
	seq int64
}

type offerRow struct {
	o   models.Offer
	seq int64
}

type completedRow struct {
	c   models.CompletedRide
	seq int64
}

type pendingRow struct {
	riderID string
	at      time.Time
	seq     int64
}

// MemoryStore keeps everything in process. A unit of work stages its writes
// and applies them under a single short write lock on commit; reads inside
// the unit see their own staged writes on top of committed state.
type MemoryStore struct {
	seq atomic.Int64

	mu        sync.RWMutex
	requests  map[string]requestRow
	offers    map[string]offerRow
	completed map[string]completedRow
	pending   map[string]pendingRow
	ratings   map[string]models.RatingAggregate
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		requests:  make(map[string]requestRow),
		offers:    make(map[string]offerRow),
		completed: make(map[string]completedRow),
		pending:   make(map[string]pendingRow),
		ratings:   make(map[string]models.RatingAggregate),
	}
}

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &memTx{
		s:          m,
		requests:   make(map[string]requestRow),
		offers:     make(map[string]offerRow),
		completed:  make(map[string]completedRow),
		pendingAdd: make(map[string]pendingRow),
		pendingDel: make(map[string]bool),
		ratings:    make(map[string]models.RatingAggregate),
	}
	if err := fn(tx); err != nil {
		return err
	}
	return m.commit(tx)
}

func (m *MemoryStore) commit(tx *memTx) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, row := range tx.requests {
		if !row.r.Status.Active() {
			continue
		}
		for otherID, other := range m.requests {
			if otherID == id || other.r.RiderID != row.r.RiderID {
				continue
			}
			if staged, ok := tx.requests[otherID]; ok {
				other = staged
			}
			if other.r.Status.Active() {
				return ErrConflict
			}
		}
	}
	for id, row := range tx.offers {
		if row.o.Status != models.OfferPending {
			continue
		}
		for otherID, other := range m.offers {
			if otherID == id || other.o.RideRequestID != row.o.RideRequestID || other.o.DriverID != row.o.DriverID {
				continue
			}
			if staged, ok := tx.offers[otherID]; ok {
				other = staged
			}
			if other.o.Status == models.OfferPending {
				return ErrConflict
			}
		}
	}

	for id, row := range tx.requests {
		m.requests[id] = row
	}
	for id, row := range tx.offers {
		m.offers[id] = row
	}
	for id, row := range tx.completed {
		m.completed[id] = row
	}
	for id := range tx.pendingDel {
		delete(m.pending, id)
	}
	for id, row := range tx.pendingAdd {
		m.pending[id] = row
	}
	// Rating writes are deltas, so concurrent units rating the same user
	// both land.
	for id, d := range tx.ratings {
		agg := m.ratings[id]
		agg.UserID = id
		agg.Count += d.Count
		agg.Sum += d.Sum
		m.ratings[id] = agg
	}
	return nil
}

type memTx struct {
	s *MemoryStore

	requests   map[string]requestRow
	offers     map[string]offerRow
	completed  map[string]completedRow
	pendingAdd map[string]pendingRow
	pendingDel map[string]bool
	ratings    map[string]models.RatingAggregate // staged deltas
}

func (t *memTx) request(id string) (requestRow, bool) {
	if row, ok := t.requests[id]; ok {
		return row, true
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	row, ok := t.s.requests[id]
	return row, ok
}

func (t *memTx) allRequests() []requestRow {
	t.s.mu.RLock()
	merged := make(map[string]requestRow, len(t.s.requests)+len(t.requests))
	for id, row := range t.s.requests {
		merged[id] = row
	}
	t.s.mu.RUnlock()
	for id, row := range t.requests {
		merged[id] = row
	}
	out := make([]requestRow, 0, len(merged))
	for _, row := range merged {
		out = append(out, row)
	}
	// newest first
	sort.Slice(out, func(i, j int) bool { return out[i].seq > out[j].seq })
	return out
}

func (t *memTx) GetRequest(ctx context.Context, id string) (models.RideRequest, error) {
	row, ok := t.request(id)
	if !ok {
		return models.RideRequest{}, models.ErrNotFound
	}
	return row.r, nil
}

// LockRequest is a plain read here; callers serialize on the request id in process.
func (t *memTx) LockRequest(ctx context.Context, id string) (models.RideRequest, error) {
	return t.GetRequest(ctx, id)
}

func (t *memTx) ActiveRequestForRider(ctx context.Context, riderID string) (models.RideRequest, error) {
	for _, row := range t.allRequests() {
		if row.r.RiderID == riderID && row.r.Status.Active() {
			return row.r, nil
		}
	}
	return models.RideRequest{}, models.ErrNotFound
}

func (t *memTx) ActiveRequestForDriver(ctx context.Context, driverID string) (models.RideRequest, error) {
	for _, row := range t.allRequests() {
		if row.r.DriverID != driverID {
			continue
		}
		if row.r.Status == models.StatusAccepted || row.r.Status == models.StatusInProgress {
			return row.r, nil
		}
	}
	return models.RideRequest{}, models.ErrNotFound
}

func (t *memTx) ListRequests(ctx context.Context, f RequestFilter) ([]models.RideRequest, error) {
	var out []models.RideRequest
	for _, row := range t.allRequests() {
		if f.RiderID != "" && row.r.RiderID != f.RiderID {
			continue
		}
		if !hasStatus(row.r.Status, f.Statuses) {
			continue
		}
		out = append(out, row.r)
	}
	return out, nil
}

func (t *memTx) InsertRequest(ctx context.Context, r models.RideRequest) error {
	if _, ok := t.request(r.ID); ok {
		return ErrConflict
	}
	t.requests[r.ID] = requestRow{r: r, seq: t.s.seq.Add(1)}
	return nil
}

func (t *memTx) UpdateRequest(ctx context.Context, r models.RideRequest) error {
	row, ok := t.request(r.ID)
	if !ok {
		return models.ErrNotFound
	}
	row.r = r
	t.requests[r.ID] = row
	return nil
}

func (t *memTx) offer(id string) (offerRow, bool) {
	if row, ok := t.offers[id]; ok {
		return row, true
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	row, ok := t.s.offers[id]
	return row, ok
}

func (t *memTx) offersFor(requestID string) []offerRow {
	merged := make(map[string]offerRow)
	t.s.mu.RLock()
	for id, row := range t.s.offers {
		if row.o.RideRequestID == requestID {
			merged[id] = row
		}
	}
	t.s.mu.RUnlock()
	for id, row := range t.offers {
		if row.o.RideRequestID == requestID {
			merged[id] = row
		}
	}
	out := make([]offerRow, 0, len(merged))
	for _, row := range merged {
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

func (t *memTx) GetOffer(ctx context.Context, id string) (models.Offer, error) {
	row, ok := t.offer(id)
	if !ok {
		return models.Offer{}, models.ErrNotFound
	}
	return row.o, nil
}

func (t *memTx) PendingOffer(ctx context.Context, requestID, driverID string) (models.Offer, error) {
	for _, row := range t.offersFor(requestID) {
		if row.o.DriverID == driverID && row.o.Status == models.OfferPending {
			return row.o, nil
		}
	}
	return models.Offer{}, models.ErrNotFound
}

func (t *memTx) ListOffers(ctx context.Context, requestID string) ([]models.Offer, error) {
	rows := t.offersFor(requestID)
	out := make([]models.Offer, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.o)
	}
	return out, nil
}

func (t *memTx) InsertOffer(ctx context.Context, o models.Offer) error {
	if _, ok := t.offer(o.ID); ok {
		return ErrConflict
	}
	t.offers[o.ID] = offerRow{o: o, seq: t.s.seq.Add(1)}
	return nil
}

func (t *memTx) UpdateOffer(ctx context.Context, o models.Offer) error {
	row, ok := t.offer(o.ID)
	if !ok {
		return models.ErrNotFound
	}
	row.o = o
	t.offers[o.ID] = row
	return nil
}

func (t *memTx) completedRide(id string) (completedRow, bool) {
	if row, ok := t.completed[id]; ok {
		return row, true
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	row, ok := t.s.completed[id]
	return row, ok
}

func (t *memTx) InsertCompletedRide(ctx context.Context, c models.CompletedRide) error {
	if _, ok := t.completedRide(c.ID); ok {
		return ErrConflict
	}
	t.s.mu.RLock()
	for _, row := range t.s.completed {
		if row.c.RideRequestID == c.RideRequestID {
			t.s.mu.RUnlock()
			return ErrConflict
		}
	}
	t.s.mu.RUnlock()
	t.completed[c.ID] = completedRow{c: c, seq: t.s.seq.Add(1)}
	return nil
}

func (t *memTx) GetCompletedRide(ctx context.Context, id string) (models.CompletedRide, error) {
	row, ok := t.completedRide(id)
	if !ok {
		return models.CompletedRide{}, models.ErrNotFound
	}
	return row.c, nil
}

func (t *memTx) LockCompletedRide(ctx context.Context, id string) (models.CompletedRide, error) {
	return t.GetCompletedRide(ctx, id)
}

func (t *memTx) UpdateCompletedRide(ctx context.Context, c models.CompletedRide) error {
	row, ok := t.completedRide(c.ID)
	if !ok {
		return models.ErrNotFound
	}
	row.c = c
	t.completed[c.ID] = row
	return nil
}

func (t *memTx) allCompleted() []completedRow {
	merged := make(map[string]completedRow)
	t.s.mu.RLock()
	for id, row := range t.s.completed {
		merged[id] = row
	}
	t.s.mu.RUnlock()
	for id, row := range t.completed {
		merged[id] = row
	}
	out := make([]completedRow, 0, len(merged))
	for _, row := range merged {
		out = append(out, row)
	}
	return out
}

func (t *memTx) ListCompletedRides(ctx context.Context, userID string, role models.Role) ([]models.CompletedRide, error) {
	rows := t.allCompleted()
	sort.Slice(rows, func(i, j int) bool { return rows[i].seq > rows[j].seq })
	var out []models.CompletedRide
	for _, row := range rows {
		switch role {
		case models.RoleRider:
			if row.c.RiderID != userID {
				continue
			}
		case models.RoleDriver:
			if row.c.DriverID != userID {
				continue
			}
		default:
			continue
		}
		out = append(out, row.c)
	}
	return out, nil
}

func (t *memTx) EnqueuePendingRating(ctx context.Context, rideID, riderID string, at time.Time) error {
	delete(t.pendingDel, rideID)
	t.pendingAdd[rideID] = pendingRow{riderID: riderID, at: at, seq: t.s.seq.Add(1)}
	return nil
}

func (t *memTx) DequeuePendingRating(ctx context.Context, rideID string) error {
	delete(t.pendingAdd, rideID)
	t.pendingDel[rideID] = true
	return nil
}

func (t *memTx) ListPendingRatings(ctx context.Context, riderID string) ([]models.CompletedRide, error) {
	queued := make(map[string]pendingRow)
	t.s.mu.RLock()
	for id, row := range t.s.pending {
		queued[id] = row
	}
	t.s.mu.RUnlock()
	for id := range t.pendingDel {
		delete(queued, id)
	}
	for id, row := range t.pendingAdd {
		queued[id] = row
	}

	type item struct {
		c models.CompletedRide
		p pendingRow
	}
	var items []item
	for id, p := range queued {
		if p.riderID != riderID {
			continue
		}
		row, ok := t.completedRide(id)
		if !ok {
			continue
		}
		items = append(items, item{c: row.c, p: p})
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].p.at.Equal(items[j].p.at) {
			return items[i].p.at.Before(items[j].p.at)
		}
		return items[i].p.seq < items[j].p.seq
	})
	out := make([]models.CompletedRide, 0, len(items))
	for _, it := range items {
		out = append(out, it.c)
	}
	return out, nil
}

// GetRatingAggregate returns committed state plus this unit's staged ratings.
func (t *memTx) GetRatingAggregate(ctx context.Context, userID string) (models.RatingAggregate, error) {
	t.s.mu.RLock()
	agg := t.s.ratings[userID]
	t.s.mu.RUnlock()
	d := t.ratings[userID]
	agg.UserID = userID
	agg.Count += d.Count
	agg.Sum += d.Sum
	return agg, nil
}

func (t *memTx) AddRating(ctx context.Context, userID string, rating int) (models.RatingAggregate, error) {
	d := t.ratings[userID]
	d.Count++
	d.Sum += rating
	t.ratings[userID] = d
	return t.GetRatingAggregate(ctx, userID)
}
