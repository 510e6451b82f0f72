package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/example/campus-rides/internal/models"
)

const (
	pqSerializationFailure = "40001"
	pqDeadlockDetected     = "40P01"
	pqUniqueViolation      = "23505"
)

type PostgresStore struct {
	db          *sql.DB
	maxAttempts int
	retryDelay  time.Duration
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return NewPostgresStoreFromDB(db), nil
}

func NewPostgresStoreFromDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, maxAttempts: 3, retryDelay: 20 * time.Millisecond}
}

func (p *PostgresStore) DB() *sql.DB { return p.db }

func (p *PostgresStore) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *PostgresStore) Close() error { return p.db.Close() }

// InTx runs fn in a transaction, retrying the whole unit on serialization
// failures and deadlocks with exponential backoff.
func (p *PostgresStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	delay := p.retryDelay
	for attempt := 1; ; attempt++ {
		err := p.runTx(ctx, fn)
		if err == nil || !retryable(err) || attempt >= p.maxAttempts {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
}

func (p *PostgresStore) runTx(ctx context.Context, fn func(tx Tx) error) error {
	sqlTx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&pgTx{tx: sqlTx}); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func retryable(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == pqSerializationFailure || pqErr.Code == pqDeadlockDetected
}

func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return models.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
		return fmt.Errorf("%w: %s", ErrConflict, pqErr.Constraint)
	}
	return err
}

type pgTx struct {
	tx *sql.Tx
}

const requestColumns = `id, rider_id, pickup_city, pickup_state, pickup_lat, pickup_lng,
	dropoff_city, dropoff_state, dropoff_lat, dropoff_lng, distance_miles, suggested_price,
	time_type, requested_time, time_range_start, time_range_end, status, accepted_offer_id,
	driver_id, started_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (models.RideRequest, error) {
	var (
		r                               models.RideRequest
		requested, rangeStart, rangeEnd sql.NullTime
		started                         sql.NullTime
		acceptedOffer, driver           sql.NullString
		timeType, status                string
	)
	err := row.Scan(&r.ID, &r.RiderID, &r.Pickup.City, &r.Pickup.State, &r.Pickup.Lat, &r.Pickup.Lng,
		&r.Dropoff.City, &r.Dropoff.State, &r.Dropoff.Lat, &r.Dropoff.Lng, &r.DistanceMiles, &r.SuggestedPrice,
		&timeType, &requested, &rangeStart, &rangeEnd, &status, &acceptedOffer,
		&driver, &started, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return models.RideRequest{}, translate(err)
	}
	r.Time = models.TimeSpec{
		Mode:          models.TimeMode(timeType),
		RequestedTime: fromNullTime(requested),
		RangeStart:    fromNullTime(rangeStart),
		RangeEnd:      fromNullTime(rangeEnd),
	}
	r.Status = models.RequestStatus(status)
	r.AcceptedOfferID = acceptedOffer.String
	r.DriverID = driver.String
	r.StartedAt = fromNullTime(started)
	return r, nil
}

func (t *pgTx) queryRequests(ctx context.Context, query string, args ...any) ([]models.RideRequest, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.RideRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (t *pgTx) GetRequest(ctx context.Context, id string) (models.RideRequest, error) {
	return scanRequest(t.tx.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM ride_requests WHERE id = $1`, id))
}

func (t *pgTx) LockRequest(ctx context.Context, id string) (models.RideRequest, error) {
	return scanRequest(t.tx.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM ride_requests WHERE id = $1 FOR UPDATE`, id))
}

func (t *pgTx) ActiveRequestForRider(ctx context.Context, riderID string) (models.RideRequest, error) {
	return scanRequest(t.tx.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM ride_requests
		WHERE rider_id = $1 AND status = ANY($2) ORDER BY seq DESC LIMIT 1`,
		riderID, pq.Array(statusStrings(models.ActiveStatuses))))
}

func (t *pgTx) ActiveRequestForDriver(ctx context.Context, driverID string) (models.RideRequest, error) {
	return scanRequest(t.tx.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM ride_requests
		WHERE driver_id = $1 AND status IN ('accepted', 'in_progress') ORDER BY seq DESC LIMIT 1`, driverID))
}

func (t *pgTx) ListRequests(ctx context.Context, f RequestFilter) ([]models.RideRequest, error) {
	var (
		where []string
		args  []any
	)
	if f.RiderID != "" {
		args = append(args, f.RiderID)
		where = append(where, fmt.Sprintf("rider_id = $%d", len(args)))
	}
	if len(f.Statuses) > 0 {
		args = append(args, pq.Array(statusStrings(f.Statuses)))
		where = append(where, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	query := `SELECT ` + requestColumns + ` FROM ride_requests`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq DESC"
	return t.queryRequests(ctx, query, args...)
}

func (t *pgTx) InsertRequest(ctx context.Context, r models.RideRequest) error {
	_, err := t.tx.ExecContext(ctx, `INSERT INTO ride_requests (`+requestColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)`,
		r.ID, r.RiderID, r.Pickup.City, r.Pickup.State, r.Pickup.Lat, r.Pickup.Lng,
		r.Dropoff.City, r.Dropoff.State, r.Dropoff.Lat, r.Dropoff.Lng, r.DistanceMiles, r.SuggestedPrice,
		string(r.Time.Mode), nullTime(r.Time.RequestedTime), nullTime(r.Time.RangeStart), nullTime(r.Time.RangeEnd),
		string(r.Status), nullString(r.AcceptedOfferID), nullString(r.DriverID), nullTime(r.StartedAt),
		r.CreatedAt, r.UpdatedAt)
	return translate(err)
}

func (t *pgTx) UpdateRequest(ctx context.Context, r models.RideRequest) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE ride_requests
		SET status = $1, accepted_offer_id = $2, driver_id = $3, started_at = $4, updated_at = $5
		WHERE id = $6`,
		string(r.Status), nullString(r.AcceptedOfferID), nullString(r.DriverID), nullTime(r.StartedAt), r.UpdatedAt, r.ID)
	if err != nil {
		return translate(err)
	}
	return expectOne(res)
}

const offerColumns = `id, ride_request_id, driver_id, price, estimated_arrival_minutes, message, status, created_at, updated_at`

func scanOffer(row rowScanner) (models.Offer, error) {
	var (
		o      models.Offer
		status string
	)
	if err := row.Scan(&o.ID, &o.RideRequestID, &o.DriverID, &o.Price, &o.ETAMinutes, &o.Message, &status, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return models.Offer{}, translate(err)
	}
	o.Status = models.OfferStatus(status)
	return o, nil
}

func (t *pgTx) GetOffer(ctx context.Context, id string) (models.Offer, error) {
	return scanOffer(t.tx.QueryRowContext(ctx, `SELECT `+offerColumns+` FROM ride_offers WHERE id = $1`, id))
}

func (t *pgTx) PendingOffer(ctx context.Context, requestID, driverID string) (models.Offer, error) {
	return scanOffer(t.tx.QueryRowContext(ctx, `SELECT `+offerColumns+` FROM ride_offers
		WHERE ride_request_id = $1 AND driver_id = $2 AND status = 'pending'`, requestID, driverID))
}

func (t *pgTx) ListOffers(ctx context.Context, requestID string) ([]models.Offer, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT `+offerColumns+` FROM ride_offers WHERE ride_request_id = $1 ORDER BY seq`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Offer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (t *pgTx) InsertOffer(ctx context.Context, o models.Offer) error {
	_, err := t.tx.ExecContext(ctx, `INSERT INTO ride_offers (`+offerColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		o.ID, o.RideRequestID, o.DriverID, o.Price, o.ETAMinutes, o.Message, string(o.Status), o.CreatedAt, o.UpdatedAt)
	return translate(err)
}

func (t *pgTx) UpdateOffer(ctx context.Context, o models.Offer) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE ride_offers
		SET price = $1, estimated_arrival_minutes = $2, message = $3, status = $4, updated_at = $5
		WHERE id = $6`,
		o.Price, o.ETAMinutes, o.Message, string(o.Status), o.UpdatedAt, o.ID)
	if err != nil {
		return translate(err)
	}
	return expectOne(res)
}

const completedSelect = `SELECT c.id, c.ride_request_id, c.driver_id, c.rider_id, c.final_price, c.distance_miles,
	r.pickup_city, r.pickup_state, r.pickup_lat, r.pickup_lng,
	r.dropoff_city, r.dropoff_state, r.dropoff_lat, r.dropoff_lng,
	c.started_at, c.completed_at, c.driver_rating, c.driver_review, c.rider_rating, c.rider_review
	FROM completed_rides c JOIN ride_requests r ON r.id = c.ride_request_id`

func scanCompleted(row rowScanner) (models.CompletedRide, error) {
	var (
		c                         models.CompletedRide
		started                   sql.NullTime
		driverRating, riderRating sql.NullInt64
	)
	err := row.Scan(&c.ID, &c.RideRequestID, &c.DriverID, &c.RiderID, &c.FinalPrice, &c.DistanceMiles,
		&c.Pickup.City, &c.Pickup.State, &c.Pickup.Lat, &c.Pickup.Lng,
		&c.Dropoff.City, &c.Dropoff.State, &c.Dropoff.Lat, &c.Dropoff.Lng,
		&started, &c.CompletedAt, &driverRating, &c.DriverReview, &riderRating, &c.RiderReview)
	if err != nil {
		return models.CompletedRide{}, translate(err)
	}
	c.StartedAt = fromNullTime(started)
	c.DriverRating = fromNullInt(driverRating)
	c.RiderRating = fromNullInt(riderRating)
	return c, nil
}

func (t *pgTx) queryCompleted(ctx context.Context, query string, args ...any) ([]models.CompletedRide, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.CompletedRide
	for rows.Next() {
		c, err := scanCompleted(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (t *pgTx) InsertCompletedRide(ctx context.Context, c models.CompletedRide) error {
	_, err := t.tx.ExecContext(ctx, `INSERT INTO completed_rides
		(id, ride_request_id, driver_id, rider_id, final_price, distance_miles, started_at, completed_at,
		 driver_rating, driver_review, rider_rating, rider_review)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		c.ID, c.RideRequestID, c.DriverID, c.RiderID, c.FinalPrice, c.DistanceMiles, nullTime(c.StartedAt), c.CompletedAt,
		nullInt(c.DriverRating), c.DriverReview, nullInt(c.RiderRating), c.RiderReview)
	return translate(err)
}

func (t *pgTx) GetCompletedRide(ctx context.Context, id string) (models.CompletedRide, error) {
	return scanCompleted(t.tx.QueryRowContext(ctx, completedSelect+` WHERE c.id = $1`, id))
}

func (t *pgTx) LockCompletedRide(ctx context.Context, id string) (models.CompletedRide, error) {
	return scanCompleted(t.tx.QueryRowContext(ctx, completedSelect+` WHERE c.id = $1 FOR UPDATE OF c`, id))
}

func (t *pgTx) UpdateCompletedRide(ctx context.Context, c models.CompletedRide) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE completed_rides
		SET driver_rating = $1, driver_review = $2, rider_rating = $3, rider_review = $4
		WHERE id = $5`,
		nullInt(c.DriverRating), c.DriverReview, nullInt(c.RiderRating), c.RiderReview, c.ID)
	if err != nil {
		return translate(err)
	}
	return expectOne(res)
}

func (t *pgTx) ListCompletedRides(ctx context.Context, userID string, role models.Role) ([]models.CompletedRide, error) {
	switch role {
	case models.RoleRider:
		return t.queryCompleted(ctx, completedSelect+` WHERE c.rider_id = $1 ORDER BY c.seq DESC`, userID)
	case models.RoleDriver:
		return t.queryCompleted(ctx, completedSelect+` WHERE c.driver_id = $1 ORDER BY c.seq DESC`, userID)
	}
	return nil, nil
}

func (t *pgTx) EnqueuePendingRating(ctx context.Context, rideID, riderID string, at time.Time) error {
	_, err := t.tx.ExecContext(ctx, `INSERT INTO pending_ratings (completed_ride_id, rider_id, enqueued_at)
		VALUES ($1, $2, $3) ON CONFLICT (completed_ride_id) DO NOTHING`, rideID, riderID, at)
	return translate(err)
}

func (t *pgTx) DequeuePendingRating(ctx context.Context, rideID string) error {
	_, err := t.tx.ExecContext(ctx, `DELETE FROM pending_ratings WHERE completed_ride_id = $1`, rideID)
	return translate(err)
}

func (t *pgTx) ListPendingRatings(ctx context.Context, riderID string) ([]models.CompletedRide, error) {
	return t.queryCompleted(ctx, completedSelect+` JOIN pending_ratings p ON p.completed_ride_id = c.id
		WHERE p.rider_id = $1 ORDER BY p.enqueued_at, p.seq`, riderID)
}

func (t *pgTx) GetRatingAggregate(ctx context.Context, userID string) (models.RatingAggregate, error) {
	agg := models.RatingAggregate{UserID: userID}
	err := t.tx.QueryRowContext(ctx, `SELECT rating_count, rating_sum FROM rating_aggregates WHERE user_id = $1`, userID).
		Scan(&agg.Count, &agg.Sum)
	if errors.Is(err, sql.ErrNoRows) {
		return agg, nil
	}
	return agg, err
}

func (t *pgTx) AddRating(ctx context.Context, userID string, rating int) (models.RatingAggregate, error) {
	agg := models.RatingAggregate{UserID: userID}
	err := t.tx.QueryRowContext(ctx, `INSERT INTO rating_aggregates (user_id, rating_count, rating_sum)
		VALUES ($1, 1, $2)
		ON CONFLICT (user_id) DO UPDATE
		SET rating_count = rating_aggregates.rating_count + 1,
		    rating_sum = rating_aggregates.rating_sum + EXCLUDED.rating_sum
		RETURNING rating_count, rating_sum`, userID, rating).Scan(&agg.Count, &agg.Sum)
	return agg, err
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return models.ErrNotFound
	}
	return nil
}

func statusStrings(in []models.RequestStatus) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func fromNullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func fromNullInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}
