package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/campus-rides/internal/logging"
	"github.com/example/campus-rides/internal/models"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestPublishKeysByRequest(t *testing.T) {
	w := &fakeWriter{}
	p := newPublisherWithWriter(w, logging.Discard())

	at := time.Date(2026, 4, 2, 9, 30, 0, 0, time.UTC)
	p.Publish(context.Background(), models.RideEvent{Type: models.EventOfferAccepted, RideRequestID: "req-1", OfferID: "off-9", At: at})

	require.Len(t, w.msgs, 1)
	assert.Equal(t, "req-1", string(w.msgs[0].Key))

	var got models.RideEvent
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &got))
	assert.Equal(t, models.EventOfferAccepted, got.Type)
	assert.Equal(t, "off-9", got.OfferID)
	assert.True(t, at.Equal(got.At))

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestPublishSwallowsWriterErrors(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	p := newPublisherWithWriter(w, logging.Discard())
	assert.NotPanics(t, func() {
		p.Publish(context.Background(), models.RideEvent{Type: models.EventRequestCreated, RideRequestID: "req-1"})
	})
	assert.Empty(t, w.msgs)
}

func TestPublishIgnoresCancelledCaller(t *testing.T) {
	w := &fakeWriter{}
	p := newPublisherWithWriter(w, logging.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p.Publish(ctx, models.RideEvent{Type: models.EventRideStarted, RideRequestID: "req-2"})
	assert.Len(t, w.msgs, 1)
}
