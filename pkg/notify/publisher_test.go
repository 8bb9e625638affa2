package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/travigo/travigo-eta/pkg/ctdf"
)

type memoryConnection struct {
	messages []*nats.Msg
	err      error
	flushed  int
}

func (c *memoryConnection) PublishMsg(msg *nats.Msg) error {
	if c.err != nil {
		return c.err
	}
	c.messages = append(c.messages, msg)
	return nil
}

func (c *memoryConnection) FlushWithContext(context.Context) error {
	c.flushed++
	return nil
}

func (c *memoryConnection) Drain() error { return nil }

type countingMetrics struct {
	published int
	failed    int
}

func (m *countingMetrics) NotificationPublished(err error) {
	if err != nil {
		m.failed++
	} else {
		m.published++
	}
}

func testChanges() (*ctdf.RealtimeJourney, []*ctdf.StopEstimateChange) {
	estimate := time.Date(2024, 3, 1, 9, 0, 50, 0, time.UTC)
	realtimeJourney := &ctdf.RealtimeJourney{
		PrimaryIdentifier: "REALTIME:2024-03-01:journey.1",
		JourneyRef:        "journey.1",
		VehicleRef:        "vehicle-1",
		Stops: []*ctdf.RealtimeJourneyStop{
			{StopRef: "A", Sequence: 1, Status: ctdf.RealtimeJourneyStopPending, EstimatedArrival: &estimate},
			{StopRef: "B", Sequence: 2, Status: ctdf.RealtimeJourneyStopPending},
		},
	}

	return realtimeJourney, []*ctdf.StopEstimateChange{
		ctdf.NewStopEstimateChange(realtimeJourney, 0, estimate),
		ctdf.NewStopEstimateChange(realtimeJourney, 1, estimate),
	}
}

func TestPublishChanges(t *testing.T) {
	conn := &memoryConnection{}
	metrics := &countingMetrics{}
	publisher := &Publisher{conn: conn, metrics: metrics}

	realtimeJourney, changes := testChanges()
	require.NoError(t, publisher.PublishChanges(context.Background(), realtimeJourney, changes))

	require.Len(t, conn.messages, 2)
	assert.Equal(t, "eta.journey_1.A", conn.messages[0].Subject)
	assert.Equal(t, "eta.journey_1.B", conn.messages[1].Subject)
	assert.Equal(t, 2, metrics.published)

	batchID := conn.messages[0].Header.Get(BatchHeader)
	assert.NotEmpty(t, batchID)
	assert.Equal(t, batchID, conn.messages[1].Header.Get(BatchHeader))

	var payload map[string]any
	require.NoError(t, json.Unmarshal(conn.messages[0].Data, &payload))
	assert.Equal(t, "A", payload["StopRef"])
	assert.Equal(t, "2024-03-01T09:00:50Z", payload["EstimatedArrival"])
	assert.NotContains(t, payload, "VehicleRef")
	assert.NotContains(t, payload, "RecordedAt")

	require.NoError(t, publisher.Flush(context.Background()))
	assert.Equal(t, 1, conn.flushed)
}

func TestPublishChangesSeparateBatches(t *testing.T) {
	conn := &memoryConnection{}
	publisher := &Publisher{conn: conn}

	realtimeJourney, changes := testChanges()
	require.NoError(t, publisher.PublishChanges(context.Background(), realtimeJourney, changes[:1]))
	require.NoError(t, publisher.PublishChanges(context.Background(), realtimeJourney, changes[1:]))

	require.Len(t, conn.messages, 2)
	assert.NotEqual(t, conn.messages[0].Header.Get(BatchHeader), conn.messages[1].Header.Get(BatchHeader))
}

func TestPublishChangesError(t *testing.T) {
	failure := errors.New("nats: connection closed")
	conn := &memoryConnection{err: failure}
	metrics := &countingMetrics{}
	publisher := &Publisher{conn: conn, metrics: metrics}

	realtimeJourney, changes := testChanges()
	err := publisher.PublishChanges(context.Background(), realtimeJourney, changes)

	assert.ErrorIs(t, err, failure)
	assert.Equal(t, 1, metrics.failed)
	assert.Equal(t, 0, metrics.published)
}

func TestPublishNoChanges(t *testing.T) {
	conn := &memoryConnection{}
	publisher := &Publisher{conn: conn}

	require.NoError(t, publisher.PublishChanges(context.Background(), &ctdf.RealtimeJourney{}, nil))
	assert.Empty(t, conn.messages)
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "eta.GB_123.STOP_1", Subject("GB.123", "STOP 1"))
	assert.Equal(t, "eta._._", Subject("", " "))
	assert.Equal(t, "eta.a_b.c_d", Subject("a*b", "c>d"))
}
