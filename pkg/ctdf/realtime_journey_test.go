package ctdf

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewRealtimeJourney(t *testing.T) {
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	journey := &Journey{
		PrimaryIdentifier: "journey-1",
		DepartureTime:     now,
		Stops: []*JourneyStop{
			{StopRef: "stop-a", Sequence: 1},
			{StopRef: "stop-b", Sequence: 2},
		},
	}

	realtimeJourney := NewRealtimeJourney(journey, "vehicle-1", now)

	assert.Equal(t, "REALTIME:2024-03-01:journey-1", realtimeJourney.PrimaryIdentifier)
	assert.Len(t, realtimeJourney.Stops, 2)
	assert.Equal(t, RealtimeJourneyStopPending, realtimeJourney.Stops[1].Status)
	assert.Equal(t, "stop-a", realtimeJourney.NextStopRef)
	assert.False(t, realtimeJourney.Completed())
	assert.Equal(t, 0, realtimeJourney.FirstOpenStop())

	realtimeJourney.Stops[0].Status = RealtimeJourneyStopDeparted
	realtimeJourney.UpdateStopReferences()
	assert.Equal(t, "stop-a", realtimeJourney.DepartedStopRef)
	assert.Equal(t, "stop-b", realtimeJourney.NextStopRef)

	realtimeJourney.Stops[1].Status = RealtimeJourneyStopDeparted
	assert.True(t, realtimeJourney.Completed())
	assert.Equal(t, -1, realtimeJourney.FirstOpenStop())
}

func TestRealtimeJourneyStopEqual(t *testing.T) {
	a := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	b := a.In(time.FixedZone("BST", 3600))

	stop := RealtimeJourneyStop{StopRef: "x", Status: RealtimeJourneyStopPending, EstimatedArrival: &a}
	other := stop
	other.EstimatedArrival = &b

	assert.True(t, stop.Equal(other))

	other.EstimatedArrival = nil
	assert.False(t, stop.Equal(other))
}
