package estimates

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/travigo/travigo-eta/pkg/ctdf"
	"github.com/travigo/travigo-eta/pkg/realtime/speeds"
)

const equatorDegree = ctdf.EarthRadiusMeters * math.Pi / 180

var start = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func testShape(points ...float64) *ctdf.Shape {
	shape := &ctdf.Shape{PrimaryIdentifier: "shape-1", Direction: "outbound"}
	for _, distance := range points {
		shape.Points = append(shape.Points, ctdf.ShapePoint{
			Location:      ctdf.NewLocation(0, distance/equatorDegree),
			DistanceAlong: distance,
		})
	}
	return shape
}

func testJourney(scheduled bool, stopDistances ...float64) (*ctdf.Journey, *ctdf.RealtimeJourney) {
	journey := &ctdf.Journey{PrimaryIdentifier: "journey-1", DepartureTime: start}
	for i, distance := range stopDistances {
		stop := &ctdf.JourneyStop{
			StopRef:       string(rune('A' + i)),
			Sequence:      i + 1,
			ShapeDistance: distance,
		}
		if scheduled {
			stop.PublicArrivalTime = start.Add(time.Duration(i) * time.Minute)
			stop.PublicDepartureTime = stop.PublicArrivalTime
		}
		journey.Stops = append(journey.Stops, stop)
	}

	return journey, ctdf.NewRealtimeJourney(journey, "vehicle-1", start)
}

func speed(value float64) *float64 {
	return &value
}

func TestPropagateScenarioLiveSpeedColdShape(t *testing.T) {
	propagator := NewPropagator(DefaultConfig, speeds.NewEstimator(speeds.DefaultConfig))
	journey, realtimeJourney := testJourney(true, 500)

	output := propagator.Propagate(Input{
		Journey:   journey,
		Realtime:  realtimeJourney,
		Shape:     testShape(0, 1000),
		Position:  &ctdf.ShapePosition{ShapeRef: "shape-1", Distance: 0, Timestamp: start},
		Now:       start,
		LiveSpeed: speed(10),
	})

	assert.False(t, output.Insufficient)
	assert.Equal(t, []int{0}, output.Updated)
	require.NotNil(t, realtimeJourney.Stops[0].EstimatedArrival)
	assert.Equal(t, start.Add(50*time.Second), *realtimeJourney.Stops[0].EstimatedArrival)
	assert.Equal(t, start.Add(70*time.Second), *realtimeJourney.Stops[0].EstimatedDeparture)
}

func TestPropagateColdStartDefaultSpeed(t *testing.T) {
	propagator := NewPropagator(DefaultConfig, speeds.NewEstimator(speeds.DefaultConfig))
	journey, realtimeJourney := testJourney(false, 400)

	propagator.Propagate(Input{
		Journey:  journey,
		Realtime: realtimeJourney,
		Shape:    testShape(0, 1000),
		Position: &ctdf.ShapePosition{ShapeRef: "shape-1", Distance: 0, Timestamp: start},
		Now:      start,
	})

	// 400m at the default 8m/s
	assert.Equal(t, start.Add(50*time.Second), *realtimeJourney.Stops[0].EstimatedArrival)
}

func TestPropagateUsesHistoricSpeedWhenLiveSpeedDisagrees(t *testing.T) {
	estimator := speeds.NewEstimator(speeds.DefaultConfig)
	estimator.Observe(speeds.Key{ShapeRef: "shape-1", Direction: "outbound", Segment: 0}, 5, start)
	estimator.Observe(speeds.Key{ShapeRef: "shape-1", Direction: "outbound", Segment: 1}, 10, start)

	propagator := NewPropagator(DefaultConfig, estimator)
	journey, realtimeJourney := testJourney(false, 1000)

	propagator.Propagate(Input{
		Journey:   journey,
		Realtime:  realtimeJourney,
		Shape:     testShape(0, 500, 1000),
		Position:  &ctdf.ShapePosition{ShapeRef: "shape-1", Distance: 0, Timestamp: start},
		Now:       start,
		LiveSpeed: speed(12),
	})

	// Segment 0: 12 is outside 5 +/- 50% so 500m at 5m/s. Segment 1: 12 is within 10 +/- 50%.
	secondSegment := 500.0 / 12
	expected := start.Add(100*time.Second + time.Duration(secondSegment*float64(time.Second))).Round(time.Second)
	assert.Equal(t, expected, *realtimeJourney.Stops[0].EstimatedArrival)
}

func TestPropagateAccumulatesDwell(t *testing.T) {
	propagator := NewPropagator(DefaultConfig, speeds.NewEstimator(speeds.DefaultConfig))
	journey, realtimeJourney := testJourney(false, 500, 1000)
	journey.Stops[0].PublicArrivalTime = start.Add(time.Minute)
	journey.Stops[0].PublicDepartureTime = start.Add(2 * time.Minute)

	propagator.Propagate(Input{
		Journey:   journey,
		Realtime:  realtimeJourney,
		Shape:     testShape(0, 1000),
		Position:  &ctdf.ShapePosition{ShapeRef: "shape-1", Distance: 0, Timestamp: start},
		Now:       start,
		LiveSpeed: speed(10),
	})

	// Scheduled dwell of a minute is longer than the minimum
	assert.Equal(t, start.Add(50*time.Second), *realtimeJourney.Stops[0].EstimatedArrival)
	assert.Equal(t, start.Add(110*time.Second), *realtimeJourney.Stops[0].EstimatedDeparture)
	assert.Equal(t, start.Add(160*time.Second), *realtimeJourney.Stops[1].EstimatedArrival)
	assert.Equal(t, start.Add(180*time.Second), *realtimeJourney.Stops[1].EstimatedDeparture)
}

func TestPropagateBlendsTowardsRawEstimate(t *testing.T) {
	propagator := NewPropagator(DefaultConfig, speeds.NewEstimator(speeds.DefaultConfig))
	journey, realtimeJourney := testJourney(true, 500)

	previousEstimate := start.Add(10 * time.Minute)
	realtimeJourney.Stops[0].EstimatedArrival = &previousEstimate

	propagator.Propagate(Input{
		Journey:   journey,
		Realtime:  realtimeJourney,
		Shape:     testShape(0, 1000),
		Position:  &ctdf.ShapePosition{ShapeRef: "shape-1", Distance: 0, Timestamp: start},
		Now:       start,
		LiveSpeed: speed(10),
	})

	assert.Equal(t, previousEstimate.Add(-DefaultConfig.MaxCorrection), *realtimeJourney.Stops[0].EstimatedArrival)
}

func TestPropagateNeverEstimatesInThePast(t *testing.T) {
	propagator := NewPropagator(DefaultConfig, speeds.NewEstimator(speeds.DefaultConfig))
	journey, realtimeJourney := testJourney(true, 500)

	previousEstimate := start.Add(-10 * time.Minute)
	realtimeJourney.Stops[0].EstimatedArrival = &previousEstimate

	propagator.Propagate(Input{
		Journey:   journey,
		Realtime:  realtimeJourney,
		Shape:     testShape(0, 1000),
		Position:  &ctdf.ShapePosition{ShapeRef: "shape-1", Distance: 0, Timestamp: start},
		Now:       start,
		LiveSpeed: speed(10),
	})

	assert.Equal(t, start, *realtimeJourney.Stops[0].EstimatedArrival)
}

func TestPropagateInsufficientShape(t *testing.T) {
	propagator := NewPropagator(DefaultConfig, speeds.NewEstimator(speeds.DefaultConfig))
	journey, realtimeJourney := testJourney(false, 500, 1500, 1800)

	output := propagator.Propagate(Input{
		Journey:  journey,
		Realtime: realtimeJourney,
		Shape:    testShape(0, 1000),
		Position: &ctdf.ShapePosition{ShapeRef: "shape-1", Distance: 0, Timestamp: start},
		Now:      start,
	})

	assert.True(t, output.Insufficient)
	assert.NotNil(t, realtimeJourney.Stops[0].EstimatedArrival)
	assert.Nil(t, realtimeJourney.Stops[1].EstimatedArrival)
	assert.Nil(t, realtimeJourney.Stops[1].EstimatedDeparture)
	assert.Nil(t, realtimeJourney.Stops[2].EstimatedArrival)
}

func TestPropagateArrivedStop(t *testing.T) {
	propagator := NewPropagator(DefaultConfig, speeds.NewEstimator(speeds.DefaultConfig))
	journey, realtimeJourney := testJourney(false, 500, 1000)

	arrived := start.Add(-5 * time.Second)
	realtimeJourney.Stops[0].Status = ctdf.RealtimeJourneyStopArrived
	realtimeJourney.Stops[0].ActualArrival = &arrived

	propagator.Propagate(Input{
		Journey:   journey,
		Realtime:  realtimeJourney,
		Shape:     testShape(0, 1000),
		Position:  &ctdf.ShapePosition{ShapeRef: "shape-1", Distance: 500, Timestamp: start},
		Now:       start,
		LiveSpeed: speed(10),
	})

	assert.Nil(t, realtimeJourney.Stops[0].EstimatedArrival)
	assert.Equal(t, start.Add(15*time.Second), *realtimeJourney.Stops[0].EstimatedDeparture)
	assert.Equal(t, start.Add(65*time.Second), *realtimeJourney.Stops[1].EstimatedArrival)
}

func TestPropagateIsIdempotent(t *testing.T) {
	propagator := NewPropagator(DefaultConfig, speeds.NewEstimator(speeds.DefaultConfig))
	journey, realtimeJourney := testJourney(true, 500, 1000)

	input := Input{
		Journey:   journey,
		Realtime:  realtimeJourney,
		Shape:     testShape(0, 1000),
		Position:  &ctdf.ShapePosition{ShapeRef: "shape-1", Distance: 100, Timestamp: start},
		Now:       start,
		LiveSpeed: speed(9),
	}

	assert.Len(t, propagator.Propagate(input).Updated, 2)
	assert.Empty(t, propagator.Propagate(input).Updated)
}

func TestPropagateConvergesOnActualArrival(t *testing.T) {
	propagator := NewPropagator(DefaultConfig, speeds.NewEstimator(speeds.DefaultConfig))
	journey, realtimeJourney := testJourney(false, 1000)
	shape := testShape(0, 1000)

	// Vehicle really travels at 10m/s so arrives after 100 seconds, estimates use the 8m/s default
	actual := start.Add(100 * time.Second)
	var previous time.Time
	for second := 0; second < 100; second += 10 {
		now := start.Add(time.Duration(second) * time.Second)
		propagator.Propagate(Input{
			Journey:  journey,
			Realtime: realtimeJourney,
			Shape:    shape,
			Position: &ctdf.ShapePosition{ShapeRef: "shape-1", Distance: float64(second * 10), Timestamp: now},
			Now:      now,
		})

		estimate := *realtimeJourney.Stops[0].EstimatedArrival
		assert.False(t, estimate.Before(actual))
		if !previous.IsZero() {
			assert.True(t, estimate.Before(previous), "estimate %s should improve on %s", estimate, previous)
		}
		previous = estimate
	}
}

func TestLiveSpeed(t *testing.T) {
	propagator := NewPropagator(DefaultConfig, speeds.NewEstimator(speeds.DefaultConfig))

	previous := &ctdf.ShapePosition{ShapeRef: "shape-1", Distance: 100, Timestamp: start}
	current := &ctdf.ShapePosition{ShapeRef: "shape-1", Distance: 300, Timestamp: start.Add(20 * time.Second)}

	reported := propagator.LiveSpeed(&ctdf.PositionReport{Speed: speed(7)}, previous, current)
	require.NotNil(t, reported)
	assert.Equal(t, 7.0, *reported)

	derived := propagator.LiveSpeed(&ctdf.PositionReport{}, previous, current)
	require.NotNil(t, derived)
	assert.Equal(t, 10.0, *derived)

	stale := &ctdf.ShapePosition{ShapeRef: "shape-1", Distance: 300, Timestamp: start.Add(10 * time.Minute)}
	assert.Nil(t, propagator.LiveSpeed(&ctdf.PositionReport{}, previous, stale))
	assert.Nil(t, propagator.LiveSpeed(&ctdf.PositionReport{}, nil, current))
}
