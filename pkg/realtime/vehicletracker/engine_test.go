package vehicletracker

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/travigo/travigo-eta/pkg/ctdf"
	"github.com/travigo/travigo-eta/pkg/realtime/speeds"
)

const equatorDegree = ctdf.EarthRadiusMeters * math.Pi / 180

var start = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	engine   *Engine
	journeys *JourneySnapshot
	recorder *memoryRecorder
}

type memoryRecorder struct {
	mutex      sync.Mutex
	conditions []Condition
}

func (m *memoryRecorder) RecordCondition(condition Condition) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.conditions = append(m.conditions, condition)
}

func onRoad(metres float64) ctdf.Location {
	return ctdf.NewLocation(0, metres/equatorDegree)
}

func testShape(metres ...float64) *ctdf.Shape {
	shape := &ctdf.Shape{PrimaryIdentifier: "shape-1", Direction: "outbound"}
	for _, m := range metres {
		shape.Points = append(shape.Points, ctdf.ShapePoint{Location: onRoad(m), DistanceAlong: m})
	}
	return shape
}

func testJourney(stopDistances ...float64) *ctdf.Journey {
	journey := &ctdf.Journey{
		PrimaryIdentifier: "journey-1",
		ShapeRef:          "shape-1",
		Direction:         "outbound",
		DepartureTime:     start,
	}
	for i, distance := range stopDistances {
		scheduled := start.Add(time.Duration(i+1) * time.Minute)
		journey.Stops = append(journey.Stops, &ctdf.JourneyStop{
			StopRef:             string(rune('A' + i)),
			Sequence:            i + 1,
			Location:            onRoad(distance),
			ShapeDistance:       distance,
			PublicArrivalTime:   scheduled,
			PublicDepartureTime: scheduled,
		})
	}
	return journey
}

func newFixture(t *testing.T, assignments StaticAssignments, journey *ctdf.Journey, shape *ctdf.Shape) *fixture {
	journeys := NewJourneySnapshot()
	journeys.Replace([]*ctdf.Journey{journey})

	recorder := &memoryRecorder{}
	engine := NewEngine(EngineOptions{
		Config:   DefaultConfig(),
		Journeys: &AssignmentResolver{Assignments: assignments, Journeys: journeys},
		Recorder: recorder,
	})

	if shape != nil {
		require.NoError(t, engine.Shapes().Put(shape))
	}

	return &fixture{engine: engine, journeys: journeys, recorder: recorder}
}

func defaultFixture(t *testing.T) *fixture {
	return newFixture(t, StaticAssignments{"vehicle-1": "journey-1"}, testJourney(500, 1000, 1500), testShape(0, 1000, 2000))
}

func report(metres float64, offset float64, at time.Time) *ctdf.PositionReport {
	return &ctdf.PositionReport{
		VehicleRef: "vehicle-1",
		Timestamp:  at,
		Latitude:   offset / equatorDegree,
		Longitude:  metres / equatorDegree,
	}
}

func withSpeed(r *ctdf.PositionReport, speed float64) *ctdf.PositionReport {
	r.Speed = &speed
	return r
}

func changeFor(result *Result, stopRef string) *ctdf.StopEstimateChange {
	for _, change := range result.Changes {
		if change.StopRef == stopRef {
			return change
		}
	}
	return nil
}

func TestProcessReportScenarioFiftySeconds(t *testing.T) {
	f := defaultFixture(t)

	result, err := f.engine.ProcessReport(context.Background(), withSpeed(report(0, 0, start), 10))
	require.NoError(t, err)

	assert.Empty(t, result.Conditions)
	assert.Equal(t, "journey-1", result.JourneyRef)
	require.NotNil(t, result.Position)
	assert.InDelta(t, 0, result.Position.Distance, 0.5)

	change := changeFor(result, "A")
	require.NotNil(t, change)
	require.NotNil(t, change.EstimatedArrival)
	assert.WithinDuration(t, start.Add(50*time.Second), *change.EstimatedArrival, time.Second)
	assert.Equal(t, "REALTIME:2024-03-01:journey-1", change.RealtimeJourneyRef)
	assert.Len(t, result.Changes, 3)
}

func TestProcessReportIdempotent(t *testing.T) {
	f := defaultFixture(t)
	r := withSpeed(report(100, 0, start), 10)

	first, err := f.engine.ProcessReport(context.Background(), r)
	require.NoError(t, err)
	require.NotEmpty(t, first.Changes)

	before, _ := f.engine.Vehicle("vehicle-1")

	second, err := f.engine.ProcessReport(context.Background(), r)
	require.NoError(t, err)
	assert.Empty(t, second.Changes)
	assert.True(t, second.HasCondition(ConditionDuplicateOrStaleReport))

	after, _ := f.engine.Vehicle("vehicle-1")
	assert.Equal(t, before.LastReportTime, after.LastReportTime)
	assert.Equal(t, *before.LastMatch, *after.LastMatch)
	for i := range before.RealtimeJourney.Stops {
		assert.True(t, before.RealtimeJourney.Stops[i].Equal(*after.RealtimeJourney.Stops[i]))
	}
}

func TestProcessReportStaleReportDiscarded(t *testing.T) {
	f := defaultFixture(t)

	_, err := f.engine.ProcessReport(context.Background(), report(300, 0, start.Add(time.Minute)))
	require.NoError(t, err)

	result, err := f.engine.ProcessReport(context.Background(), report(200, 0, start))
	require.NoError(t, err)

	assert.Empty(t, result.Changes)
	assert.Nil(t, result.Position)
	assert.True(t, result.HasCondition(ConditionDuplicateOrStaleReport))

	vehicle, _ := f.engine.Vehicle("vehicle-1")
	assert.Equal(t, start.Add(time.Minute), vehicle.LastReportTime)
}

func TestProcessReportMatchFailedKeepsPriorMatch(t *testing.T) {
	f := defaultFixture(t)

	_, err := f.engine.ProcessReport(context.Background(), report(100, 0, start))
	require.NoError(t, err)
	before, _ := f.engine.Vehicle("vehicle-1")

	result, err := f.engine.ProcessReport(context.Background(), report(150, 200, start.Add(10*time.Second)))
	require.NoError(t, err)

	assert.True(t, result.HasCondition(ConditionMatchFailed))
	assert.Empty(t, result.Changes)
	assert.Nil(t, result.Position)

	after, _ := f.engine.Vehicle("vehicle-1")
	assert.Equal(t, *before.LastMatch, *after.LastMatch)
	// The position itself is still recorded
	assert.Equal(t, start.Add(10*time.Second), after.LastReportTime)
	assert.Equal(t, ctdf.RealtimeJourneyReliabilityLocationWithoutTrack, after.RealtimeJourney.Reliability)

	require.Len(t, f.recorder.conditions, 1)
	assert.Equal(t, ConditionMatchFailed, f.recorder.conditions[0].Type)
	assert.Equal(t, "vehicle-1", f.recorder.conditions[0].VehicleRef)
}

func TestProcessReportNoActiveJourney(t *testing.T) {
	f := newFixture(t, StaticAssignments{}, testJourney(500), testShape(0, 1000))

	result, err := f.engine.ProcessReport(context.Background(), report(100, 0, start))
	require.NoError(t, err)

	assert.True(t, result.HasCondition(ConditionNoActiveJourney))
	assert.Empty(t, result.Changes)

	vehicle, ok := f.engine.Vehicle("vehicle-1")
	require.True(t, ok)
	assert.Equal(t, start, vehicle.LastReportTime)
	assert.Nil(t, vehicle.RealtimeJourney)
	assert.Nil(t, vehicle.LastMatch)
}

func TestProcessReportUnknownShape(t *testing.T) {
	f := newFixture(t, StaticAssignments{"vehicle-1": "journey-1"}, testJourney(500), nil)

	result, err := f.engine.ProcessReport(context.Background(), report(100, 0, start))
	require.NoError(t, err)

	assert.True(t, result.HasCondition(ConditionUnknownShape))
	assert.Empty(t, result.Changes)
	require.NotNil(t, result.RealtimeJourney)
	assert.Equal(t, ctdf.RealtimeJourneyReliabilityLocationWithoutTrack, result.RealtimeJourney.Reliability)
}

func TestProcessReportInvalidReportIsRejected(t *testing.T) {
	f := defaultFixture(t)

	tests := []*ctdf.PositionReport{
		nil,
		{Timestamp: start, Latitude: 1, Longitude: 1},
		{VehicleRef: "vehicle-1", Latitude: 1, Longitude: 1},
		{VehicleRef: "vehicle-1", Timestamp: start, Latitude: math.NaN(), Longitude: 1},
		{VehicleRef: "vehicle-1", Timestamp: start, Latitude: 95, Longitude: 1},
		withSpeed(report(0, 0, start), -4),
	}

	for _, test := range tests {
		_, err := f.engine.ProcessReport(context.Background(), test)
		assert.ErrorIs(t, err, ErrInvalidReport)
	}

	_, ok := f.engine.Vehicle("vehicle-1")
	assert.False(t, ok)

	// Negative coordinates are valid locations
	assert.NoError(t, ValidateReport(&ctdf.PositionReport{VehicleRef: "v", Timestamp: start, Latitude: -33.86, Longitude: -70.6}))
}

func TestProcessReportCancelledContext(t *testing.T) {
	f := defaultFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.engine.ProcessReport(ctx, report(0, 0, start))
	assert.ErrorIs(t, err, context.Canceled)

	_, ok := f.engine.Vehicle("vehicle-1")
	assert.False(t, ok)
}

type failingResolver struct{}

func (failingResolver) ActiveJourney(context.Context, string, time.Time) (*ctdf.Journey, error) {
	return nil, errors.New("database unavailable")
}

func TestProcessReportResolverFailureMutatesNothing(t *testing.T) {
	engine := NewEngine(EngineOptions{Config: DefaultConfig(), Journeys: failingResolver{}})

	_, err := engine.ProcessReport(context.Background(), report(0, 0, start))
	assert.Error(t, err)

	vehicle, _ := engine.Vehicle("vehicle-1")
	assert.True(t, vehicle.LastReportTime.IsZero())
}

func TestProcessReportSkipStop(t *testing.T) {
	f := defaultFixture(t)

	_, err := f.engine.ProcessReport(context.Background(), report(400, 0, start))
	require.NoError(t, err)

	at := start.Add(30 * time.Second)
	result, err := f.engine.ProcessReport(context.Background(), report(700, 0, at))
	require.NoError(t, err)

	change := changeFor(result, "A")
	require.NotNil(t, change)
	assert.Equal(t, ctdf.RealtimeJourneyStopDeparted, change.Status)
	require.NotNil(t, change.ActualArrival)
	assert.Equal(t, at, *change.ActualArrival)
	assert.Equal(t, *change.ActualArrival, *change.ActualDeparture)
	assert.Nil(t, change.EstimatedArrival)
}

func TestProcessReportForwardOnlyAndMonotonic(t *testing.T) {
	f := defaultFixture(t)

	distances := []float64{0, 100, 90, 250, 240, 400, 500, 510, 600, 800, 1000, 995, 1100, 1300, 1500, 1600}
	lastDistance := -1.0

	for i, distance := range distances {
		result, err := f.engine.ProcessReport(context.Background(), report(distance, 0, start.Add(time.Duration(i)*15*time.Second)))
		require.NoError(t, err)
		require.NotNil(t, result.Position, "report %d", i)

		assert.GreaterOrEqual(t, result.Position.Distance, lastDistance)
		lastDistance = result.Position.Distance
	}

	vehicle, _ := f.engine.Vehicle("vehicle-1")
	require.NotNil(t, vehicle.RealtimeJourney)
	assert.True(t, vehicle.RealtimeJourney.Completed())

	var last time.Time
	for _, stop := range vehicle.RealtimeJourney.Stops {
		require.NotNil(t, stop.ActualArrival)
		require.NotNil(t, stop.ActualDeparture)
		assert.False(t, stop.ActualArrival.Before(last))
		assert.False(t, stop.ActualDeparture.Before(*stop.ActualArrival))
		assert.Nil(t, stop.EstimatedArrival)
		assert.Nil(t, stop.EstimatedDeparture)
		last = *stop.ActualDeparture
	}

	// Completed journeys are no longer active
	result, err := f.engine.ProcessReport(context.Background(), report(1800, 0, start.Add(time.Hour)))
	require.NoError(t, err)
	assert.True(t, result.HasCondition(ConditionNoActiveJourney))
}

func TestReevaluate(t *testing.T) {
	f := defaultFixture(t)

	result, err := f.engine.ProcessReport(context.Background(), withSpeed(report(0, 0, start), 10))
	require.NoError(t, err)
	firstEstimate := *changeFor(result, "A").EstimatedArrival

	reevaluated, err := f.engine.Reevaluate(context.Background(), "vehicle-1", start.Add(30*time.Second))
	require.NoError(t, err)

	change := changeFor(reevaluated, "A")
	require.NotNil(t, change)
	assert.True(t, change.EstimatedArrival.After(firstEstimate))

	vehicle, _ := f.engine.Vehicle("vehicle-1")
	assert.Equal(t, start, vehicle.LastReportTime)

	// A newer report is still accepted afterwards
	next, err := f.engine.ProcessReport(context.Background(), report(100, 0, start.Add(20*time.Second)))
	require.NoError(t, err)
	assert.False(t, next.HasCondition(ConditionDuplicateOrStaleReport))

	unknown, err := f.engine.Reevaluate(context.Background(), "nobody", start)
	require.NoError(t, err)
	assert.Empty(t, unknown.Changes)
}

func TestReplaceShapesResetsSpeedsAndMatch(t *testing.T) {
	f := defaultFixture(t)

	_, err := f.engine.ProcessReport(context.Background(), report(0, 0, start))
	require.NoError(t, err)
	_, err = f.engine.ProcessReport(context.Background(), report(400, 0, start.Add(40*time.Second)))
	require.NoError(t, err)

	key := speeds.Key{ShapeRef: "shape-1", Direction: "outbound", Segment: 0}
	speed, ok := f.engine.Speeds().Lookup(key)
	require.True(t, ok)
	assert.InDelta(t, 10, speed, 0.1)

	changed, err := f.engine.ReplaceShapes([]*ctdf.Shape{testShape(0, 500, 1000, 2000)}, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"shape-1"}, changed)

	_, ok = f.engine.Speeds().Lookup(key)
	assert.False(t, ok)

	// Without the reset this would be rejected as travelling backwards
	result, err := f.engine.ProcessReport(context.Background(), report(300, 0, start.Add(50*time.Second)))
	require.NoError(t, err)
	require.NotNil(t, result.Position)
	assert.InDelta(t, 300, result.Position.Distance, 0.5)
}

func TestReplaceShapesKeepsSkippingStops(t *testing.T) {
	f := defaultFixture(t)

	_, err := f.engine.ProcessReport(context.Background(), report(0, 0, start))
	require.NoError(t, err)
	_, err = f.engine.ProcessReport(context.Background(), report(400, 0, start.Add(40*time.Second)))
	require.NoError(t, err)

	_, err = f.engine.ReplaceShapes([]*ctdf.Shape{testShape(0, 500, 1000, 2000)}, false)
	require.NoError(t, err)

	at := start.Add(70 * time.Second)
	result, err := f.engine.ProcessReport(context.Background(), report(700, 0, at))
	require.NoError(t, err)
	require.NotNil(t, result.Position)

	require.Len(t, result.Transitions, 1)
	assert.True(t, result.Transitions[0].Skipped)
	assert.False(t, result.Transitions[0].Unobserved)

	stop := result.RealtimeJourney.Stops[0]
	assert.Equal(t, ctdf.RealtimeJourneyStopDeparted, stop.Status)
	assert.False(t, stop.Unobserved)
	require.NotNil(t, stop.ActualArrival)
	require.NotNil(t, stop.ActualDeparture)
	assert.Equal(t, at, *stop.ActualArrival)
	assert.Equal(t, *stop.ActualArrival, *stop.ActualDeparture)
}

func TestForgetVehicles(t *testing.T) {
	f := defaultFixture(t)

	_, err := f.engine.ProcessReport(context.Background(), report(0, 0, start))
	require.NoError(t, err)
	assert.Equal(t, []string{"vehicle-1"}, f.engine.TrackedVehicles())

	assert.Equal(t, 0, f.engine.ForgetVehicles(start))
	assert.Equal(t, 1, f.engine.ForgetVehicles(start.Add(time.Second)))
	assert.Empty(t, f.engine.TrackedVehicles())
}

func TestProcessReportConcurrentVehicles(t *testing.T) {
	assignments := StaticAssignments{}
	vehicleRefs := []string{}
	for i := 0; i < 16; i++ {
		ref := string(rune('a' + i))
		assignments[ref] = "journey-1"
		vehicleRefs = append(vehicleRefs, ref)
	}
	f := newFixture(t, assignments, testJourney(500, 1000, 1500), testShape(0, 1000, 2000))

	var wg sync.WaitGroup
	for _, ref := range vehicleRefs {
		wg.Add(1)
		go func(ref string) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				r := report(float64(i*100), 0, start.Add(time.Duration(i)*10*time.Second))
				r.VehicleRef = ref
				_, err := f.engine.ProcessReport(context.Background(), r)
				assert.NoError(t, err)
			}
		}(ref)
	}
	wg.Wait()

	for _, ref := range vehicleRefs {
		vehicle, ok := f.engine.Vehicle(ref)
		require.True(t, ok)
		assert.Equal(t, start.Add(90*time.Second), vehicle.LastReportTime)
	}
}

func TestProcessReportConcurrentDuplicates(t *testing.T) {
	f := defaultFixture(t)
	r := withSpeed(report(100, 0, start), 10)

	var applied atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := f.engine.ProcessReport(context.Background(), r)
			if assert.NoError(t, err) && !result.HasCondition(ConditionDuplicateOrStaleReport) {
				applied.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), applied.Load())
}
