package vehicletracker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/travigo/travigo-eta/pkg/ctdf"
	"github.com/travigo/travigo-eta/pkg/realtime/estimates"
	"github.com/travigo/travigo-eta/pkg/realtime/matcher"
	"github.com/travigo/travigo-eta/pkg/realtime/passage"
	"github.com/travigo/travigo-eta/pkg/realtime/speeds"
	"github.com/travigo/travigo-eta/pkg/shapes"
)

var ErrInvalidReport = errors.New("invalid position report")

type EngineOptions struct {
	Config   Config
	Shapes   *shapes.Index
	Speeds   *speeds.Estimator
	Journeys JourneyResolver

	Metrics  Metrics
	Recorder ConditionRecorder
}

// Engine matches position reports onto journeys and keeps each journey's stop estimates current.
// Reports for one vehicle are serialised, different vehicles are processed in parallel.
type Engine struct {
	config Config

	shapes     *shapes.Index
	speeds     *speeds.Estimator
	journeys   JourneyResolver
	matcher    *matcher.Matcher
	detector   *passage.Detector
	propagator *estimates.Propagator

	metrics  Metrics
	recorder ConditionRecorder

	vehicles *vehicleArena
}

type Result struct {
	VehicleRef string
	JourneyRef string
	Timestamp  time.Time
	Location   ctdf.Location

	// Nil when the report was not matched onto a shape
	Position *ctdf.ShapePosition
	// Copy of the realtime journey after the report was applied, nil when there is no active journey
	RealtimeJourney *ctdf.RealtimeJourney

	Transitions []passage.Transition
	Changes     []*ctdf.StopEstimateChange
	Conditions  []Condition
}

func (r *Result) HasCondition(conditionType ConditionType) bool {
	for _, condition := range r.Conditions {
		if condition.Type == conditionType {
			return true
		}
	}
	return false
}

func NewEngine(options EngineOptions) *Engine {
	if options.Shapes == nil {
		options.Shapes = shapes.NewIndex()
	}
	if options.Speeds == nil {
		options.Speeds = speeds.NewEstimator(options.Config.Speeds)
	}
	if options.Metrics == nil {
		options.Metrics = noopMetrics{}
	}
	if options.Recorder == nil {
		options.Recorder = noopRecorder{}
	}

	return &Engine{
		config:     options.Config,
		shapes:     options.Shapes,
		speeds:     options.Speeds,
		journeys:   options.Journeys,
		matcher:    matcher.New(options.Config.Matcher),
		detector:   passage.NewDetector(options.Config.Passage),
		propagator: estimates.NewPropagator(options.Config.Estimates, options.Speeds),
		metrics:    options.Metrics,
		recorder:   options.Recorder,
		vehicles:   newVehicleArena(),
	}
}

func (e *Engine) Shapes() *shapes.Index {
	return e.shapes
}

func (e *Engine) Speeds() *speeds.Estimator {
	return e.speeds
}

func ValidateReport(report *ctdf.PositionReport) error {
	if report == nil {
		return fmt.Errorf("%w: missing report", ErrInvalidReport)
	}
	if report.VehicleRef == "" {
		return fmt.Errorf("%w: missing vehicle reference", ErrInvalidReport)
	}
	if report.Timestamp.IsZero() {
		return fmt.Errorf("%w: missing timestamp", ErrInvalidReport)
	}
	if !report.Location().IsValid() {
		return fmt.Errorf("%w: coordinates %f,%f are not a valid location", ErrInvalidReport, report.Latitude, report.Longitude)
	}
	if report.Speed != nil && (math.IsNaN(*report.Speed) || math.IsInf(*report.Speed, 0) || *report.Speed < 0) {
		return fmt.Errorf("%w: speed %f", ErrInvalidReport, *report.Speed)
	}

	return nil
}

// ProcessReport applies one position report. Reported conditions are returned in the result,
// an error is only returned for a malformed report, a cancelled context or a failing journey
// resolver and in that case no state is changed.
func (e *Engine) ProcessReport(ctx context.Context, report *ctdf.PositionReport) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := ValidateReport(report); err != nil {
		return nil, err
	}

	startTime := time.Now()

	entry := e.vehicles.acquire(report.VehicleRef)
	defer entry.Unlock()

	result := &Result{
		VehicleRef: report.VehicleRef,
		Timestamp:  report.Timestamp,
		Location:   report.Location(),
	}

	vehicle := &entry.vehicle

	if !vehicle.LastReportTime.IsZero() && !report.Timestamp.After(vehicle.LastReportTime) {
		e.report(result, Condition{
			Type:   ConditionDuplicateOrStaleReport,
			Detail: fmt.Sprintf("last processed report was at %s", vehicle.LastReportTime.Format(time.RFC3339)),
		})
		e.metrics.ReportProcessed(time.Since(startTime), 0)
		return result, nil
	}

	journey, err := e.journeys.ActiveJourney(ctx, report.VehicleRef, report.Timestamp)
	if errors.Is(err, ErrNoActiveJourney) {
		e.recordPosition(vehicle, report)
		e.report(result, Condition{Type: ConditionNoActiveJourney, Detail: err.Error()})
		e.metrics.ReportProcessed(time.Since(startTime), 0)
		return result, nil
	} else if err != nil {
		return nil, fmt.Errorf("resolving journey for %s: %w", report.VehicleRef, err)
	}
	if err := journey.Validate(); err != nil {
		return nil, err
	}
	result.JourneyRef = journey.PrimaryIdentifier

	realtimeJourney := vehicle.RealtimeJourney
	previous := vehicle.LastMatch

	if realtimeJourney != nil && realtimeJourney.JourneyRef == journey.PrimaryIdentifier && realtimeJourney.Completed() {
		e.recordPosition(vehicle, report)
		e.report(result, Condition{Type: ConditionNoActiveJourney, JourneyRef: journey.PrimaryIdentifier, Detail: "journey already completed"})
		e.metrics.ReportProcessed(time.Since(startTime), 0)
		return result, nil
	}

	newJourney := realtimeJourney == nil ||
		realtimeJourney.JourneyRef != journey.PrimaryIdentifier ||
		len(realtimeJourney.Stops) != len(journey.Stops)
	if newJourney {
		realtimeJourney = ctdf.NewRealtimeJourney(journey, report.VehicleRef, report.Timestamp)
		realtimeJourney.DataSource = report.DataSource
		previous = nil

		log.Debug().Str("vehicle", report.VehicleRef).Str("journey", journey.PrimaryIdentifier).Msg("Vehicle started tracking new journey")
	}
	realtimeJourney.Journey = journey

	shape, err := e.shapes.Get(journey.ShapeRef)
	if err != nil {
		e.commitPosition(entry, journey, realtimeJourney, report, ctdf.RealtimeJourneyReliabilityLocationWithoutTrack)
		entry.vehicle.LastMatch = nil
		result.RealtimeJourney = snapshotRealtimeJourney(realtimeJourney)
		e.report(result, Condition{Type: ConditionUnknownShape, ShapeRef: journey.ShapeRef, Detail: err.Error()})
		e.metrics.ReportProcessed(time.Since(startTime), 0)
		return result, nil
	}

	if previous != nil && (previous.ShapeRef != shape.PrimaryIdentifier || entry.shape != shape) {
		previous = nil
	}

	position, err := e.matcher.Match(shape, report, previous)
	if err != nil {
		// Keep the last good match so the next report is searched from there
		e.commitPosition(entry, journey, realtimeJourney, report, ctdf.RealtimeJourneyReliabilityLocationWithoutTrack)
		if newJourney {
			entry.vehicle.LastMatch = nil
		}
		result.RealtimeJourney = snapshotRealtimeJourney(realtimeJourney)
		e.report(result, Condition{Type: ConditionMatchFailed, ShapeRef: shape.PrimaryIdentifier, Detail: err.Error()})
		e.metrics.ReportProcessed(time.Since(startTime), 0)
		return result, nil
	}
	result.Position = position

	before := realtimeJourney.CloneStops()

	e.speeds.ObserveMovement(shape, previous, position)

	firstMatch := newJourney || entry.matchedJourney != realtimeJourney.PrimaryIdentifier
	result.Transitions = e.detector.Detect(journey, realtimeJourney, firstMatch, position, report.Location())

	output := e.propagator.Propagate(estimates.Input{
		Journey:   journey,
		Realtime:  realtimeJourney,
		Shape:     shape,
		Position:  position,
		Now:       report.Timestamp,
		LiveSpeed: e.propagator.LiveSpeed(report, previous, position),
	})
	if output.Insufficient {
		e.report(result, Condition{Type: ConditionInsufficientSpeedData, ShapeRef: shape.PrimaryIdentifier, Detail: "shape ends before the remaining stops"})
	}

	e.commitPosition(entry, journey, realtimeJourney, report, ctdf.RealtimeJourneyReliabilityLocationWithTrack)
	entry.vehicle.LastMatch = position
	entry.shape = shape
	entry.matchedJourney = realtimeJourney.PrimaryIdentifier
	realtimeJourney.DistanceAlongShape = position.Distance

	result.Changes = diffStops(before, realtimeJourney, report.Timestamp)
	result.RealtimeJourney = snapshotRealtimeJourney(realtimeJourney)

	for _, transition := range result.Transitions {
		e.metrics.StopTransition(string(transition.To), transition.Skipped, transition.Unobserved)
	}
	e.metrics.ReportProcessed(time.Since(startTime), len(result.Changes))

	return result, nil
}

// Reevaluate is the no new data path for a vehicle that has gone quiet. It expires dwell at
// stops and recomputes estimates from the last match using now as the clock. It never changes
// the last processed report time so a later report is still accepted.
func (e *Engine) Reevaluate(ctx context.Context, vehicleRef string, now time.Time) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entry := e.vehicles.lookup(vehicleRef)
	if entry == nil {
		return &Result{VehicleRef: vehicleRef, Timestamp: now}, nil
	}
	defer entry.Unlock()

	vehicle := &entry.vehicle
	result := &Result{
		VehicleRef: vehicleRef,
		Timestamp:  now,
		Location:   vehicle.LastLocation,
		Position:   vehicle.LastMatch,
	}

	realtimeJourney := vehicle.RealtimeJourney
	if realtimeJourney == nil || realtimeJourney.Journey == nil || realtimeJourney.Completed() || vehicle.LastMatch == nil {
		return result, nil
	}
	result.JourneyRef = realtimeJourney.JourneyRef

	if now.Before(vehicle.LastMatch.Timestamp) {
		now = vehicle.LastMatch.Timestamp
	}

	journey := realtimeJourney.Journey
	shape, err := e.shapes.Get(journey.ShapeRef)
	if err != nil || shape != entry.shape {
		return result, nil
	}

	before := realtimeJourney.CloneStops()

	result.Transitions = e.detector.ExpireDwell(realtimeJourney, now)

	output := e.propagator.Propagate(estimates.Input{
		Journey:  journey,
		Realtime: realtimeJourney,
		Shape:    shape,
		Position: vehicle.LastMatch,
		Now:      now,
	})
	if output.Insufficient {
		e.report(result, Condition{Type: ConditionInsufficientSpeedData, ShapeRef: shape.PrimaryIdentifier, Detail: "shape ends before the remaining stops"})
	}

	realtimeJourney.UpdateStopReferences()

	result.Changes = diffStops(before, realtimeJourney, now)
	result.RealtimeJourney = snapshotRealtimeJourney(realtimeJourney)

	return result, nil
}

// ReplaceShapes publishes new shape geometry. Speed statistics of changed shapes are dropped
// and vehicles on them lose their last match so they are matched from scratch.
func (e *Engine) ReplaceShapes(shapeList []*ctdf.Shape, prune bool) ([]string, error) {
	changed, err := e.shapes.Replace(shapeList, prune)
	if err != nil {
		return nil, err
	}

	for _, shapeRef := range changed {
		e.speeds.ResetShape(shapeRef)
	}

	if len(changed) > 0 {
		log.Info().Int("changed", len(changed)).Msg("Replaced shapes")
	}

	return changed, nil
}

func (e *Engine) TrackedVehicles() []string {
	return e.vehicles.refs()
}

// ForgetVehicles drops vehicles that have not reported since the cutoff
func (e *Engine) ForgetVehicles(cutoff time.Time) int {
	return e.vehicles.prune(cutoff)
}

// Vehicle returns a copy of the current state of a vehicle
func (e *Engine) Vehicle(vehicleRef string) (ctdf.Vehicle, bool) {
	entry := e.vehicles.lookup(vehicleRef)
	if entry == nil {
		return ctdf.Vehicle{}, false
	}
	defer entry.Unlock()

	vehicle := entry.vehicle
	if vehicle.RealtimeJourney != nil {
		vehicle.RealtimeJourney = snapshotRealtimeJourney(vehicle.RealtimeJourney)
	}
	if vehicle.LastMatch != nil {
		lastMatch := *vehicle.LastMatch
		vehicle.LastMatch = &lastMatch
	}

	return vehicle, true
}

func (e *Engine) recordPosition(vehicle *ctdf.Vehicle, report *ctdf.PositionReport) {
	vehicle.LastReportTime = report.Timestamp
	vehicle.LastLocation = report.Location()
	vehicle.LastSpeed = report.Speed
}

func (e *Engine) commitPosition(entry *vehicleEntry, journey *ctdf.Journey, realtimeJourney *ctdf.RealtimeJourney, report *ctdf.PositionReport, reliability ctdf.RealtimeJourneyReliabilityType) {
	e.recordPosition(&entry.vehicle, report)

	entry.vehicle.JourneyRef = journey.PrimaryIdentifier
	entry.vehicle.RealtimeJourney = realtimeJourney

	realtimeJourney.VehicleLocation = report.Location()
	realtimeJourney.ModificationDateTime = report.Timestamp
	realtimeJourney.Reliability = reliability
	realtimeJourney.UpdateStopReferences()
}

func (e *Engine) report(result *Result, condition Condition) {
	condition.VehicleRef = result.VehicleRef
	if condition.JourneyRef == "" {
		condition.JourneyRef = result.JourneyRef
	}
	condition.Timestamp = result.Timestamp

	result.Conditions = append(result.Conditions, condition)

	log.Debug().
		Str("vehicle", condition.VehicleRef).
		Str("journey", condition.JourneyRef).
		Str("condition", string(condition.Type)).
		Str("detail", condition.Detail).
		Msg("Report condition")

	e.metrics.ConditionReported(string(condition.Type))
	e.recorder.RecordCondition(condition)
}

func diffStops(before []ctdf.RealtimeJourneyStop, realtimeJourney *ctdf.RealtimeJourney, recordedAt time.Time) []*ctdf.StopEstimateChange {
	var changes []*ctdf.StopEstimateChange

	for i, stop := range realtimeJourney.Stops {
		if i < len(before) && before[i].Equal(*stop) {
			continue
		}
		changes = append(changes, ctdf.NewStopEstimateChange(realtimeJourney, i, recordedAt))
	}

	return changes
}

func snapshotRealtimeJourney(realtimeJourney *ctdf.RealtimeJourney) *ctdf.RealtimeJourney {
	snapshot := *realtimeJourney
	snapshot.Stops = make([]*ctdf.RealtimeJourneyStop, len(realtimeJourney.Stops))
	for i, stop := range realtimeJourney.Stops {
		stopCopy := *stop
		snapshot.Stops[i] = &stopCopy
	}

	return &snapshot
}
