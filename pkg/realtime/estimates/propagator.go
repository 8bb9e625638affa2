package estimates

import (
	"math"
	"time"

	"github.com/travigo/travigo-eta/pkg/ctdf"
	"github.com/travigo/travigo-eta/pkg/realtime/speeds"
)

type Config struct {
	MinDwell time.Duration `yaml:"min_dwell" validate:"gte=0"`
	// Live speed is trusted while it is within this fraction of the segment's historic mean
	LiveSpeedBand   float64       `yaml:"live_speed_band" validate:"gte=0"`
	MinLiveSpeed    float64       `yaml:"min_live_speed" validate:"gte=0"`
	LiveSpeedMaxAge time.Duration `yaml:"live_speed_max_age" validate:"gte=0"`
	MaxCorrection   time.Duration `yaml:"max_correction" validate:"gt=0"`
}

var DefaultConfig = Config{
	MinDwell:        20 * time.Second,
	LiveSpeedBand:   0.5,
	MinLiveSpeed:    0.5,
	LiveSpeedMaxAge: 2 * time.Minute,
	MaxCorrection:   2 * time.Minute,
}

type SpeedSource interface {
	Estimate(key speeds.Key) float64
	Lookup(key speeds.Key) (float64, bool)
}

type Input struct {
	Journey  *ctdf.Journey
	Realtime *ctdf.RealtimeJourney
	Shape    *ctdf.Shape
	Position *ctdf.ShapePosition
	Now      time.Time

	// Live speed in m/s, nil when there is no recent observation
	LiveSpeed *float64
}

type Output struct {
	Updated []int
	// Set when estimates past some stop could not be calculated and were left unknown
	Insufficient bool
}

type Propagator struct {
	config Config
	speeds SpeedSource
}

func NewPropagator(config Config, speeds SpeedSource) *Propagator {
	return &Propagator{config: config, speeds: speeds}
}

func (p *Propagator) Propagate(input Input) Output {
	var output Output

	realtimeJourney := input.Realtime
	first := realtimeJourney.FirstOpenStop()
	if first < 0 || len(input.Journey.Stops) != len(realtimeJourney.Stops) {
		return output
	}

	before := realtimeJourney.CloneStops()

	now := input.Now
	cursor := input.Position.Distance
	var elapsed time.Duration

	for i := first; i < len(realtimeJourney.Stops); i++ {
		stop := input.Journey.Stops[i]
		realtimeStop := realtimeJourney.Stops[i]

		if realtimeStop.Status == ctdf.RealtimeJourneyStopArrived {
			departure := realtimeStop.ActualArrival.Add(p.dwell(stop))
			departure = clamp(departure, now)

			realtimeStop.EstimatedArrival = nil
			realtimeStop.EstimatedDeparture = &departure

			elapsed = departure.Sub(now)
			cursor = math.Max(cursor, stop.ShapeDistance)
			continue
		}

		if realtimeStop.Status != ctdf.RealtimeJourneyStopPending {
			continue
		}

		travel, ok := p.travelTime(input.Shape, cursor, stop.ShapeDistance, input.LiveSpeed)
		if !ok {
			output.Insufficient = true
			clearEstimates(realtimeJourney, i)
			break
		}
		elapsed += travel

		arrival := now.Add(elapsed)
		if _, scheduled := stop.ScheduledArrival(); scheduled && realtimeStop.EstimatedArrival != nil {
			arrival = p.blend(*realtimeStop.EstimatedArrival, arrival)
		}
		arrival = clamp(arrival, now)
		departure := arrival.Add(p.dwell(stop))

		realtimeStop.EstimatedArrival = &arrival
		realtimeStop.EstimatedDeparture = &departure

		elapsed += p.dwell(stop)
		cursor = math.Max(cursor, stop.ShapeDistance)
	}

	for i, stop := range realtimeJourney.Stops {
		if !before[i].Equal(*stop) {
			output.Updated = append(output.Updated, i)
		}
	}

	return output
}

// LiveSpeed picks the speed observed for this report, either sent by the device or derived
// from the last two matches when they are recent enough
func (p *Propagator) LiveSpeed(report *ctdf.PositionReport, previous *ctdf.ShapePosition, current *ctdf.ShapePosition) *float64 {
	if report.Speed != nil && !math.IsNaN(*report.Speed) && !math.IsInf(*report.Speed, 0) && *report.Speed >= 0 {
		speed := *report.Speed
		return &speed
	}

	if previous == nil || current == nil || previous.ShapeRef != current.ShapeRef {
		return nil
	}

	elapsed := current.Timestamp.Sub(previous.Timestamp)
	if elapsed <= 0 || elapsed > p.config.LiveSpeedMaxAge {
		return nil
	}

	moved := current.Distance - previous.Distance
	if moved <= 0 {
		return nil
	}

	speed := moved / elapsed.Seconds()
	return &speed
}

func (p *Propagator) travelTime(shape *ctdf.Shape, from float64, to float64, liveSpeed *float64) (time.Duration, bool) {
	if to > shape.Length() {
		return 0, false
	}
	if to <= from {
		return 0, true
	}

	seconds := 0.0
	for segment := shape.SegmentAt(from); segment < shape.SegmentCount(); segment++ {
		start, end := shape.SegmentBounds(segment)
		covered := math.Min(to, end) - math.Max(from, start)

		if covered > 0 {
			speed := p.segmentSpeed(speeds.Key{ShapeRef: shape.PrimaryIdentifier, Direction: shape.Direction, Segment: segment}, liveSpeed)
			if speed <= 0 || math.IsNaN(speed) {
				return 0, false
			}
			seconds += covered / speed
		}

		if end >= to {
			break
		}
	}

	return time.Duration(seconds * float64(time.Second)), true
}

func (p *Propagator) segmentSpeed(key speeds.Key, liveSpeed *float64) float64 {
	if liveSpeed != nil && *liveSpeed >= p.config.MinLiveSpeed {
		mean, known := p.speeds.Lookup(key)
		if !known || math.Abs(*liveSpeed-mean) <= p.config.LiveSpeedBand*mean {
			return *liveSpeed
		}
	}

	return p.speeds.Estimate(key)
}

// blend limits how far an estimate can move between consecutive reports
func (p *Propagator) blend(previous time.Time, raw time.Time) time.Time {
	correction := raw.Sub(previous)
	if correction > p.config.MaxCorrection {
		correction = p.config.MaxCorrection
	} else if correction < -p.config.MaxCorrection {
		correction = -p.config.MaxCorrection
	}

	return previous.Add(correction)
}

func (p *Propagator) dwell(stop *ctdf.JourneyStop) time.Duration {
	if scheduled := stop.ScheduledDwell(); scheduled > p.config.MinDwell {
		return scheduled
	}
	return p.config.MinDwell
}

func clamp(estimate time.Time, now time.Time) time.Time {
	estimate = estimate.Round(time.Second)
	if estimate.Before(now) {
		return now
	}
	return estimate
}

func clearEstimates(realtimeJourney *ctdf.RealtimeJourney, from int) {
	for _, stop := range realtimeJourney.Stops[from:] {
		if stop.Status == ctdf.RealtimeJourneyStopDeparted {
			continue
		}
		stop.EstimatedArrival = nil
		if stop.Status == ctdf.RealtimeJourneyStopPending {
			stop.EstimatedDeparture = nil
		}
	}
}
