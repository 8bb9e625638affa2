package matcher

import (
	"errors"
	"fmt"
	"math"

	"github.com/travigo/travigo-eta/pkg/ctdf"
	"github.com/travigo/travigo-eta/pkg/shapes"
)

var ErrMatchFailed = errors.New("position could not be matched to shape")

type MatchFailedError struct {
	ShapeRef  string
	Deviation float64
	Threshold float64
}

func (e *MatchFailedError) Error() string {
	return fmt.Sprintf("%s: %s closest point %.1fm away (threshold %.1fm)", ErrMatchFailed, e.ShapeRef, e.Deviation, e.Threshold)
}

func (e *MatchFailedError) Unwrap() error {
	return ErrMatchFailed
}

type Config struct {
	// Speed ceiling in m/s used to bound how far a vehicle could have moved since the last match
	MaxSpeed          float64 `yaml:"max_speed" validate:"gt=0"`
	BackwardTolerance float64 `yaml:"backward_tolerance" validate:"gte=0"`
	MaxDeviation      float64 `yaml:"max_deviation" validate:"gt=0"`
	MinSearchDistance float64 `yaml:"min_search_distance" validate:"gte=0"`
	TieTolerance      float64 `yaml:"tie_tolerance" validate:"gte=0"`
}

var DefaultConfig = Config{
	MaxSpeed:          40,
	BackwardTolerance: 25,
	MaxDeviation:      50,
	MinSearchDistance: 100,
	TieTolerance:      0.5,
}

type Matcher struct {
	config Config
}

func New(config Config) *Matcher {
	return &Matcher{config: config}
}

func (m *Matcher) Config() Config {
	return m.config
}

type candidate struct {
	distance  float64
	deviation float64
}

// Match projects the report onto the shape. previous is the last match for the vehicle
// and is only used as a search window when it was made on the same shape.
func (m *Matcher) Match(shape *ctdf.Shape, report *ctdf.PositionReport, previous *ctdf.ShapePosition) (*ctdf.ShapePosition, error) {
	location := report.Location()
	window := m.searchWindow(shape, report, previous)

	var best *candidate
	for _, segment := range shapes.PointsNear(shape, location, window) {
		start, end := shape.SegmentBounds(segment)
		a := shape.Points[segment].Location
		b := shape.Points[segment+1].Location

		fraction, _ := location.ProjectOntoLine(a, b)
		distance := start + fraction*(end-start)
		distance = math.Max(window.From, math.Min(window.To, distance))

		if end > start {
			fraction = (distance - start) / (end - start)
		}
		deviation := location.Distance(ctdf.Interpolate(a, b, fraction))

		if best == nil || m.better(candidate{distance, deviation}, *best) {
			best = &candidate{distance: distance, deviation: deviation}
		}
	}

	if best == nil {
		return nil, &MatchFailedError{ShapeRef: shape.PrimaryIdentifier, Deviation: math.Inf(1), Threshold: m.config.MaxDeviation}
	}
	if best.deviation > m.config.MaxDeviation {
		return nil, &MatchFailedError{ShapeRef: shape.PrimaryIdentifier, Deviation: best.deviation, Threshold: m.config.MaxDeviation}
	}

	distance := best.distance
	if sameShape(shape, previous) && distance < previous.Distance {
		distance = previous.Distance
	}

	return &ctdf.ShapePosition{
		ShapeRef:   shape.PrimaryIdentifier,
		Distance:   distance,
		Deviation:  best.deviation,
		Confidence: math.Max(0, 1-best.deviation/m.config.MaxDeviation),
		Segment:    shape.SegmentAt(distance),
		Location:   shape.LocationAt(distance),
		Timestamp:  report.Timestamp,
	}, nil
}

// better prefers the smaller deviation, and within the tie tolerance the least advanced point
func (m *Matcher) better(c candidate, best candidate) bool {
	if c.deviation < best.deviation-m.config.TieTolerance {
		return true
	}
	if c.deviation <= best.deviation+m.config.TieTolerance {
		return c.distance < best.distance
	}
	return false
}

func (m *Matcher) searchWindow(shape *ctdf.Shape, report *ctdf.PositionReport, previous *ctdf.ShapePosition) shapes.Window {
	if !sameShape(shape, previous) {
		return shapes.Window{From: 0, To: shape.Length()}
	}

	elapsed := math.Max(0, report.Timestamp.Sub(previous.Timestamp).Seconds())
	reach := math.Max(elapsed*m.config.MaxSpeed, m.config.MinSearchDistance)

	from := math.Max(0, previous.Distance-m.config.BackwardTolerance)
	to := math.Min(shape.Length(), previous.Distance+reach)

	return shapes.Window{From: math.Min(from, to), To: to}
}

func sameShape(shape *ctdf.Shape, previous *ctdf.ShapePosition) bool {
	return previous != nil && previous.ShapeRef == shape.PrimaryIdentifier
}
