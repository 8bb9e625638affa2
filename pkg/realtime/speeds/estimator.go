package speeds

import (
	"math"
	"sync"
	"time"

	"github.com/travigo/travigo-eta/pkg/ctdf"
)

type Config struct {
	// Network wide speed in m/s used for segments with no samples
	DefaultSpeed      float64       `yaml:"default_speed" validate:"gt=0"`
	Alpha             float64       `yaml:"alpha" validate:"gt=0,lte=1"`
	MinSampleDistance float64       `yaml:"min_sample_distance" validate:"gte=0"`
	MinSampleDuration time.Duration `yaml:"min_sample_duration" validate:"gte=0"`
	MaxSampleSpeed    float64       `yaml:"max_sample_speed" validate:"gt=0"`
}

var DefaultConfig = Config{
	DefaultSpeed:      8,
	Alpha:             0.2,
	MinSampleDistance: 20,
	MinSampleDuration: 5 * time.Second,
	MaxSampleSpeed:    45,
}

type Key struct {
	ShapeRef  string
	Direction string
	Segment   int
}

type segmentStat struct {
	sync.Mutex

	count    int64
	mean     float64
	variance float64
	updated  time.Time
}

// Estimator keeps an exponentially weighted speed average per shape segment.
// Each segment has its own lock so vehicles on different segments never contend.
type Estimator struct {
	config Config

	statsMutex sync.RWMutex
	stats      map[Key]*segmentStat
}

func NewEstimator(config Config) *Estimator {
	return &Estimator{
		config: config,
		stats:  map[Key]*segmentStat{},
	}
}

func (e *Estimator) DefaultSpeed() float64 {
	return e.config.DefaultSpeed
}

func (e *Estimator) stat(key Key, create bool) *segmentStat {
	e.statsMutex.RLock()
	stat, exists := e.stats[key]
	e.statsMutex.RUnlock()

	if exists || !create {
		return stat
	}

	e.statsMutex.Lock()
	defer e.statsMutex.Unlock()

	if stat, exists = e.stats[key]; !exists {
		stat = &segmentStat{}
		e.stats[key] = stat
	}
	return stat
}

// Observe folds a speed sample into the segment's aggregate
func (e *Estimator) Observe(key Key, speed float64, at time.Time) {
	if math.IsNaN(speed) || math.IsInf(speed, 0) || speed <= 0 || speed > e.config.MaxSampleSpeed {
		return
	}

	stat := e.stat(key, true)
	stat.Lock()
	defer stat.Unlock()

	stat.count++
	if stat.count == 1 {
		stat.mean = speed
		stat.variance = 0
	} else {
		diff := speed - stat.mean
		increment := e.config.Alpha * diff
		stat.mean += increment
		stat.variance = (1 - e.config.Alpha) * (stat.variance + diff*increment)
	}
	stat.updated = at
}

// ObserveMovement turns the movement between two matches into a sample for every
// segment it covered. Movements that are too short in time or distance are discarded.
func (e *Estimator) ObserveMovement(shape *ctdf.Shape, previous *ctdf.ShapePosition, current *ctdf.ShapePosition) bool {
	if previous == nil || current == nil || previous.ShapeRef != current.ShapeRef || previous.ShapeRef != shape.PrimaryIdentifier {
		return false
	}

	elapsed := current.Timestamp.Sub(previous.Timestamp)
	moved := current.Distance - previous.Distance

	if elapsed < e.config.MinSampleDuration || elapsed <= 0 || moved < e.config.MinSampleDistance || moved <= 0 {
		return false
	}

	speed := moved / elapsed.Seconds()
	if speed > e.config.MaxSampleSpeed {
		return false
	}

	for segment := shape.SegmentAt(previous.Distance); segment <= shape.SegmentAt(current.Distance); segment++ {
		e.Observe(Key{ShapeRef: shape.PrimaryIdentifier, Direction: shape.Direction, Segment: segment}, speed, current.Timestamp)
	}

	return true
}

// Estimate never fails, segments with no samples get the default speed
func (e *Estimator) Estimate(key Key) float64 {
	if speed, ok := e.Lookup(key); ok {
		return speed
	}
	return e.config.DefaultSpeed
}

// Lookup returns the observed mean speed, if the segment has any samples
func (e *Estimator) Lookup(key Key) (float64, bool) {
	stat := e.stat(key, false)
	if stat == nil {
		return 0, false
	}

	stat.Lock()
	defer stat.Unlock()

	if stat.count == 0 {
		return 0, false
	}
	return stat.mean, true
}

// ResetShape drops every aggregate for the shape, used when its geometry is replaced
func (e *Estimator) ResetShape(shapeRef string) {
	e.statsMutex.Lock()
	defer e.statsMutex.Unlock()

	for key := range e.stats {
		if key.ShapeRef == shapeRef {
			delete(e.stats, key)
		}
	}
}

func (e *Estimator) Snapshot() []*ctdf.SegmentSpeedStat {
	e.statsMutex.RLock()
	defer e.statsMutex.RUnlock()

	snapshot := make([]*ctdf.SegmentSpeedStat, 0, len(e.stats))
	for key, stat := range e.stats {
		stat.Lock()
		snapshot = append(snapshot, &ctdf.SegmentSpeedStat{
			ShapeRef:             key.ShapeRef,
			Direction:            key.Direction,
			Segment:              key.Segment,
			Count:                stat.count,
			Mean:                 stat.mean,
			Variance:             stat.variance,
			ModificationDateTime: stat.updated,
		})
		stat.Unlock()
	}

	return snapshot
}

// Load seeds the aggregates from previously persisted statistics
func (e *Estimator) Load(stats []*ctdf.SegmentSpeedStat) {
	e.statsMutex.Lock()
	defer e.statsMutex.Unlock()

	for _, stat := range stats {
		if stat.Count <= 0 {
			continue
		}

		e.stats[Key{ShapeRef: stat.ShapeRef, Direction: stat.Direction, Segment: stat.Segment}] = &segmentStat{
			count:    stat.Count,
			mean:     stat.Mean,
			variance: stat.Variance,
			updated:  stat.ModificationDateTime,
		}
	}
}
