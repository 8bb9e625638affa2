package passage

import (
	"time"

	"github.com/travigo/travigo-eta/pkg/ctdf"
)

type Config struct {
	// A vehicle this close to the next stop counts as arrived even if the shape match lags behind
	ArrivalRadius      float64       `yaml:"arrival_radius" validate:"gte=0"`
	DepartureTolerance float64       `yaml:"departure_tolerance" validate:"gte=0"`
	MaxDwell           time.Duration `yaml:"max_dwell" validate:"gt=0"`
}

var DefaultConfig = Config{
	ArrivalRadius:      30,
	DepartureTolerance: 25,
	MaxDwell:           5 * time.Minute,
}

type Transition struct {
	StopIndex int
	StopRef   string

	From ctdf.RealtimeJourneyStopStatus
	To   ctdf.RealtimeJourneyStopStatus

	// Skipped stops were passed between two reports, arrival & departure are the same instant
	Skipped    bool
	Unobserved bool
}

type Detector struct {
	config Config
}

func NewDetector(config Config) *Detector {
	return &Detector{config: config}
}

// Detect moves the realtime journey's stops through Pending -> Arrived -> Departed given the
// newly matched position. On the first match of the journey stops already left behind are marked
// as unobserved rather than given invented times, afterwards they are skipped.
func (d *Detector) Detect(journey *ctdf.Journey, realtimeJourney *ctdf.RealtimeJourney, firstMatch bool, current *ctdf.ShapePosition, location ctdf.Location) []Transition {
	first := realtimeJourney.FirstOpenStop()
	if first < 0 || len(journey.Stops) != len(realtimeJourney.Stops) {
		return nil
	}

	at := current.Timestamp

	reached := -1
	for i := first; i < len(journey.Stops); i++ {
		if journey.Stops[i].ShapeDistance > current.Distance {
			break
		}
		reached = i
	}

	if reached < 0 && realtimeJourney.Stops[first].Status == ctdf.RealtimeJourneyStopPending {
		stopLocation := journey.Stops[first].Location
		if stopLocation.IsValid() && location.IsValid() && location.Distance(stopLocation) <= d.config.ArrivalRadius {
			reached = first
		}
	}

	var transitions []Transition

	for i := first; i <= reached; i++ {
		stop := realtimeJourney.Stops[i]
		beyond := i < reached || current.Distance > journey.Stops[i].ShapeDistance+d.config.DepartureTolerance

		switch stop.Status {
		case ctdf.RealtimeJourneyStopPending:
			if firstMatch && beyond {
				transitions = append(transitions, d.unobserved(realtimeJourney, i))
			} else if beyond {
				transitions = append(transitions, d.skip(realtimeJourney, i, at))
			} else {
				transitions = append(transitions, d.arrive(realtimeJourney, i, at))
			}
		case ctdf.RealtimeJourneyStopArrived:
			if beyond || at.After(stop.ActualArrival.Add(d.config.MaxDwell)) {
				transitions = append(transitions, d.depart(realtimeJourney, i, at))
			}
		}
	}

	transitions = append(transitions, d.expire(realtimeJourney, reached+1, at)...)

	return transitions
}

// ExpireDwell departs any arrived stop that has been held longer than the maximum dwell
func (d *Detector) ExpireDwell(realtimeJourney *ctdf.RealtimeJourney, now time.Time) []Transition {
	first := realtimeJourney.FirstOpenStop()
	if first < 0 {
		return nil
	}

	return d.expire(realtimeJourney, first, now)
}

func (d *Detector) expire(realtimeJourney *ctdf.RealtimeJourney, from int, now time.Time) []Transition {
	var transitions []Transition

	for i := max(from, 0); i < len(realtimeJourney.Stops); i++ {
		stop := realtimeJourney.Stops[i]
		if stop.Status == ctdf.RealtimeJourneyStopArrived && now.After(stop.ActualArrival.Add(d.config.MaxDwell)) {
			transitions = append(transitions, d.depart(realtimeJourney, i, now))
		}
	}

	return transitions
}

func (d *Detector) arrive(realtimeJourney *ctdf.RealtimeJourney, index int, at time.Time) Transition {
	stop := realtimeJourney.Stops[index]

	arrival := laterOf(at, floor(realtimeJourney, index))
	stop.ActualArrival = &arrival
	stop.EstimatedArrival = nil
	stop.Status = ctdf.RealtimeJourneyStopArrived

	return Transition{StopIndex: index, StopRef: stop.StopRef, From: ctdf.RealtimeJourneyStopPending, To: stop.Status}
}

func (d *Detector) depart(realtimeJourney *ctdf.RealtimeJourney, index int, at time.Time) Transition {
	stop := realtimeJourney.Stops[index]

	departure := at
	if deadline := stop.ActualArrival.Add(d.config.MaxDwell); departure.After(deadline) {
		departure = deadline
	}
	departure = laterOf(departure, *stop.ActualArrival)

	stop.ActualDeparture = &departure
	stop.EstimatedArrival = nil
	stop.EstimatedDeparture = nil
	stop.Status = ctdf.RealtimeJourneyStopDeparted

	return Transition{StopIndex: index, StopRef: stop.StopRef, From: ctdf.RealtimeJourneyStopArrived, To: stop.Status}
}

func (d *Detector) skip(realtimeJourney *ctdf.RealtimeJourney, index int, at time.Time) Transition {
	stop := realtimeJourney.Stops[index]

	arrival := laterOf(at, floor(realtimeJourney, index))
	departure := arrival
	stop.ActualArrival = &arrival
	stop.ActualDeparture = &departure
	stop.EstimatedArrival = nil
	stop.EstimatedDeparture = nil
	stop.Status = ctdf.RealtimeJourneyStopDeparted

	return Transition{StopIndex: index, StopRef: stop.StopRef, From: ctdf.RealtimeJourneyStopPending, To: stop.Status, Skipped: true}
}

func (d *Detector) unobserved(realtimeJourney *ctdf.RealtimeJourney, index int) Transition {
	stop := realtimeJourney.Stops[index]

	stop.EstimatedArrival = nil
	stop.EstimatedDeparture = nil
	stop.Unobserved = true
	stop.Status = ctdf.RealtimeJourneyStopDeparted

	return Transition{StopIndex: index, StopRef: stop.StopRef, From: ctdf.RealtimeJourneyStopPending, To: stop.Status, Unobserved: true}
}

// floor is the latest actual time recorded on any stop before index
func floor(realtimeJourney *ctdf.RealtimeJourney, index int) time.Time {
	for i := index - 1; i >= 0; i-- {
		stop := realtimeJourney.Stops[i]
		if stop.ActualDeparture != nil {
			return *stop.ActualDeparture
		}
		if stop.ActualArrival != nil {
			return *stop.ActualArrival
		}
	}

	return time.Time{}
}

func laterOf(a time.Time, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
