package ctdf

import (
	"fmt"
	"time"
)

var RealtimeJourneyIDFormat = "REALTIME:%s:%s"

type RealtimeJourney struct {
	PrimaryIdentifier string `groups:"basic"`
	ActivelyTracked   bool   `groups:"basic"`

	JourneyRef string   `groups:"internal"`
	Journey    *Journey `groups:"basic" bson:"-"`

	CreationDateTime     time.Time `groups:"detailed"`
	ModificationDateTime time.Time `groups:"detailed"`

	DataSource *DataSource `groups:"internal"`

	VehicleRef         string   `groups:"internal"`
	VehicleLocation    Location `groups:"basic"`
	DistanceAlongShape float64  `groups:"basic"`

	DepartedStopRef string `groups:"basic"`
	NextStopRef     string `groups:"basic"`

	// Aligned by index with Journey.Stops
	Stops []*RealtimeJourneyStop `groups:"basic"`

	Reliability RealtimeJourneyReliabilityType `groups:"basic"`
}

type RealtimeJourneyReliabilityType string

const (
	RealtimeJourneyReliabilityExternalProvided     RealtimeJourneyReliabilityType = "ExternalProvided"
	RealtimeJourneyReliabilityLocationWithTrack    RealtimeJourneyReliabilityType = "LocationWithTrack"
	RealtimeJourneyReliabilityLocationWithoutTrack RealtimeJourneyReliabilityType = "LocationWithoutTrack"
)

type RealtimeJourneyStopStatus string

const (
	RealtimeJourneyStopPending  RealtimeJourneyStopStatus = "Pending"
	RealtimeJourneyStopArrived  RealtimeJourneyStopStatus = "Arrived"
	RealtimeJourneyStopDeparted RealtimeJourneyStopStatus = "Departed"
)

type RealtimeJourneyStop struct {
	StopRef  string `groups:"basic"`
	Sequence int    `groups:"basic"`

	Status RealtimeJourneyStopStatus `groups:"basic"`
	// Unobserved stops were already behind the vehicle when tracking started
	Unobserved bool `groups:"basic"`

	EstimatedArrival   *time.Time `groups:"basic" bson:",omitempty"`
	EstimatedDeparture *time.Time `groups:"basic" bson:",omitempty"`
	ActualArrival      *time.Time `groups:"basic" bson:",omitempty"`
	ActualDeparture    *time.Time `groups:"basic" bson:",omitempty"`
}

func (s RealtimeJourneyStop) Equal(other RealtimeJourneyStop) bool {
	return s.StopRef == other.StopRef &&
		s.Sequence == other.Sequence &&
		s.Status == other.Status &&
		s.Unobserved == other.Unobserved &&
		timePointerEqual(s.EstimatedArrival, other.EstimatedArrival) &&
		timePointerEqual(s.EstimatedDeparture, other.EstimatedDeparture) &&
		timePointerEqual(s.ActualArrival, other.ActualArrival) &&
		timePointerEqual(s.ActualDeparture, other.ActualDeparture)
}

func timePointerEqual(a *time.Time, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func NewRealtimeJourney(journey *Journey, vehicleRef string, now time.Time) *RealtimeJourney {
	realtimeJourney := &RealtimeJourney{
		PrimaryIdentifier: fmt.Sprintf(RealtimeJourneyIDFormat, journey.DepartureTime.Format("2006-01-02"), journey.PrimaryIdentifier),
		ActivelyTracked:   true,
		JourneyRef:        journey.PrimaryIdentifier,
		Journey:           journey,
		VehicleRef:        vehicleRef,

		CreationDateTime:     now,
		ModificationDateTime: now,

		Reliability: RealtimeJourneyReliabilityLocationWithTrack,
		Stops:       make([]*RealtimeJourneyStop, len(journey.Stops)),
	}

	for i, stop := range journey.Stops {
		realtimeJourney.Stops[i] = &RealtimeJourneyStop{
			StopRef:  stop.StopRef,
			Sequence: stop.Sequence,
			Status:   RealtimeJourneyStopPending,
		}
	}

	if len(journey.Stops) > 0 {
		realtimeJourney.NextStopRef = journey.Stops[0].StopRef
	}

	return realtimeJourney
}

// Completed is true once every stop has been departed
func (r *RealtimeJourney) Completed() bool {
	if len(r.Stops) == 0 {
		return false
	}

	for _, stop := range r.Stops {
		if stop.Status != RealtimeJourneyStopDeparted {
			return false
		}
	}

	return true
}

// FirstOpenStop is the index of the first stop not yet departed, or -1
func (r *RealtimeJourney) FirstOpenStop() int {
	for i, stop := range r.Stops {
		if stop.Status != RealtimeJourneyStopDeparted {
			return i
		}
	}
	return -1
}

func (r *RealtimeJourney) CloneStops() []RealtimeJourneyStop {
	stops := make([]RealtimeJourneyStop, len(r.Stops))
	for i, stop := range r.Stops {
		stops[i] = *stop
	}
	return stops
}

// UpdateStopReferences refreshes the departed & next stop pointers after the stop states change
func (r *RealtimeJourney) UpdateStopReferences() {
	r.DepartedStopRef = ""
	r.NextStopRef = ""

	for _, stop := range r.Stops {
		if stop.Status == RealtimeJourneyStopDeparted {
			r.DepartedStopRef = stop.StopRef
		} else if r.NextStopRef == "" {
			r.NextStopRef = stop.StopRef
		}
	}
}
