package ctdf

import (
	"errors"
	"fmt"
	"time"
)

type Journey struct {
	PrimaryIdentifier string            `groups:"basic" bson:",omitempty"`
	OtherIdentifiers  map[string]string `groups:"basic" json:",omitempty" bson:",omitempty"`

	CreationDateTime     time.Time `groups:"detailed" bson:",omitempty"`
	ModificationDateTime time.Time `groups:"detailed" bson:",omitempty"`

	DataSource *DataSource `groups:"detailed" bson:",omitempty"`

	ServiceRef  string `groups:"internal" bson:",omitempty"`
	OperatorRef string `groups:"internal" bson:",omitempty"`

	ShapeRef  string `groups:"internal" bson:",omitempty"`
	Direction string `groups:"detailed" json:",omitempty" bson:",omitempty"`

	DepartureTime     time.Time `groups:"basic" bson:",omitempty"`
	DepartureTimezone string    `groups:"basic" bson:",omitempty"`

	DestinationDisplay string `groups:"basic" bson:",omitempty"`

	Stops []*JourneyStop `groups:"detailed" bson:",omitempty"`
}

func (j *Journey) Validate() error {
	if j.PrimaryIdentifier == "" {
		return errors.New("journey has no identifier")
	}
	if len(j.Stops) == 0 {
		return fmt.Errorf("journey %s has no stops", j.PrimaryIdentifier)
	}

	for i, stop := range j.Stops {
		if stop == nil {
			return fmt.Errorf("journey %s stop %d is nil", j.PrimaryIdentifier, i)
		}
		if i > 0 && stop.ShapeDistance < j.Stops[i-1].ShapeDistance {
			return fmt.Errorf("journey %s stop %s is before the previous stop on the shape", j.PrimaryIdentifier, stop.StopRef)
		}
	}

	return nil
}

type JourneyStop struct {
	StopRef  string `groups:"basic"`
	Sequence int    `groups:"basic"`

	Location      Location `groups:"basic"`
	ShapeDistance float64  `groups:"internal"`

	// A zero time means the stop has no scheduled time of that kind
	WorkingArrivalTime   time.Time `groups:"detailed" bson:",omitempty"`
	WorkingDepartureTime time.Time `groups:"detailed" bson:",omitempty"`
	PublicArrivalTime    time.Time `groups:"basic" bson:",omitempty"`
	PublicDepartureTime  time.Time `groups:"basic" bson:",omitempty"`
}

func (s *JourneyStop) ScheduledArrival() (time.Time, bool) {
	if !s.PublicArrivalTime.IsZero() {
		return s.PublicArrivalTime, true
	}
	if !s.WorkingArrivalTime.IsZero() {
		return s.WorkingArrivalTime, true
	}
	return time.Time{}, false
}

func (s *JourneyStop) ScheduledDeparture() (time.Time, bool) {
	if !s.PublicDepartureTime.IsZero() {
		return s.PublicDepartureTime, true
	}
	if !s.WorkingDepartureTime.IsZero() {
		return s.WorkingDepartureTime, true
	}
	return time.Time{}, false
}

func (s *JourneyStop) ScheduledDwell() time.Duration {
	arrival, hasArrival := s.ScheduledArrival()
	departure, hasDeparture := s.ScheduledDeparture()

	if !hasArrival || !hasDeparture || departure.Before(arrival) {
		return 0
	}

	return departure.Sub(arrival)
}
