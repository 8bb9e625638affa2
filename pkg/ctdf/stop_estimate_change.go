package ctdf

import "time"

type StopEstimateChange struct {
	RealtimeJourneyRef string `groups:"basic"`
	JourneyRef         string `groups:"basic"`
	VehicleRef         string `groups:"internal"`

	StopRef   string `groups:"basic"`
	Sequence  int    `groups:"basic"`
	StopIndex int    `groups:"internal"`

	Status     RealtimeJourneyStopStatus `groups:"basic"`
	Unobserved bool                      `groups:"basic"`

	EstimatedArrival   *time.Time `groups:"basic"`
	EstimatedDeparture *time.Time `groups:"basic"`
	ActualArrival      *time.Time `groups:"basic"`
	ActualDeparture    *time.Time `groups:"basic"`

	RecordedAt time.Time `groups:"detailed"`
}

func NewStopEstimateChange(realtimeJourney *RealtimeJourney, index int, recordedAt time.Time) *StopEstimateChange {
	stop := realtimeJourney.Stops[index]

	return &StopEstimateChange{
		RealtimeJourneyRef: realtimeJourney.PrimaryIdentifier,
		JourneyRef:         realtimeJourney.JourneyRef,
		VehicleRef:         realtimeJourney.VehicleRef,
		StopRef:            stop.StopRef,
		Sequence:           stop.Sequence,
		StopIndex:          index,
		Status:             stop.Status,
		Unobserved:         stop.Unobserved,
		EstimatedArrival:   stop.EstimatedArrival,
		EstimatedDeparture: stop.EstimatedDeparture,
		ActualArrival:      stop.ActualArrival,
		ActualDeparture:    stop.ActualDeparture,
		RecordedAt:         recordedAt,
	}
}
