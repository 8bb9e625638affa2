package ctdf

import "time"

// VehicleAssignment records which journey a vehicle is operating for a period of time
type VehicleAssignment struct {
	VehicleRef string `groups:"basic"`
	JourneyRef string `groups:"basic"`

	ValidFrom  time.Time `groups:"basic"`
	ValidUntil time.Time `groups:"basic"`

	DataSource *DataSource `groups:"internal"`

	ModificationDateTime time.Time `groups:"detailed"`
}

func (a *VehicleAssignment) ActiveAt(t time.Time) bool {
	if t.Before(a.ValidFrom) {
		return false
	}
	return a.ValidUntil.IsZero() || !t.After(a.ValidUntil)
}
