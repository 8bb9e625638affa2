package ctdf

import "time"

type PositionReport struct {
	VehicleRef string    `groups:"basic"`
	Timestamp  time.Time `groups:"basic"`

	Latitude  float64 `groups:"basic"`
	Longitude float64 `groups:"basic"`
	// Observed speed in metres per second, nil when the device did not send one
	Speed *float64 `groups:"basic" json:",omitempty"`

	DataSource *DataSource `groups:"internal" json:",omitempty"`
}

func (p *PositionReport) Location() Location {
	return NewLocation(p.Latitude, p.Longitude)
}
