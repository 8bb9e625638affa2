package ctdf

import "time"

const StopIDFormat = "GB:ATCO:%s"
const TiplocStopIDFormat = "GB:TIPLOC:%s"

type Stop struct {
	PrimaryIdentifier string            `groups:"basic" bson:",omitempty"`
	OtherIdentifiers  map[string]string `groups:"basic" bson:",omitempty"`

	CreationDateTime     time.Time `groups:"detailed" bson:",omitempty"`
	ModificationDateTime time.Time `groups:"detailed" bson:",omitempty"`

	DataSource *DataSource `groups:"internal" bson:",omitempty"`

	PrimaryName string   `groups:"basic" bson:",omitempty"`
	Location    Location `groups:"basic" bson:",omitempty"`
}
