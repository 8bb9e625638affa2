package ctdf

import "time"

// ShapePosition is a fix matched onto a shape
type ShapePosition struct {
	ShapeRef   string
	Distance   float64
	Deviation  float64
	Confidence float64
	Segment    int
	Location   Location
	Timestamp  time.Time
}

type Vehicle struct {
	PrimaryIdentifier string

	JourneyRef      string
	RealtimeJourney *RealtimeJourney `bson:"-"`

	LastMatch      *ShapePosition
	LastReportTime time.Time
	LastLocation   Location
	LastSpeed      *float64
}
