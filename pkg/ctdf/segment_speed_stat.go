package ctdf

import "time"

type SegmentSpeedStat struct {
	ShapeRef  string
	Direction string
	Segment   int

	Count    int64
	Mean     float64
	Variance float64

	ModificationDateTime time.Time
}
