package ctdf

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

type Shape struct {
	PrimaryIdentifier string            `groups:"basic" bson:",omitempty"`
	OtherIdentifiers  map[string]string `groups:"basic" bson:",omitempty"`

	CreationDateTime     time.Time `groups:"detailed" bson:",omitempty"`
	ModificationDateTime time.Time `groups:"detailed" bson:",omitempty"`

	DataSource *DataSource `groups:"internal" bson:",omitempty"`

	RouteRef  string `groups:"basic" bson:",omitempty"`
	Direction string `groups:"basic" bson:",omitempty"`

	Points []ShapePoint `groups:"detailed" bson:",omitempty"`
}

type ShapePoint struct {
	Location      Location `groups:"basic"`
	DistanceAlong float64  `groups:"basic"`
}

func (s *Shape) Length() float64 {
	if len(s.Points) == 0 {
		return 0
	}
	return s.Points[len(s.Points)-1].DistanceAlong
}

func (s *Shape) SegmentCount() int {
	if len(s.Points) < 2 {
		return 0
	}
	return len(s.Points) - 1
}

func (s *Shape) Validate() error {
	if s.PrimaryIdentifier == "" {
		return errors.New("shape has no identifier")
	}
	if len(s.Points) < 2 {
		return fmt.Errorf("shape %s has %d points, need at least 2", s.PrimaryIdentifier, len(s.Points))
	}

	for i, point := range s.Points {
		if !point.Location.IsValid() {
			return fmt.Errorf("shape %s point %d has an invalid location", s.PrimaryIdentifier, i)
		}
		if i > 0 && point.DistanceAlong < s.Points[i-1].DistanceAlong {
			return fmt.Errorf("shape %s point %d distance goes backwards", s.PrimaryIdentifier, i)
		}
	}

	return nil
}

// FillDistances recalculates every cumulative distance from the point geometry
func (s *Shape) FillDistances() {
	total := 0.0
	for i := range s.Points {
		if i > 0 {
			total += s.Points[i-1].Location.Distance(s.Points[i].Location)
		}
		s.Points[i].DistanceAlong = total
	}
}

// SegmentAt gives the segment containing the distance, clamped to the ends of the shape
func (s *Shape) SegmentAt(distance float64) int {
	segments := s.SegmentCount()
	if segments == 0 {
		return 0
	}

	index := sort.Search(len(s.Points), func(i int) bool {
		return s.Points[i].DistanceAlong > distance
	}) - 1

	if index < 0 {
		return 0
	}
	if index >= segments {
		return segments - 1
	}
	return index
}

// SegmentBounds returns the start & end distance of a segment
func (s *Shape) SegmentBounds(segment int) (float64, float64) {
	return s.Points[segment].DistanceAlong, s.Points[segment+1].DistanceAlong
}

// LocationAt returns the point on the shape at the given distance
func (s *Shape) LocationAt(distance float64) Location {
	if len(s.Points) == 0 {
		return Location{}
	}
	if len(s.Points) == 1 {
		return s.Points[0].Location
	}

	segment := s.SegmentAt(distance)
	start, end := s.SegmentBounds(segment)

	fraction := 0.0
	if end > start {
		fraction = (distance - start) / (end - start)
	}

	return Interpolate(s.Points[segment].Location, s.Points[segment+1].Location, fraction)
}
