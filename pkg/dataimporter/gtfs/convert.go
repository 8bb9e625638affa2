package gtfs

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/travigo/travigo-eta/pkg/ctdf"
)

const ShapeIDFormat = "%s-shape-%s"

// JourneyID identifies one dated run of a trip, startDate is formatted as YYYYMMDD
func JourneyID(datasetID string, tripID string, startDate string) string {
	return fmt.Sprintf("%s-journey-%s-%s", datasetID, tripID, startDate)
}

func ShapeID(datasetID string, shapeID string) string {
	return fmt.Sprintf(ShapeIDFormat, datasetID, shapeID)
}

func directionName(directionID string) string {
	switch directionID {
	case "0":
		return "outbound"
	case "1":
		return "inbound"
	}
	return ""
}

// ParseServiceTime parses a GTFS HH:MM:SS time which may run past 24:00:00
func ParseServiceTime(value string) (time.Duration, error) {
	parts := strings.Split(strings.TrimSpace(value), ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("invalid service time %q", value)
	}

	var fields [3]int
	for i, part := range parts {
		number, err := strconv.Atoi(part)
		if err != nil || number < 0 {
			return 0, fmt.Errorf("invalid service time %q", value)
		}
		fields[i] = number
	}
	if fields[1] > 59 || fields[2] > 59 {
		return 0, fmt.Errorf("invalid service time %q", value)
	}

	return time.Duration(fields[0])*time.Hour + time.Duration(fields[1])*time.Minute + time.Duration(fields[2])*time.Second, nil
}

// serviceDayStart is noon minus 12 hours, which is the reference for GTFS times across DST changes
func serviceDayStart(date time.Time) time.Time {
	return time.Date(date.Year(), date.Month(), date.Day(), 12, 0, 0, 0, date.Location()).Add(-12 * time.Hour)
}

// ConvertShapes builds CTDF shapes with geodesic cumulative distances. Shapes that do not
// validate are skipped.
func (s *Schedule) ConvertShapes(datasetID string, datasource *ctdf.DataSource, now time.Time) map[string]*ctdf.Shape {
	points := map[string][]Shape{}
	for _, point := range s.Shapes {
		points[point.ID] = append(points[point.ID], point)
	}

	directions := map[string]string{}
	routes := map[string]string{}
	for _, trip := range s.Trips {
		if trip.ShapeID == "" {
			continue
		}
		if _, exists := directions[trip.ShapeID]; !exists {
			directions[trip.ShapeID] = directionName(trip.DirectionID)
			routes[trip.ShapeID] = trip.RouteID
		}
	}

	shapes := map[string]*ctdf.Shape{}
	for gtfsShapeID, shapePoints := range points {
		sort.SliceStable(shapePoints, func(i, j int) bool {
			return shapePoints[i].PointSequence < shapePoints[j].PointSequence
		})

		shape := &ctdf.Shape{
			PrimaryIdentifier: ShapeID(datasetID, gtfsShapeID),
			OtherIdentifiers: map[string]string{
				"GTFS-ShapeID": gtfsShapeID,
			},
			CreationDateTime:     now,
			ModificationDateTime: now,
			DataSource:           datasource,
			RouteRef:             routes[gtfsShapeID],
			Direction:            directions[gtfsShapeID],
		}
		for _, point := range shapePoints {
			shape.Points = append(shape.Points, ctdf.ShapePoint{
				Location: ctdf.NewLocation(point.PointLatitude, point.PointLongitude),
			})
		}
		shape.FillDistances()

		if err := shape.Validate(); err != nil {
			log.Warn().Err(err).Str("shape", gtfsShapeID).Msg("Skipping invalid shape")
			continue
		}

		shapes[gtfsShapeID] = shape
	}

	return shapes
}

// serviceCalendar returns a lookup of whether a GTFS service runs on a date
func (s *Schedule) serviceCalendar() func(serviceID string, date time.Time) bool {
	calendars := map[string]*Calendar{}
	for i := range s.Calendars {
		calendars[s.Calendars[i].ServiceID] = &s.Calendars[i]
	}

	exceptions := map[string]map[string]int{}
	for _, calendarDate := range s.CalendarDates {
		if _, exists := exceptions[calendarDate.ServiceID]; !exists {
			exceptions[calendarDate.ServiceID] = map[string]int{}
		}
		exceptions[calendarDate.ServiceID][calendarDate.Date] = calendarDate.ExceptionType
	}

	return func(serviceID string, date time.Time) bool {
		dateString := date.Format("20060102")

		switch exceptions[serviceID][dateString] {
		case CalendarDateAdded:
			return true
		case CalendarDateRemoved:
			return false
		}

		calendar, exists := calendars[serviceID]
		return exists && calendar.Covers(dateString) && calendar.RunsOnWeekday(date.Weekday())
	}
}

// ConvertJourneys builds dated CTDF journeys for every trip running on the date. Each stop is
// placed on the trip's shape by projecting the stop location forward from the previous stop.
func (s *Schedule) ConvertJourneys(datasetID string, date time.Time, shapes map[string]*ctdf.Shape, datasource *ctdf.DataSource, now time.Time) []*ctdf.Journey {
	runsOn := s.serviceCalendar()
	dayStart := serviceDayStart(date)
	startDate := date.Format("20060102")

	stops := map[string]*Stop{}
	for i := range s.Stops {
		stops[s.Stops[i].ID] = &s.Stops[i]
	}

	stopTimes := map[string][]StopTime{}
	for _, stopTime := range s.StopTimes {
		stopTimes[stopTime.TripID] = append(stopTimes[stopTime.TripID], stopTime)
	}

	var journeys []*ctdf.Journey
	skipped := 0

	for _, trip := range s.Trips {
		if !runsOn(trip.ServiceID, date) {
			continue
		}

		shape, exists := shapes[trip.ShapeID]
		if !exists {
			skipped++
			continue
		}

		tripStopTimes := stopTimes[trip.ID]
		sort.SliceStable(tripStopTimes, func(i, j int) bool {
			return tripStopTimes[i].StopSequence < tripStopTimes[j].StopSequence
		})

		journey := &ctdf.Journey{
			PrimaryIdentifier: JourneyID(datasetID, trip.ID, startDate),
			OtherIdentifiers: map[string]string{
				"GTFS-TripID":    trip.ID,
				"GTFS-RouteID":   trip.RouteID,
				"GTFS-StartDate": startDate,
			},
			CreationDateTime:     now,
			ModificationDateTime: now,
			DataSource:           datasource,
			ServiceRef:           trip.RouteID,
			ShapeRef:             shape.PrimaryIdentifier,
			Direction:            directionName(trip.DirectionID),
			DepartureTimezone:    date.Location().String(),
			DestinationDisplay:   trip.Headsign,
		}
		if trip.BlockID != "" {
			journey.OtherIdentifiers["BlockNumber"] = trip.BlockID
		}

		if err := s.buildJourneyStops(journey, tripStopTimes, stops, shape, dayStart); err != nil {
			log.Debug().Err(err).Str("trip", trip.ID).Msg("Skipping trip")
			skipped++
			continue
		}

		journeys = append(journeys, journey)
	}

	if skipped > 0 {
		log.Info().Int("skipped", skipped).Str("date", startDate).Msg("Trips skipped while building journeys")
	}

	return journeys
}

func (s *Schedule) buildJourneyStops(journey *ctdf.Journey, stopTimes []StopTime, stops map[string]*Stop, shape *ctdf.Shape, dayStart time.Time) error {
	if len(stopTimes) == 0 {
		return fmt.Errorf("trip has no stop times")
	}

	from := 0.0
	for i, stopTime := range stopTimes {
		stop, exists := stops[stopTime.StopID]
		if !exists {
			return fmt.Errorf("unknown stop %s", stopTime.StopID)
		}

		location := ctdf.NewLocation(stop.Latitude, stop.Longitude)
		if !location.IsValid() {
			return fmt.Errorf("stop %s has an invalid location", stopTime.StopID)
		}

		journeyStop := &ctdf.JourneyStop{
			StopRef:       fmt.Sprintf(ctdf.StopIDFormat, stopTime.StopID),
			Sequence:      stopTime.StopSequence,
			Location:      location,
			ShapeDistance: ProjectOntoShape(shape, location, from),
		}
		from = journeyStop.ShapeDistance

		if arrival, err := ParseServiceTime(stopTime.ArrivalTime); err == nil {
			journeyStop.PublicArrivalTime = dayStart.Add(arrival)
		}
		if departure, err := ParseServiceTime(stopTime.DepartureTime); err == nil {
			journeyStop.PublicDepartureTime = dayStart.Add(departure)
		}
		if journeyStop.PublicArrivalTime.IsZero() {
			journeyStop.PublicArrivalTime = journeyStop.PublicDepartureTime
		}
		if journeyStop.PublicDepartureTime.IsZero() {
			journeyStop.PublicDepartureTime = journeyStop.PublicArrivalTime
		}

		if i == 0 {
			journey.DepartureTime = journeyStop.PublicDepartureTime
		}

		journey.Stops = append(journey.Stops, journeyStop)
	}

	if journey.DepartureTime.IsZero() {
		return fmt.Errorf("first stop has no departure time")
	}

	return journey.Validate()
}

// ProjectOntoShape returns the distance along the shape closest to the location, not before from
func ProjectOntoShape(shape *ctdf.Shape, location ctdf.Location, from float64) float64 {
	best := from
	bestDeviation := math.Inf(1)

	for segment := shape.SegmentAt(from); segment < shape.SegmentCount(); segment++ {
		start, end := shape.SegmentBounds(segment)
		if end < from {
			continue
		}

		a := shape.Points[segment].Location
		b := shape.Points[segment+1].Location
		fraction, deviation := location.ProjectOntoLine(a, b)

		distance := start + fraction*(end-start)
		if distance < from {
			distance = from
			deviation = location.Distance(shape.LocationAt(from))
		}

		if deviation < bestDeviation {
			best = distance
			bestDeviation = deviation
		}
	}

	return best
}
