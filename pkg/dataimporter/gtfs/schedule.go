package gtfs

import (
	"archive/zip"
	"encoding/csv"
	"errors"
	"fmt"
	"io"

	"github.com/gocarina/gocsv"
	"github.com/rs/zerolog/log"
)

var ErrMissingFile = errors.New("required GTFS file missing")

type Schedule struct {
	Agencies      []Agency
	Stops         []Stop
	Routes        []Route
	Trips         []Trip
	StopTimes     []StopTime
	Calendars     []Calendar
	CalendarDates []CalendarDate
	Shapes        []Shape
}

var requiredFiles = []string{"stops.txt", "trips.txt", "stop_times.txt", "shapes.txt"}

func init() {
	// Allow us to ignore those naughty records that have missing columns
	gocsv.SetCSVReader(func(in io.Reader) gocsv.CSVReader {
		r := csv.NewReader(in)
		r.FieldsPerRecord = -1
		r.LazyQuotes = true
		return r
	})
}

func ParseScheduleZip(contents io.ReaderAt, size int64) (*Schedule, error) {
	archive, err := zip.NewReader(contents, size)
	if err != nil {
		return nil, err
	}

	schedule := &Schedule{}

	fileMap := map[string]interface{}{
		"agency.txt":         &schedule.Agencies,
		"stops.txt":          &schedule.Stops,
		"routes.txt":         &schedule.Routes,
		"trips.txt":          &schedule.Trips,
		"stop_times.txt":     &schedule.StopTimes,
		"calendar.txt":       &schedule.Calendars,
		"calendar_dates.txt": &schedule.CalendarDates,
		"shapes.txt":         &schedule.Shapes,
	}
	found := map[string]bool{}

	for _, zipFile := range archive.File {
		destination, exists := fileMap[zipFile.Name]
		if !exists {
			log.Debug().Str("file", zipFile.Name).Msg("Ignoring gtfs file")
			continue
		}

		log.Info().Str("file", zipFile.Name).Msg("Loading file")

		if err := unmarshalZipFile(zipFile, destination); err != nil {
			return nil, fmt.Errorf("%s: %w", zipFile.Name, err)
		}
		found[zipFile.Name] = true
	}

	for _, name := range requiredFiles {
		if !found[name] {
			return nil, fmt.Errorf("%w: %s", ErrMissingFile, name)
		}
	}

	return schedule, nil
}

func unmarshalZipFile(zipFile *zip.File, destination interface{}) error {
	fileReader, err := zipFile.Open()
	if err != nil {
		return err
	}
	defer fileReader.Close()

	err = gocsv.Unmarshal(fileReader, destination)
	if errors.Is(err, gocsv.ErrEmptyCSVFile) {
		return nil
	}
	return err
}
