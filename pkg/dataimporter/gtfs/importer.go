package gtfs

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/travigo/travigo-eta/pkg/ctdf"
	"github.com/travigo/travigo-eta/pkg/database"
	"go.mongodb.org/mongo-driver/mongo"
)

// Importer loads a GTFS schedule into the shapes, stops & journeys collections.
// Journeys are generated for Days days starting today in the schedule's timezone.
type Importer struct {
	DatasetID string
	Days      int
	Timezone  *time.Location

	Now func() time.Time
}

type ImportResult struct {
	Shapes   []*ctdf.Shape
	Stops    []*ctdf.Stop
	Journeys []*ctdf.Journey
}

func (i *Importer) Convert(schedule *Schedule, source string) (*ImportResult, error) {
	now := time.Now()
	if i.Now != nil {
		now = i.Now()
	}

	location := i.Timezone
	if location == nil {
		location = time.UTC
		if len(schedule.Agencies) > 0 && schedule.Agencies[0].Timezone != "" {
			agencyLocation, err := time.LoadLocation(schedule.Agencies[0].Timezone)
			if err != nil {
				return nil, fmt.Errorf("agency timezone: %w", err)
			}
			location = agencyLocation
		}
	}

	days := i.Days
	if days < 1 {
		days = 1
	}

	datasource := &ctdf.DataSource{
		OriginalFormat: "GTFS",
		Provider:       i.DatasetID,
		Dataset:        source,
		Identifier:     source,
		Timestamp:      now.Format(time.RFC3339),
	}

	shapes := schedule.ConvertShapes(i.DatasetID, datasource, now)

	result := &ImportResult{}
	for _, shape := range shapes {
		result.Shapes = append(result.Shapes, shape)
	}

	for _, stop := range schedule.Stops {
		stopLocation := ctdf.NewLocation(stop.Latitude, stop.Longitude)
		if !stopLocation.IsValid() {
			continue
		}

		result.Stops = append(result.Stops, &ctdf.Stop{
			PrimaryIdentifier: fmt.Sprintf(ctdf.StopIDFormat, stop.ID),
			OtherIdentifiers: map[string]string{
				"GTFS-StopID": stop.ID,
			},
			CreationDateTime:     now,
			ModificationDateTime: now,
			DataSource:           datasource,
			PrimaryName:          stop.Name,
			Location:             stopLocation,
		})
	}

	today := now.In(location)
	for day := 0; day < days; day++ {
		date := time.Date(today.Year(), today.Month(), today.Day()+day, 0, 0, 0, 0, location)
		result.Journeys = append(result.Journeys, schedule.ConvertJourneys(i.DatasetID, date, shapes, datasource, now)...)
	}

	return result, nil
}

// Load parses a GTFS zip and writes the converted records to Mongo
func (i *Importer) Load(ctx context.Context, name string, contents io.ReaderAt, size int64) error {
	schedule, err := ParseScheduleZip(contents, size)
	if err != nil {
		return err
	}

	result, err := i.Convert(schedule, name)
	if err != nil {
		return err
	}

	log.Info().
		Str("file", name).
		Int("shapes", len(result.Shapes)).
		Int("stops", len(result.Stops)).
		Int("journeys", len(result.Journeys)).
		Msg("Converted GTFS schedule")

	var shapeOperations, stopOperations, journeyOperations []mongo.WriteModel
	for _, shape := range result.Shapes {
		shapeOperations = append(shapeOperations, database.ShapeWriteModel(shape))
	}
	for _, stop := range result.Stops {
		stopOperations = append(stopOperations, database.StopWriteModel(stop))
	}
	for _, journey := range result.Journeys {
		journeyOperations = append(journeyOperations, database.JourneyWriteModel(journey))
	}

	if err := database.BulkWrite(ctx, "shapes", shapeOperations, 500); err != nil {
		return err
	}
	if err := database.BulkWrite(ctx, "stops", stopOperations, 1000); err != nil {
		return err
	}
	return database.BulkWrite(ctx, "journeys", journeyOperations, 1000)
}
