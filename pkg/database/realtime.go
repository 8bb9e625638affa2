package database

import (
	"context"
	"fmt"
	"time"

	"github.com/travigo/travigo-eta/pkg/ctdf"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// RealtimeJourneyWriteModel upserts the live state of a realtime journey. Only the stops named in
// changes are written unless allStops is set or every stop changed, in which case the whole stop
// list is replaced. allStops must be set whenever the document may not have a stops array yet
// as a per stop update would otherwise create it as an object.
func RealtimeJourneyWriteModel(realtimeJourney *ctdf.RealtimeJourney, changes []*ctdf.StopEstimateChange, allStops bool) mongo.WriteModel {
	update := bson.M{
		"primaryidentifier":    realtimeJourney.PrimaryIdentifier,
		"activelytracked":      realtimeJourney.ActivelyTracked,
		"journeyref":           realtimeJourney.JourneyRef,
		"modificationdatetime": realtimeJourney.ModificationDateTime,
		"datasource":           realtimeJourney.DataSource,
		"vehicleref":           realtimeJourney.VehicleRef,
		"vehiclelocation":      realtimeJourney.VehicleLocation,
		"distancealongshape":   realtimeJourney.DistanceAlongShape,
		"departedstopref":      realtimeJourney.DepartedStopRef,
		"nextstopref":          realtimeJourney.NextStopRef,
		"reliability":          realtimeJourney.Reliability,
	}

	if allStops || len(changes) == len(realtimeJourney.Stops) {
		update["stops"] = realtimeJourney.Stops
	} else {
		for _, change := range changes {
			update[fmt.Sprintf("stops.%d", change.StopIndex)] = realtimeJourney.Stops[change.StopIndex]
		}
	}

	return mongo.NewUpdateOneModel().
		SetFilter(bson.M{"primaryidentifier": realtimeJourney.PrimaryIdentifier}).
		SetUpdate(bson.M{
			"$set":         update,
			"$setOnInsert": bson.M{"creationdatetime": realtimeJourney.CreationDateTime},
		}).
		SetUpsert(true)
}

func LoadSegmentSpeedStats(ctx context.Context) ([]*ctdf.SegmentSpeedStat, error) {
	cursor, err := GetCollection("segment_speed_stats").Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}

	var stats []*ctdf.SegmentSpeedStat
	if err := cursor.All(ctx, &stats); err != nil {
		return nil, err
	}

	return stats, nil
}

func SegmentSpeedStatWriteModel(stat *ctdf.SegmentSpeedStat) mongo.WriteModel {
	return mongo.NewUpdateOneModel().
		SetFilter(bson.M{
			"shaperef":  stat.ShapeRef,
			"direction": stat.Direction,
			"segment":   stat.Segment,
		}).
		SetUpdate(bson.M{"$set": stat}).
		SetUpsert(true)
}

func SaveSegmentSpeedStats(ctx context.Context, stats []*ctdf.SegmentSpeedStat) error {
	operations := make([]mongo.WriteModel, 0, len(stats))
	for _, stat := range stats {
		operations = append(operations, SegmentSpeedStatWriteModel(stat))
	}

	return BulkWrite(ctx, "segment_speed_stats", operations, 1000)
}

// DeleteStaleSegmentSpeedStats removes statistics for shapes that no longer exist
func DeleteStaleSegmentSpeedStats(ctx context.Context, shapeRefs []string) (int64, error) {
	if len(shapeRefs) == 0 {
		return 0, nil
	}

	result, err := GetCollection("segment_speed_stats").DeleteMany(ctx, bson.M{"shaperef": bson.M{"$in": shapeRefs}})
	if err != nil {
		return 0, err
	}
	return result.DeletedCount, nil
}

// DeactivateRealtimeJourneys flags realtime journeys that have not been updated since the cutoff
func DeactivateRealtimeJourneys(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := GetCollection("realtime_journeys").UpdateMany(ctx, bson.M{
		"activelytracked":      true,
		"modificationdatetime": bson.M{"$lt": cutoff},
	}, bson.M{"$set": bson.M{"activelytracked": false}})
	if err != nil {
		return 0, err
	}
	return result.ModifiedCount, nil
}
