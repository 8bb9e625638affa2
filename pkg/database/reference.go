package database

import (
	"context"
	"time"

	"github.com/travigo/travigo-eta/pkg/ctdf"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func LoadShapes(ctx context.Context) ([]*ctdf.Shape, error) {
	cursor, err := GetCollection("shapes").Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}

	var shapes []*ctdf.Shape
	if err := cursor.All(ctx, &shapes); err != nil {
		return nil, err
	}

	return shapes, nil
}

// LoadJourneys returns every journey departing within the window
func LoadJourneys(ctx context.Context, from time.Time, to time.Time) ([]*ctdf.Journey, error) {
	cursor, err := GetCollection("journeys").Find(ctx, bson.M{
		"departuretime": bson.M{"$gte": from, "$lte": to},
	})
	if err != nil {
		return nil, err
	}

	var journeys []*ctdf.Journey
	if err := cursor.All(ctx, &journeys); err != nil {
		return nil, err
	}

	return journeys, nil
}

// FindVehicleAssignment returns the most recent assignment of the vehicle active at the given time.
// mongo.ErrNoDocuments is returned when there is none.
func FindVehicleAssignment(ctx context.Context, vehicleRef string, at time.Time) (*ctdf.VehicleAssignment, error) {
	var assignment *ctdf.VehicleAssignment

	err := GetCollection("vehicle_assignments").FindOne(ctx, bson.M{
		"vehicleref": vehicleRef,
		"validfrom":  bson.M{"$lte": at},
		"$or": bson.A{
			bson.M{"validuntil": bson.M{"$gte": at}},
			bson.M{"validuntil": time.Time{}},
		},
	}, options.FindOne().SetSort(bson.D{{Key: "validfrom", Value: -1}})).Decode(&assignment)
	if err != nil {
		return nil, err
	}

	return assignment, nil
}

func ShapeWriteModel(shape *ctdf.Shape) mongo.WriteModel {
	return mongo.NewReplaceOneModel().
		SetFilter(bson.M{"primaryidentifier": shape.PrimaryIdentifier}).
		SetReplacement(shape).
		SetUpsert(true)
}

func JourneyWriteModel(journey *ctdf.Journey) mongo.WriteModel {
	return mongo.NewReplaceOneModel().
		SetFilter(bson.M{"primaryidentifier": journey.PrimaryIdentifier}).
		SetReplacement(journey).
		SetUpsert(true)
}

func VehicleAssignmentWriteModel(assignment *ctdf.VehicleAssignment) mongo.WriteModel {
	return mongo.NewReplaceOneModel().
		SetFilter(bson.M{"vehicleref": assignment.VehicleRef, "validfrom": assignment.ValidFrom}).
		SetReplacement(assignment).
		SetUpsert(true)
}

// BulkWrite writes the operations in chunks, ignoring an empty list
func BulkWrite(ctx context.Context, collectionName string, operations []mongo.WriteModel, chunkSize int) error {
	collection := GetCollection(collectionName)

	for start := 0; start < len(operations); start += chunkSize {
		end := min(start+chunkSize, len(operations))

		if _, err := collection.BulkWrite(ctx, operations[start:end], options.BulkWrite().SetOrdered(false)); err != nil {
			return err
		}
	}

	return nil
}

func StopWriteModel(stop *ctdf.Stop) mongo.WriteModel {
	return mongo.NewUpdateOneModel().
		SetFilter(bson.M{"primaryidentifier": stop.PrimaryIdentifier}).
		SetUpdate(bson.M{"$set": stop}).
		SetUpsert(true)
}
