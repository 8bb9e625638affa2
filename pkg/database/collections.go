package database

import (
	"context"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func createIndexes() {
	createReferenceIndexes()
	createRealtimeIndexes()
}

func createIndex(collectionName string, indexes []mongo.IndexModel) {
	collection := GetCollection(collectionName)

	opts := options.CreateIndexes()
	_, err := collection.Indexes().CreateMany(context.Background(), indexes, opts)
	if err != nil {
		log.Error().Err(err).Str("collection", collectionName).Msg("Creating Index")
	}
}

func createReferenceIndexes() {
	createIndex("journeys", []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "primaryidentifier", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "shaperef", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "departuretime", Value: 1}},
		},
	})

	createIndex("shapes", []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "primaryidentifier", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "routeref", Value: 1}, {Key: "direction", Value: 1}},
		},
	})

	createIndex("stops", []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "primaryidentifier", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "location.coordinates", Value: "2d"}},
		},
	})
}

func createRealtimeIndexes() {
	createIndex("vehicle_assignments", []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "vehicleref", Value: 1}, {Key: "validfrom", Value: -1}},
		},
	})

	createIndex("realtime_journeys", []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "primaryidentifier", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "journeyref", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "vehicleref", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "modificationdatetime", Value: 1}},
		},
	})

	createIndex("segment_speed_stats", []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "shaperef", Value: 1}, {Key: "direction", Value: 1}, {Key: "segment", Value: 1}},
		},
	})
}
