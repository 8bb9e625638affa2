package gtfs

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
)

func testFeed(t *testing.T) []byte {
	feed := &gtfs.FeedMessage{
		Header: &gtfs.FeedHeader{
			GtfsRealtimeVersion: proto.String("2.0"),
			Timestamp:           proto.Uint64(1791000000),
		},
		Entity: []*gtfs.FeedEntity{
			{
				Id: proto.String("1"),
				Vehicle: &gtfs.VehiclePosition{
					Trip: &gtfs.TripDescriptor{
						TripId:    proto.String("T1"),
						StartDate: proto.String("20261012"),
					},
					Vehicle: &gtfs.VehicleDescriptor{Id: proto.String("bus-1")},
					Position: &gtfs.Position{
						Latitude:  proto.Float32(51.5),
						Longitude: proto.Float32(-0.25),
						Speed:     proto.Float32(12.5),
					},
					Timestamp: proto.Uint64(1791000100),
				},
			},
			{
				Id: proto.String("2"),
				Vehicle: &gtfs.VehiclePosition{
					Position: &gtfs.Position{
						Latitude:  proto.Float32(51),
						Longitude: proto.Float32(0),
					},
				},
			},
			{
				Id: proto.String("3"),
				Vehicle: &gtfs.VehiclePosition{
					Vehicle: &gtfs.VehicleDescriptor{Id: proto.String("bus-3")},
				},
			},
			{
				Id:         proto.String("4"),
				TripUpdate: &gtfs.TripUpdate{Trip: &gtfs.TripDescriptor{TripId: proto.String("T9")}},
			},
		},
	}

	body, err := proto.Marshal(feed)
	require.NoError(t, err)
	return body
}

func TestParseRealtime(t *testing.T) {
	result, err := ParseRealtime(testFeed(t), "test", time.Hour, nil)
	require.NoError(t, err)

	assert.Equal(t, 4, result.Total)
	assert.Equal(t, 2, result.Skipped)
	require.Len(t, result.Reports, 2)

	report := result.Reports[0]
	assert.Equal(t, "test-vehicle-bus-1", report.VehicleRef)
	assert.Equal(t, time.Unix(1791000100, 0).UTC(), report.Timestamp)
	assert.Equal(t, 51.5, report.Latitude)
	assert.Equal(t, -0.25, report.Longitude)
	require.NotNil(t, report.Speed)
	assert.Equal(t, 12.5, *report.Speed)

	// No vehicle descriptor & no timestamp falls back to the entity id & header time
	assert.Equal(t, "test-vehicle-2", result.Reports[1].VehicleRef)
	assert.Equal(t, time.Unix(1791000000, 0).UTC(), result.Reports[1].Timestamp)
	assert.Nil(t, result.Reports[1].Speed)

	require.Len(t, result.Assignments, 1)
	assignment := result.Assignments[0]
	assert.Equal(t, "test-vehicle-bus-1", assignment.VehicleRef)
	assert.Equal(t, "test-journey-T1-20261012", assignment.JourneyRef)
	assert.True(t, assignment.ActiveAt(report.Timestamp.Add(30*time.Minute)))
	assert.False(t, assignment.ActiveAt(report.Timestamp.Add(2*time.Hour)))
}

func TestParseRealtimeInvalid(t *testing.T) {
	_, err := ParseRealtime([]byte("not a protobuf"), "test", time.Hour, nil)
	assert.Error(t, err)
}

func TestRealtimeIngesterFetch(t *testing.T) {
	body := testFeed(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/feed" {
			http.NotFound(w, r)
			return
		}
		w.Write(body)
	}))
	defer server.Close()

	ingester := &RealtimeIngester{URL: server.URL + "/feed"}
	fetched, err := ingester.Fetch(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, body, fetched)

	ingester.URL = server.URL + "/missing"
	_, err = ingester.Fetch(context.Background())
	assert.Error(t, err)
}
