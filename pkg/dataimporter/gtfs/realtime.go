package gtfs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/adjust/rmq/v5"
	"github.com/rs/zerolog/log"
	"github.com/travigo/travigo-eta/pkg/ctdf"
	"github.com/travigo/travigo-eta/pkg/database"
	"go.mongodb.org/mongo-driver/mongo"
	"google.golang.org/protobuf/proto"
)

type RealtimeFeed struct {
	Reports     []*ctdf.PositionReport
	Assignments []*ctdf.VehicleAssignment

	Total   int
	Skipped int
}

// ParseRealtime converts the vehicle positions of a GTFS-RT feed into position reports. Vehicles
// on a known trip also produce an assignment of the vehicle to that dated journey.
func ParseRealtime(body []byte, datasetID string, assignmentLength time.Duration, datasource *ctdf.DataSource) (*RealtimeFeed, error) {
	feed := gtfs.FeedMessage{}
	if err := proto.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("parsing GTFS-RT protobuf: %w", err)
	}

	result := &RealtimeFeed{Total: len(feed.Entity)}
	headerTimestamp := feed.GetHeader().GetTimestamp()

	for _, entity := range feed.Entity {
		vehiclePosition := entity.GetVehicle()
		if vehiclePosition == nil || vehiclePosition.Position == nil {
			result.Skipped++
			continue
		}

		vehicleID := vehiclePosition.GetVehicle().GetId()
		if vehicleID == "" {
			vehicleID = entity.GetId()
		}

		timestamp := vehiclePosition.GetTimestamp()
		if timestamp == 0 {
			timestamp = headerTimestamp
		}
		if vehicleID == "" || timestamp == 0 {
			result.Skipped++
			continue
		}

		vehicleRef := fmt.Sprintf("%s-vehicle-%s", datasetID, vehicleID)
		recordedAt := time.Unix(int64(timestamp), 0).UTC()

		report := &ctdf.PositionReport{
			VehicleRef: vehicleRef,
			Timestamp:  recordedAt,
			Latitude:   float64(vehiclePosition.Position.GetLatitude()),
			Longitude:  float64(vehiclePosition.Position.GetLongitude()),
			DataSource: datasource,
		}
		if vehiclePosition.Position.Speed != nil {
			speed := float64(vehiclePosition.Position.GetSpeed())
			report.Speed = &speed
		}
		result.Reports = append(result.Reports, report)

		trip := vehiclePosition.GetTrip()
		if trip.GetTripId() != "" && trip.GetStartDate() != "" {
			result.Assignments = append(result.Assignments, &ctdf.VehicleAssignment{
				VehicleRef:           vehicleRef,
				JourneyRef:           JourneyID(datasetID, trip.GetTripId(), trip.GetStartDate()),
				ValidFrom:            recordedAt,
				ValidUntil:           recordedAt.Add(assignmentLength),
				DataSource:           datasource,
				ModificationDateTime: recordedAt,
			})
		}
	}

	return result, nil
}

// RealtimeIngester polls a GTFS-RT feed, queues its position reports & stores vehicle assignments
type RealtimeIngester struct {
	URL       string
	DatasetID string
	Queue     rmq.Queue
	Client    *http.Client

	AssignmentLength time.Duration
}

func (r *RealtimeIngester) Fetch(ctx context.Context) ([]byte, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, r.URL, nil)
	if err != nil {
		return nil, err
	}

	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}

	response, err := client.Do(request)
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GTFS-RT feed returned %s", response.Status)
	}

	return io.ReadAll(response.Body)
}

func (r *RealtimeIngester) Ingest(ctx context.Context) error {
	body, err := r.Fetch(ctx)
	if err != nil {
		return err
	}

	feed, err := ParseRealtime(body, r.DatasetID, r.AssignmentLength, &ctdf.DataSource{
		OriginalFormat: "GTFS-RT",
		Provider:       r.DatasetID,
		Dataset:        r.URL,
		Timestamp:      time.Now().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}

	var assignmentOperations []mongo.WriteModel
	for _, assignment := range feed.Assignments {
		assignmentOperations = append(assignmentOperations, database.VehicleAssignmentWriteModel(assignment))
	}
	if err := database.BulkWrite(ctx, "vehicle_assignments", assignmentOperations, 1000); err != nil {
		return err
	}

	for _, report := range feed.Reports {
		reportJson, _ := json.Marshal(report)
		if err := r.Queue.PublishBytes(reportJson); err != nil {
			return err
		}
	}

	log.Info().
		Int("reports", len(feed.Reports)).
		Int("assignments", len(feed.Assignments)).
		Int("skipped", feed.Skipped).
		Int("total", feed.Total).
		Msg("Submitted vehicle locations")

	return nil
}

// Run ingests the feed every interval until the context is cancelled. Failed polls are logged
// and retried on the next tick.
func (r *RealtimeIngester) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		startTime := time.Now()
		if err := r.Ingest(ctx); err != nil {
			log.Error().Err(err).Str("url", r.URL).Msg("Failed to ingest GTFS-RT feed")
		}
		log.Debug().Str("duration", time.Since(startTime).String()).Msg("GTFS-RT poll complete")

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
