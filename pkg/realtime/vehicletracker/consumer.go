package vehicletracker

import (
	"context"
	"encoding/json"
	"errors"
	"sort"

	"github.com/adjust/rmq/v5"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"
	"github.com/travigo/travigo-eta/pkg/ctdf"
)

// BatchConsumer feeds queued position reports into the engine. A batch is split by vehicle,
// vehicles are processed in parallel and each vehicle's reports in timestamp order.
type BatchConsumer struct {
	engine *Engine
	sink   ChangeSink

	maxGoroutines int
}

type queuedReport struct {
	delivery rmq.Delivery
	report   *ctdf.PositionReport
}

type vehicleOutcome struct {
	processed []rmq.Delivery
	failed    []rmq.Delivery
}

func NewBatchConsumer(engine *Engine, sink ChangeSink, maxGoroutines int) *BatchConsumer {
	if maxGoroutines < 1 {
		maxGoroutines = 1
	}

	return &BatchConsumer{
		engine:        engine,
		sink:          sink,
		maxGoroutines: maxGoroutines,
	}
}

func (c *BatchConsumer) Consume(batch rmq.Deliveries) {
	ctx := context.Background()

	vehicles, malformed := groupDeliveries(batch)
	rejectDeliveries(malformed)

	p := pool.NewWithResults[vehicleOutcome]().WithMaxGoroutines(c.maxGoroutines)
	for _, reports := range vehicles {
		p.Go(func() vehicleOutcome {
			return c.processVehicle(ctx, reports)
		})
	}

	var processed []rmq.Delivery
	for _, outcome := range p.Wait() {
		processed = append(processed, outcome.processed...)
		rejectDeliveries(outcome.failed)
	}

	// The engine has already applied these reports so a redelivery would be discarded as stale.
	// Failed writes stay in the sink and go out with the next flush.
	if err := c.sink.Flush(ctx); err != nil {
		log.Error().Err(err).Int("reports", len(processed)).Msg("Failed to write realtime journey changes, retrying on next flush")
	}

	for _, delivery := range processed {
		if err := delivery.Ack(); err != nil {
			log.Error().Err(err).Msg("Failed to ack position report")
		}
	}
}

func (c *BatchConsumer) processVehicle(ctx context.Context, reports []queuedReport) vehicleOutcome {
	var outcome vehicleOutcome

	for _, queued := range reports {
		result, err := c.engine.ProcessReport(ctx, queued.report)
		if err != nil {
			log.Error().Err(err).Str("vehicle", queued.report.VehicleRef).Msg("Failed to process position report")
			outcome.failed = append(outcome.failed, queued.delivery)
			continue
		}

		if result.RealtimeJourney != nil && !result.HasCondition(ConditionDuplicateOrStaleReport) {
			if err := c.sink.PublishChanges(ctx, result.RealtimeJourney, result.Changes); err != nil {
				log.Error().Err(err).Str("vehicle", result.VehicleRef).Str("journey", result.JourneyRef).Msg("Failed to publish stop changes")
			}
		}

		outcome.processed = append(outcome.processed, queued.delivery)
	}

	return outcome
}

// groupDeliveries decodes the batch into per vehicle report lists sorted by timestamp.
// Vehicles are returned in the order they first appear in the batch.
func groupDeliveries(batch rmq.Deliveries) ([][]queuedReport, []rmq.Delivery) {
	var malformed []rmq.Delivery
	var vehicles [][]queuedReport
	vehicleIndex := map[string]int{}

	for _, delivery := range batch {
		var report *ctdf.PositionReport
		if err := json.Unmarshal([]byte(delivery.Payload()), &report); err != nil || report == nil {
			if err == nil {
				err = errors.New("empty payload")
			}
			log.Error().Err(err).Msg("Failed to decode position report")
			malformed = append(malformed, delivery)
			continue
		}

		index, exists := vehicleIndex[report.VehicleRef]
		if !exists {
			index = len(vehicles)
			vehicleIndex[report.VehicleRef] = index
			vehicles = append(vehicles, nil)
		}
		vehicles[index] = append(vehicles[index], queuedReport{delivery: delivery, report: report})
	}

	for _, reports := range vehicles {
		sort.SliceStable(reports, func(i, j int) bool {
			return reports[i].report.Timestamp.Before(reports[j].report.Timestamp)
		})
	}

	return vehicles, malformed
}

func rejectDeliveries(deliveries []rmq.Delivery) {
	for _, delivery := range deliveries {
		if err := delivery.Reject(); err != nil {
			log.Error().Err(err).Msg("Failed to reject position report")
		}
	}
}
