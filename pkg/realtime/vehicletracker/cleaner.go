package vehicletracker

import (
	"context"
	"time"

	"github.com/adjust/rmq/v5"
	"github.com/rs/zerolog/log"
	"github.com/travigo/travigo-eta/pkg/database"
	"github.com/travigo/travigo-eta/pkg/redis_client"
)

// StartCleaner returns unacked deliveries of dead consumers to their queues and marks realtime
// journeys that have not been updated within the expiry as no longer tracked
func StartCleaner(ctx context.Context, expiry time.Duration) {
	cleaner := rmq.NewCleaner(redis_client.QueueConnection)

	log.Info().Msg("Starting realtime queue cleaner process")

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		returned, err := cleaner.Clean()
		if err != nil {
			log.Error().Err(err).Msg("Failed to clean")
		} else if returned != 0 {
			log.Info().Msgf("Cleaned %d records", returned)
		}

		deactivated, err := database.DeactivateRealtimeJourneys(ctx, time.Now().Add(-expiry))
		if err != nil {
			log.Error().Err(err).Msg("Failed to deactivate realtime journeys")
		} else if deactivated != 0 {
			log.Info().Int64("journeys", deactivated).Msg("Deactivated stale realtime journeys")
		}
	}
}
