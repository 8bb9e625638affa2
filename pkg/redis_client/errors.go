package redis_client

import (
	"github.com/adjust/rmq/v5"
	"github.com/rs/zerolog/log"
)

func logQueueErrors(errorChannel <-chan error) {
	for err := range errorChannel {
		switch err := err.(type) {
		case *rmq.HeartbeatError:
			if err.Count == rmq.HeartbeatErrorLimit {
				log.Error().Err(err).Msg("Queue heartbeat failed too often, consumers stopped")
			} else {
				log.Warn().Err(err).Msg("Queue heartbeat error")
			}
		case *rmq.ConsumeError:
			log.Error().Err(err).Msg("Queue consume error")
		case *rmq.DeliveryError:
			log.Error().Err(err).Msg("Queue delivery error")
		default:
			log.Error().Err(err).Msg("Queue error")
		}
	}
}
