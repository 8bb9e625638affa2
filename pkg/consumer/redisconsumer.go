package consumer

import (
	"fmt"
	"net/http"
	"time"

	"github.com/adjust/rmq/v5"
	"github.com/rs/zerolog/log"
	"github.com/travigo/travigo-eta/pkg/redis_client"
)

type RedisConsumer struct {
	QueueName string

	NumberConsumers int
	BatchSize       int

	Timeout time.Duration

	Consumer rmq.BatchConsumer

	// Served at /metrics when set
	MetricsHandler http.Handler
	StatsAddress   string
}

func (c *RedisConsumer) Setup() error {
	if err := c.startConsumers(); err != nil {
		return err
	}
	go c.startStatsServer()

	return nil
}

func (c *RedisConsumer) startConsumers() error {
	// Run the background consumers
	log.Info().Str("queue", c.QueueName).Msg("Starting consumers")

	queue, err := redis_client.QueueConnection.OpenQueue(c.QueueName)
	if err != nil {
		return err
	}
	if err := queue.StartConsuming(int64(c.NumberConsumers*c.BatchSize), 1*time.Second); err != nil {
		return err
	}

	for i := 0; i < c.NumberConsumers; i++ {
		log.Info().Msgf("Starting %s consumer %d", c.QueueName, i)

		if _, err := queue.AddBatchConsumer(fmt.Sprintf("%s-%d", c.QueueName, i), int64(c.BatchSize), c.Timeout, c.Consumer); err != nil {
			return err
		}
	}

	return nil
}

func (c *RedisConsumer) statsMux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle(fmt.Sprintf("/%s/stats", c.QueueName), NewStatsHandler(redis_client.QueueConnection))
	mux.Handle("/health", NewHealthHandler())
	if c.MetricsHandler != nil {
		mux.Handle("/metrics", c.MetricsHandler)
	}

	return mux
}

func (c *RedisConsumer) startStatsServer() {
	address := c.StatsAddress
	if address == "" {
		address = ":3333"
	}

	log.Info().Msgf("Stats server listening on http://localhost%s/%s/stats", address, c.QueueName)
	if err := http.ListenAndServe(address, c.statsMux()); err != nil {
		log.Error().Err(err).Msg("Stats server stopped")
	}
}
