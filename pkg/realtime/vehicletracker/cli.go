package vehicletracker

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kr/pretty"
	"github.com/rs/zerolog/log"
	"github.com/travigo/travigo-eta/pkg/consumer"
	"github.com/travigo/travigo-eta/pkg/ctdf"
	"github.com/travigo/travigo-eta/pkg/database"
	"github.com/travigo/travigo-eta/pkg/elastic_client"
	"github.com/travigo/travigo-eta/pkg/metrics"
	"github.com/travigo/travigo-eta/pkg/notify"
	"github.com/travigo/travigo-eta/pkg/redis_client"
	"github.com/travigo/travigo-eta/pkg/util"
	"github.com/urfave/cli/v2"
)

var configFlag = &cli.StringFlag{
	Name:    "config",
	Usage:   "engine configuration YAML file",
	EnvVars: []string{"TRAVIGO_ETA_CONFIG"},
}

func RegisterCLI() *cli.Command {
	return &cli.Command{
		Name:  "vehicle-tracker",
		Usage: "Realtime engine matches vehicle positions onto journeys and estimates stop times",
		Subcommands: []*cli.Command{
			{
				Name:  "run",
				Usage: "run an instance of the realtime engine",
				Flags: []cli.Flag{configFlag},
				Action: func(c *cli.Context) error {
					config, err := GetConfig(c.String("config"))
					if err != nil {
						return err
					}

					if err := database.Connect(); err != nil {
						return err
					}
					if err := elastic_client.Connect(false); err != nil {
						return err
					}
					if err := redis_client.Connect(); err != nil {
						return err
					}

					collector := metrics.NewCollector()

					sinks := MultiSink{NewRealtimeJourneyWriter()}

					env := util.GetEnvironmentVariables()
					var publisher *notify.Publisher
					if env["TRAVIGO_NATS_URL"] != "" {
						publisher, err = notify.NewPublisher(env["TRAVIGO_NATS_URL"], collector)
						if err != nil {
							return err
						}
						sinks = append(sinks, publisher)
					}

					journeys := NewJourneySnapshot()
					engine := NewEngine(EngineOptions{
						Config: config,
						Journeys: &AssignmentResolver{
							Assignments: NewCachedAssignmentStore(),
							Journeys:    journeys,
						},
						Metrics:  collector,
						Recorder: &ElasticRecorder{IndexPrefix: "realtime-eta-events"},
					})

					service := &Service{
						Engine:   engine,
						Journeys: journeys,
						Source:   MongoReferenceSource{},
						Sink:     sinks,
						Gauges:   collector,
						Config:   config.Tracker,
					}

					ctx, cancel := context.WithCancel(context.Background())
					defer cancel()

					if err := service.LoadReference(ctx, time.Now()); err != nil {
						return err
					}
					if err := service.WarmSpeeds(ctx); err != nil {
						log.Error().Err(err).Msg("Failed to load segment speed statistics")
					}

					redisConsumer := consumer.RedisConsumer{
						QueueName:       config.Tracker.QueueName,
						NumberConsumers: config.Tracker.NumConsumers,
						BatchSize:       config.Tracker.BatchSize,
						Timeout:         2 * time.Second,
						Consumer:        NewBatchConsumer(engine, sinks, config.Tracker.NumConsumers*4),
						MetricsHandler:  collector.Handler(),
					}
					if err := redisConsumer.Setup(); err != nil {
						return err
					}

					serviceDone := make(chan struct{})
					go func() {
						service.Run(ctx)
						close(serviceDone)
					}()

					waitForSignal()

					<-redis_client.QueueConnection.StopAllConsuming() // wait for all Consume() calls to finish

					cancel()
					<-serviceDone

					elastic_client.WaitUntilQueueEmpty()
					if publisher != nil {
						if err := publisher.Close(); err != nil {
							log.Error().Err(err).Msg("Failed to drain NATS connection")
						}
					}

					return nil
				},
			},
			{
				Name:  "cleaner",
				Usage: "run the queue cleaner for the realtime queue",
				Flags: []cli.Flag{configFlag},
				Action: func(c *cli.Context) error {
					config, err := GetConfig(c.String("config"))
					if err != nil {
						return err
					}

					if err := database.Connect(); err != nil {
						return err
					}
					if err := redis_client.Connect(); err != nil {
						return err
					}

					ctx, cancel := context.WithCancel(context.Background())
					defer cancel()

					go StartCleaner(ctx, config.Tracker.VehicleExpiry)

					waitForSignal()

					return nil
				},
			},
			{
				Name:  "process-report",
				Usage: "process a single position report against the current reference data and print the result",
				Flags: []cli.Flag{
					configFlag,
					&cli.StringFlag{Name: "vehicle", Required: true},
					&cli.StringFlag{Name: "journey", Usage: "journey to assign the vehicle to instead of looking up its assignment"},
					&cli.Float64Flag{Name: "latitude", Required: true},
					&cli.Float64Flag{Name: "longitude", Required: true},
					&cli.Float64Flag{Name: "speed", Value: -1, Usage: "observed speed in m/s, omitted when negative"},
					&cli.TimestampFlag{Name: "timestamp", Layout: time.RFC3339},
				},
				Action: func(c *cli.Context) error {
					config, err := GetConfig(c.String("config"))
					if err != nil {
						return err
					}

					if err := database.Connect(); err != nil {
						return err
					}

					var assignments AssignmentStore
					if c.String("journey") != "" {
						assignments = StaticAssignments{c.String("vehicle"): c.String("journey")}
					} else {
						if err := redis_client.Connect(); err != nil {
							return err
						}
						assignments = NewCachedAssignmentStore()
					}

					timestamp := time.Now()
					if c.Timestamp("timestamp") != nil {
						timestamp = *c.Timestamp("timestamp")
					}

					journeys := NewJourneySnapshot()
					engine := NewEngine(EngineOptions{
						Config:   config,
						Journeys: &AssignmentResolver{Assignments: assignments, Journeys: journeys},
					})
					service := &Service{Engine: engine, Journeys: journeys, Source: MongoReferenceSource{}, Config: config.Tracker}

					if err := service.LoadReference(c.Context, timestamp); err != nil {
						return err
					}
					if err := service.WarmSpeeds(c.Context); err != nil {
						return err
					}

					report := &ctdf.PositionReport{
						VehicleRef: c.String("vehicle"),
						Timestamp:  timestamp,
						Latitude:   c.Float64("latitude"),
						Longitude:  c.Float64("longitude"),
					}
					if speed := c.Float64("speed"); speed >= 0 {
						report.Speed = &speed
					}

					result, err := engine.ProcessReport(c.Context, report)
					if err != nil {
						return err
					}

					pretty.Println(result)

					return nil
				},
			},
		},
	}
}

func waitForSignal() {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	<-signals // wait for signal
	go func() {
		<-signals // hard exit on second signal (in case shutdown gets stuck)
		os.Exit(1)
	}()
}
