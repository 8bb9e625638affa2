package gtfs

import (
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/travigo/travigo-eta/pkg/database"
	"github.com/travigo/travigo-eta/pkg/redis_client"
	"github.com/urfave/cli/v2"

	_ "time/tzdata"
)

func RegisterCLI() *cli.Command {
	return &cli.Command{
		Name:  "gtfs",
		Usage: "Import GTFS schedules & GTFS-RT vehicle positions",
		Subcommands: []*cli.Command{
			{
				Name:      "import",
				Usage:     "Import a GTFS schedule zip into shapes, stops & journeys",
				ArgsUsage: "<file>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "dataset",
						Usage:    "ID of the dataset, used as the identifier prefix",
						Required: true,
					},
					&cli.IntFlag{
						Name:  "days",
						Usage: "Number of service days to generate journeys for",
						Value: 2,
					},
					&cli.StringFlag{
						Name:  "timezone",
						Usage: "Override the agency timezone",
					},
				},
				Action: func(c *cli.Context) error {
					if c.Args().Len() != 1 {
						return cli.Exit("expecting exactly one GTFS zip file", 1)
					}

					importer := &Importer{
						DatasetID: c.String("dataset"),
						Days:      c.Int("days"),
					}
					if c.String("timezone") != "" {
						location, err := time.LoadLocation(c.String("timezone"))
						if err != nil {
							return err
						}
						importer.Timezone = location
					}

					file, err := os.Open(c.Args().First())
					if err != nil {
						return err
					}
					defer file.Close()

					fileInfo, err := file.Stat()
					if err != nil {
						return err
					}

					if err := database.Connect(); err != nil {
						return err
					}

					return importer.Load(c.Context, fileInfo.Name(), file, fileInfo.Size())
				},
			},
			{
				Name:  "realtime",
				Usage: "Poll a GTFS-RT vehicle positions feed onto the realtime queue",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "url",
						Usage:    "URL of the GTFS-RT feed",
						EnvVars:  []string{"TRAVIGO_GTFS_RT_URL"},
						Required: true,
					},
					&cli.StringFlag{
						Name:     "dataset",
						Usage:    "ID of the schedule dataset the feed's trips belong to",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "queue",
						Usage: "Realtime queue to publish position reports to",
						Value: "realtime-positions",
					},
					&cli.DurationFlag{
						Name:  "interval",
						Usage: "Time between feed polls, the feed is only read once when zero",
						Value: 30 * time.Second,
					},
					&cli.DurationFlag{
						Name:  "assignment-length",
						Usage: "How long a vehicle stays assigned to a trip after it was last seen on it",
						Value: 90 * time.Minute,
					},
				},
				Action: func(c *cli.Context) error {
					if err := database.Connect(); err != nil {
						return err
					}
					if err := redis_client.Connect(); err != nil {
						return err
					}

					queue, err := redis_client.QueueConnection.OpenQueue(c.String("queue"))
					if err != nil {
						return err
					}

					ingester := &RealtimeIngester{
						URL:              c.String("url"),
						DatasetID:        c.String("dataset"),
						Queue:            queue,
						Client:           &http.Client{Timeout: 30 * time.Second},
						AssignmentLength: c.Duration("assignment-length"),
					}

					interval := c.Duration("interval")
					if interval <= 0 {
						return ingester.Ingest(c.Context)
					}

					ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
					defer stop()

					return ingester.Run(ctx, interval)
				},
			},
		},
	}
}
