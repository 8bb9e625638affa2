package main

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/travigo/travigo-eta/pkg/dataimporter/gtfs"
	"github.com/travigo/travigo-eta/pkg/notify"
	"github.com/travigo/travigo-eta/pkg/realtime/nationalrail/feed"
	"github.com/travigo/travigo-eta/pkg/realtime/vehicletracker"
	"github.com/travigo/travigo-eta/pkg/refsync"
	"github.com/urfave/cli/v2"

	_ "time/tzdata"
)

func main() {
	_ = godotenv.Load()

	if os.Getenv("TRAVIGO_LOG_FORMAT") != "JSON" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}

	if os.Getenv("TRAVIGO_DEBUG") == "YES" {
		log.Logger = log.Logger.Level(zerolog.DebugLevel)
	} else {
		log.Logger = log.Logger.Level(zerolog.InfoLevel)
	}

	app := &cli.App{
		Name:        "travigo-eta",
		Description: "Matches realtime vehicle positions onto journeys & estimates stop arrival and departure times",

		Commands: []*cli.Command{
			vehicletracker.RegisterCLI(),
			notify.RegisterCLI(),
			gtfs.RegisterCLI(),
			refsync.RegisterCLI(),
			feed.RegisterCLI(),
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		log.Fatal().Err(err).Send()
	}
}
