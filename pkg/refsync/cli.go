package refsync

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/travigo/travigo-eta/pkg/database"
	"github.com/travigo/travigo-eta/pkg/dataimporter/gtfs"
	"github.com/travigo/travigo-eta/pkg/dataimporter/railref"
	"github.com/urfave/cli/v2"
)

const (
	defaultTimetablePattern = `(?:^|/)timetable-(?P<year>\d{4})(?P<month>\d{2})(?P<day>\d{2})\.zip$`
	defaultReferencePattern = `(?:^|/)timetable-reference-(?P<year>\d{4})(?P<month>\d{2})(?P<day>\d{2})\.zip$`
)

var syncFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "bucket",
		Usage:   "Google Cloud Storage bucket holding the reference files",
		EnvVars: []string{"TRAVIGO_REFSYNC_BUCKET"},
	},
	&cli.StringFlag{
		Name:  "prefix",
		Usage: "Only consider bucket objects under this prefix",
	},
	&cli.StringFlag{
		Name:    "directory",
		Usage:   "Read reference files from a local directory instead of a bucket",
		EnvVars: []string{"TRAVIGO_REFSYNC_DIRECTORY"},
	},
	&cli.StringFlag{
		Name:  "timetable-pattern",
		Usage: "Regexp with year, month & day groups matching GTFS timetable files",
		Value: defaultTimetablePattern,
	},
	&cli.StringFlag{
		Name:  "reference-pattern",
		Usage: "Regexp with year, month & day groups matching timetable reference files",
		Value: defaultReferencePattern,
	},
	&cli.StringFlag{
		Name:     "dataset",
		Usage:    "ID of the GTFS timetable dataset",
		Required: true,
	},
	&cli.IntFlag{
		Name:  "days",
		Usage: "Number of service days to generate journeys for",
		Value: 2,
	},
}

func newSyncer(c *cli.Context) (*Syncer, func(), error) {
	timetablePattern, err := CompilePattern(c.String("timetable-pattern"))
	if err != nil {
		return nil, nil, err
	}
	referencePattern, err := CompilePattern(c.String("reference-pattern"))
	if err != nil {
		return nil, nil, err
	}

	var store ObjectStore
	closeStore := func() {}

	if c.String("directory") != "" {
		store = DirectoryStore{Path: c.String("directory")}
	} else {
		if c.String("bucket") == "" {
			return nil, nil, cli.Exit("either --bucket or --directory is required", 1)
		}

		gcsStore, err := NewGCSStore(c.Context, c.String("bucket"), c.String("prefix"))
		if err != nil {
			return nil, nil, err
		}
		store = gcsStore
		closeStore = func() { gcsStore.Close() }
	}

	return &Syncer{
		Store: store,
		Jobs: []*Job{
			{
				Name:    "timetable",
				Pattern: timetablePattern,
				Loader: &gtfs.Importer{
					DatasetID: c.String("dataset"),
					Days:      c.Int("days"),
				},
			},
			{
				Name:    "timetable-reference",
				Pattern: referencePattern,
				Loader:  &railref.Loader{},
			},
		},
	}, closeStore, nil
}

func RegisterCLI() *cli.Command {
	return &cli.Command{
		Name:  "refsync",
		Usage: "Keep timetable & timetable reference data in sync with the latest files in object storage",
		Subcommands: []*cli.Command{
			{
				Name:  "run",
				Usage: "poll for new reference files until stopped",
				Flags: append([]cli.Flag{
					&cli.DurationFlag{
						Name:  "interval",
						Usage: "Time between bucket listings",
						Value: time.Hour,
					},
				}, syncFlags...),
				Action: func(c *cli.Context) error {
					if err := database.Connect(); err != nil {
						return err
					}

					syncer, closeStore, err := newSyncer(c)
					if err != nil {
						return err
					}
					defer closeStore()

					ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
					defer stop()

					syncer.Run(ctx, c.Duration("interval"))

					return nil
				},
			},
			{
				Name:  "once",
				Usage: "load the latest reference files once",
				Flags: syncFlags,
				Action: func(c *cli.Context) error {
					if err := database.Connect(); err != nil {
						return err
					}

					syncer, closeStore, err := newSyncer(c)
					if err != nil {
						return err
					}
					defer closeStore()

					return syncer.Poll(c.Context)
				},
			},
		},
	}
}
