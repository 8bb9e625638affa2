package feed

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/travigo/travigo-eta/pkg/redis_client"
	"github.com/urfave/cli/v2"
)

func RegisterCLI() *cli.Command {
	return &cli.Command{
		Name:  "rail-feed",
		Usage: "Track rail feed alarms, disruption reasons & train id corrections",
		Subcommands: []*cli.Command{
			{
				Name:  "run",
				Usage: "subscribe to the rail feed",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "address",
						EnvVars:  []string{"TRAVIGO_NATIONALRAIL_STOMP_ADDRESS"},
						Required: true,
					},
					&cli.StringFlag{
						Name:    "username",
						EnvVars: []string{"TRAVIGO_NATIONALRAIL_STOMP_USERNAME"},
					},
					&cli.StringFlag{
						Name:    "password",
						EnvVars: []string{"TRAVIGO_NATIONALRAIL_STOMP_PASSWORD"},
					},
					&cli.StringFlag{
						Name:    "queue",
						EnvVars: []string{"TRAVIGO_NATIONALRAIL_STOMP_QUEUE"},
						Value:   "/topic/darwin.pushport-v16",
					},
					&cli.DurationFlag{
						Name:  "expiry",
						Usage: "How long feed flags are kept",
						Value: 6 * time.Hour,
					},
				},
				Action: func(c *cli.Context) error {
					if err := redis_client.Connect(); err != nil {
						return err
					}

					log.Info().Msg("Starting rail feed tracker")

					ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
					defer stop()

					client := &StompClient{
						Address:   c.String("address"),
						Username:  c.String("username"),
						Password:  c.String("password"),
						QueueName: c.String("queue"),
						Handler:   NewFlagStore(c.Duration("expiry")),
					}

					return client.Run(ctx)
				},
			},
		},
	}
}
