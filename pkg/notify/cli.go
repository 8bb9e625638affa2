package notify

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/kr/pretty"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

func RegisterCLI() *cli.Command {
	return &cli.Command{
		Name:  "notify",
		Usage: "Stop estimate change notifications",
		Subcommands: []*cli.Command{
			{
				Name:  "tail",
				Usage: "print stop estimate changes as they are published",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "nats",
						Usage:   "NATS server URL",
						Value:   nats.DefaultURL,
						EnvVars: []string{"TRAVIGO_NATS_URL"},
					},
					&cli.StringFlag{
						Name:  "journey",
						Usage: "only show changes for this journey",
						Value: "*",
					},
				},
				Action: func(c *cli.Context) error {
					conn, err := nats.Connect(c.String("nats"), nats.Name("travigo-eta-tail"))
					if err != nil {
						return err
					}
					defer conn.Close()

					subject := SubjectPrefix + ".>"
					if c.String("journey") != "*" {
						subject = SubjectPrefix + "." + subjectToken(c.String("journey")) + ".*"
					}

					_, err = conn.Subscribe(subject, func(msg *nats.Msg) {
						var change map[string]any
						if err := json.Unmarshal(msg.Data, &change); err != nil {
							log.Error().Err(err).Str("subject", msg.Subject).Msg("Failed to decode change")
							return
						}

						pretty.Println(msg.Subject, msg.Header.Get(BatchHeader), change)
					})
					if err != nil {
						return err
					}

					log.Info().Str("subject", subject).Msg("Listening for stop estimate changes")

					signals := make(chan os.Signal, 1)
					signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
					defer signal.Stop(signals)

					<-signals

					return nil
				},
			},
		},
	}
}
