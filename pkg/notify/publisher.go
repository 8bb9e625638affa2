package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/liip/sheriff"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
	"github.com/travigo/travigo-eta/pkg/ctdf"
)

const SubjectPrefix = "eta"
const BatchHeader = "Travigo-Batch-Id"

type Metrics interface {
	NotificationPublished(err error)
}

type natsConnection interface {
	PublishMsg(msg *nats.Msg) error
	FlushWithContext(ctx context.Context) error
	Drain() error
}

// Publisher sends every stop estimate change to NATS on eta.<journey>.<stop>. All changes
// produced by one report share a batch id header.
type Publisher struct {
	conn    natsConnection
	metrics Metrics
}

func NewPublisher(url string, metrics Metrics) (*Publisher, error) {
	conn, err := nats.Connect(url,
		nats.Name("travigo-eta"),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(conn *nats.Conn) {
			log.Info().Str("url", conn.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, err
	}

	return &Publisher{conn: conn, metrics: metrics}, nil
}

func (p *Publisher) PublishChanges(_ context.Context, _ *ctdf.RealtimeJourney, changes []*ctdf.StopEstimateChange) error {
	if len(changes) == 0 {
		return nil
	}

	batchID := uuid.New().String()

	for _, change := range changes {
		msg, err := changeMessage(batchID, change)
		if err != nil {
			return err
		}

		err = p.conn.PublishMsg(msg)
		if p.metrics != nil {
			p.metrics.NotificationPublished(err)
		}
		if err != nil {
			return fmt.Errorf("publish %s: %w", msg.Subject, err)
		}
	}

	return nil
}

func (p *Publisher) Flush(ctx context.Context) error {
	return p.conn.FlushWithContext(ctx)
}

func (p *Publisher) Close() error {
	return p.conn.Drain()
}

func Subject(journeyRef string, stopRef string) string {
	return fmt.Sprintf("%s.%s.%s", SubjectPrefix, subjectToken(journeyRef), subjectToken(stopRef))
}

func changeMessage(batchID string, change *ctdf.StopEstimateChange) (*nats.Msg, error) {
	reduced, err := sheriff.Marshal(&sheriff.Options{
		Groups: []string{"basic"},
	}, change)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(reduced)
	if err != nil {
		return nil, err
	}

	msg := nats.NewMsg(Subject(change.JourneyRef, change.StopRef))
	msg.Header.Set(BatchHeader, batchID)
	msg.Data = data

	return msg, nil
}

// NATS tokens cannot contain whitespace, wildcards or dots
func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	s = strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "\t", "_").Replace(s)
	if s == "" {
		return "_"
	}
	return s
}
