package feed

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-stomp/stomp/v3"
	"github.com/rs/zerolog/log"
)

type EventHandler interface {
	Apply(ctx context.Context, event Event) error
}

type StompClient struct {
	Address   string
	Username  string
	Password  string
	QueueName string

	Handler EventHandler
}

// HandleMessage decodes one message body & applies its events, returning how many were applied
func (s *StompClient) HandleMessage(ctx context.Context, body []byte) (int, error) {
	message, err := DecodeBody(body)
	if err != nil {
		return 0, err
	}

	applied := 0
	var errs []error
	for _, event := range message.Events {
		if err := s.Handler.Apply(ctx, event); err != nil {
			errs = append(errs, err)
			continue
		}
		applied++
	}

	if message.Unsupported > 0 || message.Invalid > 0 {
		log.Debug().
			Int("events", len(message.Events)).
			Int("unsupported", message.Unsupported).
			Int("invalid", message.Invalid).
			Msg("Feed message contained skipped records")
	}

	return applied, errors.Join(errs...)
}

// Run subscribes to the queue & handles messages until the context is cancelled or the
// subscription ends
func (s *StompClient) Run(ctx context.Context) error {
	stompOptions := []func(*stomp.Conn) error{
		stomp.ConnOpt.Login(s.Username, s.Password),
	}
	conn, err := stomp.Dial("tcp", s.Address, stompOptions...)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", s.Address, err)
	}
	defer conn.Disconnect()

	sub, err := conn.Subscribe(s.QueueName, stomp.AckAuto)
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", s.QueueName, err)
	}
	defer sub.Unsubscribe()

	log.Info().Str("queue", s.QueueName).Msg("Subscribed to rail feed")

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-sub.C:
			if !ok {
				return errors.New("rail feed subscription closed")
			}
			if msg.Err != nil {
				return msg.Err
			}

			if _, err := s.HandleMessage(ctx, msg.Body); err != nil {
				log.Error().Err(err).Msg("Failed to handle rail feed message")
			}
		}
	}
}
