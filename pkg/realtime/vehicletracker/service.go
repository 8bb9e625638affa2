package vehicletracker

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/travigo/travigo-eta/pkg/ctdf"
	"github.com/travigo/travigo-eta/pkg/database"
)

// ReferenceSource provides the reference data snapshots and stores speed statistics
type ReferenceSource interface {
	Shapes(ctx context.Context) ([]*ctdf.Shape, error)
	Journeys(ctx context.Context, from time.Time, to time.Time) ([]*ctdf.Journey, error)

	SpeedStats(ctx context.Context) ([]*ctdf.SegmentSpeedStat, error)
	SaveSpeedStats(ctx context.Context, stats []*ctdf.SegmentSpeedStat) error
	DeleteSpeedStats(ctx context.Context, shapeRefs []string) error
}

type MongoReferenceSource struct{}

func (MongoReferenceSource) Shapes(ctx context.Context) ([]*ctdf.Shape, error) {
	return database.LoadShapes(ctx)
}

func (MongoReferenceSource) Journeys(ctx context.Context, from time.Time, to time.Time) ([]*ctdf.Journey, error) {
	return database.LoadJourneys(ctx, from, to)
}

func (MongoReferenceSource) SpeedStats(ctx context.Context) ([]*ctdf.SegmentSpeedStat, error) {
	return database.LoadSegmentSpeedStats(ctx)
}

func (MongoReferenceSource) SaveSpeedStats(ctx context.Context, stats []*ctdf.SegmentSpeedStat) error {
	return database.SaveSegmentSpeedStats(ctx, stats)
}

func (MongoReferenceSource) DeleteSpeedStats(ctx context.Context, shapeRefs []string) error {
	_, err := database.DeleteStaleSegmentSpeedStats(ctx, shapeRefs)
	return err
}

type Gauges interface {
	ReferenceLoaded(journeys int, shapes int)
	VehiclesTracked(vehicles int)
}

// Service runs the periodic work around the engine: reference reloads, speed statistic
// flushes, re-evaluation of quiet vehicles and forgetting vehicles that stopped reporting.
type Service struct {
	Engine   *Engine
	Journeys *JourneySnapshot
	Source   ReferenceSource
	Sink     ChangeSink
	Gauges   Gauges

	Config TrackerConfig

	// Journeys departing this far either side of now are loaded
	JourneyWindow time.Duration
}

func (s *Service) LoadReference(ctx context.Context, now time.Time) error {
	shapeList, err := s.Source.Shapes(ctx)
	if err != nil {
		return err
	}

	changed, err := s.Engine.ReplaceShapes(shapeList, true)
	if err != nil {
		return err
	}
	if len(changed) > 0 {
		if err := s.Source.DeleteSpeedStats(ctx, changed); err != nil {
			log.Error().Err(err).Msg("Failed to delete speed statistics of changed shapes")
		}
	}

	window := s.JourneyWindow
	if window == 0 {
		window = 12 * time.Hour
	}

	journeys, err := s.Source.Journeys(ctx, now.Add(-window), now.Add(window))
	if err != nil {
		return err
	}
	loaded := s.Journeys.Replace(journeys)

	log.Info().Int("journeys", loaded).Int("shapes", s.Engine.Shapes().Len()).Msg("Loaded reference data")

	if s.Gauges != nil {
		s.Gauges.ReferenceLoaded(loaded, s.Engine.Shapes().Len())
	}

	return nil
}

func (s *Service) WarmSpeeds(ctx context.Context) error {
	stats, err := s.Source.SpeedStats(ctx)
	if err != nil {
		return err
	}

	s.Engine.Speeds().Load(stats)
	log.Info().Int("segments", len(stats)).Msg("Loaded segment speed statistics")

	return nil
}

func (s *Service) FlushSpeeds(ctx context.Context) error {
	stats := s.Engine.Speeds().Snapshot()
	if len(stats) == 0 {
		return nil
	}

	return s.Source.SaveSpeedStats(ctx, stats)
}

// ReevaluateAll re-evaluates every tracked vehicle and publishes the resulting changes
func (s *Service) ReevaluateAll(ctx context.Context, now time.Time) (int, error) {
	updated := 0

	for _, vehicleRef := range s.Engine.TrackedVehicles() {
		result, err := s.Engine.Reevaluate(ctx, vehicleRef, now)
		if err != nil {
			return updated, err
		}

		if result.RealtimeJourney != nil && len(result.Changes) > 0 {
			if err := s.Sink.PublishChanges(ctx, result.RealtimeJourney, result.Changes); err != nil {
				log.Error().Err(err).Str("vehicle", vehicleRef).Msg("Failed to publish re-evaluated changes")
				continue
			}
			updated++
		}
	}

	if updated > 0 {
		return updated, s.Sink.Flush(ctx)
	}

	return updated, nil
}

func (s *Service) ForgetVehicles(now time.Time) int {
	forgotten := s.Engine.ForgetVehicles(now.Add(-s.Config.VehicleExpiry))

	if s.Gauges != nil {
		s.Gauges.VehiclesTracked(len(s.Engine.TrackedVehicles()))
	}

	return forgotten
}

// Run blocks running the periodic jobs until the context is cancelled
func (s *Service) Run(ctx context.Context) {
	reload := newTicker(s.Config.ReferenceReloadEvery)
	defer reload.Stop()
	flush := newTicker(s.Config.SpeedFlushEvery)
	defer flush.Stop()
	reevaluate := newTicker(s.Config.ReevaluateEvery)
	defer reevaluate.Stop()
	forget := time.NewTicker(time.Minute)
	defer forget.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := s.FlushSpeeds(context.Background()); err != nil {
				log.Error().Err(err).Msg("Failed to flush speed statistics")
			}
			return
		case <-reload.C:
			if err := s.LoadReference(ctx, time.Now()); err != nil {
				log.Error().Err(err).Msg("Failed to reload reference data")
			}
		case <-flush.C:
			if err := s.FlushSpeeds(ctx); err != nil {
				log.Error().Err(err).Msg("Failed to flush speed statistics")
			}
		case <-reevaluate.C:
			updated, err := s.ReevaluateAll(ctx, time.Now())
			if err != nil {
				log.Error().Err(err).Msg("Failed to re-evaluate vehicles")
			} else if updated > 0 {
				log.Debug().Int("updated", updated).Msg("Re-evaluated vehicles")
			}
		case <-forget.C:
			if forgotten := s.ForgetVehicles(time.Now()); forgotten > 0 {
				log.Info().Int("vehicles", forgotten).Msg("Forgot expired vehicles")
			}
		}
	}
}

type ticker struct {
	*time.Ticker
	C <-chan time.Time
}

// newTicker returns a ticker that never fires when the interval is zero
func newTicker(interval time.Duration) *ticker {
	if interval <= 0 {
		return &ticker{C: make(chan time.Time)}
	}

	t := time.NewTicker(interval)
	return &ticker{Ticker: t, C: t.C}
}

func (t *ticker) Stop() {
	if t.Ticker != nil {
		t.Ticker.Stop()
	}
}
