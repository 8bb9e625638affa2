package vehicletracker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/travigo/travigo-eta/pkg/ctdf"
)

var ErrNoActiveJourney = errors.New("no active journey")

type JourneyResolver interface {
	ActiveJourney(ctx context.Context, vehicleRef string, at time.Time) (*ctdf.Journey, error)
}

// AssignmentStore gives the journey a vehicle is assigned to, or ErrNoActiveJourney
type AssignmentStore interface {
	JourneyRef(ctx context.Context, vehicleRef string, at time.Time) (string, error)
}

type StaticAssignments map[string]string

func (s StaticAssignments) JourneyRef(_ context.Context, vehicleRef string, _ time.Time) (string, error) {
	journeyRef, ok := s[vehicleRef]
	if !ok || journeyRef == "" {
		return "", ErrNoActiveJourney
	}
	return journeyRef, nil
}

// JourneySnapshot is an immutable set of journeys swapped in whole on reload
type JourneySnapshot struct {
	journeys atomic.Pointer[map[string]*ctdf.Journey]
}

func NewJourneySnapshot() *JourneySnapshot {
	snapshot := &JourneySnapshot{}
	empty := map[string]*ctdf.Journey{}
	snapshot.journeys.Store(&empty)

	return snapshot
}

// Replace swaps in a new set of journeys, journeys that fail validation are skipped
func (s *JourneySnapshot) Replace(journeys []*ctdf.Journey) int {
	next := make(map[string]*ctdf.Journey, len(journeys))
	for _, journey := range journeys {
		if err := journey.Validate(); err != nil {
			log.Warn().Err(err).Msg("Skipping invalid journey")
			continue
		}
		next[journey.PrimaryIdentifier] = journey
	}

	s.journeys.Store(&next)

	return len(next)
}

func (s *JourneySnapshot) Get(journeyRef string) (*ctdf.Journey, bool) {
	journey, ok := (*s.journeys.Load())[journeyRef]
	return journey, ok
}

func (s *JourneySnapshot) Len() int {
	return len(*s.journeys.Load())
}

type AssignmentResolver struct {
	Assignments AssignmentStore
	Journeys    *JourneySnapshot
}

func (r *AssignmentResolver) ActiveJourney(ctx context.Context, vehicleRef string, at time.Time) (*ctdf.Journey, error) {
	journeyRef, err := r.Assignments.JourneyRef(ctx, vehicleRef, at)
	if err != nil {
		return nil, err
	}

	journey, ok := r.Journeys.Get(journeyRef)
	if !ok {
		return nil, fmt.Errorf("%w: assigned journey %s is not loaded", ErrNoActiveJourney, journeyRef)
	}

	return journey, nil
}
