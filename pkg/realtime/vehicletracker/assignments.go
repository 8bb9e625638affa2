package vehicletracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/eko/gocache/lib/v4/cache"
	"github.com/eko/gocache/lib/v4/store"
	redisstore "github.com/eko/gocache/store/redis/v4"
	"github.com/rs/zerolog/log"
	"github.com/travigo/travigo-eta/pkg/ctdf"
	"github.com/travigo/travigo-eta/pkg/database"
	"github.com/travigo/travigo-eta/pkg/redis_client"
	"go.mongodb.org/mongo-driver/mongo"
)

const notAssignedValue = "N/A"

type assignmentCache interface {
	Get(ctx context.Context, key any) (string, error)
	Set(ctx context.Context, key any, object string, options ...store.Option) error
}

type cachedAssignment struct {
	JourneyRef string
	ValidFrom  time.Time
	ValidUntil time.Time
}

// CachedAssignmentStore looks up vehicle assignments in Mongo and keeps them in Redis.
// Vehicles with no assignment are cached as N/A so they are not looked up on every report.
type CachedAssignmentStore struct {
	cache  assignmentCache
	lookup func(ctx context.Context, vehicleRef string, at time.Time) (*ctdf.VehicleAssignment, error)

	negativeExpiration time.Duration
}

func NewCachedAssignmentStore() *CachedAssignmentStore {
	redisStore := redisstore.NewRedis(redis_client.Client, store.WithExpiration(90*time.Minute))

	return &CachedAssignmentStore{
		cache:              cache.New[string](redisStore),
		lookup:             database.FindVehicleAssignment,
		negativeExpiration: 5 * time.Minute,
	}
}

func (s *CachedAssignmentStore) JourneyRef(ctx context.Context, vehicleRef string, at time.Time) (string, error) {
	cacheKey := fmt.Sprintf("vehicleassignment/%s", vehicleRef)

	cachedValue, _ := s.cache.Get(ctx, cacheKey)

	if cachedValue == notAssignedValue {
		return "", ErrNoActiveJourney
	}

	if cachedValue != "" {
		var cached cachedAssignment
		if err := json.Unmarshal([]byte(cachedValue), &cached); err == nil {
			assignment := ctdf.VehicleAssignment{ValidFrom: cached.ValidFrom, ValidUntil: cached.ValidUntil}
			if assignment.ActiveAt(at) {
				return cached.JourneyRef, nil
			}
		}
	}

	assignment, err := s.lookup(ctx, vehicleRef, at)
	if errors.Is(err, mongo.ErrNoDocuments) || (err == nil && assignment == nil) {
		if err := s.cache.Set(ctx, cacheKey, notAssignedValue, store.WithExpiration(s.negativeExpiration)); err != nil {
			log.Error().Err(err).Str("vehicle", vehicleRef).Msg("Failed to cache missing assignment")
		}
		return "", ErrNoActiveJourney
	} else if err != nil {
		return "", err
	}

	encoded, _ := json.Marshal(cachedAssignment{
		JourneyRef: assignment.JourneyRef,
		ValidFrom:  assignment.ValidFrom,
		ValidUntil: assignment.ValidUntil,
	})
	if err := s.cache.Set(ctx, cacheKey, string(encoded)); err != nil {
		log.Error().Err(err).Str("vehicle", vehicleRef).Msg("Failed to cache assignment")
	}

	return assignment.JourneyRef, nil
}
