package vehicletracker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/travigo/travigo-eta/pkg/ctdf"
	"github.com/travigo/travigo-eta/pkg/database"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/exp/slices"
)

// ChangeSink receives the realtime journey and its stop changes after every processed report.
// Flush is called once the whole consumer batch has been processed.
type ChangeSink interface {
	PublishChanges(ctx context.Context, realtimeJourney *ctdf.RealtimeJourney, changes []*ctdf.StopEstimateChange) error
	Flush(ctx context.Context) error
}

type MultiSink []ChangeSink

func (m MultiSink) PublishChanges(ctx context.Context, realtimeJourney *ctdf.RealtimeJourney, changes []*ctdf.StopEstimateChange) error {
	var errs []error
	for _, sink := range m {
		errs = append(errs, sink.PublishChanges(ctx, realtimeJourney, changes))
	}
	return errors.Join(errs...)
}

func (m MultiSink) Flush(ctx context.Context) error {
	var errs []error
	for _, sink := range m {
		errs = append(errs, sink.Flush(ctx))
	}
	return errors.Join(errs...)
}

// RealtimeJourneyWriter batches realtime journey updates into a single Mongo bulk write.
// Several updates to one realtime journey within a batch are merged into one write.
// A failed write is kept and retried by the next Flush.
type RealtimeJourneyWriter struct {
	// flushes run one at a time so a restored batch never overwrites a newer successful write
	flushing sync.Mutex

	mu      sync.Mutex
	pending map[string]*pendingRealtimeJourney
	order   []string

	// realtime journeys whose whole stop list has been written, only these get per stop updates
	written     map[string]time.Time
	lastExpired time.Time

	write func(ctx context.Context, operations []mongo.WriteModel) error
}

const writtenExpiry = 12 * time.Hour

type pendingRealtimeJourney struct {
	realtimeJourney *ctdf.RealtimeJourney
	changes         map[int]*ctdf.StopEstimateChange
}

func NewRealtimeJourneyWriter() *RealtimeJourneyWriter {
	return &RealtimeJourneyWriter{
		pending: map[string]*pendingRealtimeJourney{},
		written: map[string]time.Time{},
		write: func(ctx context.Context, operations []mongo.WriteModel) error {
			return database.BulkWrite(ctx, "realtime_journeys", operations, 1000)
		},
	}
}

func (w *RealtimeJourneyWriter) PublishChanges(_ context.Context, realtimeJourney *ctdf.RealtimeJourney, changes []*ctdf.StopEstimateChange) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	pending, exists := w.pending[realtimeJourney.PrimaryIdentifier]
	if !exists {
		pending = &pendingRealtimeJourney{changes: map[int]*ctdf.StopEstimateChange{}}
		w.pending[realtimeJourney.PrimaryIdentifier] = pending
		w.order = append(w.order, realtimeJourney.PrimaryIdentifier)
	}

	pending.realtimeJourney = realtimeJourney
	for _, change := range changes {
		pending.changes[change.StopIndex] = change
	}

	return nil
}

func (w *RealtimeJourneyWriter) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	return len(w.order)
}

func (w *RealtimeJourneyWriter) Flush(ctx context.Context) error {
	w.flushing.Lock()
	defer w.flushing.Unlock()

	w.mu.Lock()
	pending := w.pending
	order := w.order
	w.pending = map[string]*pendingRealtimeJourney{}
	w.order = nil

	allStops := make(map[string]bool, len(order))
	for _, identifier := range order {
		_, written := w.written[identifier]
		allStops[identifier] = !written
	}
	w.mu.Unlock()

	if len(order) == 0 {
		return nil
	}

	operations := make([]mongo.WriteModel, 0, len(order))
	for _, identifier := range order {
		write := pending[identifier]

		indexes := make([]int, 0, len(write.changes))
		for index := range write.changes {
			indexes = append(indexes, index)
		}
		slices.Sort(indexes)

		changes := make([]*ctdf.StopEstimateChange, 0, len(indexes))
		for _, index := range indexes {
			changes = append(changes, write.changes[index])
		}

		operations = append(operations, database.RealtimeJourneyWriteModel(write.realtimeJourney, changes, allStops[identifier]))
	}

	startTime := time.Now()
	err := w.write(ctx, operations)
	log.Debug().Int("Length", len(operations)).Str("Time", time.Since(startTime).String()).Msg("Bulk write realtime journeys")

	w.mu.Lock()
	defer w.mu.Unlock()

	if err != nil {
		w.restore(pending, order)
		return err
	}

	now := time.Now()
	for _, identifier := range order {
		w.written[identifier] = now
	}
	if now.Sub(w.lastExpired) > time.Hour {
		for identifier, writtenAt := range w.written {
			if now.Sub(writtenAt) > writtenExpiry {
				delete(w.written, identifier)
			}
		}
		w.lastExpired = now
	}

	return nil
}

// restore puts a failed batch back in front of anything published since, newer stop changes win.
// Must be called with the lock held.
func (w *RealtimeJourneyWriter) restore(failed map[string]*pendingRealtimeJourney, failedOrder []string) {
	order := make([]string, 0, len(failedOrder)+len(w.order))

	for _, identifier := range failedOrder {
		write := failed[identifier]

		if newer, exists := w.pending[identifier]; exists {
			for index, change := range newer.changes {
				write.changes[index] = change
			}
			write.realtimeJourney = newer.realtimeJourney
		}

		w.pending[identifier] = write
		order = append(order, identifier)
	}

	for _, identifier := range w.order {
		if _, exists := failed[identifier]; !exists {
			order = append(order, identifier)
		}
	}

	w.order = order
}
