package refsync

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"
)

type Loader interface {
	Load(ctx context.Context, name string, contents io.ReaderAt, size int64) error
}

type LoaderFunc func(ctx context.Context, name string, contents io.ReaderAt, size int64) error

func (f LoaderFunc) Load(ctx context.Context, name string, contents io.ReaderAt, size int64) error {
	return f(ctx, name, contents, size)
}

// Job loads the latest file matching its pattern whenever a newer one appears
type Job struct {
	Name    string
	Pattern *Pattern
	Loader  Loader

	loaded DatedFile
}

func (j *Job) Loaded() (DatedFile, bool) {
	return j.loaded, j.loaded.Object.Name != ""
}

type Syncer struct {
	Store ObjectStore
	Jobs  []*Job

	// Directory downloads are written to, the system temp directory when empty
	TempDir string

	MaxRetries uint64

	polling sync.Mutex
}

// Poll lists the store once and runs every job whose latest file changed. Jobs run
// concurrently and a failing job does not stop the others.
func (s *Syncer) Poll(ctx context.Context) error {
	s.polling.Lock()
	defer s.polling.Unlock()

	objects, err := s.Store.List(ctx)
	if err != nil {
		return fmt.Errorf("listing reference files: %w", err)
	}

	jobPool := pool.New().WithErrors().WithContext(ctx)

	for _, job := range s.Jobs {
		latest, err := job.Pattern.Latest(objects)
		if err != nil {
			log.Warn().Err(err).Str("job", job.Name).Msg("No reference file found")
			continue
		}

		if loaded, exists := job.Loaded(); exists && !Newer(latest, loaded) {
			log.Debug().Str("job", job.Name).Str("file", loaded.Object.Name).Msg("Reference file unchanged")
			continue
		}

		jobPool.Go(func(ctx context.Context) error {
			if err := s.run(ctx, job, latest); err != nil {
				return fmt.Errorf("%s job: %w", job.Name, err)
			}
			return nil
		})
	}

	return jobPool.Wait()
}

func (s *Syncer) run(ctx context.Context, job *Job, file DatedFile) error {
	startTime := time.Now()
	log.Info().Str("job", job.Name).Str("file", file.Object.Name).Msg("Loading reference file")

	download, err := s.download(ctx, file.Object.Name)
	if err != nil {
		return err
	}
	defer func() {
		download.Close()
		os.Remove(download.Name())
	}()

	fileInfo, err := download.Stat()
	if err != nil {
		return err
	}

	if err := job.Loader.Load(ctx, file.Object.Name, download, fileInfo.Size()); err != nil {
		return err
	}

	job.loaded = file

	log.Info().
		Str("job", job.Name).
		Str("file", file.Object.Name).
		Str("date", file.Date().Format(time.DateOnly)).
		Str("duration", time.Since(startTime).String()).
		Msg("Reference file loaded")

	return nil
}

// download copies the object to a temp file, retrying with exponential backoff
func (s *Syncer) download(ctx context.Context, name string) (*os.File, error) {
	file, err := os.CreateTemp(s.TempDir, "refsync-*")
	if err != nil {
		return nil, err
	}

	maxRetries := s.MaxRetries
	if maxRetries == 0 {
		maxRetries = 5
	}
	retryBackoff := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxRetries), ctx)

	err = backoff.Retry(func() error {
		if _, err := file.Seek(0, io.SeekStart); err != nil {
			return backoff.Permanent(err)
		}
		if err := file.Truncate(0); err != nil {
			return backoff.Permanent(err)
		}

		reader, err := s.Store.Open(ctx, name)
		if err != nil {
			log.Warn().Err(err).Str("file", name).Msg("Failed to open reference file")
			return err
		}
		defer reader.Close()

		if _, err := io.Copy(file, reader); err != nil {
			log.Warn().Err(err).Str("file", name).Msg("Failed to download reference file")
			return err
		}
		return nil
	}, retryBackoff)

	if err != nil {
		file.Close()
		os.Remove(file.Name())
		return nil, err
	}

	return file, nil
}

// Run polls every interval until the context is cancelled
func (s *Syncer) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := s.Poll(ctx); err != nil {
			log.Error().Err(err).Msg("Reference sync failed")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
