package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/example/studybot/internal/database"
	"github.com/example/studybot/internal/logger"
	"github.com/example/studybot/pkg/models"
	"github.com/go-co-op/gocron"
)

// DefaultAutosaveInterval is used when no interval is configured
const DefaultAutosaveInterval = 300 * time.Second

const mirrorSyncTimeout = 30 * time.Second

// the final save waits out a commit that is still writing
const (
	finalSaveAttempts = 5
	finalSaveBackoff  = 100 * time.Millisecond
)

// Source is the in-memory state that gets saved
type Source interface {
	Flush() error
	Snapshot() models.Snapshot
}

// Mirror receives a copy of the state after each periodic save
type Mirror interface {
	Sync(ctx context.Context, snap models.Snapshot) error
}

// Scheduler runs the periodic autosave and the final save at shutdown
type Scheduler struct {
	scheduler *gocron.Scheduler
	source    Source
	mirror    Mirror
	interval  time.Duration
	backoff   time.Duration
	log       *logger.Logger

	stopOnce sync.Once
}

// Option customises a Scheduler
type Option func(*Scheduler)

// WithMirror replicates every periodic save to m
func WithMirror(m Mirror) Option {
	return func(s *Scheduler) { s.mirror = m }
}

// New creates a scheduler saving source every interval
func New(source Source, interval time.Duration, log *logger.Logger, opts ...Option) *Scheduler {
	if interval <= 0 {
		interval = DefaultAutosaveInterval
	}
	s := &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		source:    source,
		interval:  interval,
		backoff:   finalSaveBackoff,
		log:       log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start schedules the autosave job. The first run happens one interval
// from now and runs never overlap.
func (s *Scheduler) Start() error {
	_, err := s.scheduler.Every(s.interval).WaitForSchedule().SingletonMode().Do(s.autosave)
	if err != nil {
		return fmt.Errorf("failed to schedule autosave: %w", err)
	}

	s.scheduler.StartAsync()
	s.log.Info().Dur("interval", s.interval).Msg("autosave scheduled")
	return nil
}

// Shutdown stops the timer and performs one last best-effort save. A save
// dropped behind an in-flight commit is retried a few times; write failures
// are logged, not retried. Safe to call more than once.
func (s *Scheduler) Shutdown() {
	s.stopOnce.Do(func() {
		s.scheduler.Stop()
		s.finalSave()
	})
}

func (s *Scheduler) finalSave() {
	for attempt := 1; ; attempt++ {
		err := s.source.Flush()
		switch {
		case err == nil:
			s.log.Info().Int("attempts", attempt).Msg("final save done")
			return
		case !errors.Is(err, database.ErrCommitDropped):
			s.log.Error().Err(err).Msg("final save failed")
			return
		case attempt >= finalSaveAttempts:
			s.log.Error().Err(err).Int("attempts", attempt).Msg("final save not written")
			return
		}

		s.log.Warn().Int("attempt", attempt).Msg("final save dropped, retrying")
		time.Sleep(s.backoff)
	}
}

func (s *Scheduler) autosave() {
	switch err := s.source.Flush(); {
	case err == nil:
		s.log.Debug().Msg("autosave done")
	case errors.Is(err, database.ErrCommitDropped):
		s.log.Debug().Msg("autosave dropped, commit in flight")
	default:
		s.log.Error().Err(err).Msg("autosave failed")
	}

	if s.mirror == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), mirrorSyncTimeout)
	defer cancel()

	if err := s.mirror.Sync(ctx, s.source.Snapshot()); err != nil {
		s.log.Error().Err(err).Msg("mirror sync failed")
	}
}
