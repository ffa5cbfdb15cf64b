package database

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/example/studybot/internal/logger"
	"github.com/example/studybot/pkg/models"
)

// Commit results reported to the Recorder
const (
	CommitOK      = "ok"
	CommitFailed  = "failed"
	CommitDropped = "dropped"
	CommitStale   = "stale"
)

// Source tells where Load found its data
type Source int

const (
	SourceEmpty Source = iota
	SourcePrimary
	SourceBackup
	SourceCorrupted
)

func (s Source) String() string {
	switch s {
	case SourcePrimary:
		return "primary"
	case SourceBackup:
		return "backup"
	case SourceCorrupted:
		return "corrupted"
	default:
		return "empty"
	}
}

// Recorder receives the outcome of every commit attempt
type Recorder interface {
	RecordCommit(result string)
}

type nopRecorder struct{}

func (nopRecorder) RecordCommit(string) {}

// Store keeps user snapshots in a primary JSON file with a rotating backup.
//
// A commit writes a temp file, moves the current primary over the backup and
// then moves the temp file into place. Both moves are renames within one
// directory, so a crash at any point leaves at least one complete snapshot.
type Store struct {
	path       string
	backupPath string

	// held for the whole commit; commits that cannot take it are dropped
	mu sync.Mutex
	// version of the snapshot currently on disk, guarded by mu
	written uint64

	log      *logger.Logger
	recorder Recorder

	// runs between the temp write and the rotation; nil in production
	beforeRotate func() error
}

// Option customises a Store
type Option func(*Store)

// WithRecorder reports commit outcomes to r
func WithRecorder(r Recorder) Option {
	return func(s *Store) {
		if r != nil {
			s.recorder = r
		}
	}
}

// NewStore creates a store for the given primary and backup paths
func NewStore(path, backupPath string, log *logger.Logger, opts ...Option) *Store {
	s := &Store{
		path:       path,
		backupPath: backupPath,
		log:        log,
		recorder:   nopRecorder{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load reads the primary snapshot, falling back to the backup and finally to
// an empty snapshot. It never fails: no readable data is a cold start.
func (s *Store) Load() (models.Snapshot, Source) {
	var errs []error
	existed := 0

	for i, path := range []string{s.path, s.backupPath} {
		snap, err := readSnapshot(path)
		if err == nil {
			src := SourcePrimary
			if i == 1 {
				src = SourceBackup
				s.log.Warn().Str("path", s.path).Err(errors.Join(errs...)).Msg("primary snapshot unreadable, loaded backup")
			}
			s.log.Info().Str("source", src.String()).Int("users", len(snap)).Msg("user data loaded")
			return snap, src
		}
		if !errors.Is(err, os.ErrNotExist) {
			existed++
		}
		errs = append(errs, err)
	}

	if existed > 0 {
		s.log.Error().Err(fmt.Errorf("%w: %w", ErrLoadCorruption, errors.Join(errs...))).Msg("no readable snapshot, starting empty")
		return models.Snapshot{}, SourceCorrupted
	}

	s.log.Info().Msg("no user data yet, starting empty")
	return models.Snapshot{}, SourceEmpty
}

func readSnapshot(path string) (models.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var snap models.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	out := make(models.Snapshot, len(snap))
	for id, u := range snap {
		if u == nil {
			continue
		}
		if u.Referrals == nil {
			u.Referrals = []string{}
		}
		out[id] = u
	}
	return out, nil
}

// Commit writes snapshot to disk. version must grow with every snapshot the
// caller takes; a snapshot not newer than the one on disk is skipped so the
// files never move back in time.
//
// If another commit is already running the call returns ErrCommitDropped
// without writing; the next commit carries the latest state forward. Write
// failures wrap ErrPersistence.
func (s *Store) Commit(version uint64, snapshot models.Snapshot) error {
	if !s.mu.TryLock() {
		s.recorder.RecordCommit(CommitDropped)
		s.log.Debug().Uint64("version", version).Msg("commit already in flight, dropped")
		return ErrCommitDropped
	}
	defer s.mu.Unlock()

	if version <= s.written {
		s.recorder.RecordCommit(CommitStale)
		s.log.Debug().Uint64("version", version).Uint64("written", s.written).Msg("snapshot older than disk, skipped")
		return nil
	}

	if err := s.commit(snapshot); err != nil {
		s.recorder.RecordCommit(CommitFailed)
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	s.written = version
	s.recorder.RecordCommit(CommitOK)
	return nil
}

func (s *Store) commit(snapshot models.Snapshot) error {
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	tmp, err := writeTemp(dir, filepath.Base(s.path), data)
	if err != nil {
		return err
	}
	// a no-op once the temp file has been renamed into place
	defer os.Remove(tmp)

	if s.beforeRotate != nil {
		if err := s.beforeRotate(); err != nil {
			return err
		}
	}

	if _, err := os.Stat(s.path); err == nil {
		if err := os.Rename(s.path, s.backupPath); err != nil {
			return fmt.Errorf("failed to rotate backup: %w", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to stat snapshot: %w", err)
	}

	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to move snapshot into place: %w", err)
	}

	syncDir(dir)
	return nil
}

func writeTemp(dir, base string, data []byte) (string, error) {
	f, err := os.CreateTemp(dir, base+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	name := f.Name()

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(name)
		return "", fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(name)
		return "", fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(name)
		return "", fmt.Errorf("failed to close temp file: %w", err)
	}
	return name, nil
}

// syncDir flushes the directory entry so renames survive power loss.
// Not every platform supports it; errors are ignored.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
