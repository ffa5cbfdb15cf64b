// Package users keeps the in-memory user directory and the ledgers built on
// top of it: the daily free quota, premium subscriptions and referrals.
//
// Every mutation is written through to a Committer. Reads never touch disk.
package users

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/example/studybot/internal/database"
	"github.com/example/studybot/internal/logger"
	"github.com/example/studybot/pkg/models"
)

var (
	ErrNotFound     = errors.New("user not found")
	ErrInvalidGrant = errors.New("invalid grant")
)

// Committer persists a full snapshot tagged with its version.
// database.Store implements it.
type Committer interface {
	Commit(version uint64, snapshot models.Snapshot) error
}

// Observer is notified about directory activity. metrics.Collector
// implements it.
type Observer interface {
	SetUsers(n int)
	RecordFreeUse()
	RecordPremiumGrant(days int)
}

type nopObserver struct{}

func (nopObserver) SetUsers(int)           {}
func (nopObserver) RecordFreeUse()         {}
func (nopObserver) RecordPremiumGrant(int) {}

// Entry pairs a user id with a copy of its record
type Entry struct {
	ID   string
	User *models.User
}

// Directory maps user ids to records
type Directory struct {
	mu    sync.RWMutex
	users models.Snapshot
	// bumped under mu for every snapshot handed to the store
	version uint64

	store    Committer
	log      *logger.Logger
	observer Observer
	now      func() time.Time
}

// Option customises a Directory
type Option func(*Directory)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(d *Directory) { d.now = now }
}

// WithObserver reports directory activity to o
func WithObserver(o Observer) Option {
	return func(d *Directory) {
		if o != nil {
			d.observer = o
		}
	}
}

// NewDirectory builds a directory seeded with the snapshot loaded at startup
func NewDirectory(initial models.Snapshot, store Committer, log *logger.Logger, opts ...Option) *Directory {
	if initial == nil {
		initial = models.Snapshot{}
	}
	d := &Directory{
		users:    initial,
		store:    store,
		log:      log,
		observer: nopObserver{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.observer.SetUsers(len(initial))
	return d
}

func newUser(fullName, username string) *models.User {
	if fullName == "" {
		fullName = models.UnknownName
	}
	if username == "" {
		username = models.UnknownHandle
	}
	return &models.User{
		FullName:  fullName,
		Username:  username,
		Referrals: []string{},
	}
}

// Ensure creates the user on first contact and refreshes the display name
// and handle afterwards. It persists only when something changed.
func (d *Directory) Ensure(id, fullName, username string) error {
	fullName = strings.TrimSpace(fullName)
	username = strings.TrimSpace(username)

	return d.mutate(id, func(u *models.User, created bool) bool {
		if created {
			if fullName != "" {
				u.FullName = fullName
			}
			if username != "" {
				u.Username = username
			}
			return false
		}

		changed := false
		if fullName != "" && u.FullName != fullName {
			u.FullName = fullName
			changed = true
		}
		if username != "" && u.Username != username {
			u.Username = username
			changed = true
		}
		return changed
	})
}

// Get returns a copy of the user. It never creates records.
func (d *Directory) Get(id string) (*models.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	u, ok := d.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return u.Clone(), nil
}

// SetSubject stores the user's selected subject
func (d *Directory) SetSubject(id, subject string) error {
	return d.mutate(id, func(u *models.User, _ bool) bool {
		if u.Subject != nil && *u.Subject == subject {
			return false
		}
		u.Subject = &subject
		return true
	})
}

// All returns copies of every user ordered by id
func (d *Directory) All() []Entry {
	d.mu.RLock()
	out := make([]Entry, 0, len(d.users))
	for id, u := range d.users {
		out = append(out, Entry{ID: id, User: u.Clone()})
	}
	d.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return lessID(out[i].ID, out[j].ID) })
	return out
}

// Count returns the number of known users
func (d *Directory) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.users)
}

// Snapshot returns a deep copy of all records
func (d *Directory) Snapshot() models.Snapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.users.Clone()
}

// Flush commits the current state regardless of pending changes. It returns
// database.ErrCommitDropped when another commit was writing at the time.
func (d *Directory) Flush() error {
	d.mu.Lock()
	version, snap := d.capture()
	d.mu.Unlock()
	return d.store.Commit(version, snap)
}

// capture returns a copy of the state with the next version. d.mu must be
// held for writing.
func (d *Directory) capture() (uint64, models.Snapshot) {
	d.version++
	return d.version, d.users.Clone()
}

// persist writes a captured snapshot. A dropped commit is not an error here:
// the next commit or autosave carries the change to disk.
func (d *Directory) persist(version uint64, snap models.Snapshot) error {
	err := d.store.Commit(version, snap)
	if errors.Is(err, database.ErrCommitDropped) {
		return nil
	}
	return err
}

// mutate runs fn on the record for id, creating a bare record first if the
// id is unknown. The state is persisted when the record was created or fn
// reports a change.
func (d *Directory) mutate(id string, fn func(u *models.User, created bool) bool) error {
	d.mu.Lock()
	u, ok := d.users[id]
	if !ok {
		u = newUser("", "")
		d.users[id] = u
	}
	changed := fn(u, !ok)
	if !ok {
		d.observer.SetUsers(len(d.users))
		d.log.Info().Str("user_id", id).Msg("user created")
	}

	if ok && !changed {
		d.mu.Unlock()
		return nil
	}

	version, snap := d.capture()
	d.mu.Unlock()

	return d.persist(version, snap)
}

func (d *Directory) today() string {
	return d.now().UTC().Format(time.DateOnly)
}

// lessID orders numeric ids numerically and falls back to text order
func lessID(a, b string) bool {
	if len(a) != len(b) && isDigits(a) && isDigits(b) {
		return len(a) < len(b)
	}
	return a < b
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
