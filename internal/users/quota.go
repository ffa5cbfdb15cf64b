package users

import "github.com/example/studybot/pkg/models"

// Quota counts free uses per UTC calendar day. It only counts: callers must
// check CanUseFree before doing the work and call ConsumeFree afterwards.
type Quota struct {
	dir   *Directory
	limit int
}

// NewQuota creates a tracker allowing dailyLimit free uses per day
func NewQuota(dir *Directory, dailyLimit int) *Quota {
	return &Quota{dir: dir, limit: dailyLimit}
}

// Limit returns the configured daily limit
func (q *Quota) Limit() int {
	return q.limit
}

func resetIfStale(u *models.User, today string) bool {
	if u.LastFreeDate == today {
		return false
	}
	u.FreeUsesToday = 0
	u.LastFreeDate = today
	return true
}

// ResetIfStale zeroes the counter when it was last reset on another day
func (q *Quota) ResetIfStale(id string) error {
	today := q.dir.today()
	return q.dir.mutate(id, func(u *models.User, _ bool) bool {
		return resetIfStale(u, today)
	})
}

// CanUseFree reports whether the user may perform one more free action.
// Premium users always can. A persistence error does not change the answer.
func (q *Quota) CanUseFree(id string) (bool, error) {
	today := q.dir.today()
	now := q.dir.now().Unix()

	var allowed bool
	err := q.dir.mutate(id, func(u *models.User, _ bool) bool {
		changed := resetIfStale(u, today)
		allowed = u.PremiumUntil > now || u.FreeUsesToday < q.limit
		return changed
	})
	return allowed, err
}

// ConsumeFree counts one free use. Premium users are never counted.
func (q *Quota) ConsumeFree(id string) error {
	today := q.dir.today()
	now := q.dir.now().Unix()

	counted := false
	err := q.dir.mutate(id, func(u *models.User, _ bool) bool {
		changed := resetIfStale(u, today)
		if u.PremiumUntil > now {
			return changed
		}
		u.FreeUsesToday++
		counted = true
		return true
	})
	if counted {
		q.dir.observer.RecordFreeUse()
	}
	return err
}

// Remaining returns how many free uses are left today, never below zero
func (q *Quota) Remaining(id string) (int, error) {
	today := q.dir.today()

	var used int
	err := q.dir.mutate(id, func(u *models.User, _ bool) bool {
		changed := resetIfStale(u, today)
		used = u.FreeUsesToday
		return changed
	})

	left := q.limit - used
	if left < 0 {
		left = 0
	}
	return left, err
}
