package users

import (
	"fmt"
	"time"

	"github.com/example/studybot/pkg/models"
)

// NoSubscription is shown instead of an expiry date
const NoSubscription = "Нет"

const secondsPerDay = 86400

// Subscriptions tracks premium expiry timestamps
type Subscriptions struct {
	dir *Directory
}

// NewSubscriptions creates a ledger over dir
func NewSubscriptions(dir *Directory) *Subscriptions {
	return &Subscriptions{dir: dir}
}

// IsPremium reports whether the user has an unexpired grant
func (s *Subscriptions) IsPremium(id string) bool {
	u, err := s.dir.Get(id)
	if err != nil {
		return false
	}
	return u.PremiumUntil > s.dir.now().Unix()
}

// GrantDays adds days of premium. An active grant is extended from its
// current expiry, an expired or missing one restarts from now. It returns
// the new expiry. days must be positive.
func (s *Subscriptions) GrantDays(id string, days int) (int64, error) {
	if days <= 0 {
		return 0, fmt.Errorf("%w: days must be positive, got %d", ErrInvalidGrant, days)
	}

	now := s.dir.now().Unix()
	var until int64
	err := s.dir.mutate(id, func(u *models.User, _ bool) bool {
		base := now
		if u.PremiumUntil >= now {
			base = u.PremiumUntil
		}
		u.PremiumUntil = base + int64(days)*secondsPerDay
		until = u.PremiumUntil
		return true
	})

	s.dir.observer.RecordPremiumGrant(days)
	s.dir.log.Info().Str("user_id", id).Int("days", days).Int64("premium_until", until).Msg("premium granted")
	return until, err
}

// ExpiryDisplay renders the expiry as UTC "YYYY-MM-DD HH:MM:SS", or
// NoSubscription when there is no active grant
func (s *Subscriptions) ExpiryDisplay(id string) string {
	u, err := s.dir.Get(id)
	if err != nil || u.PremiumUntil <= s.dir.now().Unix() {
		return NoSubscription
	}
	return time.Unix(u.PremiumUntil, 0).UTC().Format(time.DateTime)
}
