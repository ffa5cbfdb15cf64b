package models

// UnknownHandle is stored when a user has no Telegram username
const UnknownHandle = "unknown"

// UnknownName is stored when a user is created without a display name
const UnknownName = "Неизвестный"

// User is the persisted state of a single Telegram user.
// The map key of a snapshot is the user's Telegram ID as decimal text.
type User struct {
	FullName      string   `json:"full_name" db:"full_name"`
	Username      string   `json:"username" db:"username"`
	Subject       *string  `json:"subject" db:"subject"`
	FreeUsesToday int      `json:"free_uses_today" db:"free_uses_today"`
	LastFreeDate  string   `json:"last_free_date" db:"last_free_date"` // YYYY-MM-DD, UTC
	PremiumUntil  int64    `json:"premium_until" db:"premium_until"`   // Unix seconds, 0 = never
	Referrer      *string  `json:"referrer" db:"referrer"`
	Referrals     []string `json:"referrals" db:"-"`
}

// Clone returns a deep copy of the user
func (u *User) Clone() *User {
	c := *u
	if u.Subject != nil {
		s := *u.Subject
		c.Subject = &s
	}
	if u.Referrer != nil {
		r := *u.Referrer
		c.Referrer = &r
	}
	c.Referrals = make([]string, len(u.Referrals))
	copy(c.Referrals, u.Referrals)
	return &c
}

// Snapshot is the full mapping persisted by the record store
type Snapshot map[string]*User

// Clone returns a deep copy of the snapshot
func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	for id, u := range s {
		out[id] = u.Clone()
	}
	return out
}
