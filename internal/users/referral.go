package users

// Referrals records who invited whom
type Referrals struct {
	dir *Directory
}

// NewReferrals creates a ledger over dir
func NewReferrals(dir *Directory) *Referrals {
	return &Referrals{dir: dir}
}

// Attach credits referrerID with newUserID. Self-referral is ignored.
//
// The referred user's referrer is set only once, but the referrer's list is
// appended to on every call, so two referrers can both list the same user.
func (r *Referrals) Attach(referrerID, newUserID string) error {
	if referrerID == newUserID {
		return nil
	}

	d := r.dir
	d.mu.Lock()
	referrer, ok := d.users[referrerID]
	if !ok {
		referrer = newUser("", "")
		d.users[referrerID] = referrer
	}
	referred, ok := d.users[newUserID]
	if !ok {
		referred = newUser("", "")
		d.users[newUserID] = referred
	}

	referrer.Referrals = append(referrer.Referrals, newUserID)
	firstReferrer := referred.Referrer == nil
	if firstReferrer {
		ref := referrerID
		referred.Referrer = &ref
	}

	d.observer.SetUsers(len(d.users))
	version, snap := d.capture()
	d.mu.Unlock()

	if firstReferrer {
		d.log.Info().Str("referrer_id", referrerID).Str("user_id", newUserID).Msg("referral attached")
	} else {
		d.log.Warn().Str("referrer_id", referrerID).Str("user_id", newUserID).
			Str("recorded_referrer", *snap[newUserID].Referrer).
			Msg("referral attached to user who already has a referrer")
	}

	return d.persist(version, snap)
}

// ReferralsOf returns the ids credited to id, in order of attachment
func (r *Referrals) ReferralsOf(id string) []string {
	u, err := r.dir.Get(id)
	if err != nil {
		return nil
	}
	return u.Referrals
}
