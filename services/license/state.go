package license

import (
	"time"

	"licensing-controlplane/pkg/errutil"
)

// transitions is the closed table of legal status changes. INACTIVE→ACTIVE
// happens on first activation; ACTIVE→EXPIRED is detected lazily and only
// written back by the next mutating operation; SUSPENDED is the one
// reversible admin hold; REVOKED and BANNED are terminal.
var transitions = map[LicenseStatus][]LicenseStatus{
	StatusInactive:  {StatusActive, StatusRevoked, StatusBanned},
	StatusActive:    {StatusExpired, StatusSuspended, StatusRevoked, StatusBanned},
	StatusExpired:   {StatusRevoked, StatusBanned},
	StatusSuspended: {StatusActive, StatusRevoked, StatusBanned},
	StatusRevoked:   {},
	StatusBanned:    {},
}

// CanTransition reports whether from→to is in the transition table.
func CanTransition(from, to LicenseStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// EffectiveStatus derives the status a license holds right now without
// touching storage. Precedence: terminal states and a suspension hold win
// over expiry; expiry wins over the cached ACTIVE value.
func EffectiveStatus(lic *License, now time.Time) LicenseStatus {
	switch lic.Status {
	case StatusRevoked, StatusBanned, StatusSuspended:
		return lic.Status
	}
	if lic.ExpiresAt != nil && now.After(*lic.ExpiresAt) {
		return StatusExpired
	}
	return lic.Status
}

// DenialFor maps a non-activatable effective status to its stable error.
// INACTIVE and ACTIVE return nil: both accept activations.
func DenialFor(status LicenseStatus) error {
	switch status {
	case StatusExpired:
		return errutil.LicenseExpired("license has expired")
	case StatusRevoked:
		return errutil.LicenseRevoked("license has been revoked")
	case StatusBanned:
		return errutil.LicenseBanned("license has been banned")
	case StatusSuspended:
		return errutil.LicenseSuspended("license is suspended")
	default:
		return nil
	}
}
