// Package accountpool implements the Credential Pool (spec §4.1): the set
// of OAuth accounts, their rotation policy, concurrent refresh at init, and
// the acquire/release contract the Request Dispatcher drives.
package accountpool

import (
	"sync"
	"time"
)

// Account is the in-memory shape of one OAuth credential, per data model
// §3. EncRefreshToken/EncAccessToken are encrypted-at-rest (see crypto.go);
// SessionID is process-scoped and intentionally excluded from persistence.
type Account struct {
	ID              string // stable identifier, derived from the refresh token at load time
	EncRefreshToken string // encrypted at rest; primary key material
	Email           string
	Enabled         bool
	HasQuota        bool
	ProjectID       string
	SessionID       string

	AccessToken          string
	AccessTokenTimestamp time.Time
	ExpiresIn            int

	// requestCountSinceAdvance tracks REQUEST_COUNT(n) progress for this
	// account; reset to zero when it reaches the configured threshold.
	requestCountSinceAdvance int

	mu sync.Mutex
}

// ExpiresAt computes absolute token expiry.
func (a *Account) ExpiresAt() time.Time {
	return a.AccessTokenTimestamp.Add(time.Duration(a.ExpiresIn) * time.Second)
}

// Expired reports whether the account's access token is expired or about to
// be, per the "now >= issued_at + expires_in - 30s" test in §4.1.
func (a *Account) Expired(now time.Time) bool {
	if a.AccessToken == "" {
		return true
	}
	return !now.Before(a.ExpiresAt().Add(-30 * time.Second))
}

// Snapshot returns a value copy safe to hand to a caller for the duration
// of an in-flight upstream call, per the §5 "readers may snapshot-copy"
// discipline.
func (a *Account) Snapshot() Account {
	a.mu.Lock()
	defer a.mu.Unlock()
	cp := *a
	cp.mu = sync.Mutex{}
	return cp
}

// Outcome is the result a caller reports back via Release, per §4.1.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeQuotaExhausted
	OutcomeAuthInvalid
	OutcomeTransportError
)

// PersistedAccount is the JSON-file wire shape described in spec §6.
type PersistedAccount struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	Timestamp    int64  `json:"timestamp"` // unix millis
	Enable       *bool  `json:"enable,omitempty"`
	ProjectID    string `json:"projectId,omitempty"`
	Email        string `json:"email,omitempty"`
	HasQuota     *bool  `json:"hasQuota,omitempty"`
}
