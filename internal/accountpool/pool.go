package accountpool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// Repository persists the account list, per the JSON account file described
// in spec §6. Implemented by internal/store against an atomically-rewritten
// file on disk.
type Repository interface {
	Load(ctx context.Context) ([]*PersistedAccount, error)
	Save(ctx context.Context, accounts []*PersistedAccount) error
}

// Refresher exchanges a refresh token for a fresh access token against the
// upstream OAuth endpoint.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (RefreshResult, error)
}

type RefreshResult struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int
}

// ProjectIDFetcher lazily resolves an account's project id, per §4.1.
type ProjectIDFetcher interface {
	// Fetch returns the project id, or ineligible=true if the account
	// should be disabled as a result.
	Fetch(ctx context.Context, acct *Account) (projectID string, ineligible bool, err error)
}

// Pool is the Credential Pool of spec §4.1: it owns the account list, the
// rotation cursor, and the refresh/acquire/release contract.
type Pool struct {
	repo      Repository
	refresher Refresher
	projectID ProjectIDFetcher
	crypto    *Crypto

	skipProjectIDFetch bool
	randomProjectID    bool

	mu       sync.Mutex
	accounts []*Account
	cursor   int

	// quotaCursor indexes into the compacted has_quota==true subset under
	// the QUOTA_EXHAUSTED policy.
	quotaCursor int

	policy Policy

	initOnce sync.Once
	initDone chan struct{}
	initErr  error

	// refreshGroup collapses concurrent refreshAccount calls for the same
	// account ID into one in-flight OAuth request, so simultaneous Acquire
	// callers racing on an expired token don't each fire their own refresh.
	refreshGroup singleflight.Group
}

func New(repo Repository, refresher Refresher, projectID ProjectIDFetcher, crypto *Crypto, policy Policy, skipProjectIDFetch bool) *Pool {
	return &Pool{
		repo:               repo,
		refresher:          refresher,
		projectID:          projectID,
		crypto:             crypto,
		policy:             policy,
		skipProjectIDFetch: skipProjectIDFetch,
		initDone:           make(chan struct{}),
	}
}

// Init loads the persisted account list, refreshes every already-expired
// token concurrently, and disables any account whose refresh reports
// auth-invalid. Safe to call once; concurrent Acquire callers block on the
// same one-shot barrier until it completes (§4.1, §5).
func (p *Pool) Init(ctx context.Context) error {
	p.initOnce.Do(func() {
		p.initErr = p.load(ctx)
		close(p.initDone)
	})
	return p.initErr
}

// Reload restarts initialization from scratch; idempotent and re-entrant
// per §4.1.
func (p *Pool) Reload(ctx context.Context) error {
	p.mu.Lock()
	p.initOnce = sync.Once{}
	p.initDone = make(chan struct{})
	p.mu.Unlock()
	return p.Init(ctx)
}

func (p *Pool) awaitInit(ctx context.Context) error {
	select {
	case <-p.initDone:
		return p.initErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) load(ctx context.Context) error {
	persisted, err := p.repo.Load(ctx)
	if err != nil {
		return fmt.Errorf("accountpool: load: %w", err)
	}

	accounts := make([]*Account, 0, len(persisted))
	for _, pa := range persisted {
		enabled := true
		if pa.Enable != nil {
			enabled = *pa.Enable
		}
		if !enabled {
			continue
		}
		hasQuota := true
		if pa.HasQuota != nil {
			hasQuota = *pa.HasQuota
		}
		plainRefresh, decErr := p.crypto.Decrypt(pa.RefreshToken)
		if decErr != nil {
			// Treat an unencrypted/legacy file entry as plaintext already.
			plainRefresh = pa.RefreshToken
		}
		a := &Account{
			ID:                   p.crypto.HashID(plainRefresh),
			EncRefreshToken:      pa.RefreshToken,
			Email:                pa.Email,
			Enabled:              true,
			HasQuota:             hasQuota,
			ProjectID:            pa.ProjectID,
			SessionID:            uuid.New().String(),
			AccessToken:          pa.AccessToken,
			AccessTokenTimestamp: time.UnixMilli(pa.Timestamp),
			ExpiresIn:            pa.ExpiresIn,
		}
		accounts = append(accounts, a)
	}

	// Refresh every already-expired account concurrently, all-at-once,
	// collecting per-account outcomes (§4.1).
	now := time.Now()
	var wg sync.WaitGroup
	for _, a := range accounts {
		if !a.Expired(now) {
			continue
		}
		wg.Add(1)
		go func(a *Account) {
			defer wg.Done()
			if err := p.refreshAccount(ctx, a); err != nil {
				slog.Warn("accountpool: init refresh failed", "account", a.ID, "error", err)
			}
		}(a)
	}
	wg.Wait()

	live := accounts[:0]
	for _, a := range accounts {
		if a.Enabled {
			live = append(live, a)
		}
	}

	p.mu.Lock()
	p.accounts = live
	p.cursor = 0
	p.quotaCursor = 0
	p.mu.Unlock()
	return nil
}

// refreshAccountOnce wraps refreshAccount in the per-account singleflight
// group: if an Acquire call on another goroutine is already refreshing this
// account's token, this call waits on that refresh instead of firing a
// second OAuth request.
func (p *Pool) refreshAccountOnce(ctx context.Context, a *Account) error {
	_, err, _ := p.refreshGroup.Do(a.ID, func() (any, error) {
		return nil, p.refreshAccount(ctx, a)
	})
	return err
}

// refreshAccount performs an inline refresh; auth-invalid (400/403-shaped)
// failures disable the account in place and are still returned as an
// *AuthInvalidError, so the scan loop moves on to the next candidate, per
// §4.1's failure semantics.
func (p *Pool) refreshAccount(ctx context.Context, a *Account) error {
	plain, err := p.crypto.Decrypt(a.EncRefreshToken)
	if err != nil {
		plain = a.EncRefreshToken
	}
	res, err := p.refresher.Refresh(ctx, plain)
	if err != nil {
		if authErr, ok := err.(*AuthInvalidError); ok {
			a.mu.Lock()
			a.Enabled = false
			a.mu.Unlock()
			return authErr
		}
		return err
	}
	a.mu.Lock()
	a.AccessToken = res.AccessToken
	a.AccessTokenTimestamp = time.Now()
	a.ExpiresIn = res.ExpiresIn
	if res.RefreshToken != "" {
		if enc, encErr := p.crypto.Encrypt(res.RefreshToken); encErr == nil {
			a.EncRefreshToken = enc
		}
	}
	a.mu.Unlock()
	return nil
}

// AuthInvalidError signals a refresh failure that should permanently
// disable the account for this process (HTTP 400/403 from the OAuth
// endpoint), per §4.1.
type AuthInvalidError struct{ Detail string }

func (e *AuthInvalidError) Error() string { return "accountpool: auth invalid: " + e.Detail }

// SelectOptions narrows acquisition, mirroring the teacher's scheduler
// options generalized to this spec's single rotation mechanism (no sticky
// session binding is specified here beyond the session cache key itself).
type SelectOptions struct {
	ExcludeIDs []string
}

// Acquire returns one account under the configured rotation policy,
// refreshing its token inline if expired and lazily resolving its project
// id, per §4.1.
func (p *Pool) Acquire(ctx context.Context, opts SelectOptions) (*Account, error) {
	if err := p.awaitInit(ctx); err != nil {
		return nil, err
	}

	switch p.policy.Strategy {
	case StrategyQuotaExhausted:
		return p.acquireQuotaExhausted(ctx, opts)
	default:
		return p.acquireScan(ctx, opts)
	}
}

func excluded(id string, ids []string) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

// acquireScan implements ROUND_ROBIN and REQUEST_COUNT: scan at most N
// accounts starting at the cursor, return the first that prepares
// successfully.
func (p *Pool) acquireScan(ctx context.Context, opts SelectOptions) (*Account, error) {
	p.mu.Lock()
	n := len(p.accounts)
	if n == 0 {
		p.mu.Unlock()
		return nil, fmt.Errorf("accountpool: no accounts configured")
	}
	start := p.cursor
	snapshot := make([]*Account, n)
	copy(snapshot, p.accounts)
	p.mu.Unlock()

	for i := 0; i < n; i++ {
		idx := (start + i) % n
		a := snapshot[idx]
		if !a.Enabled || excluded(a.ID, opts.ExcludeIDs) {
			continue
		}
		if err := p.prepare(ctx, a); err != nil {
			continue
		}

		p.mu.Lock()
		switch p.policy.Strategy {
		case StrategyRoundRobin:
			p.cursor = (idx + 1) % n
		case StrategyRequestCount:
			a.mu.Lock()
			a.requestCountSinceAdvance++
			advance := a.requestCountSinceAdvance >= max(1, p.policy.RequestCount)
			if advance {
				a.requestCountSinceAdvance = 0
			}
			a.mu.Unlock()
			if advance {
				p.cursor = (idx + 1) % n
			} else {
				p.cursor = idx
			}
		}
		p.mu.Unlock()

		return a, nil
	}
	return nil, fmt.Errorf("accountpool: no available accounts")
}

// acquireQuotaExhausted implements the QUOTA_EXHAUSTED policy: scan only
// accounts with has_quota==true; if none, restore has_quota on every
// enabled account atomically and retry once.
func (p *Pool) acquireQuotaExhausted(ctx context.Context, opts SelectOptions) (*Account, error) {
	for attempt := 0; attempt < 2; attempt++ {
		p.mu.Lock()
		var candidates []*Account
		for _, a := range p.accounts {
			if a.Enabled && a.HasQuota && !excluded(a.ID, opts.ExcludeIDs) {
				candidates = append(candidates, a)
			}
		}
		if len(candidates) == 0 {
			anyEnabled := false
			for _, a := range p.accounts {
				if a.Enabled {
					a.HasQuota = true
					anyEnabled = true
				}
			}
			p.mu.Unlock()
			if !anyEnabled {
				return nil, fmt.Errorf("accountpool: no enabled accounts")
			}
			continue // retry with restored quota
		}
		start := p.quotaCursor % len(candidates)
		p.mu.Unlock()

		for i := 0; i < len(candidates); i++ {
			a := candidates[(start+i)%len(candidates)]
			if err := p.prepare(ctx, a); err != nil {
				continue
			}
			p.mu.Lock()
			p.quotaCursor = (start + i + 1) % len(candidates)
			p.mu.Unlock()
			return a, nil
		}
		return nil, fmt.Errorf("accountpool: no available accounts")
	}
	return nil, fmt.Errorf("accountpool: no available accounts")
}

// prepare ensures a's token and project id are ready for use, inline.
func (p *Pool) prepare(ctx context.Context, a *Account) error {
	if a.Expired(time.Now()) {
		if err := p.refreshAccountOnce(ctx, a); err != nil {
			return err
		}
	}
	if a.ProjectID == "" && p.projectID != nil {
		pid, ineligible, err := p.projectID.Fetch(ctx, a)
		if err != nil {
			return err
		}
		if ineligible {
			a.mu.Lock()
			a.Enabled = false
			a.mu.Unlock()
			return fmt.Errorf("accountpool: account %s ineligible for project id", a.ID)
		}
		a.mu.Lock()
		a.ProjectID = pid
		a.mu.Unlock()
	}
	return nil
}

// Release reports the outcome of a completed call, updating quota and
// enabled state per §4.1 and persisting the account list; the rotation
// cursor itself advances in Acquire, not here.
func (p *Pool) Release(a *Account, outcome Outcome) {
	switch outcome {
	case OutcomeQuotaExhausted:
		a.mu.Lock()
		a.HasQuota = false
		a.mu.Unlock()
		if p.policy.Strategy == StrategyQuotaExhausted {
			p.mu.Lock()
			p.mu.Unlock()
		}
	case OutcomeAuthInvalid:
		a.mu.Lock()
		a.Enabled = false
		a.mu.Unlock()
	}
	_ = p.persist(context.Background())
}

// MarkQuotaExhausted flips has_quota=false for the given account id, used
// by the Dispatcher when the upstream's specific 403 text is observed.
func (p *Pool) MarkQuotaExhausted(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, a := range p.accounts {
		if a.ID == id {
			a.HasQuota = false
			return
		}
	}
}

// Disable permanently excludes the account from this process's rotation.
func (p *Pool) Disable(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, a := range p.accounts {
		if a.ID == id {
			a.Enabled = false
			return
		}
	}
	_ = p.persist(context.Background())
}

func (p *Pool) persist(ctx context.Context) error {
	p.mu.Lock()
	out := make([]*PersistedAccount, 0, len(p.accounts))
	for _, a := range p.accounts {
		enabled := a.Enabled
		hasQuota := a.HasQuota
		out = append(out, &PersistedAccount{
			AccessToken:  a.AccessToken,
			RefreshToken: a.EncRefreshToken,
			ExpiresIn:    a.ExpiresIn,
			Timestamp:    a.AccessTokenTimestamp.UnixMilli(),
			Enable:       &enabled,
			ProjectID:    a.ProjectID,
			Email:        a.Email,
			HasQuota:     &hasQuota,
		})
	}
	p.mu.Unlock()
	return p.repo.Save(ctx, out)
}

// List returns a snapshot of all currently known accounts (admin surface).
func (p *Pool) List() []Account {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Account, 0, len(p.accounts))
	for _, a := range p.accounts {
		out = append(out, a.Snapshot())
	}
	return out
}

// Add admits a new account from a plaintext refresh token (admin CRUD).
func (p *Pool) Add(ctx context.Context, refreshToken, email string) (*Account, error) {
	enc, err := p.crypto.Encrypt(refreshToken)
	if err != nil {
		return nil, err
	}
	a := &Account{
		ID:              p.crypto.HashID(refreshToken),
		EncRefreshToken: enc,
		Email:           email,
		Enabled:         true,
		HasQuota:        true,
		SessionID:       uuid.New().String(),
	}
	if err := p.refreshAccount(ctx, a); err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.accounts = append(p.accounts, a)
	p.mu.Unlock()
	_ = p.persist(ctx)
	return a, nil
}

// Remove deletes an account entirely (admin CRUD).
func (p *Pool) Remove(ctx context.Context, id string) error {
	p.mu.Lock()
	filtered := p.accounts[:0]
	for _, a := range p.accounts {
		if a.ID != id {
			filtered = append(filtered, a)
		}
	}
	p.accounts = filtered
	p.mu.Unlock()
	return p.persist(ctx)
}

// SetPolicy hot-swaps the rotation policy (admin CRUD).
func (p *Pool) SetPolicy(policy Policy) {
	p.mu.Lock()
	p.policy = policy
	p.mu.Unlock()
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
