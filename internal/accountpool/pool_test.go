package accountpool

import (
	"context"
	"testing"
)

type fakeRepo struct {
	accounts []*PersistedAccount
}

func (f *fakeRepo) Load(ctx context.Context) ([]*PersistedAccount, error) { return f.accounts, nil }
func (f *fakeRepo) Save(ctx context.Context, accounts []*PersistedAccount) error {
	f.accounts = accounts
	return nil
}

type fakeRefresher struct{}

func (fakeRefresher) Refresh(ctx context.Context, refreshToken string) (RefreshResult, error) {
	return RefreshResult{AccessToken: "tok-" + refreshToken, RefreshToken: refreshToken, ExpiresIn: 3600}, nil
}

func newTestPool(t *testing.T, policy Policy, refreshTokens ...string) *Pool {
	t.Helper()
	crypto := NewCrypto("test-key")
	repo := &fakeRepo{}
	for _, rt := range refreshTokens {
		enc, err := crypto.Encrypt(rt)
		if err != nil {
			t.Fatalf("encrypt: %v", err)
		}
		repo.accounts = append(repo.accounts, &PersistedAccount{RefreshToken: enc, ProjectID: "proj"})
	}
	p := New(repo, fakeRefresher{}, nil, crypto, policy, true)
	if err := p.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	return p
}

func TestRoundRobinAdvancesCursor(t *testing.T) {
	p := newTestPool(t, Policy{Strategy: StrategyRoundRobin}, "rt-a", "rt-b")

	var seen []string
	for i := 0; i < 3; i++ {
		a, err := p.Acquire(context.Background(), SelectOptions{})
		if err != nil {
			t.Fatalf("acquire: %v", err)
		}
		seen = append(seen, a.ID)
		p.Release(a, OutcomeOK)
	}
	if seen[0] == seen[1] {
		t.Fatalf("round robin should alternate accounts, got %v", seen)
	}
	if seen[0] != seen[2] {
		t.Fatalf("round robin should cycle back to first account, got %v", seen)
	}
}

func TestRequestCountSingleAccountStaysBound(t *testing.T) {
	p := newTestPool(t, Policy{Strategy: StrategyRequestCount, RequestCount: 3}, "rt-only")

	var ids []string
	for i := 0; i < 4; i++ {
		a, err := p.Acquire(context.Background(), SelectOptions{})
		if err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
		ids = append(ids, a.ID)
		p.Release(a, OutcomeOK)
	}
	for _, id := range ids {
		if id != ids[0] {
			t.Fatalf("single account should always be selected, got %v", ids)
		}
	}
}

func TestQuotaExhaustedRestoresWhenAllExhausted(t *testing.T) {
	p := newTestPool(t, Policy{Strategy: StrategyQuotaExhausted}, "rt-a", "rt-b")

	p.mu.Lock()
	for _, a := range p.accounts {
		a.HasQuota = false
	}
	p.mu.Unlock()

	a, err := p.Acquire(context.Background(), SelectOptions{})
	if err != nil {
		t.Fatalf("acquire after global exhaustion should restore quota and succeed: %v", err)
	}
	if !a.HasQuota {
		t.Fatal("restored account should have has_quota=true")
	}
}

func TestDisabledAccountNeverSelected(t *testing.T) {
	p := newTestPool(t, Policy{Strategy: StrategyRoundRobin}, "rt-a", "rt-b")

	p.mu.Lock()
	disabledID := p.accounts[0].ID
	p.accounts[0].Enabled = false
	p.mu.Unlock()

	for i := 0; i < 4; i++ {
		a, err := p.Acquire(context.Background(), SelectOptions{})
		if err != nil {
			t.Fatalf("acquire: %v", err)
		}
		if a.ID == disabledID {
			t.Fatalf("disabled account must never be selected")
		}
		p.Release(a, OutcomeOK)
	}
}
