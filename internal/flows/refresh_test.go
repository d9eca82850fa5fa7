package flows

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/authcore/internal/stores"
)

// fakeTokens is an in-memory refresh token table guarded by one mutex, which
// plays the role of the database's row lock.
type fakeTokens struct {
	mu        sync.Mutex
	rows      map[string]*stores.RefreshToken
	users     map[string]*stores.User
	famRevoke []string
}

func newFakeTokens() *fakeTokens {
	return &fakeTokens{
		rows:  map[string]*stores.RefreshToken{},
		users: map[string]*stores.User{"u1": {ID: "u1", Email: "u1@example.com"}},
	}
}

func (f *fakeTokens) RevokeRefreshToken(_ context.Context, hash string, now time.Time) (bool, error) {
	row, ok := f.rows[hash]
	if !ok || row.Revoked || !row.ExpiresAt.After(now) {
		return false, nil
	}
	row.Revoked = true
	return true, nil
}

func (f *fakeTokens) UserByID(_ context.Context, id string) (*stores.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, stores.ErrNotFound
	}
	return u, nil
}

func (f *fakeTokens) InsertRefreshToken(_ context.Context, in stores.NewRefreshToken, _ time.Time) (*stores.RefreshToken, error) {
	row := &stores.RefreshToken{UserID: in.UserID, TokenHash: in.TokenHash, Family: in.Family, ExpiresAt: in.ExpiresAt}
	f.rows[in.TokenHash] = row
	return row, nil
}

func (f *fakeTokens) deps(now time.Time) RefreshDeps {
	var seq int
	var seqMu sync.Mutex
	return RefreshDeps{
		Now: func() time.Time { return now },
		ParseRefresh: func(token string) (RefreshClaims, error) {
			if token == "garbage" {
				return RefreshClaims{}, errors.New("bad signature")
			}
			return RefreshClaims{UserID: "u1", Family: "fam-1"}, nil
		},
		HashToken: func(raw string) string { return "h:" + raw },
		IssuePair: func(u *stores.User, family string, mfa bool) (IssuedPair, error) {
			seqMu.Lock()
			seq++
			n := seq
			seqMu.Unlock()
			return IssuedPair{
				AccessToken:      "access",
				RefreshToken:     "refresh-" + string(rune('a'+n)),
				RefreshExpiresAt: now.Add(time.Hour),
			}, nil
		},
		WithinTx: func(ctx context.Context, fn func(context.Context, RefreshQueries) error) error {
			f.mu.Lock()
			defer f.mu.Unlock()
			return fn(ctx, f)
		},
		LookupByHash: func(_ context.Context, hash string) (*stores.RefreshToken, error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			row, ok := f.rows[hash]
			if !ok {
				return nil, stores.ErrNotFound
			}
			cp := *row
			return &cp, nil
		},
		RevokeFamily: func(_ context.Context, family string) error {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.famRevoke = append(f.famRevoke, family)
			for _, row := range f.rows {
				if row.Family == family {
					row.Revoked = true
				}
			}
			return nil
		},
	}
}

func (f *fakeTokens) seed(raw string, exp time.Time) {
	f.rows["h:"+raw] = &stores.RefreshToken{UserID: "u1", TokenHash: "h:" + raw, Family: "fam-1", ExpiresAt: exp}
}

func TestRunRefreshRotatesOnce(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	f := newFakeTokens()
	f.seed("r0", now.Add(time.Hour))
	deps := f.deps(now)

	res := RunRefresh(context.Background(), "r0", deps)
	if res.Failure != RefreshFailureNone {
		t.Fatalf("first refresh failed: %v", res.Err)
	}
	if res.Pair.RefreshToken == "" || res.User == nil || res.Family != "fam-1" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if _, ok := f.rows["h:"+res.Pair.RefreshToken]; !ok {
		t.Fatalf("rotated token must be stored")
	}

	var reused bool
	deps.OnReuse = func(context.Context, *stores.RefreshToken) { reused = true }
	res2 := RunRefresh(context.Background(), "r0", deps)
	if res2.Failure != RefreshFailureReuse {
		t.Fatalf("expected reuse, got %v", res2.Failure)
	}
	if !reused {
		t.Fatalf("OnReuse must be called")
	}
	if !f.rows["h:"+res.Pair.RefreshToken].Revoked {
		t.Fatalf("reuse must revoke the freshly rotated token too")
	}
}

func TestRunRefreshDecodeAndUnknown(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	f := newFakeTokens()
	deps := f.deps(now)

	if res := RunRefresh(context.Background(), "garbage", deps); res.Failure != RefreshFailureDecode {
		t.Fatalf("expected decode failure, got %v", res.Failure)
	}
	if res := RunRefresh(context.Background(), "never-stored", deps); res.Failure != RefreshFailureNotFound {
		t.Fatalf("expected not found, got %v", res.Failure)
	}
	if len(f.famRevoke) != 0 {
		t.Fatalf("unknown token must not revoke families")
	}
}

func TestRunRefreshExpiredIsNotReuse(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	f := newFakeTokens()
	f.seed("old", now.Add(-time.Second))

	res := RunRefresh(context.Background(), "old", f.deps(now))
	if res.Failure != RefreshFailureNotFound {
		t.Fatalf("expected not found for expired token, got %v", res.Failure)
	}
}

func TestRunRefreshUserMissing(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	f := newFakeTokens()
	f.seed("r0", now.Add(time.Hour))
	delete(f.users, "u1")

	res := RunRefresh(context.Background(), "r0", f.deps(now))
	if res.Failure != RefreshFailureUserMissing {
		t.Fatalf("expected user missing, got %v", res.Failure)
	}
}

func TestRunRefreshConcurrentSingleWinner(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	f := newFakeTokens()
	f.seed("r0", now.Add(time.Hour))
	deps := f.deps(now)

	const n = 8
	results := make([]RefreshResult, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = RunRefresh(context.Background(), "r0", deps)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, r := range results {
		switch r.Failure {
		case RefreshFailureNone:
			wins++
		case RefreshFailureReuse:
		default:
			t.Fatalf("unexpected failure kind %v: %v", r.Failure, r.Err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
}
