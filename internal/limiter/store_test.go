package limiter

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/and161185/gearguard/internal/migrate"
	"github.com/and161185/gearguard/internal/store"
)

/************ fake db ************/
type fakeRow struct{ err error }

func (r fakeRow) Scan(...any) error { return r.err }

type fakeDB struct {
	rowErr   error
	execErr  error
	txErr    error
	lastExec string
}

var _ DB = (*fakeDB)(nil)
var _ DB = (*store.Connection)(nil)
var _ Limiter = (*Store)(nil)

func (f *fakeDB) Exec(_ context.Context, sql string, _ ...any) (int64, error) {
	f.lastExec = sql
	return 1, f.execErr
}

func (f *fakeDB) QueryRow(context.Context, string, ...any) store.Row { return fakeRow{err: f.rowErr} }

func (f *fakeDB) InTx(ctx context.Context, fn func(ctx context.Context, q store.Querier) error) error {
	if f.txErr != nil {
		return f.txErr
	}
	return fn(ctx, f)
}

func (f *fakeDB) Query(context.Context, string, ...any) (store.Rows, error) {
	return nil, f.rowErr
}

func newTestStore(t *testing.T, maxFails int, window, blockFor time.Duration) (*Store, *time.Time) {
	t.Helper()
	conn := store.New([]store.Transport{store.Local(filepath.Join(t.TempDir(), "lim.db"))},
		store.Options{Logger: zaptest.NewLogger(t)})
	t.Cleanup(func() { _ = conn.Close() })
	if err := migrate.Up(context.Background(), conn, zaptest.NewLogger(t)); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := New(conn, window, maxFails, blockFor)
	l.now = func() time.Time { return now }
	return l, &now
}

func TestAllow_NoRow_Allows(t *testing.T) {
	t.Parallel()
	l := New(&fakeDB{rowErr: store.ErrNoRows}, 15*time.Minute, 5, 15*time.Minute)

	ok, dur, err := l.Allow(context.Background(), "u@x.io", "h")
	if err != nil || !ok || dur != 0 {
		t.Fatalf("Allow no-row: ok=%v dur=%v err=%v", ok, dur, err)
	}
}

func TestAllow_DBError_Propagates(t *testing.T) {
	t.Parallel()
	l := New(&fakeDB{rowErr: errors.New("db boom")}, 15*time.Minute, 5, 15*time.Minute)

	ok, _, err := l.Allow(context.Background(), "u@x.io", "h")
	if err == nil || ok {
		t.Fatalf("want error propagate, got ok=%v err=%v", ok, err)
	}
}

func TestSuccess_ExecError_Propagates(t *testing.T) {
	t.Parallel()
	fd := &fakeDB{execErr: errors.New("exec fail")}
	l := New(fd, 15*time.Minute, 5, 15*time.Minute)

	if err := l.Success(context.Background(), "u@x.io", "h"); err == nil {
		t.Fatalf("want exec error")
	}
	if !strings.Contains(fd.lastExec, "INSERT INTO auth_limiter") {
		t.Fatalf("unexpected exec: %s", fd.lastExec)
	}
}

func TestFailure_DBError_Propagates(t *testing.T) {
	t.Parallel()
	l := New(&fakeDB{rowErr: errors.New("query error")}, 5*time.Minute, 5, 10*time.Minute)
	if _, _, err := l.Failure(context.Background(), "u@x.io", "h"); err == nil {
		t.Fatalf("want error from reading counters")
	}

	l = New(&fakeDB{txErr: errors.New("begin failed")}, 5*time.Minute, 5, 10*time.Minute)
	if _, _, err := l.Failure(context.Background(), "u@x.io", "h"); err == nil {
		t.Fatalf("want error from begin")
	}
}

func TestFailure_BlocksAtThreshold(t *testing.T) {
	t.Parallel()
	l, now := newTestStore(t, 3, 5*time.Minute, 10*time.Minute)
	ctx := context.Background()

	for i := 1; i < 3; i++ {
		blocked, dur, err := l.Failure(ctx, "u@x.io", "h")
		if err != nil || blocked || dur != 0 {
			t.Fatalf("failure %d: blocked=%v dur=%v err=%v", i, blocked, dur, err)
		}
	}
	blocked, dur, err := l.Failure(ctx, "u@x.io", "h")
	if err != nil || !blocked || dur != 10*time.Minute {
		t.Fatalf("third failure: blocked=%v dur=%v err=%v", blocked, dur, err)
	}

	ok, retry, err := l.Allow(ctx, "u@x.io", "h")
	if err != nil || ok || retry != 10*time.Minute {
		t.Fatalf("Allow blocked: ok=%v retry=%v err=%v", ok, retry, err)
	}
	// other clients of the same account are unaffected
	if ok, _, err := l.Allow(ctx, "u@x.io", "other"); err != nil || !ok {
		t.Fatalf("Allow other ip: ok=%v err=%v", ok, err)
	}

	*now = now.Add(11 * time.Minute)
	if ok, _, err := l.Allow(ctx, "u@x.io", "h"); err != nil || !ok {
		t.Fatalf("Allow after block: ok=%v err=%v", ok, err)
	}
}

func TestFailure_WindowResets(t *testing.T) {
	t.Parallel()
	l, now := newTestStore(t, 2, 5*time.Minute, 10*time.Minute)
	ctx := context.Background()

	if blocked, _, err := l.Failure(ctx, "w@x.io", "h"); err != nil || blocked {
		t.Fatalf("first failure: blocked=%v err=%v", blocked, err)
	}
	*now = now.Add(6 * time.Minute)
	if blocked, _, err := l.Failure(ctx, "w@x.io", "h"); err != nil || blocked {
		t.Fatalf("failure after window: blocked=%v err=%v", blocked, err)
	}
}

func TestSuccess_ResetsCounters(t *testing.T) {
	t.Parallel()
	l, _ := newTestStore(t, 2, 5*time.Minute, 10*time.Minute)
	ctx := context.Background()

	if _, _, err := l.Failure(ctx, "s@x.io", "h"); err != nil {
		t.Fatalf("failure: %v", err)
	}
	if err := l.Success(ctx, "s@x.io", "h"); err != nil {
		t.Fatalf("success: %v", err)
	}
	if blocked, _, err := l.Failure(ctx, "s@x.io", "h"); err != nil || blocked {
		t.Fatalf("failure after success: blocked=%v err=%v", blocked, err)
	}
}

func TestHashIP_Determinism(t *testing.T) {
	t.Parallel()
	a := HashIP("1.2.3.4:123")
	b := HashIP("1.2.3.4:123")
	c := HashIP("5.6.7.8:321")
	if a != b || a == c || len(a) != 64 {
		t.Fatalf("hash mismatch/len: %d", len(a))
	}
}
