package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// State is the connection lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateDegraded
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDegraded:
		return "degraded"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Defaults for Options.
const (
	DefaultRetryBudget         = 3
	DefaultCriticalRetryBudget = 5
	DefaultHealthInterval      = 30 * time.Second
)

// Options configures a Connection. Zero values take the defaults.
type Options struct {
	RetryBudget         int
	CriticalRetryBudget int
	BaseDelay           time.Duration
	HealthInterval      time.Duration
	Logger              *zap.Logger
	Tracer              trace.Tracer

	jitter jitterFunc
	now    func() time.Time
}

// core is the process-wide state shared by every Connection view.
type core struct {
	mu         sync.Mutex
	transports []Transport
	link       Link
	state      State
	lastHealth time.Time
	failures   int // consecutive failed attempts

	criticalBudget int
	base           time.Duration
	healthEvery    time.Duration
	jitter         jitterFunc
	now            func() time.Time
	log            *zap.Logger
	tracer         trace.Tracer
}

// Connection is a resilient handle to the store. Views returned by Critical
// share state with the Connection they came from.
type Connection struct {
	c      *core
	budget int
}

// New builds a disconnected Connection over transports, tried in order.
func New(transports []Transport, o Options) *Connection {
	if o.RetryBudget <= 0 {
		o.RetryBudget = DefaultRetryBudget
	}
	if o.CriticalRetryBudget <= 0 {
		o.CriticalRetryBudget = DefaultCriticalRetryBudget
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = DefaultBaseDelay
	}
	if o.HealthInterval <= 0 {
		o.HealthInterval = DefaultHealthInterval
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Tracer == nil {
		o.Tracer = otel.Tracer("github.com/and161185/gearguard/internal/store")
	}
	if o.jitter == nil {
		o.jitter = uniformJitter
	}
	if o.now == nil {
		o.now = time.Now
	}
	return &Connection{
		c: &core{
			transports:     transports,
			state:          StateDisconnected,
			criticalBudget: o.CriticalRetryBudget,
			base:           o.BaseDelay,
			healthEvery:    o.HealthInterval,
			jitter:         o.jitter,
			now:            o.now,
			log:            o.Logger,
			tracer:         o.Tracer,
		},
		budget: o.RetryBudget,
	}
}

// Critical returns a view of the same connection with the critical retry budget.
func (c *Connection) Critical() *Connection {
	return &Connection{c: c.c, budget: c.c.criticalBudget}
}

// Budget reports the number of attempts Execute makes on connection errors.
func (c *Connection) Budget() int { return c.budget }

// State reports the current lifecycle state.
func (c *Connection) State() State {
	c.c.mu.Lock()
	defer c.c.mu.Unlock()
	return c.c.state
}

// Transport names the active link, or "" when disconnected.
func (c *Connection) Transport() string {
	c.c.mu.Lock()
	defer c.c.mu.Unlock()
	if c.c.link == nil {
		return ""
	}
	return c.c.link.Name()
}

// Connect discards any current link and runs the transport sequence. It is the
// only way out of StateClosed.
func (c *Connection) Connect(ctx context.Context) error {
	c.c.mu.Lock()
	defer c.c.mu.Unlock()
	c.c.dropLocked()
	return c.c.connectLocked(ctx)
}

// Close shuts the link down. Operations fail with ErrClosed until Connect.
func (c *Connection) Close() error {
	c.c.mu.Lock()
	defer c.c.mu.Unlock()
	var err error
	if c.c.link != nil {
		err = c.c.link.Close()
		c.c.link = nil
	}
	c.c.state = StateClosed
	return err
}

// Execute runs fn against the current link. Connection-class failures discard
// the link and retry with exponential backoff until the budget is spent or ctx
// is done; any other failure is returned after one attempt.
func (c *Connection) Execute(ctx context.Context, op string, fn func(ctx context.Context, q Querier) error) error {
	return c.execute(ctx, op, func(ctx context.Context, l Link) error { return fn(ctx, l) })
}

func (c *Connection) execute(ctx context.Context, op string, fn func(ctx context.Context, l Link) error) error {
	ctx, span := c.c.tracer.Start(ctx, "store."+op)
	defer span.End()

	attempts := 0
	var transport string
	err := retry.Do(ctx, newBackoff(c.budget, c.c.base, c.c.jitter), func(ctx context.Context) error {
		attempts++
		link, err := c.c.acquire(ctx)
		if err != nil {
			return c.c.retryable(ctx, op, attempts, err)
		}
		transport = link.Name()
		if err := fn(ctx, link); err != nil {
			if IsConnectionError(err) && ctx.Err() == nil {
				c.c.invalidate(link, err)
			}
			return c.c.retryable(ctx, op, attempts, err)
		}
		c.c.succeeded()
		return nil
	})

	span.SetAttributes(
		attribute.String("store.transport", transport),
		attribute.Int("store.attempts", attempts),
		attribute.Bool("store.retried", attempts > 1),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, op)
		return wrap(op, err)
	}
	return nil
}

// Exec runs a statement and returns the number of affected rows.
func (c *Connection) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	var n int64
	err := c.Execute(ctx, "exec", func(ctx context.Context, q Querier) error {
		var err error
		n, err = q.Exec(ctx, sql, args...)
		return err
	})
	return n, err
}

// Query runs a query and returns its rows; only obtaining the rows is retried.
func (c *Connection) Query(ctx context.Context, sql string, args ...any) (Rows, error) {
	var rows Rows
	err := c.Execute(ctx, "query", func(ctx context.Context, q Querier) error {
		var err error
		rows, err = q.Query(ctx, sql, args...)
		return err
	})
	return rows, err
}

// QueryRow returns a row whose Scan runs the query under Execute.
func (c *Connection) QueryRow(ctx context.Context, sql string, args ...any) Row {
	return row{scan: func(dest ...any) error {
		return c.Execute(ctx, "query_row", func(ctx context.Context, q Querier) error {
			return scanOne(ctx, q, sql, args, dest)
		})
	}}
}

// Begin starts a transaction; acquiring it is retried like Execute.
func (c *Connection) Begin(ctx context.Context) (*Tx, error) {
	var tx *Tx
	err := c.execute(ctx, "begin", func(ctx context.Context, link Link) error {
		ltx, err := link.Begin(ctx)
		if err != nil {
			return err
		}
		tx = &Tx{c: c.c, link: link, tx: ltx}
		return nil
	})
	return tx, err
}

// InTx runs fn in a transaction and commits it, rolling back when fn fails.
// fn runs at most once.
func (c *Connection) InTx(ctx context.Context, fn func(ctx context.Context, q Querier) error) (err error) {
	tx, err := c.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
		}
	}()
	if err = fn(ctx, tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Sync asks the active link to reconcile with its primary. It is attempted
// once; a connection-class failure discards the link.
func (c *Connection) Sync(ctx context.Context) error {
	ctx, span := c.c.tracer.Start(ctx, "store.sync")
	defer span.End()

	link, err := c.c.acquire(ctx)
	if err != nil {
		return wrap("sync", err)
	}
	if err := link.Sync(ctx); err != nil {
		if IsConnectionError(err) {
			c.c.invalidate(link, err)
		}
		span.RecordError(err)
		return wrap("sync", err)
	}
	return nil
}

// Ping forces a health check of the active link, connecting if needed.
func (c *Connection) Ping(ctx context.Context) error {
	link, err := c.c.acquire(ctx)
	if err != nil {
		return wrap("ping", err)
	}
	if err := link.Ping(ctx); err != nil {
		if IsConnectionError(err) {
			c.c.invalidate(link, err)
		}
		return wrap("ping", err)
	}
	c.c.mu.Lock()
	c.c.lastHealth = c.c.now()
	c.c.mu.Unlock()
	return nil
}

// Databases exposes the database/sql handles of the active link.
func (c *Connection) Databases(ctx context.Context) ([]Database, error) {
	link, err := c.c.acquire(ctx)
	if err != nil {
		return nil, wrap("databases", err)
	}
	return link.Databases(ctx)
}

// acquire returns a healthy link, connecting or reconnecting under the lock so
// concurrent callers never interleave a reconnect.
func (s *core) acquire(ctx context.Context) (Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return nil, ErrClosed
	}
	if s.link != nil && s.now().Sub(s.lastHealth) >= s.healthEvery {
		if err := s.link.Ping(ctx); err != nil {
			s.log.Warn("store health check failed", zap.String("transport", s.link.Name()), zap.Error(err))
			s.dropLocked()
		} else {
			s.lastHealth = s.now()
		}
	}
	if s.link == nil {
		if err := s.connectLocked(ctx); err != nil {
			return nil, err
		}
	}
	return s.link, nil
}

func (s *core) connectLocked(ctx context.Context) error {
	s.state = StateConnecting
	var lastErr error
	for _, t := range s.transports {
		l, err := t.Open(ctx)
		if errors.Is(err, ErrTransportSkipped) {
			s.log.Debug("store transport skipped", zap.String("transport", t.Name))
			continue
		}
		if err != nil {
			s.log.Warn("store transport failed", zap.String("transport", t.Name), zap.Error(err))
			lastErr = err
			continue
		}
		s.link = l
		s.state = StateConnected
		s.lastHealth = s.now()
		s.log.Info("store connected", zap.String("transport", l.Name()))
		return nil
	}
	s.state = StateDisconnected
	if lastErr == nil {
		return ErrNoTransport
	}
	return fmt.Errorf("%w: %w", ErrNoTransport, lastErr)
}

// dropLocked closes and forgets the current link.
func (s *core) dropLocked() {
	if s.link == nil {
		return
	}
	if err := s.link.Close(); err != nil {
		s.log.Debug("store link close", zap.Error(err))
	}
	s.link = nil
	s.state = StateDegraded
}

// invalidate drops link if it is still the active one; a link replaced by
// another caller is left alone.
func (s *core) invalidate(link Link, cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.link != link {
		return
	}
	s.log.Warn("store link lost", zap.String("transport", link.Name()), zap.Error(cause))
	s.dropLocked()
}

func (s *core) succeeded() {
	s.mu.Lock()
	s.failures = 0
	s.mu.Unlock()
}

// retryable marks connection-class errors for another attempt.
func (s *core) retryable(ctx context.Context, op string, attempt int, err error) error {
	if !IsConnectionError(err) || ctx.Err() != nil {
		return err
	}
	s.mu.Lock()
	s.failures++
	failures := s.failures
	s.mu.Unlock()
	s.log.Warn("store operation failed, retrying",
		zap.String("op", op),
		zap.Int("attempt", attempt),
		zap.Int("consecutive_failures", failures),
		zap.Error(err),
	)
	return retry.RetryableError(err)
}

// Tx is a transaction pinned to the link it began on. Its statements and its
// Commit/Rollback run exactly once.
type Tx struct {
	c    *core
	link Link
	tx   LinkTx
}

func (t *Tx) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	n, err := t.tx.Exec(ctx, sql, args...)
	return n, t.fail("tx exec", err)
}

func (t *Tx) Query(ctx context.Context, sql string, args ...any) (Rows, error) {
	rows, err := t.tx.Query(ctx, sql, args...)
	return rows, t.fail("tx query", err)
}

// Commit commits once. A failed commit is always reported.
func (t *Tx) Commit(ctx context.Context) error {
	return t.fail("commit", t.tx.Commit(ctx))
}

// Rollback aborts once.
func (t *Tx) Rollback(ctx context.Context) error {
	return t.fail("rollback", t.tx.Rollback(ctx))
}

func (t *Tx) fail(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsConnectionError(err) {
		t.c.invalidate(t.link, err)
	}
	return wrap(op, err)
}
