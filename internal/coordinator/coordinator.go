// Package coordinator bounds the number of concurrent speech operations and
// owns their cancellation.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/dgnsrekt/speechkit/internal/metrics"
	"github.com/dgnsrekt/speechkit/internal/ttypes"
)

const (
	DefaultMaxConcurrent     = 3
	DefaultTranscribeTimeout = 60 * time.Second
	DefaultSynthesizeTimeout = 30 * time.Second
	DefaultSweepInterval     = 60 * time.Second

	// staleBuffer is added to an operation's timeout before the sweep
	// considers it abandoned.
	staleBuffer = 10 * time.Second
)

// Config controls admission and timeouts.
type Config struct {
	MaxConcurrent     int
	TranscribeTimeout time.Duration
	SynthesizeTimeout time.Duration
	SweepInterval     time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxConcurrent:     DefaultMaxConcurrent,
		TranscribeTimeout: DefaultTranscribeTimeout,
		SynthesizeTimeout: DefaultSynthesizeTimeout,
		SweepInterval:     DefaultSweepInterval,
	}
}

// Operation is an admitted, in-flight request.
type Operation struct {
	ID        string
	Kind      ttypes.Kind
	StartedAt time.Time
	Timeout   time.Duration

	ctx    context.Context
	cancel context.CancelCauseFunc
	stop   context.CancelFunc
}

// Context returns the operation context. It is done when the caller's
// context ends, the timeout fires or the operation is cancelled.
func (op *Operation) Context() context.Context {
	return op.ctx
}

// Err reports why the operation context ended, mapped to ErrTimeout or
// ErrCanceled. It returns nil while the operation is live.
func (op *Operation) Err() error {
	return ttypes.ContextError(op.ctx)
}

// Status is a snapshot of the live set.
type Status struct {
	Total  int
	ByKind map[ttypes.Kind]int
	Max    int
}

// Coordinator admits operations up to a fixed ceiling.
type Coordinator struct {
	cfg     Config
	logger  *log.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu  sync.Mutex
	ops map[string]*Operation

	sweepStop chan struct{}
	sweepWg   sync.WaitGroup
	running   bool
}

type Option func(*Coordinator)

func WithLogger(l *log.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// WithClock replaces time.Now, mainly for sweep tests.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

func New(cfg Config, opts ...Option) *Coordinator {
	def := DefaultConfig()
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = def.MaxConcurrent
	}
	if cfg.TranscribeTimeout <= 0 {
		cfg.TranscribeTimeout = def.TranscribeTimeout
	}
	if cfg.SynthesizeTimeout <= 0 {
		cfg.SynthesizeTimeout = def.SynthesizeTimeout
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}

	c := &Coordinator{
		cfg:    cfg,
		logger: log.Default().WithPrefix("coordinator"),
		now:    time.Now,
		ops:    make(map[string]*Operation),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Coordinator) timeoutFor(kind ttypes.Kind) time.Duration {
	if kind == ttypes.KindTranscribe {
		return c.cfg.TranscribeTimeout
	}
	return c.cfg.SynthesizeTimeout
}

// Admit registers a new operation of the given kind, or returns
// ErrAdmissionRejected when the ceiling is reached.
func (c *Coordinator) Admit(ctx context.Context, kind ttypes.Kind) (*Operation, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown operation kind %q", ttypes.ErrValidation, kind)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.ops) >= c.cfg.MaxConcurrent {
		c.metrics.ObserveAdmission(kind.String(), false)
		c.logger.Debug("Admission rejected", "kind", kind, "live", len(c.ops), "max", c.cfg.MaxConcurrent)
		return nil, fmt.Errorf("%w (%d in flight)", ttypes.ErrAdmissionRejected, len(c.ops))
	}

	timeout := c.timeoutFor(kind)
	cancelCtx, cancel := context.WithCancelCause(ctx)
	opCtx, stop := context.WithTimeoutCause(cancelCtx, timeout, ttypes.ErrTimeout)

	op := &Operation{
		ID:        uuid.NewString(),
		Kind:      kind,
		StartedAt: c.now(),
		Timeout:   timeout,
		ctx:       opCtx,
		cancel:    cancel,
		stop:      stop,
	}
	c.ops[op.ID] = op

	c.metrics.ObserveAdmission(kind.String(), true)
	c.reportInFlight()
	c.logger.Debug("Operation admitted", "id", op.ID, "kind", kind, "timeout", timeout)
	return op, nil
}

// Release removes the operation from the live set. Releasing an unknown or
// already released id is a no-op.
func (c *Coordinator) Release(id string) {
	c.mu.Lock()
	op, ok := c.ops[id]
	if ok {
		delete(c.ops, id)
		c.reportInFlight()
	}
	c.mu.Unlock()

	if ok {
		op.stop()
		op.cancel(nil)
	}
}

// Cancel cancels live operations. An empty id cancels every operation of
// kind; KindAny with an empty id cancels everything. It returns the number
// of operations cancelled.
func (c *Coordinator) Cancel(kind ttypes.Kind, id string) int {
	c.mu.Lock()
	var victims []*Operation
	for opID, op := range c.ops {
		if id != "" && opID != id {
			continue
		}
		if kind != ttypes.KindAny && op.Kind != kind {
			continue
		}
		victims = append(victims, op)
		delete(c.ops, opID)
	}
	if len(victims) > 0 {
		c.reportInFlight()
	}
	c.mu.Unlock()

	for _, op := range victims {
		op.cancel(ttypes.ErrCanceled)
		op.stop()
		c.logger.Info("Operation cancelled", "id", op.ID, "kind", op.Kind)
	}
	return len(victims)
}

// Sweep removes operations that outlived their timeout plus a grace buffer.
// It returns the number removed.
func (c *Coordinator) Sweep() int {
	now := c.now()

	c.mu.Lock()
	var stale []*Operation
	for id, op := range c.ops {
		if now.Sub(op.StartedAt) > op.Timeout+staleBuffer {
			stale = append(stale, op)
			delete(c.ops, id)
		}
	}
	if len(stale) > 0 {
		c.reportInFlight()
	}
	c.mu.Unlock()

	for _, op := range stale {
		op.cancel(ttypes.ErrTimeout)
		op.stop()
		c.metrics.IncStale()
		c.logger.Warn("Removed stale operation", "id", op.ID, "kind", op.Kind, "age", now.Sub(op.StartedAt).Round(time.Second))
	}
	return len(stale)
}

func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Status{
		Total:  len(c.ops),
		ByKind: make(map[ttypes.Kind]int, len(ttypes.Kinds)),
		Max:    c.cfg.MaxConcurrent,
	}
	for _, k := range ttypes.Kinds {
		s.ByKind[k] = 0
	}
	for _, op := range c.ops {
		s.ByKind[op.Kind]++
	}
	return s
}

// Start launches the periodic stale sweep. Calling Start twice is a no-op.
func (c *Coordinator) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return
	}
	c.running = true
	c.sweepStop = make(chan struct{})

	c.sweepWg.Add(1)
	go func(stop <-chan struct{}) {
		defer c.sweepWg.Done()
		ticker := time.NewTicker(c.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.Sweep()
			case <-stop:
				return
			}
		}
	}(c.sweepStop)
}

// Stop halts the sweep and cancels every live operation.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if c.running {
		close(c.sweepStop)
		c.running = false
	}
	c.mu.Unlock()

	c.sweepWg.Wait()
	c.Cancel(ttypes.KindAny, "")
}

// reportInFlight must be called with c.mu held.
func (c *Coordinator) reportInFlight() {
	if c.metrics == nil {
		return
	}
	counts := make(map[ttypes.Kind]int, len(ttypes.Kinds))
	for _, op := range c.ops {
		counts[op.Kind]++
	}
	for _, k := range ttypes.Kinds {
		c.metrics.SetInFlight(k.String(), counts[k])
	}
}
