package command

import (
	"context"
	"fmt"
	"sync"
	"time"

	apperrors "tradegate/internal/errors"
	"tradegate/internal/logging"
	"tradegate/internal/monitoring"
)

// AuditSink receives a record of every invocation that reached the executor.
type AuditSink interface {
	RecordInvocation(ctx context.Context, inv *Invocation, res *Result, took time.Duration)
}

// Executor resolves, authorizes, validates and runs commands. Execution is
// serialized per command name: a second concurrent request for the same name
// is rejected immediately with "busy" rather than queued.
type Executor struct {
	registry *Registry
	timeout  time.Duration

	// invalidate is called after state-changing commands so the next
	// status snapshot reflects the change without waiting out the TTL.
	invalidate func()

	audit   AuditSink
	metrics *monitoring.Metrics

	mu       sync.Mutex
	inFlight map[string]bool
}

// ExecutorOption configures optional executor collaborators.
type ExecutorOption func(*Executor)

// WithAuditSink wires the command audit trail.
func WithAuditSink(sink AuditSink) ExecutorOption {
	return func(e *Executor) { e.audit = sink }
}

// WithMetrics wires Prometheus counters.
func WithMetrics(m *monitoring.Metrics) ExecutorOption {
	return func(e *Executor) { e.metrics = m }
}

// WithCacheInvalidator wires the status-cache invalidation hook.
func WithCacheInvalidator(fn func()) ExecutorOption {
	return func(e *Executor) { e.invalidate = fn }
}

// NewExecutor creates an executor over the given registry.
func NewExecutor(registry *Registry, timeout time.Duration, opts ...ExecutorOption) *Executor {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	e := &Executor{
		registry: registry,
		timeout:  timeout,
		inFlight: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs one invocation through the full pipeline:
// lookup → authorization → validation → per-name slot → bounded handler call.
// It always returns a structured Result; nothing here panics or crashes the
// gateway.
func (e *Executor) Execute(ctx context.Context, inv *Invocation) *Result {
	start := time.Now()
	res := e.execute(ctx, inv)

	if e.audit != nil {
		e.audit.RecordInvocation(ctx, inv, res, time.Since(start))
	}
	if e.metrics != nil {
		e.metrics.ObserveCommand(inv.Command, res.Status, time.Since(start))
	}
	return res
}

func (e *Executor) execute(ctx context.Context, inv *Invocation) *Result {
	desc, err := e.registry.Lookup(inv.Command)
	if err != nil {
		return Fail(apperrors.ErrCodeUnknownCommand, "unknown command")
	}

	if !inv.CallerRole.AtLeast(desc.MinRole) {
		logging.WithFields(map[string]interface{}{
			"command":     inv.Command,
			"caller_role": inv.CallerRole.String(),
			"min_role":    desc.MinRole.String(),
		}).Warn("Command rejected: insufficient role")
		return Fail(apperrors.ErrCodeForbidden, "forbidden")
	}

	if err := desc.Schema.Validate(inv.Params); err != nil {
		return Fail(apperrors.ErrCodeInvalidParams, fmt.Sprintf("invalid params: %v", err))
	}

	if !e.tryAcquire(inv.Command) {
		return Fail(apperrors.ErrCodeBusy, "busy")
	}

	return e.runHandler(ctx, desc, inv)
}

// runHandler invokes the collaborator with a bounded timeout. On timeout the
// gateway stops waiting and releases the slot, but the underlying call is
// not guaranteed to be cancelled; if a timed-out state-changing handler
// eventually completes, the status cache is invalidated again so the next
// snapshot reflects whatever it did.
func (e *Executor) runHandler(ctx context.Context, desc *Descriptor, inv *Invocation) *Result {
	hctx, cancel := context.WithTimeout(ctx, e.timeout)

	type outcome struct {
		res *Result
		err error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("handler panic: %v", r)}
			}
		}()
		res, err := desc.Handler(hctx, inv.Params)
		done <- outcome{res: res, err: err}
	}()

	select {
	case out := <-done:
		cancel()
		e.release(inv.Command)
		if out.err != nil {
			logging.WithError(out.err).WithField("command", inv.Command).Error("Command handler failed")
			return Fail(apperrors.ErrCodeExecution, out.err.Error())
		}
		if out.res == nil {
			return OK("done", nil)
		}
		if out.res.Status == StatusOK && desc.StateChanging {
			e.invalidateCache()
		}
		return out.res

	case <-hctx.Done():
		cancel()
		e.release(inv.Command)
		logging.WithField("command", inv.Command).Warnf("Command timed out after %s", e.timeout)

		// Drain the late completion in the background.
		go func() {
			out := <-done
			if out.err == nil && desc.StateChanging {
				logging.WithField("command", inv.Command).Warn("Timed-out command completed late, refreshing status")
				e.invalidateCache()
			}
		}()
		return Fail(apperrors.ErrCodeTimeout, "timeout")
	}
}

func (e *Executor) invalidateCache() {
	if e.invalidate != nil {
		e.invalidate()
	}
}

// tryAcquire claims the per-command-name execution slot.
func (e *Executor) tryAcquire(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inFlight[name] {
		return false
	}
	e.inFlight[name] = true
	return true
}

func (e *Executor) release(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inFlight, name)
}
