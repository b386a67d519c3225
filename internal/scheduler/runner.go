// Package scheduler drives periodic Slack reconciliation across tenants.
package scheduler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/eventsync/internal/cache"
	"github.com/kiranshivaraju/eventsync/internal/reconcile"
	"github.com/kiranshivaraju/eventsync/pkg/models"
	"golang.org/x/sync/errgroup"
)

// ErrRunInProgress is returned when this process or another replica is already
// running a sync.
var ErrRunInProgress = errors.New("sync run already in progress")

// TenantLoader loads the tenants to sync.
type TenantLoader interface {
	LoadActiveTenants(ctx context.Context) ([]*models.Tenant, error)
}

// Steps are the per-tenant reconcilers, run in declaration order.
type Steps interface {
	LinkMembers(ctx context.Context, t *models.Tenant) reconcile.Report
	LinkChannels(ctx context.Context, t *models.Tenant) reconcile.Report
	SyncUsergroups(ctx context.Context, t *models.Tenant) reconcile.Report
}

// Recorder receives run metrics. *metrics.SyncMetrics implements it.
type Recorder interface {
	ObserveReport(rep reconcile.Report)
	ObserveTenant(outcome string)
	ObserveRun(outcome string, d time.Duration, finished time.Time)
}

// Options configures a Runner.
type Options struct {
	Concurrency int
	LockTTL     time.Duration
	SuspendTTL  time.Duration
}

// Runner executes one sync run at a time.
type Runner struct {
	tenants TenantLoader
	steps   Steps
	cache   cache.Cache
	metrics Recorder
	opts    Options
	logger  *slog.Logger
	running atomic.Bool
}

// NewRunner creates a Runner. rec may be nil.
func NewRunner(tenants TenantLoader, steps Steps, c cache.Cache, rec Recorder, opts Options, logger *slog.Logger) *Runner {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if rec == nil {
		rec = nopRecorder{}
	}
	return &Runner{
		tenants: tenants,
		steps:   steps,
		cache:   c,
		metrics: rec,
		opts:    opts,
		logger:  logger,
	}
}

// Running reports whether this process is currently running a sync.
func (r *Runner) Running() bool {
	return r.running.Load()
}

// RunOnce syncs every active tenant. A tenant's failure never stops the others;
// the returned error covers only failures to start or to load tenants.
func (r *Runner) RunOnce(ctx context.Context, trigger string) (*RunSummary, error) {
	if !r.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer r.running.Store(false)

	summary := &RunSummary{
		RunID:     uuid.New(),
		Trigger:   trigger,
		StartedAt: time.Now().UTC(),
		Tenants:   []TenantResult{},
	}
	logger := r.logger.With("run_id", summary.RunID, "trigger", trigger)

	lockToken := summary.RunID.String()
	acquired, err := r.cache.AcquireLock(ctx, cache.RunLockKey(), lockToken, r.opts.LockTTL)
	if err != nil {
		r.metrics.ObserveRun("failed", 0, time.Now())
		return nil, fmt.Errorf("acquire run lock: %w", err)
	}
	if !acquired {
		logger.Info("sync run skipped, lock held by another replica")
		r.metrics.ObserveRun("locked", 0, time.Now())
		return nil, ErrRunInProgress
	}
	renewCtx, stopRenew := context.WithCancel(ctx)
	renewDone := make(chan struct{})
	go func() {
		defer close(renewDone)
		r.renewLock(renewCtx, lockToken, logger)
	}()
	defer func() {
		stopRenew()
		<-renewDone
		// The run context may already be cancelled on shutdown.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.cache.ReleaseLock(releaseCtx, cache.RunLockKey(), lockToken); err != nil {
			logger.Warn("release run lock", "error", err)
		}
	}()

	logger.Info("sync run started")

	tenants, err := r.tenants.LoadActiveTenants(ctx)
	if err != nil {
		summary.Error = err.Error()
		r.finish(summary, logger, "failed")
		return summary, fmt.Errorf("load tenants: %w", err)
	}

	results := make([]TenantResult, len(tenants))
	var g errgroup.Group
	g.SetLimit(r.opts.Concurrency)
	for i, t := range tenants {
		i, t := i, t
		g.Go(func() error {
			results[i] = r.syncTenant(ctx, t, logger)
			return nil
		})
	}
	_ = g.Wait()

	summary.Tenants = results
	r.finish(summary, logger, "completed")
	return summary, nil
}

// renewLock pushes the run lock's expiry out every third of its TTL so a run
// longer than SYNC_LOCK_TTL keeps other replicas out. It stops when ctx ends
// or the lock has been lost.
func (r *Runner) renewLock(ctx context.Context, token string, logger *slog.Logger) {
	interval := r.opts.LockTTL / 3
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		err := r.cache.ExtendLock(ctx, cache.RunLockKey(), token, r.opts.LockTTL)
		switch {
		case err == nil:
		case errors.Is(err, cache.ErrLockNotHeld):
			logger.Error("run lock lost, another replica may start a run")
			return
		case ctx.Err() != nil:
			return
		default:
			logger.Warn("extend run lock", "error", err)
		}
	}
}

func (r *Runner) finish(summary *RunSummary, logger *slog.Logger, outcome string) {
	summary.FinishedAt = time.Now().UTC()
	r.metrics.ObserveRun(outcome, summary.FinishedAt.Sub(summary.StartedAt), summary.FinishedAt)

	saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if b, err := json.Marshal(summary); err != nil {
		logger.Error("encode run summary", "error", err)
	} else if err := r.cache.Set(saveCtx, cache.LastRunKey(), b, 0); err != nil {
		logger.Warn("store run summary", "error", err)
	}

	logger.Info("sync run finished",
		"outcome", outcome,
		"tenants", len(summary.Tenants),
		"ok", summary.Count(OutcomeOK),
		"partial", summary.Count(OutcomePartial),
		"suspended", summary.Count(OutcomeSuspended),
		"skipped", summary.Count(OutcomeSkipped),
		"failed", summary.Count(OutcomeFailed),
		"duration_ms", summary.FinishedAt.Sub(summary.StartedAt).Milliseconds())
}

// LastRun returns the summary of the most recent run.
func (r *Runner) LastRun(ctx context.Context) (*RunSummary, bool, error) {
	b, found, err := r.cache.Get(ctx, cache.LastRunKey())
	if err != nil || !found {
		return nil, false, err
	}
	var s RunSummary
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, false, fmt.Errorf("decode run summary: %w", err)
	}
	return &s, true, nil
}

type step struct {
	name string
	run  func(context.Context, *models.Tenant) reconcile.Report
}

func (r *Runner) syncTenant(ctx context.Context, t *models.Tenant, runLogger *slog.Logger) (res TenantResult) {
	logger := runLogger.With("tenant_id", t.ID)
	res = TenantResult{TenantID: t.ID, Name: t.Name, Outcome: OutcomeOK}
	defer func() {
		r.metrics.ObserveTenant(res.Outcome)
	}()

	suspendKey := cache.SuspendedKey(t.ID, tokenFingerprint(t.SlackAccessToken))
	if _, suspended, err := r.cache.Get(ctx, suspendKey); err != nil {
		logger.Warn("check tenant suspension", "error", err)
	} else if suspended {
		logger.Info("tenant skipped, credential suspended")
		res.Outcome = OutcomeSkipped
		return res
	}

	steps := []step{
		{reconcile.StepMembers, r.steps.LinkMembers},
		{reconcile.StepChannels, r.steps.LinkChannels},
		{reconcile.StepUsergroups, r.steps.SyncUsergroups},
	}
	for _, s := range steps {
		if ctx.Err() != nil {
			res.Errors = append(res.Errors, ctx.Err().Error())
			res.Outcome = OutcomeFailed
			return res
		}

		rep, err := r.runStep(ctx, t, s, logger)
		if err != nil {
			res.Errors = append(res.Errors, err.Error())
			res.Outcome = OutcomeFailed
			continue
		}
		res.Steps = append(res.Steps, rep)
		r.metrics.ObserveReport(rep)

		if rep.Permanent() {
			r.suspend(ctx, suspendKey, logger)
			res.Outcome = OutcomeSuspended
			return res
		}
		if !rep.OK() && res.Outcome == OutcomeOK {
			res.Outcome = OutcomePartial
		}
	}
	return res
}

// runStep runs one reconciler, turning a panic into an error.
func (r *Runner) runStep(ctx context.Context, t *models.Tenant, s step, logger *slog.Logger) (rep reconcile.Report, err error) {
	defer func() {
		if p := recover(); p != nil {
			logger.Error("panic recovered",
				"step", s.name,
				"error", p,
				"stack", string(debug.Stack()))
			err = fmt.Errorf("%s: panic: %v", s.name, p)
		}
	}()
	return s.run(ctx, t), nil
}

func (r *Runner) suspend(ctx context.Context, key string, logger *slog.Logger) {
	logger.Error("tenant credential rejected, suspending until the token changes",
		"suspend_ttl", r.opts.SuspendTTL)
	if err := r.cache.Set(ctx, key, []byte(time.Now().UTC().Format(time.RFC3339)), r.opts.SuspendTTL); err != nil {
		logger.Warn("store tenant suspension", "error", err)
	}
}

// tokenFingerprint identifies a credential without storing it.
func tokenFingerprint(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:8])
}

type nopRecorder struct{}

func (nopRecorder) ObserveReport(reconcile.Report)              {}
func (nopRecorder) ObserveTenant(string)                        {}
func (nopRecorder) ObserveRun(string, time.Duration, time.Time) {}
