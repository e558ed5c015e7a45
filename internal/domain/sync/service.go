// Package sync bridges the local durable store to the remote API. It
// owns the drain loop, the retry/backoff policy around store startup,
// and the single-in-flight guard that keeps one sync pass running at a
// time.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	stdsync "sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"feedbacksync/internal/domain/audit"
	"feedbacksync/internal/domain/queue"
	"feedbacksync/internal/platform/db"
	"feedbacksync/internal/platform/metrics"
)

var (
	// ErrSyncInFlight reports that a sync pass is already running.
	// Callers treat it as "already being handled", not a failure.
	ErrSyncInFlight = errors.New("sync already in flight")
	// ErrCooldown reports that an automatic pass ran too recently.
	ErrCooldown = errors.New("sync cooldown active")
)

// Store is the slice of the durable store the manager drains.
type Store interface {
	Open(ctx context.Context) error
	ListPending(ctx context.Context) ([]queue.Item, error)
	ListPendingSync(ctx context.Context) ([]queue.Item, error)
	UpdateStatus(ctx context.Context, id, status, errMsg string) error
	UpdateSyncStatus(ctx context.Context, id, status, errMsg string) error
	RequeueFailed(ctx context.Context) (int64, error)
	CountByStatus(ctx context.Context) (queue.StatusCounts, error)
}

// Auditor mirrors sensitive sync outcomes into the audit trail.
type Auditor interface {
	LogEvent(ctx context.Context, entry audit.Entry) (string, error)
}

type Callbacks struct {
	OnProgress func(done, total int, item queue.Item)
	OnSuccess  func(synced int)
	OnError    func(item queue.Item, err error)
}

type Options struct {
	Cooldown       time.Duration
	InitBaseDelay  time.Duration
	InitMaxRetries int
}

type Manager struct {
	store     Store
	submitter Submitter
	auditor   Auditor
	collector *metrics.Collector
	opts      Options

	inFlight atomic.Bool
	mu       stdsync.Mutex
	lastPass time.Time
	lastSync time.Time
}

func NewManager(store Store, submitter Submitter, auditor Auditor, collector *metrics.Collector, opts Options) *Manager {
	if opts.InitBaseDelay <= 0 {
		opts.InitBaseDelay = time.Second
	}
	return &Manager{
		store:     store,
		submitter: submitter,
		auditor:   auditor,
		collector: collector,
		opts:      opts,
	}
}

// SetAuditor wires the audit trail once the shared store is open. The
// audit service needs the store's handle, which only exists after Init.
func (m *Manager) SetAuditor(auditor Auditor) {
	m.auditor = auditor
}

// Init opens the durable store, retrying transient failures with
// exponential backoff. Local storage can be briefly unavailable at
// process start; a missing storage engine is permanent and not retried.
func (m *Manager) Init(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = m.opts.InitBaseDelay
	bo.RandomizationFactor = 0
	bo.Multiplier = 2

	attempt := 0
	operation := func() error {
		attempt++
		err := m.store.Open(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, db.ErrUnsupported) {
			return backoff.Permanent(err)
		}
		slog.Warn("durable store open failed", "attempt", attempt, "err", err)
		return err
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(m.opts.InitMaxRetries)), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return fmt.Errorf("init durable store after %d attempts: %w", attempt, err)
	}
	return nil
}

// TriggerSync drains pending items against the remote API, re-attempting
// previously failed ones with their retry counts intact. Re-entrant
// calls while a pass is running are rejected with ErrSyncInFlight so a
// queued item is never submitted twice concurrently.
func (m *Manager) TriggerSync(ctx context.Context, cb Callbacks) error {
	return m.run(ctx, cb, runOptions{})
}

// ForceSyncAll runs a pass regardless of the cooldown.
func (m *Manager) ForceSyncAll(ctx context.Context, cb Callbacks) error {
	return m.run(ctx, cb, runOptions{ignoreCooldown: true})
}

type runOptions struct {
	ignoreCooldown bool
}

func (m *Manager) run(ctx context.Context, cb Callbacks, opts runOptions) error {
	if !m.inFlight.CompareAndSwap(false, true) {
		return ErrSyncInFlight
	}
	defer m.inFlight.Store(false)

	if !opts.ignoreCooldown && m.opts.Cooldown > 0 {
		m.mu.Lock()
		tooSoon := !m.lastPass.IsZero() && time.Since(m.lastPass) < m.opts.Cooldown
		if !tooSoon {
			m.lastPass = time.Now()
		}
		m.mu.Unlock()
		if tooSoon {
			return ErrCooldown
		}
	}

	// Failed items go back to pending with their retry counts intact so
	// a transient submission error is re-attempted on the next pass.
	if _, err := m.store.RequeueFailed(ctx); err != nil {
		if cb.OnError != nil {
			cb.OnError(queue.Item{}, err)
		}
		return err
	}

	feedback, err := m.store.ListPending(ctx)
	if err != nil {
		if cb.OnError != nil {
			cb.OnError(queue.Item{}, err)
		}
		return err
	}
	generic, err := m.store.ListPendingSync(ctx)
	if err != nil {
		if cb.OnError != nil {
			cb.OnError(queue.Item{}, err)
		}
		return err
	}
	items := append(feedback, generic...)

	start := time.Now()
	total := len(items)
	synced, failed := 0, 0
	for _, item := range items {
		if err := m.mark(ctx, item, queue.StatusSyncing, ""); err != nil {
			slog.Warn("mark syncing failed", "itemId", item.ID, "err", err)
			continue
		}
		if err := m.submitter.Submit(ctx, item); err != nil {
			failed++
			if markErr := m.mark(ctx, item, queue.StatusFailed, err.Error()); markErr != nil {
				slog.Warn("mark failed failed", "itemId", item.ID, "err", markErr)
			}
			slog.Warn("item sync failed", "itemId", item.ID, "retryCount", item.RetryCount+1, "err", err)
			m.logAudit(ctx, item, audit.OutcomeFailure, err.Error())
			if cb.OnError != nil {
				cb.OnError(item, err)
			}
			continue
		}
		if err := m.mark(ctx, item, queue.StatusSynced, ""); err != nil {
			slog.Warn("mark synced failed", "itemId", item.ID, "err", err)
			continue
		}
		synced++
		m.logAudit(ctx, item, audit.OutcomeSuccess, "feedback submission synced to remote store")
		if cb.OnProgress != nil {
			cb.OnProgress(synced, total, item)
		}
	}

	m.mu.Lock()
	m.lastSync = time.Now()
	m.mu.Unlock()
	if m.collector != nil {
		m.collector.RecordSyncPass(synced, failed, time.Since(start))
	}
	slog.Info("sync pass finished", "total", total, "synced", synced, "failed", failed)
	if cb.OnSuccess != nil {
		cb.OnSuccess(synced)
	}
	return nil
}

func (m *Manager) mark(ctx context.Context, item queue.Item, status, errMsg string) error {
	if item.Kind == queue.KindSync {
		return m.store.UpdateSyncStatus(ctx, item.ID, status, errMsg)
	}
	return m.store.UpdateStatus(ctx, item.ID, status, errMsg)
}

func (m *Manager) logAudit(ctx context.Context, item queue.Item, outcome, description string) {
	if m.auditor == nil {
		return
	}
	resource := audit.ResourceFeedback
	if item.Kind == queue.KindSync {
		resource = audit.ResourceSystem
	}
	if _, err := m.auditor.LogEvent(ctx, audit.Entry{
		Action:       audit.ActionExport,
		ResourceType: resource,
		ResourceID:   item.ID,
		Outcome:      outcome,
		Description:  description,
	}); err != nil {
		slog.Warn("audit log failed", "itemId", item.ID, "err", err)
	}
}

type Stats struct {
	Counts     queue.StatusCounts `json:"counts"`
	LastSyncAt time.Time          `json:"lastSyncAt,omitzero"`
	InFlight   bool               `json:"inFlight"`
}

func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	counts, err := m.store.CountByStatus(ctx)
	if err != nil {
		return Stats{}, err
	}
	m.mu.Lock()
	last := m.lastSync
	m.mu.Unlock()
	return Stats{
		Counts:     counts,
		LastSyncAt: last,
		InFlight:   m.inFlight.Load(),
	}, nil
}
