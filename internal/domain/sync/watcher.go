package sync

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Prober answers whether the remote API is reachable.
type Prober interface {
	Healthz(ctx context.Context) error
}

// ConnectivityWatcher polls the remote API and fires an automatic sync
// when connectivity comes back while items are waiting.
type ConnectivityWatcher struct {
	prober   Prober
	manager  *Manager
	interval time.Duration
	online   atomic.Bool
}

func NewConnectivityWatcher(prober Prober, manager *Manager, interval time.Duration) *ConnectivityWatcher {
	return &ConnectivityWatcher{prober: prober, manager: manager, interval: interval}
}

func (w *ConnectivityWatcher) Online() bool {
	return w.online.Load()
}

func (w *ConnectivityWatcher) Run(ctx context.Context) {
	w.check(ctx)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.check(ctx)
		}
	}
}

func (w *ConnectivityWatcher) check(ctx context.Context) {
	err := w.prober.Healthz(ctx)
	nowOnline := err == nil
	wasOnline := w.online.Swap(nowOnline)
	if !nowOnline {
		if wasOnline {
			slog.Warn("connectivity lost", "err", err)
		}
		return
	}
	if wasOnline {
		return
	}

	slog.Info("connectivity restored")
	counts, err := w.manager.store.CountByStatus(ctx)
	if err != nil {
		slog.Warn("queue count failed after reconnect", "err", err)
		return
	}
	if counts.Unsynced() == 0 {
		return
	}
	// The transition itself authorizes the pass; cooldown only gates
	// repeated automatic passes while already online.
	if err := w.manager.run(ctx, Callbacks{}, runOptions{ignoreCooldown: true}); err != nil &&
		err != ErrSyncInFlight {
		slog.Warn("auto sync failed", "err", err)
	}
}
