package supervisor

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce batches bursts of unit-file writes into one reload.
const watchDebounce = 500 * time.Millisecond

// Monitor runs the liveness sweep until ctx is cancelled: every pass it
// restarts dead restartable units whose restart delay has elapsed since
// their death was first observed. Passes normally run one interval
// apart, but a pending restart that comes due sooner pulls the next
// pass in so the restart lands close to the declared delay. SIGHUP
// triggers a reconcile, as does a debounced services-directory change
// when watch mode is on. On cancellation every unit is stopped, in
// reverse order, before return.
func (s *Supervisor) Monitor(ctx context.Context) error {
	timer := time.NewTimer(s.cfg.MonitorInterval)
	defer timer.Stop()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	var watchC chan fsnotify.Event
	var watchErrC chan error
	if s.cfg.Watch {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			slog.Warn("watch mode unavailable", "error", err)
		} else if err := w.Add(s.cfg.ServicesDir); err != nil {
			slog.Warn("cannot watch services directory", "dir", s.cfg.ServicesDir, "error", err)
			_ = w.Close()
		} else {
			defer func() { _ = w.Close() }()
			watchC = w.Events
			watchErrC = w.Errors
			slog.Info("watching services directory", "dir", s.cfg.ServicesDir)
		}
	}

	slog.Info("monitor started", "interval", s.cfg.MonitorInterval)

	var reloadAt <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			slog.Info("monitor stopping, shutting units down")
			// The cancelled ctx would abort the stop sequence itself.
			if err := s.StopAll(context.Background()); err != nil {
				slog.Error("stop-all on shutdown failed", "error", err)
			}
			return nil
		case <-hup:
			slog.Info("SIGHUP received, reconciling units")
			if err := s.Reload(ctx); err != nil {
				slog.Error("reload failed", "error", err)
			}
		case ev, ok := <-watchC:
			if !ok {
				watchC = nil
				continue
			}
			if ev.Op.Has(fsnotify.Chmod) {
				continue
			}
			reloadAt = time.After(watchDebounce)
		case err, ok := <-watchErrC:
			if !ok {
				watchErrC = nil
				continue
			}
			slog.Warn("services directory watch error", "error", err)
		case <-reloadAt:
			reloadAt = nil
			slog.Info("services directory changed, reconciling units")
			if err := s.Reload(ctx); err != nil {
				slog.Error("reload failed", "error", err)
			}
		case <-timer.C:
			next := s.tick(ctx)
			timer.Reset(wakeAfter(s.cfg.MonitorInterval, next, time.Now()))
		}
	}
}

// minWake floors the pause between passes so a due restart in the past
// cannot spin the loop.
const minWake = 10 * time.Millisecond

// wakeAfter bounds the pause before the next monitor pass: the regular
// interval, pulled in when a pending restart comes due sooner.
func wakeAfter(interval time.Duration, next time.Time, now time.Time) time.Duration {
	if next.IsZero() {
		return interval
	}
	until := next.Sub(now)
	if until < minWake {
		until = minWake
	}
	if until < interval {
		return until
	}
	return interval
}

// tick is one monitor pass. It never sleeps: restart delays are tracked
// as timestamps so a unit with a long delay does not stall the sweep of
// the others. It returns when the earliest still-pending restart comes
// due, or the zero time when nothing is waiting.
func (s *Supervisor) tick(ctx context.Context) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	specs, err := s.load()
	if err != nil {
		slog.Error("monitor cannot read units", "error", err)
		return time.Time{}
	}

	var next time.Time
	now := time.Now()
	for _, sp := range specs {
		if !sp.Restart {
			delete(s.deadSince, sp.Name)
			continue
		}
		if s.ctl.Alive(sp.Name) {
			delete(s.deadSince, sp.Name)
			continue
		}

		first, seen := s.deadSince[sp.Name]
		if !seen {
			first = now
			s.deadSince[sp.Name] = now
			slog.Warn("unit is down", "unit", sp.Name, "restart_delay", sp.RestartDelay)
		}
		if due := first.Add(sp.RestartDelay); now.Before(due) {
			if next.IsZero() || due.Before(next) {
				next = due
			}
			continue
		}

		// A failed restart re-arms the delay on the next pass.
		delete(s.deadSince, sp.Name)
		slog.Info("restarting unit", "unit", sp.Name)
		_ = s.restartOne(ctx, sp)
	}
	s.setRunningGauge(specs)
	return next
}
