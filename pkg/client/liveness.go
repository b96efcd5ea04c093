package client

import (
	"sync"
	"time"
)

// LivenessConfig controls the idle-resync timer for one open view.
type LivenessConfig struct {
	// Base is the idle interval after which a resync fires when no push
	// event has arrived.
	Base time.Duration
	// Max caps the backed-off interval while the view is hidden.
	Max time.Duration
}

// Liveness is the fallback poll for one open conversation view. Push
// delivery is best-effort, so an idle timer forces a reconciling read
// whenever no event has arrived for the current interval. While the view
// is visible the interval stays at Base; while hidden it doubles after
// each fire up to Max. Regaining visibility or reconnecting forces an
// immediate resync and resets the interval.
type Liveness struct {
	mu       sync.Mutex
	cfg      LivenessConfig
	timer    *time.Timer
	interval time.Duration
	visible  bool
	stopped  bool
	resync   func()
}

// NewLiveness builds a stopped controller; Start arms it.
func NewLiveness(cfg LivenessConfig, resync func()) *Liveness {
	if cfg.Base <= 0 {
		cfg.Base = 15 * time.Second
	}
	if cfg.Max < cfg.Base {
		cfg.Max = cfg.Base
	}
	return &Liveness{cfg: cfg, interval: cfg.Base, visible: true, resync: resync}
}

// Start arms the idle timer.
func (l *Liveness) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopped = false
	l.interval = l.cfg.Base
	l.armLocked(l.interval)
}

// Stop disarms the timer; the controller can be restarted.
func (l *Liveness) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopped = true
	if l.timer != nil {
		l.timer.Stop()
	}
}

// ObserveEvent records push delivery for this conversation: the idle
// timer resets and the backoff returns to the base interval.
func (l *Liveness) ObserveEvent() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return
	}
	l.interval = l.cfg.Base
	l.armLocked(l.interval)
}

// SetVisible tracks view visibility. Regaining visibility forces an
// immediate resync and resets the interval.
func (l *Liveness) SetVisible(visible bool) {
	l.mu.Lock()
	wasVisible := l.visible
	l.visible = visible
	fire := visible && !wasVisible && !l.stopped
	if fire {
		l.interval = l.cfg.Base
		l.armLocked(l.interval)
	}
	l.mu.Unlock()
	if fire && l.resync != nil {
		l.resync()
	}
}

// OnReconnect forces an immediate resync after the push connection is
// re-established; any events missed during the gap are recovered by the
// reconciling read.
func (l *Liveness) OnReconnect() {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.interval = l.cfg.Base
	l.armLocked(l.interval)
	l.mu.Unlock()
	if l.resync != nil {
		l.resync()
	}
}

// Interval exposes the current idle interval.
func (l *Liveness) Interval() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.interval
}

func (l *Liveness) armLocked(d time.Duration) {
	if l.timer == nil {
		l.timer = time.AfterFunc(d, l.fire)
		return
	}
	l.timer.Stop()
	l.timer.Reset(d)
}

func (l *Liveness) fire() {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	if !l.visible {
		l.interval *= 2
		if l.interval > l.cfg.Max {
			l.interval = l.cfg.Max
		}
	} else {
		l.interval = l.cfg.Base
	}
	l.armLocked(l.interval)
	l.mu.Unlock()
	if l.resync != nil {
		l.resync()
	}
}
