package engine

import (
	"sync"
	"time"

	"aprsgate/presence"
	"aprsgate/tnc"
)

// SetStatus replaces the gateway status line. Last write wins.
func (e *Engine) SetStatus(msg string) {
	e.statusMu.Lock()
	e.status = msg
	e.statusAt = e.clock.Now()
	e.statusMu.Unlock()

	e.logFn("%s", msg)
	e.emit(EventStatus, StatusEvent{Status: msg})
	e.mqttMgr.PublishStatus(msg)
	e.valkeyMgr.PublishStatus(msg)
}

// Status returns the current status line and when it was set.
func (e *Engine) Status() (string, time.Time) {
	e.statusMu.RLock()
	defer e.statusMu.RUnlock()
	return e.status, e.statusAt
}

// ReportError is the connection error sink.
func (e *Engine) ReportError(addr string, err error) {
	e.errFn("TNC %s: %v", addr, err)
	e.emit(EventTNCError, TNCErrorEvent{Address: addr, Error: err.Error()})
}

// Debounce schedules a presence status refresh. Calls made while one is
// pending are absorbed.
func (e *Engine) Debounce() {
	e.debounce.Trigger()
}

// refreshStatus publishes the aggregate TNC and station status.
func (e *Engine) refreshStatus() {
	var online []string
	if e.tncMgr != nil {
		online = e.tncMgr.OnlineAddresses()
	}
	heard := e.presence.OnlineCount(e.clock.Now(), e.presenceWindow())
	e.SetStatus(presence.StatusLine(online, heard))
}

func (e *Engine) presenceWindow() time.Duration {
	if w := e.cfg.Presence.Window; w > 0 {
		return w
	}
	return presence.DefaultWindow
}

// debouncer runs fn once, delay after the first Trigger, however many
// triggers arrive meanwhile. Stop waits for a run in progress.
type debouncer struct {
	clock tnc.Clock
	delay time.Duration
	fn    func()

	mu      sync.Mutex
	timer   tnc.Timer
	stopped bool
	running sync.WaitGroup
}

func newDebouncer(clock tnc.Clock, delay time.Duration, fn func()) *debouncer {
	return &debouncer{clock: clock, delay: delay, fn: fn}
}

func (d *debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped || d.timer != nil {
		return
	}
	d.timer = d.clock.AfterFunc(d.delay, d.fire)
}

func (d *debouncer) fire() {
	d.mu.Lock()
	d.timer = nil
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.running.Add(1)
	d.mu.Unlock()
	defer d.running.Done()
	d.fn()
}

func (d *debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timer != nil
}

// Stop cancels a pending run and returns once no run is in progress. It
// must not be called from fn.
func (d *debouncer) Stop() {
	d.mu.Lock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.mu.Unlock()
	d.running.Wait()
}
