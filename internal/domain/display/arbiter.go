package display

import (
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/infrastructure/config"
	"github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/infrastructure/logging"
	"github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/infrastructure/monitoring"
	"github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/protocol"
	"github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/shared/timers"
)

// BootOwner marks displays owned by the cloud itself (boot overlay)
// rather than an app.
const BootOwner = "system"

const (
	outcomeShown     = "shown"
	outcomeQueued    = "queued"
	outcomeThrottled = "throttled"
	outcomeDenied    = "denied"
)

// Sender delivers display events to the device. The arbiter calls it
// while holding its own lock; implementations must not call back in.
type Sender interface {
	ShowDisplay(ev protocol.DisplayEvent) error
}

// RunningChecker reports whether an app still runs. Stopped apps lose
// their lock and restore rights.
type RunningChecker interface {
	IsRunning(packageName string) bool
}

// Record is one display request as the arbiter tracks it.
type Record struct {
	PackageName string
	Layout      protocol.Layout
	DurationMs  int64
	Forced      bool
	ReceivedAt  time.Time
	ShownAt     time.Time // zero until first rendered
}

type bgLock struct {
	holder     string
	acquiredAt time.Time
	lastUsedAt time.Time
}

// Arbiter decides which app's content is rendered on the main view.
type Arbiter struct {
	cfg       config.DisplayConfig
	dashboard string
	sender    Sender
	running   RunningChecker
	log       *logging.Logger
	metrics   *monitoring.Metrics

	mu         sync.Mutex
	disposed   bool
	foreground string             // package of the current standard app
	current    *Record            // rendered on the main view, nil when blank
	fgRecord   *Record            // the foreground app's latest display
	lock       *bgLock            // background lock, nil when free
	lockRecord *Record            // the lock holder's latest display
	saved      *Record            // display saved under the boot overlay
	booting    map[string]string  // package -> display name
	bootQueue  []*Record          // latest request per app, arrival order
	pending    map[string]*Record // throttled, latest per app
	lastSent   map[string]time.Time

	flushTimer  *timers.Timer
	expiryTimer *timers.Timer
}

// NewArbiter creates the arbiter for one session. dashboard is the
// reserved package that bypasses arbitration.
func NewArbiter(cfg config.DisplayConfig, dashboard string, sender Sender, running RunningChecker, log *logging.Logger, metrics *monitoring.Metrics) *Arbiter {
	return &Arbiter{
		cfg:         cfg,
		dashboard:   dashboard,
		sender:      sender,
		running:     running,
		log:         log.Named("display"),
		metrics:     metrics,
		booting:     make(map[string]string),
		pending:     make(map[string]*Record),
		lastSent:    make(map[string]time.Time),
		flushTimer:  timers.New(),
		expiryTimer: timers.New(),
	}
}

// HandleRequest runs one display request through the arbitration
// rules.
func (a *Arbiter) HandleRequest(req protocol.DisplayRequest) {
	now := time.Now()
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.disposed {
		return
	}

	// The dashboard bypasses every rule.
	if req.PackageName == a.dashboard || req.View == protocol.ViewDashboard {
		view := req.View
		if view == "" {
			view = protocol.ViewDashboard
		}
		a.send(protocol.DisplayEvent{
			BaseMessage: protocol.Base(protocol.TypeDisplayEvent),
			View:        view,
			PackageName: req.PackageName,
			Layout:      req.Layout,
			DurationMs:  req.DurationMs,
		})
		a.metrics.RecordDisplay(string(view), outcomeShown)
		return
	}

	a.applyLocked(&Record{
		PackageName: req.PackageName,
		Layout:      req.Layout,
		DurationMs:  req.DurationMs,
		Forced:      req.ForceDisplay,
		ReceivedAt:  now,
	}, false, now)
}

// applyLocked runs one main-view request through the rule order.
// fromFlush marks requests that already waited in a queue and are
// exempt from throttling. Reports whether the request was consumed
// with an outcome other than denial.
func (a *Arbiter) applyLocked(rec *Record, fromFlush bool, now time.Time) bool {
	// Boot overlay owns the view; queue the latest request per app.
	if len(a.booting) > 0 {
		a.queueForBootLocked(rec)
		a.metrics.RecordDisplay(string(protocol.ViewMain), outcomeQueued)
		a.log.Debug("display queued during boot", logging.App(rec.PackageName))
		return true
	}

	// Throttle bursts per app.
	if !fromFlush && !rec.Forced {
		if last, ok := a.lastSent[rec.PackageName]; ok && now.Sub(last) < a.cfg.ThrottleInterval {
			a.pending[rec.PackageName] = rec
			a.armFlushLocked(now)
			a.metrics.RecordDisplay(string(protocol.ViewMain), outcomeThrottled)
			return true
		}
	}

	// An explicit foreground request always renders and takes the
	// lock away.
	if rec.PackageName != "" && rec.PackageName == a.foreground {
		if a.lock != nil {
			a.releaseLockLocked("foreground request")
		}
		a.fgRecord = rec
		a.renderLocked(rec, now)
		return true
	}

	// Background path: render rights come from the lock.
	if ok, reason := a.backgroundMayRenderLocked(rec.PackageName, now); !ok {
		a.metrics.RecordDisplay(string(protocol.ViewMain), outcomeDenied)
		a.log.Debug("display denied",
			logging.App(rec.PackageName),
			zap.String("reason", reason))
		return false
	}
	a.acquireLockLocked(rec.PackageName, now)
	a.lockRecord = rec
	a.renderLocked(rec, now)
	return true
}

// backgroundMayRenderLocked applies the lock acquisition rules.
func (a *Arbiter) backgroundMayRenderLocked(pkg string, now time.Time) (bool, string) {
	if a.lockActiveLocked(now) {
		switch a.lock.holder {
		case pkg:
			return true, ""
		case a.foreground:
			// The holder was promoted to foreground; the lock is up
			// for grabs.
			return true, ""
		default:
			return false, "lock held by " + a.lock.holder
		}
	}

	// Lock is free. The foreground app keeps the screen while its
	// display is live.
	if a.foreground != "" && a.current != nil &&
		a.current.PackageName == a.foreground && !a.expired(a.current, now) {
		return false, "foreground display active"
	}
	return true, ""
}

// lockActiveLocked reports whether the background lock is held,
// releasing it first when the holder stopped, went inactive, or ran
// past the nominal lock duration.
func (a *Arbiter) lockActiveLocked(now time.Time) bool {
	if a.lock == nil {
		return false
	}
	switch {
	case !a.running.IsRunning(a.lock.holder):
		a.releaseLockLocked("holder stopped")
	case now.Sub(a.lock.lastUsedAt) >= a.cfg.LockInactiveTimeout:
		a.releaseLockLocked("inactive")
	case now.Sub(a.lock.acquiredAt) >= a.cfg.LockDuration:
		a.releaseLockLocked("expired")
	default:
		return true
	}
	return false
}

func (a *Arbiter) releaseLockLocked(reason string) {
	a.log.Debug("background lock released",
		logging.App(a.lock.holder),
		zap.String("reason", reason))
	a.lock = nil
	a.lockRecord = nil
}

func (a *Arbiter) acquireLockLocked(pkg string, now time.Time) {
	if a.lock != nil && a.lock.holder == pkg {
		a.lock.lastUsedAt = now
		return
	}
	a.lock = &bgLock{holder: pkg, acquiredAt: now, lastUsedAt: now}
	a.log.Debug("background lock acquired", logging.App(pkg))
}

// renderLocked sends the record to the device and makes it current.
// Restored records keep their original ShownAt so durations keep
// counting from the first render.
func (a *Arbiter) renderLocked(rec *Record, now time.Time) {
	if rec.ShownAt.IsZero() {
		rec.ShownAt = now
	}
	a.current = rec
	a.lastSent[rec.PackageName] = now
	a.send(protocol.DisplayEvent{
		BaseMessage: protocol.Base(protocol.TypeDisplayEvent),
		View:        protocol.ViewMain,
		PackageName: rec.PackageName,
		Layout:      rec.Layout,
		DurationMs:  rec.DurationMs,
	})
	a.metrics.RecordDisplay(string(protocol.ViewMain), outcomeShown)

	if rec.DurationMs > 0 {
		remaining := time.Duration(rec.DurationMs)*time.Millisecond - now.Sub(rec.ShownAt)
		a.expiryTimer.Arm(remaining, a.onExpiry)
	} else {
		a.expiryTimer.Cancel()
	}
}

func (a *Arbiter) send(ev protocol.DisplayEvent) {
	if err := a.sender.ShowDisplay(ev); err != nil {
		a.log.Warn("failed to send display event",
			logging.App(ev.PackageName),
			zap.Error(err))
	}
}

// onExpiry fires when the current timed display runs out.
func (a *Arbiter) onExpiry() {
	now := time.Now()
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.disposed || a.current == nil || !a.expired(a.current, now) {
		return
	}
	a.log.Debug("display expired", logging.App(a.current.PackageName))
	a.showNextUpLocked(now)
}

// expired applies the duration/age rule: timed displays die when the
// duration elapses; untimed ones stop being restorable once the
// single-shot lifetime has passed.
func (a *Arbiter) expired(rec *Record, now time.Time) bool {
	if rec.ShownAt.IsZero() {
		return false
	}
	if rec.DurationMs > 0 {
		return now.Sub(rec.ShownAt) >= time.Duration(rec.DurationMs)*time.Millisecond
	}
	return now.Sub(rec.ShownAt) >= a.cfg.UntimedLifetime
}

// showNextUpLocked re-runs the decision procedure after the screen
// frees up: oldest valid pending request, then the lock holder's
// display, then the foreground display, then blank.
func (a *Arbiter) showNextUpLocked(now time.Time) {
	for {
		rec := a.takeOldestPendingLocked(now)
		if rec == nil {
			break
		}
		if a.applyLocked(rec, true, now) {
			return
		}
	}
	if a.lockActiveLocked(now) && a.lockRecord != nil && !a.expired(a.lockRecord, now) {
		a.renderLocked(a.lockRecord, now)
		return
	}
	if a.foreground != "" && a.fgRecord != nil &&
		a.fgRecord.PackageName == a.foreground &&
		a.running.IsRunning(a.foreground) && !a.expired(a.fgRecord, now) {
		a.renderLocked(a.fgRecord, now)
		return
	}
	a.clearLocked()
}

func (a *Arbiter) takeOldestPendingLocked(now time.Time) *Record {
	var oldest *Record
	for pkg, rec := range a.pending {
		if !a.running.IsRunning(pkg) {
			delete(a.pending, pkg)
			continue
		}
		if oldest == nil || rec.ReceivedAt.Before(oldest.ReceivedAt) {
			oldest = rec
		}
	}
	if oldest != nil {
		delete(a.pending, oldest.PackageName)
	}
	return oldest
}

func (a *Arbiter) clearLocked() {
	if a.current == nil {
		return
	}
	a.current = nil
	a.expiryTimer.Cancel()
	a.send(protocol.DisplayEvent{
		BaseMessage: protocol.Base(protocol.TypeDisplayEvent),
		View:        protocol.ViewMain,
		Layout:      protocol.ClearView(),
	})
}

func (a *Arbiter) queueForBootLocked(rec *Record) {
	for i, q := range a.bootQueue {
		if q.PackageName == rec.PackageName {
			a.bootQueue = append(a.bootQueue[:i], a.bootQueue[i+1:]...)
			break
		}
	}
	a.bootQueue = append(a.bootQueue, rec)
}

// armFlushLocked schedules the flush timer for the earliest pending
// deadline.
func (a *Arbiter) armFlushLocked(now time.Time) {
	var next time.Time
	for pkg := range a.pending {
		deadline := a.lastSent[pkg].Add(a.cfg.ThrottleInterval)
		if next.IsZero() || deadline.Before(next) {
			next = deadline
		}
	}
	if next.IsZero() {
		return
	}
	d := next.Sub(now)
	if d < 0 {
		d = 0
	}
	a.flushTimer.Arm(d, a.onFlush)
}

// onFlush applies every due pending request, oldest first, through the
// normal rules.
func (a *Arbiter) onFlush() {
	now := time.Now()
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.disposed || len(a.pending) == 0 {
		return
	}

	due := make([]*Record, 0, len(a.pending))
	for pkg, rec := range a.pending {
		if !now.Before(a.lastSent[pkg].Add(a.cfg.ThrottleInterval)) {
			due = append(due, rec)
			delete(a.pending, pkg)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].ReceivedAt.Before(due[j].ReceivedAt)
	})
	for _, rec := range due {
		a.applyLocked(rec, true, now)
	}
	a.armFlushLocked(now)
}

// OnAppLoading puts an app into the boot overlay. The first booting
// app saves whatever is showing for restoration after the overlay.
func (a *Arbiter) OnAppLoading(packageName, name string) {
	now := time.Now()
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.disposed {
		return
	}
	if name == "" {
		name = packageName
	}

	if len(a.booting) == 0 && a.current != nil && a.current.PackageName != BootOwner {
		a.saved = a.current
	}
	a.booting[packageName] = name
	a.renderBootOverlayLocked(now)
}

// OnAppRunning takes an app out of the boot overlay.
func (a *Arbiter) OnAppRunning(packageName string) {
	now := time.Now()
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.disposed {
		return
	}
	if _, ok := a.booting[packageName]; !ok {
		return
	}
	delete(a.booting, packageName)
	if len(a.booting) > 0 {
		a.renderBootOverlayLocked(now)
		return
	}
	a.endBootLocked(now)
}

// OnAppStopped drops every display stake the app holds.
func (a *Arbiter) OnAppStopped(packageName string) {
	now := time.Now()
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.disposed {
		return
	}

	delete(a.pending, packageName)
	for i, q := range a.bootQueue {
		if q.PackageName == packageName {
			a.bootQueue = append(a.bootQueue[:i], a.bootQueue[i+1:]...)
			break
		}
	}
	if a.lock != nil && a.lock.holder == packageName {
		a.releaseLockLocked("holder stopped")
	}
	if a.fgRecord != nil && a.fgRecord.PackageName == packageName {
		a.fgRecord = nil
	}
	if a.saved != nil && a.saved.PackageName == packageName {
		a.saved = nil
	}
	if a.foreground == packageName {
		a.foreground = ""
	}

	// A failed boot ends the overlay like a successful one.
	if _, ok := a.booting[packageName]; ok {
		delete(a.booting, packageName)
		if len(a.booting) > 0 {
			a.renderBootOverlayLocked(now)
		} else {
			a.endBootLocked(now)
		}
		return
	}

	if a.current != nil && a.current.PackageName == packageName {
		a.showNextUpLocked(now)
	}
}

// SetForeground records which standard app owns the foreground. An
// empty package clears it.
func (a *Arbiter) SetForeground(packageName string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.foreground == packageName {
		return
	}
	a.foreground = packageName
	if a.fgRecord != nil && a.fgRecord.PackageName != packageName {
		a.fgRecord = nil
	}
}

func (a *Arbiter) renderBootOverlayLocked(now time.Time) {
	names := make([]string, 0, len(a.booting))
	for _, name := range a.booting {
		names = append(names, name)
	}
	sort.Strings(names)

	rec := &Record{
		PackageName: BootOwner,
		Layout:      protocol.ReferenceCard("// STARTING", strings.Join(names, ", ")),
		ReceivedAt:  now,
		ShownAt:     now,
	}
	a.current = rec
	a.expiryTimer.Cancel()
	a.send(protocol.DisplayEvent{
		BaseMessage: protocol.Base(protocol.TypeDisplayEvent),
		View:        protocol.ViewMain,
		PackageName: BootOwner,
		Layout:      rec.Layout,
	})
}

// endBootLocked restores the saved display if its owner survived, then
// flushes requests queued during the overlay.
func (a *Arbiter) endBootLocked(now time.Time) {
	saved := a.saved
	a.saved = nil
	restored := false
	if saved != nil && a.running.IsRunning(saved.PackageName) && !a.expired(saved, now) {
		a.renderLocked(saved, now)
		restored = true
	}

	queue := a.bootQueue
	a.bootQueue = nil
	applied := false
	for _, rec := range queue {
		if a.applyLocked(rec, true, now) {
			applied = true
		}
	}

	if !restored && !applied {
		a.showNextUpLocked(now)
	}
}

// Snapshot reports arbitration state for the debug API.
type Snapshot struct {
	Current    string   `json:"current,omitempty"`
	Foreground string   `json:"foreground,omitempty"`
	LockHolder string   `json:"lockHolder,omitempty"`
	Booting    []string `json:"booting,omitempty"`
	Pending    []string `json:"pending,omitempty"`
	SavedOwner string   `json:"savedOwner,omitempty"`
}

// Snapshot returns the current arbitration state.
func (a *Arbiter) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	var snap Snapshot
	if a.current != nil {
		snap.Current = a.current.PackageName
	}
	snap.Foreground = a.foreground
	if a.lock != nil {
		snap.LockHolder = a.lock.holder
	}
	for pkg := range a.booting {
		snap.Booting = append(snap.Booting, pkg)
	}
	sort.Strings(snap.Booting)
	for pkg := range a.pending {
		snap.Pending = append(snap.Pending, pkg)
	}
	sort.Strings(snap.Pending)
	if a.saved != nil {
		snap.SavedOwner = a.saved.PackageName
	}
	return snap
}

// Dispose cancels the arbiter's timers. Idempotent.
func (a *Arbiter) Dispose() {
	a.mu.Lock()
	a.disposed = true
	a.mu.Unlock()
	a.flushTimer.Cancel()
	a.expiryTimer.Cancel()
}
