package app

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/analytics"
	"github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/catalog"
	"github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/infrastructure/config"
	"github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/infrastructure/logging"
	"github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/infrastructure/monitoring"
	"github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/protocol"
	"github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/shared/timers"
)

// Catalog resolves app metadata by package name.
type Catalog interface {
	Get(ctx context.Context, packageName string) (*catalog.App, error)
}

// WebhookSender wakes and stops app servers.
type WebhookSender interface {
	SendSessionRequest(ctx context.Context, app *catalog.App, sessionID, userID, wsURL string) error
	SendStopRequest(ctx context.Context, app *catalog.App, sessionID, userID, reason string) error
}

// SubscriptionSink is the slice of the aggregator the lifecycle
// touches: stops clear an app's streams, a successful resurrection
// restores the prior set until the app resubscribes itself.
type SubscriptionSink interface {
	Clear(packageName string) []protocol.Stream
	Restore(packageName string, streams []protocol.Stream)
}

// RunningStore keeps the user's durable installed/running bookkeeping.
type RunningStore interface {
	InstallApp(ctx context.Context, userID, packageName string) error
	SetRunning(ctx context.Context, userID, packageName string) error
	ClearRunning(ctx context.Context, userID, packageName string) error
}

// DisplayHooks receives boot overlay and teardown transitions.
type DisplayHooks interface {
	OnAppLoading(packageName, name string)
	OnAppRunning(packageName string)
	OnAppStopped(packageName string)
}

// Notifier pushes session-level state to the device side.
type Notifier interface {
	AppStateChanged()
	DeviceConnected() bool
}

// Deps are the session-owned collaborators the lifecycle drives.
type Deps struct {
	Catalog   Catalog
	Webhooks  WebhookSender
	Subs      SubscriptionSink
	Running   RunningStore
	Display   DisplayHooks
	Notifier  Notifier
	Analytics analytics.Tracker
}

// startAttempt is one in-flight start. Concurrent callers share it and
// observe the same outcome.
type startAttempt struct {
	once sync.Once
	err  error
	done chan struct{}
}

func newAttempt() *startAttempt {
	return &startAttempt{done: make(chan struct{})}
}

func (a *startAttempt) finish(err error) {
	a.once.Do(func() {
		a.err = err
		close(a.done)
	})
}

func (a *startAttempt) wait(ctx context.Context) error {
	select {
	case <-a.done:
		return a.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// controller is the per-package lifecycle record. All fields are
// guarded by the Manager's mutex.
type controller struct {
	app   *catalog.App // catalog entry, set on first start
	state State
	conn  protocol.Conn

	startedAt       time.Time
	lastReconnectAt time.Time

	ownershipReleased bool
	releaseReason     string

	pending      *startAttempt
	connectTimer *timers.Timer
	graceTimer   *timers.Timer
}

// Info is one controller's externally visible state.
type Info struct {
	PackageName string
	Name        string
	Kind        catalog.AppType
	State       State
	Foreground  bool
}

// Manager owns every app lifecycle in one session.
type Manager struct {
	cfg         config.AppConfig
	sessionID   string
	userID      string
	callbackURL string
	deps        Deps
	log         *logging.Logger
	metrics     *monitoring.Metrics

	mu          sync.Mutex
	disposed    bool
	foreground  string
	controllers map[string]*controller
}

// NewManager creates the lifecycle manager for one session.
// callbackURL is the WebSocket URL app servers connect back to.
func NewManager(cfg config.AppConfig, sessionID, userID, callbackURL string, deps Deps, log *logging.Logger, metrics *monitoring.Metrics) *Manager {
	return &Manager{
		cfg:         cfg,
		sessionID:   sessionID,
		userID:      userID,
		callbackURL: callbackURL,
		deps:        deps,
		log:         log.Named("app").With(logging.User(userID)),
		metrics:     metrics,
		controllers: make(map[string]*controller),
	}
}

func (m *Manager) ensureLocked(packageName string) *controller {
	c, ok := m.controllers[packageName]
	if !ok {
		c = &controller{
			state:        StateStopped,
			connectTimer: timers.New(),
			graceTimer:   timers.New(),
		}
		m.controllers[packageName] = c
	}
	return c
}

// Start wakes the app's server and blocks until it connects or the
// start fails. Concurrent calls for the same package share one webhook
// and one outcome. Starting a running app is a no-op; starting an app
// in its grace window or dormant restarts it.
func (m *Manager) Start(ctx context.Context, packageName string) error {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return ErrSessionClosed
	}
	c := m.ensureLocked(packageName)
	switch c.state {
	case StateRunning:
		m.mu.Unlock()
		m.log.Debug("start ignored, already running", logging.App(packageName))
		return nil
	case StateConnecting, StateResurrecting:
		if a := c.pending; a != nil {
			m.mu.Unlock()
			return a.wait(ctx)
		}
	case StateStopping:
		m.mu.Unlock()
		return ErrStopping
	case StateGracePeriod, StateDormant:
		m.mu.Unlock()
		return m.resurrect(ctx, packageName)
	}
	attempt := newAttempt()
	c.pending = attempt
	c.state = StateConnecting
	c.ownershipReleased = false
	c.releaseReason = ""
	m.mu.Unlock()

	m.runStart(ctx, packageName, attempt)
	return attempt.wait(ctx)
}

// runStart drives one start attempt up to the point where the app's
// own connection (or the connect timeout) resolves it.
func (m *Manager) runStart(ctx context.Context, packageName string, attempt *startAttempt) {
	entry, err := m.deps.Catalog.Get(ctx, packageName)
	if err != nil {
		m.failStart(packageName, attempt, StageCatalog, err, false)
		return
	}

	m.mu.Lock()
	c := m.controllers[packageName]
	if c == nil || c.pending != attempt {
		m.mu.Unlock()
		return
	}
	c.app = entry
	m.mu.Unlock()

	// One standard app at a time: starting a new one stops the old.
	if entry.Type == catalog.AppStandard {
		if other := m.activeStandard(packageName); other != "" {
			m.log.Info("stopping previous standard app",
				logging.App(other), zap.String("replacedBy", packageName))
			if err := m.stop(ctx, other, StopReasonReplaced); err != nil {
				m.log.Warn("failed to stop previous standard app",
					logging.App(other), zap.Error(err))
			}
		}
	}

	if err := m.deps.Running.InstallApp(ctx, m.userID, packageName); err != nil {
		m.log.Warn("failed to record install", logging.App(packageName), zap.Error(err))
	}

	m.deps.Display.OnAppLoading(packageName, entry.Name)
	m.deps.Notifier.AppStateChanged()
	m.log.Info("starting app", logging.App(packageName))

	if err := m.deps.Webhooks.SendSessionRequest(ctx, entry, m.sessionID, m.userID, m.callbackURL); err != nil {
		m.failStart(packageName, attempt, StageWebhook, err, true)
		return
	}

	m.mu.Lock()
	if c := m.controllers[packageName]; c != nil && c.pending == attempt {
		c.connectTimer.Arm(m.cfg.ConnectTimeout, func() {
			m.onConnectTimeout(packageName, attempt)
		})
	}
	m.mu.Unlock()
}

// failStart rolls a broken attempt back to stopped.
func (m *Manager) failStart(packageName string, attempt *startAttempt, stage string, cause error, overlayShown bool) {
	m.mu.Lock()
	c := m.controllers[packageName]
	if c == nil || c.pending != attempt {
		m.mu.Unlock()
		attempt.finish(&StartError{PackageName: packageName, Stage: stage, Err: cause})
		return
	}
	c.pending = nil
	c.state = StateStopped
	c.connectTimer.Cancel()
	m.mu.Unlock()

	if overlayShown {
		m.deps.Display.OnAppStopped(packageName)
	}
	m.deps.Notifier.AppStateChanged()
	m.metrics.RecordAppStart(stage + "_error")
	m.log.Warn("app start failed",
		logging.App(packageName),
		zap.String("stage", stage),
		zap.Error(cause))
	attempt.finish(&StartError{PackageName: packageName, Stage: stage, Err: cause})
}

func (m *Manager) onConnectTimeout(packageName string, attempt *startAttempt) {
	m.mu.Lock()
	c := m.controllers[packageName]
	if c == nil || c.pending != attempt {
		m.mu.Unlock()
		return
	}
	c.pending = nil
	c.state = StateStopped
	m.mu.Unlock()

	m.deps.Display.OnAppStopped(packageName)
	m.deps.Notifier.AppStateChanged()
	m.metrics.RecordAppStart("timeout")
	m.log.Warn("app did not connect before timeout",
		logging.App(packageName),
		zap.Duration("timeout", m.cfg.ConnectTimeout))
	attempt.finish(&StartError{
		PackageName: packageName,
		Stage:       StageTimeout,
		Err:         context.DeadlineExceeded,
	})
}

// OnAppConnection attaches an authenticated app socket, classifying it
// as a first connect, a grace-window resume, a late dormant resume, or
// a replacement of a live socket.
func (m *Manager) OnAppConnection(packageName string, conn protocol.Conn) error {
	now := time.Now()
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return ErrNotStarted
	}
	c := m.controllers[packageName]
	if c == nil {
		m.mu.Unlock()
		return ErrNotStarted
	}

	var (
		old     protocol.Conn
		attempt *startAttempt
		fresh   bool
		resumed string
	)
	switch c.state {
	case StateConnecting, StateResurrecting:
		c.connectTimer.Cancel()
		attempt = c.pending
		c.pending = nil
		c.startedAt = now
		fresh = true
	case StateGracePeriod:
		c.graceTimer.Cancel()
		c.lastReconnectAt = now
		resumed = "grace"
	case StateDormant:
		c.lastReconnectAt = now
		resumed = "dormant"
	case StateRunning:
		old = c.conn
		c.lastReconnectAt = now
		resumed = "replaced"
	default:
		m.mu.Unlock()
		return ErrNotStarted
	}
	c.conn = conn
	c.state = StateRunning
	c.ownershipReleased = false
	c.releaseReason = ""
	if c.app != nil && c.app.Type == catalog.AppStandard {
		m.foreground = packageName
	}
	running := m.runningCountLocked()
	m.mu.Unlock()

	if old != nil {
		_ = old.Close(protocol.CloseNormal, "replaced by new connection")
	}
	if fresh {
		if err := m.deps.Running.SetRunning(context.Background(), m.userID, packageName); err != nil {
			m.log.Warn("failed to record running app", logging.App(packageName), zap.Error(err))
		}
		m.deps.Display.OnAppRunning(packageName)
		m.deps.Analytics.Track("app_started", m.userID, map[string]any{"app": packageName})
		m.metrics.RecordAppStart("success")
		m.log.Info("app connected", logging.App(packageName))
	} else {
		m.log.Info("app reconnected", logging.App(packageName), zap.String("resumed", resumed))
	}
	m.metrics.SetAppsRunning(running)
	m.deps.Notifier.AppStateChanged()
	if attempt != nil {
		attempt.finish(nil)
	}
	return nil
}

// OnAppDisconnect handles an unexpected socket drop. Stale handles
// from replaced sockets are ignored.
func (m *Manager) OnAppDisconnect(packageName string, conn protocol.Conn) {
	m.mu.Lock()
	c := m.controllers[packageName]
	if c == nil || c.conn != conn {
		m.mu.Unlock()
		return
	}
	c.conn = nil
	if c.state != StateRunning {
		m.mu.Unlock()
		return
	}
	if c.ownershipReleased {
		// The app moved to another node on purpose; do not chase it.
		c.state = StateDormant
		reason := c.releaseReason
		m.mu.Unlock()
		m.log.Info("app dormant after ownership release",
			logging.App(packageName), zap.String("reason", reason))
		m.deps.Notifier.AppStateChanged()
		return
	}
	c.state = StateGracePeriod
	c.graceTimer.Arm(m.cfg.GracePeriod, func() {
		m.onGraceExpiry(packageName)
	})
	m.mu.Unlock()

	m.log.Info("app disconnected, grace period started",
		logging.App(packageName),
		zap.Duration("grace", m.cfg.GracePeriod))
	m.deps.Notifier.AppStateChanged()
}

func (m *Manager) onGraceExpiry(packageName string) {
	deviceUp := m.deps.Notifier.DeviceConnected()

	m.mu.Lock()
	c := m.controllers[packageName]
	if c == nil || c.state != StateGracePeriod {
		m.mu.Unlock()
		return
	}
	if c.ownershipReleased || !deviceUp {
		c.state = StateDormant
		m.mu.Unlock()
		m.log.Info("grace period expired, app dormant",
			logging.App(packageName),
			zap.Bool("deviceConnected", deviceUp))
		m.deps.Notifier.AppStateChanged()
		return
	}
	m.mu.Unlock()

	m.log.Info("grace period expired, resurrecting", logging.App(packageName))
	if err := m.resurrect(context.Background(), packageName); err != nil {
		m.log.Warn("resurrection failed", logging.App(packageName), zap.Error(err))
	}
}

// resurrect runs a stop/start cycle under one attempt so callers and
// queued operations wait for the whole cycle.
func (m *Manager) resurrect(ctx context.Context, packageName string) error {
	m.mu.Lock()
	c := m.controllers[packageName]
	if c == nil {
		m.mu.Unlock()
		return ErrNotStarted
	}
	if a := c.pending; a != nil {
		m.mu.Unlock()
		return a.wait(ctx)
	}
	attempt := newAttempt()
	c.pending = attempt
	c.state = StateResurrecting
	c.ownershipReleased = false
	c.releaseReason = ""
	entry := c.app
	m.mu.Unlock()

	m.deps.Notifier.AppStateChanged()

	// Stop half: tell the server the old cycle is over and drop its
	// streams, remembering them for after the restart.
	if entry != nil {
		if err := m.deps.Webhooks.SendStopRequest(ctx, entry, m.sessionID, m.userID, StopReasonResurrection); err != nil {
			m.log.Debug("stop webhook before resurrection failed",
				logging.App(packageName), zap.Error(err))
		}
	}
	prior := m.deps.Subs.Clear(packageName)
	m.deps.Display.OnAppStopped(packageName)

	m.runStart(ctx, packageName, attempt)
	err := attempt.wait(ctx)
	if err != nil {
		m.metrics.RecordResurrection("error")
		return err
	}
	if len(prior) > 0 {
		m.deps.Subs.Restore(packageName, prior)
	}
	m.deps.Analytics.Track("app_resurrected", m.userID, map[string]any{"app": packageName})
	m.metrics.RecordResurrection("success")
	return nil
}

// ResurrectDormant sweeps dormant apps after a device reconnect,
// sequentially so a flaky fleet of app servers is not hit all at once.
// Apps that released ownership stay dormant.
func (m *Manager) ResurrectDormant(ctx context.Context) {
	m.mu.Lock()
	var dormant []string
	for pkg, c := range m.controllers {
		if c.state == StateDormant && !c.ownershipReleased {
			dormant = append(dormant, pkg)
		}
	}
	m.mu.Unlock()
	sort.Strings(dormant)

	for _, pkg := range dormant {
		if err := m.resurrect(ctx, pkg); err != nil {
			m.log.Warn("dormant resurrection failed", logging.App(pkg), zap.Error(err))
		}
	}
}

// Stop ends an app's session: best-effort stop webhook, subscriptions
// cleared, socket closed with a normal closure, durable record and
// analytics updated. Idempotent.
func (m *Manager) Stop(ctx context.Context, packageName, reason string) error {
	return m.stop(ctx, packageName, reason)
}

func (m *Manager) stop(ctx context.Context, packageName, reason string) error {
	m.mu.Lock()
	c := m.controllers[packageName]
	if c == nil || c.state == StateStopped || c.state == StateStopping {
		m.mu.Unlock()
		return nil
	}
	wasActive := c.state == StateRunning || c.state == StateGracePeriod ||
		c.state == StateConnecting || c.state == StateResurrecting
	conn := c.conn
	attempt := c.pending
	entry := c.app
	startedAt := c.startedAt
	c.conn = nil
	c.pending = nil
	c.state = StateStopping
	c.connectTimer.Cancel()
	c.graceTimer.Cancel()
	if m.foreground == packageName {
		m.foreground = ""
	}
	m.mu.Unlock()

	if attempt != nil {
		attempt.finish(&StartError{
			PackageName: packageName,
			Stage:       StageAborted,
			Err:         ErrStopping,
		})
	}
	if entry != nil && wasActive {
		if err := m.deps.Webhooks.SendStopRequest(ctx, entry, m.sessionID, m.userID, reason); err != nil {
			m.log.Debug("stop webhook failed", logging.App(packageName), zap.Error(err))
		}
	}
	m.deps.Subs.Clear(packageName)
	if conn != nil {
		_ = conn.Send(protocol.AppStopped{
			BaseMessage: protocol.Base(protocol.TypeAppStopped),
			Reason:      reason,
		})
		_ = conn.Close(protocol.CloseNormal, reason)
	}
	if err := m.deps.Running.ClearRunning(ctx, m.userID, packageName); err != nil {
		m.log.Warn("failed to clear running record", logging.App(packageName), zap.Error(err))
	}
	m.deps.Display.OnAppStopped(packageName)

	m.mu.Lock()
	if c := m.controllers[packageName]; c != nil && c.state == StateStopping {
		c.state = StateStopped
	}
	running := m.runningCountLocked()
	m.mu.Unlock()

	if !startedAt.IsZero() {
		duration := time.Since(startedAt)
		m.deps.Analytics.Track("app_stopped", m.userID, map[string]any{
			"app":        packageName,
			"reason":     reason,
			"durationMs": duration.Milliseconds(),
		})
		m.metrics.ObserveAppSession(duration)
	}
	m.metrics.RecordAppStop(reason)
	m.metrics.SetAppsRunning(running)
	m.deps.Notifier.AppStateChanged()
	m.log.Info("app stopped", logging.App(packageName), zap.String("reason", reason))
	return nil
}

// HandleOwnershipRelease marks that the app's server is deliberately
// letting go of this session; the next disconnect parks it dormant.
func (m *Manager) HandleOwnershipRelease(packageName, reason string) {
	m.mu.Lock()
	c := m.controllers[packageName]
	if c == nil {
		m.mu.Unlock()
		return
	}
	c.ownershipReleased = true
	c.releaseReason = reason
	m.mu.Unlock()
	m.log.Info("app released session ownership",
		logging.App(packageName), zap.String("reason", reason))
}

// AwaitRunning blocks while the app is between states (connecting or
// resurrecting) so per-app operations can queue until it settles.
func (m *Manager) AwaitRunning(ctx context.Context, packageName string) error {
	m.mu.Lock()
	c := m.controllers[packageName]
	if c == nil {
		m.mu.Unlock()
		return ErrNotStarted
	}
	switch c.state {
	case StateRunning, StateGracePeriod:
		m.mu.Unlock()
		return nil
	case StateConnecting, StateResurrecting:
		if a := c.pending; a != nil {
			m.mu.Unlock()
			return a.wait(ctx)
		}
	}
	m.mu.Unlock()
	return ErrNotStarted
}

// IsRunning reports whether the app should be treated as alive. Grace
// period counts: the app is expected back.
func (m *Manager) IsRunning(packageName string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.controllers[packageName]
	return c != nil && (c.state == StateRunning || c.state == StateGracePeriod)
}

// State reports the app's lifecycle state.
func (m *Manager) State(packageName string) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.controllers[packageName]
	if c == nil {
		return "", false
	}
	return c.state, true
}

// Foreground is the package of the standard app currently running, or
// empty.
func (m *Manager) Foreground() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.foreground
}

// Running lists running (and grace-period) packages, sorted.
func (m *Manager) Running() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for pkg, c := range m.controllers {
		if c.state == StateRunning || c.state == StateGracePeriod {
			out = append(out, pkg)
		}
	}
	sort.Strings(out)
	return out
}

// ReconnectedWithin reports whether the app resumed a connection more
// recently than window ago; used to damp resubscribe churn right after
// a reconnect.
func (m *Manager) ReconnectedWithin(packageName string, window time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.controllers[packageName]
	return c != nil && !c.lastReconnectAt.IsZero() &&
		time.Since(c.lastReconnectAt) < window
}

// SendToApp delivers one message to the app's socket.
func (m *Manager) SendToApp(packageName string, v any) error {
	m.mu.Lock()
	c := m.controllers[packageName]
	if c == nil {
		m.mu.Unlock()
		return ErrNotStarted
	}
	conn := c.conn
	m.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return conn.Send(v)
}

// Infos lists every controller's visible state, sorted by package.
func (m *Manager) Infos() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Info, 0, len(m.controllers))
	for pkg, c := range m.controllers {
		info := Info{
			PackageName: pkg,
			State:       c.state,
			Foreground:  pkg == m.foreground,
		}
		if c.app != nil {
			info.Name = c.app.Name
			info.Kind = c.app.Type
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PackageName < out[j].PackageName })
	return out
}

func (m *Manager) runningCountLocked() int {
	n := 0
	for _, c := range m.controllers {
		if c.state == StateRunning || c.state == StateGracePeriod {
			n++
		}
	}
	return n
}

func (m *Manager) activeStandard(except string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	for pkg, c := range m.controllers {
		if pkg == except || c.app == nil || c.app.Type != catalog.AppStandard {
			continue
		}
		switch c.state {
		case StateRunning, StateConnecting, StateGracePeriod, StateResurrecting:
			return pkg
		}
	}
	return ""
}

// DisposeAll stops every app and refuses further starts. Stops run
// sequentially with the caller's context bounding webhook time.
func (m *Manager) DisposeAll(ctx context.Context, reason string) {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return
	}
	m.disposed = true
	pkgs := make([]string, 0, len(m.controllers))
	for pkg := range m.controllers {
		pkgs = append(pkgs, pkg)
	}
	m.mu.Unlock()
	sort.Strings(pkgs)

	for _, pkg := range pkgs {
		if err := m.stop(ctx, pkg, reason); err != nil {
			m.log.Warn("stop during disposal failed", logging.App(pkg), zap.Error(err))
		}
	}
}
