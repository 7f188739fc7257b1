package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/analytics"
	"github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/catalog"
	"github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/domain/app"
	"github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/domain/display"
	"github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/domain/subscription"
	"github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/hardware"
	"github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/infrastructure/config"
	"github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/infrastructure/logging"
	"github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/infrastructure/monitoring"
	"github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/protocol"
	"github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/shared/id"
	"github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/shared/taskq"
	"github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/shared/timers"
	"github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/streams"
	"github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/userdata"
)

// ErrNoDevice means an operation needed the device socket and none is
// attached.
var ErrNoDevice = errors.New("device not connected")

// Session is the root aggregate for one user. It owns the device
// socket, the app lifecycle manager, the subscription aggregator, the
// display arbiter, and the stream fanout, and routes every inbound
// frame to the right one.
//
// Lock discipline: mu guards only the session's own fields and is
// never held across calls into owned components or socket writes.
type Session struct {
	id     id.SessionID
	userID string

	cfg       *config.Config
	users     userdata.Store
	catalog   catalog.Store
	analytics analytics.Tracker
	release   func(*Session)
	log       *logging.Logger
	metrics   *monitoring.Metrics

	apps    *app.Manager
	subs    *subscription.Aggregator
	display *display.Arbiter
	fanout  *streams.Fanout
	queue   *taskq.Group

	heartbeat *timers.Timer
	cleanup   *timers.Timer
	wg        sync.WaitGroup

	mu             sync.Mutex
	disposed       bool
	conn           protocol.Conn
	startedAt      time.Time
	disconnectedAt time.Time
	deviceModel    string
	capabilities   *hardware.Capabilities
	missedPongs    int
	micOn          bool
}

// newSession wires up a session and its owned components. Sessions are
// only created through the Registry.
func newSession(cfg *config.Config, userID string, deps Deps, release func(*Session), log *logging.Logger, metrics *monitoring.Metrics) *Session {
	sid := id.NewSessionID()
	sessLog := log.With(logging.Session(sid.String()))

	s := &Session{
		id:        sid,
		userID:    userID,
		cfg:       cfg,
		users:     deps.Users,
		catalog:   deps.Catalog,
		analytics: deps.Analytics,
		release:   release,
		log:       sessLog.Named("session").With(logging.User(userID)),
		metrics:   metrics,
		queue:     taskq.New(),
		heartbeat: timers.New(),
		cleanup:   timers.New(),
		startedAt: time.Now(),
	}

	s.subs = subscription.NewAggregator(cfg.Subscriptions, deps.Catalog, sessLog, metrics)
	s.display = display.NewArbiter(cfg.Display, catalog.SystemDashboard, s, s, sessLog, metrics)
	s.apps = app.NewManager(cfg.Apps, sid.String(), userID, callbackURL(cfg.Server.PublicURL), app.Deps{
		Catalog:   deps.Catalog,
		Webhooks:  deps.Webhooks,
		Subs:      s.subs,
		Running:   deps.Users,
		Display:   s.display,
		Notifier:  s,
		Analytics: deps.Analytics,
	}, sessLog, metrics)
	s.fanout = streams.NewFanout(sessLog, streams.DefaultConsumers(sessLog, s.subs)...)
	s.subs.OnChange(s.onSubscriptionChange)
	return s
}

// callbackURL is the WebSocket URL app servers are told to connect
// back to.
func callbackURL(publicURL string) string {
	return strings.TrimRight(publicURL, "/") + "/app-ws"
}

// ID returns the session's identifier.
func (s *Session) ID() id.SessionID { return s.id }

// UserID returns the owning user's identifier.
func (s *Session) UserID() string { return s.userID }

// Disposed reports whether the session has been torn down.
func (s *Session) Disposed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disposed
}

// ============================================================================
// Device connection lifecycle
// ============================================================================

// Attach binds a device socket to the session, replacing any previous
// one, and restarts the heartbeat. It reports false if the session is
// already disposed, in which case the caller must create a fresh one.
func (s *Session) Attach(conn protocol.Conn, deviceModel string, caps *hardware.Capabilities) bool {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return false
	}
	old := s.conn
	s.conn = conn
	s.disconnectedAt = time.Time{}
	s.missedPongs = 0
	if deviceModel != "" {
		s.deviceModel = deviceModel
	}
	if caps != nil {
		s.capabilities = caps
	} else if s.capabilities == nil && s.deviceModel != "" {
		profile := hardware.ProfileFor(s.deviceModel)
		s.capabilities = &profile
	}
	s.cleanup.Cancel()
	s.heartbeat.Arm(s.cfg.Session.HeartbeatInterval, s.onHeartbeat)
	s.mu.Unlock()

	if old != nil && old != conn {
		_ = old.Close(protocol.CloseNormal, "replaced by new connection")
	}
	s.log.Info("device attached",
		zap.String("remote", conn.RemoteAddr()),
		zap.String("model", deviceModel))
	return true
}

// OnDeviceReady runs the slow follow-up work after the connection ack
// has been sent: a resumed session sweeps dormant apps back to life, a
// fresh one restarts whatever the user's last session left running.
func (s *Session) OnDeviceReady(ctx context.Context, resumed bool) {
	if resumed {
		s.apps.ResurrectDormant(ctx)
		return
	}
	pkgs, err := s.users.RunningApps(ctx, s.userID)
	if err != nil {
		s.log.Warn("failed to read previously running apps", zap.Error(err))
		return
	}
	for _, pkg := range pkgs {
		if err := s.apps.Start(ctx, pkg); err != nil {
			s.log.Warn("failed to restart app from previous session",
				logging.App(pkg), zap.Error(err))
		}
	}
}

// OnDeviceDisconnect handles the device socket dropping. Stale handles
// from replaced sockets are ignored. The session itself survives for
// the configured grace period.
func (s *Session) OnDeviceDisconnect(conn protocol.Conn) {
	s.mu.Lock()
	if s.disposed || s.conn != conn {
		s.mu.Unlock()
		return
	}
	s.conn = nil
	s.disconnectedAt = time.Now()
	s.missedPongs = 0
	s.heartbeat.Cancel()
	s.cleanup.Arm(s.cfg.Session.GracePeriod, s.onCleanupExpiry)
	s.mu.Unlock()

	s.log.Info("device disconnected, session grace period started",
		zap.Duration("grace", s.cfg.Session.GracePeriod))
}

// OnDevicePong resets the missed-ping counter.
func (s *Session) OnDevicePong(conn protocol.Conn) {
	s.mu.Lock()
	if s.conn == conn {
		s.missedPongs = 0
	}
	s.mu.Unlock()
}

func (s *Session) onHeartbeat() {
	s.mu.Lock()
	if s.disposed || s.conn == nil {
		s.mu.Unlock()
		return
	}
	s.missedPongs++
	conn := s.conn
	missed := s.missedPongs
	if missed >= s.cfg.Session.HeartbeatMisses {
		s.mu.Unlock()
		s.metrics.IncHeartbeatTimeouts()
		s.log.Warn("device heartbeat timed out", zap.Int("missedPings", missed))
		_ = conn.Close(protocol.CloseGoingAway, "heartbeat timeout")
		s.OnDeviceDisconnect(conn)
		return
	}
	s.heartbeat.Arm(s.cfg.Session.HeartbeatInterval, s.onHeartbeat)
	s.mu.Unlock()

	_ = conn.Ping(nil)
}

func (s *Session) onCleanupExpiry() {
	s.mu.Lock()
	if s.disposed || s.conn != nil {
		s.mu.Unlock()
		return
	}
	idle := time.Since(s.disconnectedAt)
	s.mu.Unlock()

	s.log.Info("device never reconnected, disposing session",
		zap.Duration("idle", idle))
	if err := s.Dispose(context.Background(), app.StopReasonTimeout); err != nil {
		s.log.Warn("session disposal reported errors", zap.Error(err))
	}
}

// ============================================================================
// Inbound device frames
// ============================================================================

// HandleDeviceMessage routes one decoded device frame. Lifecycle and
// subscription work is queued per app so the device pump is never
// blocked behind a webhook round-trip.
func (s *Session) HandleDeviceMessage(ctx context.Context, msg any) error {
	switch m := msg.(type) {
	case *protocol.Ping:
		return s.sendToDevice(protocol.Pong{BaseMessage: protocol.Base(protocol.TypePong)})
	case *protocol.StartApp:
		if m.PackageName == "" {
			return fmt.Errorf("start_app missing package name")
		}
		pkg := m.PackageName
		s.spawnQueued(pkg, func(ctx context.Context) error {
			return s.apps.Start(ctx, pkg)
		})
		return nil
	case *protocol.StopApp:
		if m.PackageName == "" {
			return fmt.Errorf("stop_app missing package name")
		}
		pkg := m.PackageName
		s.spawnQueued(pkg, func(ctx context.Context) error {
			return s.StopApp(ctx, pkg, app.StopReasonUser)
		})
		return nil
	case *protocol.SubscriptionUpdate:
		// The device relays subscription changes on an app's behalf,
		// so the package must be explicit here.
		if m.PackageName == "" {
			return fmt.Errorf("subscription_update missing package name")
		}
		pkg, entries := m.PackageName, m.Subscriptions
		s.spawnQueued(pkg, func(ctx context.Context) error {
			return s.applySubscriptions(ctx, pkg, entries)
		})
		return nil
	case *protocol.SettingsUpdate:
		return s.updateSettings(ctx, m.Settings)
	case *protocol.ButtonPress:
		s.routeDeviceEvent(protocol.StreamButtonPress, m)
	case *protocol.HeadPosition:
		s.routeDeviceEvent(protocol.StreamHeadPosition, m)
	case *protocol.GlassesBatteryUpdate:
		s.routeDeviceEvent(protocol.StreamGlassesBattery, m)
	case *protocol.PhoneBatteryUpdate:
		s.routeDeviceEvent(protocol.StreamPhoneBattery, m)
	case *protocol.Vad:
		s.routeDeviceEvent(protocol.StreamVad, m)
	case *protocol.LocationUpdate:
		s.routeDeviceEvent(protocol.StreamLocation, m)
	case *protocol.CalendarEvent:
		s.routeDeviceEvent(protocol.StreamCalendar, m)
	case *protocol.PhoneNotification:
		s.routeDeviceEvent(protocol.StreamPhoneNotification, m)
	case *protocol.PhoneNotificationDismissed:
		s.routeDeviceEvent(protocol.StreamPhoneNotificationDismissed, m)
	default:
		s.log.Debug("unhandled device message", zap.String("messageType", fmt.Sprintf("%T", msg)))
	}
	return nil
}

// routeDeviceEvent fans one device event out to every app subscribed
// to its stream.
func (s *Session) routeDeviceEvent(streamType string, payload any) {
	pkgs := s.subs.Subscribers(protocol.Stream{Type: streamType})
	for _, pkg := range pkgs {
		err := s.apps.SendToApp(pkg, protocol.DataStream{
			BaseMessage: protocol.Base(protocol.TypeDataStream),
			StreamType:  streamType,
			Payload:     payload,
		})
		if err != nil {
			s.log.Debug("data stream delivery failed",
				logging.App(pkg),
				logging.Stream(streamType),
				zap.Error(err))
		}
	}
}

// updateSettings merges new settings into the durable record and
// broadcasts the merged set to every running app.
func (s *Session) updateSettings(ctx context.Context, settings map[string]any) error {
	if err := s.users.UpdateSettings(ctx, s.userID, settings); err != nil {
		return fmt.Errorf("update settings: %w", err)
	}
	merged, err := s.users.Settings(ctx, s.userID)
	if err != nil {
		merged = settings
	}
	out := protocol.SettingsUpdate{
		BaseMessage: protocol.Base(protocol.TypeSettingsUpdate),
		Settings:    merged,
	}
	for _, pkg := range s.apps.Running() {
		if err := s.apps.SendToApp(pkg, out); err != nil {
			s.log.Debug("settings broadcast failed", logging.App(pkg), zap.Error(err))
		}
	}
	return nil
}

// ============================================================================
// Inbound app frames
// ============================================================================

// OnAppConnection attaches an authenticated app socket.
func (s *Session) OnAppConnection(packageName string, conn protocol.Conn) error {
	return s.apps.OnAppConnection(packageName, conn)
}

// OnAppDisconnect handles an app socket dropping.
func (s *Session) OnAppDisconnect(packageName string, conn protocol.Conn) {
	s.apps.OnAppDisconnect(packageName, conn)
}

// HandleAppMessage routes one decoded frame from an authenticated app
// connection. Subscription updates block the calling pump until
// applied, which keeps one connection's updates in arrival order.
func (s *Session) HandleAppMessage(ctx context.Context, packageName string, msg any) error {
	switch m := msg.(type) {
	case *protocol.SubscriptionUpdate:
		return s.UpdateSubscriptions(ctx, packageName, m.Subscriptions)
	case *protocol.DisplayRequest:
		req := *m
		req.PackageName = packageName
		s.display.HandleRequest(req)
		return nil
	case *protocol.OwnershipRelease:
		s.apps.HandleOwnershipRelease(packageName, m.Reason)
		return nil
	case *protocol.Ping:
		return s.apps.SendToApp(packageName, protocol.Pong{BaseMessage: protocol.Base(protocol.TypePong)})
	default:
		s.log.Debug("unhandled app message",
			logging.App(packageName),
			zap.String("messageType", fmt.Sprintf("%T", msg)))
		return nil
	}
}

// ============================================================================
// App operations
// ============================================================================

// StartApp starts an app and blocks until it is running or failed.
func (s *Session) StartApp(ctx context.Context, packageName string) error {
	return s.apps.Start(ctx, packageName)
}

// StopApp stops an app with the given reason.
func (s *Session) StopApp(ctx context.Context, packageName, reason string) error {
	return s.apps.Stop(ctx, packageName, reason)
}

// UpdateSubscriptions applies a subscription update on the app's FIFO
// queue. Updates issued while the app is connecting or resurrecting
// wait until it settles.
func (s *Session) UpdateSubscriptions(ctx context.Context, packageName string, entries []protocol.SubscriptionEntry) error {
	return s.queue.Do(ctx, packageName, func() error {
		return s.applySubscriptions(ctx, packageName, entries)
	})
}

// applySubscriptions runs inside the app's queue slot. SDKs
// resubscribe unconditionally after a reconnect; an update that
// changes nothing inside the resubscribe window is dropped so the
// downstream fanout does not churn.
func (s *Session) applySubscriptions(ctx context.Context, packageName string, entries []protocol.SubscriptionEntry) error {
	if err := s.apps.AwaitRunning(ctx, packageName); err != nil {
		return fmt.Errorf("subscription update for %s: %w", packageName, err)
	}
	if window := s.cfg.Subscriptions.ResubscribeWindow; window > 0 &&
		s.apps.ReconnectedWithin(packageName, window) &&
		s.subs.IsCurrent(packageName, entries) {
		s.log.Debug("redundant resubscribe ignored", logging.App(packageName))
		return nil
	}
	_, err := s.subs.Apply(ctx, packageName, entries)
	return err
}

// spawnQueued runs fn on the app's FIFO queue without blocking the
// caller. The ticket is taken before returning, so two spawns from the
// same pump keep their order. Panics are contained per task.
func (s *Session) spawnQueued(key string, fn func(context.Context) error) {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	s.queue.Submit(key, func() (err error) {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("queued task panicked",
					logging.App(key),
					zap.Any("panic", r),
					zap.Stack("stack"))
				err = fmt.Errorf("internal: %v", r)
			}
		}()
		err = fn(context.Background())
		switch {
		case err == nil:
		case errors.Is(err, app.ErrSessionClosed):
			s.log.Debug("queued task skipped, session closed", logging.App(key))
		default:
			s.log.Warn("queued task failed", logging.App(key), zap.Error(err))
		}
		return err
	})
}

// ============================================================================
// Subscription change fanout
// ============================================================================

// onSubscriptionChange pushes the new aggregate to the stream trackers
// and hints the device when the microphone requirement flips.
func (s *Session) onSubscriptionChange(sum subscription.Summary) {
	s.fanout.Publish(context.Background(), sum)

	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	flipped := sum.MicrophoneNeeded != s.micOn
	s.micOn = sum.MicrophoneNeeded
	conn := s.conn
	s.mu.Unlock()

	if !flipped || conn == nil {
		return
	}
	err := conn.Send(protocol.MicrophoneStateChange{
		BaseMessage: protocol.Base(protocol.TypeMicrophoneStateChange),
		Enabled:     sum.MicrophoneNeeded,
	})
	if err != nil {
		s.log.Debug("microphone hint failed", zap.Error(err))
	} else {
		s.log.Debug("microphone hint sent", zap.Bool("enabled", sum.MicrophoneNeeded))
	}
}

// ============================================================================
// Collaborator interfaces for owned components
// ============================================================================

// AppStateChanged broadcasts a fresh snapshot to the device after any
// app lifecycle change. Part of the app manager's Notifier.
func (s *Session) AppStateChanged() {
	s.display.SetForeground(s.apps.Foreground())

	s.mu.Lock()
	disposed := s.disposed
	conn := s.conn
	s.mu.Unlock()
	if disposed || conn == nil {
		return
	}
	snap := s.Snapshot(context.Background())
	err := conn.Send(protocol.AppStateChange{
		BaseMessage: protocol.Base(protocol.TypeAppStateChange),
		Session:     snap,
	})
	if err != nil {
		s.log.Debug("app state broadcast failed", zap.Error(err))
	}
}

// DeviceConnected reports whether the device socket is attached. Part
// of the app manager's Notifier; drives the dormancy decision.
func (s *Session) DeviceConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// IsRunning implements the arbiter's running check.
func (s *Session) IsRunning(packageName string) bool {
	return s.apps.IsRunning(packageName)
}

// ShowDisplay delivers an arbitrated display event to the device. The
// arbiter calls this under its own lock, so it must not call back into
// session-owned components.
func (s *Session) ShowDisplay(ev protocol.DisplayEvent) error {
	return s.sendToDevice(ev)
}

func (s *Session) sendToDevice(v any) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNoDevice
	}
	return conn.Send(v)
}

// ============================================================================
// Snapshots and queries
// ============================================================================

// Snapshot builds the device-facing view of the session: every app the
// session has addressed or the user has installed, with lifecycle
// state and hardware compatibility, plus the subscription aggregate.
func (s *Session) Snapshot(ctx context.Context) protocol.SessionSnapshot {
	s.mu.Lock()
	snap := protocol.SessionSnapshot{
		SessionID: s.id.String(),
		UserID:    s.userID,
		StartedAt: s.startedAt,
	}
	caps := s.capabilities
	s.mu.Unlock()

	sum := s.subs.Summary()
	snap.MicrophoneOn = sum.MicrophoneNeeded
	snap.Languages = sum.Languages
	snap.ForegroundPackage = s.apps.Foreground()

	seen := make(map[string]bool)
	for _, info := range s.apps.Infos() {
		seen[info.PackageName] = true
		entry := protocol.AppSnapshot{
			PackageName: info.PackageName,
			Name:        info.Name,
			Kind:        string(info.Kind),
			State:       string(info.State),
			Foreground:  info.Foreground,
		}
		s.fillCompat(ctx, &entry, caps)
		snap.Apps = append(snap.Apps, entry)
	}

	installed, err := s.users.InstalledApps(ctx, s.userID)
	if err != nil {
		s.log.Warn("failed to read installed apps", zap.Error(err))
	}
	for _, pkg := range installed {
		if seen[pkg] {
			continue
		}
		entry := protocol.AppSnapshot{
			PackageName: pkg,
			State:       string(app.StateStopped),
		}
		s.fillCompat(ctx, &entry, caps)
		snap.Apps = append(snap.Apps, entry)
	}

	sort.Slice(snap.Apps, func(i, j int) bool {
		return snap.Apps[i].PackageName < snap.Apps[j].PackageName
	})
	return snap
}

// fillCompat enriches one snapshot entry from the catalog.
func (s *Session) fillCompat(ctx context.Context, entry *protocol.AppSnapshot, caps *hardware.Capabilities) {
	meta, err := s.catalog.Get(ctx, entry.PackageName)
	if err != nil {
		// Not in the catalog anymore; nothing to check against.
		entry.Compatible = true
		return
	}
	if entry.Name == "" {
		entry.Name = meta.Name
	}
	if entry.Kind == "" {
		entry.Kind = string(meta.Type)
	}
	compat := meta.Compatible(caps)
	entry.Compatible = compat.Compatible
	for _, missing := range compat.MissingRequired {
		entry.MissingHardware = append(entry.MissingHardware, string(missing))
	}
}

// Settings returns the user's current settings, for the app handshake.
func (s *Session) Settings(ctx context.Context) (map[string]any, error) {
	return s.users.Settings(ctx, s.userID)
}

// Capabilities returns a copy of the device's reported capabilities.
func (s *Session) Capabilities() *hardware.Capabilities {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.capabilities == nil {
		return nil
	}
	caps := *s.capabilities
	return &caps
}

// SubscriptionSnapshot returns every app's active stream tokens.
func (s *Session) SubscriptionSnapshot() map[string][]string {
	return s.subs.Snapshot()
}

// SubscriptionHistory returns one app's subscription change journal.
func (s *Session) SubscriptionHistory(packageName string) []subscription.Change {
	return s.subs.History(packageName)
}

// DisplaySnapshot returns the arbiter's current decision state.
func (s *Session) DisplaySnapshot() display.Snapshot {
	return s.display.Snapshot()
}

// ============================================================================
// Disposal
// ============================================================================

// Dispose tears the session down: the disposed flag stops new work
// first, then timers are cancelled, apps stopped, the arbiter shut
// down, and the device socket closed. Idempotent; safe to call from
// timer callbacks.
func (s *Session) Dispose(ctx context.Context, reason string) error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return nil
	}
	s.disposed = true
	conn := s.conn
	s.conn = nil
	startedAt := s.startedAt
	s.heartbeat.Cancel()
	s.cleanup.Cancel()
	s.mu.Unlock()

	s.apps.DisposeAll(ctx, reason)
	s.display.Dispose()

	var errs error
	if conn != nil {
		if err := conn.Close(protocol.CloseGoingAway, reason); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("close device connection: %w", err))
		}
	}

	// Queued tasks were unblocked by DisposeAll; wait them out so
	// nothing touches the session after release.
	s.wg.Wait()

	s.release(s)
	s.analytics.Track("session_ended", s.userID, map[string]any{
		"sessionId":  s.id.String(),
		"reason":     reason,
		"durationMs": time.Since(startedAt).Milliseconds(),
	})
	s.log.Info("session disposed", zap.String("reason", reason))
	return errs
}
