package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/catalog"
	"github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/domain/app"
	"github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/hardware"
	"github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/infrastructure/config"
	"github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/infrastructure/logging"
	"github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/protocol"
	"github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/userdata"
)

const (
	testUser   = "user@example.com"
	weatherPkg = "com.example.weather"
	clockPkg   = "com.example.clock"
	cameraPkg  = "com.example.camera"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// deviceConn fakes the glasses side of a device socket.
type deviceConn struct {
	mu     sync.Mutex
	sent   []any
	pings  int
	closed bool
	code   int
	reason string
}

func (c *deviceConn) Send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, v)
	return nil
}

func (c *deviceConn) Ping([]byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pings++
	return nil
}

func (c *deviceConn) Close(code int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.code = code
	c.reason = reason
	return nil
}

func (c *deviceConn) RemoteAddr() string { return "device:0" }

func (c *deviceConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *deviceConn) closeReason() (int, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.code, c.reason
}

func (c *deviceConn) pingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pings
}

func (c *deviceConn) frames() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]any, len(c.sent))
	copy(out, c.sent)
	return out
}

// appConn fakes the app-server side of an app socket.
type appConn struct {
	mu   sync.Mutex
	sent []any
}

func (c *appConn) Send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, v)
	return nil
}

func (c *appConn) Ping([]byte) error       { return nil }
func (c *appConn) Close(int, string) error { return nil }
func (c *appConn) RemoteAddr() string      { return "app:0" }

func (c *appConn) frames() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]any, len(c.sent))
	copy(out, c.sent)
	return out
}

// fakeWebhooks connects a fake app socket back into the session as
// soon as the session webhook lands, like a real app server would.
type fakeWebhooks struct {
	mu      sync.Mutex
	target  *Session
	conns   map[string]*appConn
	wakeups map[string]int
	stops   map[string]int
}

func newFakeWebhooks() *fakeWebhooks {
	return &fakeWebhooks{
		conns:   make(map[string]*appConn),
		wakeups: make(map[string]int),
		stops:   make(map[string]int),
	}
}

func (w *fakeWebhooks) follow(s *Session) {
	w.mu.Lock()
	w.target = s
	w.mu.Unlock()
}

func (w *fakeWebhooks) SendSessionRequest(_ context.Context, a *catalog.App, _, _, _ string) error {
	w.mu.Lock()
	w.wakeups[a.PackageName]++
	target := w.target
	conn := &appConn{}
	w.conns[a.PackageName] = conn
	w.mu.Unlock()
	if target != nil {
		go func() { _ = target.OnAppConnection(a.PackageName, conn) }()
	}
	return nil
}

func (w *fakeWebhooks) SendStopRequest(_ context.Context, a *catalog.App, _, _, _ string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stops[a.PackageName]++
	return nil
}

func (w *fakeWebhooks) conn(pkg string) *appConn {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conns[pkg]
}

func (w *fakeWebhooks) wakeupCount(pkg string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.wakeups[pkg]
}

type recordingTracker struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingTracker) Track(name, _ string, _ map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, name)
}

func (r *recordingTracker) has(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e == name {
			return true
		}
	}
	return false
}

type sessEnv struct {
	reg     *Registry
	users   *userdata.MemoryStore
	store   *catalog.MemoryStore
	hooks   *fakeWebhooks
	tracker *recordingTracker
	cfg     *config.Config
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Server.PublicURL = "ws://cloud.test"
	cfg.Session.GracePeriod = 150 * time.Millisecond
	cfg.Session.HeartbeatInterval = 40 * time.Millisecond
	cfg.Session.HeartbeatMisses = 2
	cfg.Apps.ConnectTimeout = 200 * time.Millisecond
	cfg.Apps.GracePeriod = 120 * time.Millisecond
	cfg.Display.ThrottleInterval = 0
	return cfg
}

func newTestRegistry(t *testing.T) *sessEnv {
	t.Helper()
	store := catalog.NewMemoryStore()
	seed := []*catalog.App{
		{PackageName: weatherPkg, Name: "Weather", Type: catalog.AppBackground,
			PublicURL: "https://weather.example.com", Permissions: []catalog.Permission{catalog.PermissionAll}},
		{PackageName: clockPkg, Name: "Clock", Type: catalog.AppStandard,
			PublicURL: "https://clock.example.com", Permissions: []catalog.Permission{catalog.PermissionAll}},
		{PackageName: cameraPkg, Name: "Lens", Type: catalog.AppStandard,
			PublicURL: "https://camera.example.com",
			Hardware: []hardware.Requirement{
				{Type: hardware.TypeCamera, Level: hardware.LevelRequired},
			}},
	}
	for _, a := range seed {
		require.NoError(t, store.Save(context.Background(), a))
	}

	e := &sessEnv{
		users:   userdata.NewMemoryStore(),
		store:   store,
		hooks:   newFakeWebhooks(),
		tracker: &recordingTracker{},
		cfg:     testConfig(),
	}
	e.reg = NewRegistry(e.cfg, Deps{
		Catalog:   store,
		Users:     e.users,
		Webhooks:  e.hooks,
		Analytics: e.tracker,
	}, logging.NewNop(), nil)
	t.Cleanup(func() {
		_ = e.reg.Teardown(context.Background())
	})
	return e
}

// connect creates or resumes the test user's session with a fresh
// device socket and points the webhook fake at it.
func (e *sessEnv) connect(t *testing.T) (*Session, *deviceConn) {
	t.Helper()
	conn := &deviceConn{}
	s, _, err := e.reg.CreateOrResume(context.Background(), testUser, conn, "Even Realities G1", nil)
	require.NoError(t, err)
	e.hooks.follow(s)
	return s, conn
}

func (e *sessEnv) startApp(t *testing.T, s *Session, pkg string) *appConn {
	t.Helper()
	require.NoError(t, s.StartApp(context.Background(), pkg))
	conn := e.hooks.conn(pkg)
	require.NotNil(t, conn)
	return conn
}

func subEntries(tokens ...string) []protocol.SubscriptionEntry {
	out := make([]protocol.SubscriptionEntry, len(tokens))
	for i, tok := range tokens {
		out[i] = protocol.SubscriptionEntry{Stream: tok}
	}
	return out
}

// ============================================================================
// Device lifecycle
// ============================================================================

func TestAttachReplacesPreviousConnection(t *testing.T) {
	e := newTestRegistry(t)
	s, first := e.connect(t)

	second := &deviceConn{}
	s2, resumed, err := e.reg.CreateOrResume(context.Background(), testUser, second, "", nil)
	require.NoError(t, err)
	assert.True(t, resumed)
	assert.Same(t, s, s2)
	assert.Equal(t, 1, e.reg.Len())

	assert.True(t, first.isClosed())
	code, reason := first.closeReason()
	assert.Equal(t, protocol.CloseNormal, code)
	assert.Equal(t, "replaced by new connection", reason)
	assert.False(t, second.isClosed())
}

func TestHeartbeatTimeoutForcesDisconnect(t *testing.T) {
	e := newTestRegistry(t)
	s, conn := e.connect(t)

	// The fake never answers pings, so two intervals in the socket is
	// force-closed and the grace period starts.
	require.Eventually(t, conn.isClosed, time.Second, 5*time.Millisecond)
	code, reason := conn.closeReason()
	assert.Equal(t, protocol.CloseGoingAway, code)
	assert.Equal(t, "heartbeat timeout", reason)
	assert.False(t, s.Disposed())
	assert.Greater(t, conn.pingCount(), 0)

	// Nobody reconnects, so the grace period expires and the session
	// is disposed and dropped from the registry.
	require.Eventually(t, s.Disposed, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, e.reg.Len())
	assert.True(t, e.tracker.has("session_ended"))
}

func TestPongKeepsConnectionAlive(t *testing.T) {
	e := newTestRegistry(t)
	s, conn := e.connect(t)

	// Answer every ping until the test is over.
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		last := 0
		for {
			select {
			case <-stop:
				return
			case <-time.After(2 * time.Millisecond):
				if n := conn.pingCount(); n > last {
					last = n
					s.OnDevicePong(conn)
				}
			}
		}
	}()

	time.Sleep(5 * e.cfg.Session.HeartbeatInterval)
	close(stop)
	wg.Wait()

	assert.False(t, conn.isClosed())
	assert.False(t, s.Disposed())
	assert.GreaterOrEqual(t, conn.pingCount(), 3)
}

func TestReconnectWithinGraceKeepsSession(t *testing.T) {
	e := newTestRegistry(t)
	s, conn := e.connect(t)
	sid := s.ID()

	s.OnDeviceDisconnect(conn)
	require.False(t, s.Disposed())

	s2, resumed, err := e.reg.CreateOrResume(context.Background(), testUser, &deviceConn{}, "", nil)
	require.NoError(t, err)
	assert.True(t, resumed)
	assert.Equal(t, sid, s2.ID())

	// The cleanup timer was cancelled, so the session survives well
	// past the original grace deadline.
	time.Sleep(2 * e.cfg.Session.GracePeriod)
	assert.False(t, s2.Disposed())
	assert.Equal(t, 1, e.reg.Len())
}

func TestStaleDisconnectIgnored(t *testing.T) {
	e := newTestRegistry(t)
	s, old := e.connect(t)

	fresh := &deviceConn{}
	require.True(t, s.Attach(fresh, "", nil))

	// The old socket's read pump reports its disconnect after the
	// replacement already attached.
	s.OnDeviceDisconnect(old)

	time.Sleep(2 * e.cfg.Session.GracePeriod)
	assert.False(t, s.Disposed())
}

func TestFreshSessionRestartsPreviousApps(t *testing.T) {
	e := newTestRegistry(t)
	require.NoError(t, e.users.SetRunning(context.Background(), testUser, weatherPkg))

	s, _ := e.connect(t)
	s.OnDeviceReady(context.Background(), false)

	require.Eventually(t, func() bool {
		return s.apps.IsRunning(weatherPkg)
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, e.hooks.wakeupCount(weatherPkg))
}

func TestResumedSessionResurrectsDormantApps(t *testing.T) {
	e := newTestRegistry(t)
	s, conn := e.connect(t)
	e.startApp(t, s, weatherPkg)

	// Device drops, then the app's socket dies with no device to show
	// a grace overlay to, so the app parks as dormant.
	s.OnDeviceDisconnect(conn)
	s.OnAppDisconnect(weatherPkg, e.hooks.conn(weatherPkg))
	require.Eventually(t, func() bool {
		st, ok := s.apps.State(weatherPkg)
		return ok && st == app.StateDormant
	}, time.Second, 5*time.Millisecond)

	s2, resumed, err := e.reg.CreateOrResume(context.Background(), testUser, &deviceConn{}, "", nil)
	require.NoError(t, err)
	require.True(t, resumed)
	s2.OnDeviceReady(context.Background(), true)

	require.Eventually(t, func() bool {
		return s2.apps.IsRunning(weatherPkg)
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, e.hooks.wakeupCount(weatherPkg))
}

// ============================================================================
// Device message routing
// ============================================================================

func TestDevicePingAnsweredWithPong(t *testing.T) {
	e := newTestRegistry(t)
	s, conn := e.connect(t)

	msg := &protocol.Ping{BaseMessage: protocol.Base(protocol.TypePing)}
	require.NoError(t, s.HandleDeviceMessage(context.Background(), msg))

	var found bool
	for _, f := range conn.frames() {
		if _, ok := f.(protocol.Pong); ok {
			found = true
		}
	}
	assert.True(t, found)
}

func TestStartAndStopViaDeviceMessages(t *testing.T) {
	e := newTestRegistry(t)
	s, _ := e.connect(t)

	start := &protocol.StartApp{PackageName: weatherPkg}
	require.NoError(t, s.HandleDeviceMessage(context.Background(), start))
	require.Eventually(t, func() bool {
		return s.apps.IsRunning(weatherPkg)
	}, time.Second, 5*time.Millisecond)

	stop := &protocol.StopApp{PackageName: weatherPkg}
	require.NoError(t, s.HandleDeviceMessage(context.Background(), stop))
	require.Eventually(t, func() bool {
		return !s.apps.IsRunning(weatherPkg)
	}, time.Second, 5*time.Millisecond)

	running, err := e.users.RunningApps(context.Background(), testUser)
	require.NoError(t, err)
	assert.Empty(t, running)
}

func TestStartAppRequiresPackageName(t *testing.T) {
	e := newTestRegistry(t)
	s, _ := e.connect(t)

	err := s.HandleDeviceMessage(context.Background(), &protocol.StartApp{})
	assert.Error(t, err)
	err = s.HandleDeviceMessage(context.Background(), &protocol.SubscriptionUpdate{})
	assert.Error(t, err)
}

func TestDeviceEventsRoutedToSubscribers(t *testing.T) {
	e := newTestRegistry(t)
	s, _ := e.connect(t)
	weatherSock := e.startApp(t, s, weatherPkg)
	clockSock := e.startApp(t, s, clockPkg)

	require.NoError(t, s.UpdateSubscriptions(context.Background(), weatherPkg,
		subEntries(protocol.StreamButtonPress)))

	press := &protocol.ButtonPress{ButtonID: "main", PressType: "short"}
	require.NoError(t, s.HandleDeviceMessage(context.Background(), press))

	var got *protocol.DataStream
	for _, f := range weatherSock.frames() {
		if ds, ok := f.(protocol.DataStream); ok {
			got = &ds
		}
	}
	require.NotNil(t, got)
	assert.Equal(t, protocol.StreamButtonPress, got.StreamType)
	assert.Same(t, press, got.Payload)

	for _, f := range clockSock.frames() {
		_, ok := f.(protocol.DataStream)
		assert.False(t, ok, "unsubscribed app must not receive events")
	}
}

func TestSettingsUpdateMergesAndBroadcasts(t *testing.T) {
	e := newTestRegistry(t)
	s, _ := e.connect(t)
	weatherSock := e.startApp(t, s, weatherPkg)

	require.NoError(t, s.HandleDeviceMessage(context.Background(),
		&protocol.SettingsUpdate{Settings: map[string]any{"theme": "dark"}}))
	require.NoError(t, s.HandleDeviceMessage(context.Background(),
		&protocol.SettingsUpdate{Settings: map[string]any{"fontSize": float64(14)}}))

	merged, err := s.Settings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "dark", merged["theme"])
	assert.Equal(t, float64(14), merged["fontSize"])

	var last *protocol.SettingsUpdate
	for _, f := range weatherSock.frames() {
		if su, ok := f.(protocol.SettingsUpdate); ok {
			last = &su
		}
	}
	require.NotNil(t, last)
	assert.Equal(t, "dark", last.Settings["theme"])
	assert.Equal(t, float64(14), last.Settings["fontSize"])
}

// ============================================================================
// App message routing
// ============================================================================

func TestAppSubscriptionUpdateAppliesInOrder(t *testing.T) {
	e := newTestRegistry(t)
	s, _ := e.connect(t)
	e.startApp(t, s, weatherPkg)

	require.NoError(t, s.HandleAppMessage(context.Background(), weatherPkg,
		&protocol.SubscriptionUpdate{Subscriptions: subEntries(protocol.StreamButtonPress, protocol.StreamLocation)}))
	require.NoError(t, s.HandleAppMessage(context.Background(), weatherPkg,
		&protocol.SubscriptionUpdate{Subscriptions: subEntries(protocol.StreamVad)}))

	snap := s.SubscriptionSnapshot()
	assert.Equal(t, []string{protocol.StreamVad}, snap[weatherPkg])
	assert.Len(t, s.SubscriptionHistory(weatherPkg), 2)
}

func TestSubscriptionUpdateForUnknownAppRejected(t *testing.T) {
	e := newTestRegistry(t)
	s, _ := e.connect(t)

	err := s.UpdateSubscriptions(context.Background(), weatherPkg,
		subEntries(protocol.StreamButtonPress))
	assert.ErrorIs(t, err, app.ErrNotStarted)
}

func TestRedundantResubscribeAfterReconnectIgnored(t *testing.T) {
	e := newTestRegistry(t)
	s, _ := e.connect(t)
	conn := e.startApp(t, s, weatherPkg)

	require.NoError(t, s.UpdateSubscriptions(context.Background(), weatherPkg,
		subEntries("transcription:en-US")))
	require.Len(t, s.SubscriptionHistory(weatherPkg), 1)

	// Socket drops and the app server reconnects inside the grace
	// window, then resubscribes with the set it already holds.
	s.OnAppDisconnect(weatherPkg, conn)
	require.NoError(t, s.OnAppConnection(weatherPkg, &appConn{}))
	require.NoError(t, s.UpdateSubscriptions(context.Background(), weatherPkg,
		subEntries("transcription:en-US")))
	assert.Len(t, s.SubscriptionHistory(weatherPkg), 1)

	// A genuine change inside the window still applies.
	require.NoError(t, s.UpdateSubscriptions(context.Background(), weatherPkg,
		subEntries("transcription:en-US", protocol.StreamButtonPress)))
	assert.Len(t, s.SubscriptionHistory(weatherPkg), 2)
}

func TestDisplayRequestStampsSenderPackage(t *testing.T) {
	e := newTestRegistry(t)
	s, conn := e.connect(t)
	e.startApp(t, s, weatherPkg)

	req := &protocol.DisplayRequest{
		PackageName: "com.example.spoofed",
		View:        protocol.ViewMain,
		Layout:      protocol.TextWall("hello"),
	}
	require.NoError(t, s.HandleAppMessage(context.Background(), weatherPkg, req))

	require.Eventually(t, func() bool {
		for _, f := range conn.frames() {
			if ev, ok := f.(protocol.DisplayEvent); ok {
				return ev.PackageName == weatherPkg
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}

func TestAppPingAnsweredOnAppSocket(t *testing.T) {
	e := newTestRegistry(t)
	s, _ := e.connect(t)
	weatherSock := e.startApp(t, s, weatherPkg)

	msg := &protocol.Ping{BaseMessage: protocol.Base(protocol.TypePing)}
	require.NoError(t, s.HandleAppMessage(context.Background(), weatherPkg, msg))

	var found bool
	for _, f := range weatherSock.frames() {
		if _, ok := f.(protocol.Pong); ok {
			found = true
		}
	}
	assert.True(t, found)
}

// ============================================================================
// Microphone hint and snapshots
// ============================================================================

func TestMicrophoneHintFollowsAudioSubscriptions(t *testing.T) {
	e := newTestRegistry(t)
	s, conn := e.connect(t)
	e.startApp(t, s, weatherPkg)

	require.NoError(t, s.UpdateSubscriptions(context.Background(), weatherPkg,
		subEntries(protocol.StreamTranscription)))

	micStates := func() []bool {
		var out []bool
		for _, f := range conn.frames() {
			if m, ok := f.(protocol.MicrophoneStateChange); ok {
				out = append(out, m.Enabled)
			}
		}
		return out
	}
	require.Eventually(t, func() bool {
		st := micStates()
		return len(st) == 1 && st[0]
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, s.UpdateSubscriptions(context.Background(), weatherPkg, nil))
	require.Eventually(t, func() bool {
		st := micStates()
		return len(st) == 2 && !st[1]
	}, time.Second, 5*time.Millisecond)
}

func TestSnapshotListsAppsWithCompatibility(t *testing.T) {
	e := newTestRegistry(t)
	s, _ := e.connect(t)
	e.startApp(t, s, weatherPkg)
	require.NoError(t, e.users.InstallApp(context.Background(), testUser, cameraPkg))

	require.NoError(t, s.UpdateSubscriptions(context.Background(), weatherPkg,
		subEntries("translation:es-ES-to-en-US")))

	snap := s.Snapshot(context.Background())
	assert.Equal(t, s.ID().String(), snap.SessionID)
	assert.Equal(t, testUser, snap.UserID)
	assert.Contains(t, snap.Languages, "translation:es-ES-to-en-US")

	byPkg := make(map[string]protocol.AppSnapshot)
	var order []string
	for _, a := range snap.Apps {
		byPkg[a.PackageName] = a
		order = append(order, a.PackageName)
	}
	assert.Equal(t, []string{cameraPkg, weatherPkg}, order)

	weather := byPkg[weatherPkg]
	assert.Equal(t, "Weather", weather.Name)
	assert.Equal(t, string(app.StateRunning), weather.State)
	assert.True(t, weather.Compatible)

	// The default device profile has no camera, so the installed but
	// stopped camera app is flagged incompatible.
	camera := byPkg[cameraPkg]
	assert.Equal(t, "Lens", camera.Name)
	assert.Equal(t, string(app.StateStopped), camera.State)
	assert.False(t, camera.Compatible)
	assert.Equal(t, []string{string(hardware.TypeCamera)}, camera.MissingHardware)
}

func TestForegroundAppReflectedInSnapshot(t *testing.T) {
	e := newTestRegistry(t)
	s, conn := e.connect(t)
	e.startApp(t, s, clockPkg)

	snap := s.Snapshot(context.Background())
	assert.Equal(t, clockPkg, snap.ForegroundPackage)

	// Lifecycle changes also push a fresh snapshot at the device.
	require.Eventually(t, func() bool {
		for _, f := range conn.frames() {
			if sc, ok := f.(protocol.AppStateChange); ok {
				if sc.Session.ForegroundPackage == clockPkg {
					return true
				}
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}

func TestCapabilitiesFromHandshakeOverrideProfile(t *testing.T) {
	e := newTestRegistry(t)
	caps := &hardware.Capabilities{ModelName: "Custom", HasDisplay: true, HasCamera: true}
	conn := &deviceConn{}
	s, _, err := e.reg.CreateOrResume(context.Background(), testUser, conn, "Custom", caps)
	require.NoError(t, err)

	got := s.Capabilities()
	require.NotNil(t, got)
	assert.True(t, got.HasCamera)

	// Mutating the copy must not leak back into the session.
	got.HasCamera = false
	assert.True(t, s.Capabilities().HasCamera)
}

// ============================================================================
// Disposal
// ============================================================================

func TestDisposeStopsAppsAndClosesDevice(t *testing.T) {
	e := newTestRegistry(t)
	s, conn := e.connect(t)
	e.startApp(t, s, weatherPkg)

	require.NoError(t, s.Dispose(context.Background(), "test teardown"))
	assert.True(t, s.Disposed())
	assert.True(t, conn.isClosed())
	code, reason := conn.closeReason()
	assert.Equal(t, protocol.CloseGoingAway, code)
	assert.Equal(t, "test teardown", reason)
	assert.Equal(t, 0, e.reg.Len())
	assert.True(t, e.tracker.has("session_ended"))

	require.NoError(t, s.Dispose(context.Background(), "again"))

	err := s.StartApp(context.Background(), clockPkg)
	assert.ErrorIs(t, err, app.ErrSessionClosed)
}

func TestDisposedSessionRefusesAttach(t *testing.T) {
	e := newTestRegistry(t)
	s, _ := e.connect(t)
	require.NoError(t, s.Dispose(context.Background(), "done"))

	assert.False(t, s.Attach(&deviceConn{}, "", nil))

	// The registry hands out a brand-new session instead.
	s2, resumed, err := e.reg.CreateOrResume(context.Background(), testUser, &deviceConn{}, "", nil)
	require.NoError(t, err)
	assert.False(t, resumed)
	assert.NotEqual(t, s.ID(), s2.ID())
}
