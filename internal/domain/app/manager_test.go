package app

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/catalog"
	"github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/domain/subscription"
	"github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/infrastructure/config"
	"github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/infrastructure/logging"
	"github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/protocol"
	"github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/userdata"
)

const (
	weatherPkg = "com.example.weather"
	clockPkg   = "com.example.clock"
	mapsPkg    = "com.example.maps"
	tourPkg    = "com.example.tour"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeConn struct {
	mu     sync.Mutex
	sent   []any
	closed bool
	code   int
	reason string
}

func (c *fakeConn) Send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, v)
	return nil
}

func (c *fakeConn) Ping([]byte) error { return nil }

func (c *fakeConn) Close(code int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.code = code
	c.reason = reason
	return nil
}

func (c *fakeConn) RemoteAddr() string { return "fake:0" }

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) lastSent() any {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sent) == 0 {
		return nil
	}
	return c.sent[len(c.sent)-1]
}

type stopCall struct {
	pkg    string
	reason string
}

type fakeWebhooks struct {
	mu         sync.Mutex
	sessions   []string
	stops      []stopCall
	sessionErr error
	onSession  func(pkg string)
}

func (w *fakeWebhooks) SendSessionRequest(_ context.Context, app *catalog.App, _, _, _ string) error {
	w.mu.Lock()
	w.sessions = append(w.sessions, app.PackageName)
	err := w.sessionErr
	hook := w.onSession
	w.mu.Unlock()
	if err != nil {
		return err
	}
	if hook != nil {
		hook(app.PackageName)
	}
	return nil
}

func (w *fakeWebhooks) SendStopRequest(_ context.Context, app *catalog.App, _, _, reason string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stops = append(w.stops, stopCall{pkg: app.PackageName, reason: reason})
	return nil
}

func (w *fakeWebhooks) sessionCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.sessions)
}

func (w *fakeWebhooks) stopCalls() []stopCall {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]stopCall, len(w.stops))
	copy(out, w.stops)
	return out
}

type fakeDisplay struct {
	mu      sync.Mutex
	loading []string
	running []string
	stopped []string
}

func (d *fakeDisplay) OnAppLoading(pkg, _ string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.loading = append(d.loading, pkg)
}

func (d *fakeDisplay) OnAppRunning(pkg string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.running = append(d.running, pkg)
}

func (d *fakeDisplay) OnAppStopped(pkg string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = append(d.stopped, pkg)
}

func (d *fakeDisplay) stoppedList() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.stopped))
	copy(out, d.stopped)
	return out
}

type fakeNotifier struct {
	device  atomic.Bool
	changes atomic.Int32
}

func (n *fakeNotifier) AppStateChanged() { n.changes.Add(1) }

func (n *fakeNotifier) DeviceConnected() bool { return n.device.Load() }

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

type env struct {
	mgr      *Manager
	hooks    *fakeWebhooks
	display  *fakeDisplay
	notifier *fakeNotifier
	tracker  *recordingTracker
	subs     *subscription.Aggregator
	users    *userdata.MemoryStore
}

func newTestManager(t *testing.T) *env {
	t.Helper()
	store := catalog.NewMemoryStore()
	seed := []*catalog.App{
		{PackageName: weatherPkg, Name: "Weather", Type: catalog.AppBackground,
			PublicURL: "https://weather.example.com", Permissions: []catalog.Permission{catalog.PermissionAll}},
		{PackageName: clockPkg, Name: "Clock", Type: catalog.AppBackground,
			PublicURL: "https://clock.example.com"},
		{PackageName: mapsPkg, Name: "Maps", Type: catalog.AppStandard,
			PublicURL: "https://maps.example.com"},
		{PackageName: tourPkg, Name: "Tour", Type: catalog.AppStandard,
			PublicURL: "https://tour.example.com"},
	}
	for _, app := range seed {
		require.NoError(t, store.Save(context.Background(), app))
	}

	e := &env{
		hooks:    &fakeWebhooks{},
		display:  &fakeDisplay{},
		notifier: &fakeNotifier{},
		tracker:  &recordingTracker{},
		users:    userdata.NewMemoryStore(),
	}
	e.notifier.device.Store(true)
	e.subs = subscription.NewAggregator(
		config.SubscriptionConfig{DefaultLocale: "en-US", HistoryLimit: 8},
		store, logging.NewNop(), nil)

	cfg := config.AppConfig{
		ConnectTimeout: 150 * time.Millisecond,
		GracePeriod:    120 * time.Millisecond,
	}
	e.mgr = NewManager(cfg, "sess-1", "user@example.com", "ws://cloud.test/app-ws", Deps{
		Catalog:   store,
		Webhooks:  e.hooks,
		Subs:      e.subs,
		Running:   e.users,
		Display:   e.display,
		Notifier:  e.notifier,
		Analytics: e.tracker,
	}, logging.NewNop(), nil)
	t.Cleanup(func() {
		e.mgr.DisposeAll(context.Background(), "test over")
	})
	return e
}

// autoConnect makes the fake app server attach a socket as soon as the
// session webhook lands, like a real SDK would.
func (e *env) autoConnect() {
	e.hooks.mu.Lock()
	e.hooks.onSession = func(pkg string) {
		go func() { _ = e.mgr.OnAppConnection(pkg, &fakeConn{}) }()
	}
	e.hooks.mu.Unlock()
}

func (e *env) startAndConnect(t *testing.T, pkg string) *fakeConn {
	t.Helper()
	conn := &fakeConn{}
	e.hooks.mu.Lock()
	e.hooks.onSession = func(p string) {
		if p == pkg {
			go func() { _ = e.mgr.OnAppConnection(pkg, conn) }()
		}
	}
	e.hooks.mu.Unlock()
	require.NoError(t, e.mgr.Start(context.Background(), pkg))
	e.hooks.mu.Lock()
	e.hooks.onSession = nil
	e.hooks.mu.Unlock()
	return conn
}

func (e *env) state(pkg string) State {
	s, _ := e.mgr.State(pkg)
	return s
}

func subEntries(tokens ...string) []protocol.SubscriptionEntry {
	out := make([]protocol.SubscriptionEntry, len(tokens))
	for i, tok := range tokens {
		out[i] = protocol.SubscriptionEntry{Stream: tok}
	}
	return out
}

func streamTokens(streams []protocol.Stream) []string {
	out := make([]string, len(streams))
	for i, s := range streams {
		out[i] = s.String()
	}
	return out
}

func TestStartHappyPath(t *testing.T) {
	e := newTestManager(t)

	conn := e.startAndConnect(t, weatherPkg)

	assert.Equal(t, StateRunning, e.state(weatherPkg))
	assert.Equal(t, 1, e.hooks.sessionCount())
	assert.False(t, conn.isClosed())
	assert.Contains(t, e.display.loading, weatherPkg)
	assert.Contains(t, e.display.running, weatherPkg)
	assert.True(t, e.tracker.has("app_started"))

	running, err := e.users.RunningApps(context.Background(), "user@example.com")
	require.NoError(t, err)
	assert.Contains(t, running, weatherPkg)
	assert.Greater(t, e.notifier.changes.Load(), int32(0))
}

func TestConcurrentStartsShareOneWebhook(t *testing.T) {
	e := newTestManager(t)
	release := make(chan struct{})
	e.hooks.mu.Lock()
	e.hooks.onSession = func(pkg string) {
		go func() {
			<-release
			_ = e.mgr.OnAppConnection(pkg, &fakeConn{})
		}()
	}
	e.hooks.mu.Unlock()

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = e.mgr.Start(context.Background(), weatherPkg)
		}(i)
	}
	// Let every caller reach the shared attempt before the app connects.
	require.Eventually(t, func() bool { return e.hooks.sessionCount() == 1 }, time.Second, 2*time.Millisecond)
	close(release)
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, e.hooks.sessionCount())
	assert.Equal(t, StateRunning, e.state(weatherPkg))
}

func TestStartTimesOutWhenAppNeverConnects(t *testing.T) {
	e := newTestManager(t)

	err := e.mgr.Start(context.Background(), weatherPkg)

	var startErr *StartError
	require.ErrorAs(t, err, &startErr)
	assert.Equal(t, StageTimeout, startErr.Stage)
	assert.Equal(t, StateStopped, e.state(weatherPkg))
	// The boot overlay entry is rolled back.
	assert.Contains(t, e.display.stoppedList(), weatherPkg)
}

func TestStartFailsWhenWebhookFails(t *testing.T) {
	e := newTestManager(t)
	e.hooks.sessionErr = errors.New("connection refused")

	err := e.mgr.Start(context.Background(), weatherPkg)

	var startErr *StartError
	require.ErrorAs(t, err, &startErr)
	assert.Equal(t, StageWebhook, startErr.Stage)
	assert.Equal(t, StateStopped, e.state(weatherPkg))
}

func TestStartUnknownAppFailsAtCatalog(t *testing.T) {
	e := newTestManager(t)

	err := e.mgr.Start(context.Background(), "com.example.ghost")

	var startErr *StartError
	require.ErrorAs(t, err, &startErr)
	assert.Equal(t, StageCatalog, startErr.Stage)
	assert.ErrorIs(t, err, catalog.ErrNotFound)
	assert.Zero(t, e.hooks.sessionCount())
}

func TestStartWhileRunningIsNoop(t *testing.T) {
	e := newTestManager(t)
	e.startAndConnect(t, weatherPkg)

	require.NoError(t, e.mgr.Start(context.Background(), weatherPkg))
	assert.Equal(t, 1, e.hooks.sessionCount())
}

func TestGraceResumeKeepsSubscriptions(t *testing.T) {
	e := newTestManager(t)
	conn := e.startAndConnect(t, weatherPkg)

	_, err := e.subs.Apply(context.Background(), weatherPkg,
		subEntries("transcription:en-US", "button_press"))
	require.NoError(t, err)
	before := streamTokens(e.subs.ForApp(weatherPkg))

	e.mgr.OnAppDisconnect(weatherPkg, conn)
	assert.Equal(t, StateGracePeriod, e.state(weatherPkg))
	assert.True(t, e.mgr.IsRunning(weatherPkg), "grace period still counts as alive")

	require.NoError(t, e.mgr.OnAppConnection(weatherPkg, &fakeConn{}))

	assert.Equal(t, StateRunning, e.state(weatherPkg))
	assert.Equal(t, before, streamTokens(e.subs.ForApp(weatherPkg)))
	assert.Equal(t, 1, e.hooks.sessionCount(), "resume must not fire a webhook")
}

func TestGraceExpiryResurrectsWhileDeviceConnected(t *testing.T) {
	e := newTestManager(t)
	conn := e.startAndConnect(t, weatherPkg)
	_, err := e.subs.Apply(context.Background(), weatherPkg, subEntries("vad"))
	require.NoError(t, err)

	e.autoConnect()
	e.mgr.OnAppDisconnect(weatherPkg, conn)

	require.Eventually(t, func() bool {
		return e.hooks.sessionCount() == 2 && e.state(weatherPkg) == StateRunning
	}, 2*time.Second, 5*time.Millisecond)

	assert.True(t, e.tracker.has("app_resurrected"))
	// The prior streams are carried across the restart until the app
	// resubscribes on its own.
	assert.Equal(t, []string{"vad"}, streamTokens(e.subs.ForApp(weatherPkg)))
}

func TestGraceExpiryParksDormantWhenDeviceGone(t *testing.T) {
	e := newTestManager(t)
	conn := e.startAndConnect(t, weatherPkg)
	e.notifier.device.Store(false)

	e.mgr.OnAppDisconnect(weatherPkg, conn)

	require.Eventually(t, func() bool {
		return e.state(weatherPkg) == StateDormant
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, e.hooks.sessionCount(), "dormant apps are not contacted")
}

func TestDormantLateResumeAccepted(t *testing.T) {
	e := newTestManager(t)
	conn := e.startAndConnect(t, weatherPkg)
	e.notifier.device.Store(false)
	e.mgr.OnAppDisconnect(weatherPkg, conn)
	require.Eventually(t, func() bool {
		return e.state(weatherPkg) == StateDormant
	}, 2*time.Second, 5*time.Millisecond)

	// The SDK's own retry outlives the grace window; accept it.
	require.NoError(t, e.mgr.OnAppConnection(weatherPkg, &fakeConn{}))
	assert.Equal(t, StateRunning, e.state(weatherPkg))
	assert.Equal(t, 1, e.hooks.sessionCount())
}

func TestOwnershipReleaseSkipsResurrection(t *testing.T) {
	e := newTestManager(t)
	conn := e.startAndConnect(t, weatherPkg)

	e.mgr.HandleOwnershipRelease(weatherPkg, "user moved to another node")
	e.mgr.OnAppDisconnect(weatherPkg, conn)

	// No grace period: released apps park immediately.
	assert.Equal(t, StateDormant, e.state(weatherPkg))

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, StateDormant, e.state(weatherPkg))
	assert.Equal(t, 1, e.hooks.sessionCount())
}

func TestResurrectDormantSweep(t *testing.T) {
	e := newTestManager(t)
	wConn := e.startAndConnect(t, weatherPkg)
	cConn := e.startAndConnect(t, clockPkg)

	e.notifier.device.Store(false)
	e.mgr.OnAppDisconnect(weatherPkg, wConn)
	e.mgr.OnAppDisconnect(clockPkg, cConn)
	require.Eventually(t, func() bool {
		return e.state(weatherPkg) == StateDormant && e.state(clockPkg) == StateDormant
	}, 2*time.Second, 5*time.Millisecond)

	e.notifier.device.Store(true)
	e.autoConnect()
	e.mgr.ResurrectDormant(context.Background())

	assert.Equal(t, StateRunning, e.state(weatherPkg))
	assert.Equal(t, StateRunning, e.state(clockPkg))
	// One fresh webhook each, clock before weather (sorted order).
	assert.Equal(t, 4, e.hooks.sessionCount())
	e.hooks.mu.Lock()
	swept := append([]string(nil), e.hooks.sessions[2:]...)
	e.hooks.mu.Unlock()
	assert.Equal(t, []string{clockPkg, weatherPkg}, swept)
}

func TestSweepSkipsReleasedApps(t *testing.T) {
	e := newTestManager(t)
	conn := e.startAndConnect(t, weatherPkg)
	e.mgr.HandleOwnershipRelease(weatherPkg, "moved")
	e.mgr.OnAppDisconnect(weatherPkg, conn)
	require.Equal(t, StateDormant, e.state(weatherPkg))

	e.mgr.ResurrectDormant(context.Background())

	assert.Equal(t, StateDormant, e.state(weatherPkg))
	assert.Equal(t, 1, e.hooks.sessionCount())
}

func TestStopTearsDownEverything(t *testing.T) {
	e := newTestManager(t)
	conn := e.startAndConnect(t, weatherPkg)
	_, err := e.subs.Apply(context.Background(), weatherPkg, subEntries("button_press"))
	require.NoError(t, err)

	require.NoError(t, e.mgr.Stop(context.Background(), weatherPkg, "user asked"))

	assert.Equal(t, StateStopped, e.state(weatherPkg))
	assert.True(t, conn.isClosed())
	assert.Equal(t, protocol.CloseNormal, conn.code)
	stopped, ok := conn.lastSent().(protocol.AppStopped)
	require.True(t, ok, "app gets an app_stopped message before the close")
	assert.Equal(t, "user asked", stopped.Reason)

	assert.Empty(t, e.subs.ForApp(weatherPkg))
	running, err := e.users.RunningApps(context.Background(), "user@example.com")
	require.NoError(t, err)
	assert.Empty(t, running)

	calls := e.hooks.stopCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, stopCall{pkg: weatherPkg, reason: "user asked"}, calls[0])
	assert.True(t, e.tracker.has("app_stopped"))
}

func TestStopAbortsInFlightStart(t *testing.T) {
	e := newTestManager(t)

	errCh := make(chan error, 1)
	go func() { errCh <- e.mgr.Start(context.Background(), weatherPkg) }()
	require.Eventually(t, func() bool { return e.hooks.sessionCount() == 1 }, time.Second, 2*time.Millisecond)

	require.NoError(t, e.mgr.Stop(context.Background(), weatherPkg, "abort"))

	err := <-errCh
	var startErr *StartError
	require.ErrorAs(t, err, &startErr)
	assert.Equal(t, StageAborted, startErr.Stage)
	assert.Equal(t, StateStopped, e.state(weatherPkg))
}

func TestStopIsIdempotent(t *testing.T) {
	e := newTestManager(t)
	e.startAndConnect(t, weatherPkg)

	require.NoError(t, e.mgr.Stop(context.Background(), weatherPkg, "first"))
	require.NoError(t, e.mgr.Stop(context.Background(), weatherPkg, "second"))

	assert.Len(t, e.hooks.stopCalls(), 1)
}

func TestSecondStandardAppReplacesFirst(t *testing.T) {
	e := newTestManager(t)
	e.startAndConnect(t, mapsPkg)
	assert.Equal(t, mapsPkg, e.mgr.Foreground())

	e.startAndConnect(t, tourPkg)

	assert.Equal(t, StateStopped, e.state(mapsPkg))
	assert.Equal(t, StateRunning, e.state(tourPkg))
	assert.Equal(t, tourPkg, e.mgr.Foreground())
	calls := e.hooks.stopCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, mapsPkg, calls[0].pkg)
	assert.Equal(t, StopReasonReplaced, calls[0].reason)
}

func TestBackgroundAppsRunAlongside(t *testing.T) {
	e := newTestManager(t)
	e.startAndConnect(t, mapsPkg)
	e.startAndConnect(t, weatherPkg)

	assert.Equal(t, StateRunning, e.state(mapsPkg))
	assert.Equal(t, StateRunning, e.state(weatherPkg))
	assert.Equal(t, []string{mapsPkg, weatherPkg}, e.mgr.Running())
}

func TestAwaitRunning(t *testing.T) {
	e := newTestManager(t)
	assert.ErrorIs(t, e.mgr.AwaitRunning(context.Background(), weatherPkg), ErrNotStarted)

	e.startAndConnect(t, weatherPkg)
	assert.NoError(t, e.mgr.AwaitRunning(context.Background(), weatherPkg))

	// While a start is in flight, AwaitRunning blocks until it settles.
	errCh := make(chan error, 1)
	go func() { errCh <- e.mgr.Start(context.Background(), clockPkg) }()
	require.Eventually(t, func() bool {
		s, _ := e.mgr.State(clockPkg)
		return s == StateConnecting
	}, time.Second, 2*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, e.mgr.AwaitRunning(ctx, clockPkg), context.DeadlineExceeded)

	require.NoError(t, e.mgr.OnAppConnection(clockPkg, &fakeConn{}))
	assert.NoError(t, e.mgr.AwaitRunning(context.Background(), clockPkg))
	assert.NoError(t, <-errCh)
}

func TestSendToApp(t *testing.T) {
	e := newTestManager(t)
	assert.ErrorIs(t, e.mgr.SendToApp(weatherPkg, "hi"), ErrNotStarted)

	conn := e.startAndConnect(t, weatherPkg)
	require.NoError(t, e.mgr.SendToApp(weatherPkg, "hi"))
	assert.Equal(t, "hi", conn.lastSent())

	e.mgr.OnAppDisconnect(weatherPkg, conn)
	assert.ErrorIs(t, e.mgr.SendToApp(weatherPkg, "hi"), ErrNotConnected)
}

func TestReplacedSocketClosesOldOne(t *testing.T) {
	e := newTestManager(t)
	oldConn := e.startAndConnect(t, weatherPkg)

	newConn := &fakeConn{}
	require.NoError(t, e.mgr.OnAppConnection(weatherPkg, newConn))

	assert.True(t, oldConn.isClosed())
	require.NoError(t, e.mgr.SendToApp(weatherPkg, "ping"))
	assert.Equal(t, "ping", newConn.lastSent())

	// The old socket's close handler must not knock out the new one.
	e.mgr.OnAppDisconnect(weatherPkg, oldConn)
	assert.Equal(t, StateRunning, e.state(weatherPkg))
}

func TestConnectionRejectedWhenNeverStarted(t *testing.T) {
	e := newTestManager(t)
	err := e.mgr.OnAppConnection(weatherPkg, &fakeConn{})
	assert.ErrorIs(t, err, ErrNotStarted)
}

func TestInfos(t *testing.T) {
	e := newTestManager(t)
	e.startAndConnect(t, mapsPkg)
	e.startAndConnect(t, weatherPkg)

	infos := e.mgr.Infos()
	require.Len(t, infos, 2)
	assert.Equal(t, mapsPkg, infos[0].PackageName)
	assert.Equal(t, catalog.AppStandard, infos[0].Kind)
	assert.True(t, infos[0].Foreground)
	assert.Equal(t, weatherPkg, infos[1].PackageName)
	assert.False(t, infos[1].Foreground)
}

func TestDisposeAllStopsEverything(t *testing.T) {
	e := newTestManager(t)
	wConn := e.startAndConnect(t, weatherPkg)
	mConn := e.startAndConnect(t, mapsPkg)

	e.mgr.DisposeAll(context.Background(), "session ended")

	assert.Equal(t, StateStopped, e.state(weatherPkg))
	assert.Equal(t, StateStopped, e.state(mapsPkg))
	assert.True(t, wConn.isClosed())
	assert.True(t, mConn.isClosed())
	assert.ErrorIs(t, e.mgr.Start(context.Background(), weatherPkg), ErrSessionClosed)
}
