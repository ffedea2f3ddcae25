package capture

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/snapstash/snapstash/internal/browser"
	"github.com/snapstash/snapstash/pkg/models"
)

// pageScript configures the failure behavior of pages a fake handle opens.
type pageScript struct {
	viewportErr error
	navErr      error
	shotErr     error
	// failNavAt fails the Nth navigation on a page (1-based); zero means
	// navErr applies to every navigation.
	failNavAt int
}

type fakePage struct {
	script    pageScript
	navCount  int
	closed    int
	viewports []models.Viewport
	navigated []string
	fullPage  []bool
}

func (p *fakePage) SetViewport(width, height int) error {
	if p.script.viewportErr != nil {
		return p.script.viewportErr
	}
	p.viewports = append(p.viewports, models.Viewport{Width: width, Height: height})
	return nil
}

func (p *fakePage) Navigate(ctx context.Context, url string) error {
	p.navCount++
	p.navigated = append(p.navigated, url)
	if p.script.failNavAt > 0 {
		if p.navCount == p.script.failNavAt {
			return errors.New("navigation failed")
		}
		return nil
	}
	return p.script.navErr
}

func (p *fakePage) Screenshot(fullPage bool) ([]byte, error) {
	p.fullPage = append(p.fullPage, fullPage)
	if p.script.shotErr != nil {
		return nil, p.script.shotErr
	}
	return []byte("jpeg-bytes"), nil
}

func (p *fakePage) Close() error {
	p.closed++
	return nil
}

type fakeHandle struct {
	connected  bool
	script     pageScript
	newPageErr error
	pages      []*fakePage
	closed     int
}

func (h *fakeHandle) Connected() bool { return h.connected }

func (h *fakeHandle) NewPage(ctx context.Context) (browser.Page, error) {
	if h.newPageErr != nil {
		return nil, h.newPageErr
	}
	p := &fakePage{script: h.script}
	h.pages = append(h.pages, p)
	return p, nil
}

func (h *fakeHandle) ConnectURL() string { return "ws://127.0.0.1:9222/devtools" }

func (h *fakeHandle) Close() error {
	h.closed++
	h.connected = false
	return nil
}

type fakeLauncher struct {
	err      error
	script   pageScript
	launched []*fakeHandle
}

func (l *fakeLauncher) Launch(ctx context.Context) (browser.Handle, error) {
	if l.err != nil {
		return nil, l.err
	}
	h := &fakeHandle{connected: true, script: l.script}
	l.launched = append(l.launched, h)
	return h, nil
}

type fakeStore struct {
	mu   sync.Mutex
	puts map[string][]byte
	err  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{puts: make(map[string][]byte)}
}

func (s *fakeStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.puts[key] = data
	return nil
}

// manualScheduler queues callbacks so tests drive the timer path
// deterministically.
type manualScheduler struct {
	mu      sync.Mutex
	pending []func()
}

func (m *manualScheduler) Schedule(d time.Duration, fn func()) {
	m.mu.Lock()
	m.pending = append(m.pending, fn)
	m.mu.Unlock()
}

func (m *manualScheduler) pendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// fire pops and runs the oldest scheduled callback.
func (m *manualScheduler) fire(t *testing.T) {
	t.Helper()
	m.mu.Lock()
	if len(m.pending) == 0 {
		m.mu.Unlock()
		t.Fatal("no scheduled tick to fire")
	}
	fn := m.pending[0]
	m.pending = m.pending[1:]
	m.mu.Unlock()
	fn()
}

type sessionFixture struct {
	session  *Session
	launcher *fakeLauncher
	store    *fakeStore
	sched    *manualScheduler
}

func newFixture(userID string) *sessionFixture {
	launcher := &fakeLauncher{}
	store := newFakeStore()
	sched := &manualScheduler{}
	s := NewSession(userID, SessionDeps{
		Launcher:  launcher,
		Store:     store,
		Scheduler: sched,
		Config: Config{
			TickPeriod: 10 * time.Second,
			KeepAlive:  60 * time.Second,
		},
		Logger: zerolog.Nop(),
	})
	return &sessionFixture{session: s, launcher: launcher, store: store, sched: sched}
}

func captureReq(url string) models.CaptureRequest {
	return models.CaptureRequest{URL: url, UserID: "user_42"}
}

var defaultKeyPattern = regexp.MustCompile(`^captures/user-dXNlcl80Mg/s[A-Za-z0-9]{6}\.jpg$`)

func TestCaptureColdStartSuccess(t *testing.T) {
	f := newFixture("user_42")

	result, err := f.session.Capture(context.Background(), captureReq("https://example.com"))
	if err != nil {
		t.Fatalf("Capture() error = %v", err)
	}
	if len(result.Keys) != 1 {
		t.Fatalf("got %d keys, want 1", len(result.Keys))
	}
	if !defaultKeyPattern.MatchString(result.Keys[0]) {
		t.Errorf("key %q does not match %v", result.Keys[0], defaultKeyPattern)
	}
	if _, ok := f.store.puts[result.Keys[0]]; !ok {
		t.Errorf("artifact not stored under %q", result.Keys[0])
	}
	if len(f.launcher.launched) != 1 {
		t.Fatalf("launched %d browsers, want 1", len(f.launcher.launched))
	}

	handle := f.launcher.launched[0]
	if len(handle.pages) != 1 {
		t.Fatalf("opened %d pages, want 1", len(handle.pages))
	}
	page := handle.pages[0]
	if page.closed != 1 {
		t.Errorf("page closed %d times, want exactly 1", page.closed)
	}
	if want := (models.Viewport{Width: 1920, Height: 1080}); len(page.viewports) != 1 || page.viewports[0] != want {
		t.Errorf("viewports = %v, want [%v]", page.viewports, want)
	}

	if got := f.session.Info().State; got != models.StateReady {
		t.Errorf("state = %v, want %v", got, models.StateReady)
	}
	if n := f.sched.pendingCount(); n != 1 {
		t.Errorf("pending timers = %d, want 1", n)
	}
}

func TestCaptureInvalidURLRejectedBeforeLaunch(t *testing.T) {
	f := newFixture("user_42")

	_, err := f.session.Capture(context.Background(), captureReq("not-a-url"))
	if KindOf(err) != KindValidation {
		t.Fatalf("error kind = %q, want %q (err=%v)", KindOf(err), KindValidation, err)
	}
	if len(f.launcher.launched) != 0 {
		t.Error("browser launched for invalid input")
	}
	if got := f.session.Info().State; got != models.StateCold {
		t.Errorf("state = %v, want %v", got, models.StateCold)
	}
	if n := f.sched.pendingCount(); n != 0 {
		t.Errorf("pending timers = %d, want 0", n)
	}
}

func TestCaptureMissingUserRejected(t *testing.T) {
	f := newFixture("")

	_, err := f.session.Capture(context.Background(), models.CaptureRequest{URL: "https://example.com"})
	if KindOf(err) != KindValidation {
		t.Fatalf("error kind = %q, want %q", KindOf(err), KindValidation)
	}
	if len(f.launcher.launched) != 0 {
		t.Error("browser launched for missing user identity")
	}
}

func TestCaptureLaunchFailure(t *testing.T) {
	f := newFixture("user_42")
	f.launcher.err = errors.New("no chrome available")

	_, err := f.session.Capture(context.Background(), captureReq("https://example.com"))
	if KindOf(err) != KindLaunch {
		t.Fatalf("error kind = %q, want %q", KindOf(err), KindLaunch)
	}
	if got := f.session.Info().State; got != models.StateCold {
		t.Errorf("state = %v, want %v", got, models.StateCold)
	}

	// No internal retry: the next call attempts a fresh launch.
	f.launcher.err = nil
	if _, err := f.session.Capture(context.Background(), captureReq("https://example.com")); err != nil {
		t.Fatalf("Capture() after launch recovery: %v", err)
	}
	if len(f.launcher.launched) != 1 {
		t.Errorf("launched %d browsers, want 1", len(f.launcher.launched))
	}
}

func TestCapturePageFailureKeepsHandle(t *testing.T) {
	f := newFixture("user_42")
	f.launcher.script.navErr = errors.New("net::ERR_NAME_NOT_RESOLVED")

	_, err := f.session.Capture(context.Background(), captureReq("https://bad.invalid"))
	if KindOf(err) != KindPage {
		t.Fatalf("error kind = %q, want %q", KindOf(err), KindPage)
	}

	handle := f.launcher.launched[0]
	if handle.closed != 0 {
		t.Error("handle torn down after page failure, want it presumed usable")
	}
	if handle.pages[0].closed != 1 {
		t.Errorf("page closed %d times, want exactly 1", handle.pages[0].closed)
	}
	if got := f.session.Info().State; got != models.StateReady {
		t.Errorf("state = %v, want %v", got, models.StateReady)
	}

	// The same handle serves the next request.
	f.launcher.script.navErr = nil
	handle.script.navErr = nil
	if _, err := f.session.Capture(context.Background(), captureReq("https://example.com")); err != nil {
		t.Fatalf("Capture() reusing handle: %v", err)
	}
	if len(f.launcher.launched) != 1 {
		t.Errorf("launched %d browsers, want 1", len(f.launcher.launched))
	}
}

func TestCaptureStoreFailureIsPageError(t *testing.T) {
	f := newFixture("user_42")

	if _, err := f.session.Capture(context.Background(), captureReq("https://example.com")); err != nil {
		t.Fatalf("warm-up capture: %v", err)
	}

	f.store.err = errors.New("disk full")
	_, err := f.session.Capture(context.Background(), captureReq("https://example.com"))
	if KindOf(err) != KindPage {
		t.Fatalf("error kind = %q, want %q", KindOf(err), KindPage)
	}
}

func TestIdleTicksAccumulateAndTearDownOnce(t *testing.T) {
	f := newFixture("user_42")

	if _, err := f.session.Capture(context.Background(), captureReq("https://example.com")); err != nil {
		t.Fatalf("Capture() error = %v", err)
	}
	handle := f.launcher.launched[0]

	// Five ticks accumulate 50s of idle, below the 60s threshold.
	for i := 0; i < 5; i++ {
		f.sched.fire(t)
		if handle.closed != 0 {
			t.Fatalf("handle torn down after tick %d", i+1)
		}
		if n := f.sched.pendingCount(); n != 1 {
			t.Fatalf("pending timers after tick %d = %d, want 1", i+1, n)
		}
	}

	// The sixth tick crosses the threshold: teardown, no reschedule.
	f.sched.fire(t)
	if handle.closed != 1 {
		t.Fatalf("handle closed %d times, want exactly 1", handle.closed)
	}
	if n := f.sched.pendingCount(); n != 0 {
		t.Errorf("pending timers after teardown = %d, want 0", n)
	}
	if got := f.session.Info().State; got != models.StateCold {
		t.Errorf("state = %v, want %v", got, models.StateCold)
	}

	// Ticks on a cold session are no-ops.
	if reschedule, _ := f.session.OnIdleTick(); reschedule {
		t.Error("OnIdleTick() on cold session asked to reschedule")
	}

	// The next capture relaunches from scratch.
	if _, err := f.session.Capture(context.Background(), captureReq("https://example.com")); err != nil {
		t.Fatalf("Capture() after teardown: %v", err)
	}
	if len(f.launcher.launched) != 2 {
		t.Errorf("launched %d browsers, want 2", len(f.launcher.launched))
	}
}

func TestCaptureResetsIdleCounter(t *testing.T) {
	f := newFixture("user_42")

	if _, err := f.session.Capture(context.Background(), captureReq("https://example.com")); err != nil {
		t.Fatalf("Capture() error = %v", err)
	}
	handle := f.launcher.launched[0]

	for i := 0; i < 5; i++ {
		f.sched.fire(t)
	}
	if got := f.session.Info().Idle; got != 50*time.Second {
		t.Fatalf("idle = %v, want 50s", got)
	}

	// A request cancels the accumulated idle credit.
	if _, err := f.session.Capture(context.Background(), captureReq("https://example.com")); err != nil {
		t.Fatalf("Capture() error = %v", err)
	}
	if got := f.session.Info().Idle; got != 0 {
		t.Fatalf("idle after capture = %v, want 0", got)
	}

	// The already-scheduled tick fires harmlessly and starts over.
	f.sched.fire(t)
	if handle.closed != 0 {
		t.Error("handle torn down despite counter reset")
	}
	if got := f.session.Info().Idle; got != 10*time.Second {
		t.Errorf("idle = %v, want 10s", got)
	}
}

func TestAtMostOneTimerPending(t *testing.T) {
	f := newFixture("user_42")

	for i := 0; i < 3; i++ {
		if _, err := f.session.Capture(context.Background(), captureReq("https://example.com")); err != nil {
			t.Fatalf("Capture() error = %v", err)
		}
		if n := f.sched.pendingCount(); n != 1 {
			t.Fatalf("pending timers after capture %d = %d, want 1", i+1, n)
		}
	}

	f.sched.fire(t)
	if n := f.sched.pendingCount(); n != 1 {
		t.Errorf("pending timers after tick = %d, want 1", n)
	}
}

func TestMultiViewportCaptureNamesVariants(t *testing.T) {
	f := newFixture("user_42")

	req := models.CaptureRequest{
		URL:    "https://example.com/pricing",
		UserID: "user_42",
		Viewports: []models.Viewport{
			{Width: 800, Height: 600},
			{Width: 1280, Height: 720},
		},
	}
	result, err := f.session.Capture(context.Background(), req)
	if err != nil {
		t.Fatalf("Capture() error = %v", err)
	}

	want := []string{
		"captures/user-dXNlcl80Mg/example-com-pricing_800x600.jpg",
		"captures/user-dXNlcl80Mg/example-com-pricing_1280x720.jpg",
	}
	if len(result.Keys) != len(want) {
		t.Fatalf("got %d keys, want %d", len(result.Keys), len(want))
	}
	for i, key := range want {
		if result.Keys[i] != key {
			t.Errorf("keys[%d] = %q, want %q", i, result.Keys[i], key)
		}
		if _, ok := f.store.puts[key]; !ok {
			t.Errorf("artifact not stored under %q", key)
		}
	}

	page := f.launcher.launched[0].pages[0]
	if page.closed != 1 {
		t.Errorf("page closed %d times, want exactly 1", page.closed)
	}
}

func TestMultiViewportFailureAbortsRemaining(t *testing.T) {
	f := newFixture("user_42")
	f.launcher.script.failNavAt = 2

	req := models.CaptureRequest{
		URL:    "https://example.com",
		UserID: "user_42",
		Viewports: []models.Viewport{
			{Width: 800, Height: 600},
			{Width: 1280, Height: 720},
			{Width: 1920, Height: 1080},
		},
	}
	_, err := f.session.Capture(context.Background(), req)
	if KindOf(err) != KindPage {
		t.Fatalf("error kind = %q, want %q", KindOf(err), KindPage)
	}

	page := f.launcher.launched[0].pages[0]
	if page.navCount != 2 {
		t.Errorf("navigated %d times, want 2 (remaining viewports aborted)", page.navCount)
	}
	if page.closed != 1 {
		t.Errorf("page closed %d times, want exactly 1", page.closed)
	}
	if len(f.store.puts) != 1 {
		t.Errorf("stored %d artifacts, want 1 (first viewport only)", len(f.store.puts))
	}
}

func TestDisconnectedHandleRelaunches(t *testing.T) {
	f := newFixture("user_42")

	if _, err := f.session.Capture(context.Background(), captureReq("https://example.com")); err != nil {
		t.Fatalf("Capture() error = %v", err)
	}
	first := f.launcher.launched[0]
	first.connected = false

	if _, err := f.session.Capture(context.Background(), captureReq("https://example.com")); err != nil {
		t.Fatalf("Capture() after disconnect: %v", err)
	}
	if len(f.launcher.launched) != 2 {
		t.Fatalf("launched %d browsers, want 2", len(f.launcher.launched))
	}
	if first.closed != 1 {
		t.Errorf("stale handle closed %d times, want 1", first.closed)
	}
}

func TestFullPageFlagReachesScreenshot(t *testing.T) {
	f := newFixture("user_42")

	req := captureReq("https://example.com")
	req.FullPage = true
	if _, err := f.session.Capture(context.Background(), req); err != nil {
		t.Fatalf("Capture() error = %v", err)
	}

	page := f.launcher.launched[0].pages[0]
	if len(page.fullPage) != 1 || !page.fullPage[0] {
		t.Errorf("fullPage flags = %v, want [true]", page.fullPage)
	}
}
