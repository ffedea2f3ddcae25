package capture

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/snapstash/snapstash/internal/browser"
	"github.com/snapstash/snapstash/internal/storage"
	"github.com/snapstash/snapstash/pkg/models"
)

// Scheduler schedules a single future invocation of fn. The session uses
// it for idle ticks; tests substitute a manual implementation so the
// timer path runs without real time.
type Scheduler interface {
	Schedule(d time.Duration, fn func())
}

// TimerScheduler schedules on the runtime timer heap.
type TimerScheduler struct{}

func (TimerScheduler) Schedule(d time.Duration, fn func()) {
	time.AfterFunc(d, fn)
}

// Recorder indexes stored artifacts. Indexing is best-effort: a recorder
// failure never fails the capture that produced the artifact.
type Recorder interface {
	Record(ctx context.Context, rec models.CaptureRecord) error
}

// Config holds the session lifecycle constants.
type Config struct {
	// TickPeriod is the fixed idle-check interval.
	TickPeriod time.Duration
	// KeepAlive is the accumulated idle duration after which the browser
	// handle is torn down.
	KeepAlive time.Duration
	// DefaultViewport is used when a request names no viewport.
	DefaultViewport models.Viewport
	// NavigationTimeout bounds one navigation plus load wait.
	NavigationTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.TickPeriod <= 0 {
		c.TickPeriod = 10 * time.Second
	}
	if c.KeepAlive <= 0 {
		c.KeepAlive = 60 * time.Second
	}
	if c.DefaultViewport.Width <= 0 || c.DefaultViewport.Height <= 0 {
		c.DefaultViewport = models.DefaultViewport
	}
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = 30 * time.Second
	}
	return c
}

// SessionDeps are the collaborators of one session.
type SessionDeps struct {
	Launcher  browser.Launcher
	Store     storage.Store
	Recorder  Recorder            // optional
	Scheduler Scheduler           // defaults to TimerScheduler
	Slots     *semaphore.Weighted // optional global live-browser slots
	Config    Config
	Logger    zerolog.Logger
}

// Session owns at most one live browser handle and serializes all capture
// operations against it. The mutex is the single-writer discipline: a
// capture request arriving while another is in flight queues behind it,
// and the idle-counter reset and the teardown decision are atomic with
// respect to each other.
type Session struct {
	userID   string
	launcher browser.Launcher
	store    storage.Store
	recorder Recorder
	sched    Scheduler
	slots    *semaphore.Weighted
	cfg      Config
	log      zerolog.Logger

	mu          sync.Mutex
	handle      browser.Handle // nil while cold
	state       models.SessionState
	idle        time.Duration // accumulated since last use
	tickPending bool          // at most one idle tick is ever scheduled
}

func NewSession(userID string, deps SessionDeps) *Session {
	sched := deps.Scheduler
	if sched == nil {
		sched = TimerScheduler{}
	}
	return &Session{
		userID:   userID,
		launcher: deps.Launcher,
		store:    deps.Store,
		recorder: deps.Recorder,
		sched:    sched,
		slots:    deps.Slots,
		cfg:      deps.Config.withDefaults(),
		log:      deps.Logger.With().Str("userId", userID).Logger(),
		state:    models.StateCold,
	}
}

// Capture renders the target URL and persists one JPEG per requested
// viewport (the default viewport when none is given), returning the
// storage keys. Input defects are rejected before any browser
// interaction; launch and page failures are classified and never retried
// here.
func (s *Session) Capture(ctx context.Context, req models.CaptureRequest) (*models.CaptureResult, error) {
	target, err := validateRequest(req)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureHandleLocked(ctx); err != nil {
		return nil, err
	}

	// A live request cancels any accumulated idle credit. An
	// already-scheduled tick will fire harmlessly and re-observe zero.
	s.idle = 0

	s.state = models.StateCapturing
	keys, err := s.captureLocked(ctx, target, req)
	s.state = models.StateReady
	s.idle = 0
	s.ensureIdleTimerLocked()

	if err != nil {
		return nil, err
	}
	return &models.CaptureResult{Keys: keys}, nil
}

// OnIdleTick ages the session by one tick period and reports whether the
// scheduling substrate should arm another tick. At the keep-alive
// threshold the handle is torn down best-effort and no tick is
// rescheduled; the next capture relaunches from scratch.
func (s *Session) OnIdleTick() (reschedule bool, delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tickPending = false
	if s.handle == nil {
		return false, 0
	}

	s.idle += s.cfg.TickPeriod
	if s.idle < s.cfg.KeepAlive {
		return true, s.cfg.TickPeriod
	}

	s.log.Info().
		Dur("idle", s.idle).
		Msg("keep-alive threshold reached, tearing down browser")
	s.teardownLocked()
	return false, 0
}

// Info returns an observability snapshot of the session.
func (s *Session) Info() models.SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := models.SessionInfo{
		UserID:   s.userID,
		State:    s.state,
		Idle:     s.idle,
		IdleSecs: s.idle.Seconds(),
	}
	if s.handle != nil {
		info.ConnectURL = s.handle.ConnectURL()
	}
	return info
}

// Close tears down the handle, if any. Used on process shutdown.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle != nil {
		s.teardownLocked()
	}
}

func validateRequest(req models.CaptureRequest) (*url.URL, error) {
	if req.UserID == "" {
		return nil, newError(KindValidation, "missing user identity", nil)
	}
	target, err := url.ParseRequestURI(req.URL)
	if err != nil || !target.IsAbs() || target.Host == "" {
		return nil, newError(KindValidation, "invalid url", err)
	}
	for _, vp := range req.Viewports {
		if vp.Width <= 0 || vp.Height <= 0 {
			return nil, newError(KindValidation, "invalid viewport dimensions", nil)
		}
	}
	return target, nil
}

// ensureHandleLocked guarantees a usable browser handle, relaunching when
// the handle is absent or reports itself disconnected. Caller holds mu.
func (s *Session) ensureHandleLocked(ctx context.Context) error {
	if s.handle != nil {
		if s.handle.Connected() {
			return nil
		}
		s.log.Warn().Msg("browser handle disconnected, relaunching")
		s.releaseHandleLocked()
	}

	s.state = models.StateLaunching

	if s.slots != nil && !s.slots.TryAcquire(1) {
		s.state = models.StateCold
		return newError(KindLaunch, "browser capacity reached", nil)
	}

	handle, err := s.launcher.Launch(ctx)
	if err != nil {
		if s.slots != nil {
			s.slots.Release(1)
		}
		s.state = models.StateCold
		return newError(KindLaunch, "launch browser", err)
	}

	s.handle = handle
	s.state = models.StateReady
	s.log.Info().Msg("browser launched")
	return nil
}

// captureLocked runs the per-capture page lifecycle: one fresh page,
// closed exactly once on both success and failure. Caller holds mu.
func (s *Session) captureLocked(ctx context.Context, target *url.URL, req models.CaptureRequest) ([]string, error) {
	page, err := s.handle.NewPage(ctx)
	if err != nil {
		return nil, newError(KindPage, "open page", err)
	}
	defer func() {
		if cerr := page.Close(); cerr != nil {
			s.log.Warn().Err(cerr).Msg("failed to close page")
		}
	}()

	viewports := req.Viewports
	variantNaming := len(viewports) > 0
	if !variantNaming {
		viewports = []models.Viewport{s.cfg.DefaultViewport}
	}

	keys := make([]string, 0, len(viewports))
	for _, vp := range viewports {
		var key string
		if variantNaming {
			key = VariantKey(req.UserID, target, vp)
		} else {
			key = ObjectKey(req.UserID, NewCaptureID())
		}

		if err := s.captureVariant(ctx, page, target.String(), vp, req.FullPage, key); err != nil {
			return nil, err
		}
		keys = append(keys, key)

		s.recordArtifact(ctx, req, key, vp)
	}
	return keys, nil
}

func (s *Session) captureVariant(ctx context.Context, page browser.Page, targetURL string, vp models.Viewport, fullPage bool, key string) error {
	if err := page.SetViewport(vp.Width, vp.Height); err != nil {
		return newError(KindPage, "set viewport", err)
	}

	navCtx, cancel := context.WithTimeout(ctx, s.cfg.NavigationTimeout)
	defer cancel()
	if err := page.Navigate(navCtx, targetURL); err != nil {
		return newError(KindPage, "navigate", err)
	}

	img, err := page.Screenshot(fullPage)
	if err != nil {
		return newError(KindPage, "capture screenshot", err)
	}

	if err := s.store.Put(ctx, key, img, "image/jpeg"); err != nil {
		return newError(KindPage, "store artifact", err)
	}

	s.log.Info().
		Str("key", key).
		Str("url", targetURL).
		Int("width", vp.Width).
		Int("height", vp.Height).
		Msg("artifact stored")
	return nil
}

func (s *Session) recordArtifact(ctx context.Context, req models.CaptureRequest, key string, vp models.Viewport) {
	if s.recorder == nil {
		return
	}
	rec := models.CaptureRecord{
		UserID:    req.UserID,
		ObjectKey: key,
		TargetURL: req.URL,
		Width:     vp.Width,
		Height:    vp.Height,
		FullPage:  req.FullPage,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.recorder.Record(ctx, rec); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("failed to index capture")
	}
}

// ensureIdleTimerLocked arms the idle check if a handle exists and no
// tick is already pending. Caller holds mu.
func (s *Session) ensureIdleTimerLocked() {
	if s.handle == nil || s.tickPending {
		return
	}
	s.tickPending = true
	s.sched.Schedule(s.cfg.TickPeriod, s.runIdleTick)
}

// runIdleTick is the scheduler callback: it delivers the tick and re-arms
// when the session asks for another one.
func (s *Session) runIdleTick() {
	reschedule, delay := s.OnIdleTick()
	if !reschedule {
		return
	}
	s.mu.Lock()
	if !s.tickPending && s.handle != nil {
		s.tickPending = true
		s.sched.Schedule(delay, s.runIdleTick)
	}
	s.mu.Unlock()
}

// teardownLocked discards the handle best-effort. Caller holds mu.
func (s *Session) teardownLocked() {
	s.state = models.StateClosing
	s.releaseHandleLocked()
	s.idle = 0
	s.state = models.StateCold
}

func (s *Session) releaseHandleLocked() {
	if s.handle == nil {
		return
	}
	if err := s.handle.Close(); err != nil {
		// The handle is being discarded regardless; never escalate.
		s.log.Warn().Err(err).Msg("browser teardown failed")
	}
	s.handle = nil
	if s.slots != nil {
		s.slots.Release(1)
	}
}
