package capture

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/snapstash/snapstash/internal/browser"
	"github.com/snapstash/snapstash/internal/storage"
	"github.com/snapstash/snapstash/pkg/models"
)

// RegistryConfig bounds the registry and configures its sessions.
type RegistryConfig struct {
	Session Config
	// MaxBrowsers caps live browser handles across all sessions.
	// Zero means 4.
	MaxBrowsers int64
}

// Registry partitions capture sessions by user. Each user gets one
// session actor; distinct sessions run fully independently while a
// shared semaphore bounds the number of live browsers.
type Registry struct {
	launcher browser.Launcher
	store    storage.Store
	recorder Recorder
	sched    Scheduler
	cfg      RegistryConfig
	slots    *semaphore.Weighted
	log      zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewRegistry(launcher browser.Launcher, store storage.Store, recorder Recorder, cfg RegistryConfig, log zerolog.Logger) *Registry {
	if cfg.MaxBrowsers <= 0 {
		cfg.MaxBrowsers = 4
	}
	return &Registry{
		launcher: launcher,
		store:    store,
		recorder: recorder,
		sched:    TimerScheduler{},
		cfg:      cfg,
		slots:    semaphore.NewWeighted(cfg.MaxBrowsers),
		log:      log,
		sessions: make(map[string]*Session),
	}
}

// Session returns the session owned by userID, creating it on first use.
func (r *Registry) Session(userID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[userID]; ok {
		return s
	}
	s := NewSession(userID, SessionDeps{
		Launcher:  r.launcher,
		Store:     r.store,
		Recorder:  r.recorder,
		Scheduler: r.sched,
		Slots:     r.slots,
		Config:    r.cfg.Session,
		Logger:    r.log,
	})
	r.sessions[userID] = s
	return s
}

// Capture routes the request to its user's session.
func (r *Registry) Capture(ctx context.Context, req models.CaptureRequest) (*models.CaptureResult, error) {
	if req.UserID == "" {
		return nil, newError(KindValidation, "missing user identity", nil)
	}
	return r.Session(req.UserID).Capture(ctx, req)
}

// SessionInfo reports the state of the user's session without creating one.
func (r *Registry) SessionInfo(userID string) models.SessionInfo {
	r.mu.Lock()
	s, ok := r.sessions[userID]
	r.mu.Unlock()

	if !ok {
		return models.SessionInfo{UserID: userID, State: models.StateCold}
	}
	return s.Info()
}

// Close tears down every live session. Used on process shutdown.
func (r *Registry) Close() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}
