package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/analytics"
	"github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/catalog"
	"github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/domain/app"
	"github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/hardware"
	"github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/infrastructure/config"
	"github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/infrastructure/logging"
	"github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/infrastructure/monitoring"
	"github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/protocol"
	"github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/userdata"
)

// ErrRegistryClosed is returned by CreateOrResume after Teardown.
var ErrRegistryClosed = errors.New("session registry is shut down")

// Deps carries the shared collaborators every session is built with.
type Deps struct {
	Catalog   catalog.Store
	Users     userdata.Store
	Webhooks  app.WebhookSender
	Analytics analytics.Tracker
}

// Registry holds the live sessions, at most one per user. It is the
// only way sessions come to exist and the authority on which session
// is current for a user.
type Registry struct {
	cfg     *config.Config
	deps    Deps
	base    *logging.Logger
	log     *logging.Logger
	metrics *monitoring.Metrics

	mu       sync.Mutex
	sessions map[string]*Session
	byID     map[string]*Session
	closed   bool
}

// NewRegistry builds an empty registry. A nil Analytics falls back to
// the no-op tracker.
func NewRegistry(cfg *config.Config, deps Deps, log *logging.Logger, metrics *monitoring.Metrics) *Registry {
	if deps.Analytics == nil {
		deps.Analytics = analytics.Noop{}
	}
	return &Registry{
		cfg:      cfg,
		deps:     deps,
		base:     log,
		log:      log.Named("registry"),
		metrics:  metrics,
		sessions: make(map[string]*Session),
		byID:     make(map[string]*Session),
	}
}

// CreateOrResume binds a freshly authenticated device connection to
// the user's session, creating one if none is live. The second result
// reports whether an existing session was resumed. A session caught
// mid-disposal is discarded and replaced.
func (r *Registry) CreateOrResume(ctx context.Context, userID string, conn protocol.Conn, deviceModel string, caps *hardware.Capabilities) (*Session, bool, error) {
	for {
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return nil, false, ErrRegistryClosed
		}
		cur := r.sessions[userID]
		if cur == nil {
			s := newSession(r.cfg, userID, r.deps, r.removeEntry, r.base, r.metrics)
			r.sessions[userID] = s
			r.byID[s.ID().String()] = s
			active := len(r.sessions)
			r.mu.Unlock()

			if !s.Attach(conn, deviceModel, caps) {
				// Teardown won the race; the loop will report it.
				continue
			}
			r.metrics.IncSessionsTotal()
			r.metrics.SetSessionsActive(active)
			r.deps.Analytics.Track("session_started", userID, map[string]any{
				"sessionId": s.ID().String(),
			})
			r.log.Info("session created",
				logging.User(userID),
				logging.Session(s.ID().String()))
			return s, false, nil
		}
		r.mu.Unlock()

		if cur.Attach(conn, deviceModel, caps) {
			r.metrics.IncSessionsResumed()
			r.log.Info("session resumed",
				logging.User(userID),
				logging.Session(cur.ID().String()))
			return cur, true, nil
		}
		// cur refused the attach because it is disposing. Its release
		// callback may not have fired yet, so clear the entry ourselves
		// and try again with a clean slate.
		r.removeEntry(cur)
	}
}

// removeEntry drops a session from the maps if it is still the current
// entry for its user. Passed to sessions as their release callback.
func (r *Registry) removeEntry(s *Session) {
	r.mu.Lock()
	if r.sessions[s.userID] == s {
		delete(r.sessions, s.userID)
	}
	delete(r.byID, s.ID().String())
	active := len(r.sessions)
	r.mu.Unlock()
	r.metrics.SetSessionsActive(active)
}

// Get returns the live session for a user, if any.
func (r *Registry) Get(userID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[userID]
	return s, ok
}

// GetBySessionID resolves a session by the id handed out in webhooks
// and connection acks. App connections identify themselves this way.
func (r *Registry) GetBySessionID(sessionID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[sessionID]
	return s, ok
}

// List returns the live sessions ordered by user id.
func (r *Registry) List() []*Session {
	r.mu.Lock()
	list := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		list = append(list, s)
	}
	r.mu.Unlock()
	sort.Slice(list, func(i, j int) bool { return list[i].userID < list[j].userID })
	return list
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Teardown disposes every session and refuses new ones. Used on
// server shutdown.
func (r *Registry) Teardown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	list := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		list = append(list, s)
	}
	r.mu.Unlock()
	sort.Slice(list, func(i, j int) bool { return list[i].userID < list[j].userID })

	var errs error
	for _, s := range list {
		if err := s.Dispose(ctx, app.StopReasonShutdown); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("dispose session for %s: %w", s.UserID(), err))
		}
	}
	r.log.Info("registry torn down", zap.Int("sessions", len(list)))
	return errs
}
