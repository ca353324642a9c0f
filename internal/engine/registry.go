package engine

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/feedpilot/feedpilot/internal/history"
)

var (
	// ErrSessionActive means a session is already running. One browser
	// profile supports one automation session at a time.
	ErrSessionActive = errors.New("a session is already running")
	// ErrSessionNotFound is returned for unknown session ids.
	ErrSessionNotFound = errors.New("session not found")
)

type runningSession struct {
	session *Session
	done    chan struct{}
	err     error
}

// Registry tracks sessions: one active slot plus the statuses of finished
// sessions from this process lifetime.
type Registry struct {
	logger *zap.Logger

	mu       sync.Mutex
	active   *runningSession
	finished map[string]Status
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{logger: logger, finished: make(map[string]Status)}
}

// Start launches the session in the background. Returns ErrSessionActive
// while another session is still running.
func (r *Registry) Start(ctx context.Context, s *Session) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active != nil {
		select {
		case <-r.active.done:
			r.retire(r.active)
		default:
			return "", ErrSessionActive
		}
	}

	run := &runningSession{session: s, done: make(chan struct{})}
	r.active = run
	go func() {
		run.err = s.Run(ctx)
		close(run.done)
		r.mu.Lock()
		if r.active == run {
			r.retire(run)
			r.active = nil
		}
		r.mu.Unlock()
	}()

	r.logger.Info("Session started",
		zap.String("session_id", s.ID()),
		zap.String("platform", s.cfg.Platform.Name()))
	return s.ID(), nil
}

// Stop requests a graceful stop of the session with the given id.
func (r *Registry) Stop(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil || r.active.session.ID() != id {
		return ErrSessionNotFound
	}
	r.active.session.Stop()
	return nil
}

// StopAll stops the active session if any and waits for it to finish.
func (r *Registry) StopAll() {
	r.mu.Lock()
	run := r.active
	r.mu.Unlock()
	if run == nil {
		return
	}
	run.session.Stop()
	<-run.done
}

// Get returns the status of a running or finished session.
func (r *Registry) Get(id string) (Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active != nil && r.active.session.ID() == id {
		return r.active.session.Status(), nil
	}
	if st, ok := r.finished[id]; ok {
		return st, nil
	}
	return Status{}, ErrSessionNotFound
}

// List returns the active session's status followed by finished sessions.
func (r *Registry) List() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Status, 0, len(r.finished)+1)
	if r.active != nil {
		out = append(out, r.active.session.Status())
	}
	for _, st := range r.finished {
		out = append(out, st)
	}
	return out
}

// retire records a finished session's terminal status. Caller holds mu.
func (r *Registry) retire(run *runningSession) {
	st := run.session.Status()
	if st.State == history.StatusRunning {
		// Run never got far enough to set a terminal state.
		st.State = history.StatusError
	}
	r.finished[run.session.ID()] = st
}
