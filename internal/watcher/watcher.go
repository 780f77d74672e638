package watcher

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dgnsrekt/restriction_watcher/internal/alert"
	"github.com/dgnsrekt/restriction_watcher/internal/metrics"
	"github.com/google/uuid"
)

// Alerter receives a detection. It returns the number of sinks that took it.
type Alerter interface {
	Alert(ctx context.Context, a alert.Alert) int
}

// Options tune a Watcher. Zero values select the production defaults.
type Options struct {
	TargetID string
	Matcher  ContentMatcher
	Clock    clock.Clock
	Delay    time.Duration
}

// Status is a point-in-time copy of a watcher.
type Status struct {
	TargetID string         `json:"target_id"`
	LastURL  string         `json:"last_url"`
	State    State          `json:"state"`
	Sessions int            `json:"sessions"`
	Alerts   int            `json:"alerts"`
	Session  *SessionStatus `json:"session,omitempty"`
}

// Watcher watches one tab. All state changes happen under mu, so mutation
// callbacks, navigation signals and fired checks are handled one at a time
// in arrival order.
type Watcher struct {
	doc      Document
	alerter  Alerter
	matcher  ContentMatcher
	clock    clock.Clock
	delay    time.Duration
	targetID string

	mu       sync.Mutex
	ctx      context.Context
	started  bool
	stopped  bool
	lastURL  string
	session  *session
	sessions int
	alerts   int
}

func New(doc Document, alerter Alerter, opts Options) *Watcher {
	w := &Watcher{
		doc:      doc,
		alerter:  alerter,
		matcher:  opts.Matcher,
		clock:    opts.Clock,
		delay:    opts.Delay,
		targetID: opts.TargetID,
		ctx:      context.Background(),
	}
	if w.matcher.Selector == "" {
		w.matcher = NewContentMatcher()
	}
	if w.clock == nil {
		w.clock = clock.New()
	}
	if w.delay <= 0 {
		w.delay = DebounceDelay
	}
	return w
}

// Start records the initial URL and arms the first session. ctx bounds every
// page read and alert made by the watcher.
func (w *Watcher) Start(ctx context.Context, url string) {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.ctx = ctx
	w.lastURL = url
	a := w.armLocked(ReasonInitial)
	w.mu.Unlock()
	w.dispatch(ctx, a)
}

// HandleMutation is called once per mutation callback with the page URL at
// callback time. A changed URL is treated as SPA navigation.
func (w *Watcher) HandleMutation(url string) {
	w.mu.Lock()
	if !w.activeLocked() {
		w.mu.Unlock()
		return
	}
	metrics.MutationCallbacks.Inc()

	var a *alert.Alert
	if url != "" && url != w.lastURL {
		slog.Info("navigation detected on mutation", "target_id", w.targetID, "from", w.lastURL, "to", url)
		w.lastURL = url
		a = w.armLocked(ReasonNavigation)
	} else if s := w.session; s != nil && s.connected {
		s.mutations++
		w.scheduleLocked(s)
	}
	ctx := w.ctx
	w.mu.Unlock()
	w.dispatch(ctx, a)
}

// HandleNavigation handles a native same-document navigation signal.
func (w *Watcher) HandleNavigation(url string) {
	w.mu.Lock()
	if !w.activeLocked() || url == "" || url == w.lastURL {
		w.mu.Unlock()
		return
	}
	slog.Info("navigation detected", "target_id", w.targetID, "from", w.lastURL, "to", url)
	w.lastURL = url
	a := w.armLocked(ReasonNavigation)
	ctx := w.ctx
	w.mu.Unlock()
	w.dispatch(ctx, a)
}

// HandleReload re-arms after a full document load, even for the same URL.
func (w *Watcher) HandleReload(url string) {
	w.mu.Lock()
	if !w.activeLocked() {
		w.mu.Unlock()
		return
	}
	if url != "" {
		w.lastURL = url
	}
	a := w.armLocked(ReasonReload)
	ctx := w.ctx
	w.mu.Unlock()
	w.dispatch(ctx, a)
}

// Rearm starts a fresh session for the current URL.
func (w *Watcher) Rearm() {
	w.mu.Lock()
	if !w.activeLocked() {
		w.mu.Unlock()
		return
	}
	a := w.armLocked(ReasonManual)
	ctx := w.ctx
	w.mu.Unlock()
	w.dispatch(ctx, a)
}

// Stop disconnects the current session. Later events are ignored.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = true
	if w.session != nil {
		w.session.disconnect()
	}
}

func (w *Watcher) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	st := Status{
		TargetID: w.targetID,
		LastURL:  w.lastURL,
		State:    StateIdle,
		Sessions: w.sessions,
		Alerts:   w.alerts,
	}
	if w.session != nil {
		ss := w.session.status()
		st.Session = &ss
		st.State = ss.State
	}
	return st
}

func (w *Watcher) activeLocked() bool {
	return w.started && !w.stopped
}

// armLocked replaces the current session and runs the immediate check.
func (w *Watcher) armLocked(reason Reason) *alert.Alert {
	if w.session != nil {
		w.session.disconnect()
	}
	s := &session{
		id:        uuid.NewString(),
		reason:    reason,
		url:       w.lastURL,
		armedAt:   w.clock.Now(),
		connected: true,
	}
	w.session = s
	w.sessions++
	metrics.SessionsArmed.WithLabelValues(string(reason)).Inc()
	slog.Info("watch session armed", "target_id", w.targetID, "session_id", s.id, "reason", reason, "url", s.url)
	return w.checkLocked(s)
}

// scheduleLocked replaces the pending check with one after the delay.
func (w *Watcher) scheduleLocked(s *session) {
	s.cancelPending()
	seq := s.seq
	s.pending = w.clock.AfterFunc(w.delay, func() { w.fire(s, seq) })
}

func (w *Watcher) fire(s *session, seq uint64) {
	w.mu.Lock()
	var a *alert.Alert
	if s == w.session && s.connected && s.seq == seq {
		s.pending = nil
		a = w.checkLocked(s)
	}
	ctx := w.ctx
	w.mu.Unlock()
	w.dispatch(ctx, a)
}

// checkLocked reads the page once. On a match it marks the session alerted,
// disconnects it and returns the alert for dispatch outside the lock.
func (w *Watcher) checkLocked(s *session) *alert.Alert {
	if s.alerted {
		return nil
	}
	s.checks++
	res := w.matcher.Check(w.ctx, w.doc)
	metrics.ChecksTotal.WithLabelValues(res.Label()).Inc()
	slog.Debug("restriction check", "target_id", w.targetID, "session_id", s.id, "result", res.Label())
	if !res.Matched {
		return nil
	}

	s.alerted = true
	s.alertedAt = w.clock.Now()
	s.disconnect()
	w.alerts++
	slog.Info("location restriction detected", "target_id", w.targetID, "session_id", s.id, "url", s.url)
	return &alert.Alert{
		ID:        uuid.NewString(),
		SessionID: s.id,
		TargetID:  w.targetID,
		URL:       s.url,
		Message:   alert.Message,
		Text:      res.Text,
		At:        s.alertedAt,
	}
}

func (w *Watcher) dispatch(ctx context.Context, a *alert.Alert) {
	if a == nil || w.alerter == nil {
		return
	}
	w.alerter.Alert(ctx, *a)
}
