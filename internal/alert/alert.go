// Package alert fans a detected location restriction out to every configured
// notification sink.
package alert

import (
	"context"
	"log/slog"
	"time"

	"github.com/dgnsrekt/restriction_watcher/internal/metrics"
)

// Message is the fixed text shown to the user when a restriction is detected.
const Message = "Warning: This job has location restrictions that prevent you from applying."

const defaultSinkTimeout = 10 * time.Second

// Alert describes one detection. A watch session produces at most one.
type Alert struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	TargetID  string    `json:"target_id"`
	URL       string    `json:"url"`
	Message   string    `json:"message"`
	Text      string    `json:"text"`
	At        time.Time `json:"at"`
}

// Sink delivers an alert to one destination.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, a Alert) error
}

// SinkFunc adapts a function into a named Sink.
type SinkFunc struct {
	SinkName string
	Fn       func(ctx context.Context, a Alert) error
}

func (s SinkFunc) Name() string { return s.SinkName }

func (s SinkFunc) Deliver(ctx context.Context, a Alert) error { return s.Fn(ctx, a) }

// Dispatcher delivers each alert to all sinks in order. A failing or slow
// sink is logged and counted; it never prevents delivery to the rest.
type Dispatcher struct {
	sinks   []Sink
	timeout time.Duration
}

// NewDispatcher creates a dispatcher. A non-positive timeout uses the default.
func NewDispatcher(timeout time.Duration, sinks ...Sink) *Dispatcher {
	if timeout <= 0 {
		timeout = defaultSinkTimeout
	}
	d := &Dispatcher{timeout: timeout}
	for _, s := range sinks {
		if s != nil {
			d.sinks = append(d.sinks, s)
		}
	}
	return d
}

// With returns a copy of d with extra sinks placed before the shared ones.
// Per-tab sinks (the page dialog) go first so the user sees them soonest.
func (d *Dispatcher) With(sinks ...Sink) *Dispatcher {
	out := &Dispatcher{timeout: d.timeout}
	for _, s := range sinks {
		if s != nil {
			out.sinks = append(out.sinks, s)
		}
	}
	out.sinks = append(out.sinks, d.sinks...)
	return out
}

// SinkNames lists the sinks in delivery order.
func (d *Dispatcher) SinkNames() []string {
	names := make([]string, 0, len(d.sinks))
	for _, s := range d.sinks {
		names = append(names, s.Name())
	}
	return names
}

// Alert delivers a to every sink and returns how many succeeded.
func (d *Dispatcher) Alert(ctx context.Context, a Alert) int {
	if a.Message == "" {
		a.Message = Message
	}
	delivered := 0
	for _, s := range d.sinks {
		sinkCtx, cancel := context.WithTimeout(ctx, d.timeout)
		err := s.Deliver(sinkCtx, a)
		cancel()
		if err != nil {
			metrics.AlertErrors.WithLabelValues(s.Name()).Inc()
			slog.Warn("alert delivery failed", "sink", s.Name(), "alert_id", a.ID, "target_id", a.TargetID, "error", err)
			continue
		}
		metrics.AlertsDelivered.WithLabelValues(s.Name()).Inc()
		delivered++
	}
	slog.Info("alert dispatched", "alert_id", a.ID, "session_id", a.SessionID, "url", a.URL, "delivered", delivered, "sinks", len(d.sinks))
	return delivered
}
