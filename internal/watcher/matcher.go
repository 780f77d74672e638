// Package watcher detects the LinkedIn location-restriction notice on a job
// page and alerts once per logical page view.
//
// A Watcher is fed mutation callbacks and navigation signals by its host (the
// CDP tab pump in production, tests directly). It debounces mutation bursts,
// reads the page through a Document, and re-arms a fresh session whenever the
// single-page app navigates to another job.
package watcher

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/dgnsrekt/restriction_watcher/internal/metrics"
)

const (
	// RestrictionSelector picks out the heading LinkedIn renders with the
	// job's eligibility requirements. It is tied to LinkedIn's markup.
	RestrictionSelector = "h2.fit-content-width.text-body-medium"

	// RestrictionPhrase is matched case-sensitively as a substring.
	RestrictionPhrase = "Your location does not match country requirements"
)

// Document is the read-only view of a page the matcher needs.
type Document interface {
	// QueryText returns the textContent of the first element matching
	// selector. found is false when no element matches.
	QueryText(ctx context.Context, selector string) (text string, found bool, err error)
}

// CheckResult is the outcome of one matcher read.
type CheckResult struct {
	Matched bool
	Found   bool
	Text    string
	Err     error
}

// Label returns the metrics label for the result.
func (r CheckResult) Label() string {
	switch {
	case r.Err != nil:
		return metrics.ResultError
	case !r.Found:
		return metrics.ResultAbsent
	case r.Matched:
		return metrics.ResultMatch
	default:
		return metrics.ResultNoMatch
	}
}

// ContentMatcher decides whether the restriction notice is on the page.
type ContentMatcher struct {
	Selector string
	Phrase   string
}

func NewContentMatcher() ContentMatcher {
	return ContentMatcher{Selector: RestrictionSelector, Phrase: RestrictionPhrase}
}

// Matches reports whether the restriction element exists and its trimmed
// text contains the phrase. A missing element or failed read is "not yet".
func (m ContentMatcher) Matches(ctx context.Context, doc Document) bool {
	return m.Check(ctx, doc).Matched
}

// Check performs the read behind Matches and keeps the details.
func (m ContentMatcher) Check(ctx context.Context, doc Document) CheckResult {
	start := time.Now()
	text, found, err := doc.QueryText(ctx, m.Selector)
	metrics.CheckDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		slog.Debug("restriction element read failed", "selector", m.Selector, "error", err)
		return CheckResult{Err: err}
	}
	if !found {
		return CheckResult{}
	}
	text = strings.TrimSpace(text)
	return CheckResult{
		Found:   true,
		Text:    text,
		Matched: strings.Contains(text, m.Phrase),
	}
}
