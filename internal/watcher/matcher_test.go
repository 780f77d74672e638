package watcher

import (
	"context"
	"errors"
	"testing"

	"github.com/dgnsrekt/restriction_watcher/internal/metrics"
	"github.com/stretchr/testify/assert"
)

func TestContentMatcher(t *testing.T) {
	tests := []struct {
		name  string
		doc   *fakeDocument
		want  bool
		label string
	}{
		{name: "absent", doc: &fakeDocument{}, want: false, label: metrics.ResultAbsent},
		{name: "exact phrase", doc: &fakeDocument{text: RestrictionPhrase, found: true}, want: true, label: metrics.ResultMatch},
		{name: "padded phrase", doc: &fakeDocument{text: "\n\t " + RestrictionPhrase + " \n", found: true}, want: true, label: metrics.ResultMatch},
		{name: "phrase inside longer text", doc: &fakeDocument{text: "Heads up. " + RestrictionPhrase + ". Learn more", found: true}, want: true, label: metrics.ResultMatch},
		{name: "unrelated text", doc: &fakeDocument{text: "Your profile matches this job", found: true}, want: false, label: metrics.ResultNoMatch},
		{name: "case differs", doc: &fakeDocument{text: "your location does not match country requirements", found: true}, want: false, label: metrics.ResultNoMatch},
		{name: "empty element", doc: &fakeDocument{text: "", found: true}, want: false, label: metrics.ResultNoMatch},
		{name: "read error", doc: &fakeDocument{err: errors.New("target closed")}, want: false, label: metrics.ResultError},
	}

	m := NewContentMatcher()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, m.Matches(context.Background(), tt.doc))
			assert.Equal(t, tt.label, m.Check(context.Background(), tt.doc).Label())
		})
	}
}

func TestContentMatcherUsesFixedSelector(t *testing.T) {
	m := NewContentMatcher()
	assert.Equal(t, "h2.fit-content-width.text-body-medium", m.Selector)
	assert.Equal(t, "Your location does not match country requirements", m.Phrase)
}

func TestCheckResultTrimsText(t *testing.T) {
	res := NewContentMatcher().Check(context.Background(), &fakeDocument{text: "  " + RestrictionPhrase + "  ", found: true})
	assert.True(t, res.Found)
	assert.Equal(t, RestrictionPhrase, res.Text)
}
