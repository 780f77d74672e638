package cdp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/chromedp/cdproto/target"
	"github.com/dgnsrekt/restriction_watcher/internal/alert"
	"github.com/dgnsrekt/restriction_watcher/internal/config"
	"github.com/dgnsrekt/restriction_watcher/internal/watcher"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

type emptyDocument struct{}

func (emptyDocument) QueryText(context.Context, string) (string, bool, error) {
	return "", false, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []TabEvent
}

func (p *recordingPublisher) PublishJSON(kind string, v any) error {
	if kind != "tab" {
		return errors.New("unexpected kind " + kind)
	}
	p.mu.Lock()
	p.events = append(p.events, v.(TabEvent))
	p.mu.Unlock()
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		CDPAddress:    "127.0.0.1",
		CDPPort:       9220,
		TabURLFilter:  "linkedin.com/jobs",
		TabScanMS:     2000,
		EvalTimeoutMS: 1000,
	}
}

// targetList serves /json/list from the current value of *entries.
func targetList(t *testing.T, mu *sync.Mutex, entries *[]map[string]string) *http.Client {
	t.Helper()
	return &http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
		if req.URL.Path != "/json/list" {
			return &http.Response{StatusCode: http.StatusNotFound, Body: io.NopCloser(strings.NewReader(``))}, nil
		}
		mu.Lock()
		body, err := json.Marshal(*entries)
		mu.Unlock()
		if err != nil {
			t.Fatalf("marshal targets: %v", err)
		}
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader(string(body)))}, nil
	})}
}

// newTestClient builds a client whose attach creates a watcher over an
// empty document instead of a CDP session.
func newTestClient(t *testing.T, httpClient *http.Client) (*Client, *recordingPublisher) {
	t.Helper()
	pub := &recordingPublisher{}
	c := NewClient(testConfig(), NewTabRegistry(), alert.NewDispatcher(time.Second), pub)
	c.raw.httpClient = httpClient
	c.clock = clock.NewMock()
	c.attach = func(_ context.Context, info *target.Info) (*watchedTab, error) {
		w := watcher.New(emptyDocument{}, c.dispatcher, watcher.Options{TargetID: string(info.TargetID), Clock: c.clock})
		tab := newWatchedTab(string(info.TargetID), w, nil)
		c.tabRegistry.Register(info.TargetID, info.URL, info.Title)
		go tab.pump()
		w.Start(tab.ctx, info.URL)
		return tab, nil
	}
	t.Cleanup(func() { _ = c.Close() })
	return c, pub
}

func TestSyncAttachesAndDetachesTabs(t *testing.T) {
	var mu sync.Mutex
	entries := []map[string]string{
		{"id": "AAAA1111-target", "type": "page", "url": "https://www.linkedin.com/jobs/view/1/", "title": "Job 1"},
		{"id": "BBBB2222-target", "type": "page", "url": "https://www.linkedin.com/feed/"},
		{"id": "CCCC3333-target", "type": "service_worker", "url": "https://www.linkedin.com/jobs/sw.js"},
	}
	c, pub := newTestClient(t, targetList(t, &mu, &entries))

	require.NoError(t, c.Sync(context.Background()))
	assert.Equal(t, 1, c.GetTabCount())

	view, err := c.GetTab(context.Background(), "AAAA1111-target")
	require.NoError(t, err)
	assert.Equal(t, "AAAA1111", view.Tab.BrowserID)
	assert.Equal(t, "Job 1", view.Tab.Title)
	assert.Equal(t, watcher.StateArmed, view.Watch.State)

	mu.Lock()
	entries = []map[string]string{
		{"id": "DDDD4444-target", "type": "page", "url": "https://www.LinkedIn.com/JOBS/search/"},
	}
	mu.Unlock()

	require.NoError(t, c.Sync(context.Background()))
	tabs, err := c.ListTabs(context.Background())
	require.NoError(t, err)
	require.Len(t, tabs, 1)
	assert.Equal(t, "DDDD4444-target", tabs[0].Tab.TargetID)
	assert.Equal(t, 1, c.tabRegistry.Count())

	pub.mu.Lock()
	defer pub.mu.Unlock()
	var got []string
	for _, e := range pub.events {
		got = append(got, e.Type+":"+e.Tab.TargetID)
	}
	assert.Equal(t, []string{"attached:AAAA1111-target", "detached:AAAA1111-target", "attached:DDDD4444-target"}, got)
}

func TestSyncWrapsListTargetsError(t *testing.T) {
	c, _ := newTestClient(t, &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: http.StatusInternalServerError, Body: io.NopCloser(strings.NewReader(`oops`))}, nil
	})})

	err := c.Sync(context.Background())
	require.Error(t, err)
	var coded *CodedError
	require.True(t, errors.As(err, &coded))
	assert.Equal(t, CodeCDPUnavailable, coded.Code)
	assert.Contains(t, coded.Message, "failed to list targets")
}

func TestSyncSkipsFailedAttach(t *testing.T) {
	var mu sync.Mutex
	entries := []map[string]string{
		{"id": "AAAA1111-target", "type": "page", "url": "https://www.linkedin.com/jobs/view/1/"},
	}
	c, pub := newTestClient(t, targetList(t, &mu, &entries))
	c.attach = func(context.Context, *target.Info) (*watchedTab, error) { return nil, errors.New("attach refused") }

	require.NoError(t, c.Sync(context.Background()))
	assert.Equal(t, 0, c.GetTabCount())
	assert.Empty(t, pub.events)
}

func TestRearmTabStartsManualSession(t *testing.T) {
	var mu sync.Mutex
	entries := []map[string]string{
		{"id": "AAAA1111-target", "type": "page", "url": "https://www.linkedin.com/jobs/view/1/"},
	}
	c, _ := newTestClient(t, targetList(t, &mu, &entries))
	require.NoError(t, c.Sync(context.Background()))

	view, err := c.RearmTab(context.Background(), " AAAA1111-target ")
	require.NoError(t, err)
	require.NotNil(t, view.Watch.Session)
	assert.Equal(t, watcher.ReasonManual, view.Watch.Session.Reason)
	assert.Equal(t, 2, view.Watch.Sessions)
}

func TestLookupErrors(t *testing.T) {
	c, _ := newTestClient(t, http.DefaultClient)

	_, err := c.GetTab(context.Background(), "  ")
	var coded *CodedError
	require.True(t, errors.As(err, &coded))
	assert.Equal(t, CodeValidation, coded.Code)

	_, err = c.RearmTab(context.Background(), "missing")
	require.True(t, errors.As(err, &coded))
	assert.Equal(t, CodeTabNotFound, coded.Code)
}

func TestFilterTargets(t *testing.T) {
	targets := []*target.Info{
		{TargetID: "a", Type: "page", URL: "https://www.linkedin.com/jobs/view/1/"},
		{TargetID: "b", Type: "page", URL: "https://example.com/"},
		{TargetID: "c", Type: "iframe", URL: "https://www.linkedin.com/jobs/embed"},
		nil,
	}
	got := filterTargets(targets, " LinkedIn.com/Jobs ")
	assert.Len(t, got, 1)
	assert.Contains(t, got, target.ID("a"))

	assert.Len(t, filterTargets(targets, ""), 2)
}

func TestTabRegistryKeepsAttachTime(t *testing.T) {
	r := NewTabRegistry()
	first := r.Register("A1", "https://www.linkedin.com/jobs/view/1/", "One")
	second := r.Register("A1", "https://www.linkedin.com/jobs/view/2/", "")
	assert.Equal(t, first.AttachedAt, second.AttachedAt)
	assert.Equal(t, "https://www.linkedin.com/jobs/view/2/", second.URL)
	assert.Equal(t, "One", second.Title)

	r.Register("B1", "u", "")
	assert.Equal(t, 2, r.Count())
	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, "A1", list[0].TargetID)

	r.Remove("A1")
	_, ok := r.GetByStringID("A1")
	assert.False(t, ok)
}

func TestTruncateURL(t *testing.T) {
	long := "https://www.linkedin.com/jobs/view/" + strings.Repeat("x", 200)
	got := truncateURL(long)
	assert.Len(t, got, 123)
	assert.True(t, strings.HasSuffix(got, "..."))
	assert.Equal(t, "short", truncateURL("short"))
}
