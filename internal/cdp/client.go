// Package cdp attaches restriction watchers to LinkedIn tabs in a running
// Chromium over the DevTools protocol.
package cdp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/dgnsrekt/restriction_watcher/internal/alert"
	"github.com/dgnsrekt/restriction_watcher/internal/config"
	"github.com/dgnsrekt/restriction_watcher/internal/metrics"
	"github.com/dgnsrekt/restriction_watcher/internal/types"
	"github.com/dgnsrekt/restriction_watcher/internal/watcher"
)

// Publisher receives tab lifecycle events.
type Publisher interface {
	PublishJSON(kind string, v any) error
}

// TabEvent is published when a tab is attached or detached.
type TabEvent struct {
	Type string        `json:"type"`
	Tab  types.TabInfo `json:"tab"`
}

// TabView is a watched tab with its watcher state.
type TabView struct {
	Tab   types.TabInfo  `json:"tab"`
	Watch watcher.Status `json:"watch"`
}

// Client manages CDP connections to browser tabs.
type Client struct {
	cfg           *config.Config
	tabRegistry   *TabRegistry
	dispatcher    *alert.Dispatcher
	publisher     Publisher
	raw           *rawCDP
	clock         clock.Clock
	evalTimeout   time.Duration
	attachTimeout time.Duration

	attach func(ctx context.Context, info *target.Info) (*watchedTab, error)

	syncMu sync.Mutex
	tabs   map[target.ID]*watchedTab
	tabsMu sync.RWMutex
}

func NewClient(cfg *config.Config, tabRegistry *TabRegistry, dispatcher *alert.Dispatcher, publisher Publisher) *Client {
	c := &Client{
		cfg:           cfg,
		tabRegistry:   tabRegistry,
		dispatcher:    dispatcher,
		publisher:     publisher,
		raw:           newRawCDP(cfg.GetCDPURL()),
		clock:         clock.New(),
		evalTimeout:   time.Duration(cfg.EvalTimeoutMS) * time.Millisecond,
		attachTimeout: defaultAttachTimeout,
		tabs:          make(map[target.ID]*watchedTab),
	}
	c.attach = c.attachToTab
	return c
}

const defaultAttachTimeout = 10 * time.Second

// Connect checks the browser endpoint, opens the shared CDP connection and
// attaches to every matching tab.
func (c *Client) Connect(ctx context.Context) error {
	cdpURL := c.cfg.GetCDPURL()
	slog.Info("Connecting to Chromium", "url", cdpURL)

	wsURL, err := c.raw.browserWSURL(ctx)
	if err != nil {
		return newError(CodeCDPUnavailable, "browser not reachable at "+cdpURL, err)
	}
	version, err := browserVersion(ctx, wsURL)
	if err != nil {
		return newError(CodeCDPUnavailable, "browser did not answer at "+wsURL, err)
	}
	slog.Info("Browser found", "product", version.Product, "protocol", version.ProtocolVersion)

	if err := c.raw.connect(ctx); err != nil {
		return newError(CodeCDPUnavailable, "failed to connect to "+cdpURL, err)
	}

	if err := c.Sync(ctx); err != nil {
		return err
	}
	if n := c.GetTabCount(); n == 0 {
		slog.Warn("No tabs match filter yet; waiting for tab scan", "tab_url_filter", c.cfg.TabURLFilter)
	} else {
		slog.Info("Attached to tabs", "count", n, "tab_url_filter", c.cfg.TabURLFilter)
	}
	return nil
}

// browserVersion asks the browser for its version over a short-lived chromedp
// connection. It leaves no target behind.
func browserVersion(ctx context.Context, wsURL string) (cdpbrowser.GetVersionReturns, error) {
	versionCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	logf := func(format string, args ...any) { slog.Debug(fmt.Sprintf(format, args...)) }
	b, err := chromedp.NewBrowser(versionCtx, wsURL, chromedp.WithBrowserLogf(logf), chromedp.WithBrowserErrorf(logf))
	if err != nil {
		return cdpbrowser.GetVersionReturns{}, err
	}
	protocol, product, revision, userAgent, jsVersion, err := cdpbrowser.GetVersion().Do(cdp.WithExecutor(versionCtx, b))
	if err != nil {
		return cdpbrowser.GetVersionReturns{}, err
	}
	return cdpbrowser.GetVersionReturns{
		ProtocolVersion: protocol,
		Product:         product,
		Revision:        revision,
		UserAgent:       userAgent,
		JsVersion:       jsVersion,
	}, nil
}

// Run rescans targets every TabScanMS until ctx is done.
func (c *Client) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.TabScanMS) * time.Millisecond
	ticker := c.clock.Ticker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Sync(ctx); err != nil {
				slog.Warn("Tab scan failed", "error", err)
			}
		}
	}
}

// Sync attaches to new matching tabs and drops tabs that have gone away,
// left the filter, or lost their connection. Dropped tabs are detached, not
// closed.
func (c *Client) Sync(ctx context.Context) error {
	c.syncMu.Lock()
	defer c.syncMu.Unlock()

	targets, err := c.raw.listTargets(ctx)
	if err != nil {
		return newError(CodeCDPUnavailable, "failed to list targets", err)
	}
	wanted := filterTargets(targets, c.cfg.TabURLFilter)

	c.tabsMu.Lock()
	var stale []*watchedTab
	for id, tab := range c.tabs {
		if _, ok := wanted[id]; !ok || !tab.alive() {
			stale = append(stale, tab)
			delete(c.tabs, id)
		}
	}
	var added []*target.Info
	for id, info := range wanted {
		if _, ok := c.tabs[id]; ok {
			c.tabRegistry.Register(id, info.URL, info.Title)
			continue
		}
		added = append(added, info)
	}
	c.tabsMu.Unlock()

	for _, tab := range stale {
		tab.stop()
		info, _ := c.tabRegistry.GetByStringID(tab.id)
		c.tabRegistry.Remove(target.ID(tab.id))
		slog.Info("Detached from tab", "target_id", tab.id, "url", truncateURL(info.URL))
		c.publish("detached", info)
	}

	for _, info := range added {
		tab, err := c.attach(ctx, info)
		if err != nil {
			slog.Error("Failed to attach to tab", "target_id", info.TargetID, "url", truncateURL(info.URL), "error", err)
			continue
		}
		c.tabsMu.Lock()
		c.tabs[info.TargetID] = tab
		c.tabsMu.Unlock()
		tabInfo, _ := c.tabRegistry.Get(info.TargetID)
		c.publish("attached", tabInfo)
	}

	metrics.WatchedTabs.Set(float64(c.GetTabCount()))
	return nil
}

func (c *Client) attachToTab(ctx context.Context, info *target.Info) (*watchedTab, error) {
	attachCtx, cancel := context.WithTimeout(ctx, c.attachTimeout)
	defer cancel()

	if err := c.raw.connect(attachCtx); err != nil {
		return nil, err
	}
	targetID := info.TargetID
	session, err := c.raw.attachToTarget(attachCtx, targetID)
	if err != nil {
		return nil, fmt.Errorf("failed to attach: %w", err)
	}

	doc := &tabDocument{targetID: string(targetID), exec: session, evalTimeout: c.evalTimeout}
	var alerter watcher.Alerter = c.dispatcher
	if c.cfg.PageDialog {
		alerter = c.dispatcher.With(&dialogSink{doc: doc})
	}
	w := watcher.New(doc, alerter, watcher.Options{TargetID: string(targetID), Clock: c.clock})
	tab := newWatchedTab(string(targetID), w, session)
	tab.onURL = func(url string) { c.tabRegistry.Register(targetID, url, "") }
	tab.unsubscribe = c.raw.subscribe(session.id, tab.onEvent)
	go tab.pump()

	url, err := installObserver(attachCtx, session, tab)
	if err != nil {
		tab.stop()
		return nil, fmt.Errorf("failed to install observer: %w", err)
	}
	if url == "" {
		url = info.URL
	}

	tabInfo := c.tabRegistry.Register(targetID, url, info.Title)
	slog.Info("Attached to tab", "target_id", targetID, "browser_id", tabInfo.BrowserID, "url", truncateURL(url))

	w.Start(tab.ctx, url)
	return tab, nil
}

// installObserver enables the page events the tab listens for, registers the
// mutation binding and observer script, and returns the main frame URL.
func installObserver(ctx context.Context, exec cdp.Executor, tab *watchedTab) (string, error) {
	ctx = cdp.WithExecutor(ctx, exec)
	if err := page.Enable().Do(ctx); err != nil {
		return "", err
	}
	if err := runtime.Enable().Do(ctx); err != nil {
		return "", err
	}
	if err := runtime.AddBinding(BindingName).Do(ctx); err != nil {
		return "", err
	}
	if _, err := page.AddScriptToEvaluateOnNewDocument(observerScript).Do(ctx); err != nil {
		return "", err
	}
	tree, err := page.GetFrameTree().Do(ctx)
	if err != nil {
		return "", err
	}
	var url string
	if tree != nil && tree.Frame != nil {
		tab.setMainFrame(tree.Frame.ID)
		url = tree.Frame.URL
	}
	_, exc, err := runtime.Evaluate(observerScript).Do(ctx)
	if err != nil {
		return "", err
	}
	if exc != nil {
		return "", exc
	}
	return url, nil
}

func (c *Client) publish(kind string, info types.TabInfo) {
	if c.publisher == nil {
		return
	}
	if err := c.publisher.PublishJSON("tab", TabEvent{Type: kind, Tab: info}); err != nil {
		slog.Warn("Failed to publish tab event", "type", kind, "error", err)
	}
}

// ListTabs returns every watched tab.
func (c *Client) ListTabs(_ context.Context) ([]TabView, error) {
	infos := c.tabRegistry.List()
	out := make([]TabView, 0, len(infos))
	c.tabsMu.RLock()
	defer c.tabsMu.RUnlock()
	for _, info := range infos {
		tab, ok := c.tabs[target.ID(info.TargetID)]
		if !ok {
			continue
		}
		out = append(out, tabView(info, tab))
	}
	return out, nil
}

// GetTab returns one watched tab.
func (c *Client) GetTab(_ context.Context, targetID string) (TabView, error) {
	tab, info, err := c.lookup(targetID)
	if err != nil {
		return TabView{}, err
	}
	return tabView(info, tab), nil
}

// RearmTab starts a fresh watch session on a tab.
func (c *Client) RearmTab(_ context.Context, targetID string) (TabView, error) {
	tab, info, err := c.lookup(targetID)
	if err != nil {
		return TabView{}, err
	}
	if tab.watcher != nil {
		tab.watcher.Rearm()
	}
	slog.Info("Tab re-armed", "target_id", targetID)
	return tabView(info, tab), nil
}

func (c *Client) lookup(targetID string) (*watchedTab, types.TabInfo, error) {
	targetID = strings.TrimSpace(targetID)
	if targetID == "" {
		return nil, types.TabInfo{}, newError(CodeValidation, "target id is required", nil)
	}
	c.tabsMu.RLock()
	tab, ok := c.tabs[target.ID(targetID)]
	c.tabsMu.RUnlock()
	if !ok {
		return nil, types.TabInfo{}, newError(CodeTabNotFound, "tab not watched: "+targetID, nil)
	}
	info, _ := c.tabRegistry.GetByStringID(targetID)
	return tab, info, nil
}

func tabView(info types.TabInfo, tab *watchedTab) TabView {
	v := TabView{Tab: info}
	if tab.watcher != nil {
		v.Watch = tab.watcher.Status()
	}
	return v
}

// Close detaches from every watched tab, leaving the pages open, and closes
// the browser connection.
func (c *Client) Close() error {
	c.tabsMu.Lock()
	tabs := c.tabs
	c.tabs = make(map[target.ID]*watchedTab)
	c.tabsMu.Unlock()

	for _, tab := range tabs {
		tab.stop()
	}
	c.raw.close()
	metrics.WatchedTabs.Set(0)

	slog.Info("CDP client closed")
	return nil
}

func (c *Client) GetTabCount() int {
	c.tabsMu.RLock()
	defer c.tabsMu.RUnlock()
	return len(c.tabs)
}

// filterTargets keeps page targets whose URL contains filter,
// case-insensitively. An empty filter keeps every page.
func filterTargets(targets []*target.Info, filter string) map[target.ID]*target.Info {
	filter = strings.ToLower(strings.TrimSpace(filter))
	out := make(map[target.ID]*target.Info)
	for _, t := range targets {
		if t == nil || t.Type != "page" {
			continue
		}
		if filter != "" && !strings.Contains(strings.ToLower(t.URL), filter) {
			continue
		}
		out[t.TargetID] = t
	}
	return out
}

func truncateURL(url string) string {
	if len(url) > 120 {
		return url[:120] + "..."
	}
	return url
}
