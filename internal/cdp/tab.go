package cdp

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/dgnsrekt/restriction_watcher/internal/metrics"
	"github.com/dgnsrekt/restriction_watcher/internal/watcher"
)

const (
	tabEventBufSize = 256
	detachTimeout   = 2 * time.Second
)

type eventKind int

const (
	eventMutation eventKind = iota
	eventNavigation
	eventReload
)

func (k eventKind) String() string {
	switch k {
	case eventMutation:
		return "mutation"
	case eventNavigation:
		return "navigation"
	case eventReload:
		return "reload"
	}
	return "unknown"
}

type tabEvent struct {
	kind eventKind
	url  string
}

// tabHandler is the part of a watcher the event pump drives.
type tabHandler interface {
	HandleMutation(url string)
	HandleNavigation(url string)
	HandleReload(url string)
}

// watchedTab owns the CDP session and watcher of one page target.
// Session events arrive on the connection's read loop, which must not block,
// so they are queued and applied to the watcher by a single pump goroutine.
type watchedTab struct {
	id          string
	ctx         context.Context
	cancel      context.CancelFunc
	watcher     *watcher.Watcher
	handler     tabHandler
	session     *rawSession
	unsubscribe func()
	onURL       func(url string)
	events      chan tabEvent
	done        chan struct{}

	mu        sync.Mutex
	mainFrame cdp.FrameID
}

func newWatchedTab(id string, w *watcher.Watcher, session *rawSession) *watchedTab {
	ctx, cancel := context.WithCancel(context.Background())
	t := &watchedTab{
		id:      id,
		ctx:     ctx,
		cancel:  cancel,
		watcher: w,
		session: session,
		events:  make(chan tabEvent, tabEventBufSize),
		done:    make(chan struct{}),
	}
	if w != nil {
		t.handler = w
	}
	return t
}

// onEvent decodes the session events the tab cares about.
func (t *watchedTab) onEvent(msg *cdproto.Message) {
	switch msg.Method {
	case cdproto.EventRuntimeBindingCalled, cdproto.EventPageNavigatedWithinDocument, cdproto.EventPageFrameNavigated:
	default:
		return
	}
	ev, err := cdproto.UnmarshalMessage(msg, chromedp.DefaultUnmarshalOptions)
	if err != nil {
		slog.Debug("Dropped undecodable tab event", "target_id", t.id, "method", msg.Method, "error", err)
		return
	}
	t.listen(ev)
}

func (t *watchedTab) listen(ev any) {
	switch e := ev.(type) {
	case *runtime.EventBindingCalled:
		if e.Name != BindingName {
			return
		}
		t.push(tabEvent{kind: eventMutation, url: e.Payload})
	case *page.EventNavigatedWithinDocument:
		if !t.isMainFrame(e.FrameID) {
			return
		}
		t.push(tabEvent{kind: eventNavigation, url: e.URL})
	case *page.EventFrameNavigated:
		if e.Frame == nil || e.Frame.ParentID != "" {
			return
		}
		t.setMainFrame(e.Frame.ID)
		t.push(tabEvent{kind: eventReload, url: e.Frame.URL})
	}
}

func (t *watchedTab) push(ev tabEvent) {
	select {
	case t.events <- ev:
	default:
		metrics.DroppedEvents.WithLabelValues(ev.kind.String()).Inc()
	}
}

func (t *watchedTab) setMainFrame(id cdp.FrameID) {
	t.mu.Lock()
	t.mainFrame = id
	t.mu.Unlock()
}

// isMainFrame accepts any frame until the main frame is known.
func (t *watchedTab) isMainFrame(id cdp.FrameID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.mainFrame == "" || t.mainFrame == id
}

// alive is false once the connection the tab was attached on has dropped.
func (t *watchedTab) alive() bool {
	return t.session == nil || t.session.alive()
}

// pump applies queued events in arrival order until the tab is stopped.
func (t *watchedTab) pump() {
	defer close(t.done)
	var lastURL string
	for {
		select {
		case <-t.ctx.Done():
			return
		case ev := <-t.events:
			if ev.url != "" && ev.url != lastURL {
				lastURL = ev.url
				if t.onURL != nil {
					t.onURL(ev.url)
				}
			}
			if t.handler == nil {
				continue
			}
			switch ev.kind {
			case eventMutation:
				t.handler.HandleMutation(ev.url)
			case eventNavigation:
				t.handler.HandleNavigation(ev.url)
			case eventReload:
				t.handler.HandleReload(ev.url)
			}
		}
	}
}

// stop halts the watcher and the pump, then detaches the session. The page
// itself stays open.
func (t *watchedTab) stop() {
	if t.watcher != nil {
		t.watcher.Stop()
	}
	if t.unsubscribe != nil {
		t.unsubscribe()
	}
	t.cancel()
	<-t.done

	if t.session == nil || !t.session.alive() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), detachTimeout)
	defer cancel()
	if err := t.session.detach(ctx); err != nil {
		slog.Debug("Detach from tab failed", "target_id", t.id, "error", err)
	}
}
