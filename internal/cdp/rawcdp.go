package cdp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	jsonv2 "github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

var (
	errNotConnected = errors.New("rawcdp: not connected")
	errConnClosed   = errors.New("rawcdp: connection closed")
)

// rawCDP is a single browser-level DevTools connection shared by every
// watched tab. Tabs attach flat sessions on it and detach without closing
// their targets.
type rawCDP struct {
	httpBase   string
	httpClient *http.Client

	mu   sync.Mutex
	conn net.Conn
	gen  int64
	seq  atomic.Int64

	pending   map[int64]chan *cdproto.Message
	pendingMu sync.Mutex

	sessionsMu sync.RWMutex
	sessions   map[target.SessionID]func(*cdproto.Message)
}

func newRawCDP(httpBase string) *rawCDP {
	return &rawCDP{
		httpBase:   strings.TrimRight(httpBase, "/"),
		httpClient: http.DefaultClient,
		pending:    make(map[int64]chan *cdproto.Message),
		sessions:   make(map[target.SessionID]func(*cdproto.Message)),
	}
}

// connect dials the browser-level WebSocket endpoint if not already connected.
func (r *rawCDP) connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn != nil {
		return nil
	}

	wsURL, err := r.browserWSURL(ctx)
	if err != nil {
		return fmt.Errorf("rawcdp: browser ws url: %w", err)
	}

	slog.Debug("rawcdp connecting", "ws_url", wsURL)
	conn, _, _, err := ws.Dial(ctx, wsURL)
	if err != nil {
		return fmt.Errorf("rawcdp: dial: %w", err)
	}

	r.conn = conn
	r.gen++
	go r.readLoop(conn)
	return nil
}

// generation identifies the live connection. It is zero when disconnected.
func (r *rawCDP) generation() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return 0
	}
	return r.gen
}

func (r *rawCDP) close() {
	r.mu.Lock()
	conn := r.conn
	r.conn = nil
	r.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// readLoop routes responses to their waiters and events to their session.
func (r *rawCDP) readLoop(conn net.Conn) {
	defer func() {
		r.mu.Lock()
		if r.conn == conn {
			r.conn = nil
		}
		r.mu.Unlock()
		r.closeAllPending()
	}()

	for {
		data, err := wsutil.ReadServerText(conn)
		if err != nil {
			slog.Debug("rawcdp read loop exit", "error", err)
			return
		}

		msg := new(cdproto.Message)
		if err := jsonv2.Unmarshal(data, msg, chromedp.DefaultUnmarshalOptions); err != nil {
			slog.Debug("rawcdp dropped malformed message", "error", err)
			continue
		}
		switch {
		case msg.ID > 0:
			r.pendingMu.Lock()
			ch, ok := r.pending[msg.ID]
			delete(r.pending, msg.ID)
			r.pendingMu.Unlock()
			if ok {
				ch <- msg
			}
		case msg.Method != "" && msg.SessionID != "":
			r.sessionsMu.RLock()
			fn := r.sessions[msg.SessionID]
			r.sessionsMu.RUnlock()
			if fn != nil {
				fn(msg)
			}
		}
	}
}

func (r *rawCDP) closeAllPending() {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()
	for id, ch := range r.pending {
		close(ch)
		delete(r.pending, id)
	}
}

func (r *rawCDP) deletePending(id int64) {
	r.pendingMu.Lock()
	delete(r.pending, id)
	r.pendingMu.Unlock()
}

// send writes one command and waits for its response.
func (r *rawCDP) send(ctx context.Context, sessionID target.SessionID, method string, params jsontext.Value) (jsontext.Value, error) {
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn == nil {
		return nil, errNotConnected
	}

	id := r.seq.Add(1)
	data, err := jsonv2.Marshal(&cdproto.Message{
		ID:        id,
		SessionID: sessionID,
		Method:    cdproto.MethodType(method),
		Params:    params,
	}, chromedp.DefaultMarshalOptions)
	if err != nil {
		return nil, fmt.Errorf("rawcdp: marshal %s: %w", method, err)
	}

	ch := make(chan *cdproto.Message, 1)
	r.pendingMu.Lock()
	r.pending[id] = ch
	r.pendingMu.Unlock()

	r.mu.Lock()
	err = wsutil.WriteClientText(conn, data)
	r.mu.Unlock()
	if err != nil {
		r.deletePending(id)
		return nil, fmt.Errorf("rawcdp: send %s: %w", method, err)
	}

	select {
	case msg, ok := <-ch:
		if !ok {
			return nil, errConnClosed
		}
		if msg.Error != nil {
			return nil, fmt.Errorf("rawcdp: %s: %w", method, msg.Error)
		}
		return msg.Result, nil
	case <-ctx.Done():
		r.deletePending(id)
		return nil, ctx.Err()
	}
}

// execute encodes params and decodes the result the way chromedp does.
func (r *rawCDP) execute(ctx context.Context, sessionID target.SessionID, method string, params, res any) error {
	var buf jsontext.Value
	if params != nil {
		var err error
		if buf, err = jsonv2.Marshal(params, chromedp.DefaultMarshalOptions); err != nil {
			return fmt.Errorf("rawcdp: marshal %s: %w", method, err)
		}
	}
	result, err := r.send(ctx, sessionID, method, buf)
	if err != nil {
		return err
	}
	if res == nil || len(result) == 0 {
		return nil
	}
	return jsonv2.Unmarshal(result, res, chromedp.DefaultUnmarshalOptions)
}

// Execute runs browser-level commands. It implements cdp.Executor.
func (r *rawCDP) Execute(ctx context.Context, method string, params, res any) error {
	return r.execute(ctx, "", method, params, res)
}

// attachToTarget attaches a flat session to the given target.
func (r *rawCDP) attachToTarget(ctx context.Context, targetID target.ID) (*rawSession, error) {
	gen := r.generation()
	sessionID, err := target.AttachToTarget(targetID).WithFlatten(true).Do(cdp.WithExecutor(ctx, r))
	if err != nil {
		return nil, err
	}
	return &rawSession{raw: r, id: sessionID, gen: gen}, nil
}

// detachFromTarget detaches from a session without closing the target.
func (r *rawCDP) detachFromTarget(ctx context.Context, sessionID target.SessionID) error {
	return target.DetachFromTarget().WithSessionID(sessionID).Do(cdp.WithExecutor(ctx, r))
}

// subscribe routes events of one session to fn until the returned func runs.
func (r *rawCDP) subscribe(sessionID target.SessionID, fn func(*cdproto.Message)) func() {
	r.sessionsMu.Lock()
	r.sessions[sessionID] = fn
	r.sessionsMu.Unlock()
	return func() {
		r.sessionsMu.Lock()
		delete(r.sessions, sessionID)
		r.sessionsMu.Unlock()
	}
}

// listTargets fetches open targets via the HTTP /json/list endpoint.
func (r *rawCDP) listTargets(ctx context.Context) ([]*target.Info, error) {
	listCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(listCtx, http.MethodGet, r.httpBase+"/json/list", nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("/json/list: HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var entries []struct {
		ID    string `json:"id"`
		Type  string `json:"type"`
		Title string `json:"title"`
		URL   string `json:"url"`
	}
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, err
	}

	out := make([]*target.Info, 0, len(entries))
	for _, e := range entries {
		out = append(out, &target.Info{
			TargetID: target.ID(e.ID),
			Type:     e.Type,
			Title:    e.Title,
			URL:      e.URL,
		})
	}
	return out, nil
}

// browserWSURL fetches the WebSocket debugger URL from /json/version.
func (r *rawCDP) browserWSURL(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.httpBase+"/json/version", nil)
	if err != nil {
		return "", err
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("/json/version: HTTP %d", resp.StatusCode)
	}

	var info struct {
		WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", err
	}
	if info.WebSocketDebuggerURL == "" {
		return "", fmt.Errorf("empty webSocketDebuggerUrl")
	}
	return info.WebSocketDebuggerURL, nil
}

// rawSession runs cdproto commands on one attached page. It implements
// cdp.Executor.
type rawSession struct {
	raw *rawCDP
	id  target.SessionID
	gen int64
}

func (s *rawSession) Execute(ctx context.Context, method string, params, res any) error {
	return s.raw.execute(ctx, s.id, method, params, res)
}

// alive reports whether the connection the session was attached on is still up.
func (s *rawSession) alive() bool {
	return s.gen != 0 && s.raw.generation() == s.gen
}

func (s *rawSession) detach(ctx context.Context) error {
	return s.raw.detachFromTarget(ctx, s.id)
}
