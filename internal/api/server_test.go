package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dgnsrekt/restriction_watcher/internal/alert"
	"github.com/dgnsrekt/restriction_watcher/internal/cdp"
	"github.com/dgnsrekt/restriction_watcher/internal/stream"
	"github.com/dgnsrekt/restriction_watcher/internal/types"
	"github.com/dgnsrekt/restriction_watcher/internal/watcher"
)

type stubService struct {
	tabs     []cdp.TabView
	rearmed  string
	listErr  error
	lookupFn func(id string) (cdp.TabView, error)
}

func (s *stubService) ListTabs(ctx context.Context) ([]cdp.TabView, error) {
	return s.tabs, s.listErr
}

func (s *stubService) GetTab(ctx context.Context, targetID string) (cdp.TabView, error) {
	return s.lookupFn(targetID)
}

func (s *stubService) RearmTab(ctx context.Context, targetID string) (cdp.TabView, error) {
	view, err := s.lookupFn(targetID)
	if err == nil {
		s.rearmed = targetID
	}
	return view, err
}

func newStub() *stubService {
	view := cdp.TabView{
		Tab:   types.TabInfo{TargetID: "T1", URL: "https://www.linkedin.com/jobs/view/1/", BrowserID: "T1"},
		Watch: watcher.Status{TargetID: "T1", State: watcher.StateArmed, Sessions: 1},
	}
	return &stubService{
		tabs: []cdp.TabView{view},
		lookupFn: func(id string) (cdp.TabView, error) {
			switch id {
			case "T1":
				return view, nil
			case "slow":
				return cdp.TabView{}, &cdp.CodedError{Code: cdp.CodeEvalTimeout, Message: "evaluation timed out"}
			}
			return cdp.TabView{}, &cdp.CodedError{Code: cdp.CodeTabNotFound, Message: "tab not watched: " + id}
		},
	}
}

func serve(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestDocsDarkMode(t *testing.T) {
	h := NewServer(newStub(), alert.NewHistory(10), stream.NewBroker())
	w := serve(t, h, http.MethodGet, "/docs")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), `data-theme="dark"`) {
		t.Fatalf("docs missing dark theme marker")
	}

	w = serve(t, h, http.MethodGet, "/docs/stream")
	if !strings.Contains(w.Body.String(), "/api/v1/alerts/ws") {
		t.Fatalf("stream docs missing websocket endpoint")
	}
}

func TestHealthReportsTabs(t *testing.T) {
	h := NewServer(newStub(), alert.NewHistory(10), stream.NewBroker())
	w := serve(t, h, http.MethodGet, "/health")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var body struct {
		Status      string `json:"status"`
		WatchedTabs int    `json:"watched_tabs"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" || body.WatchedTabs != 1 {
		t.Fatalf("health = %+v", body)
	}
}

func TestHealthMapsCDPFailure(t *testing.T) {
	svc := newStub()
	svc.listErr = &cdp.CodedError{Code: cdp.CodeCDPUnavailable, Message: "failed to list targets"}
	h := NewServer(svc, alert.NewHistory(10), stream.NewBroker())
	if w := serve(t, h, http.MethodGet, "/health"); w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadGateway)
	}
}

func TestTabEndpoints(t *testing.T) {
	svc := newStub()
	h := NewServer(svc, alert.NewHistory(10), stream.NewBroker())

	w := serve(t, h, http.MethodGet, "/api/v1/tabs")
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	var list struct {
		Tabs []cdp.TabView `json:"tabs"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list.Tabs) != 1 || list.Tabs[0].Watch.State != watcher.StateArmed {
		t.Fatalf("tabs = %+v", list.Tabs)
	}

	if w := serve(t, h, http.MethodGet, "/api/v1/tabs/T1"); w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	if w := serve(t, h, http.MethodGet, "/api/v1/tabs/nope"); w.Code != http.StatusNotFound {
		t.Fatalf("missing tab status = %d, want 404", w.Code)
	}
	if w := serve(t, h, http.MethodGet, "/api/v1/tabs/slow"); w.Code != http.StatusGatewayTimeout {
		t.Fatalf("timeout status = %d, want 504", w.Code)
	}

	if w := serve(t, h, http.MethodPost, "/api/v1/tabs/T1/rearm"); w.Code != http.StatusOK {
		t.Fatalf("rearm status = %d", w.Code)
	}
	if svc.rearmed != "T1" {
		t.Fatalf("rearmed = %q, want T1", svc.rearmed)
	}
}

func TestListAlertsNewestFirst(t *testing.T) {
	history := alert.NewHistory(10)
	base := time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)
	for i, id := range []string{"a1", "a2", "a3"} {
		_ = history.Deliver(context.Background(), alert.Alert{ID: id, Message: alert.Message, At: base.Add(time.Duration(i) * time.Second)})
	}
	h := NewServer(newStub(), history, stream.NewBroker())

	w := serve(t, h, http.MethodGet, "/api/v1/alerts?limit=2")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body struct {
		Alerts []alert.Alert `json:"alerts"`
		Total  int           `json:"total"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Total != 3 || len(body.Alerts) != 2 || body.Alerts[0].ID != "a3" {
		t.Fatalf("alerts = %+v", body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := NewServer(newStub(), alert.NewHistory(10), stream.NewBroker())
	w := serve(t, h, http.MethodGet, "/metrics")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "restriction_watcher_watched_tabs") {
		t.Fatalf("metrics output missing watcher gauge")
	}
}

func TestMapErr(t *testing.T) {
	if mapErr(nil) != nil {
		t.Fatal("mapErr(nil) should be nil")
	}
	tests := []struct {
		err  error
		want int
	}{
		{&cdp.CodedError{Code: cdp.CodeValidation, Message: "bad"}, http.StatusBadRequest},
		{&cdp.CodedError{Code: cdp.CodeTabNotFound, Message: "gone"}, http.StatusNotFound},
		{&cdp.CodedError{Code: cdp.CodeEvalTimeout, Message: "slow"}, http.StatusGatewayTimeout},
		{&cdp.CodedError{Code: cdp.CodeCDPUnavailable, Message: "down"}, http.StatusBadGateway},
		{&cdp.CodedError{Code: cdp.CodeEvalFailure, Message: "boom"}, http.StatusInternalServerError},
		{errors.New("plain"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		got := mapErr(tt.err)
		var se interface{ GetStatus() int }
		if !errors.As(got, &se) {
			t.Fatalf("mapErr(%v) = %T, want status error", tt.err, got)
		}
		if se.GetStatus() != tt.want {
			t.Fatalf("mapErr(%v) status = %d, want %d", tt.err, se.GetStatus(), tt.want)
		}
	}
}

func TestQuietPath(t *testing.T) {
	for path, want := range map[string]bool{
		"/metrics":              true,
		"/health":               true,
		"/api/v1/alerts/stream": true,
		"/api/v1/events/ws":     true,
		"/api/v1/tabs":          false,
	} {
		if got := quietPath(path); got != want {
			t.Fatalf("quietPath(%q) = %v, want %v", path, got, want)
		}
	}
}
