package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/dgnsrekt/restriction_watcher/internal/alert"
	"github.com/dgnsrekt/restriction_watcher/internal/cdp"
	"github.com/dgnsrekt/restriction_watcher/internal/metrics"
	"github.com/dgnsrekt/restriction_watcher/internal/stream"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Service is the watcher control surface served over HTTP.
type Service interface {
	ListTabs(ctx context.Context) ([]cdp.TabView, error)
	GetTab(ctx context.Context, targetID string) (cdp.TabView, error)
	RearmTab(ctx context.Context, targetID string) (cdp.TabView, error)
}

// AlertLog holds recent alerts.
type AlertLog interface {
	List(limit int) []alert.Alert
	Len() int
}

type tabIDInput struct {
	TargetID string `path:"target_id" doc:"CDP target id of a watched tab"`
}

type tabOutput struct {
	Body cdp.TabView
}

func NewServer(svc Service, alerts AlertLog, broker *stream.Broker) http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)

	cfg := huma.DefaultConfig("Restriction Watcher API", "1.0.0")
	cfg.DocsPath = ""
	api := humachi.New(router, cfg)

	router.Get("/docs", htmlHandler(docsHTML))
	router.Get("/docs/stream", htmlHandler(streamDocsHTML))
	router.Handle("/metrics", metrics.Handler())

	router.Get("/api/v1/alerts/stream", stream.SSEHandler(broker, stream.KindAlert))
	router.Get("/api/v1/alerts/ws", stream.WSHandler(broker, stream.KindAlert))
	router.Get("/api/v1/events/stream", stream.SSEHandler(broker))
	router.Get("/api/v1/events/ws", stream.WSHandler(broker))

	registerHealthHandlers(api, svc, broker)
	registerTabHandlers(api, svc)
	registerAlertHandlers(api, alerts)

	return router
}

func htmlHandler(page string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := w.Write([]byte(page)); err != nil {
			slog.Debug("docs response write failed", "path", r.URL.Path, "error", err)
		}
	}
}

func registerHealthHandlers(api huma.API, svc Service, broker *stream.Broker) {
	type healthOutput struct {
		Body struct {
			Status        string `json:"status"`
			WatchedTabs   int    `json:"watched_tabs"`
			StreamClients int    `json:"stream_clients"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "health", Method: http.MethodGet, Path: "/health", Summary: "Health check", Tags: []string{"Health"}},
		func(ctx context.Context, input *struct{}) (*healthOutput, error) {
			tabs, err := svc.ListTabs(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &healthOutput{}
			out.Body.Status = "ok"
			out.Body.WatchedTabs = len(tabs)
			out.Body.StreamClients = broker.ClientCount()
			return out, nil
		})
}

func registerTabHandlers(api huma.API, svc Service) {
	type listTabsOutput struct {
		Body struct {
			Tabs []cdp.TabView `json:"tabs"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-tabs", Method: http.MethodGet, Path: "/api/v1/tabs", Summary: "List watched tabs", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *struct{}) (*listTabsOutput, error) {
			tabs, err := svc.ListTabs(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &listTabsOutput{}
			out.Body.Tabs = tabs
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "get-tab", Method: http.MethodGet, Path: "/api/v1/tabs/{target_id}", Summary: "Get a watched tab", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *tabIDInput) (*tabOutput, error) {
			view, err := svc.GetTab(ctx, input.TargetID)
			if err != nil {
				return nil, mapErr(err)
			}
			return &tabOutput{Body: view}, nil
		})

	huma.Register(api, huma.Operation{OperationID: "rearm-tab", Method: http.MethodPost, Path: "/api/v1/tabs/{target_id}/rearm", Summary: "Start a fresh watch session on a tab", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *tabIDInput) (*tabOutput, error) {
			view, err := svc.RearmTab(ctx, input.TargetID)
			if err != nil {
				return nil, mapErr(err)
			}
			return &tabOutput{Body: view}, nil
		})
}

func registerAlertHandlers(api huma.API, alerts AlertLog) {
	type listAlertsInput struct {
		Limit int `query:"limit" default:"50" minimum:"0" maximum:"1000" doc:"Max alerts to return, newest first. 0 returns all retained."`
	}
	type listAlertsOutput struct {
		Body struct {
			Alerts []alert.Alert `json:"alerts"`
			Total  int           `json:"total"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-alerts", Method: http.MethodGet, Path: "/api/v1/alerts", Summary: "Recent restriction alerts", Tags: []string{"Alerts"}},
		func(ctx context.Context, input *listAlertsInput) (*listAlertsOutput, error) {
			out := &listAlertsOutput{}
			out.Body.Alerts = alerts.List(input.Limit)
			out.Body.Total = alerts.Len()
			return out, nil
		})
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var coded *cdp.CodedError
	if errors.As(err, &coded) {
		switch coded.Code {
		case cdp.CodeValidation:
			return huma.Error400BadRequest(coded.Message)
		case cdp.CodeTabNotFound:
			return huma.Error404NotFound(coded.Message)
		case cdp.CodeEvalTimeout:
			return huma.Error504GatewayTimeout(coded.Message)
		case cdp.CodeCDPUnavailable:
			return huma.Error502BadGateway(coded.Message)
		default:
			return huma.Error500InternalServerError(fmt.Sprintf("%s: %s", coded.Code, coded.Message))
		}
	}
	return huma.Error500InternalServerError(err.Error())
}
