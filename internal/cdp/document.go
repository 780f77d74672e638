package cdp

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/runtime"
	"github.com/dgnsrekt/restriction_watcher/internal/alert"
)

// tabDocument reads the live DOM of one tab.
type tabDocument struct {
	targetID    string
	exec        cdp.Executor
	evalTimeout time.Duration
}

func (d *tabDocument) QueryText(ctx context.Context, selector string) (string, bool, error) {
	var env queryEnvelope
	if err := d.evaluate(ctx, queryTextJS(selector), &env); err != nil {
		return "", false, err
	}
	if !env.OK {
		return "", false, newError(CodeEvalFailure, env.ErrorMessage, nil)
	}
	return env.Text, env.Found, nil
}

func (d *tabDocument) evaluate(ctx context.Context, js string, out any) error {
	evalCtx, evalCancel := context.WithTimeout(ctx, d.evalTimeout)
	defer evalCancel()

	res, exc, err := runtime.Evaluate(js).WithReturnByValue(true).Do(cdp.WithExecutor(evalCtx, d.exec))
	if err != nil {
		switch {
		case errors.Is(err, context.DeadlineExceeded) || errors.Is(evalCtx.Err(), context.DeadlineExceeded):
			return newError(CodeEvalTimeout, "evaluation timed out", err)
		case ctx.Err() != nil:
			return newError(CodeCDPUnavailable, "tab context closed", err)
		case errors.Is(err, errNotConnected) || errors.Is(err, errConnClosed):
			return newError(CodeCDPUnavailable, "browser connection lost", err)
		}
		return newError(CodeEvalFailure, "evaluation failed", err)
	}
	if exc != nil {
		return newError(CodeEvalFailure, "evaluation threw", exc)
	}
	if out == nil {
		return nil
	}
	if res == nil || len(res.Value) == 0 {
		return newError(CodeEvalFailure, "evaluation returned no value", nil)
	}
	if err := json.Unmarshal(res.Value, out); err != nil {
		return newError(CodeEvalFailure, "unexpected evaluation result", err)
	}
	return nil
}

// dialogSink shows alerts as a dialog in the tab that raised them.
type dialogSink struct {
	doc *tabDocument
}

func (s *dialogSink) Name() string { return "page_dialog" }

func (s *dialogSink) Deliver(ctx context.Context, a alert.Alert) error {
	var ignored bool
	if err := s.doc.evaluate(ctx, dialogJS(a.Message), &ignored); err != nil {
		return err
	}
	slog.Debug("page dialog raised", "target_id", s.doc.targetID, "alert_id", a.ID)
	return nil
}
