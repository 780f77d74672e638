package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/dgnsrekt/restriction_watcher/internal/alert"
)

const alertTitle = "LinkedIn job location restriction"

// NTFY pushes alerts to an ntfy topic endpoint.
type NTFY struct {
	client   *http.Client
	endpoint string
}

func NewNTFY(client *http.Client, endpoint string) *NTFY {
	return &NTFY{client: client, endpoint: strings.TrimSpace(endpoint)}
}

func (n *NTFY) Name() string { return "ntfy" }

// Deliver posts the alert message with the job URL as the click target.
func (n *NTFY) Deliver(ctx context.Context, a alert.Alert) error {
	headers := map[string]string{
		"Title": alertTitle,
		"Tags":  "warning",
	}
	if a.URL != "" {
		headers["Click"] = a.URL
	}
	return Send(ctx, n.client, n.endpoint, a.Message, headers)
}

// Send sends a message to the requested endpoint using HTTP POST.
func Send(ctx context.Context, client *http.Client, endpoint, message string, headers map[string]string) error {
	if strings.TrimSpace(endpoint) == "" {
		return errors.New("ntfy endpoint is required")
	}
	c := client
	if c == nil {
		c = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(message))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "text/plain")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ntfy notification failed: status=%d", resp.StatusCode)
	}
	return nil
}
