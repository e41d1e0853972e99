package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	v1 "supportchat/shared/contracts/chat/v1"
)

const (
	defaultHTTPTimeout = 10 * time.Second
	maxResponseBytes   = 4 << 20
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Path string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("notify: GET %s: status %d", e.Path, e.Code)
}

// HTTPSource fetches notification feeds from the chat backend's REST API.
type HTTPSource struct {
	// BaseURL is the backend origin, e.g. http://localhost:8080.
	BaseURL string
	// Token, when set, is sent as a bearer token.
	Token  string
	Client *http.Client
}

// Summaries fetches the operator's per-customer summary list.
func (s HTTPSource) Summaries(ctx context.Context) ([]v1.Summary, error) {
	var out []v1.Summary
	if err := s.getJSON(ctx, v1.SummaryPath, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// PendingOrders fetches orders with status=pending.
func (s HTTPSource) PendingOrders(ctx context.Context) ([]v1.PendingOrder, error) {
	var out v1.PendingOrdersResponse
	q := url.Values{"status": {"pending"}}
	if err := s.getJSON(ctx, v1.PendingOrdersPath, q, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

func (s HTTPSource) getJSON(ctx context.Context, path string, q url.Values, out any) error {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(s.BaseURL), "/") + path)
	if err != nil {
		return fmt.Errorf("notify: base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("notify: unsupported scheme %q", u.Scheme)
	}
	if len(q) > 0 {
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if s.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.Token)
	}

	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return &StatusError{Path: path, Code: resp.StatusCode}
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(out); err != nil {
		return fmt.Errorf("notify: decode %s: %w", path, err)
	}
	return nil
}
