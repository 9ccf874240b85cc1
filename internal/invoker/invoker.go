// Package invoker sends resolved function calls to a running prefab
// service and returns its raw output. Retry is limited to failures that
// happen before the request reaches the service: once bytes are on the
// wire the call may have executed, and replaying it is not safe.
package invoker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"
)

// ErrUnavailable marks an invocation the prefab service could not
// serve: connection failures, timeouts and non-2xx responses.
var ErrUnavailable = errors.New("prefab service unavailable")

// Payload is the body POSTed to a prefab's invoke endpoint. Secrets
// ride in a sibling of inputs so the service can split them off before
// handing inputs to user code.
type Payload struct {
	Inputs  map[string]any    `json:"inputs"`
	Secrets map[string]string `json:"_secrets"`
}

// Caller invokes one function on an already-resolved prefab endpoint.
type Caller interface {
	Invoke(ctx context.Context, endpoint, function string, payload Payload) (map[string]any, error)
}

type HTTPInvoker struct {
	client  *http.Client
	logger  *slog.Logger
	timeout time.Duration
}

func NewHTTPInvoker(timeout time.Duration, logger *slog.Logger) *HTTPInvoker {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &HTTPInvoker{
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
		timeout: timeout,
	}
}

func (inv *HTTPInvoker) Invoke(ctx context.Context, endpoint, function string, payload Payload) (map[string]any, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode invoke payload: %w", err)
	}
	url := strings.TrimSuffix(endpoint, "/") + "/invoke/" + function

	resp, err := inv.post(ctx, url, body)
	if err != nil && isConnectFailure(err) {
		if inv.logger != nil {
			inv.logger.Warn("invoke connect failed, retrying once", "url", url, "error", err)
		}
		resp, err = inv.post(ctx, url, body)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s returned status %d: %s", ErrUnavailable, function, resp.StatusCode, truncate(raw, 512))
	}

	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	return out, nil
}

func (inv *HTTPInvoker) post(ctx context.Context, url string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return inv.client.Do(req)
}

// isConnectFailure reports whether err happened while establishing the
// connection, before the request was sent.
func isConnectFailure(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return opErr.Op == "dial"
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
