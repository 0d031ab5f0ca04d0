// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package vpn supervises the external network-isolation container
// (gluetun): a controller that drives its control API through a
// stop/poll/start/poll cycle, and a supervisor that watches the task
// registry's metrics stream and restarts the VPN after sustained
// download or refresh failures.
package vpn

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/localtube/localtube/internal/log"
	"github.com/localtube/localtube/internal/metrics"
)

// maxErrBody caps the amount of response body read for error reporting
// on non-2xx answers from the control server.
const maxErrBody = 8 * 1024

// Errors surfaced by the controller.
var (
	ErrHTTP        = errors.New("vpn: http request failed")
	ErrPollTimeout = errors.New("vpn: did not report desired state after polling")
)

// UnexpectedStatusError reports a non-2xx HTTP status from the control server.
type UnexpectedStatusError struct {
	Code int
}

func (e *UnexpectedStatusError) Error() string {
	return fmt.Sprintf("vpn: unexpected status code %d", e.Code)
}

// UnexpectedStateError reports a VPN state other than the one requested.
type UnexpectedStateError struct {
	Expected string
	Actual   string
}

func (e *UnexpectedStateError) Error() string {
	return fmt.Sprintf("vpn: unexpected state: expected %s, got %s", e.Expected, e.Actual)
}

// Outcome carries the detail strings the control server returned for the
// stop and start halves of a restart cycle.
type Outcome struct {
	StopDetail  *string
	StartDetail *string
}

func (o Outcome) String() string {
	detail := func(s *string) string {
		if s == nil {
			return "none"
		}
		return *s
	}
	return fmt.Sprintf("stop=%s, start=%s", detail(o.StopDetail), detail(o.StartDetail))
}

// Controller restarts the VPN container. Implemented by HTTPController
// against gluetun's control API; tests substitute fakes.
type Controller interface {
	Restart(ctx context.Context) (Outcome, error)
}

// NormalizeControlAddr turns a host[:port] or full URL into a base URL,
// prefixing "http://" when no scheme is present. Empty input stays empty.
func NormalizeControlAddr(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return ""
	}
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return addr
	}
	return "http://" + addr
}

// HTTPController drives gluetun's control API. The rate limiter protects
// the control server from a tight restart loop; polling is bounded by
// pollAttempts × pollInterval per state change.
type HTTPController struct {
	baseURL      string
	client       *http.Client
	limiter      *rate.Limiter
	pollAttempts int
	pollInterval time.Duration
}

// ControllerOption configures an HTTPController.
type ControllerOption func(*HTTPController)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(c *http.Client) ControllerOption {
	return func(h *HTTPController) { h.client = c }
}

// WithPollBudget overrides the per-state polling budget.
func WithPollBudget(attempts int, interval time.Duration) ControllerOption {
	return func(h *HTTPController) {
		h.pollAttempts = attempts
		h.pollInterval = interval
	}
}

// NewHTTPController builds a controller for the control server at
// baseURL (already normalized via NormalizeControlAddr).
func NewHTTPController(baseURL string, opts ...ControllerOption) *HTTPController {
	h := &HTTPController{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		client:       &http.Client{Timeout: 10 * time.Second},
		limiter:      rate.NewLimiter(rate.Limit(5), 10),
		pollAttempts: 5,
		pollInterval: time.Second,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

func (h *HTTPController) statusURL() string {
	return h.baseURL + "/v1/vpn/status"
}

type statusResponse struct {
	Status string `json:"status"`
}

type statusChangeResponse struct {
	Status  *string `json:"status,omitempty"`
	Outcome *string `json:"outcome,omitempty"`
}

// Restart stops the VPN, waits until the control server reports it
// stopped, starts it again, and waits until it reports running.
func (h *HTTPController) Restart(ctx context.Context) (Outcome, error) {
	logger := log.WithComponentFromContext(ctx, "vpn.controller")
	start := time.Now()
	logger.Info().Str(log.FieldEvent, "vpn.restart.begin").Msg("starting VPN restart sequence")

	stopDetail, err := h.sendStatusChange(ctx, "stopped")
	if err != nil {
		return Outcome{}, err
	}
	if err := h.pollUntil(ctx, "stopped"); err != nil {
		return Outcome{}, err
	}

	startDetail, err := h.sendStatusChange(ctx, "running")
	if err != nil {
		return Outcome{}, err
	}
	if err := h.pollUntil(ctx, "running"); err != nil {
		return Outcome{}, err
	}

	elapsed := time.Since(start)
	metrics.VPNRestartDuration.Observe(elapsed.Seconds())
	logger.Info().
		Str(log.FieldEvent, "vpn.restart.done").
		Dur("duration", elapsed).
		Msg("VPN restart sequence finished")

	return Outcome{StopDetail: stopDetail, StartDetail: startDetail}, nil
}

// sendStatusChange PUTs the desired status and returns the control
// server's optional outcome detail.
func (h *HTTPController) sendStatusChange(ctx context.Context, status string) (*string, error) {
	logger := log.WithComponentFromContext(ctx, "vpn.controller")

	if err := h.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHTTP, err)
	}

	body, err := json.Marshal(map[string]string{"status": status})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHTTP, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, h.statusURL(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHTTP, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHTTP, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrBody))
		logger.Warn().
			Str(log.FieldVPNStatus, status).
			Int("http_status", resp.StatusCode).
			Str("body", string(errBody)).
			Msg("VPN status change request failed")
		return nil, &UnexpectedStatusError{Code: resp.StatusCode}
	}

	var parsed statusChangeResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%w: decode status change response: %v", ErrHTTP, err)
	}
	if parsed.Status != nil && *parsed.Status != status {
		return nil, &UnexpectedStateError{Expected: status, Actual: *parsed.Status}
	}
	logger.Debug().
		Str(log.FieldVPNStatus, status).
		Msg("VPN status change acknowledged")
	return parsed.Outcome, nil
}

// pollUntil GETs the status endpoint until it reports desired, up to the
// configured attempt budget.
func (h *HTTPController) pollUntil(ctx context.Context, desired string) error {
	logger := log.WithComponentFromContext(ctx, "vpn.controller")

	for attempt := 1; attempt <= h.pollAttempts; attempt++ {
		status, err := h.fetchStatus(ctx)
		if err != nil {
			return err
		}
		if status == desired {
			return nil
		}
		logger.Debug().
			Str(log.FieldVPNStatus, status).
			Str("desired", desired).
			Int("attempt", attempt).
			Msg("VPN not yet in desired state")

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrHTTP, ctx.Err())
		case <-time.After(h.pollInterval):
		}
	}
	logger.Warn().Str("desired", desired).Msg("timed out polling VPN status")
	return ErrPollTimeout
}

func (h *HTTPController) fetchStatus(ctx context.Context) (string, error) {
	if err := h.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("%w: %v", ErrHTTP, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.statusURL(), nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrHTTP, err)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrHTTP, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrBody))
		return "", &UnexpectedStatusError{Code: resp.StatusCode}
	}

	var parsed statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("%w: decode status response: %v", ErrHTTP, err)
	}
	return parsed.Status, nil
}
