package browser

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/surveyflow/config"
	"github.com/BaSui01/surveyflow/internal/metrics"
	"github.com/BaSui01/surveyflow/internal/retry"
	"github.com/BaSui01/surveyflow/types"
)

// errThrottled marks a control-plane throttling response. The retryer matches
// it with errors.Is, so every throttled failure must wrap this instance.
var errThrottled = types.NewError(types.ErrThrottled, "control plane throttled").WithRetryable()

// ControlClient is the rate-limited HTTP client for the fingerprint-browser
// control plane. It enforces two limits on every outgoing request: a minimum
// inter-request interval and a per-minute ceiling over a trailing 60 s window.
// Throttling responses are retried with exponential backoff; quota-exceeded
// responses are surfaced as a distinct error kind without retry.
type ControlClient struct {
	cfg      config.ControlConfig
	http     *http.Client
	interval *rate.Limiter // spacing: one token per MinInterval

	mu     sync.Mutex
	window []time.Time // dispatch times in the trailing minute

	retryer retry.Retryer
	metrics *metrics.Collector
	logger  *zap.Logger
}

// NewControlClient creates a rate-limited control-plane client. The API key
// (serial number) from cfg is attached to every request.
func NewControlClient(cfg config.ControlConfig, collector *metrics.Collector, logger *zap.Logger) *ControlClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = 1200 * time.Millisecond
	}
	if cfg.MaxPerMinute <= 0 {
		cfg.MaxPerMinute = 40
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	c := &ControlClient{
		cfg:      cfg,
		http:     &http.Client{Timeout: timeout},
		interval: rate.NewLimiter(rate.Every(cfg.MinInterval), 1),
		metrics:  collector,
		logger:   logger,
	}
	c.retryer = retry.NewBackoffRetryer(&retry.Policy{
		MaxRetries:      cfg.MaxRetries,
		InitialDelay:    cfg.MinInterval,
		MaxDelay:        8 * time.Second,
		Multiplier:      2.0,
		Jitter:          true,
		RetryableErrors: []error{errThrottled},
	}, logger)
	return c
}

// waitTurn blocks until both rate limits admit one more request, then counts
// the dispatch in the trailing-minute window. The spacing token is earned
// inside the loop: a caller that slept out a full window must re-queue behind
// whoever was admitted while it slept, so dispatches stay MinInterval apart
// even across a ceiling wait.
func (c *ControlClient) waitTurn(ctx context.Context) error {
	for {
		if err := c.interval.Wait(ctx); err != nil {
			return types.NewError(types.ErrCancelled, "rate limiter wait cancelled").WithCause(err)
		}

		c.mu.Lock()
		now := time.Now()
		cutoff := now.Add(-time.Minute)
		i := 0
		for i < len(c.window) && !c.window[i].After(cutoff) {
			i++
		}
		c.window = c.window[i:]

		if len(c.window) < c.cfg.MaxPerMinute {
			c.window = append(c.window, now)
			c.mu.Unlock()
			return nil
		}
		wait := c.window[0].Add(time.Minute).Sub(now)
		c.mu.Unlock()

		c.logger.Debug("per-minute ceiling reached, waiting",
			zap.Duration("wait", wait),
			zap.Int("max_per_minute", c.cfg.MaxPerMinute))

		select {
		case <-ctx.Done():
			return types.NewError(types.ErrCancelled, "rate limiter wait cancelled").WithCause(ctx.Err())
		case <-time.After(wait):
		}
	}
}

// classify maps a non-zero control-plane code to a typed error. Quota and
// throttling signatures are recognized by message keywords.
func classify(code int, msg string) *types.Error {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "too many request"), strings.Contains(lower, "frequent"):
		return types.Errorf(types.ErrThrottled, "control plane throttled: code=%d msg=%s", code, msg).WithRetryable()
	case strings.Contains(lower, "maximum"), strings.Contains(lower, "quota"),
		strings.Contains(lower, "limit"), strings.Contains(lower, "上限"):
		return types.Errorf(types.ErrQuotaExceeded, "profile quota exceeded: code=%d msg=%s", code, msg)
	default:
		return types.Errorf(types.ErrControlPlane, "control plane error: code=%d msg=%s", code, msg)
	}
}

// do dispatches one request under the rate limits and decodes the envelope.
// Throttled responses are wrapped so the retryer recognizes them.
func (c *ControlClient) do(ctx context.Context, verb, method, path string, query url.Values, body any, out any) error {
	return c.retryer.Do(ctx, func() error {
		if err := c.waitTurn(ctx); err != nil {
			return err
		}

		start := time.Now()
		err := c.doOnce(ctx, method, path, query, body, out)
		result := "ok"
		if err != nil {
			result = string(types.CodeOf(err))
			if result == "" {
				result = "error"
			}
		}
		c.metrics.ControlRequest(verb, result, time.Since(start))

		if err != nil && types.IsCode(err, types.ErrThrottled) {
			return fmt.Errorf("%v: %w", err, errThrottled)
		}
		return err
	})
}

func (c *ControlClient) doOnce(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	if query == nil {
		query = url.Values{}
	}
	if c.cfg.SerialNumber != "" {
		query.Set("serial_number", c.cfg.SerialNumber)
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + path
	if enc := query.Encode(); enc != "" {
		endpoint += "?" + enc
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return types.NewError(types.ErrTransport, "build request").WithCause(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return types.NewError(types.ErrTransport, "control plane unreachable").WithCause(err).WithRetryable()
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return types.NewError(types.ErrTransport, "read response").WithCause(err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return types.Errorf(types.ErrThrottled, "http 429 from control plane").WithRetryable()
	}
	if resp.StatusCode != http.StatusOK {
		return types.Errorf(types.ErrTransport, "unexpected status %d", resp.StatusCode)
	}

	var env controlResponse
	if err := json.Unmarshal(raw, &env); err != nil {
		return types.NewError(types.ErrTransport, "decode response").WithCause(err)
	}
	if env.Code != 0 {
		return classify(env.Code, env.Msg)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return types.NewError(types.ErrTransport, "decode response data").WithCause(err)
		}
	}
	return nil
}

// CreateProfile implements ControlAPI.
func (c *ControlClient) CreateProfile(ctx context.Context, req CreateProfileRequest) (string, error) {
	var data createProfileData
	if err := c.do(ctx, "create_profile", http.MethodPost, "/user/create", nil, req, &data); err != nil {
		return "", err
	}
	if data.ID == "" {
		return "", types.Errorf(types.ErrControlPlane, "create returned empty profile id")
	}
	return data.ID, nil
}

// UpdateProfile implements ControlAPI.
func (c *ControlClient) UpdateProfile(ctx context.Context, req UpdateProfileRequest) error {
	return c.do(ctx, "update_profile", http.MethodPost, "/user/update", nil, req, nil)
}

// DeleteProfile implements ControlAPI.
func (c *ControlClient) DeleteProfile(ctx context.Context, profileID string) error {
	body := map[string]any{"user_ids": []string{profileID}}
	return c.do(ctx, "delete_profile", http.MethodPost, "/user/delete", nil, body, nil)
}

// ListProfiles implements ControlAPI. Pagination is walked to exhaustion so
// quota accounting sees the full set.
func (c *ControlClient) ListProfiles(ctx context.Context) ([]ProfileSummary, error) {
	var all []ProfileSummary
	for page := 1; ; page++ {
		q := url.Values{}
		q.Set("page", strconv.Itoa(page))
		q.Set("page_size", "100")
		var data listProfilesData
		if err := c.do(ctx, "list_profiles", http.MethodGet, "/user/list", q, nil, &data); err != nil {
			return nil, err
		}
		all = append(all, data.List...)
		if len(data.List) < 100 {
			return all, nil
		}
	}
}

// StartBrowser implements ControlAPI.
func (c *ControlClient) StartBrowser(ctx context.Context, profileID string) (*DebugEndpoint, error) {
	q := url.Values{}
	q.Set("user_id", profileID)
	q.Set("open_tabs", "1")
	q.Set("ip_tab", strconv.Itoa(c.cfg.IPTab))
	if c.cfg.Headless {
		q.Set("headless", "1")
	} else {
		q.Set("headless", "0")
	}

	var data startBrowserData
	if err := c.do(ctx, "start_browser", http.MethodGet, "/browser/start", q, nil, &data); err != nil {
		return nil, err
	}

	ep := &DebugEndpoint{
		Selenium:  data.WS.Selenium,
		Puppeteer: data.WS.Puppeteer,
		WebDriver: data.WebDriver,
	}
	host, port, err := splitDebugPort(data.DebugPort)
	if err != nil {
		return nil, types.Errorf(types.ErrStartFailed, "bad debug_port %q", data.DebugPort).WithCause(err)
	}
	ep.Host, ep.Port = host, port
	return ep, nil
}

// splitDebugPort accepts both "9222" and "127.0.0.1:9222" forms.
func splitDebugPort(s string) (string, int, error) {
	if s == "" {
		return "", 0, fmt.Errorf("empty debug port")
	}
	if !strings.Contains(s, ":") {
		port, err := strconv.Atoi(s)
		if err != nil {
			return "", 0, err
		}
		return "127.0.0.1", port, nil
	}
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, err
	}
	return host, port, nil
}

// StopBrowser implements ControlAPI.
func (c *ControlClient) StopBrowser(ctx context.Context, profileID string) error {
	q := url.Values{}
	q.Set("user_id", profileID)
	return c.do(ctx, "stop_browser", http.MethodGet, "/browser/stop", q, nil, nil)
}

// BrowserActive implements ControlAPI.
func (c *ControlClient) BrowserActive(ctx context.Context, profileID string) (bool, error) {
	q := url.Values{}
	q.Set("user_id", profileID)
	var data browserActiveData
	if err := c.do(ctx, "browser_active", http.MethodGet, "/browser/active", q, nil, &data); err != nil {
		return false, err
	}
	return data.Status == "Active", nil
}

// HealthCheck implements ControlAPI.
func (c *ControlClient) HealthCheck(ctx context.Context) error {
	return c.do(ctx, "health", http.MethodGet, "/status", nil, nil, nil)
}
