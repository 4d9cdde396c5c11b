package browser

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/surveyflow/config"
	"github.com/BaSui01/surveyflow/types"
)

// fakeControlPlane records request arrival times and serves scripted
// responses per path.
type fakeControlPlane struct {
	mu       sync.Mutex
	arrivals []time.Time
	paths    []string
	// script maps a 1-based request index to a canned envelope; unscripted
	// requests get a success envelope.
	script map[int]controlResponse
}

func (f *fakeControlPlane) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.arrivals = append(f.arrivals, time.Now())
		f.paths = append(f.paths, r.URL.Path)
		n := len(f.arrivals)
		resp, scripted := f.script[n]
		f.mu.Unlock()

		if !scripted {
			resp = controlResponse{Code: 0, Data: json.RawMessage(`{"id":"prof-1","list":[],"status":"Active","debug_port":"9222"}`)}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}

func newTestClient(t *testing.T, fake *fakeControlPlane, mutate func(*config.ControlConfig)) *ControlClient {
	t.Helper()
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)

	cfg := config.ControlConfig{
		BaseURL:      srv.URL,
		SerialNumber: "test-serial",
		MinInterval:  20 * time.Millisecond,
		MaxPerMinute: 1000,
		MaxRetries:   3,
		Timeout:      5 * time.Second,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return NewControlClient(cfg, nil, nil)
}

func TestControlClientMinIntervalSpacing(t *testing.T) {
	fake := &fakeControlPlane{}
	client := newTestClient(t, fake, nil)

	ctx := context.Background()
	for i := 0; i < 6; i++ {
		require.NoError(t, client.HealthCheck(ctx))
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	require.Len(t, fake.arrivals, 6)
	for i := 1; i < len(fake.arrivals); i++ {
		gap := fake.arrivals[i].Sub(fake.arrivals[i-1])
		// Allow a small scheduling slack below the configured interval.
		assert.GreaterOrEqual(t, gap, 15*time.Millisecond,
			"requests %d and %d dispatched %v apart", i-1, i, gap)
	}
}

func TestControlClientThrottleBackoffAndRetry(t *testing.T) {
	fake := &fakeControlPlane{script: map[int]controlResponse{
		1: {Code: -1, Msg: "Too many requests per second"},
	}}
	client := newTestClient(t, fake, nil)

	start := time.Now()
	require.NoError(t, client.HealthCheck(context.Background()))

	fake.mu.Lock()
	defer fake.mu.Unlock()
	// One throttled attempt plus the retry that succeeded.
	assert.Len(t, fake.arrivals, 2)
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

func TestControlClientThrottleEscalatesAfterRetries(t *testing.T) {
	fake := &fakeControlPlane{script: map[int]controlResponse{}}
	for i := 1; i <= 10; i++ {
		fake.script[i] = controlResponse{Code: -1, Msg: "Too many requests"}
	}
	client := newTestClient(t, fake, func(c *config.ControlConfig) {
		c.MinInterval = 5 * time.Millisecond
		c.MaxRetries = 2
	})

	err := client.HealthCheck(context.Background())
	require.Error(t, err)
	assert.Equal(t, types.ErrThrottled, types.CodeOf(err))

	fake.mu.Lock()
	defer fake.mu.Unlock()
	// Initial attempt + MaxRetries.
	assert.Len(t, fake.arrivals, 3)
}

func TestControlClientQuotaExceededNoRetry(t *testing.T) {
	fake := &fakeControlPlane{script: map[int]controlResponse{
		1: {Code: -1, Msg: "The number of profiles has reached the upper limit"},
	}}
	client := newTestClient(t, fake, nil)

	_, err := client.CreateProfile(context.Background(), CreateProfileRequest{Name: "x"})
	require.Error(t, err)
	assert.Equal(t, types.ErrQuotaExceeded, types.CodeOf(err))

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Len(t, fake.arrivals, 1, "quota errors must not be retried")
}

func TestControlClientOtherErrorsNotRetried(t *testing.T) {
	fake := &fakeControlPlane{script: map[int]controlResponse{
		1: {Code: -1, Msg: "user_id not found"},
	}}
	client := newTestClient(t, fake, nil)

	err := client.StopBrowser(context.Background(), "ghost")
	require.Error(t, err)
	assert.Equal(t, types.ErrControlPlane, types.CodeOf(err))

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Len(t, fake.arrivals, 1)
}

func TestControlClientPerMinuteCeiling(t *testing.T) {
	fake := &fakeControlPlane{}
	client := newTestClient(t, fake, func(c *config.ControlConfig) {
		c.MinInterval = time.Millisecond
		c.MaxPerMinute = 3
	})

	// Pre-fill the trailing window so the ceiling is reached, with the
	// oldest entry about to expire.
	now := time.Now()
	client.mu.Lock()
	client.window = []time.Time{
		now.Add(-time.Minute + 40*time.Millisecond),
		now.Add(-30 * time.Second),
		now.Add(-10 * time.Second),
	}
	client.mu.Unlock()

	start := time.Now()
	require.NoError(t, client.HealthCheck(context.Background()))
	// The call had to wait for the oldest window entry to roll off.
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)

	client.mu.Lock()
	defer client.mu.Unlock()
	assert.LessOrEqual(t, len(client.window), 3)
}

func TestControlClientCeilingWaitKeepsMinIntervalSpacing(t *testing.T) {
	fake := &fakeControlPlane{}
	client := newTestClient(t, fake, func(c *config.ControlConfig) {
		c.MinInterval = 100 * time.Millisecond
		c.MaxPerMinute = 2
	})

	// Two window entries about to roll off in quick succession, so one
	// caller sleeps out the ceiling while another arrives with a fresh
	// spacing token just as the first slot frees up.
	now := time.Now()
	client.mu.Lock()
	client.window = []time.Time{
		now.Add(-time.Minute + 60*time.Millisecond),
		now.Add(-time.Minute + 90*time.Millisecond),
	}
	client.mu.Unlock()

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, client.HealthCheck(context.Background()))
		}()
		time.Sleep(10 * time.Millisecond)
	}
	wg.Wait()

	fake.mu.Lock()
	defer fake.mu.Unlock()
	require.Len(t, fake.arrivals, 2)
	gap := fake.arrivals[1].Sub(fake.arrivals[0])
	// The dispatch after the ceiling wait must re-earn the spacing token
	// rather than ride out on the one it consumed before sleeping.
	assert.GreaterOrEqual(t, gap, 80*time.Millisecond,
		"dispatches %v apart after a ceiling wait", gap)
}

func TestControlClientStartBrowserParsesEndpoint(t *testing.T) {
	fake := &fakeControlPlane{script: map[int]controlResponse{
		1: {Code: 0, Data: json.RawMessage(
			`{"debug_port":"127.0.0.1:9333","webdriver":"/usr/bin/chromedriver","ws":{"puppeteer":"ws://127.0.0.1:9333/devtools"}}`)},
	}}
	client := newTestClient(t, fake, nil)

	ep, err := client.StartBrowser(context.Background(), "prof-1")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", ep.Host)
	assert.Equal(t, 9333, ep.Port)
	assert.Equal(t, "ws://127.0.0.1:9333/devtools", ep.Puppeteer)
}

func TestControlClientSerialNumberOnEveryRequest(t *testing.T) {
	var gotSerial string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSerial = r.URL.Query().Get("serial_number")
		_ = json.NewEncoder(w).Encode(controlResponse{Code: 0})
	}))
	defer srv.Close()

	client := NewControlClient(config.ControlConfig{
		BaseURL:      srv.URL,
		SerialNumber: "sn-42",
		MinInterval:  time.Millisecond,
		MaxPerMinute: 100,
	}, nil, nil)

	require.NoError(t, client.HealthCheck(context.Background()))
	assert.Equal(t, "sn-42", gotSerial)
}
