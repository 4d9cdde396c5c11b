package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/surveyflow/internal/metrics"
	"github.com/BaSui01/surveyflow/types"
)

// ProfileState is one node of the profile lifecycle state machine.
type ProfileState string

const (
	StateCreated    ProfileState = "created"
	StateConfigured ProfileState = "configured"
	StateStarting   ProfileState = "starting"
	StateRunning    ProfileState = "running"
	StateStopping   ProfileState = "stopping"
	StateStopped    ProfileState = "stopped"
	StateDeleted    ProfileState = "deleted"
)

// validNext encodes the legal transition graph:
//
//	Created → Configured → Starting → Running → Stopping → Stopped → Deleted
//	                              ↘ (start fail) Stopped
var validNext = map[ProfileState][]ProfileState{
	StateCreated:    {StateConfigured},
	StateConfigured: {StateStarting, StateDeleted},
	StateStarting:   {StateRunning, StateStopped},
	StateRunning:    {StateStopping},
	StateStopping:   {StateStopped},
	StateStopped:    {StateDeleted},
	StateDeleted:    {},
}

// Profile is one isolated browser identity owned by exactly one lifecycle
// entry at a time. Its state only advances along the transition graph; the
// debug endpoint is non-nil iff the state is Running.
type Profile struct {
	ID          string              `json:"id"` // assigned by the control plane
	PersonaID   int                 `json:"persona_id"`
	PersonaName string              `json:"persona_name"`
	Proxy       types.ProxyBinding  `json:"proxy"`
	Fingerprint FingerprintConfig   `json:"fingerprint"`
	State       ProfileState        `json:"state"`
	Endpoint    *DebugEndpoint      `json:"endpoint,omitempty"`
	ObservedIP  string              `json:"observed_ip,omitempty"` // from the egress probe, advisory
	CreatedAt   time.Time           `json:"created_at"`
	Transition  time.Time           `json:"last_transition"`
}

// SessionLifecycle provisions, starts, and tears down browser profiles. All
// control-plane calls funnel through the injected ControlAPI; the profile
// count never exceeds the control plane's hard cap.
type SessionLifecycle struct {
	api        ControlAPI
	allocator  *ProxyAllocator
	profileCap int
	groupID    string
	echoURL    string
	probe      *http.Client // overridable in tests

	mu   sync.Mutex
	live map[string]*Profile

	metrics *metrics.Collector
	logger  *zap.Logger
}

// TeardownResult is one entry of CleanupAll.
type TeardownResult struct {
	ProfileID string
	Err       error
}

// NewSessionLifecycle creates a lifecycle manager. profileCap is the control
// plane's hard profile limit; provisioning refuses once it is reached.
func NewSessionLifecycle(api ControlAPI, allocator *ProxyAllocator, profileCap int, echoURL string, collector *metrics.Collector, logger *zap.Logger) *SessionLifecycle {
	if logger == nil {
		logger = zap.NewNop()
	}
	if profileCap <= 0 {
		profileCap = 15
	}
	return &SessionLifecycle{
		api:        api,
		allocator:  allocator,
		profileCap: profileCap,
		groupID:    "0",
		echoURL:    echoURL,
		live:       make(map[string]*Profile),
		metrics:    collector,
		logger:     logger,
	}
}

// transition advances a profile's state, enforcing the transition graph.
// Callers must hold l.mu.
func (l *SessionLifecycle) transition(p *Profile, next ProfileState) error {
	for _, allowed := range validNext[p.State] {
		if allowed == next {
			p.State = next
			p.Transition = time.Now()
			if next != StateRunning {
				p.Endpoint = nil
			}
			return nil
		}
	}
	return types.Errorf(types.ErrInvalidState, "profile %s: illegal transition %s → %s", p.ID, p.State, next)
}

// Provision creates a browser profile bound to the persona's proxy and a
// fresh fingerprint, probes the proxy egress (non-fatal), and leaves the
// profile in Configured. Fails with QUOTA_EXCEEDED when the control plane's
// cap is reached.
func (l *SessionLifecycle) Provision(ctx context.Context, persona types.Persona) (*Profile, error) {
	existing, err := l.api.ListProfiles(ctx)
	if err != nil {
		return nil, types.NewError(types.ErrProvisionFailed, "list profiles before provision").WithCause(err)
	}
	if len(existing) >= l.profileCap {
		return nil, types.Errorf(types.ErrQuotaExceeded,
			"control plane holds %d of %d profiles", len(existing), l.profileCap)
	}

	binding := l.allocator.BindingFor(persona.ID)
	req := CreateProfileRequest{
		Name:    fmt.Sprintf("sf-%d-%s", persona.ID, persona.Name),
		GroupID: l.groupID,
		Remark:  fmt.Sprintf("surveyflow persona %d", persona.ID),
		Cookie:  "[]",
		UserProxyConfig: UserProxyConfig{
			ProxyType:     "http",
			ProxyHost:     binding.Host,
			ProxyPort:     fmt.Sprintf("%d", binding.Port),
			ProxyUser:     binding.User,
			ProxyPassword: binding.Password,
			ProxySoft:     "other",
		},
		FingerprintConfig: DefaultFingerprint(),
	}

	profileID, err := l.api.CreateProfile(ctx, req)
	if err != nil {
		if types.IsCode(err, types.ErrQuotaExceeded) {
			return nil, err
		}
		return nil, types.NewError(types.ErrProvisionFailed, "create profile").WithCause(err)
	}

	p := &Profile{
		ID:          profileID,
		PersonaID:   persona.ID,
		PersonaName: persona.Name,
		Proxy:       binding,
		Fingerprint: req.FingerprintConfig,
		State:       StateCreated,
		CreatedAt:   time.Now(),
		Transition:  time.Now(),
	}

	// Advisory egress check; failure is logged, never fatal.
	if ip, probeErr := l.probeEgress(ctx, binding); probeErr != nil {
		l.logger.Warn("proxy egress probe failed",
			zap.String("profile_id", profileID),
			zap.Int("persona_id", persona.ID),
			zap.Error(probeErr))
	} else if ip != "" {
		p.ObservedIP = ip
		l.logger.Info("proxy egress confirmed",
			zap.String("profile_id", profileID),
			zap.String("exit_ip", ip))
	}

	l.mu.Lock()
	if err := l.transition(p, StateConfigured); err != nil {
		l.mu.Unlock()
		return nil, err
	}
	l.live[p.ID] = p
	l.mu.Unlock()

	l.metrics.SessionProvisioned()
	l.logger.Info("profile provisioned",
		zap.String("profile_id", p.ID),
		zap.Int("persona_id", persona.ID),
		zap.String("proxy", binding.Addr()))
	return p, nil
}

// probeEgress fetches the echo endpoint through the proxy and returns the
// observed exit IP.
func (l *SessionLifecycle) probeEgress(ctx context.Context, binding types.ProxyBinding) (string, error) {
	if l.echoURL == "" {
		return "", nil
	}
	client := l.probe
	if client == nil {
		proxyURL := &url.URL{Scheme: "http", Host: binding.Addr()}
		if binding.User != "" {
			proxyURL.User = url.UserPassword(binding.User, binding.Password)
		}
		client = &http.Client{
			Timeout:   15 * time.Second,
			Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.echoURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return "", err
	}
	var payload struct {
		IP string `json:"ip"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil && payload.IP != "" {
		return payload.IP, nil
	}
	return string(raw), nil
}

// Start requests a browser start for a configured profile. On success the
// profile enters Running with its debug endpoint recorded; on failure the
// orphan profile is torn down automatically.
func (l *SessionLifecycle) Start(ctx context.Context, p *Profile) (*DebugEndpoint, error) {
	l.mu.Lock()
	if err := l.transition(p, StateStarting); err != nil {
		l.mu.Unlock()
		return nil, err
	}
	l.mu.Unlock()

	ep, err := l.api.StartBrowser(ctx, p.ID)
	if err != nil {
		l.mu.Lock()
		_ = l.transition(p, StateStopped)
		l.mu.Unlock()
		l.logger.Warn("browser start failed, tearing down orphan profile",
			zap.String("profile_id", p.ID), zap.Error(err))
		if tdErr := l.Teardown(ctx, p); tdErr != nil {
			l.logger.Warn("orphan teardown failed", zap.String("profile_id", p.ID), zap.Error(tdErr))
		}
		if types.CodeOf(err) != "" {
			return nil, err
		}
		return nil, types.NewError(types.ErrStartFailed, "start browser").WithCause(err)
	}

	l.mu.Lock()
	if trErr := l.transition(p, StateRunning); trErr != nil {
		l.mu.Unlock()
		return nil, trErr
	}
	p.Endpoint = ep
	l.mu.Unlock()

	l.logger.Info("browser running",
		zap.String("profile_id", p.ID),
		zap.String("debug_host", ep.Host),
		zap.Int("debug_port", ep.Port))
	return ep, nil
}

// Stop requests a browser stop. The profile reaches Stopped and its endpoint
// is cleared even when the control plane reports a failure.
func (l *SessionLifecycle) Stop(ctx context.Context, p *Profile) error {
	l.mu.Lock()
	if err := l.transition(p, StateStopping); err != nil {
		l.mu.Unlock()
		return err
	}
	l.mu.Unlock()

	stopErr := l.api.StopBrowser(ctx, p.ID)

	l.mu.Lock()
	_ = l.transition(p, StateStopped)
	l.mu.Unlock()

	if stopErr != nil {
		return types.NewError(types.ErrStopFailed, "stop browser").WithCause(stopErr)
	}
	return nil
}

// Teardown stops (best effort) and deletes a profile, then drops it from the
// live set. A second call for the same profile is a no-op. Delete failures
// are logged and returned, but the profile is removed from the live set
// regardless; the control plane may leak an entry that periodic
// reconciliation resolves out of band.
func (l *SessionLifecycle) Teardown(ctx context.Context, p *Profile) error {
	l.mu.Lock()
	if _, ok := l.live[p.ID]; !ok && p.State == StateDeleted {
		l.mu.Unlock()
		return nil
	}
	state := p.State
	l.mu.Unlock()

	if state == StateRunning || state == StateStarting {
		if err := l.Stop(ctx, p); err != nil {
			l.logger.Warn("best-effort stop during teardown failed",
				zap.String("profile_id", p.ID), zap.Error(err))
		}
	}

	delErr := l.api.DeleteProfile(ctx, p.ID)

	l.mu.Lock()
	if p.State != StateDeleted {
		_ = l.transition(p, StateDeleted)
	}
	if _, ok := l.live[p.ID]; ok {
		delete(l.live, p.ID)
		l.metrics.SessionTornDown()
	}
	l.mu.Unlock()

	if delErr != nil {
		l.logger.Warn("profile delete failed, removed from live set anyway",
			zap.String("profile_id", p.ID), zap.Error(delErr))
		return types.NewError(types.ErrDeleteFailed, "delete profile").WithCause(delErr)
	}

	l.logger.Info("profile torn down", zap.String("profile_id", p.ID))
	return nil
}

// List returns a snapshot of live profiles. Deleted profiles are absent.
func (l *SessionLifecycle) List() []Profile {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Profile, 0, len(l.live))
	for _, p := range l.live {
		out = append(out, *p)
	}
	return out
}

// CleanupAll tears down every live profile and reports per-profile results.
func (l *SessionLifecycle) CleanupAll(ctx context.Context) []TeardownResult {
	l.mu.Lock()
	profiles := make([]*Profile, 0, len(l.live))
	for _, p := range l.live {
		profiles = append(profiles, p)
	}
	l.mu.Unlock()

	results := make([]TeardownResult, 0, len(profiles))
	for _, p := range profiles {
		results = append(results, TeardownResult{ProfileID: p.ID, Err: l.Teardown(ctx, p)})
	}
	return results
}
