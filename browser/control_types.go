package browser

import (
	"context"
	"encoding/json"
)

// ControlAPI is the surface of the fingerprint-browser control plane used by
// the session lifecycle. ControlClient implements it over HTTP; tests inject
// fakes.
type ControlAPI interface {
	// CreateProfile creates a browser profile and returns its opaque id.
	CreateProfile(ctx context.Context, req CreateProfileRequest) (string, error)
	// UpdateProfile updates an existing profile in place.
	UpdateProfile(ctx context.Context, req UpdateProfileRequest) error
	// DeleteProfile removes a profile from the control plane.
	DeleteProfile(ctx context.Context, profileID string) error
	// ListProfiles returns summaries of all profiles the control plane holds.
	ListProfiles(ctx context.Context) ([]ProfileSummary, error)
	// StartBrowser launches the browser for a profile and returns its debug endpoint.
	StartBrowser(ctx context.Context, profileID string) (*DebugEndpoint, error)
	// StopBrowser stops a running browser.
	StopBrowser(ctx context.Context, profileID string) error
	// BrowserActive reports whether the profile's browser is currently running.
	BrowserActive(ctx context.Context, profileID string) (bool, error)
	// HealthCheck probes the control plane.
	HealthCheck(ctx context.Context) error
}

// UserProxyConfig is the proxy stanza of a profile creation request.
type UserProxyConfig struct {
	ProxyType     string `json:"proxy_type"` // "http"
	ProxyHost     string `json:"proxy_host"`
	ProxyPort     string `json:"proxy_port"`
	ProxyUser     string `json:"proxy_user,omitempty"`
	ProxyPassword string `json:"proxy_password,omitempty"`
	ProxySoft     string `json:"proxy_soft"` // "other" for self-supplied credentials
}

// FingerprintConfig is the fingerprint stanza of a profile creation request.
// Fields the control plane treats as optional are omitted when empty.
type FingerprintConfig struct {
	AutomaticTimezone string   `json:"automatic_timezone,omitempty"`
	Language          []string `json:"language,omitempty"`
	ScreenResolution  string   `json:"screen_resolution,omitempty"` // "1920_1080"
	UA                string   `json:"ua,omitempty"`
	WebRTC            string   `json:"webrtc,omitempty"` // "disabled", "proxy"
	Canvas            string   `json:"canvas,omitempty"` // "1" = noise
	WebGLImage        string   `json:"webgl_image,omitempty"`
}

// DefaultFingerprint returns the fingerprint spec used for new profiles.
func DefaultFingerprint() FingerprintConfig {
	return FingerprintConfig{
		AutomaticTimezone: "1",
		Language:          []string{"zh-CN", "zh", "en-US"},
		ScreenResolution:  "1920_1080",
		WebRTC:            "proxy",
		Canvas:            "1",
	}
}

// CreateProfileRequest is the body of POST /user/create.
type CreateProfileRequest struct {
	Name              string            `json:"name"`
	GroupID           string            `json:"group_id"`
	Remark            string            `json:"remark,omitempty"`
	Cookie            string            `json:"cookie,omitempty"`
	UserProxyConfig   UserProxyConfig   `json:"user_proxy_config"`
	FingerprintConfig FingerprintConfig `json:"fingerprint_config"`
}

// UpdateProfileRequest is the body of POST /user/update.
type UpdateProfileRequest struct {
	UserID            string             `json:"user_id"`
	Name              string             `json:"name,omitempty"`
	Remark            string             `json:"remark,omitempty"`
	UserProxyConfig   *UserProxyConfig   `json:"user_proxy_config,omitempty"`
	FingerprintConfig *FingerprintConfig `json:"fingerprint_config,omitempty"`
}

// ProfileSummary is one entry of GET /user/list.
type ProfileSummary struct {
	UserID  string `json:"user_id"`
	Name    string `json:"name"`
	GroupID string `json:"group_id"`
	Remark  string `json:"remark"`
}

// DebugEndpoint is the programmatic control surface a running browser exposes.
type DebugEndpoint struct {
	Host      string `json:"host"`
	Port      int    `json:"port"`
	Selenium  string `json:"selenium,omitempty"`
	Puppeteer string `json:"puppeteer,omitempty"`
	WebDriver string `json:"webdriver,omitempty"`
}

// controlResponse is the envelope every control-plane endpoint returns.
type controlResponse struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type createProfileData struct {
	ID string `json:"id"`
}

type listProfilesData struct {
	List []ProfileSummary `json:"list"`
	Page int              `json:"page"`
}

type startBrowserData struct {
	DebugPort string `json:"debug_port"`
	WebDriver string `json:"webdriver"`
	WS        struct {
		Selenium  string `json:"selenium"`
		Puppeteer string `json:"puppeteer"`
	} `json:"ws"`
}

type browserActiveData struct {
	Status string `json:"status"` // "Active" when running
}
