// Package browser manages isolated fingerprint-browser sessions.
//
// It contains four collaborating pieces:
//
//   - ControlClient: an HTTP client for the fingerprint-browser control plane
//     that serializes every request under a minimum inter-request interval and
//     a per-minute ceiling, with exponential backoff on throttling.
//   - ProxyAllocator: deterministic persona-to-proxy credential mapping so a
//     repeat run of the same persona reuses the same exit IP.
//   - SessionLifecycle: the profile state machine (provision, start, stop,
//     teardown) with quota accounting against the control plane's hard cap.
//   - WindowTiler: deterministic grid assignment of on-screen rectangles to
//     live sessions.
//
// All control-plane traffic funnels through one shared ControlClient; it is
// the single global serialization point for external browser commands.
package browser
