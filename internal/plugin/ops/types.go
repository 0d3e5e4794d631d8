// Package ops holds the plugin status records shared by the plugin manager,
// the command router and /health. It has no dependencies so neither side
// has to import the other.
package ops

import "time"

type PluginsSnapshot struct {
	Time    time.Time      `json:"time"`
	Plugins []PluginStatus `json:"plugins"`
}

// Labels returned by PluginStatus.Health.
const (
	HealthNone   = "na"
	HealthNoData = "nodata"
	HealthFailed = "fail"
	HealthOK     = "ok"
)

type PluginStatus struct {
	Name      string `json:"name"`
	Enabled   bool   `json:"enabled"`
	Running   bool   `json:"running"`
	HasConfig bool   `json:"has_config"`

	// set while a failed start or config apply keeps the plugin parked
	Quarantined     bool      `json:"quarantined"`
	QuarantineErr   string    `json:"quarantine_err,omitempty"`
	QuarantineSince time.Time `json:"quarantine_since,omitempty"`

	HasHealthChecker bool               `json:"has_health_checker"`
	HealthLoopActive bool               `json:"health_loop_active"`
	LastHealth       PluginHealthResult `json:"last_health"`
}

// Health condenses the last probe into one label. Probes may report their
// own status string ("degraded", "stopped"), which is passed through.
func (s PluginStatus) Health() string {
	h := s.LastHealth
	switch {
	case !s.HasHealthChecker:
		return HealthNone
	case h.At.IsZero():
		return HealthNoData
	case h.Err != "":
		return HealthFailed
	case h.Status == "":
		return HealthOK
	}
	return h.Status
}

// PluginHealthResult is one probe. Fails counts consecutive failures.
type PluginHealthResult struct {
	Plugin string    `json:"plugin"`
	At     time.Time `json:"at"`
	Status string    `json:"status,omitempty"`
	Err    string    `json:"err,omitempty"`
	Fails  int       `json:"fails,omitempty"`
}
