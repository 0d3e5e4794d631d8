package plugin

// StopReason is logged and published when a plugin stops.
type StopReason string

const (
	StopAppStop          StopReason = "app_stop"
	StopPluginDisable    StopReason = "plugin_disable"
	StopPluginQuarantine StopReason = "plugin_quarantine"
)
