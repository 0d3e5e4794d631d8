package pluginkit

import (
	"fmt"

	core "allybot/internal/plugin"
)

// SchedulerTaskConfig configures one scheduled job inside a plugin:
//
//	"report": { "enabled": true, "task_name": "weekly_report", "schedule": "0 18 * * 0" }
//
// Schedule accepts the forms core.ParseSchedule does: cron, "@every 1h",
// a duration ("6h") or HH:MM ("02:30").
type SchedulerTaskConfig struct {
	Enabled  bool   `json:"enabled"`
	TaskName string `json:"task_name,omitempty"`
	Schedule string `json:"schedule,omitempty"`
}

func (c SchedulerTaskConfig) NameOr(def string) string {
	if c.TaskName != "" {
		return c.TaskName
	}
	return def
}

// Active reports whether the job should be registered.
func (c SchedulerTaskConfig) Active() bool { return c.Enabled && c.Schedule != "" }

// Validate parses Schedule when the job is active.
func (c SchedulerTaskConfig) Validate(prefix string) error {
	if !c.Active() {
		return nil
	}
	if _, err := core.ParseSchedule(c.Schedule); err != nil {
		return fmt.Errorf("%s.schedule: %w", prefix, err)
	}
	return nil
}
