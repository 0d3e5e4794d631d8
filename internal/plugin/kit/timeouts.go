package pluginkit

import (
	"encoding/json"
	"fmt"
	"time"
)

// TimeoutsConfig is the "timeouts" object every plugin config may carry:
//
//	"timeouts": { "command": "15s", "task": "2m", "operation": "5s" }
//
// command bounds a chat command or callback, task a scheduled job and
// operation a single IO call inside either.
type TimeoutsConfig struct {
	Command   string `json:"command,omitempty"`
	Task      string `json:"task,omitempty"`
	Operation string `json:"operation,omitempty"`
}

// UnmarshalJSON rejects unknown keys.
func (t *TimeoutsConfig) UnmarshalJSON(b []byte) error {
	if len(b) == 0 || string(b) == "null" {
		*t = TimeoutsConfig{}
		return nil
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	var out TimeoutsConfig
	for k, v := range m {
		var dst *string
		switch k {
		case "command":
			dst = &out.Command
		case "task":
			dst = &out.Task
		case "operation":
			dst = &out.Operation
		default:
			return fmt.Errorf("unknown timeouts field %q (supported: command, task, operation)", k)
		}
		if err := json.Unmarshal(v, dst); err != nil {
			return fmt.Errorf("timeouts.%s: %w", k, err)
		}
	}
	*t = out
	return nil
}

// Validate checks every non-empty duration; prefix is e.g. "schedule.timeouts".
func (t TimeoutsConfig) Validate(prefix string) error {
	for _, f := range []struct{ name, v string }{
		{"command", t.Command},
		{"task", t.Task},
		{"operation", t.Operation},
	} {
		if f.v == "" {
			continue
		}
		if _, err := time.ParseDuration(f.v); err != nil {
			return fmt.Errorf("invalid %s.%s: %w", prefix, f.name, err)
		}
	}
	return nil
}

func (t TimeoutsConfig) CommandOr(def time.Duration) time.Duration { return durationOr(t.Command, def) }
func (t TimeoutsConfig) TaskOr(def time.Duration) time.Duration    { return durationOr(t.Task, def) }
func (t TimeoutsConfig) OperationOr(def time.Duration) time.Duration {
	return durationOr(t.Operation, def)
}

func durationOr(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
