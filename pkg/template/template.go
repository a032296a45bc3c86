// Package template resolves ${token} placeholders in topics, client IDs, and
// other per-device strings.
package template

import (
	"fmt"
	"strings"
	"time"
)

// Context provides the values available during resolution.
type Context struct {
	DeviceID string
	ModelID  string

	// LastTelemetry maps attribute names to their most recent values.
	LastTelemetry map[string]any

	// CustomState maps device-local state keys to values.
	CustomState map[string]any
}

// Resolve substitutes the recognised tokens in a template string:
// ${deviceId}, ${timestamp} (ISO-8601 UTC at resolution time), ${modelId},
// then any key from the last-telemetry memo, then any custom-state key.
// Resolution is single-pass and never cached, so ${timestamp} advances on
// every call. Unrecognised tokens are left untouched.
func Resolve(tmpl string, ctx Context) string {
	if !strings.Contains(tmpl, "${") {
		return tmpl
	}

	result := tmpl
	result = strings.ReplaceAll(result, "${deviceId}", ctx.DeviceID)
	result = strings.ReplaceAll(result, "${timestamp}", time.Now().UTC().Format(time.RFC3339Nano))
	result = strings.ReplaceAll(result, "${modelId}", ctx.ModelID)

	for key, value := range ctx.LastTelemetry {
		result = strings.ReplaceAll(result, "${"+key+"}", stringify(value))
	}
	for key, value := range ctx.CustomState {
		result = strings.ReplaceAll(result, "${"+key+"}", stringify(value))
	}

	return result
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		// Trim the ".0" that %v would keep for integral floats in topics.
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	default:
		return fmt.Sprintf("%v", t)
	}
}
