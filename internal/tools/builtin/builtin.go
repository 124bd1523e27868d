// Package builtin provides the in-process tools that can be enabled by name
// in the tools.builtin config list.
package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/MrWong99/hark/internal/tools"
	"github.com/MrWong99/hark/pkg/types"
)

// Names lists the tools known to [ByName].
var Names = []string{"current_time"}

// ByName returns the builtin tool called name.
func ByName(name string, now func() time.Time) (tools.Tool, error) {
	switch name {
	case "current_time":
		return CurrentTime(now), nil
	default:
		return tools.Tool{}, fmt.Errorf("builtin: unknown tool %q (known: %s)", name, strings.Join(Names, ", "))
	}
}

// Register adds every named builtin to r. Unknown names fail before anything
// is registered.
func Register(r *tools.Registry, names []string, now func() time.Time) error {
	ts := make([]tools.Tool, 0, len(names))
	for _, n := range slices.Compact(slices.Sorted(slices.Values(names))) {
		t, err := ByName(n, now)
		if err != nil {
			return err
		}
		ts = append(ts, t)
	}
	for _, t := range ts {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}

type currentTimeArgs struct {
	Timezone string `json:"timezone"`
}

type currentTimeResult struct {
	Time     string `json:"time"`
	Weekday  string `json:"weekday"`
	Timezone string `json:"timezone"`
}

// CurrentTime returns the "current_time" tool. now is injectable for tests;
// nil means [time.Now].
func CurrentTime(now func() time.Time) tools.Tool {
	if now == nil {
		now = time.Now
	}
	return tools.Tool{
		Definition: types.ToolDefinition{
			Name:        "current_time",
			Description: "Returns the current date and time, optionally in an IANA timezone such as Europe/Berlin.",
			Parameters: tools.Schema(tools.Param{
				Name:        "timezone",
				Type:        "string",
				Description: "IANA timezone name. Defaults to the local timezone.",
			}),
			MaxDurationMs: 1000,
		},
		Handler: func(_ context.Context, args string) (string, error) {
			var a currentTimeArgs
			if strings.TrimSpace(args) != "" {
				if err := json.Unmarshal([]byte(args), &a); err != nil {
					return "", fmt.Errorf("current_time: invalid args: %w", err)
				}
			}
			loc := time.Local
			if a.Timezone != "" {
				l, err := time.LoadLocation(a.Timezone)
				if err != nil {
					return "", fmt.Errorf("current_time: unknown timezone %q", a.Timezone)
				}
				loc = l
			}
			t := now().In(loc)
			out, err := json.Marshal(currentTimeResult{
				Time:     t.Format(time.RFC3339),
				Weekday:  t.Weekday().String(),
				Timezone: loc.String(),
			})
			if err != nil {
				return "", fmt.Errorf("current_time: encode result: %w", err)
			}
			return string(out), nil
		},
	}
}
