package commands

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// RegisterUptime adds !uptime, which reports how long the process has run.
// now may be nil.
func RegisterUptime(r *Registry, started time.Time, now func() time.Time) error {
	if now == nil {
		now = time.Now
	}
	return r.Register(&Command{
		Name:        "uptime",
		Description: "Show how long the bot has been running",
		Usage:       "!uptime",
		Handler: func(ctx context.Context, inv *Invocation) (*Result, error) {
			return &Result{Text: "Alive for " + FormatUptime(now().Sub(started))}, nil
		},
	})
}

// FormatUptime renders d as "1 day, 2 hours, 3 minutes and 4 seconds",
// omitting zero components.
func FormatUptime(d time.Duration) string {
	total := int64(d / time.Second)
	if total < 0 {
		total = 0
	}
	units := []struct {
		name string
		size int64
	}{
		{"day", 24 * 60 * 60},
		{"hour", 60 * 60},
		{"minute", 60},
		{"second", 1},
	}

	var parts []string
	for _, u := range units {
		n := total / u.size
		total %= u.size
		if n == 0 {
			continue
		}
		part := fmt.Sprintf("%d %s", n, u.name)
		if n != 1 {
			part += "s"
		}
		parts = append(parts, part)
	}

	switch len(parts) {
	case 0:
		return "0 seconds"
	case 1:
		return parts[0]
	default:
		return strings.Join(parts[:len(parts)-1], ", ") + " and " + parts[len(parts)-1]
	}
}
