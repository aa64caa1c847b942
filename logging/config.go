package logging

import (
	"fmt"
	"strings"
	"time"
)

// Config tunes a Router.
type Config struct {
	// SinkQueueSize bounds each sink's backlog. A full backlog drops events
	// for that sink only.
	SinkQueueSize int
	// MinimumSeverity applies to every category without its own floor.
	MinimumSeverity Severity
	// CategorySeverity raises or lowers the floor per category, e.g. to keep
	// combat at debug while the relay's network chatter stays at warn.
	CategorySeverity map[string]Severity
	// Fields are merged into Extra on every event without overwriting.
	Fields            map[string]any
	DropWarnInterval  time.Duration
	JSONFlushInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		SinkQueueSize:     512,
		MinimumSeverity:   SeverityInfo,
		DropWarnInterval:  5 * time.Second,
		JSONFlushInterval: 2 * time.Second,
	}
}

// Allows reports whether an event passes the severity floors.
func (c Config) Allows(category string, severity Severity) bool {
	if floor, ok := c.CategorySeverity[category]; ok {
		return severity >= floor
	}
	return severity >= c.MinimumSeverity
}

// ParseSeverity accepts debug, info, warn or error.
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return SeverityDebug, nil
	case "", "info":
		return SeverityInfo, nil
	case "warn", "warning":
		return SeverityWarn, nil
	case "error":
		return SeverityError, nil
	}
	return SeverityInfo, fmt.Errorf("unknown log level %q", s)
}

// ParseCategorySeverity parses "network=warn,combat=debug".
func ParseCategorySeverity(spec string) (map[string]Severity, error) {
	if strings.TrimSpace(spec) == "" {
		return nil, nil
	}
	out := make(map[string]Severity)
	for _, part := range strings.Split(spec, ",") {
		category, level, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || category == "" {
			return nil, fmt.Errorf("log category %q: want category=level", part)
		}
		severity, err := ParseSeverity(level)
		if err != nil {
			return nil, fmt.Errorf("log category %s: %w", category, err)
		}
		out[category] = severity
	}
	return out, nil
}
