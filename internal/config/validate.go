package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks invariants that would make the daemon unusable.
// It parses every duration field so a bad reload is rejected before publish.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}

	if len(c.Session.Senders) == 0 {
		return errors.New("session.senders: at least one sender authorization key is required")
	}
	for i, s := range c.Session.Senders {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("session.senders[%d]: empty sender key", i)
		}
	}

	fields := map[string]string{
		"server.read_timeout":      c.Server.ReadTimeout,
		"server.write_timeout":     c.Server.WriteTimeout,
		"server.idle_timeout":      c.Server.IdleTimeout,
		"dispatch.tick_interval":   c.Dispatch.TickInterval,
		"dispatch.deliver_timeout": c.Dispatch.DeliverTimeout,
		"dispatch.ack_timeout":     c.Dispatch.AckTimeout,
		"session.ttl":              c.Session.TTL,
		"store.busy_timeout":       c.Store.BusyTimeout,
	}
	for path, raw := range fields {
		if _, err := ParseDurationField(path, raw); err != nil {
			return err
		}
	}

	switch d := strings.ToLower(strings.TrimSpace(c.Store.Driver)); d {
	case "", "sqlite", "memory":
	default:
		return fmt.Errorf("store.driver: unknown driver %q", c.Store.Driver)
	}

	return nil
}
