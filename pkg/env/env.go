// Package env reads process-level overrides that live outside the
// SOKOHUB_-prefixed config: platform-injected values like PORT and the
// LOG_FORMAT switch the logger consults before config parsing runs.
package env

import "os"

// Get returns the named variable, falling back when unset or empty.
func Get(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
