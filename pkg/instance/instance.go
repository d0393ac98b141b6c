package instance

import (
	"os"

	"github.com/subradar/subradar-backend/pkg/env"
)

// ID identifies this process in logs and lock ownership. It prefers an explicit
// instance id, then the platform dyno name, then the hostname.
func ID() string {
	if id := env.Get("SUBRADAR_INSTANCE_ID", env.Get("DYNO", "")); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "local"
}
