// Package config holds the CLI configuration types.
package config

import "time"

// Role represents the chosen endpoint role (server or client).
type Role string

const (
	RoleServer Role = "server"
	RoleClient Role = "client"
)

// Config stores all parameters gathered from CLI flags or the interactive
// prompts.
type Config struct {
	Role        Role
	BindAddr    string        // Server: UDP address to listen on
	ConnectAddr string        // Client: server address to connect to
	MetricsAddr string        // Optional: Prometheus /metrics listen address
	Tick        time.Duration // Tick loop cadence
	Debug       bool
}
