// Package config holds the recognised configuration options from spec
// section 6, populated from flags the way the teacher's main.go does.
// Config-file parsing is an external collaborator per spec section 1, so
// no file format is parsed here.
package config

import "time"

type Config struct {
	BindAddress string
	Port        string

	DefaultTTL       uint32
	MXPriority       uint16
	MailHostTemplate string
	Nameservers      []string

	VerificationInterval time.Duration
	GracePeriod          time.Duration
	SyncInterval         time.Duration

	CatalogueDSN string

	UpstreamEndpoint string
	UpstreamKey      string

	AutoDiscoveryEnabled bool

	AdminAddress string

	VerifierConcurrency int
	VerifierTimeout     time.Duration
	VerifierRetries     int

	TCPIdleTimeout time.Duration

	MaxDBConns int
}

// NewConfig returns a Config with the recommended defaults from spec
// section 4 (verification_interval, grace_period, sync_interval, timeouts
// and retries).
func NewConfig() *Config {
	return &Config{
		BindAddress: "0.0.0.0",
		Port:        "53",

		DefaultTTL:       300,
		MXPriority:       10,
		MailHostTemplate: "mail.{domain}",

		VerificationInterval: 5 * time.Minute,
		GracePeriod:          72 * time.Hour,
		SyncInterval:         300 * time.Second,

		CatalogueDSN: "file:authdns.db?_pragma=busy_timeout(5000)",

		AutoDiscoveryEnabled: false,

		AdminAddress: "127.0.0.1:8053",

		VerifierConcurrency: 10,
		VerifierTimeout:     5 * time.Second,
		VerifierRetries:     2,

		TCPIdleTimeout: 10 * time.Second,

		MaxDBConns: 10,
	}
}
