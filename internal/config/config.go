// Package config collects the process-wide configuration enumerated by the
// design: listen addresses, the WHIP bearer token, CORS origin, storage
// paths, and the media-plane timers. It is loaded from environment
// variables with defaults matching the design's stated defaults (T_ice=15s,
// T_dtls=10s, T_idle=30s, idle sweep=1s).
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the full set of externally supplied knobs for a relay process.
type Config struct {
	TCPAddress string
	TCPPort    int
	UDPAddress string
	UDPPort    int

	WHIPToken   string
	FrontendURL string

	StorageDir string
	CertsDir   string

	// Timers, all overridable for tests.
	ICENominationTimeout time.Duration
	DTLSHandshakeTimeout time.Duration
	SessionIdleTimeout   time.Duration
	IdleSweepInterval    time.Duration
	ThumbnailInterval    time.Duration

	// Resource caps (spec §5).
	MaxRooms         int
	MaxViewersPerRoom int
}

// Default returns the configuration defaults named throughout the design.
func Default() Config {
	return Config{
		TCPAddress: "0.0.0.0",
		TCPPort:    8080,
		UDPAddress: "0.0.0.0",
		UDPPort:    8443,

		StorageDir: "./data",
		CertsDir:   "./certs",

		ICENominationTimeout: 15 * time.Second,
		DTLSHandshakeTimeout: 10 * time.Second,
		SessionIdleTimeout:   30 * time.Second,
		IdleSweepInterval:    1 * time.Second,
		ThumbnailInterval:    3 * time.Second,

		MaxRooms:          64,
		MaxViewersPerRoom: 64,
	}
}

// FromEnv overlays TCP_ADDRESS, TCP_PORT, UDP_ADDRESS, UDP_PORT, WHIP_TOKEN,
// FRONTEND_URL, STORAGE_DIR and CERTS_DIR onto Default(), returning an error
// if CERTS_DIR is set empty or either port fails to parse — a malformed
// deployment fails fast at startup. The timers and resource caps are not
// read from the environment; they keep their Default() values.
func FromEnv() (Config, error) {
	c := Default()

	if v, ok := os.LookupEnv("TCP_ADDRESS"); ok {
		c.TCPAddress = v
	}
	if v, ok := os.LookupEnv("TCP_PORT"); ok {
		p, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("config: TCP_PORT: %w", err)
		}
		c.TCPPort = p
	}
	if v, ok := os.LookupEnv("UDP_ADDRESS"); ok {
		c.UDPAddress = v
	}
	if v, ok := os.LookupEnv("UDP_PORT"); ok {
		p, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("config: UDP_PORT: %w", err)
		}
		c.UDPPort = p
	}
	if v, ok := os.LookupEnv("WHIP_TOKEN"); ok {
		c.WHIPToken = v
	}
	if v, ok := os.LookupEnv("FRONTEND_URL"); ok {
		c.FrontendURL = v
	}
	if v, ok := os.LookupEnv("STORAGE_DIR"); ok {
		c.StorageDir = v
	}
	if v, ok := os.LookupEnv("CERTS_DIR"); ok {
		c.CertsDir = v
	}

	if c.CertsDir == "" {
		return Config{}, fmt.Errorf("config: certs_dir is required")
	}

	return c, nil
}
