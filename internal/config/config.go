// Package config builds the internal Config meshbus's subsystems are
// constructed from: discovery intervals and network overrides resolved
// from environment variables, with defaults matching the wire protocol's
// expectations.
package config

import (
	"fmt"
	"os"
	"os/user"
	"strconv"
	"time"

	"github.com/meshbus/meshbus/internal/util/logger"
)

var log = logger.Logger("config")

// DiscoveryPort is the UDP port the discovery layer broadcasts and
// listens on.
const DiscoveryPort = 11312

// Config is the internal configuration every subsystem constructor takes.
type Config struct {
	// Network carries host address and partition overrides.
	Network NetworkConfig

	// Discovery carries the tunable discovery intervals.
	Discovery DiscoveryConfig
}

// NetworkConfig resolves the local address meshbus advertises and the
// partition it isolates itself into.
type NetworkConfig struct {
	// HostAddr overrides address auto-detection when non-empty. Set via
	// MESHBUS_IP.
	HostAddr string

	// Partition isolates discovery traffic: two nodes with different
	// partitions never see each other regardless of scope. Set via
	// MESHBUS_PARTITION; defaults to "<hostname>:<username>".
	Partition string
}

// DiscoveryConfig holds the three periodic-task intervals and the silence
// window after which a remote beacon is considered gone.
type DiscoveryConfig struct {
	// ActivityInterval paces the activity-scanning task.
	ActivityInterval time.Duration

	// HeartbeatInterval paces outbound Hello broadcasts.
	HeartbeatInterval time.Duration

	// AdvertiseInterval paces beacon retransmission of Adv/AdvSrv
	// announcements.
	AdvertiseInterval time.Duration

	// SilenceInterval is how long a beacon may go unheard before its
	// publishers are evicted.
	SilenceInterval time.Duration
}

// DefaultDiscoveryConfig returns the interval defaults used absent any
// explicit SetXInterval call.
func DefaultDiscoveryConfig() DiscoveryConfig {
	return DiscoveryConfig{
		ActivityInterval:  100 * time.Millisecond,
		HeartbeatInterval: 1000 * time.Millisecond,
		AdvertiseInterval: 1000 * time.Millisecond,
		SilenceInterval:   3000 * time.Millisecond,
	}
}

// NewConfig resolves a Config from the process environment.
func NewConfig() *Config {
	return &Config{
		Network:   networkConfigFromEnv(),
		Discovery: DefaultDiscoveryConfig(),
	}
}

func networkConfigFromEnv() NetworkConfig {
	cfg := NetworkConfig{
		Partition: os.Getenv("MESHBUS_PARTITION"),
	}
	if addr, set := os.LookupEnv("MESHBUS_IP"); set {
		if addr == "" {
			log.Warn("MESHBUS_IP is set but empty; ignoring")
		} else {
			cfg.HostAddr = addr
		}
	}
	if cfg.Partition == "" {
		cfg.Partition = defaultPartition()
	}
	return cfg
}

// defaultPartition builds "<hostname>:<username>", matching the way a
// bare process distinguishes itself from others sharing a host without
// requiring any configuration.
func defaultPartition() string {
	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}
	name := "unknown"
	if u, err := user.Current(); err == nil && u.Username != "" {
		name = u.Username
	}
	return host + ":" + name
}

// ParseIntervalEnv parses a millisecond duration from an environment
// variable, returning fallback if unset or invalid.
func ParseIntervalEnv(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	ms, err := strconv.Atoi(raw)
	if err != nil || ms <= 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}

// String renders the partition and host override for log lines.
func (n NetworkConfig) String() string {
	addr := n.HostAddr
	if addr == "" {
		addr = "<auto>"
	}
	return fmt.Sprintf("partition=%s host=%s", n.Partition, addr)
}
