// Package config is the gateway's layered configuration: flags over
// environment over a config file, via github.com/spf13/viper bound to
// github.com/spf13/cobra flags, generalized from mtdepin-gateway's
// viper-backed maitian/config package, since minio's own pkg/quick/
// pkg/env subsystem is tied to its own on-disk config file format
// (SPEC_FULL §2 Configuration).
package config

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Config holds every knob spec.md §4.13/§9 names.
type Config struct {
	ListenAddr  string
	MetricsAddr string

	RingPollInterval time.Duration

	CheckStreamIdleTimeout time.Duration
	SocketTimeout          time.Duration

	MaxObjectSize      int64
	MaxDurabilityLevel int

	ThrottleSlots int
	ThrottleQueue int

	EtcdEndpoints []string
	EtcdKey       string

	StorageLayoutVersion int

	// StorageNodes is the static storage-node inventory, one entry per
	// node as "datacenter,storage_id,base_url" (SPEC_FULL §1 Out of
	// scope collaborator, given a minimal static implementation here so
	// cmd/gatewayd has something concrete to wire).
	StorageNodes []string
}

// BindFlags registers every config knob as a persistent flag on cmd
// and binds it into v, so flags > env > file precedence falls out of
// viper's own resolution order.
func BindFlags(cmd *cobra.Command, v *viper.Viper) {
	flags := cmd.PersistentFlags()

	flags.String("listen-addr", ":8080", "HTTP listen address")
	flags.String("metrics-addr", ":9090", "Prometheus scrape listen address")
	flags.Duration("ring-poll-interval", 30*time.Minute, "placement ring refresh interval")
	flags.Duration("checkstream-idle-timeout", 60*time.Second, "max idle time on a streaming body before abort")
	flags.Duration("socket-timeout", 10*time.Second, "dial/connect timeout to shards and storage nodes")
	flags.Int64("max-object-size", 5*1024*1024*1024, "maximum accepted object size in bytes")
	flags.Int("max-durability-level", 6, "upper clamp on a request's Durability-Level header")
	flags.Int("throttle-slots", 512, "concurrent in-flight request admission slots")
	flags.Int("throttle-queue", 1024, "FIFO wait queue depth behind the admission slots")
	flags.StringSlice("etcd-endpoints", []string{"127.0.0.1:2379"}, "etcd endpoints serving the placement ring")
	flags.String("etcd-key", "/objectgw/ring", "etcd key holding the current placement ring snapshot")
	flags.Int("storage-layout-version", 2, "default storage_layout_version stamped onto new objects")
	flags.StringSlice("storage-nodes", nil, "storage-node inventory, repeated as datacenter,storage_id,base_url")

	v.SetEnvPrefix("OBJECTGW")
	v.AutomaticEnv()
	_ = v.BindPFlags(flags)
}

// Load materializes a Config from v after flags have been parsed.
func Load(v *viper.Viper) (*Config, error) {
	c := &Config{
		ListenAddr:             v.GetString("listen-addr"),
		MetricsAddr:            v.GetString("metrics-addr"),
		RingPollInterval:       v.GetDuration("ring-poll-interval"),
		CheckStreamIdleTimeout: v.GetDuration("checkstream-idle-timeout"),
		SocketTimeout:          v.GetDuration("socket-timeout"),
		MaxObjectSize:          v.GetInt64("max-object-size"),
		MaxDurabilityLevel:     v.GetInt("max-durability-level"),
		ThrottleSlots:          v.GetInt("throttle-slots"),
		ThrottleQueue:          v.GetInt("throttle-queue"),
		EtcdEndpoints:          v.GetStringSlice("etcd-endpoints"),
		EtcdKey:                v.GetString("etcd-key"),
		StorageLayoutVersion:   v.GetInt("storage-layout-version"),
		StorageNodes:           v.GetStringSlice("storage-nodes"),
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) validate() error {
	if c.MaxDurabilityLevel < 1 {
		return fmt.Errorf("config: max-durability-level must be >= 1, got %d", c.MaxDurabilityLevel)
	}
	if c.ThrottleSlots < 1 {
		return fmt.Errorf("config: throttle-slots must be >= 1, got %d", c.ThrottleSlots)
	}
	if len(c.EtcdEndpoints) == 0 {
		return fmt.Errorf("config: etcd-endpoints must not be empty")
	}
	if c.StorageLayoutVersion != 1 && c.StorageLayoutVersion != 2 {
		return fmt.Errorf("config: storage-layout-version must be 1 or 2, got %d", c.StorageLayoutVersion)
	}
	return nil
}

// ClampDurabilityLevel applies the [1, MaxDurabilityLevel] clamp spec.md
// §4.6 parseArguments requires on an incoming Durability-Level header.
func (c *Config) ClampDurabilityLevel(requested int) int {
	if requested <= 0 {
		requested = 2 // spec.md §4.6 default
	}
	if requested > c.MaxDurabilityLevel {
		return c.MaxDurabilityLevel
	}
	return requested
}
