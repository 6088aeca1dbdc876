// Package config holds the TURN client's configuration surface, loaded
// with viper (the teacher's own config-loading dependency) instead of the
// bare os.ReadFile+yaml.Unmarshal the teacher's types.go used directly.
// Shape (TURNServerConfig, DefaultConfig) is carried over from the
// teacher's pkg/config/types.go, trimmed to what a TURN client transport
// needs — the libp2p node-identity/DHT/discovery fields belonged to the
// embedding P2P node, not this module.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// TURNServerConfig describes one TURN server the client may allocate
// against. Carried over field-for-field from the teacher's
// pkg/config/types.go TURNServerConfig.
type TURNServerConfig struct {
	Address   string `mapstructure:"address"`
	Port      int    `mapstructure:"port"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	Realm     string `mapstructure:"realm"`
	Transport string `mapstructure:"transport"` // "udp", "tcp", or "tls"
}

// ClientConfig is the TURN client transport's full configuration.
type ClientConfig struct {
	Servers []TURNServerConfig `mapstructure:"servers"`

	// Allocation lifetime requested on Allocate/Refresh.
	Lifetime time.Duration `mapstructure:"lifetime"`

	// PortMin/PortMax bound the local socket bind-retry range; 0/0 lets
	// the OS choose.
	PortMin uint16 `mapstructure:"port_min"`
	PortMax uint16 `mapstructure:"port_max"`

	MaxPacketSize int `mapstructure:"max_packet_size"`

	QoSType        string `mapstructure:"qos_type"` // "best_effort","background","video","voice","control"
	QoSIgnoreError bool   `mapstructure:"qos_ignore_error"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	Manager ManagerSettings `mapstructure:"manager"`

	MetricsAddr string `mapstructure:"metrics_addr"` // empty disables the /metrics listener
}

// ManagerSettings mirrors ManagerConfig's fields for file/env loading.
type ManagerSettings struct {
	MinAllocations      int           `mapstructure:"min_allocations"`
	MaxAllocations      int           `mapstructure:"max_allocations"`
	HealthCheckInterval time.Duration `mapstructure:"health_check_interval"`
	IdleTimeout         time.Duration `mapstructure:"idle_timeout"`
}

// DefaultConfig returns a ClientConfig with the teacher's style of sane
// defaults for every field an operator would otherwise have to set.
func DefaultConfig() *ClientConfig {
	return &ClientConfig{
		Lifetime:       600 * time.Second,
		MaxPacketSize:  1500,
		QoSType:        "best_effort",
		QoSIgnoreError: true,
		LogLevel:       "info",
		LogFormat:      "json",
		Manager: ManagerSettings{
			MinAllocations:      0,
			MaxAllocations:      16,
			HealthCheckInterval: 30 * time.Second,
			IdleTimeout:         5 * time.Minute,
		},
	}
}

// Load reads configuration from path (if non-empty), environment
// variables prefixed TURNCLIENT_, and finally the built-in defaults, in
// viper's usual precedence order (explicit Set > flag > env > config file
// > default).
func Load(path string) (*ClientConfig, error) {
	v := viper.New()
	v.SetEnvPrefix("TURNCLIENT")
	v.AutomaticEnv()

	def := DefaultConfig()
	v.SetDefault("lifetime", def.Lifetime)
	v.SetDefault("max_packet_size", def.MaxPacketSize)
	v.SetDefault("qos_type", def.QoSType)
	v.SetDefault("qos_ignore_error", def.QoSIgnoreError)
	v.SetDefault("log_level", def.LogLevel)
	v.SetDefault("log_format", def.LogFormat)
	v.SetDefault("manager.min_allocations", def.Manager.MinAllocations)
	v.SetDefault("manager.max_allocations", def.Manager.MaxAllocations)
	v.SetDefault("manager.health_check_interval", def.Manager.HealthCheckInterval)
	v.SetDefault("manager.idle_timeout", def.Manager.IdleTimeout)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
	}

	var cfg ClientConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}
