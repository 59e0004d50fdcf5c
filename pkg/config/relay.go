package config

import (
	"time"

	"github.com/spf13/pflag"
)

type RelayConfig struct {
	Relay Relay
}

type Relay struct {
	Debug      bool
	Monitoring Monitoring
	Origin     string
	Server     Server
	// SweepInterval sets how often empty rooms are garbage collected.
	SweepInterval time.Duration `fig:"sweep_interval" default:"5m"`
}

// allows custom config path
var relayConfigPath string

func NewRelayConfig() (conf RelayConfig) {
	if err := LoadConfig(&conf, relayConfigPath); err != nil {
		panic(err)
	}
	return
}

func (c *RelayConfig) WithFlags(fs *pflag.FlagSet) *RelayConfig {
	c.Relay.Server.WithFlags(fs)
	fs.BoolVar(&c.Relay.Debug, "debug", c.Relay.Debug, "Enable debug logs")
	fs.IntVar(&c.Relay.Monitoring.Port, "monitoring.port", c.Relay.Monitoring.Port, "Monitoring server port")
	fs.StringVarP(&relayConfigPath, "conf", "c", relayConfigPath, "Set custom configuration file path")
	return c
}
