package main

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// bullydConfig is the recipient of the YAML configuration. Every key can be
// overridden through the environment with a BULLYD_ prefix, e.g.
// BULLYD_METRICS_ENDPOINT.
type bullydConfig struct {
	Cluster struct {
		// Nodes in cluster, address:port, as required and documented in the
		// bully package. A node's position in this list is its ordinal ID.
		Nodes []string `mapstructure:"nodes"`
		// StartupDelay staggers first elections on a cold cluster boot.
		StartupDelay time.Duration `mapstructure:"startup_delay"`
	} `mapstructure:"cluster"`

	Timers struct {
		ElectionTimeout       time.Duration `mapstructure:"election_timeout"`
		HeartbeatInterval     time.Duration `mapstructure:"heartbeat_interval"`
		MasterLivenessTimeout time.Duration `mapstructure:"master_liveness_timeout"`
		SlaveLivenessTimeout  time.Duration `mapstructure:"slave_liveness_timeout"`
		RPCTimeout            time.Duration `mapstructure:"rpc_timeout"`
	} `mapstructure:"timers"`

	Logging struct {
		Level    string `mapstructure:"level"`
		Encoding string `mapstructure:"encoding"`
		File     string `mapstructure:"file"`
	} `mapstructure:"logging"`

	Metrics struct {
		// e.g. localhost:9000; empty disables the HTTP endpoint (and with it
		// /healthz).
		Endpoint  string `mapstructure:"endpoint"`
		Path      string `mapstructure:"path"`
		Namespace string `mapstructure:"namespace"`
		Detailed  bool   `mapstructure:"detailed"`
	} `mapstructure:"metrics"`
}

// loadConfig loads configuration from file and environment.
func loadConfig(configPath string) (*bullydConfig, error) {

	v := viper.New()
	v.SetConfigName("bullyd")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/bullyd")
	}

	setDefaults(v)

	v.SetEnvPrefix("BULLYD")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg bullydConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if len(cfg.Cluster.Nodes) < 2 {
		return nil, fmt.Errorf("cluster.nodes must list at least 2 endpoints, got %d", len(cfg.Cluster.Nodes))
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Timer defaults mirror the bully package defaults; having them here
	// makes a dumped effective configuration self-describing.
	v.SetDefault("cluster.startup_delay", "0s")
	v.SetDefault("timers.election_timeout", "10s")
	v.SetDefault("timers.heartbeat_interval", "5s")
	v.SetDefault("timers.master_liveness_timeout", "15s")
	v.SetDefault("timers.slave_liveness_timeout", "15s")
	v.SetDefault("timers.rpc_timeout", "3s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.encoding", "console")
	v.SetDefault("logging.file", "")

	v.SetDefault("metrics.endpoint", "")
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.namespace", "bullyd")
	v.SetDefault("metrics.detailed", false)
}
