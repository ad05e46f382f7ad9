package config

// Package config provides a reusable loader for chain-store configuration
// files and environment variables. It is versioned so that applications
// can depend on a stable API contract.
//
// Version: v0.2.0

import (
	"fmt"

	"github.com/spf13/viper"

	"synnergy-network/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.2.0"

// Config is the unified configuration for a chain-store node: its network
// transport, its chain-index sizing knobs, its gossip timing, and its
// storage/logging settings. It mirrors the structure of the YAML files
// that Load reads from cmd/config or config.
type Config struct {
	Network struct {
		ListenAddr     string   `mapstructure:"listen_addr" json:"listen_addr"`
		DiscoveryTag   string   `mapstructure:"discovery_tag" json:"discovery_tag"`
		BootstrapPeers []string `mapstructure:"bootstrap_peers" json:"bootstrap_peers"`
		Protocol       string   `mapstructure:"protocol" json:"protocol"`
	} `mapstructure:"network" json:"network"`

	ChainIndex struct {
		ClosureCacheSize int `mapstructure:"closure_cache_size" json:"closure_cache_size"`
		MaxExtraDots     int `mapstructure:"max_extra_dots" json:"max_extra_dots"`
	} `mapstructure:"chain_index" json:"chain_index"`

	Gossip struct {
		IntervalMS         int `mapstructure:"interval_ms" json:"interval_ms"`
		SyncMaxDelayMS     int `mapstructure:"sync_max_delay_ms" json:"sync_max_delay_ms"`
		Fanout             int `mapstructure:"fanout" json:"fanout"`
		CollectTimeMS      int `mapstructure:"collect_time_ms" json:"collect_time_ms"`
		PushFanout         int `mapstructure:"push_fanout" json:"push_fanout"`
		PushTTL            int `mapstructure:"push_ttl" json:"push_ttl"`
		RelayedCacheSize   int `mapstructure:"relayed_cache_size" json:"relayed_cache_size"`
		InboxQueueSize     int `mapstructure:"inbox_queue_size" json:"inbox_queue_size"`
	} `mapstructure:"gossip" json:"gossip"`

	Storage struct {
		DBPath string `mapstructure:"db_path" json:"db_path"`
	} `mapstructure:"storage" json:"storage"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Load reads configuration files and merges any environment specific
// overrides. The resulting configuration is stored in AppConfig and returned.
//
// The function uses the provided environment name to merge additional config
// files. If env is empty, only the default configuration is loaded.
func Load(env string) (*Config, error) {
	viper.SetConfigName("default")
	viper.AddConfigPath("cmd/config")
	viper.AddConfigPath("config")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		return nil, utils.Wrap(err, "load config")
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
		}
	}

	viper.AutomaticEnv() // picks up matching environment variables

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the CHAINSTORE_ENV environment
// variable.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("CHAINSTORE_ENV", ""))
}
