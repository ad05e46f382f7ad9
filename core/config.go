package core

import (
	"time"

	"synnergy-network/pkg/config"
)

// GossipConfigFromAppConfig translates the gossip section of a loaded
// pkg/config.Config into the GossipConfig the engine expects, falling back
// to DefaultGossipConfig's values for any zero field.
func GossipConfigFromAppConfig(c *config.Config) GossipConfig {
	d := DefaultGossipConfig()
	g := c.Gossip

	cfg := GossipConfig{
		GossipInterval:     durationOrDefault(g.IntervalMS, d.GossipInterval),
		GossipSyncMaxDelay: durationOrDefault(g.SyncMaxDelayMS, d.GossipSyncMaxDelay),
		GossipFanout:       intOrDefault(g.Fanout, d.GossipFanout),
		GossipCollectTime:  durationOrDefault(g.CollectTimeMS, d.GossipCollectTime),
		PushGossipFanout:   intOrDefault(g.PushFanout, d.PushGossipFanout),
		PushGossipTTL:      d.PushGossipTTL,
		RelayedCacheSize:   intOrDefault(g.RelayedCacheSize, d.RelayedCacheSize),
		InboxQueueSize:     intOrDefault(g.InboxQueueSize, d.InboxQueueSize),
	}
	if g.PushTTL > 0 {
		cfg.PushGossipTTL = uint8(g.PushTTL)
	}
	return cfg
}

// NetworkConfigFromAppConfig translates the network section of a loaded
// pkg/config.Config into the NetworkConfig transport.go's NewNode expects.
func NetworkConfigFromAppConfig(c *config.Config) NetworkConfig {
	return NetworkConfig{
		ListenAddr:     c.Network.ListenAddr,
		BootstrapPeers: c.Network.BootstrapPeers,
		DiscoveryTag:   c.Network.DiscoveryTag,
	}
}

// ChainIndexOptionsFromAppConfig returns (cacheSize, maxExtraDots) for
// NewChainIndexWithOptions, falling back to the package defaults.
func ChainIndexOptionsFromAppConfig(c *config.Config) (cacheSize, maxExtraDots int) {
	cacheSize = intOrDefault(c.ChainIndex.ClosureCacheSize, DefaultClosureCacheSize)
	maxExtraDots = intOrDefault(c.ChainIndex.MaxExtraDots, DefaultMaxExtraDots)
	return cacheSize, maxExtraDots
}

func durationOrDefault(ms int, fallback time.Duration) time.Duration {
	if ms <= 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}

func intOrDefault(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}
