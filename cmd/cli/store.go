// -----------------------------------------------------------------------------
// store.go – shared chain-store middleware
// -----------------------------------------------------------------------------
// Every other file in this package depends on storeInitMiddleware having
// opened the block store and built a *core.Manager; it is wired in as each
// command tree's PersistentPreRunE, guarded by sync.Once so opening the
// on-disk database happens exactly once per process regardless of how many
// subcommand trees get registered.
// -----------------------------------------------------------------------------

package cli

import (
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"synnergy-network/core"
	"synnergy-network/pkg/config"
	"synnergy-network/pkg/utils"
)

var (
	storeManager *core.Manager
	storeCfg     config.Config
	storeOnce    sync.Once
)

// storeInitMiddleware opens the block store and constructs the shared
// Manager. It first tries pkg/config.LoadFromEnv, the same
// viper-backed YAML-plus-environment loader the teacher's own commands use;
// when no config file is present (the common case for a bare `chainstore
// block create ...` with no setup) it falls back to building storeCfg
// straight from environment variables, since GossipConfigFromAppConfig and
// ChainIndexOptionsFromAppConfig in core/config.go treat a zero field as
// "use the default".
func storeInitMiddleware(cmd *cobra.Command, _ []string) error {
	var err error
	storeOnce.Do(func() {
		lvl := utils.EnvOrDefault("CHAINSTORE_LOG_LEVEL", "info")
		lv, e := logrus.ParseLevel(lvl)
		if e != nil {
			err = e
			return
		}
		logrus.SetLevel(lv)

		if loaded, loadErr := config.LoadFromEnv(); loadErr == nil {
			storeCfg = *loaded
		}
		if storeCfg.Storage.DBPath == "" {
			storeCfg.Storage.DBPath = utils.EnvOrDefault("CHAINSTORE_DB_PATH", "./chainstore.db")
		}
		if storeCfg.ChainIndex.ClosureCacheSize == 0 {
			storeCfg.ChainIndex.ClosureCacheSize = utils.EnvOrDefaultInt("CHAINSTORE_CACHE_SIZE", 0)
		}
		if storeCfg.ChainIndex.MaxExtraDots == 0 {
			storeCfg.ChainIndex.MaxExtraDots = utils.EnvOrDefaultInt("CHAINSTORE_MAX_EXTRA_DOTS", 0)
		}
		if storeCfg.Network.ListenAddr == "" {
			storeCfg.Network.ListenAddr = utils.EnvOrDefault("CHAINSTORE_LISTEN_ADDR", "/ip4/0.0.0.0/tcp/0")
		}
		if storeCfg.Network.DiscoveryTag == "" {
			storeCfg.Network.DiscoveryTag = utils.EnvOrDefault("CHAINSTORE_DISCOVERY_TAG", "chainstore-mdns")
		}
		if storeCfg.Network.Protocol == "" {
			storeCfg.Network.Protocol = utils.EnvOrDefault("CHAINSTORE_PROTOCOL", "/chainstore/gossip/1.0.0")
		}

		store, e := core.OpenBlockStore(storeCfg.Storage.DBPath)
		if e != nil {
			err = fmt.Errorf("open block store: %w", e)
			return
		}

		cacheSize, maxExtraDots := core.ChainIndexOptionsFromAppConfig(&storeCfg)
		storeManager = core.NewManager(store, logrus.NewEntry(logrus.StandardLogger()), cacheSize, maxExtraDots)
	})
	return err
}

// storeParseChainID decodes a hex-encoded chain identifier, as printed by
// every command in this package.
func storeParseChainID(s string) (core.ChainId, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return "", fmt.Errorf("invalid chain id %q: %w", s, err)
	}
	return core.ChainId(b), nil
}

// storeParseHash decodes a hex-encoded 32-byte block hash.
func storeParseHash(s string) (core.Hash, error) {
	var h core.Hash
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != len(h) {
		return h, fmt.Errorf("invalid hash %q: expected %d hex bytes", s, len(h))
	}
	copy(h[:], b)
	return h, nil
}

// storeParseShortHash decodes a hex-encoded short-hash prefix.
func storeParseShortHash(s string) (core.ShortHash, error) {
	var sh core.ShortHash
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != len(sh) {
		return sh, fmt.Errorf("invalid short hash %q: expected %d hex bytes", s, len(sh))
	}
	copy(sh[:], b)
	return sh, nil
}
