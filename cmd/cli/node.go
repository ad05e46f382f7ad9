// -----------------------------------------------------------------------------
// node.go – run a full gossiping node
// -----------------------------------------------------------------------------
// Commands exposed after `RegisterNode(rootCmd)`:
//   ~node ~run <chain-id-hex> [<chain-id-hex> ...]
// Starts a libp2p transport and the gossip engine for each named chain and
// blocks until interrupted.
// -----------------------------------------------------------------------------

package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"synnergy-network/core"
)

func nodeHandleRun(cmd *cobra.Command, args []string) error {
	node, err := core.NewNode(core.NetworkConfigFromAppConfig(&storeCfg), logrus.NewEntry(logrus.StandardLogger()))
	if err != nil {
		return fmt.Errorf("start transport: %w", err)
	}

	engine := core.NewGossipEngine(
		storeManager,
		node,
		node.ID(),
		storeCfg.Network.Protocol,
		core.GossipConfigFromAppConfig(&storeCfg),
		core.NewSystemRNG(),
		logrus.NewEntry(logrus.StandardLogger()),
	)
	engine.Start()
	for _, arg := range args {
		chainID, err := storeParseChainID(arg)
		if err != nil {
			return err
		}
		engine.StartChain(chainID)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "node listening on %s, gossiping %d chain(s); ctrl-c to stop\n", storeCfg.Network.ListenAddr, len(args))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	engine.Shutdown()
	return storeManager.Close()
}

var nodeRootCmd = &cobra.Command{
	Use:               "node",
	Short:             "Run a gossiping chain-store node",
	PersistentPreRunE: storeInitMiddleware,
}

var nodeRunCmd = &cobra.Command{
	Use:   "run <chain-id-hex>...",
	Short: "Start the transport and gossip engine for the given chains",
	Args:  cobra.MinimumNArgs(1),
	RunE:  nodeHandleRun,
}

func init() {
	nodeRootCmd.AddCommand(nodeRunCmd)
}

// NodeCmd is the exported root of the node command tree.
var NodeCmd = nodeRootCmd

// RegisterNode attaches the node command tree to root.
func RegisterNode(root *cobra.Command) { root.AddCommand(NodeCmd) }
