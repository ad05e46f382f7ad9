// -----------------------------------------------------------------------------
// chain.go – inspect a chain's frontier, holes and terminal
// -----------------------------------------------------------------------------
// Commands exposed after `RegisterChain(rootCmd)`:
//   ~chain ~frontier <chain-id-hex>
//   ~chain ~holes    <chain-id-hex>
//   ~chain ~terminal <chain-id-hex>
// -----------------------------------------------------------------------------

package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func chainHandleFrontier(cmd *cobra.Command, args []string) error {
	chainID, err := storeParseChainID(args[0])
	if err != nil {
		return err
	}
	f := storeManager.GetChain(chainID).Frontier()
	fmt.Fprintf(cmd.OutOrStdout(), "terminal=%v\n", f.Terminal)
	fmt.Fprintf(cmd.OutOrStdout(), "holes=%v\n", f.Holes.ToSlice())
	fmt.Fprintf(cmd.OutOrStdout(), "inconsistencies=%v\n", f.Inconsistencies)
	return nil
}

func chainHandleHoles(cmd *cobra.Command, args []string) error {
	chainID, err := storeParseChainID(args[0])
	if err != nil {
		return err
	}
	holes := storeManager.GetChain(chainID).Holes()
	fmt.Fprintf(cmd.OutOrStdout(), "%v\n", holes.ToSlice())
	return nil
}

func chainHandleTerminal(cmd *cobra.Command, args []string) error {
	chainID, err := storeParseChainID(args[0])
	if err != nil {
		return err
	}
	chain := storeManager.GetChain(chainID)
	fmt.Fprintf(cmd.OutOrStdout(), "terminal=%v\n", chain.Terminal())
	fmt.Fprintf(cmd.OutOrStdout(), "consistent_terminal=%v\n", chain.ConsistentTerminal())
	return nil
}

var chainRootCmd = &cobra.Command{
	Use:               "chain",
	Short:             "Inspect a chain's frontier state",
	PersistentPreRunE: storeInitMiddleware,
}

var chainFrontierCmd = &cobra.Command{
	Use:   "frontier <chain-id-hex>",
	Short: "Print the full frontier (terminal, holes, inconsistencies)",
	Args:  cobra.ExactArgs(1),
	RunE:  chainHandleFrontier,
}

var chainHolesCmd = &cobra.Command{
	Use:   "holes <chain-id-hex>",
	Short: "Print the set of missing sequence numbers",
	Args:  cobra.ExactArgs(1),
	RunE:  chainHandleHoles,
}

var chainTerminalCmd = &cobra.Command{
	Use:   "terminal <chain-id-hex>",
	Short: "Print the terminal and consistent-terminal dots",
	Args:  cobra.ExactArgs(1),
	RunE:  chainHandleTerminal,
}

func init() {
	chainRootCmd.AddCommand(chainFrontierCmd, chainHolesCmd, chainTerminalCmd)
}

// ChainCmd is the exported root of the chain command tree.
var ChainCmd = chainRootCmd

// RegisterChain attaches the chain command tree to root.
func RegisterChain(root *cobra.Command) { root.AddCommand(ChainCmd) }
