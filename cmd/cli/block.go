// -----------------------------------------------------------------------------
// block.go – create and inspect blocks
// -----------------------------------------------------------------------------
// Commands exposed after `RegisterBlock(rootCmd)`:
//   ~block ~create <type> <tx-payload> [--com-id id] [--com-prefix hex]
//   ~block ~show   <chain-id-hex> <seq> <short-hash-hex>
// -----------------------------------------------------------------------------

package cli

import (
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"synnergy-network/core"
)

func blockHandleCreate(cmd *cobra.Command, args []string) error {
	signer, err := loadOrCreateSigner(keyPath())
	if err != nil {
		return err
	}

	comID, _ := cmd.Flags().GetString("com-id")
	comPrefixHex, _ := cmd.Flags().GetString("com-prefix")
	var comPrefix []byte
	if comPrefixHex != "" {
		comPrefix, err = hex.DecodeString(comPrefixHex)
		if err != nil {
			return fmt.Errorf("invalid --com-prefix: %w", err)
		}
	}

	b, err := storeManager.CreateSignedBlock(core.CreateBlockParams{
		BlockType:          []byte(args[0]),
		Transaction:        []byte(args[1]),
		ComPrefix:          comPrefix,
		ComID:              []byte(comID),
		UseConsistentLinks: true,
	}, signer)
	if err != nil {
		return fmt.Errorf("create signed block: %w", err)
	}

	blob, err := b.Encode()
	if err != nil {
		return fmt.Errorf("encode block: %w", err)
	}
	if err := storeManager.AddBlock(blob, b, b.BlockType); err != nil {
		return fmt.Errorf("add block: %w", err)
	}

	h := b.Hash()
	fmt.Fprintf(cmd.OutOrStdout(), "hash=%s personal_chain=%s seq=%d\n", h.Hex(), hex.EncodeToString([]byte(b.PersonalChainID())), b.SeqNum)
	if b.HasCommunity() {
		fmt.Fprintf(cmd.OutOrStdout(), "community_chain=%s community_seq=%d\n", hex.EncodeToString([]byte(b.CommunityChainID())), b.ComSeqNum)
	}
	return nil
}

func blockHandleShow(cmd *cobra.Command, args []string) error {
	chainID, err := storeParseChainID(args[0])
	if err != nil {
		return err
	}
	seq, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid seq %q: %w", args[1], err)
	}
	short, err := storeParseShortHash(args[2])
	if err != nil {
		return err
	}

	blob, ok := storeManager.GetBlockBlobByDot(chainID, core.Dot{Seq: core.SeqNum(seq), Short: short})
	if !ok {
		return fmt.Errorf("no block at chain=%s seq=%d short=%s", args[0], seq, short)
	}
	blk, err := core.DecodeBlock(blob)
	if err != nil {
		return fmt.Errorf("decode block: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "hash=%s type=%s seq=%d timestamp=%d\n",
		blk.Hash().Hex(), string(blk.BlockType), blk.SeqNum, blk.Timestamp)
	fmt.Fprintf(cmd.OutOrStdout(), "previous=%v links=%v\n", blk.Previous, blk.Links)
	return nil
}

var blockRootCmd = &cobra.Command{
	Use:               "block",
	Short:             "Block creation and inspection",
	PersistentPreRunE: storeInitMiddleware,
}

var blockCreateCmd = &cobra.Command{
	Use:   "create <type> <tx-payload>",
	Short: "Sign, persist and index a new block extending the author's consistent terminal",
	Args:  cobra.ExactArgs(2),
	RunE:  blockHandleCreate,
}

var blockShowCmd = &cobra.Command{
	Use:   "show <chain-id-hex> <seq> <short-hash-hex>",
	Short: "Show the block stored at a given dot",
	Args:  cobra.ExactArgs(3),
	RunE:  blockHandleShow,
}

func init() {
	blockCreateCmd.Flags().String("com-id", "", "community id this block should join")
	blockCreateCmd.Flags().String("com-prefix", "", "hex-encoded community prefix")
	blockRootCmd.AddCommand(blockCreateCmd, blockShowCmd)
}

// BlockCmd is the exported root of the block command tree.
var BlockCmd = blockRootCmd

// RegisterBlock attaches the block command tree to root.
func RegisterBlock(root *cobra.Command) { root.AddCommand(BlockCmd) }
