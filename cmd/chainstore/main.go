// Command chainstore is the thin entrypoint wiring together every command
// tree registered under cmd/cli (RegisterBlock, RegisterChain, RegisterNode).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"synnergy-network/cmd/cli"
)

func main() {
	rootCmd := &cobra.Command{Use: "chainstore", Short: "DAG chain-store node and tooling"}
	cli.RegisterBlock(rootCmd)
	cli.RegisterChain(rootCmd)
	cli.RegisterNode(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
