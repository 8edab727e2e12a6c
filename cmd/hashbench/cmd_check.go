package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/user/hashbench/internal/gen"
)

var checkCmd = &cobra.Command{
	Use:   "check <hash>",
	Short: "Check whether a record exists in the sink (hex or base64)",
	Args:  cobra.ExactArgs(1),
	RunE:  runCheck,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print sink storage statistics",
	RunE:  runStats,
}

func init() {
	addClientFlags(checkCmd, statsCmd)
	rootCmd.AddCommand(checkCmd, statsCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	record, err := gen.Decode(args[0])
	if err != nil {
		return err
	}

	result, err := newClient().Check(context.Background(), record)
	exitOnError(err)

	if outputJSON {
		printJSON(result)
		return nil
	}
	fmt.Println(result.Message)
	if len(result.MerkleProof) > 0 {
		fmt.Printf("merkle proof: %d levels\n", len(result.MerkleProof))
	}
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	result, err := newClient().Stats(context.Background())
	exitOnError(err)

	if outputJSON {
		printJSON(result)
		return nil
	}
	fmt.Printf("records:        %d\n", result.Count)
	fmt.Printf("occupied slots: %d / %d\n", result.Slots, result.TotalSlots)
	fmt.Printf("tree size:      %d\n", result.MerkleTreeSize)
	if result.MerkleTreeRoot != "" {
		fmt.Printf("tree root:      %s\n", result.MerkleTreeRoot)
	}
	return nil
}
