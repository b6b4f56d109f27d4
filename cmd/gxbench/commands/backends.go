package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gogpu/gx/backend"
	_ "github.com/gogpu/gx/backend/trace" // registers trace
)

var backendsCmd = &cobra.Command{
	Use:   "backends",
	Short: "List registered backends",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		for _, name := range backend.Available() {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(backendsCmd)
}
