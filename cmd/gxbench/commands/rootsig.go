package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gogpu/gx/rootsig"
)

var rootsigCmd = &cobra.Command{
	Use:   "rootsig <file>",
	Short: "Validate a root-signature file and print it",
	Long: `Load a root-signature description (.yaml, .yml, .toml or .json),
validate it and print it in the format chosen with --to.`,
	Args: cobra.ExactArgs(1),
	RunE: runRootSig,
}

func init() {
	rootsigCmd.Flags().String("to", "yaml", "output format: yaml, toml or json")
	rootCmd.AddCommand(rootsigCmd)
}

func runRootSig(cmd *cobra.Command, args []string) error {
	md, err := rootsig.LoadFile(args[0])
	if err != nil {
		return err
	}
	to, _ := cmd.Flags().GetString("to")
	format, err := rootsig.FormatFromPath("out." + to)
	if err != nil {
		return err
	}
	out, err := rootsig.Marshal(md, format)
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "# %s: %d parameters, %d table descriptors\n", args[0], md.NumParameters(), md.TotalCapacity())
	_, err = w.Write(out)
	return err
}
