package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmcleod/credshield/engine"
)

var genpassLength int

var genpassCmd = &cobra.Command{
	Use:   "genpass",
	Short: "Generate a random alphanumeric password",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if genpassLength < 8 {
			return fmt.Errorf("length must be at least 8, got %d", genpassLength)
		}
		e := engine.New(engine.NativeLoader(cfg.KDFConfig()), engine.WithLogger(newLogger(cmd)))
		s, err := e.RandomString(genpassLength)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), s)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(genpassCmd)
	genpassCmd.Flags().IntVarP(&genpassLength, "length", "n", 20, "Password length")
}
