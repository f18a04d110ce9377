package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newRootCmd() *cobra.Command {
	v := viper.New()
	root := &cobra.Command{
		Use:           "provider-server",
		Short:         "Dapp provider bridge for the wallet",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("chains-file", "", "TOML file overlaying the built-in chain table")
	_ = v.BindPFlag("CHAINS_FILE", root.PersistentFlags().Lookup("chains-file"))

	root.AddCommand(newServeCmd(v), newChainsCmd(v))
	return root
}
