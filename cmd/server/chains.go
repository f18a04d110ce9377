package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rabby-mobile/provider-core/internal/chains"
)

func loadChains(path string) (*chains.Registry, error) {
	registry := chains.NewRegistry()
	if path == "" {
		return registry, nil
	}
	if err := registry.LoadFile(path); err != nil {
		return nil, err
	}
	return registry, nil
}

func newChainsCmd(v *viper.Viper) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "chains",
		Short: "List the chains the provider serves",
		RunE: func(cmd *cobra.Command, _ []string) error {
			v.AutomaticEnv()
			registry, err := loadChains(v.GetString("CHAINS_FILE"))
			if err != nil {
				return err
			}
			list := registry.List()
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(list)
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ENUM\tID\tSERVER ID\tNAME\tSUBMIT\tTESTNET")
			for _, c := range list {
				submit := "relay"
				switch {
				case c.IsTestnet:
					submit = "direct"
				case c.FrontendPush:
					submit = "push"
				}
				fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%t\n", c.Enum, c.ID, c.ServerID, c.Name, submit, c.IsTestnet)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}
