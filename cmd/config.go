// File: cmd/config.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newConfigCmd(state *appState) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the resolved configuration",
	}

	configCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Prints the configuration after file, environment and default resolution. API keys are omitted.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if state.cfg == nil {
				return fmt.Errorf("configuration was not loaded")
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(state.cfg); err != nil {
				return fmt.Errorf("failed to encode configuration: %w", err)
			}
			return enc.Close()
		},
	})
	return configCmd
}
