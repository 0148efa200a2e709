package main

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/canopybank/llm-gateway/internal/registry"
)

func buildModelsCmd() *cobra.Command {
	var registryPath string

	cmd := &cobra.Command{
		Use:   "models",
		Short: "Print the model registry snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := registry.Load(registryPath, slog.Default())
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(reg.List(), "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}

	cmd.Flags().StringVarP(&registryPath, "registry", "r", "configs/model_registry.yaml",
		"Path to the model registry YAML document")
	return cmd
}
