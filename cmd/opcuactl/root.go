package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
)

func newRoot(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "opcuactl",
		Short:         "opcuactl: OPC UA binary client and server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.Version = version
	cmd.SetVersionTemplate("opcuactl {{.Version}}\n")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newReadCmd())
	cmd.AddCommand(newWriteCmd())
	cmd.AddCommand(newPublishCmd())
	cmd.AddCommand(newEndpointsCmd())
	cmd.AddCommand(newConfigCmd())
	return cmd
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
