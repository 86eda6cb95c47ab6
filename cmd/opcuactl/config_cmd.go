package main

import (
	"fmt"
	"strings"

	"github.com/danmuck/opcuactl/internal/config"
	"github.com/spf13/cobra"
)

func newConfigCmd() *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Generate and validate config files",
	}
	cmd.PersistentFlags().StringVar(&kind, "kind", "server", "config kind: server|client")

	var force bool
	initCmd := &cobra.Command{
		Use:   "init PATH",
		Short: "Write a config template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.WriteTemplate(args[0], kind, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s config template to %s\n", kind, args[0])
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	cmd.AddCommand(initCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "validate PATH",
		Short: "Validate a config file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch strings.ToLower(strings.TrimSpace(kind)) {
			case "server":
				cfg, err := config.LoadServerConfig(args[0])
				if err != nil {
					return err
				}
				if _, err := config.BuildAddressSpace(cfg); err != nil {
					return err
				}
			case "client":
				if _, err := config.LoadClientConfig(args[0]); err != nil {
					return err
				}
			default:
				return fmt.Errorf("unknown config kind: %s", kind)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	})
	return cmd
}
