package main

import (
	"strings"

	"github.com/danmuck/opcuactl/internal/config"
	"github.com/danmuck/opcuactl/internal/observability"
	"github.com/danmuck/opcuactl/internal/server"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var (
		path       string
		listen     string
		endpoint   string
		admin      string
		adminToken string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the OPC UA server",
		RunE: func(cmd *cobra.Command, args []string) error {
			fileCfg := config.ServerFileConfig{Server: server.DefaultConfig()}
			if strings.TrimSpace(path) != "" {
				loaded, err := config.LoadServerConfig(path)
				if err != nil {
					return err
				}
				fileCfg = loaded
			}
			if cmd.Flags().Changed("listen") {
				fileCfg.Server.ListenAddr = listen
			}
			if cmd.Flags().Changed("endpoint") {
				fileCfg.Server.EndpointURL = endpoint
			}
			if cmd.Flags().Changed("admin") {
				fileCfg.Server.AdminListenAddr = admin
			}
			if adminToken != "" {
				fileCfg.Server.AdminToken = adminToken
			}

			space, err := config.BuildAddressSpace(fileCfg)
			if err != nil {
				return err
			}
			observability.RegisterMetrics()
			log.Info().
				Str("config", path).
				Int("variables", len(space.Variables())).
				Msg("opcuactl.serve starting")
			return server.New(fileCfg.Server, space).Run(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&path, "config", getenvDefault("OPCUACTL_SERVER_CONFIG", ""), "server TOML config path")
	cmd.Flags().StringVar(&listen, "listen", "", "UA-TCP listen address (overrides config)")
	cmd.Flags().StringVar(&endpoint, "endpoint", "", "advertised endpoint URL (overrides config)")
	cmd.Flags().StringVar(&admin, "admin", "", "admin HTTP listen address (overrides config)")
	cmd.Flags().StringVar(&adminToken, "admin-token", getenvDefault("OPCUACTL_ADMIN_TOKEN", ""), "bearer token for mutating admin routes (overrides config)")
	return cmd
}
