package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/opcuactl/internal/client"
	"github.com/danmuck/opcuactl/internal/config"
	"github.com/danmuck/opcuactl/internal/protocol/codec"
	"github.com/danmuck/opcuactl/internal/protocol/service"
	"github.com/spf13/cobra"
)

// clientFlags are shared by every command that talks to a server.
type clientFlags struct {
	path     string
	endpoint string
	timeout  time.Duration
}

func (f *clientFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.path, "config", getenvDefault("OPCUACTL_CLIENT_CONFIG", ""), "client TOML config path")
	cmd.Flags().StringVar(&f.endpoint, "endpoint", getenvDefault("OPCUACTL_ENDPOINT", ""), "server endpoint URL (overrides config)")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 0, "per-request timeout (overrides config)")
}

func (f *clientFlags) config() (client.Config, error) {
	cfg := client.DefaultConfig()
	if strings.TrimSpace(f.path) != "" {
		loaded, err := config.LoadClientConfig(f.path)
		if err != nil {
			return client.Config{}, err
		}
		cfg = loaded
	}
	if strings.TrimSpace(f.endpoint) != "" {
		cfg.EndpointURL = strings.TrimSpace(f.endpoint)
	}
	if f.timeout > 0 {
		cfg.Session.RequestTimeout = f.timeout
	}
	return cfg, nil
}

// withSession connects, runs fn and closes the session.
func (f *clientFlags) withSession(ctx context.Context, fn func(*client.Session) error) error {
	cfg, err := f.config()
	if err != nil {
		return err
	}
	c, err := client.New(cfg)
	if err != nil {
		return err
	}
	s, err := c.Connect(ctx)
	if err != nil {
		return err
	}
	runErr := fn(s)
	if err := s.Close(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// valueView is the printed form of one read result.
type valueView struct {
	NodeID          string     `json:"node_id"`
	Type            string     `json:"type,omitempty"`
	Value           any        `json:"value,omitempty"`
	Status          string     `json:"status"`
	SourceTimestamp *time.Time `json:"source_timestamp,omitempty"`
	ServerTimestamp *time.Time `json:"server_timestamp,omitempty"`
}

func newValueView(nodeID codec.NodeID, dv codec.DataValue) valueView {
	view := valueView{NodeID: nodeID.String(), Status: dv.Status.String()}
	if !dv.Value.IsNull() {
		view.Type = dv.Value.Type.String()
		view.Value = dv.Value.Value
	}
	if !dv.SourceTimestamp.IsZero() {
		view.SourceTimestamp = &dv.SourceTimestamp
	}
	if !dv.ServerTimestamp.IsZero() {
		view.ServerTimestamp = &dv.ServerTimestamp
	}
	return view
}

func parseNodeIDs(args []string) ([]codec.NodeID, error) {
	out := make([]codec.NodeID, 0, len(args))
	for _, arg := range args {
		id, err := codec.ParseNodeID(arg)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

func newReadCmd() *cobra.Command {
	var flags clientFlags
	cmd := &cobra.Command{
		Use:   "read NODE_ID...",
		Short: "Read the Value attribute of one or more nodes",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseNodeIDs(args)
			if err != nil {
				return err
			}
			nodes := make([]service.ReadValueID, len(ids))
			for i, id := range ids {
				nodes[i] = service.ReadValueID{NodeID: id, AttributeID: service.AttributeValue}
			}
			return flags.withSession(cmd.Context(), func(s *client.Session) error {
				results, err := s.Read(cmd.Context(), nodes, service.TimestampsBoth)
				if err != nil {
					return err
				}
				if len(results) != len(ids) {
					return fmt.Errorf("read returned %d results for %d nodes", len(results), len(ids))
				}
				views := make([]valueView, len(ids))
				for i, id := range ids {
					views[i] = newValueView(id, results[i])
				}
				return printJSON(cmd, views)
			})
		},
	}
	flags.register(cmd)
	return cmd
}

func newWriteCmd() *cobra.Command {
	var flags clientFlags
	cmd := &cobra.Command{
		Use:   "write NODE_ID TYPE VALUE",
		Short: "Write the Value attribute of a node",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := codec.ParseNodeID(args[0])
			if err != nil {
				return err
			}
			value, err := codec.ParseVariant(args[1], args[2])
			if err != nil {
				return err
			}
			return flags.withSession(cmd.Context(), func(s *client.Session) error {
				if err := s.WriteValue(cmd.Context(), id, value); err != nil {
					return err
				}
				return printJSON(cmd, map[string]string{"node_id": id.String(), "status": codec.Good.String()})
			})
		},
	}
	flags.register(cmd)
	return cmd
}

func newPublishCmd() *cobra.Command {
	var (
		flags clientFlags
		count int
	)
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Send Publish requests and print the responses in issue order",
		RunE: func(cmd *cobra.Command, args []string) error {
			if count <= 0 {
				return fmt.Errorf("count must be positive")
			}
			return flags.withSession(cmd.Context(), func(s *client.Session) error {
				for i := 0; i < count; i++ {
					if _, err := s.PublishAsync(); err != nil {
						return err
					}
				}
				responses, err := drainAsync(cmd.Context(), s, count)
				if err != nil {
					return err
				}
				type publishView struct {
					Handle  uint32 `json:"handle"`
					Message string `json:"message"`
					Status  string `json:"status"`
				}
				views := make([]publishView, len(responses))
				for i, resp := range responses {
					h := resp.ResponseHeader()
					views[i] = publishView{Handle: h.RequestHandle, Message: service.Name(resp), Status: h.ServiceResult.String()}
				}
				return printJSON(cmd, views)
			})
		},
	}
	flags.register(cmd)
	cmd.Flags().IntVar(&count, "count", 1, "number of Publish requests")
	return cmd
}

// drainAsync collects n async responses or fails once RequestTimeout passes.
func drainAsync(ctx context.Context, s *client.Session, n int) ([]service.Response, error) {
	timer := time.NewTimer(s.Config().Session.RequestTimeout)
	defer timer.Stop()
	var out []service.Response
	for {
		changed := s.Changed()
		out = append(out, s.AsyncResponses()...)
		if len(out) >= n {
			return out, nil
		}
		if err := s.Err(); err != nil {
			return out, err
		}
		select {
		case <-changed:
		case <-timer.C:
			return out, codec.Errorf(codec.BadTimeout, "%d of %d publish responses", len(out), n)
		case <-ctx.Done():
			return out, ctx.Err()
		}
	}
}

type endpointView struct {
	EndpointURL         string `json:"endpoint_url"`
	ApplicationURI      string `json:"application_uri"`
	ApplicationName     string `json:"application_name"`
	SecurityMode        string `json:"security_mode"`
	SecurityPolicyURI   string `json:"security_policy_uri"`
	TransportProfileURI string `json:"transport_profile_uri"`
	SecurityLevel       byte   `json:"security_level"`
}

func newEndpointsCmd() *cobra.Command {
	var flags clientFlags
	cmd := &cobra.Command{
		Use:   "endpoints",
		Short: "List the endpoints a server offers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return flags.withSession(cmd.Context(), func(s *client.Session) error {
				endpoints, err := s.GetEndpoints(cmd.Context())
				if err != nil {
					return err
				}
				views := make([]endpointView, len(endpoints))
				for i, ep := range endpoints {
					views[i] = endpointView{
						EndpointURL:         ep.EndpointURL,
						ApplicationURI:      ep.Server.ApplicationURI,
						ApplicationName:     ep.Server.ApplicationName.Text,
						SecurityMode:        ep.SecurityMode.String(),
						SecurityPolicyURI:   ep.SecurityPolicyURI,
						TransportProfileURI: ep.TransportProfileURI,
						SecurityLevel:       ep.SecurityLevel,
					}
				}
				return printJSON(cmd, views)
			})
		},
	}
	flags.register(cmd)
	return cmd
}
