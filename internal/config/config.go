package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/opcuactl/internal/client"
	"github.com/danmuck/opcuactl/internal/protocol/session"
	"github.com/danmuck/opcuactl/internal/server"
)

var ErrInvalidConfig = errors.New("config: invalid config")

// [session] table shared by server and client files.
type sessionFile struct {
	ProtocolVersion   uint32      `toml:"protocol_version"`
	ReceiveBufferSize uint32      `toml:"receive_buffer_size"`
	SendBufferSize    uint32      `toml:"send_buffer_size"`
	MaxMessageSize    uint32      `toml:"max_message_size"`
	MaxChunkCount     uint32      `toml:"max_chunk_count"`
	SecurityPolicy    string      `toml:"security_policy"`
	HelloTimeout      string      `toml:"hello_timeout"`
	PollInterval      string      `toml:"poll_interval"`
	ConnectTimeout    string      `toml:"connect_timeout"`
	HandshakeTimeout  string      `toml:"handshake_timeout"`
	WriteTimeout      string      `toml:"write_timeout"`
	RequestTimeout    string      `toml:"request_timeout"`
	MinTokenLifetime  string      `toml:"min_token_lifetime"`
	MaxTokenLifetime  string      `toml:"max_token_lifetime"`
	RequestedLifetime string      `toml:"requested_lifetime"`
	Backoff           backoffFile `toml:"backoff"`
}

type backoffFile struct {
	InitialDelay string  `toml:"initial_delay"`
	Multiplier   float64 `toml:"multiplier"`
	MaxDelay     string  `toml:"max_delay"`
	Jitter       bool    `toml:"jitter"`
}

// server.toml key mapping.
type serverFile struct {
	ListenAddr              string         `toml:"listen_addr"`
	EndpointURL             string         `toml:"endpoint_url"`
	AdminListenAddr         string         `toml:"admin_listen_addr"`
	AdminToken              string         `toml:"admin_token"`
	ApplicationURI          string         `toml:"application_uri"`
	ProductURI              string         `toml:"product_uri"`
	ApplicationName         string         `toml:"application_name"`
	AbortNodeID             string         `toml:"abort_node_id"`
	AbortPollInterval       string         `toml:"abort_poll_interval"`
	MaxOperationsPerRequest int            `toml:"max_operations_per_request"`
	Session                 sessionFile    `toml:"session"`
	Variables               []VariableFile `toml:"variables"`
}

// VariableFile is one [[variables]] entry. Value is the text form of Type.
type VariableFile struct {
	NodeID      string `toml:"node_id"`
	Name        string `toml:"name"`
	Description string `toml:"description"`
	Type        string `toml:"type"`
	Value       string `toml:"value"`
	Writable    bool   `toml:"writable"`
}

// client.toml key mapping.
type clientFile struct {
	EndpointURL        string      `toml:"endpoint_url"`
	MaxConnectAttempts int         `toml:"max_connect_attempts"`
	Session            sessionFile `toml:"session"`
}

// ServerFileConfig is a loaded server.toml.
type ServerFileConfig struct {
	Server    server.Config
	Variables []VariableFile
}

// LoadServerConfig overlays path onto server.DefaultConfig and validates
// the result, including every variable entry.
func LoadServerConfig(path string) (ServerFileConfig, error) {
	var raw serverFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return ServerFileConfig{}, fmt.Errorf("load server config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return ServerFileConfig{}, fmt.Errorf("%w: unknown keys %v in %s", ErrInvalidConfig, undecoded, path)
	}

	cfg := server.DefaultConfig()
	if meta.IsDefined("listen_addr") {
		cfg.ListenAddr = strings.TrimSpace(raw.ListenAddr)
	}
	if meta.IsDefined("endpoint_url") {
		cfg.EndpointURL = strings.TrimSpace(raw.EndpointURL)
	}
	if meta.IsDefined("admin_listen_addr") {
		cfg.AdminListenAddr = strings.TrimSpace(raw.AdminListenAddr)
	}
	if meta.IsDefined("admin_token") {
		cfg.AdminToken = strings.TrimSpace(raw.AdminToken)
	}
	if meta.IsDefined("application_uri") {
		cfg.ApplicationURI = strings.TrimSpace(raw.ApplicationURI)
	}
	if meta.IsDefined("product_uri") {
		cfg.ProductURI = strings.TrimSpace(raw.ProductURI)
	}
	if meta.IsDefined("application_name") {
		cfg.ApplicationName = strings.TrimSpace(raw.ApplicationName)
	}
	if meta.IsDefined("abort_node_id") {
		cfg.AbortNodeID = strings.TrimSpace(raw.AbortNodeID)
	}
	if meta.IsDefined("max_operations_per_request") {
		cfg.MaxOperationsPerRequest = raw.MaxOperationsPerRequest
	}
	if err := setDuration(meta, &cfg.AbortPollInterval, raw.AbortPollInterval, "abort_poll_interval"); err != nil {
		return ServerFileConfig{}, err
	}
	if err := applySession(meta, &cfg.Session, raw.Session); err != nil {
		return ServerFileConfig{}, err
	}

	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return ServerFileConfig{}, fmt.Errorf("load server config: %w", err)
	}
	for i, v := range raw.Variables {
		if _, err := v.Variable(); err != nil {
			return ServerFileConfig{}, fmt.Errorf("load server config: variables[%d]: %w", i, err)
		}
	}
	return ServerFileConfig{Server: cfg, Variables: raw.Variables}, nil
}

// LoadClientConfig overlays path onto client.DefaultConfig.
func LoadClientConfig(path string) (client.Config, error) {
	var raw clientFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return client.Config{}, fmt.Errorf("load client config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return client.Config{}, fmt.Errorf("%w: unknown keys %v in %s", ErrInvalidConfig, undecoded, path)
	}

	cfg := client.DefaultConfig()
	if meta.IsDefined("endpoint_url") {
		cfg.EndpointURL = strings.TrimSpace(raw.EndpointURL)
	}
	if meta.IsDefined("max_connect_attempts") {
		cfg.MaxConnectAttempts = raw.MaxConnectAttempts
	}
	if err := applySession(meta, &cfg.Session, raw.Session); err != nil {
		return client.Config{}, err
	}
	cfg.Session = cfg.Session.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return client.Config{}, fmt.Errorf("load client config: %w", err)
	}
	return cfg, nil
}

func applySession(meta toml.MetaData, cfg *session.Config, raw sessionFile) error {
	uints := []struct {
		key string
		dst *uint32
		src uint32
	}{
		{"protocol_version", &cfg.ProtocolVersion, raw.ProtocolVersion},
		{"receive_buffer_size", &cfg.ReceiveBufferSize, raw.ReceiveBufferSize},
		{"send_buffer_size", &cfg.SendBufferSize, raw.SendBufferSize},
		{"max_message_size", &cfg.MaxMessageSize, raw.MaxMessageSize},
		{"max_chunk_count", &cfg.MaxChunkCount, raw.MaxChunkCount},
	}
	for _, u := range uints {
		if meta.IsDefined("session", u.key) {
			*u.dst = u.src
		}
	}
	if meta.IsDefined("session", "security_policy") {
		policy, err := session.NormalizeSecurityPolicy(raw.SecurityPolicy)
		if err != nil {
			return fmt.Errorf("%w: session.security_policy: %w", ErrInvalidConfig, err)
		}
		cfg.SecurityPolicy = policy
	}

	durations := []struct {
		key string
		dst *time.Duration
		src string
	}{
		{"hello_timeout", &cfg.HelloTimeout, raw.HelloTimeout},
		{"poll_interval", &cfg.PollInterval, raw.PollInterval},
		{"connect_timeout", &cfg.ConnectTimeout, raw.ConnectTimeout},
		{"handshake_timeout", &cfg.HandshakeTimeout, raw.HandshakeTimeout},
		{"write_timeout", &cfg.WriteTimeout, raw.WriteTimeout},
		{"request_timeout", &cfg.RequestTimeout, raw.RequestTimeout},
		{"min_token_lifetime", &cfg.MinTokenLifetime, raw.MinTokenLifetime},
		{"max_token_lifetime", &cfg.MaxTokenLifetime, raw.MaxTokenLifetime},
		{"requested_lifetime", &cfg.RequestedLifetime, raw.RequestedLifetime},
		{"backoff.initial_delay", &cfg.Backoff.InitialDelay, raw.Backoff.InitialDelay},
		{"backoff.max_delay", &cfg.Backoff.MaxDelay, raw.Backoff.MaxDelay},
	}
	for _, d := range durations {
		if err := setDuration(meta, d.dst, d.src, append([]string{"session"}, strings.Split(d.key, ".")...)...); err != nil {
			return err
		}
	}
	if meta.IsDefined("session", "backoff", "multiplier") {
		cfg.Backoff.Multiplier = raw.Backoff.Multiplier
	}
	if meta.IsDefined("session", "backoff", "jitter") {
		cfg.Backoff.Jitter = raw.Backoff.Jitter
	}
	return nil
}

// setDuration parses raw into dst when key is present in the file.
func setDuration(meta toml.MetaData, dst *time.Duration, raw string, key ...string) error {
	if !meta.IsDefined(key...) {
		return nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidConfig, strings.Join(key, "."), err)
	}
	if d <= 0 {
		return fmt.Errorf("%w: %s must be positive, got %s", ErrInvalidConfig, strings.Join(key, "."), d)
	}
	*dst = d
	return nil
}
