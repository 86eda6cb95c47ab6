package server

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/opcuactl/internal/protocol/codec"
	"github.com/danmuck/opcuactl/internal/protocol/frame"
	"github.com/danmuck/opcuactl/internal/protocol/session"
)

var ErrInvalidConfig = errors.New("server: invalid config")

// Config configures the listener, the advertised endpoint and every session.
type Config struct {
	ListenAddr      string
	EndpointURL     string
	AdminListenAddr string
	// AdminToken, when set, is the bearer token required by mutating admin
	// routes.
	AdminToken string

	ApplicationURI  string
	ProductURI      string
	ApplicationName string

	// AbortNodeID names a Boolean variable that shuts the server down when
	// written true. Empty disables the switch.
	AbortNodeID       string
	AbortPollInterval time.Duration

	MaxOperationsPerRequest int

	Session session.Config
}

func DefaultConfig() Config {
	return Config{
		ListenAddr:              ":" + frame.DefaultEndpointPort,
		EndpointURL:             "opc.tcp://localhost:" + frame.DefaultEndpointPort + "/",
		AdminListenAddr:         "",
		ApplicationURI:          "urn:opcuactl:server",
		ProductURI:              "urn:opcuactl",
		ApplicationName:         "opcuactl server",
		AbortNodeID:             "ns=2;s=abort",
		AbortPollInterval:       time.Second,
		MaxOperationsPerRequest: 1000,
		Session:                 session.DefaultConfig(),
	}
}

// WithDefaults fills empty fields from DefaultConfig. AbortNodeID is left
// as given.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if strings.TrimSpace(c.ListenAddr) == "" {
		c.ListenAddr = d.ListenAddr
	}
	if strings.TrimSpace(c.EndpointURL) == "" {
		c.EndpointURL = d.EndpointURL
	}
	if c.ApplicationURI == "" {
		c.ApplicationURI = d.ApplicationURI
	}
	if c.ProductURI == "" {
		c.ProductURI = d.ProductURI
	}
	if c.ApplicationName == "" {
		c.ApplicationName = d.ApplicationName
	}
	if c.AbortPollInterval <= 0 {
		c.AbortPollInterval = d.AbortPollInterval
	}
	if c.MaxOperationsPerRequest <= 0 {
		c.MaxOperationsPerRequest = d.MaxOperationsPerRequest
	}
	c.Session = c.Session.WithDefaults()
	return c
}

func (c Config) Validate() error {
	if err := frame.ValidateEndpointURL(c.EndpointURL); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if c.AbortNodeID != "" {
		if _, err := codec.ParseNodeID(c.AbortNodeID); err != nil {
			return fmt.Errorf("%w: abort node: %w", ErrInvalidConfig, err)
		}
	}
	return c.Session.Validate()
}
