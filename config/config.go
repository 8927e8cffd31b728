// Package config defines the configuration shapes consumed by the central
// post office and by post office clients. Loading a config file from disk
// and persisting credentials are treated as external collaborators; this
// package only validates and defaults an already-populated struct, plus a
// minimal io.Reader-based loader for whatever external tool populates one.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

const (
	DefaultPort           = 4000
	DefaultPingIntervalMS = 7500
	DefaultMaxMessageSize = 1 << 20 // 1 MiB
	DefaultQueueSize      = 100
	MinPingIntervalMS     = 5000
	MaxPingIntervalMS     = 10000
)

// ClientConfig describes one post office the CPO will accept connections
// from.
type ClientConfig struct {
	Name    string `json:"name"`
	Secret  string `json:"secret"` // base64
	Manager bool   `json:"manager,omitempty"`
}

// CPOConfig parameterizes a central post office.
type CPOConfig struct {
	Name           string         `json:"name"`
	LocalAddress   string         `json:"localAddress"`
	Port           int            `json:"port"`
	PingIntervalMS int            `json:"pingIntervalMS"`
	MaxMessageSize int            `json:"maxMessageSize"`
	DropOldest     bool           `json:"dropOldest,omitempty"`
	Clients        []ClientConfig `json:"clients"`
}

// POConfig parameterizes a post office client. MaxMessageSize and
// PingIntervalMS are starting values only; the CPO is authoritative for
// both and announces them in its manage.connect/manage.reconnect reply.
type POConfig struct {
	Name           string `json:"name"`
	Secret         string `json:"secret"` // base64
	QueueSize      int    `json:"queueSize"`
	CPOHost        string `json:"cpoHost"`
	CPOPort        int    `json:"cpoPort"`
	MaxMessageSize int    `json:"maxMessageSize"`
	PingIntervalMS int    `json:"pingIntervalMS"`
	DropOldest     bool   `json:"dropOldest,omitempty"`
}

// SetDefaults fills in zero-valued fields with the system's defaults.
func (c *CPOConfig) SetDefaults() {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.PingIntervalMS == 0 {
		c.PingIntervalMS = DefaultPingIntervalMS
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = DefaultMaxMessageSize
	}
}

// Validate checks the invariants a CPOConfig must satisfy before the
// broker will start; a configuration error is fatal at startup and the
// process must refuse to run.
func (c *CPOConfig) Validate() error {
	if c.Name == "" {
		return errors.New("config: cpo name must not be empty")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: port %d out of range", c.Port)
	}
	if c.PingIntervalMS < MinPingIntervalMS || c.PingIntervalMS > MaxPingIntervalMS {
		return fmt.Errorf("config: pingIntervalMS %d out of range [%d,%d]", c.PingIntervalMS, MinPingIntervalMS, MaxPingIntervalMS)
	}
	if c.MaxMessageSize <= 0 {
		return errors.New("config: maxMessageSize must be positive")
	}
	seen := make(map[string]bool, len(c.Clients))
	for _, cl := range c.Clients {
		if cl.Name == "" {
			return errors.New("config: client name must not be empty")
		}
		if seen[cl.Name] {
			return fmt.Errorf("config: duplicate client name %q", cl.Name)
		}
		seen[cl.Name] = true
		if _, err := decodeSecret(cl.Secret); err != nil {
			return fmt.Errorf("config: client %q has invalid base64 secret: %w", cl.Name, err)
		}
	}
	return nil
}

// SetDefaults fills in zero-valued fields with the system's defaults.
func (c *POConfig) SetDefaults() {
	if c.QueueSize == 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.CPOPort == 0 {
		c.CPOPort = DefaultPort
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = DefaultMaxMessageSize
	}
	if c.PingIntervalMS == 0 {
		c.PingIntervalMS = DefaultPingIntervalMS
	}
}

// Validate checks the invariants a POConfig must satisfy before a post
// office will start.
func (c *POConfig) Validate() error {
	if c.Name == "" {
		return errors.New("config: po name must not be empty")
	}
	if c.CPOHost == "" {
		return errors.New("config: cpoHost must not be empty")
	}
	if c.CPOPort <= 0 || c.CPOPort > 65535 {
		return fmt.Errorf("config: cpoPort %d out of range", c.CPOPort)
	}
	if c.QueueSize <= 0 {
		return errors.New("config: queueSize must be positive")
	}
	if _, err := decodeSecret(c.Secret); err != nil {
		return fmt.Errorf("config: invalid base64 secret: %w", err)
	}
	return nil
}

// LoadCPOConfig decodes a CPOConfig from JSON, applies defaults and
// validates it. The reader is the minimal seam an external config-file
// loader needs; this package has no opinion on where r comes from.
func LoadCPOConfig(r io.Reader) (*CPOConfig, error) {
	var c CPOConfig
	if err := json.NewDecoder(r).Decode(&c); err != nil {
		return nil, fmt.Errorf("config: decode cpo config: %w", err)
	}
	c.SetDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// LoadPOConfig decodes a POConfig from JSON, applies defaults and
// validates it.
func LoadPOConfig(r io.Reader) (*POConfig, error) {
	var c POConfig
	if err := json.NewDecoder(r).Decode(&c); err != nil {
		return nil, fmt.Errorf("config: decode po config: %w", err)
	}
	c.SetDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}
