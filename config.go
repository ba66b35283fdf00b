package cluster

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"dario.cat/mergo"
	json "github.com/goccy/go-json"
)

const (
	// DefaultRetryInterval is the wait after a failed connect when neither
	// the node nor the pool sets one.
	DefaultRetryInterval = 60 * time.Second
	// DefaultBrokenCooldown is the wait after a live connection fails repair.
	DefaultBrokenCooldown = 1000 * time.Second
	// DefaultClaimCooldown holds off other claims while a background
	// reconnect runs.
	DefaultClaimCooldown = 1000 * time.Second
	// DefaultPoolName names pools that don't set Name.
	DefaultPoolName = "default"
)

// TLSConfig holds client certificate material for a node. Paths are read by
// the driver when the connection is opened.
type TLSConfig struct {
	Key                string
	Cert               string
	CA                 string
	CAPath             string
	Cipher             string
	ServerName         string
	InsecureSkipVerify bool
}

// Enabled reports whether any TLS material is configured.
func (t TLSConfig) Enabled() bool {
	return t.CA != "" || t.Key != "" || t.CAPath != ""
}

// NodeConfig holds the static connection parameters for one node.
type NodeConfig struct {
	Name     string
	Host     string
	Port     int
	Socket   string
	Username string
	Password string
	Database string
	TLS      TLSConfig

	// RetryInterval is how long a node waits after a failed connect before
	// the next background attempt. Zero means Config.DefaultRetryInterval.
	RetryInterval time.Duration

	// Params are passed through to the driver as DSN parameters.
	Params map[string]string
}

// Addr returns host:port, or the socket path when no host is set.
func (c NodeConfig) Addr() string {
	if c.Host == "" {
		return c.Socket
	}
	if c.Port == 0 {
		return c.Host
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Config configures a Pool.
type Config struct {
	Name  string
	Nodes []NodeConfig

	// NodeDefaults fills unset fields of every node.
	NodeDefaults NodeConfig

	DefaultRetryInterval time.Duration

	// BrokenCooldown is the retry delay applied when a live connection
	// fails its repair check.
	BrokenCooldown time.Duration

	// ClaimCooldown pushes the retry deadline forward when a background
	// reconnect is claimed.
	ClaimCooldown time.Duration

	// ConnectTimeout bounds background reconnect attempts. Zero leaves them unbounded.
	ConnectTimeout time.Duration

	Logger *slog.Logger
}

func (c *Config) Validate() error {
	if len(c.Nodes) == 0 {
		return ErrNoNodes
	}
	seen := make(map[string]int, len(c.Nodes))
	for i, n := range c.Nodes {
		if n.Host == "" && n.Socket == "" && c.NodeDefaults.Host == "" && c.NodeDefaults.Socket == "" {
			return fmt.Errorf("nodes[%d]: host or socket is required", i)
		}
		if n.Port < 0 || n.Port > 65535 {
			return fmt.Errorf("nodes[%d]: port must be between 0 and 65535", i)
		}
		if n.RetryInterval < 0 {
			return fmt.Errorf("nodes[%d]: retry interval must be non-negative", i)
		}
		if n.Name != "" {
			if j, ok := seen[n.Name]; ok {
				return fmt.Errorf("nodes[%d]: name %q already used by nodes[%d]", i, n.Name, j)
			}
			seen[n.Name] = i
		}
	}
	if c.DefaultRetryInterval < 0 {
		return fmt.Errorf("default retry interval must be non-negative")
	}
	if c.ConnectTimeout < 0 {
		return fmt.Errorf("connect timeout must be non-negative")
	}
	return nil
}

func (c *Config) applyDefaults() error {
	if c.Name == "" {
		c.Name = DefaultPoolName
	}
	if c.DefaultRetryInterval == 0 {
		c.DefaultRetryInterval = DefaultRetryInterval
	}
	if c.BrokenCooldown == 0 {
		c.BrokenCooldown = DefaultBrokenCooldown
	}
	if c.ClaimCooldown == 0 {
		c.ClaimCooldown = DefaultClaimCooldown
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}

	nodes := make([]NodeConfig, len(c.Nodes))
	for i, n := range c.Nodes {
		resolved, err := c.resolveNode(n)
		if err != nil {
			return fmt.Errorf("nodes[%d]: %w", i, err)
		}
		nodes[i] = resolved
	}
	c.Nodes = nodes
	return nil
}

// resolveNode merges NodeDefaults under n and fills derived fields. Params
// are copied so nodes never share a map.
func (c *Config) resolveNode(n NodeConfig) (NodeConfig, error) {
	params := make(map[string]string, len(n.Params)+len(c.NodeDefaults.Params))
	for k, v := range c.NodeDefaults.Params {
		params[k] = v
	}
	for k, v := range n.Params {
		params[k] = v
	}
	n.Params = params

	defaults := c.NodeDefaults
	defaults.Name = ""
	defaults.Params = nil
	if err := mergo.Merge(&n, defaults); err != nil {
		return n, fmt.Errorf("merge node defaults: %w", err)
	}

	if n.RetryInterval == 0 {
		n.RetryInterval = c.DefaultRetryInterval
	}
	if n.Name == "" {
		n.Name = n.Addr()
	}
	return n, nil
}

// FileConfig is the on-disk pool configuration. Intervals are in seconds.
type FileConfig struct {
	Name                 string           `json:"name,omitempty" mapstructure:"name"`
	Driver               string           `json:"driver,omitempty" mapstructure:"driver"`
	DefaultRetryInterval int64            `json:"defaultRetryInterval,omitempty" mapstructure:"defaultRetryInterval"`
	ConnectTimeout       int64            `json:"connectTimeout,omitempty" mapstructure:"connectTimeout"`
	Defaults             NodeFileConfig   `json:"defaults,omitempty" mapstructure:"defaults"`
	Nodes                []NodeFileConfig `json:"nodes" mapstructure:"nodes"`
}

// NodeFileConfig is one node entry of FileConfig.
type NodeFileConfig struct {
	Name          string            `json:"name,omitempty" mapstructure:"name"`
	Host          string            `json:"host,omitempty" mapstructure:"host"`
	Port          int               `json:"port,omitempty" mapstructure:"port"`
	Socket        string            `json:"socket,omitempty" mapstructure:"socket"`
	Username      string            `json:"username,omitempty" mapstructure:"username"`
	Password      string            `json:"password,omitempty" mapstructure:"password"`
	Database      string            `json:"database,omitempty" mapstructure:"database"`
	SSLKey        string            `json:"sslkey,omitempty" mapstructure:"sslkey"`
	SSLCert       string            `json:"sslcert,omitempty" mapstructure:"sslcert"`
	SSLCA         string            `json:"sslca,omitempty" mapstructure:"sslca"`
	SSLCAPath     string            `json:"sslcapath,omitempty" mapstructure:"sslcapath"`
	SSLCipher     string            `json:"sslcipher,omitempty" mapstructure:"sslcipher"`
	RetryInterval int64             `json:"retryInterval,omitempty" mapstructure:"retryInterval"`
	Params        map[string]string `json:"params,omitempty" mapstructure:"params"`
}

func (n NodeFileConfig) toNodeConfig() NodeConfig {
	return NodeConfig{
		Name:     n.Name,
		Host:     n.Host,
		Port:     n.Port,
		Socket:   n.Socket,
		Username: n.Username,
		Password: n.Password,
		Database: n.Database,
		TLS: TLSConfig{
			Key:    n.SSLKey,
			Cert:   n.SSLCert,
			CA:     n.SSLCA,
			CAPath: n.SSLCAPath,
			Cipher: n.SSLCipher,
		},
		RetryInterval: time.Duration(n.RetryInterval) * time.Second,
		Params:        n.Params,
	}
}

// LoadConfigFromFile loads configuration from a JSON file.
func LoadConfigFromFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg FileConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return &cfg, nil
}

// WriteConfigToFile writes the configuration to a JSON file.
func WriteConfigToFile(cfg *FileConfig, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate validates the configuration.
func (c *FileConfig) Validate() error {
	if len(c.Nodes) == 0 {
		return fmt.Errorf("nodes is required")
	}
	if c.DefaultRetryInterval < 0 {
		return fmt.Errorf("defaultRetryInterval must be non-negative")
	}
	for i, n := range c.Nodes {
		if n.Host == "" && n.Socket == "" && c.Defaults.Host == "" && c.Defaults.Socket == "" {
			return fmt.Errorf("nodes[%d].host or nodes[%d].socket is required", i, i)
		}
		if n.RetryInterval < 0 {
			return fmt.Errorf("nodes[%d].retryInterval must be non-negative", i)
		}
	}
	return nil
}

// ApplyDefaults applies default values to unset configuration fields.
func (c *FileConfig) ApplyDefaults() {
	if c.Name == "" {
		c.Name = DefaultPoolName
	}
	if c.DefaultRetryInterval == 0 {
		c.DefaultRetryInterval = int64(DefaultRetryInterval / time.Second)
	}
}

// ToConfig converts FileConfig to the Config used by NewPool.
func (c *FileConfig) ToConfig(logger *slog.Logger) Config {
	nodes := make([]NodeConfig, len(c.Nodes))
	for i, n := range c.Nodes {
		nodes[i] = n.toNodeConfig()
	}
	return Config{
		Name:                 c.Name,
		Nodes:                nodes,
		NodeDefaults:         c.Defaults.toNodeConfig(),
		DefaultRetryInterval: time.Duration(c.DefaultRetryInterval) * time.Second,
		ConnectTimeout:       time.Duration(c.ConnectTimeout) * time.Second,
		Logger:               logger,
	}
}
