// Package credentials loads secrets kept out of the main config file: the
// collector database DSN, NATS auth and the token the agent presents to the
// collector endpoint.
package credentials

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/BurntSushi/toml"
)

// ErrInsecurePermissions is returned when the secrets file is readable by
// anyone but its owner.
var ErrInsecurePermissions = fmt.Errorf("credentials file has insecure permissions")

// Environment variables consulted when the file leaves a value empty.
const (
	EnvCollectorDSN  = "ACTIVITYKIT_COLLECTOR_DSN"
	EnvEndpointToken = "ACTIVITYKIT_ENDPOINT_TOKEN"
	EnvNATSToken     = "ACTIVITYKIT_NATS_TOKEN"
	EnvNATSUser      = "ACTIVITYKIT_NATS_USER"
	EnvNATSPassword  = "ACTIVITYKIT_NATS_PASSWORD"
)

// Credentials mirrors credentials.toml:
//
//	[collector]
//	dsn = "postgres://..."
//
//	[endpoint]
//	token = "..."
//
//	[nats]
//	token = "..."
type Credentials struct {
	Collector struct {
		DSN string `toml:"dsn"`
	} `toml:"collector"`

	Endpoint struct {
		Token string `toml:"token"`
	} `toml:"endpoint"`

	NATS NATSAuth `toml:"nats"`
}

// NATSAuth holds NATS token or user/password auth.
type NATSAuth struct {
	Token    string `toml:"token"`
	User     string `toml:"user"`
	Password string `toml:"password"`
}

// StandardPaths returns the locations Load tries, in order.
func StandardPaths() []string {
	paths := []string{"credentials.toml"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "activitykit", "credentials.toml"))
	}
	return paths
}

// Load reads path, or the first standard location that exists when path is
// empty. Finding no file is not an error; the result then only carries
// environment values.
func Load(path string) (*Credentials, string, error) {
	if path != "" {
		c, err := LoadFile(path)
		return c, path, err
	}
	for _, p := range StandardPaths() {
		if _, err := os.Stat(p); err == nil {
			c, err := LoadFile(p)
			return c, p, err
		}
	}
	return &Credentials{}, "", nil
}

// LoadFile reads one credentials file. On Unix the file must be mode 0400.
func LoadFile(path string) (*Credentials, error) {
	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		if mode := info.Mode().Perm(); mode != 0400 {
			return nil, fmt.Errorf("%w: %s has mode %04o (must be 0400)",
				ErrInsecurePermissions, path, mode)
		}
	}

	c := &Credentials{}
	if _, err := toml.DecodeFile(path, c); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return c, nil
}

// CollectorDSN returns the file value, the environment value, or fallback.
func (c *Credentials) CollectorDSN(fallback string) string {
	if c != nil && c.Collector.DSN != "" {
		return c.Collector.DSN
	}
	if v := os.Getenv(EnvCollectorDSN); v != "" {
		return v
	}
	return fallback
}

// EndpointToken returns the bearer token for the collector endpoint, if any.
func (c *Credentials) EndpointToken() string {
	if c != nil && c.Endpoint.Token != "" {
		return c.Endpoint.Token
	}
	return os.Getenv(EnvEndpointToken)
}

// NATSAuth returns NATS auth with environment values filling gaps.
func (c *Credentials) NATSAuth() NATSAuth {
	var a NATSAuth
	if c != nil {
		a = c.NATS
	}
	if a.Token == "" {
		a.Token = os.Getenv(EnvNATSToken)
	}
	if a.User == "" {
		a.User = os.Getenv(EnvNATSUser)
		a.Password = os.Getenv(EnvNATSPassword)
	}
	return a
}

// AuthHeaders adds an Authorization header for the endpoint token to h,
// unless h already sets one. h may be nil.
func (c *Credentials) AuthHeaders(h map[string]string) map[string]string {
	token := c.EndpointToken()
	if token == "" {
		return h
	}
	out := make(map[string]string, len(h)+1)
	for k, v := range h {
		out[k] = v
	}
	if _, ok := out["Authorization"]; !ok {
		out["Authorization"] = "Bearer " + token
	}
	return out
}
