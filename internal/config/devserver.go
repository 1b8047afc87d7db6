package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Defaults for the RealTimeChat client.
const (
	DefaultRoot        = "src/RealTimeChat.Client"
	DefaultHost        = "localhost"
	DefaultPort        = 5173
	DefaultWSContext   = "/ws"
	DefaultChatBackend = "http://0.0.0.0:5000"
)

// DefaultCORSOrigins are the origins allowed when CORS is on and no
// corsOrigins are configured: pages served from this machine only.
var DefaultCORSOrigins = []string{
	"http://localhost", "http://localhost:*",
	"https://localhost", "https://localhost:*",
	"http://127.0.0.1", "http://127.0.0.1:*",
	"https://127.0.0.1", "https://127.0.0.1:*",
	"http://[::1]", "http://[::1]:*",
	"https://[::1]", "https://[::1]:*",
}

// DevServerConfig is the declarative dev-server configuration: a project root
// and the server options that hold the proxy table.
type DevServerConfig struct {
	Root   string        `yaml:"root"`
	Server ServerOptions `yaml:"server"`
}

// ServerOptions configures the listener and the routing layer.
type ServerOptions struct {
	Host       string     `yaml:"host"`
	Port       int        `yaml:"port"`
	CORS bool `yaml:"cors"`
	// CORSOrigins replaces DefaultCORSOrigins. Entries may hold one "*"
	// wildcard, e.g. "https://*.example.test".
	CORSOrigins []string   `yaml:"corsOrigins,omitempty"`
	Open        bool       `yaml:"open"`
	LiveReload  bool       `yaml:"liveReload"`
	Proxy       ProxyTable `yaml:"proxy"`
}

// AllowedOrigins returns the origins CORS responses are sent to.
func (o ServerOptions) AllowedOrigins() []string {
	if len(o.CORSOrigins) > 0 {
		return o.CORSOrigins
	}
	return DefaultCORSOrigins
}

// Default returns the built-in configuration: the client root and a single
// WebSocket-enabled proxy rule forwarding /ws to the chat backend.
func Default() *DevServerConfig {
	return &DevServerConfig{
		Root: DefaultRoot,
		Server: ServerOptions{
			Host:       DefaultHost,
			Port:       DefaultPort,
			CORS:       true,
			LiveReload: true,
			Proxy: ProxyTable{
				{Context: DefaultWSContext, Target: DefaultChatBackend, WS: true},
			},
		},
	}
}

// LoadDevServerConfig reads the YAML file at path on top of Default.
// If the file does not exist, the defaults are returned (not an error).
// Keys omitted from the file keep their default; a proxy table present in
// the file replaces the default table.
func LoadDevServerConfig(path string) (*DevServerConfig, error) {
	cfg := Default()

	data, err := os.ReadFile(path) //nolint:gosec // path comes from the operator
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading dev server config %q: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing dev server config %q: %w", path, err)
	}

	for i := range cfg.Server.Proxy {
		if err := cfg.Server.Proxy[i].interpolate(); err != nil {
			return nil, fmt.Errorf("dev server config %q: %w", path, err)
		}
	}
	return cfg, nil
}

// Validate reports every malformed field, joined into one error.
func (c *DevServerConfig) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Root) == "" {
		errs = append(errs, &ValidationError{Field: "root", Message: "must not be empty"})
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, &ValidationError{Field: "server.port", Message: fmt.Sprintf("%d is out of range", c.Server.Port)})
	}

	for _, origin := range c.Server.CORSOrigins {
		if strings.TrimSpace(origin) == "" {
			errs = append(errs, &ValidationError{Field: "server.corsOrigins", Message: "entries must not be empty"})
			break
		}
	}

	seen := make(map[string]bool, len(c.Server.Proxy))
	for _, r := range c.Server.Proxy {
		field := "server.proxy." + r.Context
		if seen[r.Context] {
			errs = append(errs, &ValidationError{Field: field, Message: "declared more than once"})
			continue
		}
		seen[r.Context] = true
		if err := r.validate(); err != nil {
			errs = append(errs, &ValidationError{Field: field, Message: err.Error()})
		}
	}
	return errors.Join(errs...)
}

// ListenAddr returns the host:port the server binds to.
func (c *DevServerConfig) ListenAddr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// URL returns the address a browser should open.
func (c *DevServerConfig) URL() string {
	host := c.Server.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(c.Server.Port)) + "/"
}

func (r ProxyRule) validate() error {
	switch {
	case r.Context == "":
		return errors.New("context must not be empty")
	case strings.HasPrefix(r.Context, "^"):
		if _, err := regexp.Compile(r.Context); err != nil {
			return fmt.Errorf("invalid context pattern: %w", err)
		}
	case !strings.HasPrefix(r.Context, "/"):
		return errors.New("context must start with / or ^")
	}

	u, err := url.Parse(r.Target)
	if err != nil {
		return fmt.Errorf("invalid target: %w", err)
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return fmt.Errorf("target %q must use http, https, ws or wss", r.Target)
	}
	if u.Host == "" {
		return fmt.Errorf("target %q has no host", r.Target)
	}

	if r.Rewrite != nil {
		if _, err := regexp.Compile(r.Rewrite.Pattern); err != nil {
			return fmt.Errorf("invalid rewrite pattern: %w", err)
		}
	}
	return nil
}
