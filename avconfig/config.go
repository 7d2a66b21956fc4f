// Copyright 2015 The Avalon Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package avconfig decodes and validates the TOML configuration file
// described in spec.md §6, and watches it for changes so a reload can
// republish a new route.Table generation without restarting listeners.
// Grounded on config/config.go's directive accumulation and
// error-joining idiom, with the TOML format itself swapped in for the
// teacher's Caddyfile directive language (the teacher's own go.mod
// direct dependency is github.com/BurntSushi/toml).
package avconfig

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// TLSConfig is the top-level `tls` table.
type TLSConfig struct {
	ACMEEnabled bool   `toml:"acme_enabled"`
	ACMECA      string `toml:"acme_ca"`
	Email       string `toml:"email"`
	StoragePath string `toml:"storage_path"`
}

// MatchConfig is one route's `match` table.
type MatchConfig struct {
	Host      []string          `toml:"host"`
	PathPrefix string           `toml:"path_prefix"`
	PathRegex string            `toml:"path_regex"`
	Methods   []string          `toml:"methods"`
	Headers   map[string]string `toml:"headers"`
}

// HandlerConfig is one route's `handler` table; Kind selects which of
// the other fields apply.
type HandlerConfig struct {
	Kind string `toml:"kind"`

	// reverse_proxy
	Pool            string            `toml:"pool"`
	ReplacePath     string            `toml:"replace_path"`
	StripPathPrefix string            `toml:"strip_path_prefix"`
	PathRegex       string            `toml:"path_regex"`
	PathRegexReplace string           `toml:"path_regex_replace"`
	AddPathPrefix   string            `toml:"add_path_prefix"`
	RequestHeaders  HeaderOpsConfig   `toml:"request_headers"`
	ResponseHeaders HeaderOpsConfig   `toml:"response_headers"`

	// file_server
	Root       string   `toml:"root"`
	Browse     bool     `toml:"browse"`
	IndexFiles []string `toml:"index_files"`

	// static
	Status int    `toml:"status"`
	Body   string `toml:"body"`
}

// HeaderOpsConfig groups the three header operation lists by kind,
// applied in delete, set, add order per spec.md §4.8.
type HeaderOpsConfig struct {
	Delete []string          `toml:"delete"`
	Set    map[string]string `toml:"set"`
	Add    map[string]string `toml:"add"`
}

// RouteConfig is one entry of a server's `routes` list.
type RouteConfig struct {
	Match    MatchConfig   `toml:"match"`
	Priority int           `toml:"priority"`
	Handler  HandlerConfig `toml:"handler"`
}

// PoolConfig configures one upstream pool referenced by a
// reverse_proxy route handler.
type PoolConfig struct {
	ID      string   `toml:"id"`
	Policy  string   `toml:"policy"`
	Servers []ServerConfig `toml:"servers"`

	HealthCheckPath           string `toml:"health_check_path"`
	HealthCheckIntervalSecs   int    `toml:"health_check_interval_secs"`
	HealthCheckTimeoutSecs    int    `toml:"health_check_timeout_secs"`
	HealthCheckExpectedStatus int    `toml:"health_check_expected_status"`
}

// ServerConfig is one upstream server within a pool.
type ServerConfig struct {
	Address string `toml:"address"`
	UseTLS  bool   `toml:"use_tls"`
	Weight  int    `toml:"weight"`
}

// ListenerConfig is one `servers[].listen` entry, expanded and
// TLS-inferred by Normalize.
type ListenerConfig struct {
	Address string
	TLS     bool
}

// ServerBlockConfig is one `[[servers]]` table: a name, its listen
// addresses, and the routes it serves.
type ServerBlockConfig struct {
	Name      string   `toml:"name"`
	Listen    []string `toml:"listen"`
	Routes    []RouteConfig `toml:"routes"`

	listeners []ListenerConfig
}

// RateLimitConfig is the optional top-level `rate_limit` table.
type RateLimitConfig struct {
	Enabled     bool `toml:"enabled"`
	MaxRequests int  `toml:"max_requests"`
	Burst       int  `toml:"burst"`
	WindowSecs  int  `toml:"window_secs"`
}

// RequestIDPluginConfig is the optional `plugins.request_id` table.
type RequestIDPluginConfig struct {
	Enabled  bool   `toml:"enabled"`
	Priority int    `toml:"priority"`
	Header   string `toml:"header"`
}

// IPFilterPluginConfig is the optional `plugins.ip_filter` table.
type IPFilterPluginConfig struct {
	Enabled    bool     `toml:"enabled"`
	Priority   int      `toml:"priority"`
	AllowCIDRs []string `toml:"allow_cidrs"`
	DenyCIDRs  []string `toml:"deny_cidrs"`
}

// CORSPluginConfig is the optional `plugins.cors` table.
type CORSPluginConfig struct {
	Enabled        bool     `toml:"enabled"`
	Priority       int      `toml:"priority"`
	AllowedOrigins []string `toml:"allowed_origins"`
	AllowedMethods []string `toml:"allowed_methods"`
	AllowedHeaders []string `toml:"allowed_headers"`
}

// CircuitBreakerPluginConfig is the optional `plugins.circuit_breaker`
// table.
type CircuitBreakerPluginConfig struct {
	Enabled          bool `toml:"enabled"`
	Priority         int  `toml:"priority"`
	FailureThreshold int  `toml:"failure_threshold"`
	OpenSeconds      int  `toml:"open_seconds"`
}

// ScriptedRewritePluginConfig is the optional `plugins.scripted_rewrite`
// table.
type ScriptedRewritePluginConfig struct {
	Enabled      bool   `toml:"enabled"`
	Priority     int    `toml:"priority"`
	Expression   string `toml:"expression"`
	RejectStatus int    `toml:"reject_status"`
}

// PluginsConfig is the optional top-level `plugins` table gathering
// every optional C9/C10 plugin's own config sub-table.
type PluginsConfig struct {
	RequestID       RequestIDPluginConfig       `toml:"request_id"`
	IPFilter        IPFilterPluginConfig        `toml:"ip_filter"`
	CORS            CORSPluginConfig            `toml:"cors"`
	CircuitBreaker  CircuitBreakerPluginConfig  `toml:"circuit_breaker"`
	ScriptedRewrite ScriptedRewritePluginConfig `toml:"scripted_rewrite"`
}

// AdminConfig is the optional top-level `admin` table guarding the
// /metrics endpoint with HTTP Basic credentials.
type AdminConfig struct {
	Username     string `toml:"username"`
	PasswordHash string `toml:"password_hash"`
}

// Config is the fully decoded avalon.toml document.
type Config struct {
	TLS       TLSConfig           `toml:"tls"`
	Servers   []ServerBlockConfig `toml:"servers"`
	Pools     []PoolConfig        `toml:"pools"`
	RateLimit RateLimitConfig     `toml:"rate_limit"`
	Plugins   PluginsConfig       `toml:"plugins"`
	Admin     AdminConfig         `toml:"admin"`
}

// DefaultPath is used when --config is omitted, mirroring the
// teacher's Caddyfile-in-cwd convenience default.
const DefaultPath = "avalon.toml"

// Load reads and decodes path, applies defaults, and validates the
// result. It returns a joined error listing every problem found if
// validation fails, per spec.md's "config error" exit-code contract.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("avconfig: reading %s: %w", path, err)
	}

	var cfg Config
	if _, err := toml.Decode(string(blob), &cfg); err != nil {
		return nil, fmt.Errorf("avconfig: parsing %s: %w", path, err)
	}

	cfg.applyDefaults()
	cfg.normalizeListeners()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	for i := range c.Pools {
		p := &c.Pools[i]
		if p.Policy == "" {
			p.Policy = "round_robin"
		}
		if p.HealthCheckPath != "" {
			if p.HealthCheckIntervalSecs == 0 {
				p.HealthCheckIntervalSecs = 30
			}
			if p.HealthCheckTimeoutSecs == 0 {
				p.HealthCheckTimeoutSecs = 5
			}
			if p.HealthCheckExpectedStatus == 0 {
				p.HealthCheckExpectedStatus = 200
			}
		}
		for j := range p.Servers {
			if p.Servers[j].Weight <= 0 {
				p.Servers[j].Weight = 1
			}
		}
	}
	if c.RateLimit.WindowSecs == 0 {
		c.RateLimit.WindowSecs = 60
	}
	if c.Plugins.RequestID.Priority == 0 {
		c.Plugins.RequestID.Priority = 10
	}
	if c.Plugins.IPFilter.Priority == 0 {
		c.Plugins.IPFilter.Priority = 10
	}
	if c.Plugins.CORS.Priority == 0 {
		c.Plugins.CORS.Priority = 20
	}
	if c.Plugins.CircuitBreaker.Priority == 0 {
		c.Plugins.CircuitBreaker.Priority = 10
	}
	if c.Plugins.ScriptedRewrite.Priority == 0 {
		c.Plugins.ScriptedRewrite.Priority = 30
	}
}

// normalizeListeners expands ":<port>" to "0.0.0.0:<port>" and infers
// TLS for port 443/8443 or any address containing ":443", per
// spec.md §6.
func (c *Config) normalizeListeners() {
	for i := range c.Servers {
		sb := &c.Servers[i]
		sb.listeners = make([]ListenerConfig, 0, len(sb.Listen))
		for _, addr := range sb.Listen {
			expanded := addr
			if strings.HasPrefix(addr, ":") {
				expanded = "0.0.0.0" + addr
			}
			tls := strings.Contains(expanded, ":443") || strings.HasSuffix(expanded, ":8443")
			sb.listeners = append(sb.listeners, ListenerConfig{Address: expanded, TLS: tls})
		}
	}
}

// Listeners returns the normalized listen addresses for this server
// block, computed by Load/normalizeListeners.
func (sb *ServerBlockConfig) Listeners() []ListenerConfig { return sb.listeners }

// Validate checks the decoded config for the errors spec.md §7
// classifies as Config errors: invalid TOML (already caught by
// Decode), missing required fields, and unknown handler kinds. Every
// problem found is accumulated and returned together via errors.Join,
// not just the first.
func (c *Config) Validate() error {
	var errs []error

	poolIDs := make(map[string]bool, len(c.Pools))
	for _, p := range c.Pools {
		if p.ID == "" {
			errs = append(errs, errors.New("avconfig: pool missing required field \"id\""))
			continue
		}
		poolIDs[p.ID] = true
		if len(p.Servers) == 0 {
			errs = append(errs, fmt.Errorf("avconfig: pool %q has no servers", p.ID))
		}
		switch p.Policy {
		case "round_robin", "weighted_round_robin", "least_connections", "ip_hash", "random":
		default:
			errs = append(errs, fmt.Errorf("avconfig: pool %q has unknown policy %q", p.ID, p.Policy))
		}
	}

	for _, sb := range c.Servers {
		if sb.Name == "" {
			errs = append(errs, errors.New("avconfig: server block missing required field \"name\""))
		}
		if len(sb.Listen) == 0 {
			errs = append(errs, fmt.Errorf("avconfig: server %q has no listen addresses", sb.Name))
		}
		for _, r := range sb.Routes {
			switch r.Handler.Kind {
			case "reverse_proxy":
				if r.Handler.Pool == "" {
					errs = append(errs, fmt.Errorf("avconfig: server %q route missing required field \"handler.pool\"", sb.Name))
				} else if !poolIDs[r.Handler.Pool] {
					errs = append(errs, fmt.Errorf("avconfig: server %q route references unknown pool %q", sb.Name, r.Handler.Pool))
				}
			case "file_server":
				if r.Handler.Root == "" {
					errs = append(errs, fmt.Errorf("avconfig: server %q route missing required field \"handler.root\"", sb.Name))
				}
			case "static":
				if r.Handler.Status == 0 {
					errs = append(errs, fmt.Errorf("avconfig: server %q route missing required field \"handler.status\"", sb.Name))
				}
			default:
				errs = append(errs, fmt.Errorf("avconfig: server %q route has unknown handler kind %q", sb.Name, r.Handler.Kind))
			}
		}
	}

	if c.TLS.ACMEEnabled && c.TLS.Email == "" {
		errs = append(errs, errors.New("avconfig: tls.acme_enabled requires tls.email"))
	}

	return errors.Join(errs...)
}
