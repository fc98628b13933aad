/*
Copyright 2023 Avi Zimmerman <avi.zimmerman@gmail.com>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package config contains configuration options and parsing for the clatd daemon.
package config

import (
	"fmt"
	"net/netip"
	"strings"

	"github.com/spf13/pflag"

	"github.com/webmeshproj/clatd/pkg/util"
)

// Environment variable fallbacks for every flag.
const (
	LogLevelEnvVar        = "GLOBAL_LOG_LEVEL"
	CLATDeviceEnvVar      = "CLAT_DEVICE"
	CLATIPv4AddrEnvVar    = "CLAT_IPV4_ADDR"
	CLATIPv6AddrEnvVar    = "CLAT_IPV6_ADDR"
	CLATUplinkEnvVar      = "CLAT_UPLINK_INTERFACE"
	PLATPrefixEnvVar      = "PLAT_PREFIX"
	DNS64ServersEnvVar    = "DNS64_SERVERS"
	DefaultRouteEnvVar    = "ROUTE_INSTALL_DEFAULT"
	RouteMetricEnvVar     = "ROUTE_METRIC"
	RouteMTUEnvVar        = "ROUTE_MTU"
	RouteAdvMSSEnvVar     = "ROUTE_ADVMSS"
	TranslatorPathEnvVar  = "TRANSLATOR_PATH"
	TranslatorStateEnvVar = "TRANSLATOR_STATE_DIR"
	UpScriptEnvVar        = "SCRIPT_UP"
	DownScriptEnvVar      = "SCRIPT_DOWN"
)

// ValidPrefixLengths are the translation prefix lengths RFC 6052 permits.
var ValidPrefixLengths = []int{32, 40, 48, 56, 64, 96}

// Config are the configuration options for running the clatd daemon.
type Config struct {
	// Global are options applying to the whole process.
	Global GlobalOptions `yaml:"global,omitempty" json:"global,omitempty" toml:"global,omitempty"`
	// CLAT are the options for the local translator.
	CLAT CLATOptions `yaml:"clat,omitempty" json:"clat,omitempty" toml:"clat,omitempty"`
	// Discovery are the NAT64 prefix discovery options.
	Discovery DiscoveryOptions `yaml:"discovery,omitempty" json:"discovery,omitempty" toml:"discovery,omitempty"`
	// Route are the IPv4 routing options.
	Route RouteOptions `yaml:"route,omitempty" json:"route,omitempty" toml:"route,omitempty"`
	// Translator are the options for the supervised translation process.
	Translator TranslatorOptions `yaml:"translator,omitempty" json:"translator,omitempty" toml:"translator,omitempty"`
	// Scripts are the hook script options.
	Scripts ScriptOptions `yaml:"scripts,omitempty" json:"scripts,omitempty" toml:"scripts,omitempty"`
}

// GlobalOptions are options applying to the whole process.
type GlobalOptions struct {
	// LogLevel is the log level.
	LogLevel string `yaml:"log-level,omitempty" json:"log-level,omitempty" toml:"log-level,omitempty"`
}

// CLATOptions are the options for the local translator.
type CLATOptions struct {
	// Device is the name of the translation tun device.
	Device string `yaml:"device,omitempty" json:"device,omitempty" toml:"device,omitempty"`
	// IPv4Addr is the translator's IPv4 address.
	IPv4Addr string `yaml:"ipv4-addr,omitempty" json:"ipv4-addr,omitempty" toml:"ipv4-addr,omitempty"`
	// IPv6Addr overrides address synthesis with a fixed IPv6 address.
	IPv6Addr string `yaml:"ipv6-addr,omitempty" json:"ipv6-addr,omitempty" toml:"ipv6-addr,omitempty"`
	// UplinkInterface is the interface facing the NAT64. Empty means the
	// interface owning the winning candidate address.
	UplinkInterface string `yaml:"uplink-interface,omitempty" json:"uplink-interface,omitempty" toml:"uplink-interface,omitempty"`
}

// DiscoveryOptions are the NAT64 prefix discovery options.
type DiscoveryOptions struct {
	// PLATPrefix overrides discovery with a fixed translation prefix.
	PLATPrefix string `yaml:"plat-prefix,omitempty" json:"plat-prefix,omitempty" toml:"plat-prefix,omitempty"`
	// DNS64Servers are the resolvers probed for the translation prefix,
	// in order. Empty means the system default resolver.
	DNS64Servers []string `yaml:"dns64-servers,omitempty" json:"dns64-servers,omitempty" toml:"dns64-servers,omitempty"`
}

// RouteOptions are the IPv4 routing options.
type RouteOptions struct {
	// InstallDefault replaces the IPv4 default route with one via the
	// translator.
	InstallDefault bool `yaml:"install-default,omitempty" json:"install-default,omitempty" toml:"install-default,omitempty"`
	// Metric is the metric of the installed default route.
	Metric int `yaml:"metric,omitempty" json:"metric,omitempty" toml:"metric,omitempty"`
	// MTU is the MTU of the installed default route.
	MTU int `yaml:"mtu,omitempty" json:"mtu,omitempty" toml:"mtu,omitempty"`
	// AdvMSS is the advertised TCP MSS of the installed default route.
	// Zero derives it from the MTU.
	AdvMSS int `yaml:"advmss,omitempty" json:"advmss,omitempty" toml:"advmss,omitempty"`
}

// TranslatorOptions are the options for the supervised translation process.
type TranslatorOptions struct {
	// Path is the path to the translator binary.
	Path string `yaml:"path,omitempty" json:"path,omitempty" toml:"path,omitempty"`
	// StateDir is the directory holding the generated configuration
	// artifact and the translator's runtime state.
	StateDir string `yaml:"state-dir,omitempty" json:"state-dir,omitempty" toml:"state-dir,omitempty"`
}

// ScriptOptions are the hook script options.
type ScriptOptions struct {
	// Up is a script run after the configuration artifact is written and
	// before provisioning starts. A failure aborts the run.
	Up string `yaml:"up,omitempty" json:"up,omitempty" toml:"up,omitempty"`
	// Down is a script run after the translator exits and before
	// rollback. Failures are warnings.
	Down string `yaml:"down,omitempty" json:"down,omitempty" toml:"down,omitempty"`
}

// NewDefaultConfig returns a new config with the default options.
func NewDefaultConfig() *Config {
	return &Config{
		Global: GlobalOptions{
			LogLevel: "info",
		},
		CLAT: CLATOptions{
			Device:   "clat",
			IPv4Addr: "192.0.0.1",
		},
		Route: RouteOptions{
			InstallDefault: true,
			Metric:         2048,
			MTU:            1260,
		},
		Translator: TranslatorOptions{
			Path:     "tayga",
			StateDir: "/var/run/clatd",
		},
	}
}

// BindFlags binds the flags. The config is returned for convenience.
func (c *Config) BindFlags(fs *pflag.FlagSet) *Config {
	fs.StringVar(&c.Global.LogLevel, "global.log-level", util.GetEnvDefault(LogLevelEnvVar, c.Global.LogLevel),
		"Log level (debug, info, warn, error, silent)")
	fs.StringVar(&c.CLAT.Device, "clat.device", util.GetEnvDefault(CLATDeviceEnvVar, c.CLAT.Device),
		"Name of the translation tun device.")
	fs.StringVar(&c.CLAT.IPv4Addr, "clat.ipv4-addr", util.GetEnvDefault(CLATIPv4AddrEnvVar, c.CLAT.IPv4Addr),
		"The translator's IPv4 address.")
	fs.StringVar(&c.CLAT.IPv6Addr, "clat.ipv6-addr", util.GetEnvDefault(CLATIPv6AddrEnvVar, c.CLAT.IPv6Addr),
		"Skip address synthesis and use this IPv6 address for the translator.")
	fs.StringVar(&c.CLAT.UplinkInterface, "clat.uplink-interface", util.GetEnvDefault(CLATUplinkEnvVar, c.CLAT.UplinkInterface),
		"The interface facing the NAT64. Default is the interface owning the selected source address.")
	fs.StringVar(&c.Discovery.PLATPrefix, "discovery.plat-prefix", util.GetEnvDefault(PLATPrefixEnvVar, c.Discovery.PLATPrefix),
		"Skip discovery and use this translation prefix.")
	fs.StringSliceVar(&c.Discovery.DNS64Servers, "discovery.dns64-servers", c.Discovery.DNS64Servers,
		"Resolvers to probe for the translation prefix, in order. Default is the system resolver.")
	fs.BoolVar(&c.Route.InstallDefault, "route.install-default", util.GetEnvDefault(DefaultRouteEnvVar, "true") == "true",
		"Replace the IPv4 default route with one via the translator.")
	fs.IntVar(&c.Route.Metric, "route.metric", util.GetEnvIntDefault(RouteMetricEnvVar, c.Route.Metric),
		"Metric of the installed default route.")
	fs.IntVar(&c.Route.MTU, "route.mtu", util.GetEnvIntDefault(RouteMTUEnvVar, c.Route.MTU),
		"MTU of the installed default route.")
	fs.IntVar(&c.Route.AdvMSS, "route.advmss", util.GetEnvIntDefault(RouteAdvMSSEnvVar, c.Route.AdvMSS),
		"Advertised TCP MSS of the installed default route. Zero derives it from the MTU.")
	fs.StringVar(&c.Translator.Path, "translator.path", util.GetEnvDefault(TranslatorPathEnvVar, c.Translator.Path),
		"Path to the translator binary.")
	fs.StringVar(&c.Translator.StateDir, "translator.state-dir", util.GetEnvDefault(TranslatorStateEnvVar, c.Translator.StateDir),
		"Directory for the generated translator configuration.")
	fs.StringVar(&c.Scripts.Up, "scripts.up", util.GetEnvDefault(UpScriptEnvVar, c.Scripts.Up),
		"Script run before provisioning starts.")
	fs.StringVar(&c.Scripts.Down, "scripts.down", util.GetEnvDefault(DownScriptEnvVar, c.Scripts.Down),
		"Script run after the translator exits.")
	return c
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.CLAT.Device == "" {
		return fmt.Errorf("clat.device must not be empty")
	}
	if _, err := c.CLATv4(); err != nil {
		return err
	}
	if c.CLAT.IPv6Addr != "" {
		if _, err := netip.ParseAddr(c.CLAT.IPv6Addr); err != nil {
			return fmt.Errorf("invalid clat.ipv6-addr: %w", err)
		}
	}
	if c.Discovery.PLATPrefix != "" {
		prefix, err := netip.ParsePrefix(c.Discovery.PLATPrefix)
		if err != nil {
			return fmt.Errorf("invalid discovery.plat-prefix: %w", err)
		}
		if !validPrefixLength(prefix.Bits()) {
			return fmt.Errorf("invalid discovery.plat-prefix length %d, must be one of %v",
				prefix.Bits(), ValidPrefixLengths)
		}
	}
	if _, err := c.DNS64Servers(); err != nil {
		return err
	}
	if c.Translator.Path == "" {
		return fmt.Errorf("translator.path must not be empty")
	}
	return nil
}

// CLATv4 returns the parsed translator IPv4 address.
func (c *Config) CLATv4() (netip.Addr, error) {
	addr, err := netip.ParseAddr(c.CLAT.IPv4Addr)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("invalid clat.ipv4-addr: %w", err)
	}
	if !addr.Is4() {
		return netip.Addr{}, fmt.Errorf("clat.ipv4-addr must be an IPv4 address")
	}
	return addr, nil
}

// CLATv6 returns the configured translator IPv6 address override, if any.
func (c *Config) CLATv6() (netip.Addr, bool) {
	if c.CLAT.IPv6Addr == "" {
		return netip.Addr{}, false
	}
	addr, err := netip.ParseAddr(c.CLAT.IPv6Addr)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr, true
}

// PLATPrefix returns the configured translation prefix override, if any.
func (c *Config) PLATPrefix() (netip.Prefix, bool) {
	if c.Discovery.PLATPrefix == "" {
		return netip.Prefix{}, false
	}
	prefix, err := netip.ParsePrefix(c.Discovery.PLATPrefix)
	if err != nil {
		return netip.Prefix{}, false
	}
	return prefix.Masked(), true
}

// DNS64Servers returns the parsed resolver endpoints. Bare addresses get
// the default DNS port.
func (c *Config) DNS64Servers() ([]netip.AddrPort, error) {
	out := make([]netip.AddrPort, 0, len(c.Discovery.DNS64Servers))
	for _, server := range c.Discovery.DNS64Servers {
		server = strings.TrimSpace(server)
		if server == "" {
			continue
		}
		if addr, err := netip.ParseAddr(server); err == nil {
			out = append(out, netip.AddrPortFrom(addr, 53))
			continue
		}
		addrport, err := netip.ParseAddrPort(server)
		if err != nil {
			return nil, fmt.Errorf("invalid discovery.dns64-servers entry %q: %w", server, err)
		}
		out = append(out, addrport)
	}
	return out, nil
}

// AdvMSS returns the advertised TCP MSS for the default route, deriving
// it from the MTU when unset. The 40 bytes cover the IPv4 and TCP
// headers.
func (c *Config) AdvMSS() int {
	if c.Route.AdvMSS > 0 {
		return c.Route.AdvMSS
	}
	if c.Route.MTU > 40 {
		return c.Route.MTU - 40
	}
	return 0
}

func validPrefixLength(bits int) bool {
	for _, l := range ValidPrefixLengths {
		if bits == l {
			return true
		}
	}
	return false
}
