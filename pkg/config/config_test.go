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

package config

import (
	"net/netip"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestValidate(t *testing.T) {
	t.Parallel()
	tc := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "Defaults", mutate: func(c *Config) {}},
		{name: "EmptyDevice", mutate: func(c *Config) { c.CLAT.Device = "" }, wantErr: true},
		{name: "BadIPv4", mutate: func(c *Config) { c.CLAT.IPv4Addr = "not-an-address" }, wantErr: true},
		{name: "IPv6AsIPv4", mutate: func(c *Config) { c.CLAT.IPv4Addr = "2001:db8::1" }, wantErr: true},
		{name: "IPv6Override", mutate: func(c *Config) { c.CLAT.IPv6Addr = "2001:db8::c1a7" }},
		{name: "BadIPv6Override", mutate: func(c *Config) { c.CLAT.IPv6Addr = "bogus" }, wantErr: true},
		{name: "PrefixOverride", mutate: func(c *Config) { c.Discovery.PLATPrefix = "64:ff9b::/96" }},
		{name: "BadPrefixLength", mutate: func(c *Config) { c.Discovery.PLATPrefix = "64:ff9b::/72" }, wantErr: true},
		{name: "BadPrefix", mutate: func(c *Config) { c.Discovery.PLATPrefix = "bogus" }, wantErr: true},
		{name: "BadServer", mutate: func(c *Config) { c.Discovery.DNS64Servers = []string{"bogus"} }, wantErr: true},
		{name: "EmptyTranslatorPath", mutate: func(c *Config) { c.Translator.Path = "" }, wantErr: true},
	}
	for _, tt := range tc {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			conf := NewDefaultConfig()
			tt.mutate(conf)
			err := conf.Validate()
			if tt.wantErr && err == nil {
				t.Fatal("expected error")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %s", err)
			}
		})
	}
}

func TestDNS64Servers(t *testing.T) {
	t.Parallel()
	conf := NewDefaultConfig()
	conf.Discovery.DNS64Servers = []string{
		"2001:db8::53",
		"[2001:db8::54]:5353",
		" ",
	}
	got, err := conf.DNS64Servers()
	if err != nil {
		t.Fatalf("parse servers: %s", err)
	}
	want := []netip.AddrPort{
		netip.MustParseAddrPort("[2001:db8::53]:53"),
		netip.MustParseAddrPort("[2001:db8::54]:5353"),
	}
	if diff := cmp.Diff(want, got, cmp.Comparer(func(a, b netip.AddrPort) bool { return a == b })); diff != "" {
		t.Fatalf("unexpected servers (-want +got):\n%s", diff)
	}
}

func TestAdvMSS(t *testing.T) {
	t.Parallel()
	conf := NewDefaultConfig()
	if got := conf.AdvMSS(); got != 1220 {
		t.Errorf("derived mss %d, want 1220", got)
	}
	conf.Route.AdvMSS = 1400
	if got := conf.AdvMSS(); got != 1400 {
		t.Errorf("explicit mss %d, want 1400", got)
	}
	conf.Route.AdvMSS = 0
	conf.Route.MTU = 0
	if got := conf.AdvMSS(); got != 0 {
		t.Errorf("mss without mtu %d, want 0", got)
	}
}

func TestPLATPrefixMasked(t *testing.T) {
	t.Parallel()
	conf := NewDefaultConfig()
	conf.Discovery.PLATPrefix = "64:ff9b::1/96"
	prefix, ok := conf.PLATPrefix()
	if !ok {
		t.Fatal("no prefix returned")
	}
	if want := netip.MustParsePrefix("64:ff9b::/96"); prefix != want {
		t.Fatalf("prefix %s, want %s", prefix, want)
	}
}
