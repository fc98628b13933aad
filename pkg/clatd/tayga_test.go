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

package clatd

import (
	"net/netip"
	"os"
	"path/filepath"
	"testing"

	"github.com/webmeshproj/clatd/pkg/context"
)

func TestTranslatorConfigRender(t *testing.T) {
	t.Parallel()
	conf := TranslatorConfig{
		TunDevice:      "clat",
		PLATPrefix:     netip.MustParsePrefix("64:ff9b::/96"),
		TranslatorIPv4: netip.MustParseAddr("192.0.0.2"),
		MapIPv4:        netip.MustParseAddr("192.0.0.1"),
		MapIPv6:        netip.MustParseAddr("2001:db8::c1a7"),
	}
	want := `tun-device clat
prefix 64:ff9b::/96
ipv4-addr 192.0.0.2
map 192.0.0.1 2001:db8::c1a7
`
	if got := conf.Render(); got != want {
		t.Fatalf("rendered:\n%s\nwant:\n%s", got, want)
	}
}

func TestTaygaConfigLifecycle(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "tayga.conf")
	tayga := NewTayga("tayga", path)
	conf := TranslatorConfig{
		TunDevice:      "clat",
		PLATPrefix:     netip.MustParsePrefix("64:ff9b::/96"),
		TranslatorIPv4: netip.MustParseAddr("192.0.0.2"),
		MapIPv4:        netip.MustParseAddr("192.0.0.1"),
		MapIPv6:        netip.MustParseAddr("2001:db8::c1a7"),
	}
	if err := tayga.WriteConfig(context.Background(), conf); err != nil {
		t.Fatalf("write config: %s", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read config: %s", err)
	}
	if string(data) != conf.Render() {
		t.Fatalf("artifact content:\n%s", data)
	}
	if err := tayga.RemoveConfig(); err != nil {
		t.Fatalf("remove config: %s", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("artifact still exists")
	}
	// Removing twice is fine.
	if err := tayga.RemoveConfig(); err != nil {
		t.Fatalf("second remove: %s", err)
	}
}
