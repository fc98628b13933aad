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

package nat64

import (
	"fmt"
	"net/netip"
	"testing"
)

// The expected embeddings come straight from the worked example in
// RFC 6052 section 2.4, using 192.0.2.33 and 2001:db8:122:344::.
func TestEmbedIPv4(t *testing.T) {
	t.Parallel()
	v4 := netip.MustParseAddr("192.0.2.33")
	tc := []struct {
		bits int
		want string
	}{
		{32, "2001:db8:c000:221::"},
		{40, "2001:db8:1c0:2:21::"},
		{48, "2001:db8:122:c000:2:2100::"},
		{56, "2001:db8:122:3c0:0:221::"},
		{64, "2001:db8:122:344:c0:2:2100::"},
		{96, "2001:db8:122:344::c000:221"},
	}
	for _, tt := range tc {
		prefix := netip.PrefixFrom(netip.MustParseAddr("2001:db8:122:344::"), tt.bits)
		want := netip.MustParseAddr(tt.want)
		if got := EmbedIPv4(prefix, v4); got != want {
			t.Errorf("EmbedIPv4(/%d) = %s, want %s", tt.bits, got, want)
		}
	}
}

func TestMatchWellKnown(t *testing.T) {
	t.Parallel()
	base := netip.MustParseAddr("2001:db8:122:344::")
	for _, wka := range []netip.Addr{wellKnownAddr1, wellKnownAddr2} {
		for _, bits := range PrefixLengths {
			t.Run(fmt.Sprintf("%s-%d", wka, bits), func(t *testing.T) {
				addr := EmbedIPv4(netip.PrefixFrom(base, bits), wka)
				got, ok := matchWellKnown(addr)
				if !ok {
					t.Fatalf("no match for %s", addr)
				}
				if got != bits {
					t.Fatalf("matched /%d, want /%d", got, bits)
				}
			})
		}
	}
}

func TestMatchWellKnownNoMatch(t *testing.T) {
	t.Parallel()
	for _, s := range []string{
		"2001:db8::1",
		"64:ff9b::c000:ac", // 192.0.0.172, one past the well-known range
		"::",
	} {
		if bits, ok := matchWellKnown(netip.MustParseAddr(s)); ok {
			t.Errorf("%s matched /%d, want no match", s, bits)
		}
	}
}

// An answer that carries a well-known address at two positions must
// resolve to the longest length.
func TestMatchWellKnownPrefersLongest(t *testing.T) {
	t.Parallel()
	addr := netip.MustParseAddr("2001:db8:c000:aa:0:0:c000:aa")
	bits, ok := matchWellKnown(addr)
	if !ok {
		t.Fatalf("no match for %s", addr)
	}
	if bits != 96 {
		t.Fatalf("matched /%d, want /96", bits)
	}
}
