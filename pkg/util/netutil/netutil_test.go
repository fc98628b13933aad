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

package netutil

import (
	"net/netip"
	"testing"
)

func TestUint128RoundTrip(t *testing.T) {
	t.Parallel()
	for _, s := range []string{
		"::",
		"::1",
		"64:ff9b::192.0.0.170",
		"2001:db8::1",
		"ffff:ffff:ffff:ffff:ffff:ffff:ffff:ffff",
	} {
		addr := netip.MustParseAddr(s)
		got := AddrToUint128(addr).Addr()
		if got != addr {
			t.Errorf("round trip of %s returned %s", addr, got)
		}
	}
}

func TestUint128Cmp(t *testing.T) {
	t.Parallel()
	tc := []struct {
		a, b string
		want int
	}{
		{"::", "::", 0},
		{"::1", "::", 1},
		{"::", "::1", -1},
		{"2001:db8::", "::ffff:ffff:ffff:ffff", 1},
		{"::ffff:ffff:ffff:ffff", "2001:db8::", -1},
	}
	for _, tt := range tc {
		a := AddrToUint128(netip.MustParseAddr(tt.a))
		b := AddrToUint128(netip.MustParseAddr(tt.b))
		if got := a.Cmp(b); got != tt.want {
			t.Errorf("Cmp(%s, %s) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestUint128Shifts(t *testing.T) {
	t.Parallel()
	one := Uint128{Lo: 1}
	if got := one.Lsh(64); got.Hi != 1 || got.Lo != 0 {
		t.Errorf("1 << 64 = %+v", got)
	}
	if got := one.Lsh(127).Rsh(127); got != one {
		t.Errorf("shift round trip = %+v", got)
	}
	if got := one.Lsh(128); !got.IsZero() {
		t.Errorf("1 << 128 = %+v, want zero", got)
	}
	top := Uint128{Hi: 1 << 63}
	if got := top.Rsh(64); got.Hi != 0 || got.Lo != 1<<63 {
		t.Errorf("msb >> 64 = %+v", got)
	}
}

func TestPrefixMask(t *testing.T) {
	t.Parallel()
	tc := []struct {
		bits int
		want string
	}{
		{0, "::"},
		{32, "ffff:ffff::"},
		{64, "ffff:ffff:ffff:ffff::"},
		{96, "ffff:ffff:ffff:ffff:ffff:ffff::"},
		{128, "ffff:ffff:ffff:ffff:ffff:ffff:ffff:ffff"},
	}
	for _, tt := range tc {
		want := netip.MustParseAddr(tt.want)
		if got := PrefixMask(tt.bits).Addr(); got != want {
			t.Errorf("PrefixMask(%d) = %s, want %s", tt.bits, got, want)
		}
	}
}

func TestMask(t *testing.T) {
	t.Parallel()
	addr := netip.MustParseAddr("2001:db8:1:2:3:4:5:6")
	if got, want := Mask(addr, 64), netip.MustParseAddr("2001:db8:1:2::"); got != want {
		t.Errorf("Mask(%s, 64) = %s, want %s", addr, got, want)
	}
	if got := Mask(addr, 128); got != addr {
		t.Errorf("Mask(%s, 128) = %s", addr, got)
	}
}

func TestGetSetBits(t *testing.T) {
	t.Parallel()
	addr := netip.MustParseAddr("2001:db8::1")
	if got := GetBits(addr, 0, 16); got != 0x2001 {
		t.Errorf("GetBits(0, 16) = %#x, want 0x2001", got)
	}
	if got := GetBits(addr, 16, 16); got != 0x0db8 {
		t.Errorf("GetBits(16, 16) = %#x, want 0xdb8", got)
	}
	set := SetBits(addr, 16, 16, 0xbeef)
	if want := netip.MustParseAddr("2001:beef::1"); set != want {
		t.Errorf("SetBits = %s, want %s", set, want)
	}
	// Values wider than the field must be truncated.
	set = SetBits(addr, 16, 16, 0x1beef)
	if want := netip.MustParseAddr("2001:beef::1"); set != want {
		t.Errorf("SetBits with oversized value = %s, want %s", set, want)
	}
}

func TestIsEUI64(t *testing.T) {
	t.Parallel()
	tc := []struct {
		addr string
		want bool
	}{
		// Canonical SLAAC address with the ff:fe marker.
		{"2001:db8::0211:22ff:fe33:4455", true},
		// Privacy style identifier.
		{"2001:db8::1", false},
		// One marker bit flipped either way.
		{"2001:db8::0211:22ff:fa33:4455", false},
		{"2001:db8::0211:22fd:fe33:4455", false},
		// Marker bytes in the wrong position.
		{"2001:db8::fffe:2233:4455", false},
	}
	for _, tt := range tc {
		if got := IsEUI64(netip.MustParseAddr(tt.addr)); got != tt.want {
			t.Errorf("IsEUI64(%s) = %v, want %v", tt.addr, got, tt.want)
		}
	}
}

func TestSetEUI64Marker(t *testing.T) {
	t.Parallel()
	addr := netip.MustParseAddr("2001:db8::0211:22ff:fe33:4455")
	got := SetEUI64Marker(addr, 0xC1A7)
	want := netip.MustParseAddr("2001:db8::0211:22c1:a733:4455")
	if got != want {
		t.Fatalf("SetEUI64Marker(%s) = %s, want %s", addr, got, want)
	}
	// Everything outside the marker field survives, including the low
	// 24 bits of the identifier.
	if GetBits(got, 104, 24) != GetBits(addr, 104, 24) {
		t.Error("low identifier bits changed")
	}
	if GetBits(got, 64, 24) != GetBits(addr, 64, 24) {
		t.Error("high identifier bits changed")
	}
	if Mask(got, 64) != Mask(addr, 64) {
		t.Error("prefix bits changed")
	}
}
