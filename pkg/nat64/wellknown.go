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

// Package nat64 discovers NAT64 translation prefixes and derives local
// translator addresses from them.
package nat64

import (
	"net/netip"

	"github.com/webmeshproj/clatd/pkg/util/netutil"
)

// The two IPv4 well-known addresses reserved for NAT64 prefix discovery
// (RFC 7050). A resolver that performs DNS64 synthesis answers AAAA
// queries for ipv4only.arpa with these embedded in its translation prefix.
var (
	wellKnownAddr1 = netip.AddrFrom4([4]byte{192, 0, 0, 170})
	wellKnownAddr2 = netip.AddrFrom4([4]byte{192, 0, 0, 171})
)

// PrefixLengths are the translation prefix lengths RFC 6052 permits,
// longest first. Matching must prefer longer lengths so that a short
// false positive can never shadow a longer true match.
var PrefixLengths = []int{96, 64, 56, 48, 40, 32}

// wkaPattern selects the bit positions an embedded IPv4 address occupies
// for one prefix length and holds one well-known address placed there.
type wkaPattern struct {
	mask  netutil.Uint128
	value netutil.Uint128
}

// wkaTable maps each permitted prefix length to its two well-known address
// patterns. Built once at startup, never mutated.
var wkaTable = func() map[int][]wkaPattern {
	allOnes := netip.AddrFrom4([4]byte{255, 255, 255, 255})
	table := make(map[int][]wkaPattern, len(PrefixLengths))
	for _, bits := range PrefixLengths {
		zero := netip.PrefixFrom(netip.IPv6Unspecified(), bits)
		mask := netutil.AddrToUint128(EmbedIPv4(zero, allOnes))
		table[bits] = []wkaPattern{
			{mask: mask, value: netutil.AddrToUint128(EmbedIPv4(zero, wellKnownAddr1))},
			{mask: mask, value: netutil.AddrToUint128(EmbedIPv4(zero, wellKnownAddr2))},
		}
	}
	return table
}()

// EmbedIPv4 places an IPv4 address into an IPv6 translation prefix
// according to RFC 6052 section 2.2. Byte 8 of the result is the
// reserved u-octet and is skipped for prefixes shorter than /96.
func EmbedIPv4(prefix netip.Prefix, v4 netip.Addr) netip.Addr {
	out := prefix.Masked().Addr().As16()
	v4b := v4.As4()
	shift := prefix.Bits() / 8
	for i := 0; i < 4; i++ {
		if shift+i == 8 {
			shift++
		}
		out[shift+i] = v4b[i]
	}
	return netip.AddrFrom16(out)
}

// matchWellKnown checks an AAAA answer against the well-known address
// patterns at every permitted prefix length, longest first, and returns
// the length of the first match.
func matchWellKnown(addr netip.Addr) (bits int, ok bool) {
	u := netutil.AddrToUint128(addr)
	for _, bits := range PrefixLengths {
		for _, pat := range wkaTable[bits] {
			if u.And(pat.mask) == pat.value {
				return bits, true
			}
		}
	}
	return 0, false
}
