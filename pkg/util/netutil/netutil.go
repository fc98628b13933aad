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

// Package netutil contains fixed-width IPv6 address arithmetic.
package netutil

import (
	"encoding/binary"
	"net/netip"
)

// Uint128 is a 128-bit unsigned integer in big-endian limb order.
// It is the working representation for IPv6 address arithmetic.
type Uint128 struct {
	Hi, Lo uint64
}

// AddrToUint128 converts an IPv6 address to its 128-bit integer value.
func AddrToUint128(addr netip.Addr) Uint128 {
	b := addr.As16()
	return Uint128{
		Hi: binary.BigEndian.Uint64(b[:8]),
		Lo: binary.BigEndian.Uint64(b[8:]),
	}
}

// Addr converts the 128-bit integer value back to an IPv6 address.
func (u Uint128) Addr() netip.Addr {
	var b [16]byte
	binary.BigEndian.PutUint64(b[:8], u.Hi)
	binary.BigEndian.PutUint64(b[8:], u.Lo)
	return netip.AddrFrom16(b)
}

// Xor returns the bitwise exclusive-or of u and o.
func (u Uint128) Xor(o Uint128) Uint128 {
	return Uint128{Hi: u.Hi ^ o.Hi, Lo: u.Lo ^ o.Lo}
}

// And returns the bitwise and of u and o.
func (u Uint128) And(o Uint128) Uint128 {
	return Uint128{Hi: u.Hi & o.Hi, Lo: u.Lo & o.Lo}
}

// Or returns the bitwise or of u and o.
func (u Uint128) Or(o Uint128) Uint128 {
	return Uint128{Hi: u.Hi | o.Hi, Lo: u.Lo | o.Lo}
}

// Not returns the bitwise complement of u.
func (u Uint128) Not() Uint128 {
	return Uint128{Hi: ^u.Hi, Lo: ^u.Lo}
}

// Cmp returns -1, 0, or 1 depending on whether u is less than, equal
// to, or greater than o.
func (u Uint128) Cmp(o Uint128) int {
	switch {
	case u.Hi < o.Hi:
		return -1
	case u.Hi > o.Hi:
		return 1
	case u.Lo < o.Lo:
		return -1
	case u.Lo > o.Lo:
		return 1
	}
	return 0
}

// IsZero reports whether u is zero.
func (u Uint128) IsZero() bool {
	return u.Hi == 0 && u.Lo == 0
}

// Lsh returns u shifted left by n bits.
func (u Uint128) Lsh(n uint) Uint128 {
	switch {
	case n >= 128:
		return Uint128{}
	case n >= 64:
		return Uint128{Hi: u.Lo << (n - 64)}
	case n == 0:
		return u
	}
	return Uint128{
		Hi: u.Hi<<n | u.Lo>>(64-n),
		Lo: u.Lo << n,
	}
}

// Rsh returns u shifted right by n bits.
func (u Uint128) Rsh(n uint) Uint128 {
	switch {
	case n >= 128:
		return Uint128{}
	case n >= 64:
		return Uint128{Lo: u.Hi >> (n - 64)}
	case n == 0:
		return u
	}
	return Uint128{
		Hi: u.Hi >> n,
		Lo: u.Lo>>n | u.Hi<<(64-n),
	}
}

// PrefixMask returns the 128-bit mask selecting the first bits of an
// address. Bits beyond 128 are clamped.
func PrefixMask(bits int) Uint128 {
	if bits <= 0 {
		return Uint128{}
	}
	if bits >= 128 {
		return Uint128{Hi: ^uint64(0), Lo: ^uint64(0)}
	}
	return Uint128{Hi: ^uint64(0), Lo: ^uint64(0)}.Lsh(uint(128 - bits))
}

// Mask zeroes every bit of addr beyond the first bits.
func Mask(addr netip.Addr, bits int) netip.Addr {
	return AddrToUint128(addr).And(PrefixMask(bits)).Addr()
}

// XORDistance returns the bitwise exclusive-or of two addresses. Treated
// as an unsigned value, a smaller distance means a longer common prefix.
func XORDistance(a, b netip.Addr) Uint128 {
	return AddrToUint128(a).Xor(AddrToUint128(b))
}

// GetBits extracts width bits of addr starting at offset. Bit 0 is the
// most significant bit of the address. Width must be at most 64.
func GetBits(addr netip.Addr, offset, width int) uint64 {
	u := AddrToUint128(addr).Rsh(uint(128 - offset - width))
	if width >= 64 {
		return u.Lo
	}
	return u.Lo & (1<<uint(width) - 1)
}

// SetBits overwrites width bits of addr starting at offset with the low
// width bits of value. Bit 0 is the most significant bit of the address.
// Width must be at most 64.
func SetBits(addr netip.Addr, offset, width int, value uint64) netip.Addr {
	if width < 64 {
		value &= 1<<uint(width) - 1
	}
	shift := uint(128 - offset - width)
	mask := PrefixMask(width).Rsh(uint(offset))
	u := AddrToUint128(addr).And(mask.Not()).Or(Uint128{Lo: value}.Lsh(shift))
	return u.Addr()
}

// Interface-identifier layout of a modified EUI-64 address. The marker
// field is the 16 bits at offset 24 of the 64-bit identifier, which is
// offset 88 of the full address.
const (
	eui64MarkerOffset = 88
	eui64MarkerWidth  = 16
	eui64Marker       = 0xFFFE
)

// IsEUI64 reports whether the interface identifier of addr carries the
// modified EUI-64 marker, i.e. bits 24-38 of the identifier are all ones
// and bit 39 is zero.
func IsEUI64(addr netip.Addr) bool {
	return GetBits(addr, eui64MarkerOffset, eui64MarkerWidth) == eui64Marker
}

// SetEUI64Marker replaces the 16-bit EUI-64 marker field of the interface
// identifier with value, leaving every other bit of the address unchanged.
func SetEUI64Marker(addr netip.Addr, value uint16) netip.Addr {
	return SetBits(addr, eui64MarkerOffset, eui64MarkerWidth, uint64(value))
}
