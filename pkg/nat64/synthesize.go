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
	"crypto/rand"
	"errors"
	"fmt"
	"net/netip"

	"github.com/webmeshproj/clatd/pkg/context"
	"github.com/webmeshproj/clatd/pkg/util/netutil"
)

// ErrNoCandidate is returned when no local address is viable as the
// source for deriving the translator address.
var ErrNoCandidate = errors.New("no viable source address for the translator")

// ClatMarker is the 16-bit value written into the EUI-64 marker field of
// a derived address. It spells "CLAT" in dubious ASCII art and makes
// derived addresses recognizable on the wire.
const ClatMarker = 0xC1A7

// Candidates with less than 8 host bits leave too little room for a safe
// random fallback identifier.
const maxCandidatePrefixLen = 120

// Candidate is a local address considered as the source for the
// translator's own IPv6 address.
type Candidate struct {
	// Addr is the candidate address.
	Addr netip.Addr
	// PrefixLen is the on-link prefix length of the address.
	PrefixLen int
	// Iface is the name of the interface owning the address.
	Iface string
	// EUI64 indicates the interface identifier carries the modified
	// EUI-64 marker.
	EUI64 bool
}

// AddrLister enumerates globally scoped IPv6 addresses configured on the
// system.
type AddrLister interface {
	// ListGlobalUnicast lists global unicast IPv6 addresses. When iface is
	// non-empty only addresses on that interface are returned.
	ListGlobalUnicast(ctx context.Context, iface string) ([]Candidate, error)
}

// Select picks the source address to derive the translator address from.
// Candidates are considered in input order. EUI-64 derived addresses are
// strictly preferred: the first one seen displaces any earlier winner and
// disqualifies every later non-EUI-64 candidate. Within the same class
// the candidate closest to the translation prefix by XOR distance wins,
// with ties kept by the earlier candidate.
func Select(ctx context.Context, candidates []Candidate, plat netip.Prefix) (Candidate, error) {
	log := context.LoggerFrom(ctx)
	var best *Candidate
	var bestDist netutil.Uint128
	var seenEUI64 bool
	for i := range candidates {
		c := candidates[i]
		if c.PrefixLen > maxCandidatePrefixLen {
			log.Debug("Skipping candidate with insufficient host bits",
				"address", c.Addr.String(), "prefix-length", c.PrefixLen)
			continue
		}
		dist := netutil.XORDistance(netutil.Mask(c.Addr, plat.Bits()), plat.Addr())
		if c.EUI64 && !seenEUI64 {
			seenEUI64 = true
			best, bestDist = &c, dist
			continue
		}
		if !c.EUI64 && seenEUI64 {
			continue
		}
		if best == nil || dist.Cmp(bestDist) < 0 {
			best, bestDist = &c, dist
		}
	}
	if best == nil {
		return Candidate{}, ErrNoCandidate
	}
	log.Debug("Selected source candidate",
		"address", best.Addr.String(), "interface", best.Iface, "eui64", best.EUI64)
	return *best, nil
}

// Synthesize derives the translator's own IPv6 address from the winning
// candidate. EUI-64 sources keep their entire interface identifier except
// the 16-bit marker field, which becomes ClatMarker. This preserves the
// solicited-node multicast group of the source address, so the host joins
// no additional groups. Other sources get a random identifier in the host
// bits of their on-link prefix with no collision detection.
func Synthesize(ctx context.Context, candidates []Candidate, plat netip.Prefix) (netip.Addr, error) {
	winner, err := Select(ctx, candidates, plat)
	if err != nil {
		return netip.Addr{}, err
	}
	if winner.EUI64 {
		return netutil.SetEUI64Marker(winner.Addr, ClatMarker), nil
	}
	return randomHostAddr(winner)
}

func randomHostAddr(c Candidate) (netip.Addr, error) {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return netip.Addr{}, fmt.Errorf("read random host bits: %w", err)
	}
	hostMask := netutil.PrefixMask(c.PrefixLen).Not()
	random := netutil.AddrToUint128(netip.AddrFrom16(buf)).And(hostMask)
	base := netutil.AddrToUint128(netutil.Mask(c.Addr, c.PrefixLen))
	return base.Or(random).Addr(), nil
}
