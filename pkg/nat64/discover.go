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
	"errors"
	"net/netip"
	"time"

	"github.com/miekg/dns"

	"github.com/webmeshproj/clatd/pkg/context"
	"github.com/webmeshproj/clatd/pkg/util/netutil"
)

// WellKnownName is the hostname probed for NAT64 prefix discovery (RFC 7050).
const WellKnownName = "ipv4only.arpa."

// ErrNoPrefixDiscovered is returned when no resolver produced an answer
// matching a well-known address. It is a benign outcome, not a failure.
var ErrNoPrefixDiscovered = errors.New("no NAT64 prefix discovered")

// Querier performs a single AAAA lookup against one resolver.
type Querier interface {
	// QueryAAAA queries the given name for AAAA records against the given
	// server with DNSSEC validation disabled and returns the answers.
	QueryAAAA(ctx context.Context, name string, server netip.AddrPort) ([]netip.Addr, error)
}

// Discoverer probes resolvers for the PLAT translation prefix.
type Discoverer struct {
	// Querier performs the lookups. Defaults to a miekg/dns client.
	Querier Querier
	// Servers are the resolvers to probe, in order. When empty the system
	// default resolver is used.
	Servers []netip.AddrPort
}

// NewDiscoverer returns a Discoverer probing the given servers with the
// default DNS client.
func NewDiscoverer(servers []netip.AddrPort) *Discoverer {
	return &Discoverer{
		Querier: &dnsQuerier{timeout: 5 * time.Second},
		Servers: servers,
	}
}

// Discover iterates the configured resolvers in order and returns the
// translation prefix encoded in the first non-empty answer set. Resolvers
// that fail or answer empty are skipped. Answers from different resolvers
// are never merged. ErrNoPrefixDiscovered is returned when the resolver
// list is exhausted without a match.
func (d *Discoverer) Discover(ctx context.Context) (netip.Prefix, error) {
	log := context.LoggerFrom(ctx)
	servers := d.Servers
	if len(servers) == 0 {
		server, err := systemResolver()
		if err != nil {
			log.Warn("Could not determine system resolver", "error", err.Error())
			return netip.Prefix{}, ErrNoPrefixDiscovered
		}
		servers = []netip.AddrPort{server}
	}
	var answers []netip.Addr
	for _, server := range servers {
		ips, err := d.Querier.QueryAAAA(ctx, WellKnownName, server)
		if err != nil {
			// Transport failures mean "no answer from this resolver".
			log.Debug("Resolver did not answer", "server", server.String(), "error", err.Error())
			continue
		}
		if len(ips) > 0 {
			answers = ips
			break
		}
	}
	var discovered netip.Prefix
	for _, addr := range answers {
		bits, ok := matchWellKnown(addr)
		if !ok {
			log.Debug("Answer matches no well-known address", "address", addr.String())
			continue
		}
		prefix := netip.PrefixFrom(netutil.Mask(addr, bits), bits)
		if !discovered.IsValid() {
			discovered = prefix
			continue
		}
		if prefix != discovered {
			// Multiple distinct prefixes can be valid simultaneously. We keep
			// the first one discovered without verifying reachability, which
			// is a known-weak heuristic.
			log.Warn("Discovered additional NAT64 prefix, keeping first",
				"kept", discovered.String(), "ignored", prefix.String())
		}
	}
	if !discovered.IsValid() {
		return netip.Prefix{}, ErrNoPrefixDiscovered
	}
	log.Info("Discovered NAT64 prefix", "prefix", discovered.String())
	return discovered, nil
}

// dnsQuerier is the default Querier backed by miekg/dns. Queries go over
// UDP first and are retried over TCP when the answer is truncated.
type dnsQuerier struct {
	timeout time.Duration
}

func (q *dnsQuerier) QueryAAAA(ctx context.Context, name string, server netip.AddrPort) ([]netip.Addr, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), dns.TypeAAAA)
	// DNSSEC validation would reject synthesized answers, which is the
	// whole point of the probe.
	msg.CheckingDisabled = true
	msg.RecursionDesired = true
	client := &dns.Client{Net: "udp", Timeout: q.timeout}
	in, _, err := client.ExchangeContext(ctx, msg, server.String())
	if err != nil {
		return nil, err
	}
	if in.Truncated {
		client.Net = "tcp"
		in, _, err = client.ExchangeContext(ctx, msg, server.String())
		if err != nil {
			return nil, err
		}
	}
	var out []netip.Addr
	for _, rr := range in.Answer {
		aaaa, ok := rr.(*dns.AAAA)
		if !ok {
			continue
		}
		if addr, ok := netip.AddrFromSlice(aaaa.AAAA); ok {
			out = append(out, addr.Unmap())
		}
	}
	return out, nil
}
