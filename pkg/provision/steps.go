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

package provision

import (
	"fmt"
	"net/netip"

	"github.com/webmeshproj/clatd/pkg/context"
)

// Config configures the forward provisioning sequence.
type Config struct {
	// CLATIface is the name of the translation tun device to create.
	CLATIface string
	// PLATIface is the uplink interface facing the NAT64.
	PLATIface string
	// CLATAddr is the translator's derived IPv6 address.
	CLATAddr netip.Addr
	// CLATv4Addr is the translator's IPv4 address.
	CLATv4Addr netip.Addr
	// InstallDefaultRoute installs the IPv4 default route via the
	// translator.
	InstallDefaultRoute bool
	// RouteMetric is the metric for the installed default route.
	RouteMetric int
	// RouteMTU is the MTU for the installed default route.
	RouteMTU int
	// RouteAdvMSS is the advertised TCP MSS for the installed default route.
	RouteAdvMSS int
}

// Apply runs the fixed forward sequence against sys, recording an undo on
// the ledger for every mutation actually performed. The first failing
// step aborts the sequence; the caller is expected to unwind the ledger.
func Apply(ctx context.Context, sys System, ledger *Ledger, cfg Config) error {
	log := context.LoggerFrom(ctx)

	// Forwarding between the uplink and the translation device.
	if err := setSysctl(ctx, sys, ledger, "net/ipv6/conf/all/forwarding", "1"); err != nil {
		return fmt.Errorf("enable ipv6 forwarding: %w", err)
	}

	// Enabling forwarding stops the kernel from accepting router
	// advertisements unless accept_ra is bumped to 2. Relax it on every
	// interface currently relying on the default.
	ifaces, err := sys.Interfaces(ctx)
	if err != nil {
		return fmt.Errorf("list interfaces: %w", err)
	}
	for _, iface := range ifaces {
		if iface == "lo" || iface == cfg.CLATIface {
			continue
		}
		name := "net/ipv6/conf/" + iface + "/accept_ra"
		current, err := sys.Sysctl(ctx, name)
		if err != nil {
			// Not every interface carries IPv6 settings.
			log.Debug("Skipping accept_ra on interface", "interface", iface, "error", err.Error())
			continue
		}
		if current != "1" {
			continue
		}
		if err := sys.SetSysctl(ctx, name, "2"); err != nil {
			return fmt.Errorf("relax accept_ra on %s: %w", iface, err)
		}
		if err := recordSysctl(sys, ledger, name, "1"); err != nil {
			return err
		}
	}

	// Neighbor discovery proxying for the derived address on the uplink.
	proxyNDP := "net/ipv6/conf/" + cfg.PLATIface + "/proxy_ndp"
	if err := setSysctl(ctx, sys, ledger, proxyNDP, "1"); err != nil {
		return fmt.Errorf("enable proxy_ndp on %s: %w", cfg.PLATIface, err)
	}
	if err := sys.AddProxyNeighbor(ctx, cfg.CLATAddr, cfg.PLATIface); err != nil {
		return fmt.Errorf("add proxy neighbor: %w", err)
	}
	err = ledger.Record(fmt.Sprintf("proxy neighbor %s on %s", cfg.CLATAddr, cfg.PLATIface),
		func(ctx context.Context) error {
			return sys.RemoveProxyNeighbor(ctx, cfg.CLATAddr, cfg.PLATIface)
		})
	if err != nil {
		return err
	}

	// The translation device.
	if err := sys.CreateTun(ctx, cfg.CLATIface); err != nil {
		return fmt.Errorf("create tun %s: %w", cfg.CLATIface, err)
	}
	err = ledger.Record(fmt.Sprintf("tun device %s", cfg.CLATIface),
		func(ctx context.Context) error {
			return sys.RemoveTun(ctx, cfg.CLATIface)
		})
	if err != nil {
		return err
	}
	if err := sys.ActivateInterface(ctx, cfg.CLATIface); err != nil {
		return fmt.Errorf("activate %s: %w", cfg.CLATIface, err)
	}

	// Forwarded traffic in both directions between the translation device
	// and the uplink.
	for _, pair := range [][2]string{
		{cfg.CLATIface, cfg.PLATIface},
		{cfg.PLATIface, cfg.CLATIface},
	} {
		in, out := pair[0], pair[1]
		if err := sys.AddAcceptRule(ctx, in, out); err != nil {
			return fmt.Errorf("add accept rule %s -> %s: %w", in, out, err)
		}
		err = ledger.Record(fmt.Sprintf("accept rule %s -> %s", in, out),
			func(ctx context.Context) error {
				return sys.RemoveAcceptRule(ctx, in, out)
			})
		if err != nil {
			return err
		}
	}

	// Host route to the translator itself.
	hostRoute := Route{Dest: netip.PrefixFrom(cfg.CLATv4Addr, 32), Iface: cfg.CLATIface}
	if err := sys.AddRoute(ctx, hostRoute); err != nil {
		return fmt.Errorf("add host route to translator: %w", err)
	}
	err = ledger.Record(fmt.Sprintf("host route %s via %s", hostRoute.Dest, hostRoute.Iface),
		func(ctx context.Context) error {
			return sys.RemoveRoute(ctx, hostRoute)
		})
	if err != nil {
		return err
	}

	if !cfg.InstallDefaultRoute {
		return nil
	}
	previous, err := sys.DefaultIPv4Route(ctx)
	if err != nil {
		return fmt.Errorf("read current default route: %w", err)
	}
	defRoute := Route{
		Iface:   cfg.CLATIface,
		Gateway: cfg.CLATv4Addr,
		Metric:  cfg.RouteMetric,
		MTU:     cfg.RouteMTU,
		AdvMSS:  cfg.RouteAdvMSS,
	}
	if err := sys.ReplaceDefaultIPv4Route(ctx, defRoute); err != nil {
		return fmt.Errorf("replace default route: %w", err)
	}
	return ledger.Record("ipv4 default route via "+cfg.CLATIface,
		func(ctx context.Context) error {
			if previous != nil {
				return sys.ReplaceDefaultIPv4Route(ctx, *previous)
			}
			return sys.RemoveRoute(ctx, defRoute)
		})
}

// setSysctl applies a sysctl only when it does not already hold the
// desired value, recording the restoration of the previous value. A
// sysctl that already holds the value records nothing, so that rollback
// never clobbers state that predates this run.
func setSysctl(ctx context.Context, sys System, ledger *Ledger, name, value string) error {
	current, err := sys.Sysctl(ctx, name)
	if err != nil {
		return err
	}
	if current == value {
		return nil
	}
	if err := sys.SetSysctl(ctx, name, value); err != nil {
		return err
	}
	return recordSysctl(sys, ledger, name, current)
}

func recordSysctl(sys System, ledger *Ledger, name, previous string) error {
	return ledger.Record(fmt.Sprintf("sysctl %s (restore %q)", name, previous),
		func(ctx context.Context) error {
			return sys.SetSysctl(ctx, name, previous)
		})
}
