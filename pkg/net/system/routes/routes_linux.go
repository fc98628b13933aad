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

// Package routes manages kernel routing table entries.
package routes

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strings"

	"github.com/jsimonetti/rtnetlink"
	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"github.com/webmeshproj/clatd/pkg/context"
	"github.com/webmeshproj/clatd/pkg/provision"
)

// ErrRouteExists is returned when a route already exists.
var ErrRouteExists = errors.New("route already exists")

// Add adds a route to the interface with the given name.
func Add(ctx context.Context, ifaceName string, addr netip.Prefix) error {
	iface, err := net.InterfaceByName(ifaceName)
	if err != nil {
		return fmt.Errorf("get interface by name: %w", err)
	}

	conn, err := rtnetlink.Dial(nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	// Detect network family
	family := unix.AF_INET6
	if addr.Addr().Is4() {
		family = unix.AF_INET
	}

	// Add the route to the interface
	req := &rtnetlink.RouteMessage{
		Family:    uint8(family),
		Table:     unix.RT_TABLE_MAIN,
		Protocol:  unix.RTPROT_BOOT,
		Scope:     unix.RT_SCOPE_LINK,
		Type:      unix.RTN_UNICAST,
		DstLength: uint8(addr.Bits()),
		Attributes: rtnetlink.RouteAttributes{
			Dst:      addr.Masked().Addr().AsSlice(),
			OutIface: uint32(iface.Index),
		},
	}
	context.LoggerFrom(ctx).Debug("adding route", "destination", addr.String(), "interface", ifaceName)
	err = conn.Route.Add(req)
	if err != nil {
		if strings.Contains(err.Error(), "file exists") {
			return ErrRouteExists
		}
		return fmt.Errorf("add route to interface: %w", err)
	}
	return nil
}

// Remove removes a route from the interface with the given name.
func Remove(ctx context.Context, ifaceName string, addr netip.Prefix) error {
	iface, err := net.InterfaceByName(ifaceName)
	if err != nil {
		return fmt.Errorf("get interface by name: %w", err)
	}

	conn, err := rtnetlink.Dial(nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	// Detect network family
	family := unix.AF_INET6
	if addr.Addr().Is4() {
		family = unix.AF_INET
	}

	// Delete the route from the interface
	req := &rtnetlink.RouteMessage{
		Family:    uint8(family),
		Table:     unix.RT_TABLE_MAIN,
		Protocol:  unix.RTPROT_BOOT,
		Scope:     unix.RT_SCOPE_LINK,
		Type:      unix.RTN_UNICAST,
		DstLength: uint8(addr.Bits()),
		Attributes: rtnetlink.RouteAttributes{
			Dst:      addr.Masked().Addr().AsSlice(),
			OutIface: uint32(iface.Index),
		},
	}
	context.LoggerFrom(ctx).Debug("removing route", "destination", addr.String(), "interface", ifaceName)
	err = conn.Route.Delete(req)
	if err != nil {
		return fmt.Errorf("delete route from interface: %w", err)
	}
	return nil
}

// DefaultIPv4 returns the current IPv4 default route, or nil when there
// is none.
func DefaultIPv4(ctx context.Context) (*provision.Route, error) {
	rl, err := netlink.RouteList(nil, netlink.FAMILY_V4)
	if err != nil {
		return nil, fmt.Errorf("list routes: %w", err)
	}
	for _, r := range rl {
		if r.Dst != nil {
			continue
		}
		route := provision.Route{
			Metric: r.Priority,
			MTU:    r.MTU,
			AdvMSS: r.AdvMSS,
		}
		if gw, ok := netip.AddrFromSlice(r.Gw); ok {
			route.Gateway = gw.Unmap()
		}
		if r.LinkIndex > 0 {
			iface, err := net.InterfaceByIndex(r.LinkIndex)
			if err == nil {
				route.Iface = iface.Name
			}
		}
		return &route, nil
	}
	return nil, nil
}

// ReplaceDefaultIPv4 installs the given route as the IPv4 default route,
// replacing any existing one.
func ReplaceDefaultIPv4(ctx context.Context, route provision.Route) error {
	nlRoute, err := toNetlinkDefault(route)
	if err != nil {
		return err
	}
	context.LoggerFrom(ctx).Debug("replacing ipv4 default route",
		"interface", route.Iface, "metric", route.Metric)
	if err := netlink.RouteReplace(nlRoute); err != nil {
		return fmt.Errorf("replace default route: %w", err)
	}
	return nil
}

// RemoveDefaultIPv4 removes the given IPv4 default route.
func RemoveDefaultIPv4(ctx context.Context, route provision.Route) error {
	nlRoute, err := toNetlinkDefault(route)
	if err != nil {
		return err
	}
	context.LoggerFrom(ctx).Debug("removing ipv4 default route", "interface", route.Iface)
	if err := netlink.RouteDel(nlRoute); err != nil {
		return fmt.Errorf("delete default route: %w", err)
	}
	return nil
}

func toNetlinkDefault(route provision.Route) (*netlink.Route, error) {
	nlRoute := &netlink.Route{
		Priority: route.Metric,
		MTU:      route.MTU,
		AdvMSS:   route.AdvMSS,
	}
	if route.Iface != "" {
		iface, err := net.InterfaceByName(route.Iface)
		if err != nil {
			return nil, fmt.Errorf("get interface by name: %w", err)
		}
		nlRoute.LinkIndex = iface.Index
	}
	if route.Gateway.IsValid() && !route.Gateway.IsUnspecified() {
		nlRoute.Gw = net.IP(route.Gateway.AsSlice())
	}
	return nlRoute, nil
}
