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

package link

import (
	"fmt"
	"net"
	"net/netip"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"github.com/webmeshproj/clatd/pkg/context"
)

// AddProxyNeighbor starts answering neighbor solicitations for addr on
// the given interface.
func AddProxyNeighbor(ctx context.Context, addr netip.Addr, iface string) error {
	neigh, err := proxyNeighbor(addr, iface)
	if err != nil {
		return err
	}
	context.LoggerFrom(ctx).Debug("add proxy neighbor",
		"address", addr.String(), "interface", iface)
	if err := netlink.NeighAdd(neigh); err != nil {
		return fmt.Errorf("add proxy neighbor: %w", err)
	}
	return nil
}

// RemoveProxyNeighbor stops answering neighbor solicitations for addr on
// the given interface.
func RemoveProxyNeighbor(ctx context.Context, addr netip.Addr, iface string) error {
	neigh, err := proxyNeighbor(addr, iface)
	if err != nil {
		return err
	}
	context.LoggerFrom(ctx).Debug("remove proxy neighbor",
		"address", addr.String(), "interface", iface)
	if err := netlink.NeighDel(neigh); err != nil {
		return fmt.Errorf("remove proxy neighbor: %w", err)
	}
	return nil
}

func proxyNeighbor(addr netip.Addr, iface string) (*netlink.Neigh, error) {
	link, err := netlink.LinkByName(iface)
	if err != nil {
		return nil, fmt.Errorf("get link %s: %w", iface, err)
	}
	return &netlink.Neigh{
		LinkIndex: link.Attrs().Index,
		Family:    unix.AF_INET6,
		Flags:     netlink.NTF_PROXY,
		IP:        net.IP(addr.AsSlice()),
	}, nil
}
