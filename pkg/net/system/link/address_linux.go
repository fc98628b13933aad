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
	"net/netip"

	"github.com/vishvananda/netlink"

	"github.com/webmeshproj/clatd/pkg/context"
	"github.com/webmeshproj/clatd/pkg/nat64"
	"github.com/webmeshproj/clatd/pkg/util/netutil"
)

// ListGlobalUnicast lists the globally scoped IPv6 addresses configured
// on the system, in interface order. When iface is non-empty only that
// interface is scanned.
func ListGlobalUnicast(ctx context.Context, iface string) ([]nat64.Candidate, error) {
	var links []netlink.Link
	if iface != "" {
		link, err := netlink.LinkByName(iface)
		if err != nil {
			return nil, fmt.Errorf("get link %s: %w", iface, err)
		}
		links = append(links, link)
	} else {
		var err error
		links, err = netlink.LinkList()
		if err != nil {
			return nil, fmt.Errorf("list links: %w", err)
		}
	}
	var out []nat64.Candidate
	for _, link := range links {
		addrs, err := netlink.AddrList(link, netlink.FAMILY_V6)
		if err != nil {
			return nil, fmt.Errorf("list addresses on %s: %w", link.Attrs().Name, err)
		}
		for _, addr := range addrs {
			ip, ok := netip.AddrFromSlice(addr.IPNet.IP)
			if !ok {
				continue
			}
			ip = ip.Unmap()
			if !ip.Is6() || ip.Is4In6() || !ip.IsGlobalUnicast() {
				continue
			}
			ones, _ := addr.IPNet.Mask.Size()
			out = append(out, nat64.Candidate{
				Addr:      ip,
				PrefixLen: ones,
				Iface:     link.Attrs().Name,
				EUI64:     netutil.IsEUI64(ip),
			})
		}
	}
	return out, nil
}
