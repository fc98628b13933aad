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
	"net/netip"

	"github.com/webmeshproj/clatd/pkg/context"
)

// Route describes a routed destination. An invalid Dest means the
// default route.
type Route struct {
	// Dest is the destination prefix.
	Dest netip.Prefix
	// Iface is the output interface.
	Iface string
	// Gateway is the next hop, if any.
	Gateway netip.Addr
	// Metric is the route priority, zero for the kernel default.
	Metric int
	// MTU is the path MTU to install on the route, zero for none.
	MTU int
	// AdvMSS is the advertised TCP MSS to install on the route, zero for none.
	AdvMSS int
}

// IsDefault reports whether the route is a default route.
func (r Route) IsDefault() bool {
	return !r.Dest.IsValid()
}

// System performs the host mutations recorded in the ledger. All
// operations must be reversible by the corresponding inverse operation.
type System interface {
	// Sysctl reads the current value of a kernel setting.
	Sysctl(ctx context.Context, name string) (string, error)
	// SetSysctl writes a kernel setting.
	SetSysctl(ctx context.Context, name, value string) error
	// Interfaces lists the names of all network interfaces.
	Interfaces(ctx context.Context) ([]string, error)
	// CreateTun creates the translation tun device.
	CreateTun(ctx context.Context, name string) error
	// RemoveTun destroys the translation tun device.
	RemoveTun(ctx context.Context, name string) error
	// ActivateInterface brings the named interface up.
	ActivateInterface(ctx context.Context, name string) error
	// AddProxyNeighbor starts proxying neighbor discovery for addr on iface.
	AddProxyNeighbor(ctx context.Context, addr netip.Addr, iface string) error
	// RemoveProxyNeighbor stops proxying neighbor discovery for addr on iface.
	RemoveProxyNeighbor(ctx context.Context, addr netip.Addr, iface string) error
	// AddAcceptRule allows forwarded traffic from inIface to outIface.
	AddAcceptRule(ctx context.Context, inIface, outIface string) error
	// RemoveAcceptRule removes a rule added by AddAcceptRule.
	RemoveAcceptRule(ctx context.Context, inIface, outIface string) error
	// AddRoute installs a route.
	AddRoute(ctx context.Context, route Route) error
	// RemoveRoute removes a route.
	RemoveRoute(ctx context.Context, route Route) error
	// DefaultIPv4Route returns the current IPv4 default route, or nil
	// when there is none.
	DefaultIPv4Route(ctx context.Context) (*Route, error)
	// ReplaceDefaultIPv4Route installs route as the IPv4 default route,
	// replacing any existing one.
	ReplaceDefaultIPv4Route(ctx context.Context, route Route) error
}
