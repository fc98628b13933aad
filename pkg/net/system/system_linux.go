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

// Package system is the Linux implementation of the host mutation
// collaborator and the local address lister.
package system

import (
	"net/netip"

	"github.com/webmeshproj/clatd/pkg/context"
	"github.com/webmeshproj/clatd/pkg/nat64"
	"github.com/webmeshproj/clatd/pkg/net/system/firewall"
	"github.com/webmeshproj/clatd/pkg/net/system/link"
	"github.com/webmeshproj/clatd/pkg/net/system/routes"
	"github.com/webmeshproj/clatd/pkg/net/system/sysctl"
	"github.com/webmeshproj/clatd/pkg/provision"
	"github.com/webmeshproj/clatd/pkg/util"
)

// Options configure the system collaborator.
type Options struct {
	// TranslatorPath is the path to the translator binary. It owns the
	// tun device, so creation goes through it.
	TranslatorPath string
	// TranslatorConfig is the path of the generated translator
	// configuration artifact.
	TranslatorConfig string
}

// System performs host mutations on Linux. It implements
// provision.System and nat64.AddrLister.
type System struct {
	opts Options
	fw   firewall.Firewall
}

// New returns a new System.
func New(ctx context.Context, opts Options) (*System, error) {
	fw, err := firewall.New(ctx)
	if err != nil {
		return nil, err
	}
	return &System{opts: opts, fw: fw}, nil
}

// Sysctl reads the current value of a kernel setting.
func (s *System) Sysctl(ctx context.Context, name string) (string, error) {
	return sysctl.Get(name)
}

// SetSysctl writes a kernel setting.
func (s *System) SetSysctl(ctx context.Context, name, value string) error {
	return sysctl.Set(name, value)
}

// Interfaces lists the names of all network interfaces.
func (s *System) Interfaces(ctx context.Context) ([]string, error) {
	return link.ListInterfaces(ctx)
}

// CreateTun creates the translation tun device by invoking the
// translator, which keeps ownership of the device for its lifetime.
func (s *System) CreateTun(ctx context.Context, name string) error {
	return util.Exec(ctx, s.opts.TranslatorPath, "--mktun", "--config", s.opts.TranslatorConfig)
}

// RemoveTun destroys the translation tun device.
func (s *System) RemoveTun(ctx context.Context, name string) error {
	return link.RemoveInterface(ctx, name)
}

// ActivateInterface brings the named interface up.
func (s *System) ActivateInterface(ctx context.Context, name string) error {
	return link.ActivateInterface(ctx, name)
}

// AddProxyNeighbor starts proxying neighbor discovery for addr on iface.
func (s *System) AddProxyNeighbor(ctx context.Context, addr netip.Addr, iface string) error {
	return link.AddProxyNeighbor(ctx, addr, iface)
}

// RemoveProxyNeighbor stops proxying neighbor discovery for addr on iface.
func (s *System) RemoveProxyNeighbor(ctx context.Context, addr netip.Addr, iface string) error {
	return link.RemoveProxyNeighbor(ctx, addr, iface)
}

// AddAcceptRule allows forwarded traffic from inIface to outIface.
func (s *System) AddAcceptRule(ctx context.Context, inIface, outIface string) error {
	return s.fw.AddForwardAccept(ctx, inIface, outIface)
}

// RemoveAcceptRule removes a rule added by AddAcceptRule.
func (s *System) RemoveAcceptRule(ctx context.Context, inIface, outIface string) error {
	return s.fw.RemoveForwardAccept(ctx, inIface, outIface)
}

// AddRoute installs a route.
func (s *System) AddRoute(ctx context.Context, route provision.Route) error {
	return routes.Add(ctx, route.Iface, route.Dest)
}

// RemoveRoute removes a route.
func (s *System) RemoveRoute(ctx context.Context, route provision.Route) error {
	if route.IsDefault() {
		return routes.RemoveDefaultIPv4(ctx, route)
	}
	return routes.Remove(ctx, route.Iface, route.Dest)
}

// DefaultIPv4Route returns the current IPv4 default route, or nil when
// there is none.
func (s *System) DefaultIPv4Route(ctx context.Context) (*provision.Route, error) {
	return routes.DefaultIPv4(ctx)
}

// ReplaceDefaultIPv4Route installs route as the IPv4 default route.
func (s *System) ReplaceDefaultIPv4Route(ctx context.Context, route provision.Route) error {
	return routes.ReplaceDefaultIPv4(ctx, route)
}

// ListGlobalUnicast lists globally scoped IPv6 addresses as candidates
// for address synthesis.
func (s *System) ListGlobalUnicast(ctx context.Context, iface string) ([]nat64.Candidate, error) {
	return link.ListGlobalUnicast(ctx, iface)
}

// Close releases the firewall resources. It does not undo any recorded
// mutations, that is the ledger's job.
func (s *System) Close(ctx context.Context) error {
	return s.fw.Close(ctx)
}
