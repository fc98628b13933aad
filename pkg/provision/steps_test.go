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
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/webmeshproj/clatd/pkg/context"
)

// fakeSystem tracks host state in maps so that tests can assert both
// the provisioned state and that an unwind restores the originals.
type fakeSystem struct {
	sysctls   map[string]string
	ifaces    []string
	tuns      map[string]bool
	neighbors map[string]bool
	rules     map[string]bool
	routes    map[string]bool
	defRoute  *Route
	failOn    string
}

func newFakeSystem() *fakeSystem {
	return &fakeSystem{
		sysctls: map[string]string{
			"net/ipv6/conf/all/forwarding": "0",
			"net/ipv6/conf/eth0/accept_ra": "1",
			"net/ipv6/conf/lo/accept_ra":   "1",
			"net/ipv6/conf/eth0/proxy_ndp": "0",
		},
		ifaces:    []string{"lo", "eth0"},
		tuns:      map[string]bool{},
		neighbors: map[string]bool{},
		rules:     map[string]bool{},
		routes:    map[string]bool{},
	}
}

func (s *fakeSystem) fail(op string) error {
	if s.failOn == op {
		return fmt.Errorf("%s: injected failure", op)
	}
	return nil
}

func (s *fakeSystem) Sysctl(ctx context.Context, name string) (string, error) {
	val, ok := s.sysctls[name]
	if !ok {
		return "", fmt.Errorf("no such sysctl %s", name)
	}
	return val, nil
}

func (s *fakeSystem) SetSysctl(ctx context.Context, name, value string) error {
	if err := s.fail("SetSysctl"); err != nil {
		return err
	}
	s.sysctls[name] = value
	return nil
}

func (s *fakeSystem) Interfaces(ctx context.Context) ([]string, error) {
	return s.ifaces, nil
}

func (s *fakeSystem) CreateTun(ctx context.Context, name string) error {
	if err := s.fail("CreateTun"); err != nil {
		return err
	}
	s.tuns[name] = true
	return nil
}

func (s *fakeSystem) RemoveTun(ctx context.Context, name string) error {
	delete(s.tuns, name)
	return nil
}

func (s *fakeSystem) ActivateInterface(ctx context.Context, name string) error {
	return s.fail("ActivateInterface")
}

func (s *fakeSystem) AddProxyNeighbor(ctx context.Context, addr netip.Addr, iface string) error {
	if err := s.fail("AddProxyNeighbor"); err != nil {
		return err
	}
	s.neighbors[addr.String()+"@"+iface] = true
	return nil
}

func (s *fakeSystem) RemoveProxyNeighbor(ctx context.Context, addr netip.Addr, iface string) error {
	delete(s.neighbors, addr.String()+"@"+iface)
	return nil
}

func (s *fakeSystem) AddAcceptRule(ctx context.Context, inIface, outIface string) error {
	if err := s.fail("AddAcceptRule"); err != nil {
		return err
	}
	s.rules[inIface+":"+outIface] = true
	return nil
}

func (s *fakeSystem) RemoveAcceptRule(ctx context.Context, inIface, outIface string) error {
	delete(s.rules, inIface+":"+outIface)
	return nil
}

func (s *fakeSystem) AddRoute(ctx context.Context, route Route) error {
	if err := s.fail("AddRoute"); err != nil {
		return err
	}
	s.routes[route.Dest.String()] = true
	return nil
}

func (s *fakeSystem) RemoveRoute(ctx context.Context, route Route) error {
	if route.IsDefault() {
		s.defRoute = nil
		return nil
	}
	delete(s.routes, route.Dest.String())
	return nil
}

func (s *fakeSystem) DefaultIPv4Route(ctx context.Context) (*Route, error) {
	if s.defRoute == nil {
		return nil, nil
	}
	route := *s.defRoute
	return &route, nil
}

func (s *fakeSystem) ReplaceDefaultIPv4Route(ctx context.Context, route Route) error {
	if err := s.fail("ReplaceDefaultIPv4Route"); err != nil {
		return err
	}
	s.defRoute = &route
	return nil
}

func testConfig() Config {
	return Config{
		CLATIface:           "clat",
		PLATIface:           "eth0",
		CLATAddr:            netip.MustParseAddr("2001:db8::c1a7:1"),
		CLATv4Addr:          netip.MustParseAddr("192.0.0.1"),
		InstallDefaultRoute: true,
		RouteMetric:         2048,
		RouteMTU:            1260,
		RouteAdvMSS:         1220,
	}
}

func TestApplyAndUnwind(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	sys := newFakeSystem()
	previous := Route{Iface: "eth0", Gateway: netip.MustParseAddr("192.0.2.1")}
	sys.defRoute = &previous
	ledger := NewLedger()

	if err := Apply(ctx, sys, ledger, testConfig()); err != nil {
		t.Fatalf("apply: %s", err)
	}
	if sys.sysctls["net/ipv6/conf/all/forwarding"] != "1" {
		t.Error("forwarding not enabled")
	}
	if sys.sysctls["net/ipv6/conf/eth0/accept_ra"] != "2" {
		t.Error("accept_ra not relaxed on eth0")
	}
	if sys.sysctls["net/ipv6/conf/lo/accept_ra"] != "1" {
		t.Error("accept_ra touched on lo")
	}
	if sys.sysctls["net/ipv6/conf/eth0/proxy_ndp"] != "1" {
		t.Error("proxy_ndp not enabled")
	}
	if !sys.tuns["clat"] {
		t.Error("tun device not created")
	}
	if !sys.neighbors["2001:db8::c1a7:1@eth0"] {
		t.Error("proxy neighbor not added")
	}
	if !sys.rules["clat:eth0"] || !sys.rules["eth0:clat"] {
		t.Error("accept rules not added")
	}
	if !sys.routes["192.0.0.1/32"] {
		t.Error("host route not added")
	}
	if sys.defRoute == nil || sys.defRoute.Iface != "clat" {
		t.Errorf("default route not replaced: %+v", sys.defRoute)
	}
	if sys.defRoute.Metric != 2048 || sys.defRoute.MTU != 1260 || sys.defRoute.AdvMSS != 1220 {
		t.Errorf("default route attributes wrong: %+v", sys.defRoute)
	}

	if failed := ledger.Unwind(ctx); failed != 0 {
		t.Fatalf("unwind reported %d failures", failed)
	}
	want := newFakeSystem()
	want.defRoute = &previous
	if diff := cmp.Diff(want.sysctls, sys.sysctls); diff != "" {
		t.Errorf("sysctls not restored (-want +got):\n%s", diff)
	}
	if len(sys.tuns) != 0 || len(sys.neighbors) != 0 || len(sys.rules) != 0 || len(sys.routes) != 0 {
		t.Errorf("residual state after unwind: %+v", sys)
	}
	if sys.defRoute == nil || *sys.defRoute != previous {
		t.Errorf("default route not restored: %+v", sys.defRoute)
	}
}

func TestApplySysctlsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	sys := newFakeSystem()
	sys.sysctls["net/ipv6/conf/all/forwarding"] = "1"
	sys.sysctls["net/ipv6/conf/eth0/accept_ra"] = "2"
	sys.sysctls["net/ipv6/conf/eth0/proxy_ndp"] = "1"
	ledger := NewLedger()

	if err := Apply(ctx, sys, ledger, testConfig()); err != nil {
		t.Fatalf("apply: %s", err)
	}
	// Neighbor, tun, two rules, host route, default route. No sysctl
	// restores, they already held the desired values.
	if ledger.Len() != 6 {
		t.Fatalf("ledger holds %d actions, want 6", ledger.Len())
	}
	ledger.Unwind(ctx)
	if sys.sysctls["net/ipv6/conf/all/forwarding"] != "1" {
		t.Error("pre-existing forwarding value clobbered by unwind")
	}
	if sys.sysctls["net/ipv6/conf/eth0/accept_ra"] != "2" {
		t.Error("pre-existing accept_ra value clobbered by unwind")
	}
}

func TestApplyFailureLeavesUnwindableLedger(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	sys := newFakeSystem()
	sys.failOn = "AddAcceptRule"
	ledger := NewLedger()

	err := Apply(ctx, sys, ledger, testConfig())
	if err == nil {
		t.Fatal("expected apply to fail")
	}
	if ledger.State() != StateRecording {
		t.Fatalf("ledger in state %s after failed apply", ledger.State())
	}
	if failed := ledger.Unwind(ctx); failed != 0 {
		t.Fatalf("unwind reported %d failures", failed)
	}
	want := newFakeSystem()
	if diff := cmp.Diff(want.sysctls, sys.sysctls); diff != "" {
		t.Errorf("sysctls not restored (-want +got):\n%s", diff)
	}
	if len(sys.tuns) != 0 || len(sys.neighbors) != 0 || len(sys.rules) != 0 {
		t.Errorf("residual state after unwind: %+v", sys)
	}
}

func TestApplyNoPreviousDefaultRoute(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	sys := newFakeSystem()
	ledger := NewLedger()

	if err := Apply(ctx, sys, ledger, testConfig()); err != nil {
		t.Fatalf("apply: %s", err)
	}
	if sys.defRoute == nil || sys.defRoute.Iface != "clat" {
		t.Fatalf("default route not installed: %+v", sys.defRoute)
	}
	ledger.Unwind(ctx)
	if sys.defRoute != nil {
		t.Fatalf("default route not removed: %+v", sys.defRoute)
	}
}

func TestApplyWithoutDefaultRoute(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	sys := newFakeSystem()
	ledger := NewLedger()
	cfg := testConfig()
	cfg.InstallDefaultRoute = false

	if err := Apply(ctx, sys, ledger, cfg); err != nil {
		t.Fatalf("apply: %s", err)
	}
	if sys.defRoute != nil {
		t.Fatalf("default route installed unexpectedly: %+v", sys.defRoute)
	}
}
