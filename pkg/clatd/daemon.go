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

// Package clatd drives a CLAT: it discovers the NAT64 translation
// prefix, derives the translator's IPv6 address, provisions the host,
// and supervises the packet translation process until it exits, at
// which point everything provisioned is rolled back.
package clatd

import (
	"errors"
	"fmt"
	"net/netip"

	"github.com/webmeshproj/clatd/pkg/config"
	"github.com/webmeshproj/clatd/pkg/context"
	"github.com/webmeshproj/clatd/pkg/nat64"
	"github.com/webmeshproj/clatd/pkg/provision"
	"github.com/webmeshproj/clatd/pkg/util"
)

// Daemon wires the collaborators for a single run. Every field must be
// set.
type Daemon struct {
	// Config are the validated options.
	Config *config.Config
	// System performs the host mutations.
	System provision.System
	// Addrs enumerates local addresses for synthesis.
	Addrs nat64.AddrLister
	// Discoverer probes for the translation prefix.
	Discoverer *nat64.Discoverer
	// Translator supervises the translation process.
	Translator Translator
}

// Run executes one full provisioning cycle and blocks until the
// translator exits. A network without NAT64 is not an error: Run logs
// and returns nil. Once any host state has been touched it is rolled
// back before Run returns, on every path.
func (d *Daemon) Run(ctx context.Context) error {
	log := context.LoggerFrom(ctx)

	plat, err := d.discoverPrefix(ctx)
	if err != nil {
		if errors.Is(err, nat64.ErrNoPrefixDiscovered) {
			log.Info("No NAT64 prefix on this network, nothing to do")
			return nil
		}
		return err
	}

	clat6, uplink, err := d.resolveAddress(ctx, plat)
	if err != nil {
		return err
	}
	clat4, err := d.Config.CLATv4()
	if err != nil {
		return err
	}
	log.Info("Starting CLAT",
		"prefix", plat.String(),
		"clat-ipv6", clat6.String(),
		"clat-ipv4", clat4.String(),
		"uplink", uplink)

	err = d.Translator.WriteConfig(ctx, TranslatorConfig{
		TunDevice:  d.Config.CLAT.Device,
		PLATPrefix: plat,
		// The translation process needs its own address distinct from
		// the one mapped to the host.
		TranslatorIPv4: clat4.Next(),
		MapIPv4:        clat4,
		MapIPv6:        clat6,
	})
	if err != nil {
		return fmt.Errorf("write translator configuration: %w", err)
	}
	defer func() {
		if err := d.Translator.RemoveConfig(); err != nil {
			log.Warn("Could not remove translator configuration", "error", err.Error())
		}
	}()

	if script := d.Config.Scripts.Up; script != "" {
		if err := util.Exec(ctx, script); err != nil {
			return fmt.Errorf("up script: %w", err)
		}
	}

	ledger := provision.NewLedger()
	defer func() {
		// Unwinding gets a fresh context so that whatever canceled the
		// run cannot abort the rollback.
		unwindCtx := context.WithLogger(context.Background(), log)
		if failed := ledger.Unwind(unwindCtx); failed > 0 {
			log.Error("Rollback left residual state", "failed-actions", failed)
		}
	}()

	err = provision.Apply(ctx, d.System, ledger, provision.Config{
		CLATIface:           d.Config.CLAT.Device,
		PLATIface:           uplink,
		CLATAddr:            clat6,
		CLATv4Addr:          clat4,
		InstallDefaultRoute: d.Config.Route.InstallDefault,
		RouteMetric:         d.Config.Route.Metric,
		RouteMTU:            d.Config.Route.MTU,
		RouteAdvMSS:         d.Config.AdvMSS(),
	})
	if err != nil {
		return fmt.Errorf("provision host: %w", err)
	}

	if err := d.Translator.Start(ctx); err != nil {
		return err
	}
	scope := deferSignals(ctx, d.Translator)
	runErr := d.Translator.Wait()
	scope.Release()
	if runErr != nil {
		log.Error("Translator exited with error", "error", runErr.Error())
	} else {
		log.Info("Translator exited")
	}

	if script := d.Config.Scripts.Down; script != "" {
		if err := util.Exec(ctx, script); err != nil {
			log.Warn("Down script failed", "error", err.Error())
		}
	}
	if runErr != nil {
		return fmt.Errorf("translator: %w", runErr)
	}
	return nil
}

// discoverPrefix returns the configured translation prefix override or
// probes for one.
func (d *Daemon) discoverPrefix(ctx context.Context) (netip.Prefix, error) {
	if plat, ok := d.Config.PLATPrefix(); ok {
		context.LoggerFrom(ctx).Info("Using configured NAT64 prefix", "prefix", plat.String())
		return plat, nil
	}
	return d.Discoverer.Discover(ctx)
}

// resolveAddress determines the translator's IPv6 address and the uplink
// interface. A configured address override still needs the candidate
// scan when no uplink was named.
func (d *Daemon) resolveAddress(ctx context.Context, plat netip.Prefix) (netip.Addr, string, error) {
	clat6, haveAddr := d.Config.CLATv6()
	uplink := d.Config.CLAT.UplinkInterface
	if haveAddr && uplink != "" {
		return clat6, uplink, nil
	}
	candidates, err := d.Addrs.ListGlobalUnicast(ctx, uplink)
	if err != nil {
		return netip.Addr{}, "", fmt.Errorf("list addresses: %w", err)
	}
	winner, err := nat64.Select(ctx, candidates, plat)
	if err != nil {
		return netip.Addr{}, "", err
	}
	if uplink == "" {
		uplink = winner.Iface
	}
	if !haveAddr {
		clat6, err = nat64.Synthesize(ctx, []nat64.Candidate{winner}, plat)
		if err != nil {
			return netip.Addr{}, "", err
		}
	}
	return clat6, uplink, nil
}
