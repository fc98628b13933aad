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

package firewall

import (
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/webmeshproj/clatd/pkg/context"
)

// iptablesFirewall is the fallback manager for kernels without nftables.
// Forwarded CLAT traffic is IPv6 on the uplink side and IPv4 on the
// translation device side, so rules go to both iptables and ip6tables.
type iptablesFirewall struct {
	log *slog.Logger
}

func newIPTablesFirewall(ctx context.Context) (Firewall, error) {
	fw := &iptablesFirewall{
		log: context.LoggerFrom(ctx).With(slog.String("component", "iptables-firewall")),
	}
	return fw, nil
}

// AddForwardAccept accepts forwarded traffic between the two interfaces.
func (fw *iptablesFirewall) AddForwardAccept(ctx context.Context, inIface, outIface string) error {
	for _, bin := range []string{"iptables", "ip6tables"} {
		err := fw.exec(ctx, bin, "-A", "FORWARD", "-i", inIface, "-o", outIface, "-j", "ACCEPT")
		if err != nil {
			return err
		}
	}
	return nil
}

// RemoveForwardAccept removes the accept rule between the two interfaces.
func (fw *iptablesFirewall) RemoveForwardAccept(ctx context.Context, inIface, outIface string) error {
	for _, bin := range []string{"iptables", "ip6tables"} {
		err := fw.exec(ctx, bin, "-D", "FORWARD", "-i", inIface, "-o", outIface, "-j", "ACCEPT")
		if err != nil {
			return err
		}
	}
	return nil
}

// Close is a no-op for the iptables manager, rules are removed one by one.
func (fw *iptablesFirewall) Close(ctx context.Context) error {
	return nil
}

func (fw *iptablesFirewall) exec(ctx context.Context, bin string, args ...string) error {
	cmd := exec.CommandContext(ctx, bin, args...)
	fw.log.Debug(bin, slog.String("args", strings.Join(args, " ")))
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s %v: %v: %s", bin, args, err, out)
	}
	return nil
}
