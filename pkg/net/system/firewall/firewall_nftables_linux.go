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
	"strings"

	"github.com/google/nftables"
	"github.com/google/nftables/expr"
	"github.com/sbezverk/nftableslib"

	"github.com/webmeshproj/clatd/pkg/context"
)

const (
	inetFilterTable  = "clatfilter"
	inetForwardChain = "forward"
)

// firewall is a firewall manager that uses nftables.
type firewall struct {
	conn    *nftables.Conn
	ti      nftableslib.TableFuncs
	forward nftableslib.RulesInterface

	// Rule handles keyed by interface pair, for removal.
	handles map[string]uint64
}

// newFirewall returns a new nftables firewall manager, falling back to
// iptables when the kernel does not support nftables.
func newFirewall(ctx context.Context) (Firewall, error) {
	// Initialize a long lasting connection to the nftables library
	conn := nftableslib.InitConn()
	fw := &firewall{
		conn:    conn,
		handles: make(map[string]uint64),
	}
	err := fw.initialize()
	if err != nil {
		if strings.Contains(err.Error(), "not supported") || strings.Contains(err.Error(), "no such file") {
			return newIPTablesFirewall(ctx)
		}
		return nil, err
	}
	return fw, nil
}

func (fw *firewall) initialize() error {
	fw.ti = nftableslib.InitNFTables(fw.conn).Tables()
	if _, err := fw.ti.Table(inetFilterTable, nftables.TableFamilyINet); err == nil {
		// Table exists, flush it
		if err := fw.ti.DeleteImm(inetFilterTable, nftables.TableFamilyINet); err != nil {
			return fmt.Errorf("failed to flush table: %w", err)
		}
	}
	if err := fw.ti.CreateImm(inetFilterTable, nftables.TableFamilyINet); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}
	table, err := fw.ti.Table(inetFilterTable, nftables.TableFamilyINet)
	if err != nil {
		return fmt.Errorf("failed to load filter table: %w", err)
	}
	policy := nftableslib.ChainPolicyAccept
	err = table.Chains().CreateImm(inetForwardChain, &nftableslib.ChainAttributes{
		Type:     nftables.ChainTypeFilter,
		Hook:     nftables.ChainHookForward,
		Priority: nftables.ChainPriorityFilter,
		Policy:   &policy,
	})
	if err != nil {
		return fmt.Errorf("failed to create forward chain: %w", err)
	}
	fw.forward, err = table.Chains().Chain(inetForwardChain)
	if err != nil {
		return fmt.Errorf("failed to load forward chain: %w", err)
	}
	return fw.conn.Flush()
}

// AddForwardAccept accepts forwarded traffic between the two interfaces.
func (fw *firewall) AddForwardAccept(ctx context.Context, inIface, outIface string) error {
	accept, err := nftableslib.SetVerdict(nftableslib.NFT_ACCEPT)
	if err != nil {
		return fmt.Errorf("failed to create accept verdict: %w", err)
	}
	handle, err := fw.forward.Rules().CreateImm(&nftableslib.Rule{
		Meta: &nftableslib.Meta{
			Expr: []nftableslib.MetaExpr{
				{
					Key:   uint32(expr.MetaKeyIIFNAME),
					Value: []byte(inIface),
				},
				{
					Key:   uint32(expr.MetaKeyOIFNAME),
					Value: []byte(outIface),
				},
			},
		},
		Action:   accept,
		UserData: nftableslib.MakeRuleComment("Allow forwarding between the translator and the uplink"),
	})
	if err != nil {
		return fmt.Errorf("failed to create accept rule: %w", err)
	}
	fw.handles[inIface+":"+outIface] = handle
	return fw.conn.Flush()
}

// RemoveForwardAccept removes the accept rule between the two interfaces.
func (fw *firewall) RemoveForwardAccept(ctx context.Context, inIface, outIface string) error {
	key := inIface + ":" + outIface
	handle, ok := fw.handles[key]
	if !ok {
		return fmt.Errorf("no accept rule for %s -> %s", inIface, outIface)
	}
	if err := fw.forward.Rules().DeleteImm(handle); err != nil {
		return fmt.Errorf("failed to delete accept rule: %w", err)
	}
	delete(fw.handles, key)
	return fw.conn.Flush()
}

// Close removes the filter table and closes the nftables connection.
func (fw *firewall) Close(ctx context.Context) error {
	if err := fw.ti.DeleteImm(inetFilterTable, nftables.TableFamilyINet); err != nil {
		return fmt.Errorf("failed to delete inet %s table: %w", inetFilterTable, err)
	}
	if err := fw.conn.Flush(); err != nil {
		return err
	}
	return fw.conn.CloseLasting()
}
