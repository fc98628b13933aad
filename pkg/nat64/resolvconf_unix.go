//go:build !windows

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

package nat64

import (
	"bufio"
	"errors"
	"net/netip"
	"os"
	"strings"
)

const resolvConfPath = "/etc/resolv.conf"

// systemResolver returns the first nameserver configured in
// /etc/resolv.conf. It plays the role of the single implicit resolver
// used when no servers are configured explicitly.
func systemResolver() (netip.AddrPort, error) {
	f, err := os.Open(resolvConfPath)
	if err != nil {
		return netip.AddrPort{}, err
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if len(line) > 0 && (line[0] == ';' || line[0] == '#') {
			// comment.
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 || fields[0] != "nameserver" {
			continue
		}
		if addr, err := netip.ParseAddr(fields[1]); err == nil {
			return netip.AddrPortFrom(addr, 53), nil
		}
		// Could be specified with a port already.
		if addrport, err := netip.ParseAddrPort(fields[1]); err == nil {
			return addrport, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return netip.AddrPort{}, err
	}
	return netip.AddrPort{}, errors.New("no nameservers in " + resolvConfPath)
}
