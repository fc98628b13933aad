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

// Package link manages network interfaces and their neighbor tables.
package link

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/jsimonetti/rtnetlink"
	"golang.org/x/sys/unix"

	"github.com/webmeshproj/clatd/pkg/context"
)

// ErrLinkNotExists is returned when the requested interface does not exist.
var ErrLinkNotExists = errors.New("link does not exist")

// ActivateInterface activates the interface with the given name.
func ActivateInterface(ctx context.Context, name string) error {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		if isNoSuchInterfaceErr(err) {
			return ErrLinkNotExists
		}
		return fmt.Errorf("get interface: %w", err)
	}
	conn, err := rtnetlink.Dial(nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	// Request the details of the interface
	msg, err := conn.Link.Get(uint32(iface.Index))
	if err != nil {
		return fmt.Errorf("get interface details: %w", err)
	}
	// Check if the interface is already up
	state := msg.Attributes.OperationalState
	if state == rtnetlink.OperStateUp || state == rtnetlink.OperStateUnknown {
		return nil
	}
	req := &rtnetlink.LinkMessage{
		Family: unix.AF_UNSPEC,
		Type:   msg.Type,
		Index:  uint32(iface.Index),
		Flags:  unix.IFF_UP,
		Change: unix.IFF_UP,
	}
	context.LoggerFrom(ctx).Debug("set interface up", "interface", iface.Name)
	err = conn.Link.Set(req)
	if err != nil {
		return fmt.Errorf("set interface up: %w", err)
	}
	return nil
}

// RemoveInterface removes the given interface.
func RemoveInterface(ctx context.Context, ifaceName string) error {
	conn, err := rtnetlink.Dial(nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	iface, err := net.InterfaceByName(ifaceName)
	if err != nil {
		if isNoSuchInterfaceErr(err) {
			return ErrLinkNotExists
		}
		return fmt.Errorf("failed to get interface: %w", err)
	}
	context.LoggerFrom(ctx).Debug("remove interface", "interface", iface.Name)
	return conn.Link.Delete(uint32(iface.Index))
}

// ListInterfaces returns the names of all network interfaces on the system.
func ListInterfaces(ctx context.Context) ([]string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("list interfaces: %w", err)
	}
	names := make([]string, 0, len(ifaces))
	for _, iface := range ifaces {
		names = append(names, iface.Name)
	}
	return names, nil
}

func isNoSuchInterfaceErr(err error) bool {
	return strings.Contains(err.Error(), "no such network interface")
}
