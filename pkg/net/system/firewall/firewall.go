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

// Package firewall manages the forwarding accept rules between the
// translation device and the uplink.
package firewall

import (
	"github.com/webmeshproj/clatd/pkg/context"
)

// Firewall manages accept rules for forwarded traffic.
type Firewall interface {
	// AddForwardAccept allows forwarded traffic entering on inIface and
	// leaving on outIface.
	AddForwardAccept(ctx context.Context, inIface, outIface string) error
	// RemoveForwardAccept removes a rule added by AddForwardAccept.
	RemoveForwardAccept(ctx context.Context, inIface, outIface string) error
	// Close removes any remaining rules and releases resources.
	Close(ctx context.Context) error
}

// New returns a firewall manager for the current system.
func New(ctx context.Context) (Firewall, error) {
	return newFirewall(ctx)
}
