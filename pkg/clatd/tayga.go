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

package clatd

import (
	"fmt"
	"net/netip"
	"os"
	"os/exec"
	"strings"

	"github.com/webmeshproj/clatd/pkg/context"
)

// Translator supervises the external packet translation process for the
// lifetime of the provisioned state.
type Translator interface {
	// WriteConfig writes the configuration artifact consumed by the
	// translation process.
	WriteConfig(ctx context.Context, conf TranslatorConfig) error
	// RemoveConfig deletes the configuration artifact.
	RemoveConfig() error
	// Start launches the process in the foreground.
	Start(ctx context.Context) error
	// Wait blocks until the process exits.
	Wait() error
	// Signal delivers a signal to the running process.
	Signal(sig os.Signal) error
}

// TranslatorConfig holds the values rendered into the configuration
// artifact.
type TranslatorConfig struct {
	// TunDevice is the name of the translation tun device.
	TunDevice string
	// PLATPrefix is the discovered translation prefix.
	PLATPrefix netip.Prefix
	// TranslatorIPv4 is the address the translation process answers from.
	TranslatorIPv4 netip.Addr
	// MapIPv4 is the host side IPv4 address of the translation.
	MapIPv4 netip.Addr
	// MapIPv6 is the derived IPv6 address the translation maps to.
	MapIPv6 netip.Addr
}

// Render renders the artifact in tayga's configuration format.
func (c TranslatorConfig) Render() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "tun-device %s\n", c.TunDevice)
	fmt.Fprintf(&sb, "prefix %s\n", c.PLATPrefix)
	fmt.Fprintf(&sb, "ipv4-addr %s\n", c.TranslatorIPv4)
	fmt.Fprintf(&sb, "map %s %s\n", c.MapIPv4, c.MapIPv6)
	return sb.String()
}

// Tayga runs the tayga translator. It implements Translator.
type Tayga struct {
	path       string
	configPath string
	cmd        *exec.Cmd
}

// NewTayga returns a Translator supervising the tayga binary at path
// with its configuration at configPath.
func NewTayga(path, configPath string) *Tayga {
	return &Tayga{path: path, configPath: configPath}
}

// WriteConfig writes the configuration artifact.
func (t *Tayga) WriteConfig(ctx context.Context, conf TranslatorConfig) error {
	context.LoggerFrom(ctx).Debug("Writing translator configuration", "path", t.configPath)
	return os.WriteFile(t.configPath, []byte(conf.Render()), 0644)
}

// RemoveConfig deletes the configuration artifact.
func (t *Tayga) RemoveConfig() error {
	err := os.Remove(t.configPath)
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

// Start launches tayga in the foreground with its output attached to
// ours.
func (t *Tayga) Start(ctx context.Context) error {
	cmd := exec.Command(t.path, "--nodetach", "--config", t.configPath)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	context.LoggerFrom(ctx).Info("Starting translator", "command", cmd.String())
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start translator: %w", err)
	}
	t.cmd = cmd
	return nil
}

// Wait blocks until the process exits.
func (t *Tayga) Wait() error {
	if t.cmd == nil {
		return fmt.Errorf("translator not started")
	}
	return t.cmd.Wait()
}

// Signal delivers a signal to the running process.
func (t *Tayga) Signal(sig os.Signal) error {
	if t.cmd == nil || t.cmd.Process == nil {
		return nil
	}
	return t.cmd.Process.Signal(sig)
}
