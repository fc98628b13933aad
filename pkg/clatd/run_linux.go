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
	"os"
	"path/filepath"

	"github.com/webmeshproj/clatd/pkg/config"
	"github.com/webmeshproj/clatd/pkg/context"
	"github.com/webmeshproj/clatd/pkg/nat64"
	"github.com/webmeshproj/clatd/pkg/net/system"
)

// Run builds the real collaborators from the given config and executes
// one provisioning cycle.
func Run(ctx context.Context, cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.Translator.StateDir, 0755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	confPath := filepath.Join(cfg.Translator.StateDir, "tayga.conf")
	sys, err := system.New(ctx, system.Options{
		TranslatorPath:   cfg.Translator.Path,
		TranslatorConfig: confPath,
	})
	if err != nil {
		return fmt.Errorf("initialize system: %w", err)
	}
	defer func() {
		if err := sys.Close(ctx); err != nil {
			context.LoggerFrom(ctx).Warn("Error closing system handles", "error", err.Error())
		}
	}()
	servers, err := cfg.DNS64Servers()
	if err != nil {
		return err
	}
	d := &Daemon{
		Config:     cfg,
		System:     sys,
		Addrs:      sys,
		Discoverer: nat64.NewDiscoverer(servers),
		Translator: NewTayga(cfg.Translator.Path, confPath),
	}
	return d.Run(ctx)
}
