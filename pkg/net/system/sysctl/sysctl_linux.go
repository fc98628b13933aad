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

// Package sysctl reads and writes kernel settings under /proc/sys.
// Setting names are slash separated relative to /proc/sys, e.g.
// net/ipv6/conf/all/forwarding.
package sysctl

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const procSysRoot = "/proc/sys"

// Get reads the current value of the named setting.
func Get(name string) (string, error) {
	data, err := os.ReadFile(settingPath(name))
	if err != nil {
		return "", fmt.Errorf("read sysctl %s: %w", name, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// Set writes the named setting.
func Set(name, value string) error {
	mode := fs.FileMode(0644)
	err := os.WriteFile(settingPath(name), []byte(value), mode)
	if err != nil {
		return fmt.Errorf("write sysctl %s: %w", name, err)
	}
	return nil
}

func settingPath(name string) string {
	return filepath.Join(procSysRoot, filepath.FromSlash(name))
}
