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

// Entrypoint for the clatd daemon.
package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/webmeshproj/clatd/pkg/clatd"
	"github.com/webmeshproj/clatd/pkg/config"
	"github.com/webmeshproj/clatd/pkg/context"
	"github.com/webmeshproj/clatd/pkg/logging"
	"github.com/webmeshproj/clatd/pkg/util"
	"github.com/webmeshproj/clatd/pkg/version"
)

func main() {
	flagset := pflag.NewFlagSet("clatd", pflag.ContinueOnError)
	versionFlag := flagset.Bool("version", false, "Print version information and exit")
	versionJSONFlag := flagset.Bool("json", false, "Print version information in JSON format")
	configFile := flagset.String("config", "", "Load options from a file (yaml, json, or toml)")
	printConfig := flagset.Bool("print-config", false, "Print the effective configuration and exit")
	conf := config.NewDefaultConfig().BindFlags(flagset)
	err := flagset.Parse(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, "Error parsing flags:", err)
		os.Exit(1)
	}
	if *versionFlag {
		info := version.GetBuildInfo()
		if *versionJSONFlag {
			fmt.Println(info.PrettyJSON("clatd"))
			return
		}
		fmt.Println("464XLAT Daemon")
		fmt.Println("    Version:    ", info.Version)
		fmt.Println("    Git Commit: ", info.GitCommit)
		fmt.Println("    Build Date: ", info.BuildDate)
		return
	}
	if *configFile != "" {
		f, err := os.Open(*configFile)
		if err != nil {
			fmt.Fprintln(os.Stderr, "Error opening config file:", err)
			os.Exit(1)
		}
		hint := strings.TrimPrefix(filepath.Ext(*configFile), ".")
		err = util.DecodeOptions(f, hint, conf)
		_ = f.Close()
		if err != nil {
			fmt.Fprintln(os.Stderr, "Error parsing config file:", err)
			os.Exit(1)
		}
		// Flags given on the command line win over the file.
		if err := flagset.Parse(os.Args[1:]); err != nil {
			fmt.Fprintln(os.Stderr, "Error parsing flags:", err)
			os.Exit(1)
		}
	}
	if err := conf.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "Invalid configuration:", err)
		os.Exit(1)
	}
	if *printConfig {
		out, err := yaml.Marshal(conf)
		if err != nil {
			fmt.Fprintln(os.Stderr, "Error marshaling configuration:", err)
			os.Exit(1)
		}
		fmt.Print(string(out))
		return
	}
	log := logging.SetupLogging(conf.Global.LogLevel)
	ctx := context.WithLogger(context.Background(), log)
	if err := clatd.Run(ctx, conf); err != nil {
		log.Error("Error running clatd", "error", err.Error())
		os.Exit(1)
	}
}
