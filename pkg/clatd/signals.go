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
	"os"
	"os/signal"
	"syscall"

	"github.com/webmeshproj/clatd/pkg/context"
)

// signalScope intercepts termination signals while the translator is
// running. Without it a SIGINT would kill this process before the
// rollback had a chance to run. Signals are instead forwarded to the
// translator, whose exit drives the normal teardown path.
type signalScope struct {
	ch   chan os.Signal
	done chan struct{}
}

// deferSignals installs the scope. Release must be called after the
// translator exits.
func deferSignals(ctx context.Context, translator Translator) *signalScope {
	log := context.LoggerFrom(ctx)
	s := &signalScope{
		ch:   make(chan os.Signal, 2),
		done: make(chan struct{}),
	}
	signal.Notify(s.ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		for {
			select {
			case sig := <-s.ch:
				log.Info("Forwarding signal to translator", "signal", sig.String())
				if err := translator.Signal(sig); err != nil {
					log.Warn("Could not signal translator", "error", err.Error())
				}
			case <-s.done:
				return
			}
		}
	}()
	return s
}

// Release restores default signal handling.
func (s *signalScope) Release() {
	signal.Stop(s.ch)
	close(s.done)
}
