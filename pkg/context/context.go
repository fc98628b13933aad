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

// Package context provides facilities for storing and retrieving values from context objects.
package context

import (
	"context"
	"log/slog"
	"time"
)

// Logger is an alias to slog.Logger for convenience.
type Logger = *slog.Logger

// Context is an alias to context.Context for convenience and to avoid
// confusion with the context package.
type Context = context.Context

// CancelFunc is an alias to context.CancelFunc for convenience and to avoid
// confusion with the context package.
type CancelFunc = context.CancelFunc

// Canceled is an alias to context.Canceled for convenience and to avoid
// confusion with the context package.
var Canceled = context.Canceled

// Background returns a background context.
func Background() Context {
	return context.Background()
}

// WithTimeout returns a context with the given timeout.
func WithTimeout(ctx Context, timeout time.Duration) (Context, CancelFunc) {
	return context.WithTimeout(ctx, timeout)
}

// WithCancel returns a context with the given cancel function.
func WithCancel(ctx Context) (Context, CancelFunc) {
	return context.WithCancel(ctx)
}

type logContextKey struct{}

// WithLogger returns a context with the given logger set.
func WithLogger(ctx Context, logger Logger) Context {
	return context.WithValue(ctx, logContextKey{}, logger)
}

// LoggerFrom returns the logger from the context. If no logger is set, the
// default logger is returned.
func LoggerFrom(ctx Context) Logger {
	logger, ok := ctx.Value(logContextKey{}).(*slog.Logger)
	if !ok {
		return slog.Default()
	}
	return logger
}
