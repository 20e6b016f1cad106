/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fatih/color"
	"github.com/uptrace/bun"
)

var silent atomic.Bool

// EnableBunSqlSilent mutes the query hooks, for example while creating schema.
func EnableBunSqlSilent(b bool) {
	silent.Store(b)
}

var operationColors = map[string]*color.Color{
	"SELECT": color.New(color.FgGreen),
	"INSERT": color.New(color.FgBlue),
	"UPDATE": color.New(color.FgYellow),
	"DELETE": color.New(color.FgMagenta),
}

var operationBackgrounds = map[string]*color.Color{
	"SELECT": color.New(color.BgGreen, color.FgHiWhite),
	"INSERT": color.New(color.BgBlue, color.FgHiWhite),
	"UPDATE": color.New(color.BgYellow, color.FgHiWhite),
	"DELETE": color.New(color.BgMagenta, color.FgHiWhite),
}

var (
	queryTag    = color.New(color.FgCyan).Sprintf("%15s", "[BUN]")
	slowTag     = color.New(color.FgYellow).Sprintf("%15s", "[BUN_SLOW]")
	conflictTag = color.New(color.FgHiYellow, color.Bold).Sprint(" RETRYABLE ")
	errorColor  = color.New(color.BgRed, color.FgHiWhite)
)

func colorize(palette map[string]*color.Color, fallback *color.Color, event *bun.QueryEvent) string {
	if c, ok := palette[event.Operation()]; ok {
		return c.Sprint(event.Query)
	}
	return fallback.Sprint(event.Query)
}

// QueryHook prints executed statements. The environment variable named by
// envName overrides enabled: "0" or empty disables, "2" prints successful
// statements as well as failures.
type QueryHook struct {
	envName string
	enabled bool
	verbose bool
	writer  io.Writer
}

var _ bun.QueryHook = (*QueryHook)(nil)

func NewQueryHook(envName string, enabled, verbose bool, writer io.Writer) *QueryHook {
	if writer == nil {
		writer = os.Stderr
	}
	return &QueryHook{envName: envName, enabled: enabled, verbose: verbose, writer: writer}
}

func (h *QueryHook) BeforeQuery(ctx context.Context, _ *bun.QueryEvent) context.Context {
	return ctx
}

func (h *QueryHook) AfterQuery(_ context.Context, event *bun.QueryEvent) {
	if silent.Load() {
		return
	}
	enabled, verbose := h.enabled, h.verbose
	if env, ok := os.LookupEnv(h.envName); ok && h.envName != "" {
		enabled = env != "" && env != "0"
		verbose = env == "2"
	}
	if !enabled {
		return
	}
	if !verbose {
		switch {
		case event.Err == nil, errors.Is(event.Err, sql.ErrNoRows), errors.Is(event.Err, sql.ErrTxDone):
			return
		}
	}

	now := time.Now()
	args := []interface{}{
		now.Format("2006-01-02 15:04:05.000"),
		queryTag,
		fmt.Sprintf("%17s", now.Sub(event.StartTime).Round(time.Microsecond)),
		"  ", colorize(operationColors, color.New(color.FgRed), event),
	}
	if event.Err != nil {
		if IsRetryable(event.Err) {
			args = append(args, conflictTag)
		}
		typ := reflect.TypeOf(event.Err).String()
		args = append(args, "\t", errorColor.Sprintf(" %s: %s ", typ, event.Err.Error()))
	}
	_, _ = fmt.Fprintln(h.writer, args...)
}

// SlowQueryHook prints successful statements slower than slowTime and
// reports them to logger. The environment variable fromEnv set to "1"
// forces printing on, any other value forces it off.
type SlowQueryHook struct {
	fromEnv  string
	enabled  bool
	slowTime time.Duration
	writer   io.Writer
	logger   Logger
}

var _ bun.QueryHook = (*SlowQueryHook)(nil)

func NewSlowQueryHook(slowTime time.Duration, logger Logger, writer io.Writer) *SlowQueryHook {
	if writer == nil {
		writer = os.Stderr
	}
	return &SlowQueryHook{fromEnv: "BUNDEBUG_SLOW", enabled: true, slowTime: slowTime, writer: writer, logger: logger}
}

func (h *SlowQueryHook) BeforeQuery(ctx context.Context, _ *bun.QueryEvent) context.Context {
	return ctx
}

func (h *SlowQueryHook) AfterQuery(_ context.Context, event *bun.QueryEvent) {
	if silent.Load() || event.Err != nil {
		return
	}
	duration := time.Since(event.StartTime)
	if duration <= h.slowTime {
		return
	}
	if h.logger != nil {
		h.logger.Warn("Database slow query detected",
			"duration", duration,
			"slow_threshold", h.slowTime,
			"query", event.Query,
		)
	}

	enabled := h.enabled
	if env, ok := os.LookupEnv(h.fromEnv); ok {
		enabled = strings.TrimSpace(env) == "1"
	}
	if !enabled {
		return
	}
	_, _ = fmt.Fprintln(h.writer,
		time.Now().Format("2006-01-02 15:04:05.000"),
		slowTag,
		fmt.Sprintf("%17s", duration.Round(time.Microsecond)),
		"  ", colorize(operationBackgrounds, color.New(color.BgRed, color.FgHiWhite), event),
	)
}
