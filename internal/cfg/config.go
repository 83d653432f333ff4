// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cfg is the mount command's configuration surface: a small
// hand-written analog of the generated config packages used by larger
// FUSE adapters, binding pflag flags through viper into a Config struct.
package cfg

import (
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds every flag accepted by `dibs mount`.
type Config struct {
	SessionID        string `mapstructure:"session-id"`
	LogFile          string `mapstructure:"log-file"`
	LogFormat        string `mapstructure:"log-format"`
	LogSeverity      string `mapstructure:"log-severity"`
	EvictionMinutes  int    `mapstructure:"eviction-minutes"`
	SaveConflicts    bool   `mapstructure:"save-conflicts"`
	ReadonlyFallback bool   `mapstructure:"readonly-fallback"`
}

// BindFlags registers every mount flag on flags and binds it through
// viper, so Config can later be populated with viper.Unmarshal.
func BindFlags(flags *pflag.FlagSet) error {
	flags.String("session-id", "", "Label for this mount's logs; defaults to an autogenerated value")
	flags.String("log-file", "", "Path to a log file; if unset, logs go to stderr")
	flags.String("log-format", "text", "Log format: text or json")
	flags.String("log-severity", "info", "Minimum log severity: trace, debug, info, warning, error")
	flags.Int("eviction-minutes", 60, "Age, in minutes, after which idle CAS entries are pruned")
	flags.Bool("save-conflicts", false, "Persist rejected-write payloads under <mount>/.dibs/conflicts")
	flags.Bool("readonly-fallback", false, "Swallow OCC refusals as no-ops instead of returning I/O errors")

	for _, name := range []string{
		"session-id", "log-file", "log-format", "log-severity",
		"eviction-minutes", "save-conflicts", "readonly-fallback",
	} {
		if err := viper.BindPFlag(name, flags.Lookup(name)); err != nil {
			return err
		}
	}
	return nil
}
