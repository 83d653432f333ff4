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

package cfg

import (
	"testing"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBindFlags_DefaultsUnmarshal(t *testing.T) {
	viper.Reset()
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	require.NoError(t, BindFlags(flags))
	require.NoError(t, flags.Parse(nil))

	var c Config
	require.NoError(t, viper.Unmarshal(&c))

	assert.Equal(t, 60, c.EvictionMinutes)
	assert.Equal(t, "text", c.LogFormat)
	assert.False(t, c.SaveConflicts)
	assert.False(t, c.ReadonlyFallback)
}

func TestBindFlags_OverridesFromArgs(t *testing.T) {
	viper.Reset()
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	require.NoError(t, BindFlags(flags))
	require.NoError(t, flags.Parse([]string{
		"--session-id=abc", "--eviction-minutes=5", "--save-conflicts", "--readonly-fallback",
	}))

	var c Config
	require.NoError(t, viper.Unmarshal(&c))

	assert.Equal(t, "abc", c.SessionID)
	assert.Equal(t, 5, c.EvictionMinutes)
	assert.True(t, c.SaveConflicts)
	assert.True(t, c.ReadonlyFallback)
}
