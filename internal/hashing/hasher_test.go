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

package hashing

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name string, size int, b byte) string {
	t.Helper()
	p := filepath.Join(dir, name)
	data := make([]byte, size)
	for i := range data {
		data[i] = b
	}
	require.NoError(t, os.WriteFile(p, data, 0o644))
	return p
}

func TestHash_SmallFileUsesCryptoRegime(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "small", 128, 'a')

	h, err := Hash(p)
	require.NoError(t, err)
	assert.Len(t, h, 32, "small files should use the 256-bit crypto digest")
}

func TestHash_LargeFileUsesFastRegime(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "large", Threshold+1, 'b')

	h, err := Hash(p)
	require.NoError(t, err)
	assert.Len(t, h, 16, "large files should use the 128-bit fast digest")
}

func TestHash_Deterministic(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "f", 256, 'c')

	h1, err := Hash(p)
	require.NoError(t, err)
	h2, err := Hash(p)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestHash_DifferentContentDifferentHash(t *testing.T) {
	dir := t.TempDir()
	p1 := writeFile(t, dir, "f1", 256, 'c')
	p2 := writeFile(t, dir, "f2", 256, 'd')

	h1, err := Hash(p1)
	require.NoError(t, err)
	h2, err := Hash(p2)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}

func TestHash_MissingFileErrors(t *testing.T) {
	_, err := Hash(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}
