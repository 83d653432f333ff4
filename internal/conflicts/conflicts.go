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

// Package conflicts persists rejected-write payloads when --save-conflicts
// is enabled, so a refused write is not simply lost.
package conflicts

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"
)

// Sink writes conflict payloads into a sidecar directory.
type Sink struct {
	dir string
	now func() time.Time
}

// New returns a Sink writing into dir, creating it if necessary.
func New(dir string, now func() time.Time) (*Sink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("conflicts: create sidecar dir %q: %w", dir, err)
	}
	return &Sink{dir: dir, now: now}, nil
}

// Dir returns the sidecar directory this sink writes into.
func (s *Sink) Dir() string { return s.dir }

// Save writes payload for path into a timestamp-prefixed file in the
// sidecar directory. It uses a write-then-rename so a reader never
// observes a half-written conflict payload.
func (s *Sink) Save(path string, payload []byte) error {
	name := fmt.Sprintf("%d-%s.rejected", s.now().UnixNano(), filepath.Base(path))
	dest := filepath.Join(s.dir, name)
	if err := renameio.WriteFile(dest, payload, 0o644); err != nil {
		return fmt.Errorf("conflicts: save %q: %w", path, err)
	}
	return nil
}
