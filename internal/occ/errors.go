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

package occ

import "errors"

// ErrStaleView is returned when a caller's receipt no longer matches the
// backing file's current content hash.
var ErrStaleView = errors.New("occ: stale view")

// ErrOwnershipBusy is returned when a path already has an active write
// owner and a competing handle tries to acquire write ownership.
var ErrOwnershipBusy = errors.New("occ: ownership busy")

// ErrNotSupported is the sentinel for operations that are refused outright.
// No Engine method returns it; hardlink creation is refused in dibsfs by
// the embedded NotImplementedFileSystem instead.
var ErrNotSupported = errors.New("occ: not supported")
