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

// Package session resolves a caller's POSIX session ID (SID), the unit
// that dibs scopes reader receipts by: all processes sharing one
// interactive terminal are treated as a single logical agent, since
// agents commonly spawn subprocesses to do their actual I/O.
package session

import "golang.org/x/sys/unix"

// Resolve returns the SID for pid. On any error resolving the POSIX
// session ID (e.g. a non-POSIX host, or the process having already
// exited), it falls back to using pid itself as the SID. usedFallback
// reports whether the fallback path was taken, for a one-time debug log
// line; it never changes behavior. The fallback is conservative: it can
// only cause subprocess-driven I/O to look like separate agents, which
// produces more refusals, never fewer.
func Resolve(pid uint32) (sid uint32, usedFallback bool) {
	got, err := unix.Getsid(int(pid))
	if err != nil || got < 0 {
		return pid, true
	}
	return uint32(got), false
}
