// Copyright 2025 Tom Barlow
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

package supervisor

// State represents the lifecycle state of a supervised tool server process.
//
// Transitions:
//
//	NotStarted -> Starting -> Running -> Stopping -> Stopped
//	                 |           |
//	                 v           v
//	               Failed      Failed (crash)
//
// Stopped and Failed are terminal; a new start allocates a fresh process.
type State string

const (
	// StateNotStarted indicates the process has never been spawned.
	StateNotStarted State = "not_started"
	// StateStarting indicates the process is being spawned.
	StateStarting State = "starting"
	// StateRunning indicates the process is alive with stdio wired up.
	StateRunning State = "running"
	// StateStopping indicates a graceful shutdown is in progress.
	StateStopping State = "stopping"
	// StateStopped indicates the process exited after an explicit stop.
	StateStopped State = "stopped"
	// StateFailed indicates the process failed to spawn or exited unexpectedly.
	StateFailed State = "failed"
)

// Terminal reports whether the state is an end state of the lifecycle.
func (s State) Terminal() bool {
	return s == StateStopped || s == StateFailed
}
