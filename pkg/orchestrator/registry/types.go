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

package registry

import "fmt"

// ConflictPolicy governs what happens when a registration's full key
// already exists in the index.
type ConflictPolicy int

const (
	// ConflictOverwriteNewer replaces the existing registration when the
	// incoming one has a higher (priority, version) tuple; otherwise the
	// existing registration is kept. This is the default policy.
	ConflictOverwriteNewer ConflictPolicy = iota
	// ConflictReject fails registration with *errors.DuplicateRegistrationError.
	ConflictReject
	// ConflictKeepExisting silently ignores the incoming registration.
	ConflictKeepExisting
)

// Callable is a registered domain method. Arguments and return values are
// opaque to the registry and engine — only the plug-in and its caller need
// to agree on their shape.
type Callable func(args map[string]any) (any, error)

// Registration is one callable made available by a domain plug-in.
type Registration struct {
	Component   string
	Method      string
	Engine      string
	Version     string
	Priority    int
	Deprecated  bool
	Description string
	Callable    Callable
}

// FullKey returns the registry's unique identity for this registration.
func (r Registration) FullKey() string {
	return FullKey(r.Component, r.Engine, r.Method)
}

// FullKey builds the component::engine::method identity string.
func FullKey(component, engine, method string) string {
	return fmt.Sprintf("%s::%s::%s", component, engine, method)
}

// EngineTag, VersionTag, PriorityTag and DeprecatedTag implement
// strategy.Candidate so a []Registration can be ranked directly.
func (r Registration) EngineTag() string    { return r.Engine }
func (r Registration) VersionTag() string   { return r.Version }
func (r Registration) PriorityTag() int     { return r.Priority }
func (r Registration) DeprecatedTag() bool { return r.Deprecated }

// ImplementationInfo is the read-only view of a Registration returned by
// Describe — it omits the callable itself.
type ImplementationInfo struct {
	Engine      string
	Version     string
	Priority    int
	Deprecated  bool
	Description string
}

func (r Registration) info() ImplementationInfo {
	return ImplementationInfo{
		Engine:      r.Engine,
		Version:     r.Version,
		Priority:    r.Priority,
		Deprecated:  r.Deprecated,
		Description: r.Description,
	}
}
