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

// index is the hierarchical component -> method -> engine -> registration
// map. It is not safe for concurrent use on its own; Registry protects it
// with a mutex. Insertion order per
// (component, method) bucket is preserved so strategies can break ties
// deterministically.
type index struct {
	byComponent map[string]map[string]map[string]Registration
	byFullKey   map[string]Registration
	order       map[string][]string // "component::method" -> engine tags in insertion order
}

func newIndex() *index {
	return &index{
		byComponent: make(map[string]map[string]map[string]Registration),
		byFullKey:   make(map[string]Registration),
		order:       make(map[string][]string),
	}
}

func (x *index) add(reg Registration) {
	methods, ok := x.byComponent[reg.Component]
	if !ok {
		methods = make(map[string]map[string]Registration)
		x.byComponent[reg.Component] = methods
	}
	engines, ok := methods[reg.Method]
	if !ok {
		engines = make(map[string]Registration)
		methods[reg.Method] = engines
	}
	bucketKey := reg.Component + "::" + reg.Method
	if _, exists := engines[reg.Engine]; !exists {
		x.order[bucketKey] = append(x.order[bucketKey], reg.Engine)
	}
	engines[reg.Engine] = reg
	x.byFullKey[reg.FullKey()] = reg
}

func (x *index) remove(reg Registration) {
	if methods, ok := x.byComponent[reg.Component]; ok {
		if engines, ok := methods[reg.Method]; ok {
			delete(engines, reg.Engine)
			if len(engines) == 0 {
				delete(methods, reg.Method)
			}
		}
		if len(methods) == 0 {
			delete(x.byComponent, reg.Component)
		}
	}
	delete(x.byFullKey, reg.FullKey())
	bucketKey := reg.Component + "::" + reg.Method
	order := x.order[bucketKey]
	for i, e := range order {
		if e == reg.Engine {
			x.order[bucketKey] = append(order[:i], order[i+1:]...)
			break
		}
	}
}

func (x *index) getFull(fullKey string) (Registration, bool) {
	reg, ok := x.byFullKey[fullKey]
	return reg, ok
}

func (x *index) getEngine(component, method, engine string) (Registration, bool) {
	methods, ok := x.byComponent[component]
	if !ok {
		return Registration{}, false
	}
	engines, ok := methods[method]
	if !ok {
		return Registration{}, false
	}
	reg, ok := engines[engine]
	return reg, ok
}

// methodCandidates returns all engines' registrations for (component, method)
// in insertion order.
func (x *index) methodCandidates(component, method string) []Registration {
	methods, ok := x.byComponent[component]
	if !ok {
		return nil
	}
	engines, ok := methods[method]
	if !ok {
		return nil
	}
	bucketKey := component + "::" + method
	out := make([]Registration, 0, len(engines))
	for _, tag := range x.order[bucketKey] {
		if reg, ok := engines[tag]; ok {
			out = append(out, reg)
		}
	}
	return out
}

// listEngines returns just the engine tags for (component, method), in
// insertion order.
func (x *index) listEngines(component, method string) []string {
	bucketKey := component + "::" + method
	out := append([]string(nil), x.order[bucketKey]...)
	return out
}

// byComponentName returns all registrations belonging to one component,
// keyed by full key. Backs the per-component grouping of the engines command.
func (x *index) byComponentName(component string) map[string]Registration {
	out := make(map[string]Registration)
	for _, engines := range x.byComponent[component] {
		for _, reg := range engines {
			out[reg.FullKey()] = reg
		}
	}
	return out
}

func (x *index) components() []string {
	out := make([]string, 0, len(x.byComponent))
	for c := range x.byComponent {
		out = append(out, c)
	}
	return out
}

func (x *index) all() map[string]Registration {
	out := make(map[string]Registration, len(x.byFullKey))
	for k, v := range x.byFullKey {
		out[k] = v
	}
	return out
}

func (x *index) clear() {
	x.byComponent = make(map[string]map[string]map[string]Registration)
	x.byFullKey = make(map[string]Registration)
	x.order = make(map[string][]string)
}
