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

// Package config turns a declarative pipeline configuration into a
// validated dependency graph and the ordered NodeConfigs the execution
// engine runs.
package config

import (
	"gopkg.in/yaml.v3"
)

// MethodChain normalizes the YAML "method" field, which may be a bare
// string or a list, into an ordered slice.
type MethodChain []string

func (m *MethodChain) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		var single string
		if err := node.Decode(&single); err != nil {
			return err
		}
		*m = MethodChain{single}
		return nil
	}
	var list []string
	if err := node.Decode(&list); err != nil {
		return err
	}
	*m = MethodChain(list)
	return nil
}

// StringList normalizes a YAML field that may be a bare string or a list
// of strings (used by depends_on).
type StringList []string

func (s *StringList) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		var single string
		if err := node.Decode(&single); err != nil {
			return err
		}
		*s = StringList{single}
		return nil
	}
	var list []string
	if err := node.Decode(&list); err != nil {
		return err
	}
	*s = StringList(list)
	return nil
}

// OutputSpec declares one output dataset a step produces.
type OutputSpec struct {
	Name string `yaml:"name"`
	From string `yaml:"from,omitempty"`
}

// outputsSection mirrors pipeline.steps[].outputs, accepting either a list
// of names/objects under "parameters" or a bare map shorthand.
type outputsSection struct {
	Parameters []OutputSpec `yaml:"parameters,omitempty"`
}

func (o *outputsSection) UnmarshalYAML(node *yaml.Node) error {
	type paramsOnly struct {
		Parameters yaml.Node `yaml:"parameters"`
	}
	var wrapper paramsOnly
	if err := node.Decode(&wrapper); err != nil {
		return err
	}
	if wrapper.Parameters.Kind == 0 {
		return nil
	}
	return decodeOutputList(&wrapper.Parameters, &o.Parameters)
}

func decodeOutputList(node *yaml.Node, out *[]OutputSpec) error {
	switch node.Kind {
	case yaml.SequenceNode:
		for _, item := range node.Content {
			if item.Kind == yaml.ScalarNode {
				var name string
				if err := item.Decode(&name); err != nil {
					return err
				}
				*out = append(*out, OutputSpec{Name: name})
				continue
			}
			var spec OutputSpec
			if err := item.Decode(&spec); err != nil {
				return err
			}
			*out = append(*out, spec)
		}
		return nil
	case yaml.MappingNode:
		var asMap map[string]OutputSpec
		if err := node.Decode(&asMap); err == nil {
			for name, spec := range asMap {
				spec.Name = name
				*out = append(*out, spec)
			}
			return nil
		}
		var asScalarMap map[string]string
		if err := node.Decode(&asScalarMap); err != nil {
			return err
		}
		for name, from := range asScalarMap {
			*out = append(*out, OutputSpec{Name: name, From: from})
		}
		return nil
	default:
		return nil
	}
}

// rawStep is the YAML shape of one pipeline.steps[] entry.
type rawStep struct {
	Name       string         `yaml:"name"`
	Component  string         `yaml:"component"`
	Engine     string         `yaml:"engine"`
	Method     MethodChain    `yaml:"method"`
	Parameters map[string]any `yaml:"parameters"`
	Outputs    outputsSection `yaml:"outputs"`
	DependsOn  StringList     `yaml:"depends_on,omitempty"`
}

// Orchestration carries the pipeline-level execution directives.
type Orchestration struct {
	Granularity string `yaml:"granularity"`
	TaskRunner  string `yaml:"task_runner"`
	MaxWorkers  int    `yaml:"max_workers"`
	SoftFail    bool   `yaml:"soft_fail"`
	RetryCount  int    `yaml:"retry_count"`
	RetryDelay  int    `yaml:"retry_delay"`
	Timeout     int    `yaml:"timeout"`
}

func (o *Orchestration) applyDefaults() {
	if o.Granularity == "" {
		o.Granularity = "node"
	}
	if o.TaskRunner == "" {
		o.TaskRunner = "sequential"
	}
	if o.MaxWorkers <= 0 {
		o.MaxWorkers = 1
	}
}

type rawPipeline struct {
	Name          string        `yaml:"name"`
	Orchestration Orchestration `yaml:"orchestration"`
	Steps         []rawStep     `yaml:"steps"`
}

type rawDocument struct {
	Pipeline rawPipeline `yaml:"pipeline"`
}

// StepSpec is the parsed, validated form of one pipeline.steps[] entry.
type StepSpec struct {
	Name       string
	Component  string
	Engine     string // a fixed engine tag, or "auto"
	Methods    []string
	Parameters map[string]any
	Outputs    []OutputSpec
	DependsOn  []string
}

// PipelineConfig is the fully parsed configuration document.
type PipelineConfig struct {
	Name          string
	Orchestration Orchestration
	Steps         []StepSpec
}
