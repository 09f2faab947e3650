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

import (
	"os"
	"reflect"
	"time"

	pkgerrors "github.com/stepflow/orchestrator/pkg/errors"
)

// inputStyle controls ORCH_INPUT_STYLE validation: a guard against a sole
// parameter disguising a scalar as a one-element slice (or vice versa)
// when a call site isn't sure which shape a method expects.
type inputStyle string

const (
	styleStrictSingle inputStyle = "strict_single"
	styleAllowList    inputStyle = "allow_list"
	styleEnforceList  inputStyle = "enforce_list"
)

func currentInputStyle() inputStyle {
	switch inputStyle(os.Getenv("ORCH_INPUT_STYLE")) {
	case styleAllowList:
		return styleAllowList
	case styleEnforceList:
		return styleEnforceList
	default:
		return styleStrictSingle
	}
}

// validateInputStyle enforces the configured style against a call's sole
// parameter, when there is exactly one — calls with zero or several
// parameters carry no ambiguity and are never checked.
func validateInputStyle(reg Registration, args map[string]any) error {
	mode := currentInputStyle()
	if mode == styleAllowList || len(args) != 1 {
		return nil
	}
	var only any
	for _, v := range args {
		only = v
	}
	kind := reflect.Invalid
	if only != nil {
		kind = reflect.ValueOf(only).Kind()
	}
	isList := kind == reflect.Slice || kind == reflect.Array

	switch mode {
	case styleStrictSingle:
		if isList && reflect.ValueOf(only).Len() == 1 {
			return &pkgerrors.InputStyleError{
				FullKey: reg.FullKey(),
				Mode:    string(mode),
				Reason:  "single-element list/array passed as the sole parameter; pass the scalar directly",
			}
		}
	case styleEnforceList:
		if !isList {
			return &pkgerrors.InputStyleError{
				FullKey: reg.FullKey(),
				Mode:    string(mode),
				Reason:  "sole parameter must be a list/array under enforce_list",
			}
		}
	}
	return nil
}

// dispatch validates input style, invokes the callable, records duration
// and outcome metrics, and returns any callable error unchanged.
func dispatch(reg Registration, args map[string]any) (any, error) {
	if reg.Callable == nil {
		return nil, &pkgerrors.NotFoundError{Resource: "callable", ID: reg.FullKey()}
	}
	if err := validateInputStyle(reg, args); err != nil {
		return nil, err
	}

	start := time.Now()
	result, err := reg.Callable(args)
	duration := time.Since(start)

	status := "ok"
	if err != nil {
		status = "error"
	}
	executionDuration.WithLabelValues(reg.Component, reg.Method, reg.Engine, status).Observe(duration.Seconds())

	if err != nil {
		return nil, err
	}
	return result, nil
}
