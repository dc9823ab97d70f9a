// Copyright 2026 The MySQL MCP Gateway Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package security

import (
	"fmt"
	"unicode/utf8"

	"github.com/mysql-mcp/gateway/config"
	"github.com/mysql-mcp/gateway/mysqlerr"
)

// maxInputDepth bounds container recursion so pathological nesting cannot
// blow the stack.
const maxInputDepth = 32

// InputValidator checks caller-supplied parameter values: strings must be
// valid UTF-8 without control characters (TAB/LF/CR excepted) and within
// the configured length; arrays and maps recurse with the same rules.
type InputValidator struct {
	maxLength int
	level     config.ValidationLevel
	detector  *Detector
}

func NewInputValidator(cfg config.SecurityConfig, det *Detector) *InputValidator {
	return &InputValidator{
		maxLength: cfg.MaxInputLength,
		level:     cfg.ValidationLevel,
		detector:  det,
	}
}

// Validate checks a single parameter value.
func (v *InputValidator) Validate(value any) error {
	return v.validate(value, 0)
}

// ValidateAll checks a parameter tuple.
func (v *InputValidator) ValidateAll(values []any) error {
	for i, val := range values {
		if err := v.validate(val, 0); err != nil {
			return fmt.Errorf("parameter %d: %w", i, err)
		}
	}
	return nil
}

func (v *InputValidator) validate(value any, depth int) error {
	if depth > maxInputDepth {
		return mysqlerr.New(mysqlerr.KindValidation, "input nesting too deep")
	}

	switch val := value.(type) {
	case nil, bool, int, int32, int64, uint, uint32, uint64, float32, float64:
		return nil
	case []byte:
		if len(val) > v.maxLength {
			return mysqlerr.New(mysqlerr.KindValidation,
				fmt.Sprintf("input length %d exceeds limit %d", len(val), v.maxLength))
		}
		return nil
	case string:
		return v.validateString(val)
	case []any:
		for i, elem := range val {
			if err := v.validate(elem, depth+1); err != nil {
				return fmt.Errorf("element %d: %w", i, err)
			}
		}
		return nil
	case map[string]any:
		for key, elem := range val {
			if err := v.validateString(key); err != nil {
				return fmt.Errorf("key %q: %w", key, err)
			}
			if err := v.validate(elem, depth+1); err != nil {
				return fmt.Errorf("value of %q: %w", key, err)
			}
		}
		return nil
	default:
		return mysqlerr.New(mysqlerr.KindValidation,
			fmt.Sprintf("unsupported input type %T", value))
	}
}

func (v *InputValidator) validateString(s string) error {
	if len(s) > v.maxLength {
		return mysqlerr.New(mysqlerr.KindValidation,
			fmt.Sprintf("input length %d exceeds limit %d", len(s), v.maxLength))
	}
	if !utf8.ValidString(s) {
		return mysqlerr.New(mysqlerr.KindValidation, "input is not valid UTF-8")
	}
	for _, r := range s {
		if r < 0x20 && r != '\t' && r != '\n' && r != '\r' {
			return mysqlerr.New(mysqlerr.KindValidation,
				fmt.Sprintf("input contains control character %U", r))
		}
	}
	if res := v.detector.Detect(s, v.level); res.Risk >= riskThreshold {
		return mysqlerr.New(mysqlerr.KindSecurityViolation,
			fmt.Sprintf("input matches threat pattern %s", res.Matches[0].PatternID))
	}
	return nil
}
