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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mysql-mcp/gateway/mysqlerr"
)

func newTestInputValidator() *InputValidator {
	return NewInputValidator(testSecurityConfig(), NewDetector())
}

func TestValidateScalars(t *testing.T) {
	v := newTestInputValidator()

	for _, val := range []any{nil, true, 42, int64(7), uint64(7), 3.14, "hello", []byte("blob")} {
		assert.NoError(t, v.Validate(val))
	}
	assert.Error(t, v.Validate(struct{}{}))
	assert.Error(t, v.Validate(make(chan int)))
}

func TestValidateStringLengthBoundary(t *testing.T) {
	v := newTestInputValidator()

	assert.NoError(t, v.Validate(strings.Repeat("a", 50)))
	err := v.Validate(strings.Repeat("a", 51))
	require.Error(t, err)
	assert.Equal(t, mysqlerr.KindValidation, mysqlerr.KindOf(err))

	assert.Error(t, v.Validate([]byte(strings.Repeat("b", 51))))
}

func TestValidateStringContent(t *testing.T) {
	v := newTestInputValidator()

	assert.Error(t, v.Validate("bad\x00byte"))
	assert.Error(t, v.Validate(string([]byte{0xff, 0xfe})))
	// Whitespace control characters are allowed.
	assert.NoError(t, v.Validate("line1\nline2\tend\r"))
}

func TestValidateStringInjection(t *testing.T) {
	v := newTestInputValidator()

	err := v.Validate("' OR '1'='1")
	require.Error(t, err)
	assert.Equal(t, mysqlerr.KindSecurityViolation, mysqlerr.KindOf(err))
}

func TestValidateContainersRecurse(t *testing.T) {
	v := newTestInputValidator()

	assert.NoError(t, v.Validate([]any{1, "two", nil}))
	assert.NoError(t, v.Validate(map[string]any{"k": []any{"v"}}))

	assert.Error(t, v.Validate([]any{1, strings.Repeat("x", 51)}))
	assert.Error(t, v.Validate(map[string]any{"k": "' OR '1'='1"}))
	assert.Error(t, v.Validate(map[string]any{strings.Repeat("k", 51): "v"}))
}

func TestValidateDepthBound(t *testing.T) {
	v := newTestInputValidator()

	nested := any("leaf")
	for i := 0; i < 40; i++ {
		nested = []any{nested}
	}
	assert.Error(t, v.Validate(nested))
}

func TestValidateAllReportsIndex(t *testing.T) {
	v := newTestInputValidator()

	err := v.ValidateAll([]any{"ok", "' OR '1'='1", "ok"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parameter 1")
	assert.NoError(t, v.ValidateAll(nil))
}
