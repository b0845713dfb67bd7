/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package storage

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"

	gojsonschema "github.com/xeipuuv/gojsonschema"
)

//go:embed schema/layout.schema.json
var layoutSchema []byte

// ErrSchema is returned when a layout blob does not conform to the layout schema.
var ErrSchema = errors.New("layout does not conform to schema")

var schemaLoader = gojsonschema.NewBytesLoader(layoutSchema)

// LayoutSchema returns a copy of the embedded JSON schema.
func LayoutSchema() []byte {
	out := make([]byte, len(layoutSchema))
	copy(out, layoutSchema)
	return out
}

// ValidateLayoutJSON checks data against the layout schema. Violations are joined into one
// error wrapping ErrSchema.
func ValidateLayoutJSON(data []byte) error {
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSchema, err)
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("%w: %s", ErrSchema, strings.Join(msgs, "; "))
}
