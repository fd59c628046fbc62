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

package resolve

import (
	"context"
	"fmt"
	"strings"

	"github.com/itchyny/gojq"
	"github.com/tombee/orbyt/pkg/errors"
)

// ProjectOutputs applies a step's `outputs` mapping (user-facing name ->
// path expression) against the adapter result's data, producing the
// stored output map. Each path is either the native dotted/bracket
// dialect, or, when prefixed "jq:", a gojq filter — giving authors
// projection power beyond single-field paths without adding a second
// expression language to the `when` surface.
func ProjectOutputs(outputs map[string]string, data any) (map[string]any, error) {
	if len(outputs) == 0 {
		if m, ok := data.(map[string]any); ok {
			return m, nil
		}
		return map[string]any{"data": data}, nil
	}

	result := make(map[string]any, len(outputs))
	for name, path := range outputs {
		v, err := projectOne(path, data)
		if err != nil {
			return nil, fmt.Errorf("projecting output %q: %w", name, err)
		}
		result[name] = v
	}
	return result, nil
}

func projectOne(path string, data any) (any, error) {
	if rest, ok := strings.CutPrefix(path, "jq:"); ok {
		return runJQ(rest, data)
	}
	return lookupPath(data, path)
}

func runJQ(filterSrc string, data any) (any, error) {
	query, err := gojq.Parse(filterSrc)
	if err != nil {
		return nil, errors.Wrap(errors.KindVariableUnresolved, fmt.Sprintf("invalid jq filter %q", filterSrc), err)
	}

	iter := query.RunWithContext(context.Background(), data)
	v, ok := iter.Next()
	if !ok {
		return nil, errors.New(errors.KindVariableUnresolved, fmt.Sprintf("jq filter %q produced no result", filterSrc))
	}
	if err, ok := v.(error); ok {
		return nil, errors.Wrap(errors.KindVariableUnresolved, fmt.Sprintf("jq filter %q failed", filterSrc), err)
	}
	return v, nil
}
