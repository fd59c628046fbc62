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

package secrets

import (
	"github.com/tombee/orbyt/pkg/adapter"
)

// Adapter implements the "secrets" adapter action surface, backed by a
// Resolver. Each resolved value is sealed and unsealed again within
// Execute, and the plaintext is returned as the step's "value" output;
// it is not kept sealed after Execute returns.
type Adapter struct {
	resolver *Resolver
	sealer   *Sealer
}

// New constructs the secrets Adapter. sealer may be nil, in which case a
// fresh one is generated.
func New(resolver *Resolver, sealer *Sealer) (*Adapter, error) {
	if sealer == nil {
		var err error
		sealer, err = NewSealer()
		if err != nil {
			return nil, err
		}
	}
	return &Adapter{resolver: resolver, sealer: sealer}, nil
}

func (a *Adapter) Name() string               { return "secrets" }
func (a *Adapter) Version() string            { return "1.0.0" }
func (a *Adapter) SupportedActions() []string { return []string{"secrets.get"} }

func (a *Adapter) Capabilities() adapter.Capabilities {
	return adapter.Capabilities{Concurrent: true, Cacheable: false, Idempotent: true, Cost: "low"}
}

func (a *Adapter) Execute(action string, input map[string]any, ctx adapter.Context) (adapter.Result, error) {
	key, ok := input["key"].(string)
	if !ok || key == "" {
		return adapter.Result{Success: false, Error: &adapter.ResultError{
			Message: "\"key\" is required and must be a non-empty string",
			Code:    "InputValidation",
		}}, nil
	}

	runCtx := ctx.Ctx
	value, err := a.resolver.Get(runCtx, key)
	if err != nil {
		return adapter.Result{Success: false, Error: &adapter.ResultError{Message: err.Error(), Code: "AdapterFailure"}}, nil
	}

	sealed, err := a.sealer.Seal(value)
	if err != nil {
		return adapter.Result{Success: false, Error: &adapter.ResultError{Message: err.Error(), Code: "AdapterFailure"}}, nil
	}
	unsealed, err := a.sealer.Unseal(sealed)
	if err != nil {
		return adapter.Result{Success: false, Error: &adapter.ResultError{Message: err.Error(), Code: "AdapterFailure"}}, nil
	}

	return adapter.Result{
		Success:  true,
		Data:     map[string]any{"value": unsealed},
		Warnings: []string{"resolved value is a secret; do not log step output for this step"},
	}, nil
}
