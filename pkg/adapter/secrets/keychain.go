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
	"context"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

// KeychainBackendPriority matches the teacher's secrets.KeychainBackendPriority.
const KeychainBackendPriority = 50

const keychainService = "orbyt"

// KeychainBackend reads secrets from the host OS keychain (macOS Keychain,
// Linux Secret Service, Windows Credential Manager), grounded on the
// teacher's secrets.KeychainBackend.
type KeychainBackend struct {
	available bool
}

// NewKeychainBackend probes keychain availability up front.
func NewKeychainBackend() *KeychainBackend {
	b := &KeychainBackend{available: true}
	_, err := keyring.Get(keychainService, "__orbyt_availability_probe__")
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		b.available = false
	}
	return b
}

func (k *KeychainBackend) Name() string { return "local" }

func (k *KeychainBackend) Get(ctx context.Context, key string) (string, error) {
	if !k.available {
		return "", fmt.Errorf("%w: keychain service unavailable", ErrBackendUnavailable)
	}
	v, err := keyring.Get(keychainService, key)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", fmt.Errorf("%w: %s", ErrSecretNotFound, key)
		}
		return "", fmt.Errorf("keychain error: %w", err)
	}
	return v, nil
}

func (k *KeychainBackend) Available() bool { return k.available }
func (k *KeychainBackend) Priority() int   { return KeychainBackendPriority }
