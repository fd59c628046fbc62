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
	"crypto/rand"
	"fmt"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
)

// Sealed holds a secret value encrypted with an AEAD; the plaintext is
// recoverable only through the Sealer that produced it.
type Sealed struct {
	nonce      []byte
	ciphertext []byte
}

// Sealer encrypts/decrypts resolved secret values with a per-process
// random key.
type Sealer struct {
	aead chacha20poly1305.AEAD
	mu   sync.Mutex
}

// NewSealer generates a fresh random key, valid for the process lifetime.
func NewSealer() (*Sealer, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generating seal key: %w", err)
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("constructing AEAD: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

// Seal encrypts plaintext, returning an opaque Sealed value.
func (s *Sealer) Seal(plaintext string) (*Sealed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	ct := s.aead.Seal(nil, nonce, []byte(plaintext), nil)
	return &Sealed{nonce: nonce, ciphertext: ct}, nil
}

// Unseal recovers the original plaintext.
func (s *Sealer) Unseal(sealed *Sealed) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pt, err := s.aead.Open(nil, sealed.nonce, sealed.ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("unsealing secret: %w", err)
	}
	return string(pt), nil
}
