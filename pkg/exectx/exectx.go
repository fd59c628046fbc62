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

// Package exectx builds the InternalExecutionContext (C12): the
// non-user-editable bundle of identity/ownership/limits/security/
// runtime/request fields attached to every run, sealed into a signed
// token before being handed to an adapter so the adapter can verify but
// never widen its own claims.
package exectx

import (
	"crypto/ed25519"
	"fmt"
	"math/rand"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/tombee/orbyt/pkg/limits"
)

// Identity holds execution/run/trace ids, engine version, and start
// time. ExecutionID has the "<prefix>_<epoch_ms>_<random-suffix>"
// shape; TraceID is a random UUID and RunID is whatever the caller of
// Build passes, so neither is guaranteed to have that shape.
type Identity struct {
	ExecutionID  string    `json:"executionId"`
	RunID        string    `json:"runId"`
	TraceID      string    `json:"traceId"`
	EngineVersion string   `json:"engineVersion"`
	StartedAt    time.Time `json:"startedAt"`
}

// Ownership identifies who the run belongs to.
type Ownership struct {
	User      string `json:"user"`
	Workspace string `json:"workspace"`
	Tier      string `json:"tier"`
	Region    string `json:"region"`
}

// Security carries the sandbox isolation level and permission set
// derived for this run.
type Security struct {
	Isolation   string   `json:"isolation"`
	Permissions []string `json:"permissions"`
}

// Request carries the origin, execution mode, and priority of the
// triggering request — already enforced by pkg/limits, never the raw
// user-requested values.
type Request struct {
	Origin   string `json:"origin"`
	Mode     string `json:"mode"`
	Priority string `json:"priority"`
}

// Context is the full InternalExecutionContext bundle.
type Context struct {
	Identity  Identity                `json:"_identity"`
	Ownership Ownership               `json:"_ownership"`
	Limits    limits.TierLimits       `json:"-"`
	Security  Security                `json:"_security"`
	Request   Request                 `json:"_request"`
	Resources limits.ResourceCeilings `json:"_resources"`
}

const engineVersion = "orbyt/1"

// genID builds a "<prefix>_<epoch_ms>_<random-suffix>" identifier.
func genID(prefix string) string {
	return fmt.Sprintf("%s_%d_%06d", prefix, time.Now().UnixMilli(), rand.Intn(1_000_000))
}

// Build synthesizes a fresh Context for one run. security and request
// must already carry clamped (tier-enforced) values — pkg/exectx does
// not itself consult pkg/limits, by design (spec §4.2: "the policy
// layer is the only place any of these limits are consulted").
func Build(runID string, ownership Ownership, tier limits.TierLimits, security Security, request Request, resources limits.ResourceCeilings) *Context {
	return &Context{
		Identity: Identity{
			ExecutionID:   genID("exec"),
			RunID:         runID,
			TraceID:       uuid.NewString(),
			EngineVersion: engineVersion,
			StartedAt:     time.Now(),
		},
		Ownership: ownership,
		Limits:    tier,
		Security:  security,
		Request:   request,
		Resources: resources,
	}
}

// sealedClaims is the JWT payload sealed for adapters: identity and
// security only — an adapter that can read its own ownership/tier
// cannot use that to widen its claims, since the payload is signed, not
// editable.
type sealedClaims struct {
	jwt.RegisteredClaims
	Identity Identity `json:"identity"`
	Security Security `json:"security"`
}

// Sealer signs and verifies InternalExecutionContext payloads with an
// ed25519 key, grounded on the teacher's JWTConfig/ValidateJWT pattern.
type Sealer struct {
	private ed25519.PrivateKey
	public  ed25519.PublicKey
}

// NewSealer generates a fresh ed25519 keypair for one engine instance.
func NewSealer() (*Sealer, error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, fmt.Errorf("generate sealing keypair: %w", err)
	}
	return &Sealer{private: priv, public: pub}, nil
}

// Seal signs c's identity/security fields into a compact JWT string.
func (s *Sealer) Seal(c *Context) (string, error) {
	claims := sealedClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   c.Identity.ExecutionID,
			IssuedAt:  jwt.NewNumericDate(c.Identity.StartedAt),
			ExpiresAt: jwt.NewNumericDate(c.Identity.StartedAt.Add(24 * time.Hour)),
		},
		Identity: c.Identity,
		Security: c.Security,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	return token.SignedString(s.private)
}

// Verify validates a sealed token and returns its claims. An adapter
// calls this to confirm the context it received was actually issued by
// the engine, not forged or widened.
func (s *Sealer) Verify(tokenString string) (*Identity, *Security, error) {
	token, err := jwt.ParseWithClaims(tokenString, &sealedClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != "EdDSA" {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return s.public, nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("verify sealed context: %w", err)
	}
	claims, ok := token.Claims.(*sealedClaims)
	if !ok || !token.Valid {
		return nil, nil, fmt.Errorf("invalid sealed context token")
	}
	return &claims.Identity, &claims.Security, nil
}
