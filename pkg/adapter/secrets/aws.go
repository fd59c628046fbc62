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
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// AWSBackendPriority is checked after the local keychain, reflecting that
// the reference AWS backend is a gated environment-variable lookup rather
// than a managed secret store.
const AWSBackendPriority = 25

// AWSBackend resolves "AWS_SECRET_<KEY>" environment entries, but only
// after confirming — via sts.GetCallerIdentity — that the process holds
// credentials for an expected AWS account. This binds secret resolution
// to verified cloud identity without requiring a full Secrets Manager
// round trip for the reference implementation.
type AWSBackend struct {
	stsClient *sts.Client
	accountID string

	mu          sync.Mutex
	checked     bool
	checkErr    error
	callerIDent string
	lookup      func(key string) (string, bool)
}

// NewAWSBackend builds an AWSBackend expecting the caller identity to
// belong to expectedAccountID (empty accepts any account).
func NewAWSBackend(ctx context.Context, expectedAccountID string, lookup func(key string) (string, bool)) (*AWSBackend, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return &AWSBackend{
		stsClient: sts.NewFromConfig(cfg),
		accountID: expectedAccountID,
		lookup:    lookup,
	}, nil
}

func (a *AWSBackend) Name() string { return "aws" }

// verify caches the result of the first GetCallerIdentity call; every
// subsequent Get reuses it rather than re-verifying per secret.
func (a *AWSBackend) verify(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.checked {
		return a.checkErr
	}
	a.checked = true
	out, err := a.stsClient.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		a.checkErr = fmt.Errorf("%w: sts.GetCallerIdentity failed: %v", ErrBackendUnavailable, err)
		return a.checkErr
	}
	if a.accountID != "" && out.Account != nil && *out.Account != a.accountID {
		a.checkErr = fmt.Errorf("%w: caller account %s does not match expected %s", ErrBackendUnavailable, *out.Account, a.accountID)
		return a.checkErr
	}
	if out.Arn != nil {
		a.callerIDent = *out.Arn
	}
	return nil
}

func (a *AWSBackend) Get(ctx context.Context, key string) (string, error) {
	if err := a.verify(ctx); err != nil {
		return "", err
	}
	if a.lookup == nil {
		return "", fmt.Errorf("%w: %s", ErrSecretNotFound, key)
	}
	v, ok := a.lookup(key)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrSecretNotFound, key)
	}
	return v, nil
}

// Available reports whether an STS client was constructed; actual
// reachability is determined lazily on first Get, mirroring the teacher's lazy-probe
// pattern for backends that require a network round trip to confirm.
func (a *AWSBackend) Available() bool { return a.stsClient != nil }

func (a *AWSBackend) Priority() int { return AWSBackendPriority }

// CallerIdentity returns the verified caller ARN, empty until verify has run.
func (a *AWSBackend) CallerIdentity() string { return a.callerIDent }
