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

// Package http is the reference "http" adapter: issues an HTTP request,
// auto-decoding the response body by content-type, with optional OAuth2
// client-credentials bearer-token acquisition.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/tombee/orbyt/pkg/adapter"
)

// DefaultMaxResponseSize caps how much of a response body is read,
// grounded on the teacher's Config.MaxResponseSize default.
const DefaultMaxResponseSize = 10 * 1024 * 1024

// Adapter implements the http adapter.
type Adapter struct {
	Client *http.Client
}

// New constructs an http Adapter with a 30s default client timeout,
// matching the teacher's DefaultConfig.
func New() *Adapter {
	return &Adapter{Client: &http.Client{Timeout: 30 * time.Second}}
}

func (a *Adapter) Name() string               { return "http" }
func (a *Adapter) Version() string            { return "1.0.0" }
func (a *Adapter) SupportedActions() []string { return []string{"http.request.*"} }

func (a *Adapter) Capabilities() adapter.Capabilities {
	c := adapter.Capabilities{Concurrent: true, Cacheable: true, Idempotent: false, Cost: "low"}
	c.Resources.Network = true
	return c
}

func (a *Adapter) Execute(action string, input map[string]any, ctx adapter.Context) (adapter.Result, error) {
	url, ok := input["url"].(string)
	if !ok || url == "" {
		return adapter.Result{Success: false, Error: &adapter.ResultError{
			Message: "\"url\" is required and must be a non-empty string",
			Code:    "InputValidation",
		}}, nil
	}

	method := methodFromAction(action)
	if m, ok := input["method"].(string); ok && m != "" {
		method = strings.ToUpper(m)
	}

	var body io.Reader
	if b, ok := input["body"]; ok {
		encoded, err := json.Marshal(b)
		if err != nil {
			return adapter.Result{Success: false, Error: &adapter.ResultError{Message: err.Error(), Code: "InputValidation"}}, nil
		}
		body = bytes.NewReader(encoded)
	}

	reqCtx := ctx.Ctx
	if reqCtx == nil {
		reqCtx = context.Background()
	}
	req, err := http.NewRequestWithContext(reqCtx, method, url, body)
	if err != nil {
		return adapter.Result{Success: false, Error: &adapter.ResultError{Message: err.Error(), Code: "InputValidation"}}, nil
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range stringMap(input["headers"]) {
		req.Header.Set(k, v)
	}

	client := a.Client
	if oauthCfg, ok := input["oauth2"].(map[string]any); ok {
		client = oauthClient(reqCtx, oauthCfg)
	}

	start := time.Now()
	resp, err := client.Do(req)
	duration := time.Since(start).Milliseconds()
	if err != nil {
		return adapter.Result{Success: false, Error: &adapter.ResultError{Message: err.Error(), Code: "AdapterFailure"}, DurationMS: duration}, nil
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, DefaultMaxResponseSize))
	if err != nil {
		return adapter.Result{Success: false, Error: &adapter.ResultError{Message: err.Error(), Code: "AdapterFailure"}, DurationMS: duration}, nil
	}

	decoded := decodeByContentType(resp.Header.Get("Content-Type"), raw)

	data := map[string]any{
		"status":  resp.StatusCode,
		"headers": resp.Header,
		"body":    decoded,
	}

	if resp.StatusCode >= 400 {
		return adapter.Result{
			Success:    false,
			Data:       data,
			Error:      &adapter.ResultError{Message: fmt.Sprintf("request failed with status %d", resp.StatusCode), Code: "AdapterFailure"},
			DurationMS: duration,
		}, nil
	}

	return adapter.Result{Success: true, Data: data, DurationMS: duration}, nil
}

func methodFromAction(action string) string {
	_, verb, found := strings.Cut(action, "http.request.")
	if !found {
		return http.MethodGet
	}
	return strings.ToUpper(verb)
}

func decodeByContentType(contentType string, raw []byte) any {
	if strings.Contains(contentType, "application/json") {
		var v any
		if err := json.Unmarshal(raw, &v); err == nil {
			return v
		}
	}
	return string(raw)
}

func stringMap(v any) map[string]string {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, val := range m {
		out[k] = fmt.Sprintf("%v", val)
	}
	return out
}

// oauthClient builds an *http.Client that acquires and auto-refreshes a
// bearer token via the OAuth2 client-credentials grant.
func oauthClient(ctx context.Context, cfg map[string]any) *http.Client {
	ccCfg := clientcredentials.Config{
		ClientID:     fmt.Sprintf("%v", cfg["clientId"]),
		ClientSecret: fmt.Sprintf("%v", cfg["clientSecret"]),
		TokenURL:     fmt.Sprintf("%v", cfg["tokenUrl"]),
	}
	return ccCfg.Client(ctx)
}
