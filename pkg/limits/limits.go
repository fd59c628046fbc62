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

// Package limits implements the engine's non-bypassable policy layer:
// pure functions that clamp user-declared workflow/step values (retries,
// timeouts, resources, sandbox, execution mode, priority, concurrency) to
// subscription-tier ceilings. Adapters never see the unclamped values —
// only the output of this package.
package limits

import (
	"regexp"
	"strconv"
	"time"
)

// SandboxLevel orders isolation strictness, lowest to highest.
type SandboxLevel int

const (
	SandboxNone SandboxLevel = iota
	SandboxBasic
	SandboxStrict
)

func (l SandboxLevel) String() string {
	switch l {
	case SandboxBasic:
		return "basic"
	case SandboxStrict:
		return "strict"
	default:
		return "none"
	}
}

// ParseSandboxLevel parses a user-supplied sandbox string, defaulting to
// SandboxNone on anything unrecognized.
func ParseSandboxLevel(s string) SandboxLevel {
	switch s {
	case "basic":
		return SandboxBasic
	case "strict":
		return SandboxStrict
	default:
		return SandboxNone
	}
}

// ResourceCeilings bounds cpu/memory/disk, each expressed in MB for
// memory/disk and millicores for cpu, mirroring the spec's "MB/GB/TB" and
// "M/G/T" size suffixes collapsed to a single unit after parsing.
type ResourceCeilings struct {
	CPUMillicores int64
	MemoryMB      int64
	DiskMB        int64
}

// TierLimits is the ceiling set for one subscription tier.
type TierLimits struct {
	Name                  string
	MaxRetryAttempts      int
	MaxStepTimeout        time.Duration
	MaxWorkflowTimeout    time.Duration
	MaxConcurrency        int
	Resources             ResourceCeilings
	MinSandboxLevel       SandboxLevel
	AllowedExecutionModes []string
	AllowHighPriority     bool
}

// Built-in tiers. Unknown tier names resolve to Free (spec §4.2: "unknown
// tier defaults to the most restrictive").
var (
	Free = TierLimits{
		Name:               "free",
		MaxRetryAttempts:   2,
		MaxStepTimeout:     2 * time.Minute,
		MaxWorkflowTimeout: 10 * time.Minute,
		MaxConcurrency:     2,
		Resources: ResourceCeilings{
			CPUMillicores: 500,
			MemoryMB:      256,
			DiskMB:        512,
		},
		MinSandboxLevel:       SandboxStrict,
		AllowedExecutionModes: []string{"sequential"},
		AllowHighPriority:     false,
	}

	Pro = TierLimits{
		Name:               "pro",
		MaxRetryAttempts:   5,
		MaxStepTimeout:     10 * time.Minute,
		MaxWorkflowTimeout: 60 * time.Minute,
		MaxConcurrency:     8,
		Resources: ResourceCeilings{
			CPUMillicores: 2000,
			MemoryMB:      2048,
			DiskMB:        4096,
		},
		MinSandboxLevel:       SandboxBasic,
		AllowedExecutionModes: []string{"sequential", "parallel"},
		AllowHighPriority:     true,
	}

	Enterprise = TierLimits{
		Name:               "enterprise",
		MaxRetryAttempts:   10,
		MaxStepTimeout:     30 * time.Minute,
		MaxWorkflowTimeout: 4 * time.Hour,
		MaxConcurrency:     32,
		Resources: ResourceCeilings{
			CPUMillicores: 8000,
			MemoryMB:      16384,
			DiskMB:        65536,
		},
		MinSandboxLevel:       SandboxNone,
		AllowedExecutionModes: []string{"sequential", "parallel", "priority"},
		AllowHighPriority:     true,
	}
)

var tiersByName = map[string]TierLimits{
	"free":       Free,
	"pro":        Pro,
	"enterprise": Enterprise,
}

// ResolveTier matches a tier name case-insensitively. An unrecognized
// name resolves to Free, the most restrictive tier — security-first, per
// spec §4.2.
func ResolveTier(name string) TierLimits {
	lower := toLower(name)
	if t, ok := tiersByName[lower]; ok {
		return t
	}
	return Free
}

func toLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

const defaultRetryAttempts = 3

// ClampRetry enforces min(requested, tier.MaxRetryAttempts). A nil
// requested value defaults to 3 before clamping.
func ClampRetry(requested *int, tier TierLimits) (enforced int, clamped bool) {
	r := defaultRetryAttempts
	if requested != nil {
		r = *requested
	}
	if r > tier.MaxRetryAttempts {
		return tier.MaxRetryAttempts, true
	}
	if r < 0 {
		return 0, true
	}
	return r, false
}

const (
	defaultStepTimeout     = 5 * time.Minute
	defaultWorkflowTimeout = 15 * time.Minute
)

var durationPattern = regexp.MustCompile(`^(\d+)(ms|s|m|h|d)$`)

// ParseDuration parses the spec's `\d+(ms|s|m|h|d)` duration-string
// dialect. An unparsable string reports ok=false so the caller can fall
// back to the level-appropriate default.
func ParseDuration(s string) (d time.Duration, ok bool) {
	m := durationPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, false
	}
	unit := map[string]time.Duration{
		"ms": time.Millisecond,
		"s":  time.Second,
		"m":  time.Minute,
		"h":  time.Hour,
		"d":  24 * time.Hour,
	}[m[2]]
	return time.Duration(n) * unit, true
}

// TimeoutLevel distinguishes step-level from workflow-level timeout
// clamping, since each has its own default and ceiling.
type TimeoutLevel int

const (
	StepLevel TimeoutLevel = iota
	WorkflowLevel
)

// ClampTimeout parses requested (possibly "") per ParseDuration, applies
// the level-appropriate default on parse failure or absence, then clamps
// to the tier ceiling for that level (spec's "enforceTimeoutLimit").
func ClampTimeout(requested string, level TimeoutLevel, tier TierLimits) (enforced time.Duration, clamped bool) {
	def, max := defaultStepTimeout, tier.MaxStepTimeout
	if level == WorkflowLevel {
		def, max = defaultWorkflowTimeout, tier.MaxWorkflowTimeout
	}

	d := def
	if requested != "" {
		if parsed, ok := ParseDuration(requested); ok {
			d = parsed
		}
	}
	if d > max {
		return max, true
	}
	return d, false
}

var sizePattern = regexp.MustCompile(`^(\d+)(MB|GB|TB|M|G|T)$`)

var sizeUnit = map[string]int64{
	"MB": 1, "M": 1,
	"GB": 1024, "G": 1024,
	"TB": 1024 * 1024, "T": 1024 * 1024,
}

// ParseSizeMB parses the spec's `\d+(MB|GB|TB|M|G|T)` size-string dialect
// into megabytes.
func ParseSizeMB(s string) (mb int64, ok bool) {
	m := sizePattern.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return n * sizeUnit[m[2]], true
}

// RequestedResources is the set of optional resource requests a workflow
// or step may declare, each a size-string or empty.
type RequestedResources struct {
	CPU    string
	Memory string
	Disk   string
}

// ClampResources clamps each of cpu/memory/disk independently to the
// tier's ceilings. Unparsable or absent requests pass through as the
// tier ceiling itself (the most permissive value that still respects the
// ceiling).
func ClampResources(req RequestedResources, tier TierLimits) (enforced ResourceCeilings, clamped bool) {
	enforced = tier.Resources

	if mb, ok := ParseSizeMB(req.Memory); ok {
		if mb < tier.Resources.MemoryMB {
			enforced.MemoryMB = mb
		} else if mb > tier.Resources.MemoryMB {
			clamped = true
		}
	}
	if mb, ok := ParseSizeMB(req.Disk); ok {
		if mb < tier.Resources.DiskMB {
			enforced.DiskMB = mb
		} else if mb > tier.Resources.DiskMB {
			clamped = true
		}
	}
	// CPU is parsed as a size-string too (e.g. "500M" millicores); the
	// spec gives cpu/memory/disk the same `\d+(MB|GB|TB|M|G|T)` grammar.
	if mc, ok := ParseSizeMB(req.CPU); ok {
		if mc < tier.Resources.CPUMillicores {
			enforced.CPUMillicores = mc
		} else if mc > tier.Resources.CPUMillicores {
			clamped = true
		}
	}
	return enforced, clamped
}

// ClampSandbox substitutes tier.MinSandboxLevel when the requester asks
// for a level below the tier's floor.
func ClampSandbox(requested SandboxLevel, tier TierLimits) (enforced SandboxLevel, clamped bool) {
	if requested < tier.MinSandboxLevel {
		return tier.MinSandboxLevel, true
	}
	return requested, false
}

// ClampExecutionMode falls back to the first allowed mode when requested
// is not in tier.AllowedExecutionModes.
func ClampExecutionMode(requested string, tier TierLimits) (enforced string, clamped bool) {
	for _, m := range tier.AllowedExecutionModes {
		if m == requested {
			return requested, false
		}
	}
	if len(tier.AllowedExecutionModes) == 0 {
		return requested, false
	}
	return tier.AllowedExecutionModes[0], true
}

// ClampPriority downgrades "high" to "normal" when the tier forbids high
// priority.
func ClampPriority(requested string, tier TierLimits) (enforced string, clamped bool) {
	if requested == "high" && !tier.AllowHighPriority {
		return "normal", true
	}
	return requested, false
}
