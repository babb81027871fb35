/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package constants

import "time"

// Poll intervals for readiness checks.
const (
	ProbeIntervalShort    = 2 * time.Second
	ProbeIntervalStandard = 5 * time.Second
)

// Per-stage readiness timeouts. Cold starts (Keycloak, Boundary controller)
// are given the long window; everything else settles quickly.
const (
	ReadyTimeoutShort    = 2 * time.Minute
	ReadyTimeoutStandard = 5 * time.Minute
	ReadyTimeoutColdBoot = 10 * time.Minute
)

// Retry executor defaults.
const (
	RetryBaseDelay      = 500 * time.Millisecond
	RetryMaxDelay       = 30 * time.Second
	RetryDefaultCap     = 5
	RetryOverallTimeout = 2 * time.Minute
)

// Secret-sync convergence: the operator mirrors on its own poll cycle, so
// destination reads are retried on a capped Fibonacci schedule up to this cap
// before the bridge escalates.
const (
	SyncConvergeAttempts  = 10
	SyncConvergeBaseDelay = 1 * time.Second
)

// One-time initialization quorum policy.
const (
	InitSecretShares    = 5
	InitSecretThreshold = 3
)
