// Copyright 2025 The mescore authors
// SPDX-License-Identifier: Apache-2.0

package scheduling

import "errors"

// Error categories surfaced to callers. Wrap with fmt.Errorf and %w so that
// errors.Is works across component boundaries.
var (
	// Malformed input that cannot be defaulted away.
	ErrInput = errors.New("input error")
	// An invariant violation; nothing was persisted.
	ErrState = errors.New("state error")
	// The request or transaction exceeded its deadline.
	ErrTimeout = errors.New("timeout")
)
