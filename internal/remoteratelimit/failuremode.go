// Copyright Envoy AI Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package remoteratelimit

import (
	"encoding/json"
	"fmt"
)

// FailureMode controls what happens when the remote rate-limit service
// is unavailable or errors. Defaults to FailOpen, matching Envoy's
// failure_mode_deny=false default.
type FailureMode int

const (
	// FailureModeFailOpen allows the request through on service failure.
	FailureModeFailOpen FailureMode = iota
	// FailureModeFailClosed returns a 500 on service failure.
	FailureModeFailClosed
)

// UnmarshalJSON accepts both the canonical camelCase spelling
// (failOpen/failClosed) and the PascalCase alias (FailOpen/FailClosed)
// for compatibility with existing configuration files.
func (m *FailureMode) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch s {
	case "", "failOpen", "FailOpen":
		*m = FailureModeFailOpen
	case "failClosed", "FailClosed":
		*m = FailureModeFailClosed
	default:
		return fmt.Errorf("remoteratelimit: unknown failureMode %q", s)
	}
	return nil
}

// MarshalJSON always renders the canonical camelCase spelling, never the
// PascalCase alias.
func (m FailureMode) MarshalJSON() ([]byte, error) {
	if m == FailureModeFailClosed {
		return json.Marshal("failClosed")
	}
	return json.Marshal("failOpen")
}
