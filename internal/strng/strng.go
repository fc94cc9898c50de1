// Copyright Envoy AI Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

// Package strng provides an interned string type used throughout the
// gateway's configuration tree. Routing trees are rebuilt on every XDS
// snapshot and fanned out across many backends/policies; interning keeps
// repeated hostnames, namespaces and identities from being duplicated on
// the heap and makes clones of config structs cheap (a string header copy
// instead of a new allocation).
package strng

import "sync"

// Strng is an interned, cheaply cloned string.
type Strng string

var intern sync.Map // map[string]string

// New interns s, returning a Strng that shares backing storage with any
// other Strng created from an equal value.
func New(s string) Strng {
	if v, ok := intern.Load(s); ok {
		return Strng(v.(string))
	}
	v, _ := intern.LoadOrStore(s, s)
	return Strng(v.(string))
}

// String implements fmt.Stringer.
func (s Strng) String() string { return string(s) }

// IsEmpty reports whether the string is empty.
func (s Strng) IsEmpty() bool { return s == "" }
