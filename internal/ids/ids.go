// Package ids generates prefixed, K-sortable identifiers ("gen_01h2x...").
package ids

import (
	"fmt"

	"go.jetify.com/typeid/v2"
)

type Prefix string

const (
	Generation  Prefix = "gen"
	Purchase    Prefix = "pur"
	Transaction Prefix = "txn"
	Package     Prefix = "pkg"
)

// New returns a fresh identifier with the given prefix.
// It panics on an invalid prefix, which is a programming error.
func New(prefix Prefix) string {
	tid, err := typeid.Generate(string(prefix))
	if err != nil {
		panic(fmt.Sprintf("ids: invalid prefix %q: %v", prefix, err))
	}
	return tid.String()
}

// Validate checks that s is a well-formed identifier carrying the expected prefix.
func Validate(s string, expected Prefix) error {
	tid, err := typeid.Parse(s)
	if err != nil {
		return fmt.Errorf("parse id %q: %w", s, err)
	}
	if tid.Prefix() != string(expected) {
		return fmt.Errorf("id %q: expected prefix %q, got %q", s, expected, tid.Prefix())
	}
	return nil
}
